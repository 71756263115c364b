package cache

import "time"

// farFuture stands in for "never expires"
var farFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

type expiryMode int

const (
	expiryNever expiryMode = iota
	expiryAfter
	expiryAt
)

// Expiry decides when a freshly computed entry stops being served
type Expiry struct {
	mode  expiryMode
	after time.Duration
	at    time.Time
}

// Never keeps an entry until it is removed explicitly
func Never() Expiry { return Expiry{mode: expiryNever} }

// After expires an entry d after it was written
func After(d time.Duration) Expiry { return Expiry{mode: expiryAfter, after: d} }

// At expires an entry at a fixed instant
func At(t time.Time) Expiry { return Expiry{mode: expiryAt, at: t} }

// ExpiresAt resolves the expiry relative to now
func (e Expiry) ExpiresAt(now time.Time) time.Time {
	switch e.mode {
	case expiryAfter:
		return now.Add(e.after)
	case expiryAt:
		return e.at
	default:
		return farFuture
	}
}

// live reports whether an entry expiring at expiresAt may still be served
func live(expiresAt, now time.Time) bool {
	return expiresAt.After(now)
}
