package config

import "time"

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultDataDir     = "./data/circadian"
	DefaultMaxMemoryMB = 48
	DefaultStore       = "badger"
)

// Background task intervals
const (
	CacheSweepInterval = 15 * time.Minute
	BadgerGCInterval   = 10 * time.Minute
)

// Timeline reconstruction
const (
	// Epsilon separates back-to-back intervals and bounds synthesized fasts.
	Epsilon = 1 * time.Second

	// MaxFastDuration caps a single synthesized fasting interval.
	MaxFastDuration = 24 * time.Hour
)

// Range decomposition and caching policy
const (
	RecentWindow        = 31 * 24 * time.Hour
	MaxCachedSpan       = 14 * 24 * time.Hour
	PastSubRangeExpiry  = 4 * 7 * 24 * time.Hour
	TodaySubRangeExpiry = 5 * time.Minute
	AggregateExpiry     = 1 * time.Hour
)

// Invalidation
const (
	InvalidationDebounce = 2 * time.Second
	InvalidationBuffer   = 64
)

// Query timeouts and defaults
const (
	QueryTimeout       = 30 * time.Second
	QueryDefaultWindow = 24 * time.Hour
	QueryMaxWindow     = 366 * 24 * time.Hour
	IngestTimeout      = 5 * time.Second
	SampleFetchLimit   = 0 // 0 = no limit
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Ingest limits
const (
	MaxSamplesPerRequest = 5000
)
