package monitor

import (
	"sync"
	"time"
)

// SweepMonitor tracks the health of the expired-entry sweep.
type SweepMonitor struct {
	mu                sync.RWMutex
	interval          time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastRemoved       int
	totalRemoved      int
	consecutiveErrors int
	lastError         string
	now               func() time.Time
}

// NewSweepMonitor creates a monitor for a sweep scheduled every interval
func NewSweepMonitor(interval time.Duration) *SweepMonitor {
	return &SweepMonitor{interval: interval, now: time.Now}
}

// RecordSuccess records a successful sweep that removed n entries.
func (sm *SweepMonitor) RecordSuccess(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastSuccess = sm.now()
	sm.lastAttempt = sm.lastSuccess
	sm.lastRemoved = n
	sm.totalRemoved += n
	sm.consecutiveErrors = 0
	sm.lastError = ""
}

// RecordFailure records a failed sweep.
func (sm *SweepMonitor) RecordFailure(err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastAttempt = sm.now()
	sm.consecutiveErrors++
	if err != nil {
		sm.lastError = err.Error()
	}
}

// IsHealthy returns true if sweeping is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success in two intervals
//   - More than 3 consecutive failures
func (sm *SweepMonitor) IsHealthy() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.healthy()
}

func (sm *SweepMonitor) healthy() bool {
	if sm.lastSuccess.IsZero() {
		return false
	}
	if sm.interval > 0 && sm.now().Sub(sm.lastSuccess) > 2*sm.interval {
		return false
	}
	return sm.consecutiveErrors <= 3
}

// SweepStatus is the sweep section of the health check
type SweepStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastRemoved       int    `json:"last_removed"`
	TotalRemoved      int    `json:"total_removed"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current sweep status for health checks.
func (sm *SweepMonitor) Status() SweepStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	status := SweepStatus{
		Healthy:      sm.healthy(),
		LastRemoved:  sm.lastRemoved,
		TotalRemoved: sm.totalRemoved,
	}

	if !sm.lastSuccess.IsZero() {
		status.LastSuccess = sm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = sm.now().Sub(sm.lastSuccess).String()
	}

	if !sm.lastAttempt.IsZero() {
		status.LastAttempt = sm.lastAttempt.Format(time.RFC3339)
	}

	if sm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = sm.consecutiveErrors
		status.LastError = sm.lastError
	}

	return status
}
