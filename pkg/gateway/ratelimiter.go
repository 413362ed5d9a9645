package gateway

import (
	"sync"
	"time"
)

// Default per-client limits for the WebSocket chat surface. Turns are
// expensive, so the ceilings sit well below generic RPC limits.
const (
	DefaultFramesPerMinute = 30
	DefaultMaxConcurrent   = 4
)

// ClientRateLimiter implements sliding window rate limiting per client
type ClientRateLimiter struct {
	mu              sync.Mutex
	framesPerMinute int
	maxConcurrent   int
	frames          []time.Time
	concurrent      int
}

// NewClientRateLimiter creates a rate limiter with default limits
func NewClientRateLimiter() *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(DefaultFramesPerMinute, DefaultMaxConcurrent)
}

// NewClientRateLimiterWithLimits creates a rate limiter with custom limits
func NewClientRateLimiterWithLimits(framesPerMinute, maxConcurrent int) *ClientRateLimiter {
	if framesPerMinute <= 0 {
		framesPerMinute = DefaultFramesPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &ClientRateLimiter{
		framesPerMinute: framesPerMinute,
		maxConcurrent:   maxConcurrent,
		frames:          make([]time.Time, 0),
	}
}

// CheckRequestAllowed checks if a frame is allowed under rate limits
func (r *ClientRateLimiter) CheckRequestAllowed() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrent >= r.maxConcurrent {
		return false, "too many concurrent requests"
	}

	r.pruneLocked(time.Now())

	if len(r.frames) >= r.framesPerMinute {
		return false, "rate limit exceeded"
	}

	return true, ""
}

// RecordRequestStart records the start of a frame
func (r *ClientRateLimiter) RecordRequestStart() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames = append(r.frames, time.Now())
	r.concurrent++
}

// RecordRequestEnd records the end of a frame
func (r *ClientRateLimiter) RecordRequestEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrent > 0 {
		r.concurrent--
	}
}

// GetStats returns current rate limiter statistics
func (r *ClientRateLimiter) GetStats() (frameCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(time.Now())

	return len(r.frames), r.concurrent
}

// pruneLocked drops frames older than the one-minute window. Callers
// must hold r.mu.
func (r *ClientRateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	valid := make([]time.Time, 0, len(r.frames))
	for _, ts := range r.frames {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	r.frames = valid
}
