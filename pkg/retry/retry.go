// Package retry implements the Retry Manager: retry eligibility, backoff
// calculation, attempt history tracking, and non-retryable classification
// for per-destination delivery attempts.
package retry

import (
	"math/rand"
	"time"

	"github.com/wisbric/relay/pkg/destination"
)

// Config holds the backoff parameters. Defaults mirror the spec.
type Config struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
	JitterEnabled     bool
	JitterMaxPercent  float64
}

// DefaultConfig returns the spec's defaults: maxRetries=3, baseDelay=1s,
// maxDelay=30s, multiplier=2, no jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
	}
}

// Attempt is one recorded delivery attempt.
type Attempt struct {
	AttemptNumber int
	Timestamp     time.Time
	Success       bool
	Error         string
}

// Schedule is the read model returned by GetRetrySchedule.
type Schedule struct {
	CurrentAttempt int
	MaxAttempts    int
	NextDelay      time.Duration
	TotalElapsed   time.Duration
}

// Statistics aggregates retry outcomes across completed and failed items.
// nonRetryableCount is disjoint from failedRetries per Design Note §9 (the
// source conflates the two inconsistently; this implementation keeps them
// as separate categories).
type Statistics struct {
	TotalRetries      int
	SuccessfulRetries int
	FailedRetries     int
	NonRetryableCount int
	AverageRetryCount float64
}

// Manager decides retry eligibility and computes backoff. It holds no
// state of its own; all state lives in the queue item the caller passes in.
type Manager struct {
	cfg Config
}

// New creates a retry Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// nonRetryableErrorClasses are the destination.ErrorClass values that
// ShouldRetry treats as terminal regardless of remaining attempts.
var nonRetryableErrorClasses = map[destination.ErrorClass]bool{
	destination.ErrorClassNonRetryable: true,
}

// ShouldRetry decides whether another attempt is warranted given the
// current retry count and the error from the last attempt.
func (m *Manager) ShouldRetry(retryCount int, sendErr *destination.SendError) bool {
	if retryCount >= m.cfg.MaxRetries {
		return false
	}
	if sendErr == nil {
		return false
	}
	if nonRetryableErrorClasses[sendErr.Class] {
		return false
	}
	return true
}

// CalculateBackoff computes min(baseDelay * multiplier^attempt, maxDelay),
// adding uniform jitter in [0, jitterMaxPercent%] when enabled. attempt is
// zero-indexed (the delay before the first retry uses attempt=0).
func (m *Manager) CalculateBackoff(attempt int) time.Duration {
	delay := float64(m.cfg.BaseDelay) * pow(m.cfg.Multiplier, attempt)
	max := float64(m.cfg.MaxDelay)
	if delay > max {
		delay = max
	}

	if m.cfg.JitterEnabled && m.cfg.JitterMaxPercent > 0 {
		jitter := delay * (m.cfg.JitterMaxPercent / 100) * rand.Float64()
		delay += jitter
		if delay > max {
			delay = max
		}
	}

	return time.Duration(delay)
}

// CalculateBackoffWithRetryAfter is CalculateBackoff, but honors an
// adapter-supplied Retry-After when it exceeds the computed backoff.
func (m *Manager) CalculateBackoffWithRetryAfter(attempt int, retryAfter time.Duration) time.Duration {
	computed := m.CalculateBackoff(attempt)
	if retryAfter > computed {
		return retryAfter
	}
	return computed
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
