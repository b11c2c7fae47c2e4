package retry

import (
	"testing"
	"time"

	"github.com/wisbric/relay/pkg/destination"
)

func TestShouldRetryRespectsMaxRetries(t *testing.T) {
	m := New(DefaultConfig())
	retryable := &destination.SendError{Class: destination.ErrorClassRetryable}

	if !m.ShouldRetry(0, retryable) {
		t.Error("should retry when retryCount < maxRetries and error is retryable")
	}
	if m.ShouldRetry(3, retryable) {
		t.Error("should not retry once retryCount reaches maxRetries")
	}
}

func TestShouldRetryNonRetryableClass(t *testing.T) {
	m := New(DefaultConfig())
	nonRetryable := &destination.SendError{Class: destination.ErrorClassNonRetryable}

	if m.ShouldRetry(0, nonRetryable) {
		t.Error("should not retry a non-retryable error class")
	}
}

func TestCalculateBackoffMonotonicNoJitter(t *testing.T) {
	m := New(Config{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2})

	prev := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		d := m.CalculateBackoff(attempt)
		if d < prev {
			t.Fatalf("CalculateBackoff(%d) = %v, should be >= previous %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestCalculateBackoffCapsAtMaxDelay(t *testing.T) {
	m := New(Config{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2})

	d := m.CalculateBackoff(10)
	if d != 5*time.Second {
		t.Errorf("CalculateBackoff(10) = %v, want capped at 5s", d)
	}
}

func TestCalculateBackoffWithRetryAfterHonorsLarger(t *testing.T) {
	m := New(Config{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2})

	d := m.CalculateBackoffWithRetryAfter(0, 10*time.Second)
	if d != 10*time.Second {
		t.Errorf("expected Retry-After to win when it exceeds computed backoff, got %v", d)
	}

	d = m.CalculateBackoffWithRetryAfter(5, time.Millisecond)
	computed := m.CalculateBackoff(5)
	if d != computed {
		t.Errorf("expected computed backoff to win when larger than Retry-After, got %v want %v", d, computed)
	}
}
