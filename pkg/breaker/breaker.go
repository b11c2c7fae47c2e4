// Package breaker implements the per-destination circuit breaker: a durable
// state machine (closed/half-open/open) shared across every worker process
// through the destination_health repository, rather than the in-process
// atomics a single-process breaker would use.
package breaker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/relay/internal/observability"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

// Config holds the thresholds governing state transitions. Defaults mirror
// the spec's suggested values.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // time in open before trying half-open
	SuccessThreshold int           // half-open successes needed to close
	VolumeThreshold  int           // minimum deliveries before opening is permitted
}

// DefaultConfig returns the spec's suggested defaults: 3, 60s, 2, 5.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
		VolumeThreshold:  5,
	}
}

// Health is the durable per-destination breaker and delivery-health row.
type Health struct {
	DestinationID       uuid.UUID
	OrganizationID      uuid.UUID
	State               State
	ConsecutiveFailures int
	TotalDeliveries     int64
	TotalFailures       int64
	LastSuccessAt       *time.Time
	LastFailureAt       *time.Time
	OpenedAt            *time.Time
	HalfOpenSuccesses   int
	OpenReason          string
	LastCheckAt         time.Time
}

// Metrics is the read model returned by GetMetrics.
type Metrics struct {
	State               State
	ConsecutiveFailures int
	TotalDeliveries     int64
	TotalFailures       int64
	FailureRate         float64
	TimeInCurrentState  time.Duration
}

// Repository is the durable store backing the breaker. Reads/writes are
// expected to be read-your-writes consistent within one process; small
// skews across concurrent workers are tolerated because VolumeThreshold
// masks them (see spec §5).
type Repository interface {
	GetOrCreate(ctx context.Context, organizationID, destinationID uuid.UUID) (Health, error)
	Save(ctx context.Context, h Health) error
	ListAll(ctx context.Context, organizationID uuid.UUID) ([]Health, error)
}

// Breaker is the per-destination circuit breaker.
type Breaker struct {
	repo   Repository
	cfg    Config
	hooks  *observability.Hooks
	nowFn  func() time.Time
}

// New creates a Breaker backed by repo.
func New(repo Repository, cfg Config, hooks *observability.Hooks) *Breaker {
	return &Breaker{repo: repo, cfg: cfg, hooks: hooks, nowFn: time.Now}
}

// IsOpen reports whether destId is currently protected. It transitions
// open -> half-open when the recovery window has elapsed, returning false
// in that case to permit the trial request. A repository read failure
// fails safe (treated as closed, i.e. not open).
func (b *Breaker) IsOpen(ctx context.Context, organizationID, destID uuid.UUID) bool {
	h, err := b.repo.GetOrCreate(ctx, organizationID, destID)
	if err != nil {
		return false
	}

	if h.State != StateOpen {
		return false
	}

	now := b.nowFn()
	if h.OpenedAt != nil && now.Sub(*h.OpenedAt) >= b.cfg.RecoveryTimeout {
		b.transition(ctx, &h, StateHalfOpen, "recovery_timeout_elapsed")
		h.HalfOpenSuccesses = 0
		h.LastCheckAt = now
		_ = b.repo.Save(ctx, h)
		return false
	}

	return true
}

// RecordSuccess resets consecutive failures and, in half-open, promotes to
// closed once successThreshold successes have been observed.
func (b *Breaker) RecordSuccess(ctx context.Context, organizationID, destID uuid.UUID) error {
	h, err := b.repo.GetOrCreate(ctx, organizationID, destID)
	if err != nil {
		return err
	}

	now := b.nowFn()
	h.ConsecutiveFailures = 0
	h.TotalDeliveries++
	h.LastSuccessAt = &now
	h.LastCheckAt = now

	if h.State == StateHalfOpen {
		h.HalfOpenSuccesses++
		if h.HalfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.transition(ctx, &h, StateClosed, "half_open_success_threshold_met")
			h.HalfOpenSuccesses = 0
		}
	}

	return b.repo.Save(ctx, h)
}

// RecordFailure increments failure counters and may open the circuit.
// Any half-open failure reopens immediately.
func (b *Breaker) RecordFailure(ctx context.Context, organizationID, destID uuid.UUID, reason string) error {
	h, err := b.repo.GetOrCreate(ctx, organizationID, destID)
	if err != nil {
		return err
	}

	now := b.nowFn()
	h.ConsecutiveFailures++
	h.TotalDeliveries++
	h.TotalFailures++
	h.LastFailureAt = &now
	h.LastCheckAt = now

	switch h.State {
	case StateHalfOpen:
		b.transition(ctx, &h, StateOpen, reason)
		h.OpenedAt = &now
		h.HalfOpenSuccesses = 0
	case StateClosed:
		if h.ConsecutiveFailures >= b.cfg.FailureThreshold && h.TotalDeliveries >= int64(b.cfg.VolumeThreshold) {
			b.transition(ctx, &h, StateOpen, reason)
			h.OpenedAt = &now
		}
	}

	return b.repo.Save(ctx, h)
}

// ForceOpen is an unconditional operator override: it opens the circuit
// regardless of thresholds, mirroring the source's (buggy but preserved,
// per Design Note §9) unguarded forceOpen behavior.
func (b *Breaker) ForceOpen(ctx context.Context, organizationID, destID uuid.UUID, reason string) error {
	h, err := b.repo.GetOrCreate(ctx, organizationID, destID)
	if err != nil {
		return err
	}
	now := b.nowFn()
	b.transition(ctx, &h, StateOpen, reason)
	h.OpenedAt = &now
	h.LastCheckAt = now
	return b.repo.Save(ctx, h)
}

// ForceClose is an operator override that also zeroes consecutive failures.
func (b *Breaker) ForceClose(ctx context.Context, organizationID, destID uuid.UUID) error {
	h, err := b.repo.GetOrCreate(ctx, organizationID, destID)
	if err != nil {
		return err
	}
	b.transition(ctx, &h, StateClosed, "operator_force_close")
	h.ConsecutiveFailures = 0
	h.HalfOpenSuccesses = 0
	h.LastCheckAt = b.nowFn()
	return b.repo.Save(ctx, h)
}

// GetState returns the current state for a destination.
func (b *Breaker) GetState(ctx context.Context, organizationID, destID uuid.UUID) (State, error) {
	h, err := b.repo.GetOrCreate(ctx, organizationID, destID)
	if err != nil {
		return "", err
	}
	return h.State, nil
}

// GetMetrics returns the read model for a destination.
func (b *Breaker) GetMetrics(ctx context.Context, organizationID, destID uuid.UUID) (Metrics, error) {
	h, err := b.repo.GetOrCreate(ctx, organizationID, destID)
	if err != nil {
		return Metrics{}, err
	}

	var failureRate float64
	if h.TotalDeliveries > 0 {
		failureRate = float64(h.TotalFailures) / float64(h.TotalDeliveries)
	}

	var timeInState time.Duration
	if h.State == StateOpen && h.OpenedAt != nil {
		timeInState = b.nowFn().Sub(*h.OpenedAt)
	} else {
		timeInState = b.nowFn().Sub(h.LastCheckAt)
	}

	return Metrics{
		State:               h.State,
		ConsecutiveFailures: h.ConsecutiveFailures,
		TotalDeliveries:     h.TotalDeliveries,
		TotalFailures:       h.TotalFailures,
		FailureRate:         failureRate,
		TimeInCurrentState:  timeInState,
	}, nil
}

// GetAllStates returns every destination health row for an organization.
func (b *Breaker) GetAllStates(ctx context.Context, organizationID uuid.UUID) ([]Health, error) {
	return b.repo.ListAll(ctx, organizationID)
}

func (b *Breaker) transition(ctx context.Context, h *Health, to State, reason string) {
	from := h.State
	h.State = to
	h.OpenReason = reason
	if b.hooks != nil && from != to {
		b.hooks.OnBreakerTransition(observability.BreakerTransition{
			DestinationID: h.DestinationID,
			From:          string(from),
			To:            string(to),
			Reason:        reason,
		})
	}
}
