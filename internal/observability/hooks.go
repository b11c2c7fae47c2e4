// Package observability defines the event sink that delivery, retry,
// breaker, and alert components report through, replacing the scattered
// logging/tracing decorators of an ORM-style source with one explicit
// collaborator each component is handed at construction time.
package observability

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/relay/internal/telemetry"
)

// AttemptResult describes the outcome of a single destination delivery attempt.
type AttemptResult struct {
	DeliveryID      string
	DestinationID   uuid.UUID
	DestinationType string
	OrganizationID  uuid.UUID
	Attempt         int
	Success         bool
	Err             error
	Duration        time.Duration
}

// RetryScheduled describes a retry the queue scheduler has just scheduled.
type RetryScheduled struct {
	DeliveryID      string
	DestinationID   uuid.UUID
	DestinationType string
	Attempt         int
	Backoff         time.Duration
	NextRetryAt     time.Time
}

// BreakerTransition describes a circuit breaker state change for a destination.
type BreakerTransition struct {
	DestinationID uuid.UUID
	From          string
	To            string
	Reason        string
}

// AlertRaised describes an alert the alert manager has just created.
type AlertRaised struct {
	AlertID        uuid.UUID
	OrganizationID uuid.UUID
	DestinationID  uuid.UUID
	Type           string
	Severity       string
}

// Hooks is the observability sink every delivery/retry/breaker/alert
// component reports through. A nil *Hooks is never passed around; callers
// instead get NewHooks's default implementation, which always logs and
// records Prometheus metrics, mirroring the teacher's nil-checked optional
// metrics fields (see pkg/alert/webhook.go's WebhookMetrics) but collapsed
// into one always-present struct since every relay component needs this sink.
type Hooks struct {
	logger *slog.Logger
}

// NewHooks creates a Hooks sink that logs structured events and records
// Prometheus metrics for each one.
func NewHooks(logger *slog.Logger) *Hooks {
	return &Hooks{logger: logger}
}

// OnAttempt records a single destination delivery attempt.
func (h *Hooks) OnAttempt(r AttemptResult) {
	outcome := "failure"
	if r.Success {
		outcome = "success"
	}

	telemetry.DeliveryAttemptsTotal.WithLabelValues(r.DestinationType, outcome).Inc()
	telemetry.DeliveryAttemptDuration.WithLabelValues(r.DestinationType).Observe(r.Duration.Seconds())

	attrs := []any{
		"delivery_id", r.DeliveryID,
		"destination_id", r.DestinationID,
		"destination_type", r.DestinationType,
		"organization_id", r.OrganizationID,
		"attempt", r.Attempt,
		"success", r.Success,
		"duration_ms", r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		attrs = append(attrs, "error", r.Err)
		h.logger.Warn("delivery attempt failed", attrs...)
		return
	}
	h.logger.Info("delivery attempt", attrs...)
}

// OnRetryScheduled records that a retry has been scheduled.
func (h *Hooks) OnRetryScheduled(r RetryScheduled) {
	telemetry.RetryScheduledTotal.WithLabelValues(r.DestinationType).Inc()
	telemetry.RetryBackoffSeconds.WithLabelValues(r.DestinationType).Observe(r.Backoff.Seconds())

	h.logger.Info("retry scheduled",
		"delivery_id", r.DeliveryID,
		"destination_id", r.DestinationID,
		"destination_type", r.DestinationType,
		"attempt", r.Attempt,
		"backoff", r.Backoff,
		"next_retry_at", r.NextRetryAt,
	)
}

// OnBreakerTransition records a circuit breaker state transition.
func (h *Hooks) OnBreakerTransition(t BreakerTransition) {
	telemetry.BreakerStateChangesTotal.WithLabelValues(t.DestinationID.String(), t.To).Inc()
	if t.To == "open" {
		telemetry.BreakerOpenGauge.WithLabelValues(t.DestinationID.String()).Set(1)
	} else if t.From == "open" {
		telemetry.BreakerOpenGauge.WithLabelValues(t.DestinationID.String()).Set(0)
	}

	h.logger.Info("circuit breaker transition",
		"destination_id", t.DestinationID,
		"from", t.From,
		"to", t.To,
		"reason", t.Reason,
	)
}

// OnAlert records that an alert was raised.
func (h *Hooks) OnAlert(a AlertRaised) {
	telemetry.AlertsReceivedTotal.WithLabelValues(a.Type).Inc()

	h.logger.Warn("alert raised",
		"alert_id", a.AlertID,
		"organization_id", a.OrganizationID,
		"destination_id", a.DestinationID,
		"type", a.Type,
		"severity", a.Severity,
	)
}
