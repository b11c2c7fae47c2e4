// Package alertmanager implements the Alert Manager: it evaluates
// destination/queue health against per-organization thresholds, gates
// emission through the Alert Debouncer, and exposes the operator API that
// applies Alert Access Control to every mutation.
package alertmanager

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is an alert's lifecycle state.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Type is the kind of condition an alert reports.
type Type string

const (
	TypeConsecutiveFailures Type = "consecutive_failures"
	TypeFailureRate         Type = "failure_rate"
	TypeQueueBacklog        Type = "queue_backlog"
	TypeResponseTime        Type = "response_time"
)

// Severity is an alert's urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is the persisted alert record (spec §3).
type Alert struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	DestinationID   uuid.UUID // uuid.Nil for system-wide alerts (e.g. queue_backlog)
	DepartmentID    string
	TeamID          string
	Type            Type
	Severity        Severity
	Title           string
	Description     string
	Metadata        json.RawMessage
	SystemDetails   json.RawMessage
	Status          Status
	CreatedAt       time.Time
	AcknowledgedBy  *uuid.UUID
	AcknowledgedAt  *time.Time
	ResolvedBy      *uuid.UUID
	ResolvedAt      *time.Time
	Notes           string
}

// Config is the per-organization Alert Config (spec §3).
type Config struct {
	OrganizationID              uuid.UUID
	FailureRateThreshold        float64 // percent
	ConsecutiveFailureThreshold int
	QueueBacklogThreshold       int64
	ResponseTimeThreshold       time.Duration
	DebounceWindowMinutes       int
	EscalationDelayMinutes      int
	SuppressionWindows          []string
}

// DefaultConfig returns sensible per-organization thresholds used whenever
// an organization has not configured its own.
func DefaultConfig(organizationID uuid.UUID) Config {
	return Config{
		OrganizationID:              organizationID,
		FailureRateThreshold:        50,
		ConsecutiveFailureThreshold: 3,
		QueueBacklogThreshold:       500,
		ResponseTimeThreshold:       5 * time.Second,
		DebounceWindowMinutes:       10,
		EscalationDelayMinutes:      30,
	}
}

// ListOptions filters ListAlerts / GetAlertsForUser queries.
type ListOptions struct {
	OrganizationID uuid.UUID
	Status         *Status
	DestinationID  *uuid.UUID
	Limit          int
	Offset         int
}
