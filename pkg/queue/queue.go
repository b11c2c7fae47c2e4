// Package queue implements the Queue Manager / Delivery Scheduler: a
// multi-tenant priority FIFO realized atop a durable table, a bounded
// worker pool, stuck-item recovery, and periodic cleanup.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Priority assignment defaults used when a DeliveryRequest omits one.
const (
	PriorityHealthCheck = 10
	PriorityWrite       = 5
	PriorityReport      = 3
	PriorityRead        = 1
)

// RetryAttempt is one recorded attempt in an item's metadata.
type RetryAttempt struct {
	AttemptNumber int       `json:"attemptNumber"`
	Timestamp     time.Time `json:"timestamp"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
}

// Metadata holds the free-form per-item bookkeeping the spec calls out:
// retryAttempts[], nonRetryable?, and the reason a destination was skipped.
type Metadata struct {
	RetryAttempts []RetryAttempt `json:"retryAttempts,omitempty"`
	NonRetryable  bool           `json:"nonRetryable,omitempty"`
	SkipReason    string         `json:"skipReason,omitempty"`
}

// Item is one (delivery, destination) unit of work.
type Item struct {
	ID             uuid.UUID
	DeliveryID     string
	OrganizationID uuid.UUID
	DestinationID  uuid.UUID
	Priority       int
	Status         Status
	RetryCount     int
	MaxRetries     int
	NextRetryAt    *time.Time
	Payload        json.RawMessage
	Metadata       Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ProcessedAt    *time.Time
}

// NewItemInput is the input to ScheduleDelivery for one destination.
type NewItemInput struct {
	DeliveryID     string
	OrganizationID uuid.UUID
	DestinationID  uuid.UUID
	Priority       int
	MaxRetries     int
	Payload        json.RawMessage
}

// OrgStats is the per-organization queue roll-up.
type OrgStats struct {
	QueueDepth        int64
	ProcessingCount    int64
	AverageWaitTime    time.Duration
	RecentThroughput   float64
	FailureRate        float64
}

// HealthStatus classifies overall queue health.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// HealthAlert is a single condition surfaced by GetQueueHealth.
type HealthAlert struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// HealthMetrics is the metrics block returned by GetQueueHealth.
type HealthMetrics struct {
	QueueDepth        int64         `json:"queueDepth"`
	FailureRate       float64       `json:"failureRate"`
	OldestItemAge     time.Duration `json:"oldestItemAge"`
	AvgProcessingTime time.Duration `json:"avgProcessingTime"`
	Throughput        float64       `json:"throughput"`
}

// Health is the result of GetQueueHealth.
type Health struct {
	Status  HealthStatus  `json:"status"`
	Metrics HealthMetrics `json:"metrics"`
	Alerts  []HealthAlert `json:"alerts"`
}

// HealthThresholds configures GetQueueHealth's alerting.
type HealthThresholds struct {
	QueueDepthWarn     int64
	QueueDepthCritical int64
	StaleItemAge       time.Duration
}

// DefaultHealthThresholds returns reasonable defaults.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		QueueDepthWarn:     500,
		QueueDepthCritical: 2000,
		StaleItemAge:       30 * time.Minute,
	}
}

// RetryStatsRaw is the raw aggregate backing GetRetryStatistics; it stays a
// queue-package type since only the repository's SQL can compute it cheaply.
type RetryStatsRaw struct {
	CompletedWithRetries int64
	FailedWithRetries    int64
	NonRetryableCount    int64
	TotalRetryCount      int64
	ItemCount            int64
}

// Repository is the durable store backing the queue. DequeueBatch is the
// only operation requiring a SQL-specific feature (row-locking / UPDATE
// ... RETURNING), per Design Note §9.
type Repository interface {
	Insert(ctx context.Context, in NewItemInput) (Item, error)
	Get(ctx context.Context, organizationID uuid.UUID, id uuid.UUID) (Item, error)
	ListByDelivery(ctx context.Context, organizationID uuid.UUID, deliveryID string) ([]Item, error)
	DequeueBatch(ctx context.Context, limit int, now time.Time) ([]Item, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, meta Metadata, processedAt *time.Time) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, retryCount int, meta Metadata) error
	Reset(ctx context.Context, id uuid.UUID) error
	MarkNonRetryable(ctx context.Context, id uuid.UUID, reason string) error
	CancelByDelivery(ctx context.Context, organizationID uuid.UUID, deliveryID string) (int64, error)
	RescueStuck(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteTerminalOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	OrgStats(ctx context.Context, organizationID uuid.UUID, window time.Duration) (OrgStats, error)
	OldestPendingAge(ctx context.Context, now time.Time) (time.Duration, error)
	AverageProcessingTime(ctx context.Context, window time.Duration) (time.Duration, error)
	RecentThroughput(ctx context.Context, window time.Duration) (float64, error)
	GlobalFailureRate(ctx context.Context, window time.Duration) (float64, error)
	RetryStatsRaw(ctx context.Context) (RetryStatsRaw, error)
}
