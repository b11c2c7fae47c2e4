// Package delivery implements the Delivery Service: the orchestrator that
// validates an inbound delivery request, resolves destinations, enqueues one
// queue item per destination, and aggregates their per-destination substates
// into one overall delivery status.
package delivery

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the overall delivery status derived by Aggregate.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// DestinationStatus is the per-destination substate within a delivery.
type DestinationStatus string

const (
	DestPending    DestinationStatus = "pending"
	DestProcessing DestinationStatus = "processing"
	DestDelivered  DestinationStatus = "delivered"
	DestFailed     DestinationStatus = "failed"
	DestSkipped    DestinationStatus = "skipped"
)

// DestinationSubstate is one destination's progress within a delivery.
type DestinationSubstate struct {
	DestinationID        uuid.UUID         `json:"destinationId"`
	DestinationType      string            `json:"destinationType,omitempty"`
	Status               DestinationStatus `json:"status"`
	Attempts             int               `json:"attempts"`
	LastError            string            `json:"lastError,omitempty"`
	DeliveredAt          *time.Time        `json:"deliveredAt,omitempty"`
	CrossSystemReference string            `json:"crossSystemReference,omitempty"`
	NonRetryable         bool              `json:"nonRetryable,omitempty"`
}

// PayloadInput is the payload block of a delivery Request.
type PayloadInput struct {
	Type     string          `json:"type" validate:"required"`
	Data     json.RawMessage `json:"data" validate:"required"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Options carries per-delivery overrides.
type Options struct {
	Priority      *int   `json:"priority,omitempty" validate:"omitempty,gte=0,lte=10"`
	MaxRetries    *int   `json:"maxRetries,omitempty" validate:"omitempty,gte=0"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// DefaultDestinationsKeyword is the sentinel Destinations value meaning "use
// the organization's default destinations" instead of explicit ids.
const DefaultDestinationsKeyword = "default"

// Request is the JSON body for POST /deliveries. OrganizationID is resolved
// from request context (pkg/orgctx), not this body, and is filled in by the
// handler before it reaches Service.Deliver.
type Request struct {
	Destinations []string     `json:"destinations" validate:"required,min=1"`
	Payload      PayloadInput `json:"payload" validate:"required"`
	Options      Options      `json:"options"`
}

// Log is the persisted delivery record backing delivery_logs.
type Log struct {
	DeliveryID     string
	OrganizationID uuid.UUID
	PayloadType    string
	PayloadData    json.RawMessage
	PayloadMeta    json.RawMessage
	Status         Status
	Destinations   []DestinationSubstate
	CorrelationID  string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Response is returned by Deliver and GetDeliveryStatus.
type Response struct {
	DeliveryID     string                `json:"deliveryId"`
	Status         Status                `json:"status"`
	Destinations   []DestinationSubstate `json:"destinations"`
	IdempotencyKey string                `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
}

// ListOptions filters ListDeliveries. OrganizationID is always applied.
type ListOptions struct {
	OrganizationID uuid.UUID
	Status         *Status
	Since          *time.Time
	Until          *time.Time
	Limit          int
	Offset         int
}

// MetricsOptions filters GetDeliveryMetrics.
type MetricsOptions struct {
	OrganizationID *uuid.UUID
	Since          time.Time
	Until          time.Time
}

// Metrics is the result of GetDeliveryMetrics.
type Metrics struct {
	Total             int64            `json:"total"`
	Successful        int64            `json:"successful"`
	Failed            int64            `json:"failed"`
	SuccessRatePct    float64          `json:"successRate"`
	AvgDeliveryTimeMS float64          `json:"avgDeliveryTimeMs"`
	ByDestinationType map[string]int64 `json:"byDestinationType"`
	TimeRangeStart    time.Time        `json:"timeRangeStart"`
	TimeRangeEnd      time.Time        `json:"timeRangeEnd"`
}
