package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/relay/pkg/destination"
	"github.com/wisbric/relay/pkg/queue"
	"github.com/wisbric/relay/pkg/retry"
)

// ErrPayloadTooLarge is returned by Deliver when the marshalled payload
// exceeds the configured MaxPayloadBytes.
var ErrPayloadTooLarge = errors.New("payload exceeds maximum allowed size")

// DestinationResolver is the subset of the Destination Manager the Delivery
// Service needs to resolve explicit ids or "default", and to bill usage.
type DestinationResolver interface {
	Get(ctx context.Context, organizationID, id uuid.UUID) (destination.Destination, error)
	GetDefaults(ctx context.Context, organizationID uuid.UUID) ([]destination.Destination, error)
	IncrementUsage(ctx context.Context, id uuid.UUID) error
}

// CircuitBreaker is the subset of pkg/breaker the Delivery Service
// consults before enqueueing, so an already-open destination is skipped
// immediately instead of occupying a worker slot.
type CircuitBreaker interface {
	IsOpen(ctx context.Context, organizationID, destinationID uuid.UUID) bool
}

// Scheduler is the subset of pkg/queue the Delivery Service drives.
type Scheduler interface {
	ScheduleDelivery(ctx context.Context, deliveryID string, organizationID uuid.UUID, destinationIDs []uuid.UUID, priority, maxRetries int, payload json.RawMessage) ([]queue.Item, error)
	CancelDelivery(ctx context.Context, organizationID uuid.UUID, deliveryID string) (int64, error)
}

// Repository is the durable store backing the Delivery Service. *Store
// satisfies it against Postgres; tests substitute an in-memory fake.
type Repository interface {
	Create(ctx context.Context, l Log) (Log, error)
	Get(ctx context.Context, organizationID uuid.UUID, deliveryID string) (Log, error)
	List(ctx context.Context, o ListOptions) ([]Log, error)
	UpdateStatus(ctx context.Context, organizationID uuid.UUID, deliveryID string, status Status, destinations []DestinationSubstate) error
	GetMetrics(ctx context.Context, o MetricsOptions) (Metrics, error)
}

const (
	defaultPriority   = queue.PriorityWrite
	defaultMaxRetries = 3
)

// Service is the Delivery Service: the central orchestrator tying the
// Destination Manager, Circuit Breaker, Retry Manager, and Queue Manager
// together behind one request/response contract.
type Service struct {
	store           Repository
	dests           DestinationResolver
	breaker         CircuitBreaker
	scheduler       Scheduler
	retryMgr        *retry.Manager
	maxPayloadBytes int
	logger          *slog.Logger
}

// NewService creates a delivery Service. maxPayloadBytes bounds the size of
// a marshalled delivery payload; Deliver rejects anything larger.
func NewService(store Repository, dests DestinationResolver, breaker CircuitBreaker, scheduler Scheduler, retryMgr *retry.Manager, maxPayloadBytes int, logger *slog.Logger) *Service {
	return &Service{store: store, dests: dests, breaker: breaker, scheduler: scheduler, retryMgr: retryMgr, maxPayloadBytes: maxPayloadBytes, logger: logger}
}

// Deliver validates destinations, creates the delivery log, and fans out one
// queue item per non-circuit-open destination.
func (s *Service) Deliver(ctx context.Context, organizationID uuid.UUID, req Request) (Response, error) {
	payloadSnapshotJSON, err := json.Marshal(destination.PayloadSnapshot{
		Type: req.Payload.Type, Data: req.Payload.Data, Metadata: req.Payload.Metadata,
	})
	if err != nil {
		return Response{}, fmt.Errorf("encoding payload: %w", err)
	}
	if s.maxPayloadBytes > 0 && len(payloadSnapshotJSON) > s.maxPayloadBytes {
		return Response{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(payloadSnapshotJSON), s.maxPayloadBytes)
	}

	destinations, err := s.resolveDestinations(ctx, organizationID, req.Destinations)
	if err != nil {
		return Response{}, err
	}
	if len(destinations) == 0 {
		now := time.Now()
		log := Log{
			DeliveryID: newDeliveryID(now), OrganizationID: organizationID,
			PayloadType: req.Payload.Type, PayloadData: req.Payload.Data, PayloadMeta: req.Payload.Metadata,
			Status: StatusFailed, Destinations: []DestinationSubstate{},
			CorrelationID: req.Options.CorrelationID, IdempotencyKey: uuid.NewString(),
		}
		created, err := s.store.Create(ctx, log)
		if err != nil {
			return Response{}, fmt.Errorf("creating delivery log: %w", err)
		}
		return toResponse(created), nil
	}

	priority := defaultPriority
	if req.Options.Priority != nil {
		priority = *req.Options.Priority
	}
	maxRetries := defaultMaxRetries
	if req.Options.MaxRetries != nil {
		maxRetries = *req.Options.MaxRetries
	}

	now := time.Now()
	deliveryID := newDeliveryID(now)
	idempotencyKey := uuid.NewString()

	payloadJSON, err := json.Marshal(destination.PayloadSnapshot{
		Type: req.Payload.Type, Data: req.Payload.Data, Metadata: req.Payload.Metadata, IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return Response{}, fmt.Errorf("encoding payload snapshot: %w", err)
	}

	substates := make([]DestinationSubstate, 0, len(destinations))
	var enqueue []uuid.UUID
	for _, d := range destinations {
		if s.breaker.IsOpen(ctx, organizationID, d.ID) {
			substates = append(substates, DestinationSubstate{
				DestinationID: d.ID, DestinationType: string(d.Type), Status: DestSkipped, LastError: "circuit breaker open",
			})
			continue
		}
		substates = append(substates, DestinationSubstate{DestinationID: d.ID, DestinationType: string(d.Type), Status: DestPending})
		enqueue = append(enqueue, d.ID)
	}

	log := Log{
		DeliveryID: deliveryID, OrganizationID: organizationID,
		PayloadType: req.Payload.Type, PayloadData: req.Payload.Data, PayloadMeta: req.Payload.Metadata,
		Status: Aggregate(substates), Destinations: substates,
		CorrelationID: req.Options.CorrelationID, IdempotencyKey: idempotencyKey,
	}
	created, err := s.store.Create(ctx, log)
	if err != nil {
		return Response{}, fmt.Errorf("creating delivery log: %w", err)
	}

	if len(enqueue) > 0 {
		if _, err := s.scheduler.ScheduleDelivery(ctx, deliveryID, organizationID, enqueue, priority, maxRetries, payloadJSON); err != nil {
			return Response{}, fmt.Errorf("scheduling delivery: %w", err)
		}
	}

	for _, d := range destinations {
		if err := s.dests.IncrementUsage(ctx, d.ID); err != nil {
			s.logger.Warn("incrementing destination usage", "destination_id", d.ID, "error", err)
		}
	}

	return toResponse(created), nil
}

func (s *Service) resolveDestinations(ctx context.Context, organizationID uuid.UUID, ids []string) ([]destination.Destination, error) {
	if len(ids) == 1 && ids[0] == DefaultDestinationsKeyword {
		defaults, err := s.dests.GetDefaults(ctx, organizationID)
		if err != nil {
			return nil, fmt.Errorf("resolving default destinations: %w", err)
		}
		return defaults, nil
	}

	out := make([]destination.Destination, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid destination id %q: %w", raw, err)
		}
		// A destination that doesn't resolve — missing, or belonging to
		// another organization — is not a malformed request: it yields a
		// failed delivery, not a 4xx. Skip it and let the caller decide
		// what an empty resolved set means.
		d, err := s.dests.Get(ctx, organizationID, id)
		if err != nil {
			s.logger.Warn("destination did not resolve for delivery", "destination_id", raw, "error", err)
			continue
		}
		if d.Disabled {
			s.logger.Warn("destination disabled, skipping for delivery", "destination_id", raw)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// RetryDelivery re-checks retry eligibility and reschedules only the
// currently-failed, non-non-retryable destination substates.
func (s *Service) RetryDelivery(ctx context.Context, organizationID uuid.UUID, deliveryID string) (Response, error) {
	log, err := s.store.Get(ctx, organizationID, deliveryID)
	if err != nil {
		return Response{}, fmt.Errorf("loading delivery log: %w", err)
	}

	var retryIDs []uuid.UUID
	for i, d := range log.Destinations {
		if d.Status != DestFailed {
			continue
		}
		errClass := destination.ErrorClassRetryable
		if d.NonRetryable {
			errClass = destination.ErrorClassNonRetryable
		}
		if !s.retryMgr.ShouldRetry(0, &destination.SendError{Class: errClass}) {
			continue
		}
		log.Destinations[i].Status = DestPending
		log.Destinations[i].LastError = ""
		retryIDs = append(retryIDs, d.DestinationID)
	}

	if len(retryIDs) == 0 {
		return toResponse(log), nil
	}

	payloadJSON, err := json.Marshal(destination.PayloadSnapshot{Type: log.PayloadType, Data: log.PayloadData, Metadata: log.PayloadMeta, IdempotencyKey: log.IdempotencyKey})
	if err != nil {
		return Response{}, fmt.Errorf("encoding payload snapshot: %w", err)
	}
	if _, err := s.scheduler.ScheduleDelivery(ctx, deliveryID, organizationID, retryIDs, defaultPriority, defaultMaxRetries, payloadJSON); err != nil {
		return Response{}, fmt.Errorf("rescheduling delivery: %w", err)
	}

	newStatus := Aggregate(log.Destinations)
	if err := s.store.UpdateStatus(ctx, organizationID, deliveryID, newStatus, log.Destinations); err != nil {
		return Response{}, fmt.Errorf("updating delivery log: %w", err)
	}
	log.Status = newStatus
	return toResponse(log), nil
}

// GetDeliveryStatus reads the delivery log and returns its current
// (already-aggregated) status.
func (s *Service) GetDeliveryStatus(ctx context.Context, organizationID uuid.UUID, deliveryID string) (Response, error) {
	log, err := s.store.Get(ctx, organizationID, deliveryID)
	if err != nil {
		return Response{}, fmt.Errorf("loading delivery log: %w", err)
	}
	return toResponse(log), nil
}

// ListDeliveries returns delivery logs matching the given filters.
func (s *Service) ListDeliveries(ctx context.Context, o ListOptions) ([]Response, error) {
	logs, err := s.store.List(ctx, o)
	if err != nil {
		return nil, err
	}
	out := make([]Response, 0, len(logs))
	for _, l := range logs {
		out = append(out, toResponse(l))
	}
	return out, nil
}

// GetDeliveryMetrics returns the success-rate/throughput roll-up.
func (s *Service) GetDeliveryMetrics(ctx context.Context, o MetricsOptions) (Metrics, error) {
	return s.store.GetMetrics(ctx, o)
}

// CancelDelivery cancels every non-terminal queue item for a delivery and
// marks its still-pending/processing destination substates skipped.
func (s *Service) CancelDelivery(ctx context.Context, organizationID uuid.UUID, deliveryID string) (Response, error) {
	if _, err := s.scheduler.CancelDelivery(ctx, organizationID, deliveryID); err != nil {
		return Response{}, fmt.Errorf("cancelling queue items: %w", err)
	}

	log, err := s.store.Get(ctx, organizationID, deliveryID)
	if err != nil {
		return Response{}, fmt.Errorf("loading delivery log: %w", err)
	}
	for i, d := range log.Destinations {
		if d.Status == DestPending || d.Status == DestProcessing {
			log.Destinations[i].Status = DestSkipped
			log.Destinations[i].LastError = "cancelled"
		}
	}
	if err := s.store.UpdateStatus(ctx, organizationID, deliveryID, StatusCancelled, log.Destinations); err != nil {
		return Response{}, fmt.Errorf("updating delivery log: %w", err)
	}
	log.Status = StatusCancelled
	return toResponse(log), nil
}

func toResponse(l Log) Response {
	return Response{
		DeliveryID: l.DeliveryID, Status: l.Status, Destinations: l.Destinations,
		IdempotencyKey: l.IdempotencyKey, CreatedAt: l.CreatedAt,
	}
}
