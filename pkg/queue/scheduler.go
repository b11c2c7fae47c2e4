package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/relay/internal/observability"
	"github.com/wisbric/relay/internal/telemetry"
	"github.com/wisbric/relay/pkg/destination"
	"github.com/wisbric/relay/pkg/retry"
)

// WakeChannel is the Redis pub/sub channel the scheduler publishes to on
// enqueue, mirroring the teacher's pub/sub wake pattern for its incident
// escalation loop, so the worker loop can wake early instead of waiting
// out its processing tick.
const WakeChannel = "relay:queue:wake"

// Config holds the scheduler's tick intervals and concurrency bound.
type Config struct {
	ProcessingInterval      time.Duration
	MaxConcurrentDeliveries int
	ProcessingTimeout       time.Duration
	MaxCompletedAge         time.Duration
	CleanupInterval         time.Duration
}

// DefaultConfig returns the spec's suggested defaults.
func DefaultConfig() Config {
	return Config{
		ProcessingInterval:      2 * time.Second,
		MaxConcurrentDeliveries: 10,
		ProcessingTimeout:       5 * time.Minute,
		MaxCompletedAge:         72 * time.Hour,
		CleanupInterval:         10 * time.Minute,
	}
}

// DestinationLookup is the subset of the Destination Manager the scheduler
// needs to hand a resolved destination to its adapter.
type DestinationLookup interface {
	Get(ctx context.Context, organizationID, id uuid.UUID) (destination.Destination, error)
}

// CircuitBreaker is the subset of pkg/breaker the scheduler gates sends on.
type CircuitBreaker interface {
	IsOpen(ctx context.Context, organizationID, destinationID uuid.UUID) bool
	RecordSuccess(ctx context.Context, organizationID, destinationID uuid.UUID) error
	RecordFailure(ctx context.Context, organizationID, destinationID uuid.UUID, reason string) error
}

// DestinationUpdate is the authoritative per-destination substate the
// scheduler reports back to whichever delivery log owns the item.
// Attempted distinguishes a real send (increments the substate's attempt
// counter) from a bookkeeping-only transition such as the claim-time
// "processing" mark or a circuit-open skip.
type DestinationUpdate struct {
	Status                string
	Attempted             bool
	LastError             string
	CrossSystemReference  string
	NonRetryable          bool
}

// AlertChecker lets the scheduler notify the Alert Manager after a dispatch
// resolves, so consecutive-failure, failure-rate, and queue-backlog
// conditions are evaluated against freshly-updated destination health
// (spec's alerting data flow: queue/health observations feed the checker
// directly rather than through a separate polling loop). Implemented by
// *alertmanager.Manager; left nil, no alert evaluation happens.
type AlertChecker interface {
	CheckFailureThresholds(ctx context.Context, organizationID, destinationID uuid.UUID) error
	CheckQueueBacklog(ctx context.Context, organizationID uuid.UUID) error
}

// DeliveryUpdater lets the scheduler push the authoritative per-destination
// substate back to the delivery log that owns a queue item, without the
// queue package importing the delivery package — pkg/delivery's store
// implements this interface instead (Design Note §9's repository-boundary
// guidance applied to the queue/delivery seam as well as the SQL one).
type DeliveryUpdater interface {
	UpdateDestinationState(ctx context.Context, deliveryID string, destinationID uuid.UUID, update DestinationUpdate) error
}

// Scheduler is the Queue Manager: a bounded worker pool draining a durable
// priority queue, a watchdog that rescues abandoned "processing" items, and
// periodic cleanup of terminal rows.
type Scheduler struct {
	repo       Repository
	dests      DestinationLookup
	adapters   *destination.Registry
	breaker    CircuitBreaker
	retryMgr   *retry.Manager
	deliveries DeliveryUpdater
	alerts     AlertChecker
	hooks      *observability.Hooks
	rdb        *redis.Client
	logger     *slog.Logger
	cfg        Config
}

// SetAlertChecker wires the Alert Manager in after construction, breaking
// the import cycle that would result from the Alert Manager depending on
// the scheduler's health types while the scheduler depended on the Alert
// Manager's concrete type.
func (s *Scheduler) SetAlertChecker(a AlertChecker) {
	s.alerts = a
}

// NewScheduler creates a Scheduler. deliveries and rdb may be nil: without
// deliveries, per-destination substate sync is skipped (useful in tests
// that only assert on queue-item state); without rdb, the scheduler falls
// back to ticking purely on ProcessingInterval.
func NewScheduler(repo Repository, dests DestinationLookup, adapters *destination.Registry, cb CircuitBreaker, retryMgr *retry.Manager, deliveries DeliveryUpdater, hooks *observability.Hooks, rdb *redis.Client, logger *slog.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		repo: repo, dests: dests, adapters: adapters, breaker: cb, retryMgr: retryMgr,
		deliveries: deliveries, hooks: hooks, rdb: rdb, logger: logger, cfg: cfg,
	}
}

// ScheduleDelivery inserts one pending queue item per destination for a
// delivery and wakes the worker loop early rather than waiting for its tick.
func (s *Scheduler) ScheduleDelivery(ctx context.Context, deliveryID string, organizationID uuid.UUID, destinationIDs []uuid.UUID, priority, maxRetries int, payload json.RawMessage) ([]Item, error) {
	items := make([]Item, 0, len(destinationIDs))
	for _, destID := range destinationIDs {
		item, err := s.repo.Insert(ctx, NewItemInput{
			DeliveryID:     deliveryID,
			OrganizationID: organizationID,
			DestinationID:  destID,
			Priority:       priority,
			MaxRetries:     maxRetries,
			Payload:        payload,
		})
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	s.wake(ctx)
	return items, nil
}

// CancelDelivery marks every non-terminal queue item for a delivery
// cancelled; in-flight adapter calls are left to finish but their result is
// ignored, per spec §5.
func (s *Scheduler) CancelDelivery(ctx context.Context, organizationID uuid.UUID, deliveryID string) (int64, error) {
	return s.repo.CancelByDelivery(ctx, organizationID, deliveryID)
}

func (s *Scheduler) wake(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Publish(ctx, WakeChannel, "1").Err(); err != nil {
		s.logger.Debug("publishing queue wake", "error", err)
	}
}

// Run starts the worker loop, watchdog, and cleanup tickers. It blocks until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("queue scheduler started",
		"processing_interval", s.cfg.ProcessingInterval,
		"max_concurrent", s.cfg.MaxConcurrentDeliveries,
	)

	var wakeCh <-chan *redis.Message
	if s.rdb != nil {
		pubsub := s.rdb.Subscribe(ctx, WakeChannel)
		defer pubsub.Close()
		wakeCh = pubsub.Channel()
	}

	processTicker := time.NewTicker(s.cfg.ProcessingInterval)
	defer processTicker.Stop()
	watchdogTicker := time.NewTicker(s.cfg.ProcessingTimeout / 2)
	defer watchdogTicker.Stop()
	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("queue scheduler stopped")
			return nil
		case <-wakeCh:
			s.tick(ctx)
		case <-processTicker.C:
			s.tick(ctx)
		case <-watchdogTicker.C:
			if n, err := s.ProcessStuckItems(ctx); err != nil {
				s.logger.Error("processing stuck items", "error", err)
			} else if n > 0 {
				s.logger.Warn("recovered stuck queue items", "count", n)
			}
		case <-cleanupTicker.C:
			if n, err := s.PerformCleanup(ctx); err != nil {
				s.logger.Error("performing queue cleanup", "error", err)
			} else if n > 0 {
				s.logger.Info("cleaned up terminal queue items", "count", n)
			}
		}
	}
}

// tick dequeues up to MaxConcurrentDeliveries due items and processes each
// concurrently; it does not wait beyond the batch it claimed.
func (s *Scheduler) tick(ctx context.Context) {
	items, err := s.repo.DequeueBatch(ctx, s.cfg.MaxConcurrentDeliveries, time.Now())
	if err != nil {
		s.logger.Error("dequeuing batch", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}
	telemetry.QueueDequeuedTotal.Add(float64(len(items)))

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(it Item) {
			defer wg.Done()
			s.process(ctx, it)
		}(item)
	}
	wg.Wait()
}

// process executes one dequeued item: the circuit breaker gate, the adapter
// send, and the retry/finalize decision.
func (s *Scheduler) process(ctx context.Context, item Item) {
	s.syncDestination(ctx, item, DestinationUpdate{Status: "processing"})

	if s.breaker.IsOpen(ctx, item.OrganizationID, item.DestinationID) {
		item.Metadata.SkipReason = "circuit_open"
		if err := s.repo.UpdateStatus(ctx, item.ID, StatusFailed, item.Metadata, nil); err != nil {
			s.logger.Error("marking circuit-open item failed", "error", err, "item_id", item.ID)
		}
		s.syncDestination(ctx, item, DestinationUpdate{Status: "skipped", LastError: "circuit breaker open"})
		return
	}

	dest, err := s.dests.Get(ctx, item.OrganizationID, item.DestinationID)
	if err != nil {
		s.finalize(ctx, item, destination.Type(""), false, &destination.SendError{Class: destination.ErrorClassNonRetryable, Message: "resolving destination: " + err.Error()}, "")
		return
	}

	adapter, ok := s.adapters.Resolve(dest.Type)
	if !ok {
		s.finalize(ctx, item, dest.Type, false, &destination.SendError{Class: destination.ErrorClassNonRetryable, Message: "no adapter registered for type " + string(dest.Type)}, "")
		return
	}

	var snapshot destination.PayloadSnapshot
	if err := json.Unmarshal(item.Payload, &snapshot); err != nil {
		s.finalize(ctx, item, dest.Type, false, &destination.SendError{Class: destination.ErrorClassNonRetryable, Message: "decoding payload snapshot: " + err.Error()}, "")
		return
	}

	start := time.Now()
	result, sendErr := adapter.Send(ctx, dest, snapshot)
	duration := time.Since(start)

	// CancelDelivery may have cancelled the item while the adapter call was
	// in flight; the call's result is then ignored.
	if cur, err := s.repo.Get(ctx, item.OrganizationID, item.ID); err == nil && cur.Status == StatusCancelled {
		return
	}

	var classErr *destination.SendError
	success := false
	switch {
	case sendErr != nil:
		classErr = &destination.SendError{Class: destination.ErrorClassRetryable, Message: sendErr.Error()}
	case result.Err != nil:
		classErr = result.Err
	case result.Success:
		success = true
	default:
		classErr = &destination.SendError{Class: destination.ErrorClassRetryable, Message: "adapter reported failure with no error detail"}
	}

	if s.hooks != nil {
		var hookErr error
		if classErr != nil {
			hookErr = classErr
		}
		s.hooks.OnAttempt(observability.AttemptResult{
			DeliveryID: item.DeliveryID, DestinationID: item.DestinationID, DestinationType: string(dest.Type),
			OrganizationID: item.OrganizationID, Attempt: item.RetryCount + 1, Success: success, Err: hookErr, Duration: duration,
		})
	}

	if success {
		if err := s.breaker.RecordSuccess(ctx, item.OrganizationID, item.DestinationID); err != nil {
			s.logger.Error("recording breaker success", "error", err)
		}
	} else if err := s.breaker.RecordFailure(ctx, item.OrganizationID, item.DestinationID, classErr.Message); err != nil {
		s.logger.Error("recording breaker failure", "error", err)
	}

	s.finalize(ctx, item, dest.Type, success, classErr, result.CrossSystemReference)
	s.checkAlerts(ctx, item.OrganizationID, item.DestinationID)
}

// checkAlerts runs the Alert Manager's threshold evaluators for the
// destination and organization just dispatched. Evaluation errors are
// logged, never propagated — a broken alert config must not stall delivery.
func (s *Scheduler) checkAlerts(ctx context.Context, organizationID, destinationID uuid.UUID) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.CheckFailureThresholds(ctx, organizationID, destinationID); err != nil {
		s.logger.Error("checking failure thresholds", "error", err, "organization_id", organizationID, "destination_id", destinationID)
	}
	if err := s.alerts.CheckQueueBacklog(ctx, organizationID); err != nil {
		s.logger.Error("checking queue backlog", "error", err, "organization_id", organizationID)
	}
}

// finalize appends the attempt to the item's history and either completes,
// schedules a retry for, or permanently fails the queue item.
func (s *Scheduler) finalize(ctx context.Context, item Item, destType destination.Type, success bool, sendErr *destination.SendError, crossSystemRef string) {
	attempt := RetryAttempt{AttemptNumber: item.RetryCount + 1, Timestamp: time.Now(), Success: success}
	if sendErr != nil {
		attempt.Error = sendErr.Message
	}
	item.Metadata.RetryAttempts = append(item.Metadata.RetryAttempts, attempt)

	if success {
		now := time.Now()
		if err := s.repo.UpdateStatus(ctx, item.ID, StatusCompleted, item.Metadata, &now); err != nil {
			s.logger.Error("completing queue item", "error", err, "item_id", item.ID)
		}
		s.syncDestination(ctx, item, DestinationUpdate{Status: "delivered", Attempted: true, CrossSystemReference: crossSystemRef})
		return
	}

	if s.retryMgr.ShouldRetry(item.RetryCount, sendErr) {
		backoff := s.retryMgr.CalculateBackoffWithRetryAfter(item.RetryCount, sendErr.RetryAfter)
		nextRetryAt := time.Now().Add(backoff)
		if err := s.repo.ScheduleRetry(ctx, item.ID, nextRetryAt, item.RetryCount+1, item.Metadata); err != nil {
			s.logger.Error("scheduling retry", "error", err, "item_id", item.ID)
		}
		if s.hooks != nil {
			s.hooks.OnRetryScheduled(observability.RetryScheduled{
				DeliveryID: item.DeliveryID, DestinationID: item.DestinationID, DestinationType: string(destType),
				Attempt: item.RetryCount + 1, Backoff: backoff, NextRetryAt: nextRetryAt,
			})
		}
		s.syncDestination(ctx, item, DestinationUpdate{Status: "processing", Attempted: true, LastError: sendErr.Message})
		return
	}

	nonRetryable := sendErr != nil && sendErr.Class == destination.ErrorClassNonRetryable
	if nonRetryable {
		item.Metadata.NonRetryable = true
	}
	now := time.Now()
	if err := s.repo.UpdateStatus(ctx, item.ID, StatusFailed, item.Metadata, &now); err != nil {
		s.logger.Error("failing queue item", "error", err, "item_id", item.ID)
	}
	lastErr := ""
	if sendErr != nil {
		lastErr = sendErr.Message
	}
	s.syncDestination(ctx, item, DestinationUpdate{Status: "failed", Attempted: true, LastError: lastErr, NonRetryable: nonRetryable})
}

func (s *Scheduler) syncDestination(ctx context.Context, item Item, update DestinationUpdate) {
	if s.deliveries == nil {
		return
	}
	if err := s.deliveries.UpdateDestinationState(ctx, item.DeliveryID, item.DestinationID, update); err != nil {
		s.logger.Error("syncing delivery log destination state", "error", err, "delivery_id", item.DeliveryID, "destination_id", item.DestinationID)
	}
}

// ProcessStuckItems is the watchdog: any item left "processing" past
// ProcessingTimeout is reset to pending so another worker can reclaim it.
func (s *Scheduler) ProcessStuckItems(ctx context.Context) (int64, error) {
	n, err := s.repo.RescueStuck(ctx, time.Now().Add(-s.cfg.ProcessingTimeout))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		telemetry.QueueStuckRecoveredTotal.Add(float64(n))
	}
	return n, nil
}

// PerformCleanup deletes terminal queue rows older than MaxCompletedAge.
func (s *Scheduler) PerformCleanup(ctx context.Context) (int64, error) {
	return s.repo.DeleteTerminalOlderThan(ctx, time.Now().Add(-s.cfg.MaxCompletedAge))
}

// GetRetrySchedule returns the current attempt/backoff state of every queue
// item belonging to a delivery, keyed by destination id.
func (s *Scheduler) GetRetrySchedule(ctx context.Context, organizationID uuid.UUID, deliveryID string) (map[uuid.UUID]retry.Schedule, error) {
	items, err := s.repo.ListByDelivery(ctx, organizationID, deliveryID)
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]retry.Schedule, len(items))
	now := time.Now()
	for _, it := range items {
		var nextDelay time.Duration
		if it.NextRetryAt != nil && it.NextRetryAt.After(now) {
			nextDelay = it.NextRetryAt.Sub(now)
		}
		out[it.DestinationID] = retry.Schedule{
			CurrentAttempt: it.RetryCount,
			MaxAttempts:    it.MaxRetries,
			NextDelay:      nextDelay,
			TotalElapsed:   now.Sub(it.CreatedAt),
		}
	}
	return out, nil
}

// ResetRetryCount zeroes a queue item's retry count and attempt history,
// returning it to pending.
func (s *Scheduler) ResetRetryCount(ctx context.Context, organizationID, itemID uuid.UUID) error {
	if _, err := s.repo.Get(ctx, organizationID, itemID); err != nil {
		return err
	}
	return s.repo.Reset(ctx, itemID)
}

// MarkAsNonRetryable marks a queue item permanently failed with the
// nonRetryable flag set, recording reason as its metadata skipReason.
func (s *Scheduler) MarkAsNonRetryable(ctx context.Context, organizationID, itemID uuid.UUID, reason string) error {
	if _, err := s.repo.Get(ctx, organizationID, itemID); err != nil {
		return err
	}
	return s.repo.MarkNonRetryable(ctx, itemID, reason)
}

// GetRetryStatistics aggregates retry outcomes across every completed and
// failed queue item. nonRetryableCount is its own category, disjoint from
// failedRetries (Design Note §9: the source conflates the two).
func (s *Scheduler) GetRetryStatistics(ctx context.Context) (retry.Statistics, error) {
	raw, err := s.repo.RetryStatsRaw(ctx)
	if err != nil {
		return retry.Statistics{}, err
	}

	stats := retry.Statistics{
		SuccessfulRetries: int(raw.CompletedWithRetries),
		FailedRetries:     int(raw.FailedWithRetries),
		NonRetryableCount: int(raw.NonRetryableCount),
		TotalRetries:      int(raw.CompletedWithRetries + raw.FailedWithRetries),
	}
	if raw.ItemCount > 0 {
		stats.AverageRetryCount = float64(raw.TotalRetryCount) / float64(raw.ItemCount)
	}
	return stats, nil
}
