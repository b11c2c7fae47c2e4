package queue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/relay/pkg/destination"
	"github.com/wisbric/relay/pkg/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeQueueRepo struct {
	items map[uuid.UUID]Item
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{items: make(map[uuid.UUID]Item)}
}

func (f *fakeQueueRepo) Insert(_ context.Context, in NewItemInput) (Item, error) {
	item := Item{
		ID: uuid.New(), DeliveryID: in.DeliveryID, OrganizationID: in.OrganizationID,
		DestinationID: in.DestinationID, Priority: in.Priority, Status: StatusPending,
		MaxRetries: in.MaxRetries, Payload: in.Payload, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	f.items[item.ID] = item
	return item, nil
}

func (f *fakeQueueRepo) Get(_ context.Context, _ uuid.UUID, id uuid.UUID) (Item, error) {
	return f.items[id], nil
}

func (f *fakeQueueRepo) ListByDelivery(_ context.Context, _ uuid.UUID, deliveryID string) ([]Item, error) {
	var out []Item
	for _, it := range f.items {
		if it.DeliveryID == deliveryID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeQueueRepo) DequeueBatch(_ context.Context, limit int, now time.Time) ([]Item, error) {
	var out []Item
	for id, it := range f.items {
		if len(out) >= limit {
			break
		}
		if it.Status != StatusPending {
			continue
		}
		if it.NextRetryAt != nil && it.NextRetryAt.After(now) {
			continue
		}
		it.Status = StatusProcessing
		f.items[id] = it
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeQueueRepo) UpdateStatus(_ context.Context, id uuid.UUID, status Status, meta Metadata, processedAt *time.Time) error {
	it := f.items[id]
	it.Status = status
	it.Metadata = meta
	it.ProcessedAt = processedAt
	f.items[id] = it
	return nil
}

func (f *fakeQueueRepo) ScheduleRetry(_ context.Context, id uuid.UUID, nextRetryAt time.Time, retryCount int, meta Metadata) error {
	it := f.items[id]
	it.Status = StatusPending
	it.NextRetryAt = &nextRetryAt
	it.RetryCount = retryCount
	it.Metadata = meta
	f.items[id] = it
	return nil
}

func (f *fakeQueueRepo) Reset(_ context.Context, id uuid.UUID) error {
	it := f.items[id]
	it.Status = StatusPending
	it.RetryCount = 0
	it.NextRetryAt = nil
	it.Metadata = Metadata{}
	f.items[id] = it
	return nil
}

func (f *fakeQueueRepo) MarkNonRetryable(_ context.Context, id uuid.UUID, reason string) error {
	it := f.items[id]
	it.Status = StatusFailed
	it.Metadata = Metadata{NonRetryable: true, SkipReason: reason}
	f.items[id] = it
	return nil
}

func (f *fakeQueueRepo) CancelByDelivery(_ context.Context, _ uuid.UUID, deliveryID string) (int64, error) {
	var n int64
	for id, it := range f.items {
		if it.DeliveryID == deliveryID && (it.Status == StatusPending || it.Status == StatusProcessing) {
			it.Status = StatusCancelled
			f.items[id] = it
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueRepo) RescueStuck(_ context.Context, olderThan time.Time) (int64, error) {
	var n int64
	for id, it := range f.items {
		if it.Status == StatusProcessing && it.UpdatedAt.Before(olderThan) {
			it.Status = StatusPending
			f.items[id] = it
			n++
		}
	}
	return n, nil
}

func (f *fakeQueueRepo) DeleteTerminalOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeQueueRepo) CountByStatus(_ context.Context) (map[Status]int64, error) {
	out := make(map[Status]int64)
	for _, it := range f.items {
		out[it.Status]++
	}
	return out, nil
}

func (f *fakeQueueRepo) OrgStats(_ context.Context, _ uuid.UUID, _ time.Duration) (OrgStats, error) {
	return OrgStats{}, nil
}

func (f *fakeQueueRepo) OldestPendingAge(_ context.Context, _ time.Time) (time.Duration, error) {
	return 0, nil
}

func (f *fakeQueueRepo) AverageProcessingTime(_ context.Context, _ time.Duration) (time.Duration, error) {
	return 0, nil
}

func (f *fakeQueueRepo) RecentThroughput(_ context.Context, _ time.Duration) (float64, error) {
	return 0, nil
}

func (f *fakeQueueRepo) GlobalFailureRate(_ context.Context, _ time.Duration) (float64, error) {
	return 0, nil
}

func (f *fakeQueueRepo) RetryStatsRaw(_ context.Context) (RetryStatsRaw, error) {
	return RetryStatsRaw{}, nil
}

type fakeDestLookup struct {
	dest destination.Destination
}

func (f *fakeDestLookup) Get(_ context.Context, _, _ uuid.UUID) (destination.Destination, error) {
	return f.dest, nil
}

type fakeBreaker struct {
	open bool
}

func (f *fakeBreaker) IsOpen(_ context.Context, _, _ uuid.UUID) bool { return f.open }
func (f *fakeBreaker) RecordSuccess(_ context.Context, _, _ uuid.UUID) error { return nil }
func (f *fakeBreaker) RecordFailure(_ context.Context, _, _ uuid.UUID, _ string) error { return nil }

type scriptedAdapter struct {
	results []destination.SendResult
	errs    []error
	calls   int
}

func (a *scriptedAdapter) Send(_ context.Context, _ destination.Destination, _ destination.PayloadSnapshot) (destination.SendResult, error) {
	i := a.calls
	a.calls++
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	return a.results[i], a.errs[i]
}

func (a *scriptedAdapter) Probe(_ context.Context, _ destination.Destination) (destination.ProbeResult, error) {
	return destination.ProbeResult{Success: true}, nil
}

func newTestScheduler(repo Repository, dests DestinationLookup, adapters *destination.Registry, cb CircuitBreaker) *Scheduler {
	return NewScheduler(repo, dests, adapters, cb, retry.New(retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2}), nil, nil, nil, discardLogger(), DefaultConfig())
}

func TestSchedulerCompletesOnSuccessfulSend(t *testing.T) {
	repo := newFakeQueueRepo()
	dest := destination.Destination{ID: uuid.New(), Type: destination.TypeWebhook}
	adapter := &scriptedAdapter{results: []destination.SendResult{{Success: true}}, errs: []error{nil}}
	registry := destination.NewRegistry()
	registry.Register(destination.TypeWebhook, adapter)

	s := newTestScheduler(repo, &fakeDestLookup{dest: dest}, registry, &fakeBreaker{})
	item, err := repo.Insert(context.Background(), NewItemInput{
		DeliveryID: "del_1", OrganizationID: uuid.New(), DestinationID: dest.ID,
		MaxRetries: 2, Payload: mustSnapshot(t),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	s.process(context.Background(), item)

	got := repo.items[item.ID]
	if got.Status != StatusCompleted {
		t.Fatalf("expected item to complete, got status %q", got.Status)
	}
}

func TestSchedulerSchedulesRetryOnRetryableFailure(t *testing.T) {
	repo := newFakeQueueRepo()
	dest := destination.Destination{ID: uuid.New(), Type: destination.TypeWebhook}
	adapter := &scriptedAdapter{
		results: []destination.SendResult{{Success: false, Err: &destination.SendError{Class: destination.ErrorClassRetryable, Message: "timeout"}}},
		errs:    []error{nil},
	}
	registry := destination.NewRegistry()
	registry.Register(destination.TypeWebhook, adapter)

	s := newTestScheduler(repo, &fakeDestLookup{dest: dest}, registry, &fakeBreaker{})
	item, _ := repo.Insert(context.Background(), NewItemInput{
		DeliveryID: "del_2", OrganizationID: uuid.New(), DestinationID: dest.ID,
		MaxRetries: 2, Payload: mustSnapshot(t),
	})

	s.process(context.Background(), item)

	got := repo.items[item.ID]
	if got.Status != StatusPending {
		t.Fatalf("expected item rescheduled to pending, got %q", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("expected retryCount 1, got %d", got.RetryCount)
	}
	if got.NextRetryAt == nil {
		t.Fatal("expected nextRetryAt to be set")
	}
}

func TestSchedulerFailsPermanentlyOnNonRetryableError(t *testing.T) {
	repo := newFakeQueueRepo()
	dest := destination.Destination{ID: uuid.New(), Type: destination.TypeWebhook}
	adapter := &scriptedAdapter{
		results: []destination.SendResult{{Success: false, Err: &destination.SendError{Class: destination.ErrorClassNonRetryable, Message: "bad config"}}},
		errs:    []error{nil},
	}
	registry := destination.NewRegistry()
	registry.Register(destination.TypeWebhook, adapter)

	s := newTestScheduler(repo, &fakeDestLookup{dest: dest}, registry, &fakeBreaker{})
	item, _ := repo.Insert(context.Background(), NewItemInput{
		DeliveryID: "del_3", OrganizationID: uuid.New(), DestinationID: dest.ID,
		MaxRetries: 2, Payload: mustSnapshot(t),
	})

	s.process(context.Background(), item)

	got := repo.items[item.ID]
	if got.Status != StatusFailed {
		t.Fatalf("expected item failed, got %q", got.Status)
	}
	if !got.Metadata.NonRetryable {
		t.Fatal("expected nonRetryable flag set")
	}
}

func TestSchedulerSkipsWhenCircuitOpen(t *testing.T) {
	repo := newFakeQueueRepo()
	dest := destination.Destination{ID: uuid.New(), Type: destination.TypeWebhook}
	registry := destination.NewRegistry()
	registry.Register(destination.TypeWebhook, &scriptedAdapter{results: []destination.SendResult{{Success: true}}, errs: []error{nil}})

	s := newTestScheduler(repo, &fakeDestLookup{dest: dest}, registry, &fakeBreaker{open: true})
	item, _ := repo.Insert(context.Background(), NewItemInput{
		DeliveryID: "del_4", OrganizationID: uuid.New(), DestinationID: dest.ID,
		MaxRetries: 2, Payload: mustSnapshot(t),
	})

	s.process(context.Background(), item)

	got := repo.items[item.ID]
	if got.Status != StatusFailed {
		t.Fatalf("expected item failed while circuit open, got %q", got.Status)
	}
	if got.Metadata.SkipReason != "circuit_open" {
		t.Fatalf("expected skipReason circuit_open, got %q", got.Metadata.SkipReason)
	}
}

func TestGetRetryScheduleReflectsPendingBackoff(t *testing.T) {
	repo := newFakeQueueRepo()
	dest := destination.Destination{ID: uuid.New(), Type: destination.TypeWebhook}
	registry := destination.NewRegistry()
	s := newTestScheduler(repo, &fakeDestLookup{dest: dest}, registry, &fakeBreaker{})

	org := uuid.New()
	item, _ := repo.Insert(context.Background(), NewItemInput{
		DeliveryID: "del_5", OrganizationID: org, DestinationID: dest.ID, MaxRetries: 3, Payload: mustSnapshot(t),
	})
	future := time.Now().Add(5 * time.Second)
	_ = repo.ScheduleRetry(context.Background(), item.ID, future, 1, Metadata{})

	schedule, err := s.GetRetrySchedule(context.Background(), org, "del_5")
	if err != nil {
		t.Fatalf("GetRetrySchedule: %v", err)
	}
	sched, ok := schedule[dest.ID]
	if !ok {
		t.Fatal("expected schedule entry for destination")
	}
	if sched.CurrentAttempt != 1 || sched.MaxAttempts != 3 {
		t.Fatalf("unexpected schedule %+v", sched)
	}
	if sched.NextDelay <= 0 {
		t.Fatalf("expected positive next delay, got %v", sched.NextDelay)
	}
}

func mustSnapshot(t *testing.T) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(destination.PayloadSnapshot{Type: "event", Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("marshaling payload snapshot: %v", err)
	}
	return b
}
