package delivery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/relay/pkg/destination"
	"github.com/wisbric/relay/pkg/queue"
	"github.com/wisbric/relay/pkg/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDestResolver struct {
	byID     map[uuid.UUID]destination.Destination
	defaults []destination.Destination
}

func (f *fakeDestResolver) Get(_ context.Context, _, id uuid.UUID) (destination.Destination, error) {
	d, ok := f.byID[id]
	if !ok {
		return destination.Destination{}, errNotFound
	}
	return d, nil
}

func (f *fakeDestResolver) GetDefaults(_ context.Context, _ uuid.UUID) ([]destination.Destination, error) {
	return f.defaults, nil
}

func (f *fakeDestResolver) IncrementUsage(_ context.Context, _ uuid.UUID) error { return nil }

type fakeBreaker struct {
	open map[uuid.UUID]bool
}

func (f *fakeBreaker) IsOpen(_ context.Context, _, destID uuid.UUID) bool {
	return f.open[destID]
}

type fakeScheduler struct {
	scheduled [][]uuid.UUID
	cancelled []string
}

func (f *fakeScheduler) ScheduleDelivery(_ context.Context, _ string, _ uuid.UUID, destinationIDs []uuid.UUID, _, _ int, _ json.RawMessage) ([]queue.Item, error) {
	f.scheduled = append(f.scheduled, destinationIDs)
	items := make([]queue.Item, len(destinationIDs))
	for i, id := range destinationIDs {
		items[i] = queue.Item{ID: uuid.New(), DestinationID: id}
	}
	return items, nil
}

func (f *fakeScheduler) CancelDelivery(_ context.Context, _ uuid.UUID, deliveryID string) (int64, error) {
	f.cancelled = append(f.cancelled, deliveryID)
	return 1, nil
}

var errNotFound = fmtErr("destination not found")

type fmtErr string

func (e fmtErr) Error() string { return string(e) }

type fakeRepository struct {
	logs map[string]Log
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{logs: make(map[string]Log)}
}

func (f *fakeRepository) Create(_ context.Context, l Log) (Log, error) {
	f.logs[l.DeliveryID] = l
	return l, nil
}

func (f *fakeRepository) Get(_ context.Context, _ uuid.UUID, deliveryID string) (Log, error) {
	l, ok := f.logs[deliveryID]
	if !ok {
		return Log{}, errNotFound
	}
	return l, nil
}

func (f *fakeRepository) List(_ context.Context, _ ListOptions) ([]Log, error) {
	out := make([]Log, 0, len(f.logs))
	for _, l := range f.logs {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeRepository) UpdateStatus(_ context.Context, _ uuid.UUID, deliveryID string, status Status, destinations []DestinationSubstate) error {
	l := f.logs[deliveryID]
	l.Status = status
	l.Destinations = destinations
	f.logs[deliveryID] = l
	return nil
}

func (f *fakeRepository) GetMetrics(_ context.Context, _ MetricsOptions) (Metrics, error) {
	return Metrics{}, nil
}

func newTestService(t *testing.T, resolver *fakeDestResolver, breaker *fakeBreaker, scheduler *fakeScheduler) (*Service, *fakeRepository) {
	t.Helper()
	store := newFakeRepository()
	return NewService(store, resolver, breaker, scheduler, retry.New(retry.DefaultConfig()), 10<<20, discardLogger()), store
}

func TestDeliverSkipsCircuitOpenDestinations(t *testing.T) {
	open := uuid.New()
	closedDest := uuid.New()
	resolver := &fakeDestResolver{byID: map[uuid.UUID]destination.Destination{
		open:       {ID: open, Type: destination.TypeWebhook},
		closedDest: {ID: closedDest, Type: destination.TypeWebhook},
	}}
	breaker := &fakeBreaker{open: map[uuid.UUID]bool{open: true}}
	scheduler := &fakeScheduler{}
	svc, _ := newTestService(t, resolver, breaker, scheduler)

	resp, err := svc.Deliver(context.Background(), uuid.New(), Request{
		Destinations: []string{open.String(), closedDest.String()},
		Payload:      PayloadInput{Type: "event", Data: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if resp.Status != StatusQueued {
		t.Fatalf("expected queued status, got %q", resp.Status)
	}
	if len(scheduler.scheduled) != 1 || len(scheduler.scheduled[0]) != 1 {
		t.Fatalf("expected exactly one destination enqueued, got %v", scheduler.scheduled)
	}

	var skipped, pending int
	for _, d := range resp.Destinations {
		switch d.Status {
		case DestSkipped:
			skipped++
		case DestPending:
			pending++
		}
	}
	if skipped != 1 || pending != 1 {
		t.Fatalf("expected 1 skipped + 1 pending substate, got skipped=%d pending=%d", skipped, pending)
	}
}

func TestDeliverResolvesDefaultDestinations(t *testing.T) {
	d := destination.Destination{ID: uuid.New(), Type: destination.TypeWebhook, Default: true}
	resolver := &fakeDestResolver{defaults: []destination.Destination{d}}
	svc, _ := newTestService(t, resolver, &fakeBreaker{}, &fakeScheduler{})

	resp, err := svc.Deliver(context.Background(), uuid.New(), Request{
		Destinations: []string{DefaultDestinationsKeyword},
		Payload:      PayloadInput{Type: "event", Data: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(resp.Destinations) != 1 || resp.Destinations[0].DestinationID != d.ID {
		t.Fatalf("expected default destination resolved, got %+v", resp.Destinations)
	}
}

func TestDeliverMissingDestinationReturnsFailedWithNoDestinations(t *testing.T) {
	resolver := &fakeDestResolver{byID: map[uuid.UUID]destination.Destination{}}
	svc, _ := newTestService(t, resolver, &fakeBreaker{}, &fakeScheduler{})

	resp, err := svc.Deliver(context.Background(), uuid.New(), Request{
		Destinations: []string{uuid.New().String()},
		Payload:      PayloadInput{Type: "event", Data: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if resp.Status != StatusFailed {
		t.Fatalf("expected failed status, got %q", resp.Status)
	}
	if len(resp.Destinations) != 0 {
		t.Fatalf("expected no destination substates, got %+v", resp.Destinations)
	}
}

func TestDeliverRejectsOversizedPayload(t *testing.T) {
	resolver := &fakeDestResolver{byID: map[uuid.UUID]destination.Destination{}}
	store := newFakeRepository()
	svc := NewService(store, resolver, &fakeBreaker{}, &fakeScheduler{}, retry.New(retry.DefaultConfig()), 10, discardLogger())

	_, err := svc.Deliver(context.Background(), uuid.New(), Request{
		Destinations: []string{DefaultDestinationsKeyword},
		Payload:      PayloadInput{Type: "event", Data: json.RawMessage(`{"much":"too big for ten bytes"}`)},
	})
	if err == nil {
		t.Fatal("expected Deliver to reject an oversized payload")
	}
}

func TestCancelDeliveryMarksNonTerminalSubstatesSkipped(t *testing.T) {
	dest := destination.Destination{ID: uuid.New(), Type: destination.TypeWebhook}
	resolver := &fakeDestResolver{byID: map[uuid.UUID]destination.Destination{dest.ID: dest}}
	scheduler := &fakeScheduler{}
	svc, _ := newTestService(t, resolver, &fakeBreaker{}, scheduler)

	resp, err := svc.Deliver(context.Background(), uuid.New(), Request{
		Destinations: []string{dest.ID.String()},
		Payload:      PayloadInput{Type: "event", Data: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	cancelled, err := svc.CancelDelivery(context.Background(), uuid.New(), resp.DeliveryID)
	if err != nil {
		t.Fatalf("CancelDelivery: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %q", cancelled.Status)
	}
	if cancelled.Destinations[0].Status != DestSkipped {
		t.Fatalf("expected destination substate skipped, got %q", cancelled.Destinations[0].Status)
	}
}
