package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeRepo struct {
	rows map[uuid.UUID]Health
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[uuid.UUID]Health)}
}

func (f *fakeRepo) GetOrCreate(_ context.Context, organizationID, destinationID uuid.UUID) (Health, error) {
	if h, ok := f.rows[destinationID]; ok {
		return h, nil
	}
	h := Health{DestinationID: destinationID, OrganizationID: organizationID, State: StateClosed, LastCheckAt: time.Now()}
	f.rows[destinationID] = h
	return h, nil
}

func (f *fakeRepo) Save(_ context.Context, h Health) error {
	f.rows[h.DestinationID] = h
	return nil
}

func (f *fakeRepo) ListAll(_ context.Context, organizationID uuid.UUID) ([]Health, error) {
	var out []Health
	for _, h := range f.rows {
		if h.OrganizationID == organizationID {
			out = append(out, h)
		}
	}
	return out, nil
}

func TestBreakerOpensAfterThresholdAndVolume(t *testing.T) {
	repo := newFakeRepo()
	b := New(repo, Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, SuccessThreshold: 2, VolumeThreshold: 3}, nil)
	ctx := context.Background()
	org, dest := uuid.New(), uuid.New()

	for i := 0; i < 2; i++ {
		if err := b.RecordFailure(ctx, org, dest, "timeout"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if b.IsOpen(ctx, org, dest) {
		t.Fatal("breaker should not be open before failureThreshold is reached")
	}

	if err := b.RecordFailure(ctx, org, dest, "timeout"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if !b.IsOpen(ctx, org, dest) {
		t.Fatal("breaker should be open once failureThreshold and volumeThreshold are both met")
	}
}

func TestBreakerVolumeThresholdSuppressesOpen(t *testing.T) {
	repo := newFakeRepo()
	b := New(repo, Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, SuccessThreshold: 2, VolumeThreshold: 10}, nil)
	ctx := context.Background()
	org, dest := uuid.New(), uuid.New()

	if err := b.RecordFailure(ctx, org, dest, "timeout"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if b.IsOpen(ctx, org, dest) {
		t.Fatal("breaker should stay closed on a tiny sample below volumeThreshold")
	}
}

func TestBreakerHalfOpenPromotesToClosedAfterSuccessThreshold(t *testing.T) {
	repo := newFakeRepo()
	b := New(repo, Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, SuccessThreshold: 2, VolumeThreshold: 1}, nil)
	ctx := context.Background()
	org, dest := uuid.New(), uuid.New()

	if err := b.RecordFailure(ctx, org, dest, "timeout"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if !b.IsOpen(ctx, org, dest) {
		t.Fatal("breaker should be open")
	}

	time.Sleep(15 * time.Millisecond)

	if b.IsOpen(ctx, org, dest) {
		t.Fatal("breaker should transition to half-open and permit a trial request after recoveryTimeout elapses")
	}
	state, err := b.GetState(ctx, org, dest)
	if err != nil || state != StateHalfOpen {
		t.Fatalf("GetState() = %v, %v, want half-open", state, err)
	}

	if err := b.RecordSuccess(ctx, org, dest); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	state, _ = b.GetState(ctx, org, dest)
	if state != StateHalfOpen {
		t.Fatalf("breaker should remain half-open after a single success below successThreshold, got %v", state)
	}

	if err := b.RecordSuccess(ctx, org, dest); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	state, _ = b.GetState(ctx, org, dest)
	if state != StateClosed {
		t.Fatalf("breaker should close after successThreshold half-open successes, got %v", state)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	repo := newFakeRepo()
	b := New(repo, Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, SuccessThreshold: 2, VolumeThreshold: 1}, nil)
	ctx := context.Background()
	org, dest := uuid.New(), uuid.New()

	_ = b.RecordFailure(ctx, org, dest, "timeout")
	time.Sleep(15 * time.Millisecond)
	if b.IsOpen(ctx, org, dest) {
		t.Fatal("breaker should have transitioned to half-open")
	}

	if err := b.RecordFailure(ctx, org, dest, "timeout"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if !b.IsOpen(ctx, org, dest) {
		t.Fatal("any half-open failure should reopen the breaker")
	}
}

func TestForceOpenIsUnconditional(t *testing.T) {
	repo := newFakeRepo()
	b := New(repo, DefaultConfig(), nil)
	ctx := context.Background()
	org, dest := uuid.New(), uuid.New()

	if err := b.ForceOpen(ctx, org, dest, "operator override"); err != nil {
		t.Fatalf("ForceOpen: %v", err)
	}
	if !b.IsOpen(ctx, org, dest) {
		t.Fatal("ForceOpen should open the breaker regardless of thresholds")
	}
}

func TestForceCloseZeroesConsecutiveFailures(t *testing.T) {
	repo := newFakeRepo()
	b := New(repo, Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, SuccessThreshold: 2, VolumeThreshold: 1}, nil)
	ctx := context.Background()
	org, dest := uuid.New(), uuid.New()

	_ = b.RecordFailure(ctx, org, dest, "timeout")
	_ = b.RecordFailure(ctx, org, dest, "timeout")

	if err := b.ForceClose(ctx, org, dest); err != nil {
		t.Fatalf("ForceClose: %v", err)
	}

	metrics, err := b.GetMetrics(ctx, org, dest)
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if metrics.ConsecutiveFailures != 0 {
		t.Errorf("ForceClose should zero consecutiveFailures, got %d", metrics.ConsecutiveFailures)
	}
	if metrics.State != StateClosed {
		t.Errorf("ForceClose should set state to closed, got %v", metrics.State)
	}
}
