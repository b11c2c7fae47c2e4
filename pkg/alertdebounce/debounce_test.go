package alertdebounce

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMaintenance struct {
	windows []MaintenanceWindow
}

func (f *fakeMaintenance) ActiveForOrg(_ context.Context, organizationID uuid.UUID, now time.Time) ([]MaintenanceWindow, error) {
	var out []MaintenanceWindow
	for _, w := range f.windows {
		if w.OrganizationID == organizationID && w.Contains(now) {
			out = append(out, w)
		}
	}
	return out, nil
}

func newTestDebouncer(t *testing.T, maintenance MaintenanceRepository) *Debouncer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, maintenance, discardLogger())
}

func TestShouldSendAlertPermitsFirstEverAlert(t *testing.T) {
	d := newTestDebouncer(t, &fakeMaintenance{})
	orgID, destID := uuid.New(), uuid.New()

	ok, err := d.ShouldSendAlert(context.Background(), "consecutive_failures", destID, orgID, Config{})
	if err != nil {
		t.Fatalf("ShouldSendAlert: %v", err)
	}
	if !ok {
		t.Fatal("expected first-ever alert to be permitted")
	}
}

func TestShouldSendAlertDebouncesWithinCooldown(t *testing.T) {
	d := newTestDebouncer(t, &fakeMaintenance{})
	orgID, destID := uuid.New(), uuid.New()
	cfg := Config{WindowMinutes: 10, CooldownMinutes: 30, MaxAlertsPerWindow: 5}

	first, err := d.ShouldSendAlert(context.Background(), "consecutive_failures", destID, orgID, cfg)
	if err != nil || !first {
		t.Fatalf("expected first alert permitted, got ok=%v err=%v", first, err)
	}

	second, err := d.ShouldSendAlert(context.Background(), "consecutive_failures", destID, orgID, cfg)
	if err != nil {
		t.Fatalf("ShouldSendAlert: %v", err)
	}
	if second {
		t.Fatal("expected second alert within cooldown to be suppressed")
	}
}

func TestShouldSendAlertRateLimitsWithinWindow(t *testing.T) {
	d := newTestDebouncer(t, &fakeMaintenance{})
	orgID, destID := uuid.New(), uuid.New()
	cfg := Config{WindowMinutes: 10, CooldownMinutes: 0, MaxAlertsPerWindow: 2}

	// CooldownMinutes 0 falls back to the 30-minute default, so before each
	// follow-up alert lastSentAt is moved past the cooldown; windowStart is
	// left recent, so only the per-window limit decides.
	key := redisKey("consecutive_failures", destID, orgID)
	pastCooldown := func() {
		st, err := d.load(context.Background(), key)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		st.lastSentAt = time.Now().Add(-31 * time.Minute)
		if err := d.save(context.Background(), key, st); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		if i > 0 {
			pastCooldown()
		}
		ok, err := d.ShouldSendAlert(context.Background(), "consecutive_failures", destID, orgID, cfg)
		if err != nil || !ok {
			t.Fatalf("alert %d: expected permitted, got ok=%v err=%v", i, ok, err)
		}
	}

	pastCooldown()
	ok, err := d.ShouldSendAlert(context.Background(), "consecutive_failures", destID, orgID, cfg)
	if err != nil {
		t.Fatalf("ShouldSendAlert: %v", err)
	}
	if ok {
		t.Fatal("expected third alert in window to be rate limited")
	}
}

func TestShouldSendAlertHonorsMaintenanceWindow(t *testing.T) {
	orgID, destID := uuid.New(), uuid.New()
	now := time.Now()
	d := newTestDebouncer(t, &fakeMaintenance{windows: []MaintenanceWindow{
		{
			OrganizationID:     orgID,
			StartTime:          now.Add(-time.Hour),
			EndTime:            now.Add(time.Hour),
			SuppressAlertTypes: []string{"consecutive_failures"},
		},
	}})

	ok, err := d.ShouldSendAlert(context.Background(), "consecutive_failures", destID, orgID, Config{})
	if err != nil {
		t.Fatalf("ShouldSendAlert: %v", err)
	}
	if ok {
		t.Fatal("expected alert suppressed by maintenance window")
	}
}

func TestSuppressAlertsBlocksUntilExpiry(t *testing.T) {
	d := newTestDebouncer(t, &fakeMaintenance{})
	orgID, destID := uuid.New(), uuid.New()

	if err := d.SuppressAlerts(context.Background(), "consecutive_failures", destID, orgID, 30); err != nil {
		t.Fatalf("SuppressAlerts: %v", err)
	}

	ok, err := d.ShouldSendAlert(context.Background(), "consecutive_failures", destID, orgID, Config{})
	if err != nil {
		t.Fatalf("ShouldSendAlert: %v", err)
	}
	if ok {
		t.Fatal("expected alert suppressed manually")
	}
}

func TestResetDebounceStateClearsTuple(t *testing.T) {
	d := newTestDebouncer(t, &fakeMaintenance{})
	orgID, destID := uuid.New(), uuid.New()
	cfg := Config{WindowMinutes: 10, CooldownMinutes: 30, MaxAlertsPerWindow: 1}

	if _, err := d.ShouldSendAlert(context.Background(), "consecutive_failures", destID, orgID, cfg); err != nil {
		t.Fatalf("ShouldSendAlert: %v", err)
	}
	if err := d.ResetDebounceState(context.Background(), "consecutive_failures", destID, orgID); err != nil {
		t.Fatalf("ResetDebounceState: %v", err)
	}

	ok, err := d.ShouldSendAlert(context.Background(), "consecutive_failures", destID, orgID, cfg)
	if err != nil {
		t.Fatalf("ShouldSendAlert: %v", err)
	}
	if !ok {
		t.Fatal("expected alert permitted again after reset")
	}
}

func TestShouldEscalateAlertFollowsFixedSchedule(t *testing.T) {
	d := newTestDebouncer(t, &fakeMaintenance{})
	orgID, destID := uuid.New(), uuid.New()

	if _, err := d.ShouldSendAlert(context.Background(), "consecutive_failures", destID, orgID, Config{}); err != nil {
		t.Fatalf("ShouldSendAlert: %v", err)
	}

	key := redisKey("consecutive_failures", destID, orgID)
	st, err := d.load(context.Background(), key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	st.firstAlertAt = time.Now().Add(-90 * time.Minute)
	if err := d.save(context.Background(), key, st); err != nil {
		t.Fatalf("save: %v", err)
	}

	result, err := d.ShouldEscalateAlert(context.Background(), "consecutive_failures", destID, orgID)
	if err != nil {
		t.Fatalf("ShouldEscalateAlert: %v", err)
	}
	if !result.ShouldEscalate || result.NewSeverity != "medium" {
		t.Fatalf("expected escalation to medium, got %+v", result)
	}

	again, err := d.ShouldEscalateAlert(context.Background(), "consecutive_failures", destID, orgID)
	if err != nil {
		t.Fatalf("ShouldEscalateAlert: %v", err)
	}
	if again.ShouldEscalate {
		t.Fatal("expected no further escalation at the same elapsed time")
	}
}
