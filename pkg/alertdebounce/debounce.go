// Package alertdebounce implements the Alert Debouncer: cooldown,
// rate-limit-per-window, maintenance-window suppression, manual suppression,
// and escalation-delay state keyed by (alertType, destinationId,
// organizationId). State is small, short-lived, and read on every alert
// evaluation, so it lives in Redis rather than Postgres, the same choice the
// teacher makes for alert.Deduplicator's fingerprint cache.
package alertdebounce

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "relay:alert:debounce:"
	stateTTL       = 30 * 24 * time.Hour
	noDestination  = "-"
)

// Config governs one alert type's debounce behavior. Values of zero fall
// back to DefaultConfig.
type Config struct {
	WindowMinutes      int
	CooldownMinutes    int
	MaxAlertsPerWindow int
}

// DefaultConfig returns the spec's example defaults for consecutive_failures,
// used whenever an organization has not configured its own AlertConfig.
func DefaultConfig() Config {
	return Config{WindowMinutes: 10, CooldownMinutes: 30, MaxAlertsPerWindow: 2}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowMinutes <= 0 {
		c.WindowMinutes = d.WindowMinutes
	}
	if c.CooldownMinutes <= 0 {
		c.CooldownMinutes = d.CooldownMinutes
	}
	if c.MaxAlertsPerWindow <= 0 {
		c.MaxAlertsPerWindow = d.MaxAlertsPerWindow
	}
	return c
}

// escalationStep is one entry of the fixed escalation schedule (spec §4.7).
type escalationStep struct {
	afterMinutes float64
	level        int
	severity     string
	channels     []string
}

var escalationSchedule = []escalationStep{
	{afterMinutes: 60, level: 1, severity: "medium", channels: []string{"email"}},
	{afterMinutes: 240, level: 2, severity: "high", channels: []string{"pagerduty"}},
	{afterMinutes: 1440, level: 3, severity: "critical", channels: []string{"pagerduty", "sms"}},
}

// EscalationResult is the outcome of ShouldEscalateAlert.
type EscalationResult struct {
	ShouldEscalate bool
	NewSeverity    string
	Channels       []string
}

// MaintenanceRepository is the subset of the maintenance-window store the
// debouncer needs to implement step 1 of ShouldSendAlert.
type MaintenanceRepository interface {
	ActiveForOrg(ctx context.Context, organizationID uuid.UUID, now time.Time) ([]MaintenanceWindow, error)
}

// state is the debounce tuple persisted in a single Redis hash.
type state struct {
	lastSentAt      time.Time
	windowStart     time.Time
	firstAlertAt    time.Time
	alertsInWindow  int
	escalationLevel int
	suppressedUntil time.Time
}

func (s state) isZero() bool {
	return s.firstAlertAt.IsZero()
}

// Debouncer implements the Alert Debouncer described in spec §4.7.
type Debouncer struct {
	rdb         *redis.Client
	maintenance MaintenanceRepository
	logger      *slog.Logger
}

// New creates a Debouncer backed by rdb and the given maintenance window
// repository.
func New(rdb *redis.Client, maintenance MaintenanceRepository, logger *slog.Logger) *Debouncer {
	return &Debouncer{rdb: rdb, maintenance: maintenance, logger: logger}
}

func redisKey(alertType string, destinationID, organizationID uuid.UUID) string {
	dest := noDestination
	if destinationID != uuid.Nil {
		dest = destinationID.String()
	}
	return redisKeyPrefix + organizationID.String() + ":" + dest + ":" + alertType
}

// ShouldSendAlert applies the 7-step debounce algorithm and, when it
// permits the alert, advances the stored state.
func (d *Debouncer) ShouldSendAlert(ctx context.Context, alertType string, destinationID, organizationID uuid.UUID, cfg Config) (bool, error) {
	cfg = cfg.withDefaults()
	now := time.Now()

	if d.maintenance != nil {
		windows, err := d.maintenance.ActiveForOrg(ctx, organizationID, now)
		if err != nil {
			return false, fmt.Errorf("checking maintenance windows: %w", err)
		}
		for _, w := range windows {
			if w.DestinationID != nil && *w.DestinationID != destinationID {
				continue
			}
			if containsType(w.SuppressAlertTypes, alertType) {
				return false, nil
			}
		}
	}

	key := redisKey(alertType, destinationID, organizationID)
	st, err := d.load(ctx, key)
	if err != nil {
		return false, err
	}

	if !st.suppressedUntil.IsZero() && st.suppressedUntil.After(now) {
		return false, nil
	}

	if st.isZero() {
		st = state{lastSentAt: now, windowStart: now, firstAlertAt: now, alertsInWindow: 1}
		return true, d.save(ctx, key, st)
	}

	if now.Sub(st.lastSentAt) < time.Duration(cfg.CooldownMinutes)*time.Minute {
		return false, nil
	}

	if now.Sub(st.windowStart) > time.Duration(cfg.WindowMinutes)*time.Minute {
		st.windowStart = now
		st.alertsInWindow = 0
	}

	if st.alertsInWindow+1 > cfg.MaxAlertsPerWindow {
		return false, nil
	}

	st.alertsInWindow++
	st.lastSentAt = now
	return true, d.save(ctx, key, st)
}

// ShouldEscalateAlert reports whether the alert at (type, destId, orgId) has
// crossed the next unreached step of the fixed escalation schedule.
func (d *Debouncer) ShouldEscalateAlert(ctx context.Context, alertType string, destinationID, organizationID uuid.UUID) (EscalationResult, error) {
	key := redisKey(alertType, destinationID, organizationID)
	st, err := d.load(ctx, key)
	if err != nil {
		return EscalationResult{}, err
	}
	if st.isZero() {
		return EscalationResult{}, nil
	}

	elapsed := time.Since(st.firstAlertAt).Minutes()
	for i := len(escalationSchedule) - 1; i >= 0; i-- {
		step := escalationSchedule[i]
		if elapsed >= step.afterMinutes && st.escalationLevel < step.level {
			st.escalationLevel = step.level
			if err := d.save(ctx, key, st); err != nil {
				return EscalationResult{}, err
			}
			return EscalationResult{ShouldEscalate: true, NewSeverity: step.severity, Channels: step.channels}, nil
		}
	}
	return EscalationResult{}, nil
}

// SuppressAlerts manually suppresses alerts for the tuple until now+minutes.
func (d *Debouncer) SuppressAlerts(ctx context.Context, alertType string, destinationID, organizationID uuid.UUID, minutes int) error {
	key := redisKey(alertType, destinationID, organizationID)
	st, err := d.load(ctx, key)
	if err != nil {
		return err
	}
	st.suppressedUntil = time.Now().Add(time.Duration(minutes) * time.Minute)
	return d.save(ctx, key, st)
}

// ResetDebounceState clears the tuple, called on alert resolution.
func (d *Debouncer) ResetDebounceState(ctx context.Context, alertType string, destinationID, organizationID uuid.UUID) error {
	key := redisKey(alertType, destinationID, organizationID)
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("resetting debounce state: %w", err)
	}
	return nil
}

func (d *Debouncer) load(ctx context.Context, key string) (state, error) {
	vals, err := d.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return state{}, fmt.Errorf("loading debounce state: %w", err)
	}
	if len(vals) == 0 {
		return state{}, nil
	}
	return state{
		lastSentAt:      parseUnix(vals["last_sent_at"]),
		windowStart:     parseUnix(vals["window_start"]),
		firstAlertAt:    parseUnix(vals["first_alert_at"]),
		alertsInWindow:  parseInt(vals["alerts_in_window"]),
		escalationLevel: parseInt(vals["escalation_level"]),
		suppressedUntil: parseUnix(vals["suppressed_until"]),
	}, nil
}

func (d *Debouncer) save(ctx context.Context, key string, st state) error {
	fields := map[string]any{
		"last_sent_at":      formatUnix(st.lastSentAt),
		"window_start":      formatUnix(st.windowStart),
		"first_alert_at":    formatUnix(st.firstAlertAt),
		"alerts_in_window":  st.alertsInWindow,
		"escalation_level":  st.escalationLevel,
		"suppressed_until":  formatUnix(st.suppressedUntil),
	}
	pipe := d.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving debounce state: %w", err)
	}
	return nil
}

func parseUnix(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func formatUnix(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func containsType(types []string, t string) bool {
	for _, x := range types {
		if strings.EqualFold(x, t) {
			return true
		}
	}
	return false
}
