package alertmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/relay/internal/observability"
	"github.com/wisbric/relay/pkg/alertaccess"
	"github.com/wisbric/relay/pkg/alertdebounce"
	"github.com/wisbric/relay/pkg/breaker"
	"github.com/wisbric/relay/pkg/queue"
)

// ErrAccessDenied is returned by the *WithAuth operations when the caller
// lacks the permission or tenant/department/team scope for the operation.
var ErrAccessDenied = errors.New("alert access denied")

// ErrNotFound is returned when the referenced alert does not exist within
// the caller's organization.
var ErrNotFound = errors.New("alert not found")

// Repository is the durable store backing alerts.
type Repository interface {
	Create(ctx context.Context, a Alert) (Alert, error)
	Get(ctx context.Context, organizationID, id uuid.UUID) (Alert, error)
	List(ctx context.Context, o ListOptions) ([]Alert, error)
	UpdateStatus(ctx context.Context, organizationID, id uuid.UUID, status Status, actor uuid.UUID, notes string) (Alert, error)
}

// ConfigRepository is the durable store backing per-organization Alert
// Configs.
type ConfigRepository interface {
	GetConfig(ctx context.Context, organizationID uuid.UUID) (Config, error)
	SetConfig(ctx context.Context, cfg Config) (Config, error)
}

// HealthSource is the subset of pkg/breaker the manager reads destination
// health from.
type HealthSource interface {
	GetMetrics(ctx context.Context, organizationID, destinationID uuid.UUID) (breaker.Metrics, error)
}

// QueueHealthSource is the subset of pkg/queue the manager reads queue
// backlog from.
type QueueHealthSource interface {
	OrgStats(ctx context.Context, organizationID uuid.UUID) (queue.OrgStats, error)
}

// Debouncer is the subset of pkg/alertdebounce the manager drives.
type Debouncer interface {
	ShouldSendAlert(ctx context.Context, alertType string, destinationID, organizationID uuid.UUID, cfg alertdebounce.Config) (bool, error)
	ShouldEscalateAlert(ctx context.Context, alertType string, destinationID, organizationID uuid.UUID) (alertdebounce.EscalationResult, error)
	ResetDebounceState(ctx context.Context, alertType string, destinationID, organizationID uuid.UUID) error
	SuppressAlerts(ctx context.Context, alertType string, destinationID, organizationID uuid.UUID, minutes int) error
}

// MaintenanceRepository is the subset of pkg/alertdebounce's maintenance
// store the manager's authenticated operator API drives.
type MaintenanceRepository interface {
	Add(ctx context.Context, w alertdebounce.MaintenanceWindow) (alertdebounce.MaintenanceWindow, error)
}

// Manager is the Alert Manager: threshold evaluation plus the access- and
// debounce-gated operator API described in spec §4.8.
type Manager struct {
	alerts      Repository
	configs     ConfigRepository
	health      HealthSource
	queueHealth QueueHealthSource
	debouncer   Debouncer
	maintenance MaintenanceRepository
	hooks       *observability.Hooks
	logger      *slog.Logger
}

// New creates a Manager.
func New(alerts Repository, configs ConfigRepository, health HealthSource, queueHealth QueueHealthSource, debouncer Debouncer, maintenance MaintenanceRepository, hooks *observability.Hooks, logger *slog.Logger) *Manager {
	return &Manager{alerts: alerts, configs: configs, health: health, queueHealth: queueHealth, debouncer: debouncer, maintenance: maintenance, hooks: hooks, logger: logger}
}

func (m *Manager) debounceConfig(cfg Config) alertdebounce.Config {
	return alertdebounce.Config{WindowMinutes: cfg.DebounceWindowMinutes, CooldownMinutes: cfg.DebounceWindowMinutes * 3, MaxAlertsPerWindow: 2}
}

// CheckFailureThresholds evaluates the consecutive-failure and failure-rate
// conditions for one destination against its organization's Alert Config.
func (m *Manager) CheckFailureThresholds(ctx context.Context, organizationID, destinationID uuid.UUID) error {
	cfg, err := m.configs.GetConfig(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("loading alert config: %w", err)
	}

	health, err := m.health.GetMetrics(ctx, organizationID, destinationID)
	if err != nil {
		return fmt.Errorf("loading destination health: %w", err)
	}

	if health.ConsecutiveFailures >= cfg.ConsecutiveFailureThreshold {
		sev := severityForConsecutiveFailures(health.ConsecutiveFailures, cfg.ConsecutiveFailureThreshold)
		metadata, _ := json.Marshal(map[string]any{"consecutiveFailures": health.ConsecutiveFailures, "threshold": cfg.ConsecutiveFailureThreshold})
		if _, err := m.maybeEmit(ctx, TypeConsecutiveFailures, organizationID, destinationID, sev, cfg,
			"repeated delivery failures", fmt.Sprintf("destination has failed %d consecutive deliveries", health.ConsecutiveFailures), metadata); err != nil {
			return err
		}
	}

	if health.TotalDeliveries > 0 {
		ratePct := health.FailureRate * 100
		if ratePct >= cfg.FailureRateThreshold {
			metadata, _ := json.Marshal(map[string]any{"failureRatePct": ratePct, "threshold": cfg.FailureRateThreshold, "totalDeliveries": health.TotalDeliveries})
			if _, err := m.maybeEmit(ctx, TypeFailureRate, organizationID, destinationID, SeverityHigh, cfg,
				"elevated failure rate", fmt.Sprintf("destination failure rate is %.1f%%", ratePct), metadata); err != nil {
				return err
			}
		}
	}

	return nil
}

// CheckQueueBacklog evaluates the system-wide (destinationId-less) queue
// backlog condition for one organization.
func (m *Manager) CheckQueueBacklog(ctx context.Context, organizationID uuid.UUID) error {
	cfg, err := m.configs.GetConfig(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("loading alert config: %w", err)
	}

	stats, err := m.queueHealth.OrgStats(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("loading queue stats: %w", err)
	}

	if stats.QueueDepth >= cfg.QueueBacklogThreshold {
		metadata, _ := json.Marshal(map[string]any{"queueDepth": stats.QueueDepth, "threshold": cfg.QueueBacklogThreshold})
		_, err := m.maybeEmit(ctx, TypeQueueBacklog, organizationID, uuid.Nil, SeverityHigh, cfg,
			"queue backlog growing", fmt.Sprintf("organization queue depth is %d", stats.QueueDepth), metadata)
		return err
	}
	return nil
}

// CheckResponseTime evaluates the response-time condition for one
// destination. Measurement is supplied by the caller since response-time
// sampling lives outside the core (spec §1's "out of scope" adapters).
func (m *Manager) CheckResponseTime(ctx context.Context, organizationID, destinationID uuid.UUID, observed time.Duration) error {
	cfg, err := m.configs.GetConfig(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("loading alert config: %w", err)
	}
	if cfg.ResponseTimeThreshold <= 0 || observed < cfg.ResponseTimeThreshold {
		return nil
	}
	metadata, _ := json.Marshal(map[string]any{"observedMs": observed.Milliseconds(), "thresholdMs": cfg.ResponseTimeThreshold.Milliseconds()})
	_, err = m.maybeEmit(ctx, TypeResponseTime, organizationID, destinationID, SeverityMedium, cfg,
		"slow destination response", fmt.Sprintf("observed response time %s exceeds threshold", observed), metadata)
	return err
}

// maybeEmit implements spec §4.8's maybeEmit: debounce gate, create, then
// an optional escalated second alert.
func (m *Manager) maybeEmit(ctx context.Context, alertType Type, organizationID, destinationID uuid.UUID, severity Severity, cfg Config, title, description string, metadata json.RawMessage) (*Alert, error) {
	permit, err := m.debouncer.ShouldSendAlert(ctx, string(alertType), destinationID, organizationID, m.debounceConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("checking alert debounce: %w", err)
	}
	if !permit {
		return nil, nil
	}

	created, err := m.alerts.Create(ctx, Alert{
		OrganizationID: organizationID, DestinationID: destinationID,
		Type: alertType, Severity: severity, Title: title, Description: description, Metadata: metadata,
		Status: StatusActive,
	})
	if err != nil {
		return nil, fmt.Errorf("creating alert: %w", err)
	}
	if m.hooks != nil {
		m.hooks.OnAlert(observability.AlertRaised{AlertID: created.ID, OrganizationID: organizationID, DestinationID: destinationID, Type: string(alertType), Severity: string(severity)})
	}

	escalation, err := m.debouncer.ShouldEscalateAlert(ctx, string(alertType), destinationID, organizationID)
	if err != nil {
		return &created, fmt.Errorf("checking alert escalation: %w", err)
	}
	if escalation.ShouldEscalate {
		escMetadata, _ := json.Marshal(map[string]any{"originalAlertId": created.ID, "channels": escalation.Channels})
		escalated, err := m.alerts.Create(ctx, Alert{
			OrganizationID: organizationID, DestinationID: destinationID,
			Type: alertType, Severity: Severity(escalation.NewSeverity),
			Title: "[ESCALATED] " + title, Description: description, Metadata: escMetadata,
			Status: StatusActive,
		})
		if err != nil {
			return &created, fmt.Errorf("creating escalated alert: %w", err)
		}
		if m.hooks != nil {
			m.hooks.OnAlert(observability.AlertRaised{AlertID: escalated.ID, OrganizationID: organizationID, DestinationID: destinationID, Type: string(alertType), Severity: escalation.NewSeverity})
		}
	}

	return &created, nil
}

func severityForConsecutiveFailures(count, threshold int) Severity {
	switch {
	case count >= threshold*3:
		return SeverityCritical
	case count >= threshold*2:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func (a Alert) toView() alertaccess.AlertView {
	return alertaccess.AlertView{ID: a.ID, OrganizationID: a.OrganizationID, DestinationID: a.DestinationID, DepartmentID: a.DepartmentID, TeamID: a.TeamID}
}

func (a Alert) toSanitizable() alertaccess.Sanitizable {
	return alertaccess.Sanitizable{
		AlertView: a.toView(), Type: string(a.Type), Severity: string(a.Severity), Title: a.Title,
		Description: a.Description, Status: string(a.Status), Metadata: a.Metadata, SystemDetails: a.SystemDetails,
		CreatedAt: a.CreatedAt,
	}
}

// GetAlertsForUser lists organization alerts visible to ctx and sanitizes
// each for the caller's role.
func (m *Manager) GetAlertsForUser(ctx context.Context, userCtx alertaccess.UserContext, o ListOptions) ([]alertaccess.SanitizedAlert, error) {
	o.OrganizationID = userCtx.OrganizationID
	alerts, err := m.alerts.List(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}

	out := make([]alertaccess.SanitizedAlert, 0, len(alerts))
	for _, a := range alerts {
		if !alertaccess.CanAccessAlert(userCtx, a.toView()) {
			continue
		}
		if sanitized := alertaccess.SanitizeAlertForUser(userCtx, a.toSanitizable()); sanitized != nil {
			out = append(out, *sanitized)
		}
	}
	return out, nil
}

func (m *Manager) loadForOperation(ctx context.Context, userCtx alertaccess.UserContext, op alertaccess.Operation, id uuid.UUID) (Alert, error) {
	a, err := m.alerts.Get(ctx, userCtx.OrganizationID, id)
	if err != nil {
		return Alert{}, ErrNotFound
	}
	view := a.toView()
	if d := alertaccess.ValidateAlertOperation(userCtx, op, &view); !d.Allowed {
		return Alert{}, fmt.Errorf("%w: %s", ErrAccessDenied, d.Reason)
	}
	return a, nil
}

// AcknowledgeAlert sets an alert to acknowledged, recording the actor.
func (m *Manager) AcknowledgeAlert(ctx context.Context, userCtx alertaccess.UserContext, id uuid.UUID) (Alert, error) {
	if _, err := m.loadForOperation(ctx, userCtx, alertaccess.OpAcknowledge, id); err != nil {
		return Alert{}, err
	}
	updated, err := m.alerts.UpdateStatus(ctx, userCtx.OrganizationID, id, StatusAcknowledged, userCtx.UserID, "")
	if err != nil {
		return Alert{}, fmt.Errorf("acknowledging alert: %w", err)
	}
	return updated, nil
}

// ResolveAlert sets an alert to resolved and resets the debounce tuple for
// its (type, destination, organization) so future occurrences alert fresh.
func (m *Manager) ResolveAlert(ctx context.Context, userCtx alertaccess.UserContext, id uuid.UUID, notes string) (Alert, error) {
	existing, err := m.loadForOperation(ctx, userCtx, alertaccess.OpResolve, id)
	if err != nil {
		return Alert{}, err
	}
	updated, err := m.alerts.UpdateStatus(ctx, userCtx.OrganizationID, id, StatusResolved, userCtx.UserID, notes)
	if err != nil {
		return Alert{}, fmt.Errorf("resolving alert: %w", err)
	}
	if err := m.debouncer.ResetDebounceState(ctx, string(existing.Type), existing.DestinationID, existing.OrganizationID); err != nil {
		m.logger.Warn("resetting debounce state after resolve", "alert_id", id, "error", err)
	}
	return updated, nil
}

// ConfigureAlertThresholds sets organizationID's Alert Config.
func (m *Manager) ConfigureAlertThresholds(ctx context.Context, userCtx alertaccess.UserContext, cfg Config) (Config, error) {
	if d := alertaccess.ValidateAlertOperation(userCtx, alertaccess.OpConfigureThresholds, nil); !d.Allowed {
		return Config{}, fmt.Errorf("%w: %s", ErrAccessDenied, d.Reason)
	}
	if err := alertaccess.PreventCrossOrganizationAccess(userCtx, cfg.OrganizationID); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrAccessDenied, err.Error())
	}
	out, err := m.configs.SetConfig(ctx, cfg)
	if err != nil {
		return Config{}, fmt.Errorf("configuring alert thresholds: %w", err)
	}
	return out, nil
}

// AddMaintenanceWindowWithAuth adds a maintenance window after checking the
// caller may manage maintenance windows for its organization.
func (m *Manager) AddMaintenanceWindowWithAuth(ctx context.Context, userCtx alertaccess.UserContext, w alertdebounce.MaintenanceWindow) (alertdebounce.MaintenanceWindow, error) {
	if d := alertaccess.ValidateAlertOperation(userCtx, alertaccess.OpManageMaintenance, nil); !d.Allowed {
		return alertdebounce.MaintenanceWindow{}, fmt.Errorf("%w: %s", ErrAccessDenied, d.Reason)
	}
	if err := alertaccess.PreventCrossOrganizationAccess(userCtx, w.OrganizationID); err != nil {
		return alertdebounce.MaintenanceWindow{}, fmt.Errorf("%w: %s", ErrAccessDenied, err.Error())
	}
	out, err := m.maintenance.Add(ctx, w)
	if err != nil {
		return alertdebounce.MaintenanceWindow{}, fmt.Errorf("adding maintenance window: %w", err)
	}
	return out, nil
}

// SuppressAlertsWithAuth manually suppresses an alert tuple after checking
// the caller has suppress_alerts permission.
func (m *Manager) SuppressAlertsWithAuth(ctx context.Context, userCtx alertaccess.UserContext, alertType string, destinationID uuid.UUID, minutes int) error {
	if d := alertaccess.ValidateAlertOperation(userCtx, alertaccess.OpSuppress, nil); !d.Allowed {
		return fmt.Errorf("%w: %s", ErrAccessDenied, d.Reason)
	}
	if err := m.debouncer.SuppressAlerts(ctx, alertType, destinationID, userCtx.OrganizationID, minutes); err != nil {
		return fmt.Errorf("suppressing alerts: %w", err)
	}
	return nil
}
