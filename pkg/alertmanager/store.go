package alertmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/relay/pkg/dbtx"
)

// Store is a Postgres-backed repository over alerts and alert_configs.
type Store struct {
	db dbtx.DBTX
}

// NewStore creates a Store.
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

const alertColumns = `id, organization_id, destination_id, department_id, team_id, type, severity, title, description, metadata, system_details, status, created_at, acknowledged_by, acknowledged_at, resolved_by, resolved_at, notes`

func scanAlert(row pgx.Row) (Alert, error) {
	var a Alert
	var destID uuid.NullUUID
	err := row.Scan(
		&a.ID, &a.OrganizationID, &destID, &a.DepartmentID, &a.TeamID, &a.Type, &a.Severity,
		&a.Title, &a.Description, &a.Metadata, &a.SystemDetails, &a.Status, &a.CreatedAt,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedBy, &a.ResolvedAt, &a.Notes,
	)
	if err != nil {
		return Alert{}, err
	}
	if destID.Valid {
		a.DestinationID = destID.UUID
	}
	return a, nil
}

// Create inserts a new alert.
func (s *Store) Create(ctx context.Context, a Alert) (Alert, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var destID uuid.NullUUID
	if a.DestinationID != uuid.Nil {
		destID = uuid.NullUUID{UUID: a.DestinationID, Valid: true}
	}

	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING ` + alertColumns

	row := s.db.QueryRow(ctx, query,
		id, a.OrganizationID, destID, a.DepartmentID, a.TeamID, a.Type, a.Severity,
		a.Title, a.Description, a.Metadata, a.SystemDetails, StatusActive, time.Now(),
		a.AcknowledgedBy, a.AcknowledgedAt, a.ResolvedBy, a.ResolvedAt, a.Notes,
	)
	out, err := scanAlert(row)
	if err != nil {
		return Alert{}, fmt.Errorf("creating alert: %w", err)
	}
	return out, nil
}

// Get fetches an alert scoped to its organization.
func (s *Store) Get(ctx context.Context, organizationID, id uuid.UUID) (Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE organization_id = $1 AND id = $2`
	a, err := scanAlert(s.db.QueryRow(ctx, query, organizationID, id))
	if err != nil {
		return Alert{}, fmt.Errorf("getting alert: %w", err)
	}
	return a, nil
}

// List returns alerts matching the given filters.
func (s *Store) List(ctx context.Context, o ListOptions) ([]Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE organization_id = $1`
	args := []any{o.OrganizationID}

	if o.Status != nil {
		args = append(args, *o.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if o.DestinationID != nil {
		args = append(args, *o.DestinationID)
		query += fmt.Sprintf(" AND destination_id = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"
	limit := o.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, o.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateStatus transitions an alert and records the acting operator.
func (s *Store) UpdateStatus(ctx context.Context, organizationID, id uuid.UUID, status Status, actor uuid.UUID, notes string) (Alert, error) {
	now := time.Now()
	var query string
	switch status {
	case StatusAcknowledged:
		query = `UPDATE alerts SET status = $1, acknowledged_by = $2, acknowledged_at = $3 WHERE organization_id = $4 AND id = $5 RETURNING ` + alertColumns
	case StatusResolved:
		query = `UPDATE alerts SET status = $1, resolved_by = $2, resolved_at = $3, notes = $6 WHERE organization_id = $4 AND id = $5 RETURNING ` + alertColumns
	default:
		return Alert{}, fmt.Errorf("unsupported status transition %q", status)
	}

	var row pgx.Row
	if status == StatusResolved {
		row = s.db.QueryRow(ctx, query, status, actor, now, organizationID, id, notes)
	} else {
		row = s.db.QueryRow(ctx, query, status, actor, now, organizationID, id)
	}
	out, err := scanAlert(row)
	if err != nil {
		return Alert{}, fmt.Errorf("updating alert status: %w", err)
	}
	return out, nil
}

const configColumns = `organization_id, failure_rate_threshold, consecutive_failure_threshold, queue_backlog_threshold, response_time_threshold_ms, debounce_window_minutes, escalation_delay_minutes, suppression_windows`

// GetConfig returns organizationID's alert config, or DefaultConfig if none
// has been configured yet.
func (s *Store) GetConfig(ctx context.Context, organizationID uuid.UUID) (Config, error) {
	query := `SELECT ` + configColumns + ` FROM alert_configs WHERE organization_id = $1`
	var cfg Config
	var responseMS int64
	err := s.db.QueryRow(ctx, query, organizationID).Scan(
		&cfg.OrganizationID, &cfg.FailureRateThreshold, &cfg.ConsecutiveFailureThreshold,
		&cfg.QueueBacklogThreshold, &responseMS, &cfg.DebounceWindowMinutes,
		&cfg.EscalationDelayMinutes, &cfg.SuppressionWindows,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return DefaultConfig(organizationID), nil
		}
		return Config{}, fmt.Errorf("getting alert config: %w", err)
	}
	cfg.ResponseTimeThreshold = time.Duration(responseMS) * time.Millisecond
	return cfg, nil
}

// SetConfig upserts organizationID's alert config.
func (s *Store) SetConfig(ctx context.Context, cfg Config) (Config, error) {
	query := `INSERT INTO alert_configs (` + configColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (organization_id) DO UPDATE SET
			failure_rate_threshold = EXCLUDED.failure_rate_threshold,
			consecutive_failure_threshold = EXCLUDED.consecutive_failure_threshold,
			queue_backlog_threshold = EXCLUDED.queue_backlog_threshold,
			response_time_threshold_ms = EXCLUDED.response_time_threshold_ms,
			debounce_window_minutes = EXCLUDED.debounce_window_minutes,
			escalation_delay_minutes = EXCLUDED.escalation_delay_minutes,
			suppression_windows = EXCLUDED.suppression_windows
		RETURNING ` + configColumns

	var out Config
	var responseMS int64
	err := s.db.QueryRow(ctx, query,
		cfg.OrganizationID, cfg.FailureRateThreshold, cfg.ConsecutiveFailureThreshold,
		cfg.QueueBacklogThreshold, cfg.ResponseTimeThreshold.Milliseconds(), cfg.DebounceWindowMinutes,
		cfg.EscalationDelayMinutes, cfg.SuppressionWindows,
	).Scan(
		&out.OrganizationID, &out.FailureRateThreshold, &out.ConsecutiveFailureThreshold,
		&out.QueueBacklogThreshold, &responseMS, &out.DebounceWindowMinutes,
		&out.EscalationDelayMinutes, &out.SuppressionWindows,
	)
	if err != nil {
		return Config{}, fmt.Errorf("setting alert config: %w", err)
	}
	out.ResponseTimeThreshold = time.Duration(responseMS) * time.Millisecond
	return out, nil
}
