package alertdebounce

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/relay/pkg/dbtx"
)

// MaintenanceWindow suppresses a set of alert types for an organization (or
// one destination within it) over a time range.
type MaintenanceWindow struct {
	ID                 uuid.UUID
	OrganizationID     uuid.UUID
	DestinationID      *uuid.UUID
	StartTime          time.Time
	EndTime            time.Time
	Timezone           string
	Reason             string
	SuppressAlertTypes []string
	CreatedBy          string
	CreatedAt          time.Time
}

// Contains reports whether t falls within the window.
func (w MaintenanceWindow) Contains(t time.Time) bool {
	return !t.Before(w.StartTime) && !t.After(w.EndTime)
}

// MaintenanceStore is a Postgres-backed repository over maintenance_windows.
// It satisfies MaintenanceRepository for Debouncer.
type MaintenanceStore struct {
	db dbtx.DBTX
}

// NewMaintenanceStore creates a MaintenanceStore.
func NewMaintenanceStore(db dbtx.DBTX) *MaintenanceStore {
	return &MaintenanceStore{db: db}
}

const maintenanceColumns = `id, organization_id, destination_id, start_time, end_time, timezone, reason, suppress_alert_types, created_by, created_at`

func scanMaintenanceWindow(row pgx.Row) (MaintenanceWindow, error) {
	var w MaintenanceWindow
	if err := row.Scan(&w.ID, &w.OrganizationID, &w.DestinationID, &w.StartTime, &w.EndTime, &w.Timezone, &w.Reason, &w.SuppressAlertTypes, &w.CreatedBy, &w.CreatedAt); err != nil {
		return MaintenanceWindow{}, err
	}
	return w, nil
}

// Add inserts a new maintenance window.
func (s *MaintenanceStore) Add(ctx context.Context, w MaintenanceWindow) (MaintenanceWindow, error) {
	query := `INSERT INTO maintenance_windows (` + maintenanceColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING ` + maintenanceColumns

	id := w.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row := s.db.QueryRow(ctx, query, id, w.OrganizationID, w.DestinationID, w.StartTime, w.EndTime, w.Timezone, w.Reason, w.SuppressAlertTypes, w.CreatedBy, time.Now())
	out, err := scanMaintenanceWindow(row)
	if err != nil {
		return MaintenanceWindow{}, fmt.Errorf("creating maintenance window: %w", err)
	}
	return out, nil
}

// ActiveForOrg returns every maintenance window for organizationID whose
// [startTime, endTime] range contains now.
func (s *MaintenanceStore) ActiveForOrg(ctx context.Context, organizationID uuid.UUID, now time.Time) ([]MaintenanceWindow, error) {
	query := `SELECT ` + maintenanceColumns + ` FROM maintenance_windows
		WHERE organization_id = $1 AND start_time <= $2 AND end_time >= $2`

	rows, err := s.db.Query(ctx, query, organizationID, now)
	if err != nil {
		return nil, fmt.Errorf("listing active maintenance windows: %w", err)
	}
	defer rows.Close()

	var out []MaintenanceWindow
	for rows.Next() {
		w, err := scanMaintenanceWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning maintenance window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Cleanup drops maintenance windows that ended before now, keeping the
// table bounded. Nothing in this module calls it on a schedule; the queue's
// PerformCleanup does not invoke it.
func (s *MaintenanceStore) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM maintenance_windows WHERE end_time < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("cleaning up maintenance windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
