package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/relay/pkg/dbtx"
)

// Store is a Postgres-backed Repository over the destination_health table.
type Store struct {
	db dbtx.DBTX
}

// NewStore creates a breaker Store.
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

type healthMetadata struct {
	HalfOpenSuccesses int    `json:"halfOpenSuccesses"`
	OpenReason        string `json:"openReason"`
}

const healthColumns = `destination_id, organization_id, circuit_breaker_state, consecutive_failures, total_deliveries, total_failures, last_success_at, last_failure_at, circuit_breaker_opened_at, metadata, last_check_at`

func scanHealth(row pgx.Row) (Health, error) {
	var h Health
	var meta []byte
	err := row.Scan(
		&h.DestinationID, &h.OrganizationID, &h.State, &h.ConsecutiveFailures, &h.TotalDeliveries, &h.TotalFailures,
		&h.LastSuccessAt, &h.LastFailureAt, &h.OpenedAt, &meta, &h.LastCheckAt,
	)
	if err != nil {
		return Health{}, err
	}
	var m healthMetadata
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &m)
	}
	h.HalfOpenSuccesses = m.HalfOpenSuccesses
	h.OpenReason = m.OpenReason
	return h, nil
}

// GetOrCreate fetches the health row for a destination, creating a
// closed-state row on first use.
func (s *Store) GetOrCreate(ctx context.Context, organizationID, destinationID uuid.UUID) (Health, error) {
	query := `SELECT ` + healthColumns + ` FROM destination_health WHERE destination_id = $1`
	row := s.db.QueryRow(ctx, query, destinationID)
	h, err := scanHealth(row)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Health{}, fmt.Errorf("reading destination health: %w", err)
	}

	now := time.Now()
	insert := `INSERT INTO destination_health (destination_id, organization_id, circuit_breaker_state, last_check_at, metadata)
		VALUES ($1, $2, $3, $4, '{}'::jsonb)
		ON CONFLICT (destination_id) DO UPDATE SET last_check_at = destination_health.last_check_at
		RETURNING ` + healthColumns

	row = s.db.QueryRow(ctx, insert, destinationID, organizationID, StateClosed, now)
	h, err = scanHealth(row)
	if err != nil {
		return Health{}, fmt.Errorf("creating destination health: %w", err)
	}
	return h, nil
}

// Save persists the full health row.
func (s *Store) Save(ctx context.Context, h Health) error {
	meta, err := json.Marshal(healthMetadata{HalfOpenSuccesses: h.HalfOpenSuccesses, OpenReason: h.OpenReason})
	if err != nil {
		return fmt.Errorf("marshaling health metadata: %w", err)
	}

	query := `UPDATE destination_health SET
		circuit_breaker_state = $1, consecutive_failures = $2, total_deliveries = $3, total_failures = $4,
		last_success_at = $5, last_failure_at = $6, circuit_breaker_opened_at = $7, metadata = $8, last_check_at = $9
		WHERE destination_id = $10`

	_, err = s.db.Exec(ctx, query,
		h.State, h.ConsecutiveFailures, h.TotalDeliveries, h.TotalFailures,
		h.LastSuccessAt, h.LastFailureAt, h.OpenedAt, meta, h.LastCheckAt, h.DestinationID,
	)
	if err != nil {
		return fmt.Errorf("saving destination health: %w", err)
	}
	return nil
}

// ListAll returns every destination health row for an organization.
func (s *Store) ListAll(ctx context.Context, organizationID uuid.UUID) ([]Health, error) {
	query := `SELECT ` + healthColumns + ` FROM destination_health WHERE organization_id = $1`
	rows, err := s.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("listing destination health: %w", err)
	}
	defer rows.Close()

	var out []Health
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning destination health: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
