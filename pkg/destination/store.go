package destination

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/relay/pkg/dbtx"
)

// Store provides database operations for destinations.
type Store struct {
	db dbtx.DBTX
}

// NewStore creates a destination Store backed by the given database handle.
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

const destinationColumns = `id, organization_id, type, label, description, config, "default", disabled, disabled_at, disabled_by, count_usage, last_used_at, created_at, updated_at`

func scanDestination(row pgx.Row) (Destination, error) {
	var d Destination
	err := row.Scan(
		&d.ID, &d.OrganizationID, &d.Type, &d.Label, &d.Description, &d.Config, &d.Default,
		&d.Disabled, &d.DisabledAt, &d.DisabledBy, &d.CountUsage, &d.LastUsedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

// Create inserts a new destination.
func (s *Store) Create(ctx context.Context, in CreateInput) (Destination, error) {
	query := `INSERT INTO destinations (organization_id, type, label, description, config, "default")
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + destinationColumns

	row := s.db.QueryRow(ctx, query, in.OrganizationID, in.Type, in.Label, in.Description, in.Config, in.Default)
	d, err := scanDestination(row)
	if err != nil {
		return Destination{}, fmt.Errorf("creating destination: %w", err)
	}
	return d, nil
}

// Get fetches a destination by id, scoped to organizationId.
func (s *Store) Get(ctx context.Context, organizationID, id uuid.UUID) (Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM destinations WHERE id = $1 AND organization_id = $2`
	row := s.db.QueryRow(ctx, query, id, organizationID)
	d, err := scanDestination(row)
	if err != nil {
		return Destination{}, fmt.Errorf("getting destination: %w", err)
	}
	return d, nil
}

// List returns destinations matching the given filters. OrganizationID is always applied.
func (s *Store) List(ctx context.Context, f ListFilters) ([]Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM destinations WHERE organization_id = $1`
	args := []any{f.OrganizationID}

	if f.Type != nil {
		args = append(args, *f.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.Disabled != nil {
		args = append(args, *f.Disabled)
		query += fmt.Sprintf(" AND disabled = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing destinations: %w", err)
	}
	defer rows.Close()

	var out []Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning destination: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDefaults returns the destinations marked default for a tenant.
func (s *Store) GetDefaults(ctx context.Context, organizationID uuid.UUID) ([]Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM destinations WHERE organization_id = $1 AND "default" = true AND disabled = false ORDER BY created_at ASC`
	rows, err := s.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("getting default destinations: %w", err)
	}
	defer rows.Close()

	var out []Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning destination: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Update applies a patch to a destination's mutable fields.
func (s *Store) Update(ctx context.Context, organizationID, id uuid.UUID, patch UpdatePatch) (Destination, error) {
	existing, err := s.Get(ctx, organizationID, id)
	if err != nil {
		return Destination{}, err
	}

	if patch.Label != nil {
		existing.Label = *patch.Label
	}
	if patch.Description != nil {
		existing.Description = patch.Description
	}
	if patch.Config != nil {
		existing.Config = patch.Config
	}
	if patch.Default != nil {
		existing.Default = *patch.Default
	}

	query := `UPDATE destinations SET label = $1, description = $2, config = $3, "default" = $4, updated_at = now()
		WHERE id = $5 AND organization_id = $6
		RETURNING ` + destinationColumns

	row := s.db.QueryRow(ctx, query, existing.Label, existing.Description, existing.Config, existing.Default, id, organizationID)
	d, err := scanDestination(row)
	if err != nil {
		return Destination{}, fmt.Errorf("updating destination: %w", err)
	}
	return d, nil
}

// SetDisabled soft-deletes or restores a destination.
func (s *Store) SetDisabled(ctx context.Context, organizationID, id uuid.UUID, disabled bool, by string) (Destination, error) {
	var query string
	var row pgx.Row
	if disabled {
		query = `UPDATE destinations SET disabled = true, disabled_at = now(), disabled_by = $1, updated_at = now()
			WHERE id = $2 AND organization_id = $3
			RETURNING ` + destinationColumns
		row = s.db.QueryRow(ctx, query, by, id, organizationID)
	} else {
		query = `UPDATE destinations SET disabled = false, disabled_at = NULL, disabled_by = NULL, updated_at = now()
			WHERE id = $1 AND organization_id = $2
			RETURNING ` + destinationColumns
		row = s.db.QueryRow(ctx, query, id, organizationID)
	}

	d, err := scanDestination(row)
	if err != nil {
		return Destination{}, fmt.Errorf("setting destination disabled state: %w", err)
	}
	return d, nil
}

// Delete permanently removes a destination.
func (s *Store) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM destinations WHERE id = $1 AND organization_id = $2`, id, organizationID)
	if err != nil {
		return fmt.Errorf("deleting destination: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("destination not found")
	}
	return nil
}

// IncrementUsage bumps countUsage and lastUsedAt for a destination.
func (s *Store) IncrementUsage(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE destinations SET count_usage = count_usage + 1, last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("incrementing destination usage: %w", err)
	}
	return nil
}
