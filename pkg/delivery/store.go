package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/relay/pkg/dbtx"
	"github.com/wisbric/relay/pkg/queue"
)

// Store is a Postgres-backed repository over delivery_logs. It also
// implements queue.DeliveryUpdater, letting the queue scheduler push
// authoritative per-destination substate without pkg/queue importing this
// package (Design Note §9's repository-boundary pattern applied to the
// queue/delivery seam).
type Store struct {
	db dbtx.DBTX
}

// NewStore creates a delivery Store.
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

const logColumns = `delivery_id, organization_id, payload_type, payload_data, payload_metadata, status, destinations, correlation_id, idempotency_key, created_at, updated_at`

func scanLog(row pgx.Row) (Log, error) {
	var l Log
	var raw []byte
	err := row.Scan(
		&l.DeliveryID, &l.OrganizationID, &l.PayloadType, &l.PayloadData, &l.PayloadMeta,
		&l.Status, &raw, &l.CorrelationID, &l.IdempotencyKey, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return Log{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &l.Destinations); err != nil {
			return Log{}, fmt.Errorf("decoding destination substates: %w", err)
		}
	}
	return l, nil
}

// Create inserts a new delivery log.
func (s *Store) Create(ctx context.Context, l Log) (Log, error) {
	destJSON, err := json.Marshal(l.Destinations)
	if err != nil {
		return Log{}, fmt.Errorf("encoding destination substates: %w", err)
	}

	now := time.Now()
	query := `INSERT INTO delivery_logs
		(delivery_id, organization_id, payload_type, payload_data, payload_metadata, status, destinations, correlation_id, idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		RETURNING ` + logColumns

	row := s.db.QueryRow(ctx, query, l.DeliveryID, l.OrganizationID, l.PayloadType, l.PayloadData, l.PayloadMeta, l.Status, destJSON, l.CorrelationID, l.IdempotencyKey, now)
	out, err := scanLog(row)
	if err != nil {
		return Log{}, fmt.Errorf("creating delivery log: %w", err)
	}
	return out, nil
}

// Get fetches a delivery log scoped to an organization.
func (s *Store) Get(ctx context.Context, organizationID uuid.UUID, deliveryID string) (Log, error) {
	query := `SELECT ` + logColumns + ` FROM delivery_logs WHERE organization_id = $1 AND delivery_id = $2`
	l, err := scanLog(s.db.QueryRow(ctx, query, organizationID, deliveryID))
	if err != nil {
		return Log{}, fmt.Errorf("getting delivery log: %w", err)
	}
	return l, nil
}

// List returns delivery logs matching the given filters.
func (s *Store) List(ctx context.Context, o ListOptions) ([]Log, error) {
	query := `SELECT ` + logColumns + ` FROM delivery_logs WHERE organization_id = $1`
	args := []any{o.OrganizationID}

	if o.Status != nil {
		args = append(args, *o.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if o.Since != nil {
		args = append(args, *o.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if o.Until != nil {
		args = append(args, *o.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
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
		return nil, fmt.Errorf("listing delivery logs: %w", err)
	}
	defer rows.Close()

	var out []Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateStatus overwrites a delivery log's status and destination substates.
func (s *Store) UpdateStatus(ctx context.Context, organizationID uuid.UUID, deliveryID string, status Status, destinations []DestinationSubstate) error {
	destJSON, err := json.Marshal(destinations)
	if err != nil {
		return fmt.Errorf("encoding destination substates: %w", err)
	}
	_, err = s.db.Exec(ctx, `UPDATE delivery_logs SET status = $1, destinations = $2, updated_at = $3 WHERE organization_id = $4 AND delivery_id = $5`,
		status, destJSON, time.Now(), organizationID, deliveryID)
	if err != nil {
		return fmt.Errorf("updating delivery log status: %w", err)
	}
	return nil
}

// UpdateDestinationState implements queue.DeliveryUpdater: it applies one
// destination's new substate and recomputes the aggregate status. The
// delivery log is looked up by deliveryId alone, since that id is globally
// unique and the scheduler does not carry the owning organization id.
func (s *Store) UpdateDestinationState(ctx context.Context, deliveryID string, destinationID uuid.UUID, update queue.DestinationUpdate) error {
	var orgID uuid.UUID
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT organization_id, destinations FROM delivery_logs WHERE delivery_id = $1`, deliveryID).Scan(&orgID, &raw)
	if err != nil {
		return fmt.Errorf("loading delivery log for destination state update: %w", err)
	}

	var destinations []DestinationSubstate
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &destinations); err != nil {
			return fmt.Errorf("decoding destination substates: %w", err)
		}
	}

	now := time.Now()
	for i := range destinations {
		if destinations[i].DestinationID != destinationID {
			continue
		}
		destinations[i].Status = DestinationStatus(update.Status)
		if update.Attempted {
			destinations[i].Attempts++
		}
		destinations[i].LastError = update.LastError
		if update.Status == string(DestDelivered) {
			destinations[i].DeliveredAt = &now
		}
		if update.CrossSystemReference != "" {
			destinations[i].CrossSystemReference = update.CrossSystemReference
		}
		if update.NonRetryable {
			destinations[i].NonRetryable = true
		}
		break
	}

	return s.UpdateStatus(ctx, orgID, deliveryID, Aggregate(destinations), destinations)
}

// GetMetrics computes the roll-up behind GetDeliveryMetrics.
func (s *Store) GetMetrics(ctx context.Context, o MetricsOptions) (Metrics, error) {
	query := `SELECT status, destinations, created_at, updated_at FROM delivery_logs WHERE created_at >= $1 AND created_at <= $2`
	args := []any{o.Since, o.Until}
	if o.OrganizationID != nil {
		args = append(args, *o.OrganizationID)
		query += fmt.Sprintf(" AND organization_id = $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return Metrics{}, fmt.Errorf("computing delivery metrics: %w", err)
	}
	defer rows.Close()

	m := Metrics{ByDestinationType: make(map[string]int64), TimeRangeStart: o.Since, TimeRangeEnd: o.Until}
	var totalDurationMS float64
	var durationSamples int64

	for rows.Next() {
		var status Status
		var raw []byte
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&status, &raw, &createdAt, &updatedAt); err != nil {
			return Metrics{}, fmt.Errorf("scanning delivery metrics row: %w", err)
		}
		m.Total++
		switch status {
		case StatusCompleted:
			m.Successful++
		case StatusFailed:
			m.Failed++
		}
		if status == StatusCompleted || status == StatusFailed {
			totalDurationMS += float64(updatedAt.Sub(createdAt).Milliseconds())
			durationSamples++
		}

		var destinations []DestinationSubstate
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &destinations)
		}
		for _, d := range destinations {
			if d.DestinationType != "" {
				m.ByDestinationType[d.DestinationType]++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return Metrics{}, fmt.Errorf("iterating delivery metrics: %w", err)
	}

	if m.Total > 0 {
		m.SuccessRatePct = float64(m.Successful) / float64(m.Total) * 100
	}
	if durationSamples > 0 {
		m.AvgDeliveryTimeMS = totalDurationMS / float64(durationSamples)
	}
	return m, nil
}
