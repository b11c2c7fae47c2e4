package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/relay/pkg/dbtx"
)

// Store is a Postgres-backed Repository over the delivery_queue table.
type Store struct {
	db dbtx.DBTX
}

// NewStore creates a queue Store.
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

const itemColumns = `id, delivery_id, organization_id, destination_id, priority, status, retry_count, max_retries, next_retry_at, payload, metadata, created_at, updated_at, processed_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	var meta []byte
	err := row.Scan(
		&it.ID, &it.DeliveryID, &it.OrganizationID, &it.DestinationID, &it.Priority, &it.Status,
		&it.RetryCount, &it.MaxRetries, &it.NextRetryAt, &it.Payload, &meta,
		&it.CreatedAt, &it.UpdatedAt, &it.ProcessedAt,
	)
	if err != nil {
		return Item{}, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &it.Metadata)
	}
	return it, nil
}

// Insert creates one pending queue item for a (delivery, destination) pair.
func (s *Store) Insert(ctx context.Context, in NewItemInput) (Item, error) {
	query := `INSERT INTO delivery_queue
		(id, delivery_id, organization_id, destination_id, priority, status, retry_count, max_retries, payload, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, '{}'::jsonb, $9, $9)
		RETURNING ` + itemColumns

	now := time.Now()
	row := s.db.QueryRow(ctx, query,
		uuid.New(), in.DeliveryID, in.OrganizationID, in.DestinationID, in.Priority, StatusPending, in.MaxRetries, in.Payload, now,
	)
	item, err := scanItem(row)
	if err != nil {
		return Item{}, fmt.Errorf("inserting queue item: %w", err)
	}
	return item, nil
}

// Get fetches one queue item scoped to an organization.
func (s *Store) Get(ctx context.Context, organizationID, id uuid.UUID) (Item, error) {
	query := `SELECT ` + itemColumns + ` FROM delivery_queue WHERE organization_id = $1 AND id = $2`
	item, err := scanItem(s.db.QueryRow(ctx, query, organizationID, id))
	if err != nil {
		return Item{}, fmt.Errorf("reading queue item: %w", err)
	}
	return item, nil
}

// ListByDelivery returns every queue item (one per destination) belonging
// to a delivery.
func (s *Store) ListByDelivery(ctx context.Context, organizationID uuid.UUID, deliveryID string) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM delivery_queue WHERE organization_id = $1 AND delivery_id = $2 ORDER BY created_at ASC`
	rows, err := s.db.Query(ctx, query, organizationID, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("listing queue items by delivery: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// DequeueBatch atomically claims up to limit pending-and-due items, ordered
// priority DESC, createdAt ASC, transitioning them to processing in the same
// statement. SKIP LOCKED lets concurrent worker processes dequeue from the
// same table without blocking on each other's claims (dequeue fencing).
func (s *Store) DequeueBatch(ctx context.Context, limit int, now time.Time) ([]Item, error) {
	query := `
		WITH claimed AS (
			SELECT id FROM delivery_queue
			WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= $2)
			ORDER BY priority DESC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE delivery_queue SET status = $4, updated_at = $2
		WHERE id IN (SELECT id FROM claimed)
		RETURNING ` + itemColumns

	rows, err := s.db.Query(ctx, query, StatusPending, now, limit, StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("dequeuing batch: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// UpdateStatus finalizes or otherwise updates a queue item's status.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, meta Metadata, processedAt *time.Time) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling queue item metadata: %w", err)
	}
	query := `UPDATE delivery_queue SET status = $1, metadata = $2, processed_at = $3, updated_at = $4 WHERE id = $5`
	_, err = s.db.Exec(ctx, query, status, b, processedAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("updating queue item status: %w", err)
	}
	return nil
}

// ScheduleRetry moves an item back to pending with a future nextRetryAt.
func (s *Store) ScheduleRetry(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, retryCount int, meta Metadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling queue item metadata: %w", err)
	}
	query := `UPDATE delivery_queue SET status = $1, retry_count = $2, next_retry_at = $3, metadata = $4, updated_at = $5 WHERE id = $6`
	_, err = s.db.Exec(ctx, query, StatusPending, retryCount, nextRetryAt, b, time.Now(), id)
	if err != nil {
		return fmt.Errorf("scheduling retry: %w", err)
	}
	return nil
}

// Reset zeroes an item's retry count and attempt history, returning it to
// pending for immediate redelivery.
func (s *Store) Reset(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE delivery_queue SET status = $1, retry_count = 0, next_retry_at = NULL, metadata = '{}'::jsonb, updated_at = $2 WHERE id = $3`
	_, err := s.db.Exec(ctx, query, StatusPending, time.Now(), id)
	if err != nil {
		return fmt.Errorf("resetting queue item retry count: %w", err)
	}
	return nil
}

// MarkNonRetryable permanently fails an item and flags it nonRetryable.
func (s *Store) MarkNonRetryable(ctx context.Context, id uuid.UUID, reason string) error {
	meta := Metadata{NonRetryable: true, SkipReason: reason}
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling queue item metadata: %w", err)
	}
	now := time.Now()
	query := `UPDATE delivery_queue SET status = $1, metadata = $2, processed_at = $3, updated_at = $3 WHERE id = $4`
	_, err = s.db.Exec(ctx, query, StatusFailed, b, now, id)
	if err != nil {
		return fmt.Errorf("marking queue item non-retryable: %w", err)
	}
	return nil
}

// CancelByDelivery marks every non-terminal item for a delivery cancelled.
func (s *Store) CancelByDelivery(ctx context.Context, organizationID uuid.UUID, deliveryID string) (int64, error) {
	query := `UPDATE delivery_queue SET status = $1, updated_at = $2
		WHERE organization_id = $3 AND delivery_id = $4 AND status IN ($5, $6)`
	tag, err := s.db.Exec(ctx, query, StatusCancelled, time.Now(), organizationID, deliveryID, StatusPending, StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("cancelling delivery queue items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RescueStuck resets processing items whose updatedAt is older than the
// processing timeout back to pending, for the watchdog loop.
func (s *Store) RescueStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `UPDATE delivery_queue SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4`
	tag, err := s.db.Exec(ctx, query, StatusPending, time.Now(), StatusProcessing, olderThan)
	if err != nil {
		return 0, fmt.Errorf("rescuing stuck queue items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteTerminalOlderThan removes completed/failed/cancelled rows past the
// retention window.
func (s *Store) DeleteTerminalOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM delivery_queue WHERE status IN ($1, $2, $3) AND updated_at < $4`
	tag, err := s.db.Exec(ctx, query, StatusCompleted, StatusFailed, StatusCancelled, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleaning up delivery queue: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns the global queue depth broken down by status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	query := `SELECT status, count(*) FROM delivery_queue GROUP BY status`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("counting queue items by status: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int64)
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		out[status] = count
	}
	return out, rows.Err()
}

// OrgStats computes the per-organization roll-up returned by
// HealthChecker.OrgStats.
func (s *Store) OrgStats(ctx context.Context, organizationID uuid.UUID, window time.Duration) (OrgStats, error) {
	var stats OrgStats
	query := `SELECT
		count(*) FILTER (WHERE status = $2),
		count(*) FILTER (WHERE status = $3),
		coalesce(avg(extract(epoch FROM (now() - created_at))) FILTER (WHERE status = $2), 0),
		count(*) FILTER (WHERE status = $4 AND updated_at > $5),
		count(*) FILTER (WHERE status = $6 AND updated_at > $5)
	FROM delivery_queue WHERE organization_id = $1`

	var avgWaitSeconds float64
	var completedRecent, failedRecent int64
	since := time.Now().Add(-window)
	row := s.db.QueryRow(ctx, query, organizationID, StatusPending, StatusProcessing, StatusCompleted, since, StatusFailed)
	if err := row.Scan(&stats.QueueDepth, &stats.ProcessingCount, &avgWaitSeconds, &completedRecent, &failedRecent); err != nil {
		return OrgStats{}, fmt.Errorf("computing org queue stats: %w", err)
	}

	stats.AverageWaitTime = time.Duration(avgWaitSeconds * float64(time.Second))
	total := completedRecent + failedRecent
	if total > 0 {
		stats.FailureRate = float64(failedRecent) / float64(total)
	}
	stats.RecentThroughput = float64(completedRecent) / window.Minutes()
	return stats, nil
}

// OldestPendingAge returns the age of the oldest pending item, or zero if
// the queue is empty.
func (s *Store) OldestPendingAge(ctx context.Context, now time.Time) (time.Duration, error) {
	var oldest *time.Time
	query := `SELECT min(created_at) FROM delivery_queue WHERE status = $1`
	if err := s.db.QueryRow(ctx, query, StatusPending).Scan(&oldest); err != nil {
		return 0, fmt.Errorf("finding oldest pending item: %w", err)
	}
	if oldest == nil {
		return 0, nil
	}
	return now.Sub(*oldest), nil
}

// AverageProcessingTime returns the mean time-to-completion for items
// completed within the window.
func (s *Store) AverageProcessingTime(ctx context.Context, window time.Duration) (time.Duration, error) {
	var avgSeconds float64
	query := `SELECT coalesce(avg(extract(epoch FROM (processed_at - created_at))), 0)
		FROM delivery_queue WHERE status = $1 AND processed_at IS NOT NULL AND updated_at > $2`
	if err := s.db.QueryRow(ctx, query, StatusCompleted, time.Now().Add(-window)).Scan(&avgSeconds); err != nil {
		return 0, fmt.Errorf("computing average processing time: %w", err)
	}
	return time.Duration(avgSeconds * float64(time.Second)), nil
}

// RecentThroughput returns completed items per minute over the window.
func (s *Store) RecentThroughput(ctx context.Context, window time.Duration) (float64, error) {
	var count int64
	query := `SELECT count(*) FROM delivery_queue WHERE status = $1 AND updated_at > $2`
	if err := s.db.QueryRow(ctx, query, StatusCompleted, time.Now().Add(-window)).Scan(&count); err != nil {
		return 0, fmt.Errorf("computing recent throughput: %w", err)
	}
	return float64(count) / window.Minutes(), nil
}

// GlobalFailureRate returns the failed-to-terminal ratio over the window.
func (s *Store) GlobalFailureRate(ctx context.Context, window time.Duration) (float64, error) {
	var completed, failed int64
	query := `SELECT count(*) FILTER (WHERE status = $1), count(*) FILTER (WHERE status = $2)
		FROM delivery_queue WHERE updated_at > $3`
	if err := s.db.QueryRow(ctx, query, StatusCompleted, StatusFailed, time.Now().Add(-window)).Scan(&completed, &failed); err != nil {
		return 0, fmt.Errorf("computing global failure rate: %w", err)
	}
	total := completed + failed
	if total == 0 {
		return 0, nil
	}
	return float64(failed) / float64(total), nil
}

// RetryStatsRaw aggregates retry outcomes for GetRetryStatistics. The
// nonRetryable count is independent of failed/completed status so it does
// not double-count against failedWithRetries.
func (s *Store) RetryStatsRaw(ctx context.Context) (RetryStatsRaw, error) {
	query := `SELECT
		count(*) FILTER (WHERE status = $1 AND retry_count > 0),
		count(*) FILTER (WHERE status = $2 AND retry_count > 0 AND NOT coalesce((metadata->>'nonRetryable')::boolean, false)),
		count(*) FILTER (WHERE coalesce((metadata->>'nonRetryable')::boolean, false)),
		coalesce(sum(retry_count) FILTER (WHERE status IN ($1, $2)), 0),
		count(*) FILTER (WHERE status IN ($1, $2))
	FROM delivery_queue`

	var raw RetryStatsRaw
	row := s.db.QueryRow(ctx, query, StatusCompleted, StatusFailed)
	if err := row.Scan(&raw.CompletedWithRetries, &raw.FailedWithRetries, &raw.NonRetryableCount, &raw.TotalRetryCount, &raw.ItemCount); err != nil {
		return RetryStatsRaw{}, fmt.Errorf("computing retry statistics: %w", err)
	}
	return raw, nil
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
