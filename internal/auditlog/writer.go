// Package auditlog is an async, buffered writer for alert and destination
// mutation audit records, adapted from the teacher's internal/audit but
// simplified for this spec's single-schema, row-level tenancy: entries
// carry an organizationId column instead of a tenant schema, so flush
// writes a plain batch insert with no schema-switching.
package auditlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry represents a single audit log entry to be written.
type Entry struct {
	ActorID        uuid.UUID
	OrganizationID uuid.UUID
	Action         string
	ResourceType   string
	ResourceID     string
	Detail         json.RawMessage
	Timestamp      time.Time
}

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start launches the background goroutine that flushes audit entries to the
// database and returns immediately. The goroutine exits, after flushing the
// entries already buffered, when ctx is cancelled or Close is called.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the
// caller; if the buffer is full, the entry is dropped and a warning logged.
func (w *Writer) Log(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"action", entry.Action, "resource_type", entry.ResourceType)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch of entries to the database with one INSERT per entry;
// an entry that fails is logged and the rest of the batch is still written.
func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO audit_log (actor_id, organization_id, action, resource_type, resource_id, detail, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			nullableActor(e.ActorID), e.OrganizationID, e.Action, e.ResourceType, e.ResourceID, e.Detail, e.Timestamp,
		)
		if err != nil {
			w.logger.Error("writing audit log entry", "error", err,
				"action", e.Action, "resource_type", e.ResourceType)
		}
	}
}

func nullableActor(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
