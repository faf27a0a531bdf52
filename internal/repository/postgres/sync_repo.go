package postgres

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/openfesta/festmesh/internal/model"
)

// SyncQueueRepo implements SyncQueueRepository using PostgreSQL.
type SyncQueueRepo struct{ db *DB }

// NewSyncQueueRepo constructs a sync queue repository.
func NewSyncQueueRepo(db *DB) *SyncQueueRepo { return &SyncQueueRepo{db: db} }

// Enqueue inserts a new pending item.
func (r *SyncQueueRepo) Enqueue(ctx context.Context, item *model.SyncItem) error {
	const q = `
INSERT INTO sync_queue (id, user_id, identity_id, sync_type, payload, priority,
                        processed, attempt_count, max_attempts, created_at, next_attempt_at)
VALUES ($1,$2,$3,$4,$5,$6,false,0,$7,$8,$9)`
	_, err := r.db.Pool.Exec(ctx, q,
		item.ID, item.UserID, item.IdentityID, string(item.Type), item.Payload,
		item.Priority, item.MaxAttempts, item.CreatedAt, item.NextAttemptAt)
	return err
}

// ListPending selects the next drain batch: unprocessed, attempts not
// exhausted, backoff elapsed; strict priority then FIFO inside a band.
func (r *SyncQueueRepo) ListPending(ctx context.Context, now time.Time, limit int) ([]model.SyncItem, error) {
	const q = `
SELECT id, user_id, identity_id, sync_type, payload, priority, processed,
       attempt_count, max_attempts, COALESCE(last_error,''), created_at,
       COALESCE(last_attempt,'epoch'), next_attempt_at, COALESCE(processed_at,'epoch')
FROM sync_queue
WHERE processed=false AND attempt_count < max_attempts AND next_attempt_at <= $1
ORDER BY priority DESC, created_at ASC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SyncItem
	for rows.Next() {
		var it model.SyncItem
		var typ string
		if err := rows.Scan(&it.ID, &it.UserID, &it.IdentityID, &typ, &it.Payload, &it.Priority,
			&it.Processed, &it.AttemptCount, &it.MaxAttempts, &it.LastError, &it.CreatedAt,
			&it.LastAttempt, &it.NextAttemptAt, &it.ProcessedAt); err != nil {
			return nil, err
		}
		it.Type = model.SyncType(typ)
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkProcessed flips the processed flag; no item transitions back out.
func (r *SyncQueueRepo) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE sync_queue SET processed=true, processed_at=$2 WHERE id=$1 AND processed=false`
	_, err := r.db.Pool.Exec(ctx, q, id, at)
	return err
}

// RecordFailure increments the attempt counter and schedules the next try.
func (r *SyncQueueRepo) RecordFailure(ctx context.Context, id uuid.UUID, errMsg string, at, next time.Time) error {
	const q = `
UPDATE sync_queue
SET attempt_count = attempt_count + 1, last_error=$2, last_attempt=$3, next_attempt_at=$4
WHERE id=$1 AND processed=false`
	_, err := r.db.Pool.Exec(ctx, q, id, errMsg, at, next)
	return err
}

// RetryFailed re-admits items that exhausted their attempts.
func (r *SyncQueueRepo) RetryFailed(ctx context.Context) (int64, error) {
	const q = `
UPDATE sync_queue
SET attempt_count=0, last_error=NULL, next_attempt_at=now()
WHERE processed=false AND attempt_count >= max_attempts`
	tag, err := r.db.Pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeProcessed removes processed items older than the cutoff.
func (r *SyncQueueRepo) PurgeProcessed(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `DELETE FROM sync_queue WHERE processed=true AND processed_at < $1`
	tag, err := r.db.Pool.Exec(ctx, q, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Stats reports pending, processed and failed counts.
func (r *SyncQueueRepo) Stats(ctx context.Context) (pending, processed, failed int64, err error) {
	const q = `
SELECT
  COUNT(*) FILTER (WHERE processed=false AND attempt_count < max_attempts),
  COUNT(*) FILTER (WHERE processed=true),
  COUNT(*) FILTER (WHERE processed=false AND attempt_count >= max_attempts)
FROM sync_queue`
	if err = r.db.Pool.QueryRow(ctx, q).Scan(&pending, &processed, &failed); err != nil {
		return 0, 0, 0, err
	}
	return pending, processed, failed, nil
}
