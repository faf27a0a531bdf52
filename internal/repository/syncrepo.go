package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/openfesta/festmesh/internal/model"
)

// SyncQueueRepository provides durable storage for offline sync items.
type SyncQueueRepository interface {
	// Enqueue inserts a new pending item.
	Enqueue(ctx context.Context, item *model.SyncItem) error

	// ListPending returns up to limit unprocessed items whose attempts are
	// not exhausted and whose backoff has elapsed, ordered by priority
	// descending then created_at ascending.
	ListPending(ctx context.Context, now time.Time, limit int) ([]model.SyncItem, error)

	// MarkProcessed flips the processed flag and stamps processed_at.
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error

	// RecordFailure increments attempt_count, records the error and sets
	// the next attempt time.
	RecordFailure(ctx context.Context, id uuid.UUID, errMsg string, at, next time.Time) error

	// RetryFailed resets attempts and errors for items that exhausted
	// retries, returning how many were re-admitted.
	RetryFailed(ctx context.Context) (int64, error)

	// PurgeProcessed removes processed items older than the cutoff.
	PurgeProcessed(ctx context.Context, olderThan time.Time) (int64, error)

	// Stats reports pending, processed and failed counts.
	Stats(ctx context.Context) (pending, processed, failed int64, err error)
}
