package syncq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/events"
	"github.com/openfesta/festmesh/internal/model"
	"github.com/openfesta/festmesh/internal/repository"
)

// Engine defaults.
const (
	DefaultPriority    = 5
	DefaultMaxAttempts = 5
	DefaultBatchSize   = 100

	backoffBase = 30 * time.Second
	backoffMax  = 15 * time.Minute
)

// Engine owns the durable sync queue: enqueue, single-flight drain,
// retry bookkeeping and maintenance sweeps.
type Engine struct {
	log     *zap.Logger
	repo    repository.SyncQueueRepository
	applier Applier
	bus     *events.Bus

	busy   atomic.Bool
	online atomic.Bool

	batchSize int
	now       func() time.Time
}

// NewEngine constructs the engine. The applier is usually *StoreAppliers.
func NewEngine(log *zap.Logger, repo repository.SyncQueueRepository, applier Applier, bus *events.Bus) *Engine {
	return &Engine{
		log:       log,
		repo:      repo,
		applier:   applier,
		bus:       bus,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

// Online reports the current connectivity state.
func (e *Engine) Online() bool { return e.online.Load() }

// SetOnline flips the connectivity state; transitioning to online
// triggers an immediate drain.
func (e *Engine) SetOnline(ctx context.Context, v bool) {
	if e.online.Swap(v) == v {
		return
	}
	e.bus.Publish(events.OnlineStatusChanged, map[string]any{"online": v})
	if v {
		go func() {
			if _, _, err := e.Drain(context.WithoutCancel(ctx)); err != nil {
				e.log.Warn("drain after going online", zap.Error(err))
			}
		}()
	}
}

// Enqueue appends a locally-produced event to the queue. priority 0 means
// DefaultPriority; out-of-range values are clamped to [1, 10]. An
// immediate drain attempt is triggered while online.
func (e *Engine) Enqueue(ctx context.Context, userID uuid.UUID, typ model.SyncType, payload any, priority int, identityID uuid.NullUUID) (uuid.UUID, error) {
	if userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: empty user id", errs.ErrInvalidInput)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: marshal payload: %v", errs.ErrInvalidInput, err)
	}
	// Reject unknown types and junk payloads before they hit the queue.
	if _, err := model.DecodePayload(typ, raw); err != nil {
		return uuid.Nil, err
	}

	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}

	now := e.now().UTC()
	item := &model.SyncItem{
		ID:            uuid.Must(uuid.NewV4()),
		UserID:        userID,
		IdentityID:    identityID,
		Type:          typ,
		Payload:       raw,
		Priority:      priority,
		MaxAttempts:   DefaultMaxAttempts,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
	if err := e.repo.Enqueue(ctx, item); err != nil {
		return uuid.Nil, err
	}
	e.bus.Publish(events.ItemQueued, map[string]any{
		"item_id":  item.ID.String(),
		"type":     string(typ),
		"priority": priority,
	})

	if e.Online() {
		go func() {
			if _, _, err := e.Drain(context.WithoutCancel(ctx)); err != nil {
				e.log.Warn("drain after enqueue", zap.Error(err))
			}
		}()
	}
	return item.ID, nil
}

// Drain applies up to one batch of pending items sequentially. A drain
// request while one is running is dropped, not queued; the periodic timer
// retries later. Per-item failures never abort sibling items; only a
// failure listing the queue aborts the whole drain.
func (e *Engine) Drain(ctx context.Context) (processed, failed int, err error) {
	if !e.busy.CompareAndSwap(false, true) {
		return 0, 0, nil
	}
	defer e.busy.Store(false)

	now := e.now().UTC()
	items, err := e.repo.ListPending(ctx, now, e.batchSize)
	if err != nil {
		e.bus.Publish(events.SyncError, map[string]any{"error": err.Error()})
		return 0, 0, fmt.Errorf("%w: list pending: %v", errs.ErrStoreUnavailable, err)
	}

	for i := range items {
		item := &items[i]
		if applyErr := e.applyItem(ctx, item); applyErr != nil {
			failed++
			e.recordFailure(ctx, item, applyErr)
			continue
		}
		processed++
		if markErr := e.repo.MarkProcessed(ctx, item.ID, e.now().UTC()); markErr != nil {
			// The applier is idempotent, so re-delivery after this is safe.
			e.log.Warn("mark processed failed", zap.String("item", item.ID.String()), zap.Error(markErr))
		}
		e.bus.Publish(events.ItemProcessed, map[string]any{
			"item_id": item.ID.String(),
			"type":    string(item.Type),
		})
	}

	e.bus.Publish(events.SyncComplete, map[string]any{
		"processed": processed,
		"failed":    failed,
	})
	return processed, failed, nil
}

func (e *Engine) applyItem(ctx context.Context, item *model.SyncItem) error {
	payload, err := model.DecodePayload(item.Type, item.Payload)
	if err != nil {
		return err
	}
	return e.applier.Apply(ctx, item, payload)
}

func (e *Engine) recordFailure(ctx context.Context, item *model.SyncItem, cause error) {
	now := e.now().UTC()
	next := now.Add(backoffFor(item.AttemptCount + 1))
	if err := e.repo.RecordFailure(ctx, item.ID, cause.Error(), now, next); err != nil {
		e.log.Warn("record failure", zap.String("item", item.ID.String()), zap.Error(err))
	}
	e.log.Info("sync item failed",
		zap.String("item", item.ID.String()),
		zap.String("type", string(item.Type)),
		zap.Int("attempt", item.AttemptCount+1),
		zap.Error(cause),
	)
}

// backoffFor doubles per attempt from backoffBase, capped at backoffMax.
func backoffFor(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	if d > backoffMax {
		return backoffMax
	}
	return d
}

// RetryFailed re-admits items that exhausted their attempts.
func (e *Engine) RetryFailed(ctx context.Context) (int64, error) {
	n, err := e.repo.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 && e.Online() {
		go func() {
			if _, _, err := e.Drain(context.WithoutCancel(ctx)); err != nil {
				e.log.Warn("drain after retry", zap.Error(err))
			}
		}()
	}
	return n, nil
}

// PurgeProcessed removes processed items older than the retention window.
func (e *Engine) PurgeProcessed(ctx context.Context, retention time.Duration) (int64, error) {
	return e.repo.PurgeProcessed(ctx, e.now().UTC().Add(-retention))
}

// Stats reports queue counters for observability endpoints.
func (e *Engine) Stats(ctx context.Context) (pending, processed, failed int64, err error) {
	return e.repo.Stats(ctx)
}
