package syncq

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/events"
	"github.com/openfesta/festmesh/internal/model"
	"github.com/openfesta/festmesh/internal/repository"
)

type failureRec struct {
	id   uuid.UUID
	msg  string
	next time.Time
}

// fakeQueueRepo is an in-memory SyncQueueRepository honoring the ordering
// and filtering contract of the postgres implementation.
type fakeQueueRepo struct {
	mu       sync.Mutex
	items    []model.SyncItem
	listErr  error
	failures []failureRec
	retried  int64
}

var _ repository.SyncQueueRepository = (*fakeQueueRepo)(nil)

func (f *fakeQueueRepo) Enqueue(_ context.Context, item *model.SyncItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, *item)
	return nil
}

func (f *fakeQueueRepo) ListPending(_ context.Context, now time.Time, limit int) ([]model.SyncItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.SyncItem
	for _, it := range f.items {
		if it.Processed || it.AttemptCount >= it.MaxAttempts || it.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeQueueRepo) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Processed = true
			f.items[i].ProcessedAt = at
		}
	}
	return nil
}

func (f *fakeQueueRepo) RecordFailure(_ context.Context, id uuid.UUID, errMsg string, at, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failureRec{id: id, msg: errMsg, next: next})
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].AttemptCount++
			f.items[i].LastError = errMsg
			f.items[i].LastAttempt = at
			f.items[i].NextAttemptAt = next
		}
	}
	return nil
}

func (f *fakeQueueRepo) RetryFailed(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i := range f.items {
		if !f.items[i].Processed && f.items[i].AttemptCount >= f.items[i].MaxAttempts {
			f.items[i].AttemptCount = 0
			f.items[i].LastError = ""
			f.items[i].NextAttemptAt = time.Time{}
			n++
		}
	}
	f.retried += n
	return n, nil
}

func (f *fakeQueueRepo) PurgeProcessed(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []model.SyncItem
	var n int64
	for _, it := range f.items {
		if it.Processed && it.ProcessedAt.Before(olderThan) {
			n++
			continue
		}
		kept = append(kept, it)
	}
	f.items = kept
	return n, nil
}

func (f *fakeQueueRepo) Stats(_ context.Context) (pending, processed, failed int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items {
		switch {
		case it.Processed:
			processed++
		case it.AttemptCount >= it.MaxAttempts:
			failed++
		default:
			pending++
		}
	}
	return pending, processed, failed, nil
}

// recordingApplier records application order and fails chosen items.
type recordingApplier struct {
	mu      sync.Mutex
	applied []uuid.UUID
	failIDs map[uuid.UUID]error
}

func (r *recordingApplier) Apply(_ context.Context, item *model.SyncItem, _ model.SyncPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failIDs[item.ID]; ok {
		return err
	}
	r.applied = append(r.applied, item.ID)
	return nil
}

func newEngineFixture(t *testing.T) (*Engine, *fakeQueueRepo, *recordingApplier, *events.Bus) {
	t.Helper()
	repo := &fakeQueueRepo{}
	applier := &recordingApplier{failIDs: map[uuid.UUID]error{}}
	bus := events.NewBus()
	return NewEngine(zap.NewNop(), repo, applier, bus), repo, applier, bus
}

func TestEnqueue_Validation(t *testing.T) {
	e, _, _, _ := newEngineFixture(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	if _, err := e.Enqueue(ctx, uuid.Nil, model.SyncFavorite, model.FavoritePayload{TargetID: "x"}, 0, uuid.NullUUID{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("nil user: got %v, want ErrInvalidInput", err)
	}
	if _, err := e.Enqueue(ctx, userID, "bogus_type", map[string]any{}, 0, uuid.NullUUID{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("unknown type: got %v, want ErrInvalidInput", err)
	}
}

func TestEnqueue_PriorityClamping(t *testing.T) {
	e, repo, _, _ := newEngineFixture(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	cases := []struct {
		in   int
		want int
	}{
		{0, DefaultPriority},
		{-3, 1},
		{5, 5},
		{42, 10},
	}
	for _, tc := range cases {
		if _, err := e.Enqueue(ctx, userID, model.SyncFavorite, model.FavoritePayload{TargetID: "t"}, tc.in, uuid.NullUUID{}); err != nil {
			t.Fatalf("Enqueue(%d): %v", tc.in, err)
		}
	}
	for i, tc := range cases {
		if repo.items[i].Priority != tc.want {
			t.Fatalf("priority[%d]=%d, want %d", i, repo.items[i].Priority, tc.want)
		}
	}
	if repo.items[0].MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("max attempts=%d, want %d", repo.items[0].MaxAttempts, DefaultMaxAttempts)
	}
}

func TestDrain_PriorityOrder(t *testing.T) {
	e, _, applier, _ := newEngineFixture(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	var ids []uuid.UUID
	for _, prio := range []int{2, 9, 5} {
		id, err := e.Enqueue(ctx, userID, model.SyncFavorite, model.FavoritePayload{TargetID: "t"}, prio, uuid.NullUUID{})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, id)
	}

	processed, failed, err := e.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if processed != 3 || failed != 0 {
		t.Fatalf("processed=%d failed=%d", processed, failed)
	}
	want := []uuid.UUID{ids[1], ids[2], ids[0]} // 9, 5, 2
	for i, id := range want {
		if applier.applied[i] != id {
			t.Fatalf("apply order[%d]=%v, want %v", i, applier.applied[i], id)
		}
	}
}

func TestDrain_AppliedItemsMarkedProcessed(t *testing.T) {
	e, repo, _, _ := newEngineFixture(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	id, _ := e.Enqueue(ctx, userID, model.SyncFavorite, model.FavoritePayload{TargetID: "t"}, 0, uuid.NullUUID{})
	if _, _, err := e.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if !repo.items[0].Processed || repo.items[0].ID != id {
		t.Fatalf("item not marked processed: %+v", repo.items[0])
	}

	// A second drain sees nothing pending.
	processed, failed, err := e.Drain(ctx)
	if err != nil || processed != 0 || failed != 0 {
		t.Fatalf("second drain: processed=%d failed=%d err=%v", processed, failed, err)
	}
}

func TestDrain_DuplicateTicketScansLogOnce(t *testing.T) {
	repo := &fakeQueueRepo{}
	tickets := &fakeTickets{}
	appliers := NewStoreAppliers(zap.NewNop(), ServerWins,
		tickets, &fakeChat{}, &fakeEstadias{}, &fakeFavorites{}, &fakeNotifications{}, &fakePresence{})
	e := NewEngine(zap.NewNop(), repo, appliers, events.NewBus())
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	ticketID := uuid.Must(uuid.NewV4())
	at := time.Now().UTC()

	// Two distinct queue items for the same scan, as happens when the
	// same offline action is captured twice.
	for i := 0; i < 2; i++ {
		if _, err := e.Enqueue(ctx, userID, model.SyncTicketScan,
			model.TicketScanPayload{TicketID: ticketID, ScannedAt: at}, 8, uuid.NullUUID{}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	processed, failed, err := e.Drain(ctx)
	if err != nil || processed != 2 || failed != 0 {
		t.Fatalf("Drain: processed=%d failed=%d err=%v", processed, failed, err)
	}
	if len(tickets.logged) != 1 {
		t.Fatalf("scan logs=%d, want exactly 1", len(tickets.logged))
	}
	pending, done, _, _ := repo.Stats(ctx)
	if pending != 0 || done != 2 {
		t.Fatalf("both items must count processed: pending=%d processed=%d", pending, done)
	}
}

func TestDrain_FailureBackoffAndSiblingIsolation(t *testing.T) {
	e, repo, applier, _ := newEngineFixture(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	base := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	bad, _ := e.Enqueue(ctx, userID, model.SyncFavorite, model.FavoritePayload{TargetID: "bad"}, 9, uuid.NullUUID{})
	good, _ := e.Enqueue(ctx, userID, model.SyncFavorite, model.FavoritePayload{TargetID: "good"}, 1, uuid.NullUUID{})
	applier.failIDs[bad] = errors.New("store rejected")

	processed, failed, err := e.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if processed != 1 || failed != 1 {
		t.Fatalf("processed=%d failed=%d, want 1/1", processed, failed)
	}
	if len(applier.applied) != 1 || applier.applied[0] != good {
		t.Fatalf("the healthy sibling must still apply")
	}

	if len(repo.failures) != 1 || repo.failures[0].id != bad {
		t.Fatalf("failure not recorded: %+v", repo.failures)
	}
	wantNext := base.Add(30 * time.Second)
	if !repo.failures[0].next.Equal(wantNext) {
		t.Fatalf("first backoff next=%v, want %v", repo.failures[0].next, wantNext)
	}

	// Before the backoff elapses the item is invisible.
	if p, _, _ := e.Drain(ctx); p != 0 {
		t.Fatalf("backed-off item drained early")
	}
	// After the backoff it is retried.
	e.now = func() time.Time { return base.Add(time.Minute) }
	if _, f, _ := e.Drain(ctx); f != 1 {
		t.Fatalf("backed-off item not retried after window")
	}
}

func TestDrain_ExhaustionAndRetryFailed(t *testing.T) {
	e, repo, applier, _ := newEngineFixture(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	now := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	id, _ := e.Enqueue(ctx, userID, model.SyncFavorite, model.FavoritePayload{TargetID: "t"}, 0, uuid.NullUUID{})
	applier.failIDs[id] = errors.New("down")

	for i := 0; i < DefaultMaxAttempts; i++ {
		if _, f, err := e.Drain(ctx); err != nil || f != 1 {
			t.Fatalf("attempt %d: failed=%d err=%v", i, f, err)
		}
		now = now.Add(backoffMax) // jump past any backoff
	}

	// Attempts exhausted: no longer pending.
	if p, f, _ := e.Drain(ctx); p != 0 || f != 0 {
		t.Fatalf("exhausted item still drained: p=%d f=%d", p, f)
	}
	pending, _, failed, _ := repo.Stats(ctx)
	if pending != 0 || failed != 1 {
		t.Fatalf("stats: pending=%d failed=%d", pending, failed)
	}

	// Re-admit and let it succeed this time.
	n, err := e.RetryFailed(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed: n=%d err=%v", n, err)
	}
	delete(applier.failIDs, id)
	if p, _, err := e.Drain(ctx); err != nil || p != 1 {
		t.Fatalf("drain after retry: p=%d err=%v", p, err)
	}
}

func TestDrain_SingleFlight(t *testing.T) {
	e, _, _, _ := newEngineFixture(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	_, _ = e.Enqueue(ctx, userID, model.SyncFavorite, model.FavoritePayload{TargetID: "t"}, 0, uuid.NullUUID{})

	e.busy.Store(true)
	processed, failed, err := e.Drain(ctx)
	if err != nil || processed != 0 || failed != 0 {
		t.Fatalf("overlapping drain must no-op: p=%d f=%d err=%v", processed, failed, err)
	}
	e.busy.Store(false)

	if p, _, _ := e.Drain(ctx); p != 1 {
		t.Fatalf("drain after release: p=%d", p)
	}
}

func TestDrain_ListError(t *testing.T) {
	e, repo, _, _ := newEngineFixture(t)
	repo.listErr = errors.New("connection refused")

	_, _, err := e.Drain(context.Background())
	if !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("got %v, want ErrStoreUnavailable", err)
	}
}

func TestBackoffFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{6, 15 * time.Minute},
		{100, 15 * time.Minute},
	}
	for _, tc := range cases {
		if got := backoffFor(tc.attempt); got != tc.want {
			t.Fatalf("backoffFor(%d)=%v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestSetOnline_PublishesTransitionsOnly(t *testing.T) {
	e, _, _, bus := newEngineFixture(t)
	ctx := context.Background()

	ch, unsub := bus.Subscribe(8)
	defer unsub()

	e.SetOnline(ctx, false) // already offline, no event
	e.SetOnline(ctx, true)
	if !e.Online() {
		t.Fatalf("engine must report online")
	}

	select {
	case ev := <-ch:
		if ev.Type != events.OnlineStatusChanged || ev.Fields["online"] != true {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no online transition event")
	}

	// The transition also kicks an async drain, so other event types may
	// follow; only a second transition event is a bug.
	select {
	case ev := <-ch:
		if ev.Type == events.OnlineStatusChanged {
			t.Fatalf("redundant transition published: %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPurgeProcessed(t *testing.T) {
	e, repo, _, _ := newEngineFixture(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	base := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	_, _ = e.Enqueue(ctx, userID, model.SyncFavorite, model.FavoritePayload{TargetID: "t"}, 0, uuid.NullUUID{})
	if _, _, err := e.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	e.now = func() time.Time { return base.Add(48 * time.Hour) }
	n, err := e.PurgeProcessed(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	if len(repo.items) != 0 {
		t.Fatalf("processed item survived the purge")
	}
}
