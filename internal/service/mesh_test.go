package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/openfesta/festmesh/internal/crypto/meshcrypto"
	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/events"
	"github.com/openfesta/festmesh/internal/mesh"
	"github.com/openfesta/festmesh/internal/model"
	"github.com/openfesta/festmesh/internal/peers"
	"github.com/openfesta/festmesh/internal/repository"
	"github.com/openfesta/festmesh/internal/syncq"
)

// In-memory stores backing a fully wired service.

type memPeers struct {
	mu   sync.Mutex
	byID map[string]*model.Peer
}

var _ repository.PeerRepository = (*memPeers)(nil)

func (m *memPeers) Upsert(_ context.Context, p *model.Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.ID] = p
	return nil
}
func (m *memPeers) Get(_ context.Context, id string) (*model.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return p, nil
}
func (m *memPeers) List(_ context.Context) ([]model.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Peer, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, *p)
	}
	return out, nil
}

type memIdents struct {
	mu   sync.Mutex
	byFP map[string]*model.Identity
}

var _ repository.IdentityRepository = (*memIdents)(nil)

// Upsert mirrors the postgres ON CONFLICT (fingerprint) semantics.
func (m *memIdents) Upsert(_ context.Context, ident *model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byFP[ident.Fingerprint]; ok {
		prev.Nickname = ident.Nickname
		prev.Active = true
		prev.LastSeen = ident.LastSeen
		ident.ID = prev.ID
		ident.UserID = prev.UserID
		ident.FestivalID = prev.FestivalID
		ident.CreatedAt = prev.CreatedAt
		return nil
	}
	cp := *ident
	m.byFP[ident.Fingerprint] = &cp
	return nil
}
func (m *memIdents) GetByFingerprint(_ context.Context, fp string) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.byFP[fp]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return ident, nil
}
func (m *memIdents) Deactivate(_ context.Context, _ string) error { return nil }

type memMessages struct {
	mu   sync.Mutex
	rows []*model.MeshMessage
}

var _ repository.MessageRepository = (*memMessages)(nil)

func (m *memMessages) Insert(_ context.Context, msg *model.MeshMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, msg)
	return nil
}
func (m *memMessages) Get(_ context.Context, _ uuid.UUID) (*model.MeshMessage, error) {
	return nil, errs.ErrNotFound
}
func (m *memMessages) ListRoom(_ context.Context, _ string, _ int) ([]model.MeshMessage, error) {
	return nil, nil
}

type memQueue struct {
	mu    sync.Mutex
	items []model.SyncItem
}

var _ repository.SyncQueueRepository = (*memQueue)(nil)

func (m *memQueue) Enqueue(_ context.Context, item *model.SyncItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, *item)
	return nil
}
func (m *memQueue) ListPending(_ context.Context, now time.Time, limit int) ([]model.SyncItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncItem
	for _, it := range m.items {
		if !it.Processed && it.AttemptCount < it.MaxAttempts && !it.NextAttemptAt.After(now) {
			out = append(out, it)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
func (m *memQueue) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].Processed = true
			m.items[i].ProcessedAt = at
		}
	}
	return nil
}
func (m *memQueue) RecordFailure(_ context.Context, id uuid.UUID, errMsg string, at, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].AttemptCount++
			m.items[i].LastError = errMsg
			m.items[i].LastAttempt = at
			m.items[i].NextAttemptAt = next
		}
	}
	return nil
}
func (m *memQueue) RetryFailed(_ context.Context) (int64, error) { return 0, nil }
func (m *memQueue) PurgeProcessed(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
func (m *memQueue) Stats(_ context.Context) (pending, processed, failed int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
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

type nullStores struct{}

var (
	_ repository.TicketStore   = nullStores{}
	_ repository.ChatStore     = nullStores{}
	_ repository.EstadiaStore  = nullStores{}
	_ repository.FavoriteStore = nullStores{}
)

func (nullStores) Get(_ context.Context, _ uuid.UUID) (*model.Ticket, error) {
	return nil, errs.ErrNotFound
}
func (nullStores) HasScan(_ context.Context, _, _ uuid.UUID) (bool, error)   { return false, nil }
func (nullStores) LogScan(_ context.Context, _ *model.TicketScanLog) error   { return nil }
func (nullStores) Transfer(_ context.Context, _, _ uuid.UUID) error          { return nil }
func (nullStores) RoomExists(_ context.Context, _ string) (bool, error)      { return false, nil }
func (nullStores) HasMessage(_ context.Context, _ uuid.UUID) (bool, error)   { return false, nil }
func (nullStores) PutMessage(_ context.Context, _ *model.ChatMessage) error  { return nil }
func (nullStores) GetAccess(_ context.Context, _ uuid.UUID, _ string) (*model.EstadiaAccess, error) {
	return nil, errs.ErrNotFound
}
func (nullStores) PutAccess(_ context.Context, _ *model.EstadiaAccess) error { return nil }
func (nullStores) HasLog(_ context.Context, _ uuid.UUID, _, _ string, _ time.Time) (bool, error) {
	return false, nil
}
func (nullStores) PutLog(_ context.Context, _ *model.EstadiaAccessLog) error { return nil }
func (nullStores) Put(_ context.Context, _ *model.Favorite) error            { return nil }
func (nullStores) Delete(_ context.Context, _ uuid.UUID, _ string) error     { return nil }

type nullNotifications struct{}

var _ repository.NotificationStore = nullNotifications{}

func (nullNotifications) Has(_ context.Context, _ uuid.UUID) (bool, error)   { return false, nil }
func (nullNotifications) Put(_ context.Context, _ *model.Notification) error { return nil }

type nullPresence struct{}

var _ repository.PresenceStore = nullPresence{}

func (nullPresence) Get(_ context.Context, _ uuid.UUID) (*model.Presence, error) {
	return nil, errs.ErrNotFound
}
func (nullPresence) Put(_ context.Context, _ *model.Presence) error { return nil }

func newService(t *testing.T) (*MeshServiceImpl, *memMessages, *memQueue) {
	t.Helper()
	log := zap.NewNop()
	bus := events.NewBus()
	msgs := &memMessages{}
	queue := &memQueue{}
	stores := nullStores{}

	dir := peers.NewDirectory(log, &memPeers{byID: map[string]*model.Peer{}}, &memIdents{byFP: map[string]*model.Identity{}})
	appliers := syncq.NewStoreAppliers(log, syncq.ServerWins, stores, stores, stores, stores, nullNotifications{}, nullPresence{})
	engine := syncq.NewEngine(log, queue, appliers, bus)
	router := mesh.NewRouter(log, dir, msgs, stores, stores, stores, engine, bus, engine.Online)
	return NewMeshService(log, dir, router, engine, bus), msgs, queue
}

func registerIdentity(t *testing.T, svc *MeshServiceImpl) *model.Identity {
	t.Helper()
	static, _ := meshcrypto.GenerateNoiseKeyPair()
	signing, _ := meshcrypto.GenerateSigningKeyPair()
	ident, err := svc.RegisterIdentity(context.Background(), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), peers.IdentityDescriptor{
		StaticPublic:  static.Public,
		SigningPublic: signing.Public,
		Nickname:      "dana",
	})
	if err != nil {
		t.Fatalf("RegisterIdentity: %v", err)
	}
	return ident
}

func TestRegisterIdentity_PublishesEvent(t *testing.T) {
	svc, _, _ := newService(t)
	ch, unsub := svc.bus.Subscribe(8)
	defer unsub()

	ident := registerIdentity(t, svc)
	if len(ident.Fingerprint) != 64 {
		t.Fatalf("fingerprint len=%d", len(ident.Fingerprint))
	}

	select {
	case ev := <-ch:
		if ev.Type != events.IdentityRegistered || ev.Fields["fingerprint"] != ident.Fingerprint {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no identity_registered event")
	}
}

func TestSubmitMessage_EndToEnd(t *testing.T) {
	svc, msgs, _ := newService(t)
	ident := registerIdentity(t, svc)

	id, err := svc.SubmitMessage(context.Background(), MessageDescriptor{
		Sender:  ident.Fingerprint,
		Type:    model.MessageText,
		Content: []byte("hello"),
		TTL:     3,
	})
	if err != nil {
		t.Fatalf("SubmitMessage: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("empty message id")
	}
	if len(msgs.rows) != 1 || msgs.rows[0].ID != id {
		t.Fatalf("message not persisted: %+v", msgs.rows)
	}
}

func TestSubmitMessage_Validation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.SubmitMessage(ctx, MessageDescriptor{Sender: "fp", Type: model.MessageText}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("empty content: got %v", err)
	}
	if _, err := svc.SubmitMessage(ctx, MessageDescriptor{Sender: "", Type: model.MessageText, Content: []byte("x")}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("empty sender: got %v", err)
	}
	if _, err := svc.SubmitMessage(ctx, MessageDescriptor{
		Sender:  strings.Repeat("ef", 32),
		Type:    model.MessageText,
		Content: []byte("x"),
	}); !errors.Is(err, errs.ErrUnknownSender) {
		t.Fatalf("unknown sender: got %v", err)
	}
}

func TestOnlineToggleAndStats(t *testing.T) {
	svc, _, queue := newService(t)
	ctx := context.Background()

	if svc.Online() {
		t.Fatalf("must start offline")
	}
	svc.SetOnline(ctx, true)
	if !svc.Online() {
		t.Fatalf("online toggle lost")
	}
	svc.SetOnline(ctx, false)

	queue.items = append(queue.items, model.SyncItem{
		ID:          uuid.Must(uuid.NewV4()),
		UserID:      uuid.Must(uuid.NewV4()),
		Type:        model.SyncFavorite,
		Payload:     []byte(`{"target_id":"t"}`),
		MaxAttempts: 5,
	})
	pending, processed, failed, err := svc.SyncStats(ctx)
	if err != nil || pending != 1 || processed != 0 || failed != 0 {
		t.Fatalf("stats: %d/%d/%d err=%v", pending, processed, failed, err)
	}
}
