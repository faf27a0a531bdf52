// Package service contains the application service tying the mesh core together.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/events"
	"github.com/openfesta/festmesh/internal/mesh"
	"github.com/openfesta/festmesh/internal/model"
	"github.com/openfesta/festmesh/internal/peers"
	"github.com/openfesta/festmesh/internal/syncq"
)

// MessageDescriptor is the inbound message submission contract.
type MessageDescriptor struct {
	Sender    string
	Recipient string
	Room      string
	Type      model.MessageType
	Content   []byte
	Private   bool
	TTL       int
}

// MeshService defines the operations exposed to transport layers.
type MeshService interface {
	// RegisterIdentity creates or reactivates an identity for (user, festival).
	RegisterIdentity(ctx context.Context, userID, festivalID uuid.UUID, desc peers.IdentityDescriptor) (*model.Identity, error)
	// RegisterPeer upserts a peer observation.
	RegisterPeer(ctx context.Context, desc peers.PeerDescriptor) (*model.Peer, error)
	// ListPeers returns all known peers.
	ListPeers(ctx context.Context) ([]model.Peer, error)
	// SubmitMessage constructs and dispatches a mesh message.
	SubmitMessage(ctx context.Context, desc MessageDescriptor) (uuid.UUID, error)
	// SetOnline flips the connectivity signal from the transport layer.
	SetOnline(ctx context.Context, online bool)
	// Online reports the current connectivity state.
	Online() bool
	// RetryFailed re-admits sync items that exhausted their retries.
	RetryFailed(ctx context.Context) (int64, error)
	// SyncStats reports queue counters.
	SyncStats(ctx context.Context) (pending, processed, failed int64, err error)
}

// MeshServiceImpl wires the directory, router and sync engine.
type MeshServiceImpl struct {
	log    *zap.Logger
	dir    *peers.Directory
	router *mesh.Router
	engine *syncq.Engine
	bus    *events.Bus
}

// NewMeshService constructs the mesh service.
func NewMeshService(log *zap.Logger, dir *peers.Directory, router *mesh.Router, engine *syncq.Engine, bus *events.Bus) *MeshServiceImpl {
	return &MeshServiceImpl{log: log, dir: dir, router: router, engine: engine, bus: bus}
}

// RegisterIdentity validates and registers, then emits identity_registered.
func (s *MeshServiceImpl) RegisterIdentity(ctx context.Context, userID, festivalID uuid.UUID, desc peers.IdentityDescriptor) (*model.Identity, error) {
	ident, err := s.dir.RegisterIdentity(ctx, userID, festivalID, desc)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(events.IdentityRegistered, map[string]any{
		"fingerprint": ident.Fingerprint,
		"user_id":     ident.UserID.String(),
		"festival_id": ident.FestivalID.String(),
	})
	return ident, nil
}

// RegisterPeer delegates to the directory.
func (s *MeshServiceImpl) RegisterPeer(ctx context.Context, desc peers.PeerDescriptor) (*model.Peer, error) {
	return s.dir.UpsertPeer(ctx, desc)
}

// ListPeers delegates to the directory.
func (s *MeshServiceImpl) ListPeers(ctx context.Context) ([]model.Peer, error) {
	return s.dir.ListPeers(ctx)
}

// SubmitMessage builds a message from the descriptor and dispatches it.
func (s *MeshServiceImpl) SubmitMessage(ctx context.Context, desc MessageDescriptor) (uuid.UUID, error) {
	if len(desc.Content) == 0 {
		return uuid.Nil, fmt.Errorf("%w: empty content", errs.ErrInvalidInput)
	}
	msg, err := mesh.NewMessage(desc.Sender, desc.Recipient, desc.Room, desc.Type, desc.Content, desc.Private, desc.TTL)
	if err != nil {
		return uuid.Nil, err
	}
	start := time.Now()
	if err := s.router.Dispatch(ctx, msg); err != nil {
		return uuid.Nil, err
	}
	s.log.Debug("message dispatched",
		zap.String("id", msg.ID.String()),
		zap.String("type", string(msg.Type)),
		zap.Duration("dur", time.Since(start)),
	)
	return msg.ID, nil
}

// SetOnline forwards the connectivity toggle to the sync engine.
func (s *MeshServiceImpl) SetOnline(ctx context.Context, online bool) {
	s.engine.SetOnline(ctx, online)
}

// Online reports the engine's connectivity state.
func (s *MeshServiceImpl) Online() bool { return s.engine.Online() }

// RetryFailed delegates to the sync engine.
func (s *MeshServiceImpl) RetryFailed(ctx context.Context) (int64, error) {
	return s.engine.RetryFailed(ctx)
}

// SyncStats delegates to the sync engine.
func (s *MeshServiceImpl) SyncStats(ctx context.Context) (pending, processed, failed int64, err error) {
	return s.engine.Stats(ctx)
}
