// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/openfesta/festmesh/internal/model"
)

// PeerRepository stores peers known to the local router.
type PeerRepository interface {
	// Upsert inserts a peer or overwrites its mutable fields.
	Upsert(ctx context.Context, p *model.Peer) error
	// Get loads a peer by its caller-supplied id.
	Get(ctx context.Context, id string) (*model.Peer, error)
	// List returns all known peers.
	List(ctx context.Context) ([]model.Peer, error)
}

// IdentityRepository stores cryptographic identities keyed by fingerprint.
type IdentityRepository interface {
	// Upsert inserts an identity; re-registering a fingerprint reactivates
	// it and touches last_seen. On conflict the stored row keeps its id,
	// user_id, festival_id and created_at, and those values are written
	// back into ident.
	Upsert(ctx context.Context, ident *model.Identity) error
	// GetByFingerprint loads an identity by its 64-hex-char fingerprint.
	GetByFingerprint(ctx context.Context, fp string) (*model.Identity, error)
	// Deactivate clears the active flag; identities are never hard-deleted.
	Deactivate(ctx context.Context, fp string) error
}

// MessageRepository stores mesh messages; rows are immutable once written.
type MessageRepository interface {
	// Insert persists a message.
	Insert(ctx context.Context, m *model.MeshMessage) error
	// Get loads a message by id.
	Get(ctx context.Context, id uuid.UUID) (*model.MeshMessage, error)
	// ListRoom returns the most recent messages for a room, newest first.
	ListRoom(ctx context.Context, room string, limit int) ([]model.MeshMessage, error)
}
