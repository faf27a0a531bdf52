package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/openfesta/festmesh/internal/model"
)

// The authoritative store is external to the mesh core; these interfaces
// cover only the keyed get/put/list operations the router and sync
// appliers need.

// TicketStore exposes ticket lookups and scan logging.
type TicketStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Ticket, error)
	// HasScan reports whether a scan log already exists for (user, ticket).
	HasScan(ctx context.Context, userID, ticketID uuid.UUID) (bool, error)
	LogScan(ctx context.Context, log *model.TicketScanLog) error
	// Transfer reassigns ticket ownership.
	Transfer(ctx context.Context, ticketID, newOwner uuid.UUID) error
}

// ChatStore exposes room lookups and idempotent message mirroring.
type ChatStore interface {
	RoomExists(ctx context.Context, roomID string) (bool, error)
	// HasMessage reports whether a chat message with the id already exists.
	HasMessage(ctx context.Context, id uuid.UUID) (bool, error)
	PutMessage(ctx context.Context, m *model.ChatMessage) error
}

// EstadiaStore exposes access grants and entry/exit logs.
type EstadiaStore interface {
	GetAccess(ctx context.Context, userID uuid.UUID, estadiaID string) (*model.EstadiaAccess, error)
	PutAccess(ctx context.Context, a *model.EstadiaAccess) error
	// HasLog reports whether a log row with the same (user, estadia, type,
	// timestamp) tuple already exists.
	HasLog(ctx context.Context, userID uuid.UUID, estadiaID, typ string, at time.Time) (bool, error)
	PutLog(ctx context.Context, l *model.EstadiaAccessLog) error
}

// FavoriteStore upserts user favorites.
type FavoriteStore interface {
	Put(ctx context.Context, f *model.Favorite) error
	Delete(ctx context.Context, userID uuid.UUID, targetID string) error
}

// NotificationStore inserts notifications if absent.
type NotificationStore interface {
	Has(ctx context.Context, id uuid.UUID) (bool, error)
	Put(ctx context.Context, n *model.Notification) error
}

// PresenceStore reads and writes user presence for conflict resolution.
type PresenceStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*model.Presence, error)
	Put(ctx context.Context, p *model.Presence) error
}
