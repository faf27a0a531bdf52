package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/model"
)

// Authoritative store repositories. These tables belong to the wider
// product; the mesh core only needs the narrow operations below.

// TicketRepo implements TicketStore using PostgreSQL.
type TicketRepo struct{ db *DB }

// NewTicketRepo constructs a ticket store.
func NewTicketRepo(db *DB) *TicketRepo { return &TicketRepo{db: db} }

// Get selects a ticket by id.
func (r *TicketRepo) Get(ctx context.Context, id uuid.UUID) (*model.Ticket, error) {
	const q = `SELECT id, owner_id, festival_id, active, valid_from, valid_until FROM tickets WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var t model.Ticket
	if err := row.Scan(&t.ID, &t.OwnerID, &t.FestivalID, &t.Active, &t.ValidFrom, &t.ValidUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// HasScan reports whether a scan log exists for (user, ticket).
func (r *TicketRepo) HasScan(ctx context.Context, userID, ticketID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM ticket_scan_logs WHERE user_id=$1 AND ticket_id=$2)`
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, q, userID, ticketID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// LogScan inserts a scan log row; duplicate ids are ignored.
func (r *TicketRepo) LogScan(ctx context.Context, l *model.TicketScanLog) error {
	const q = `
INSERT INTO ticket_scan_logs (id, user_id, ticket_id, scanned_at)
VALUES ($1,$2,$3,$4) ON CONFLICT (id) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, l.ID, l.UserID, l.TicketID, l.ScannedAt)
	return err
}

// Transfer reassigns ticket ownership.
func (r *TicketRepo) Transfer(ctx context.Context, ticketID, newOwner uuid.UUID) error {
	const q = `UPDATE tickets SET owner_id=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, ticketID, newOwner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ChatRepo implements ChatStore using PostgreSQL.
type ChatRepo struct{ db *DB }

// NewChatRepo constructs a chat store.
func NewChatRepo(db *DB) *ChatRepo { return &ChatRepo{db: db} }

// RoomExists reports whether the room id is known.
func (r *ChatRepo) RoomExists(ctx context.Context, roomID string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM chat_rooms WHERE id=$1)`
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, q, roomID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// HasMessage reports whether a chat message with the id already exists.
func (r *ChatRepo) HasMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM chat_messages WHERE id=$1)`
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// PutMessage mirrors a mesh message into the chat store; duplicate ids
// are ignored to keep re-delivery idempotent.
func (r *ChatRepo) PutMessage(ctx context.Context, m *model.ChatMessage) error {
	const q = `
INSERT INTO chat_messages (id, room_id, user_id, body, created_at)
VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, m.ID, m.RoomID, m.UserID, m.Body, m.CreatedAt)
	return err
}

// EstadiaRepo implements EstadiaStore using PostgreSQL.
type EstadiaRepo struct{ db *DB }

// NewEstadiaRepo constructs an estadia store.
func NewEstadiaRepo(db *DB) *EstadiaRepo { return &EstadiaRepo{db: db} }

// GetAccess selects the grant for (user, estadia).
func (r *EstadiaRepo) GetAccess(ctx context.Context, userID uuid.UUID, estadiaID string) (*model.EstadiaAccess, error) {
	const q = `
SELECT id, user_id, estadia_id, active, expires_at
FROM estadia_access WHERE user_id=$1 AND estadia_id=$2`
	row := r.db.Pool.QueryRow(ctx, q, userID, estadiaID)
	var a model.EstadiaAccess
	if err := row.Scan(&a.ID, &a.UserID, &a.EstadiaID, &a.Active, &a.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// PutAccess upserts an access grant keyed by (user, estadia).
func (r *EstadiaRepo) PutAccess(ctx context.Context, a *model.EstadiaAccess) error {
	const q = `
INSERT INTO estadia_access (id, user_id, estadia_id, active, expires_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id, estadia_id) DO UPDATE SET active=EXCLUDED.active, expires_at=EXCLUDED.expires_at`
	_, err := r.db.Pool.Exec(ctx, q, a.ID, a.UserID, a.EstadiaID, a.Active, a.ExpiresAt)
	return err
}

// HasLog reports whether a log with the same tuple already exists.
func (r *EstadiaRepo) HasLog(ctx context.Context, userID uuid.UUID, estadiaID, typ string, at time.Time) (bool, error) {
	const q = `
SELECT EXISTS(SELECT 1 FROM estadia_access_logs WHERE user_id=$1 AND estadia_id=$2 AND type=$3 AND logged_at=$4)`
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, q, userID, estadiaID, typ, at).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// PutLog inserts an access log row; duplicate ids are ignored.
func (r *EstadiaRepo) PutLog(ctx context.Context, l *model.EstadiaAccessLog) error {
	const q = `
INSERT INTO estadia_access_logs (id, user_id, estadia_id, type, logged_at)
VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, l.ID, l.UserID, l.EstadiaID, l.Type, l.LoggedAt)
	return err
}

// FavoriteRepo implements FavoriteStore using PostgreSQL.
type FavoriteRepo struct{ db *DB }

// NewFavoriteRepo constructs a favorite store.
func NewFavoriteRepo(db *DB) *FavoriteRepo { return &FavoriteRepo{db: db} }

// Put upserts a favorite; re-marking is a no-op.
func (r *FavoriteRepo) Put(ctx context.Context, f *model.Favorite) error {
	const q = `
INSERT INTO user_favorites (user_id, target_id, kind, created_at)
VALUES ($1,$2,$3,$4) ON CONFLICT (user_id, target_id) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, f.UserID, f.TargetID, f.Kind, f.CreatedAt)
	return err
}

// Delete removes a favorite; deleting an absent row is a no-op.
func (r *FavoriteRepo) Delete(ctx context.Context, userID uuid.UUID, targetID string) error {
	const q = `DELETE FROM user_favorites WHERE user_id=$1 AND target_id=$2`
	_, err := r.db.Pool.Exec(ctx, q, userID, targetID)
	return err
}

// NotificationRepo implements NotificationStore using PostgreSQL.
type NotificationRepo struct{ db *DB }

// NewNotificationRepo constructs a notification store.
func NewNotificationRepo(db *DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Has reports whether a notification with the id exists.
func (r *NotificationRepo) Has(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM notifications WHERE id=$1)`
	var exists bool
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Put inserts a notification; duplicate ids are ignored.
func (r *NotificationRepo) Put(ctx context.Context, n *model.Notification) error {
	const q = `
INSERT INTO notifications (id, user_id, title, body, created_at)
VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, n.ID, n.UserID, n.Title, n.Body, n.CreatedAt)
	return err
}

// PresenceRepo implements PresenceStore using PostgreSQL.
type PresenceRepo struct{ db *DB }

// NewPresenceRepo constructs a presence store.
func NewPresenceRepo(db *DB) *PresenceRepo { return &PresenceRepo{db: db} }

// Get selects the presence row for a user.
func (r *PresenceRepo) Get(ctx context.Context, userID uuid.UUID) (*model.Presence, error) {
	const q = `SELECT user_id, status, location, tags, updated_at FROM user_presence WHERE user_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, userID)
	var p model.Presence
	if err := row.Scan(&p.UserID, &p.Status, &p.Location, &p.Tags, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Put upserts the presence row.
func (r *PresenceRepo) Put(ctx context.Context, p *model.Presence) error {
	const q = `
INSERT INTO user_presence (user_id, status, location, tags, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id) DO UPDATE SET
  status=EXCLUDED.status, location=EXCLUDED.location, tags=EXCLUDED.tags, updated_at=EXCLUDED.updated_at`
	_, err := r.db.Pool.Exec(ctx, q, p.UserID, p.Status, p.Location, p.Tags, p.UpdatedAt)
	return err
}
