package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/model"
)

// PeerRepo implements PeerRepository using PostgreSQL.
type PeerRepo struct{ db *DB }

// NewPeerRepo constructs a peer repository.
func NewPeerRepo(db *DB) *PeerRepo { return &PeerRepo{db: db} }

// Upsert inserts or overwrites a peer row; mutable fields are
// last-write-wins, first_seen is kept from the original row.
func (r *PeerRepo) Upsert(ctx context.Context, p *model.Peer) error {
	const q = `
INSERT INTO peers (id, static_public, signing_public, nickname, connected, reachable,
                   favorite, blocked, verified, metadata, first_seen, last_seen)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
  static_public=EXCLUDED.static_public,
  signing_public=EXCLUDED.signing_public,
  nickname=EXCLUDED.nickname,
  connected=EXCLUDED.connected,
  reachable=EXCLUDED.reachable,
  favorite=EXCLUDED.favorite,
  blocked=EXCLUDED.blocked,
  verified=EXCLUDED.verified,
  metadata=EXCLUDED.metadata,
  last_seen=EXCLUDED.last_seen`
	_, err := r.db.Pool.Exec(ctx, q,
		p.ID, p.StaticPublic, p.SigningPublic, p.Nickname, p.Connected, p.Reachable,
		p.Favorite, p.Blocked, p.Verified, p.Metadata, p.FirstSeen, p.LastSeen)
	return err
}

// Get selects a peer by id.
func (r *PeerRepo) Get(ctx context.Context, id string) (*model.Peer, error) {
	const q = `
SELECT id, static_public, signing_public, nickname, connected, reachable,
       favorite, blocked, verified, metadata, first_seen, last_seen
FROM peers WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var p model.Peer
	if err := row.Scan(&p.ID, &p.StaticPublic, &p.SigningPublic, &p.Nickname, &p.Connected, &p.Reachable,
		&p.Favorite, &p.Blocked, &p.Verified, &p.Metadata, &p.FirstSeen, &p.LastSeen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// List returns all peers ordered by last_seen descending.
func (r *PeerRepo) List(ctx context.Context) ([]model.Peer, error) {
	const q = `
SELECT id, static_public, signing_public, nickname, connected, reachable,
       favorite, blocked, verified, metadata, first_seen, last_seen
FROM peers ORDER BY last_seen DESC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Peer
	for rows.Next() {
		var p model.Peer
		if err := rows.Scan(&p.ID, &p.StaticPublic, &p.SigningPublic, &p.Nickname, &p.Connected, &p.Reachable,
			&p.Favorite, &p.Blocked, &p.Verified, &p.Metadata, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// IdentityRepo implements IdentityRepository using PostgreSQL.
type IdentityRepo struct{ db *DB }

// NewIdentityRepo constructs an identity repository.
func NewIdentityRepo(db *DB) *IdentityRepo { return &IdentityRepo{db: db} }

// Upsert inserts an identity; a conflicting fingerprint reactivates the
// existing row and touches last_seen instead of duplicating it. The row's
// id, user_id, festival_id and created_at are written back into ident so
// callers always hold the authoritative values after a conflict.
func (r *IdentityRepo) Upsert(ctx context.Context, ident *model.Identity) error {
	const q = `
INSERT INTO identities (id, user_id, festival_id, static_public, signing_public,
                        fingerprint, nickname, active, created_at, last_seen)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (fingerprint) DO UPDATE SET
  nickname=EXCLUDED.nickname,
  active=true,
  last_seen=EXCLUDED.last_seen
RETURNING id, user_id, festival_id, created_at`
	row := r.db.Pool.QueryRow(ctx, q,
		ident.ID, ident.UserID, ident.FestivalID, ident.StaticPublic, ident.SigningPublic,
		ident.Fingerprint, ident.Nickname, ident.Active, ident.CreatedAt, ident.LastSeen)
	return row.Scan(&ident.ID, &ident.UserID, &ident.FestivalID, &ident.CreatedAt)
}

// GetByFingerprint selects an identity by fingerprint.
func (r *IdentityRepo) GetByFingerprint(ctx context.Context, fp string) (*model.Identity, error) {
	const q = `
SELECT id, user_id, festival_id, static_public, signing_public,
       fingerprint, nickname, active, created_at, last_seen
FROM identities WHERE fingerprint=$1`
	row := r.db.Pool.QueryRow(ctx, q, fp)
	var id model.Identity
	if err := row.Scan(&id.ID, &id.UserID, &id.FestivalID, &id.StaticPublic, &id.SigningPublic,
		&id.Fingerprint, &id.Nickname, &id.Active, &id.CreatedAt, &id.LastSeen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &id, nil
}

// Deactivate clears the active flag; identities are never hard-deleted.
func (r *IdentityRepo) Deactivate(ctx context.Context, fp string) error {
	const q = `UPDATE identities SET active=false WHERE fingerprint=$1`
	tag, err := r.db.Pool.Exec(ctx, q, fp)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Insert persists a mesh message; duplicate ids are ignored since rows
// are immutable once stored.
func (r *MessageRepo) Insert(ctx context.Context, m *model.MeshMessage) error {
	const q = `
INSERT INTO mesh_messages (id, sender, recipient, room, type, content, private, ttl, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q,
		m.ID, m.Sender, m.Recipient, m.Room, string(m.Type), m.Content, m.Private, m.TTL, m.CreatedAt)
	return err
}

// Get selects a message by id.
func (r *MessageRepo) Get(ctx context.Context, id uuid.UUID) (*model.MeshMessage, error) {
	const q = `
SELECT id, sender, recipient, room, type, content, private, ttl, created_at
FROM mesh_messages WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var m model.MeshMessage
	var typ string
	if err := row.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Room, &typ, &m.Content, &m.Private, &m.TTL, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	m.Type = model.MessageType(typ)
	return &m, nil
}

// ListRoom returns the newest messages for a room.
func (r *MessageRepo) ListRoom(ctx context.Context, room string, limit int) ([]model.MeshMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, sender, recipient, room, type, content, private, ttl, created_at
FROM mesh_messages WHERE room=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MeshMessage
	for rows.Next() {
		var m model.MeshMessage
		var typ string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Room, &typ, &m.Content, &m.Private, &m.TTL, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = model.MessageType(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}
