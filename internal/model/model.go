// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// BroadcastRecipient is the sentinel recipient fingerprint marking a
// message as addressed to every reachable peer.
const BroadcastRecipient = "broadcast"

// MaxTTL is the hop budget ceiling for mesh messages.
const MaxTTL = 7

// MessageType discriminates mesh message routing.
type MessageType string

// Mesh message types.
const (
	MessageText        MessageType = "text"
	MessageImage       MessageType = "image"
	MessageFile        MessageType = "file"
	MessageLocation    MessageType = "location"
	MessageTicket      MessageType = "ticket"
	MessageEstadia     MessageType = "estadia"
	MessageSystem      MessageType = "system"
	MessageHandshake1  MessageType = "handshake_1"
	MessageHandshake2  MessageType = "handshake_2"
	MessageHandshake3  MessageType = "handshake_3"
	MessageDeliveryAck MessageType = "delivery_ack"
	MessageReceipt     MessageType = "receipt"
)

// Identity is a cryptographic persona bound to one user on one festival.
// Fingerprint is derived from the static public key; re-registering the
// same fingerprint reactivates the identity instead of duplicating it.
type Identity struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	FestivalID    uuid.UUID
	StaticPublic  []byte
	SigningPublic []byte
	Fingerprint   string // 64 hex chars
	Nickname      string
	Active        bool
	CreatedAt     time.Time
	LastSeen      time.Time
}

// Peer is a device/identity known to the local router, independent of
// festival scoping. ID is caller-supplied and immutable; mutable fields
// are last-write-wins on upsert.
type Peer struct {
	ID            string
	StaticPublic  []byte
	SigningPublic []byte
	Nickname      string
	Connected     bool
	Reachable     bool
	Favorite      bool
	Blocked       bool
	Verified      bool
	Metadata      map[string]string
	FirstSeen     time.Time
	LastSeen      time.Time
}

// MeshMessage is one unit of mesh traffic, immutable once stored.
type MeshMessage struct {
	ID        uuid.UUID
	Sender    string // sender identity fingerprint
	Recipient string // empty or BroadcastRecipient => broadcast
	Room      string
	Type      MessageType
	Content   []byte // plaintext or envelope-encrypted, opaque here
	Private   bool
	TTL       int // hop budget, 0..MaxTTL
	CreatedAt time.Time
}

// Broadcast reports whether the message is addressed to every peer.
func (m *MeshMessage) Broadcast() bool {
	return m.Recipient == "" || m.Recipient == BroadcastRecipient
}

// SyncType discriminates offline sync queue items.
type SyncType string

// Sync item types.
const (
	SyncMessage       SyncType = "message"
	SyncPresence      SyncType = "presence"
	SyncAccessLog     SyncType = "access_log"
	SyncTicketScan    SyncType = "ticket_scan"
	SyncEstadiaAccess SyncType = "estadia_access"
	SyncFavorite      SyncType = "favorite"
	SyncLocation      SyncType = "location"
	SyncNotification  SyncType = "notification"
)

// SyncItem is a locally-produced event awaiting application to the
// authoritative store.
type SyncItem struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	IdentityID    uuid.NullUUID
	Type          SyncType
	Payload       []byte // JSON, decoded per Type at dequeue time
	Priority      int    // 1..10, higher drains first
	Processed     bool
	AttemptCount  int
	MaxAttempts   int
	LastError     string
	CreatedAt     time.Time
	LastAttempt   time.Time
	NextAttemptAt time.Time
	ProcessedAt   time.Time
}

// Ticket is the slice of the authoritative ticket row the router needs.
type Ticket struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	FestivalID uuid.UUID
	Active     bool
	ValidFrom  time.Time
	ValidUntil time.Time
}

// ChatRoom is an authoritative chat room reference.
type ChatRoom struct {
	ID         string
	FestivalID uuid.UUID
	Name       string
}

// ChatMessage is a mirrored chat row; ID is client-generated so mirror
// writes stay idempotent.
type ChatMessage struct {
	ID        uuid.UUID
	RoomID    string
	UserID    uuid.UUID
	Body      []byte
	CreatedAt time.Time
}

// EstadiaAccess is an access grant for a lodging/estadia area.
type EstadiaAccess struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	EstadiaID string
	Active    bool
	ExpiresAt time.Time
}

// EstadiaAccessLog records one entry/exit event against a grant.
type EstadiaAccessLog struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	EstadiaID string
	Type      string // entry | exit | scan
	LoggedAt  time.Time
}

// TicketScanLog records one applied ticket scan.
type TicketScanLog struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TicketID  uuid.UUID
	ScannedAt time.Time
}

// Favorite marks a user's favorite target (vendor, stage, peer).
type Favorite struct {
	UserID    uuid.UUID
	TargetID  string
	Kind      string
	CreatedAt time.Time
}

// Notification is a queued user notification row.
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Title     string
	Body      string
	CreatedAt time.Time
}

// Presence is the authoritative user presence row, subject to conflict
// resolution on sync.
type Presence struct {
	UserID    uuid.UUID
	Status    string
	Location  string
	Tags      []string
	UpdatedAt time.Time
}
