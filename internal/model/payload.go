package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/openfesta/festmesh/internal/errs"
)

// SyncPayload is the decoded form of a queue item payload. Exactly one
// variant is produced per SyncType by DecodePayload.
type SyncPayload interface {
	syncPayload()
}

// MessagePayload mirrors a mesh chat message into the authoritative store.
type MessagePayload struct {
	MessageID uuid.UUID `json:"message_id"`
	RoomID    string    `json:"room_id"`
	Body      []byte    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// PresencePayload updates user presence; resolved against server state.
type PresencePayload struct {
	Status   string   `json:"status"`
	Location string   `json:"location"`
	Tags     []string `json:"tags,omitempty"`
}

// AccessLogPayload records an estadia entry/exit observed offline.
type AccessLogPayload struct {
	EstadiaID string    `json:"estadia_id"`
	Type      string    `json:"type"` // entry | exit | scan
	LoggedAt  time.Time `json:"logged_at"`
}

// TicketScanPayload records a ticket scan observed offline.
type TicketScanPayload struct {
	TicketID  uuid.UUID `json:"ticket_id"`
	ScannedAt time.Time `json:"scanned_at"`
}

// EstadiaAccessPayload grants or revokes estadia access.
type EstadiaAccessPayload struct {
	EstadiaID string    `json:"estadia_id"`
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FavoritePayload marks or unmarks a favorite target.
type FavoritePayload struct {
	TargetID string `json:"target_id"`
	Kind     string `json:"kind"`
	Remove   bool   `json:"remove,omitempty"`
}

// LocationPayload is a coarse last-known-location update.
type LocationPayload struct {
	Location   string    `json:"location"`
	ObservedAt time.Time `json:"observed_at"`
}

// NotificationPayload creates a notification row.
type NotificationPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
}

func (*MessagePayload) syncPayload()       {}
func (*PresencePayload) syncPayload()      {}
func (*AccessLogPayload) syncPayload()     {}
func (*TicketScanPayload) syncPayload()    {}
func (*EstadiaAccessPayload) syncPayload() {}
func (*FavoritePayload) syncPayload()      {}
func (*LocationPayload) syncPayload()      {}
func (*NotificationPayload) syncPayload()  {}

// DecodePayload decodes raw JSON into the variant for the given sync type.
// Unknown types and malformed JSON fail with ErrInvalidInput so the drain
// loop can record the item as failed instead of applying garbage.
func DecodePayload(typ SyncType, raw []byte) (SyncPayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", errs.ErrInvalidInput)
	}
	var p SyncPayload
	switch typ {
	case SyncMessage:
		p = &MessagePayload{}
	case SyncPresence:
		p = &PresencePayload{}
	case SyncAccessLog:
		p = &AccessLogPayload{}
	case SyncTicketScan:
		p = &TicketScanPayload{}
	case SyncEstadiaAccess:
		p = &EstadiaAccessPayload{}
	case SyncFavorite:
		p = &FavoritePayload{}
	case SyncLocation:
		p = &LocationPayload{}
	case SyncNotification:
		p = &NotificationPayload{}
	default:
		return nil, fmt.Errorf("%w: unknown sync type %q", errs.ErrInvalidInput, typ)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", errs.ErrInvalidInput, typ, err)
	}
	return p, nil
}
