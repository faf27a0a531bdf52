package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/events"
	"github.com/openfesta/festmesh/internal/model"
	"github.com/openfesta/festmesh/internal/peers"
	"github.com/openfesta/festmesh/internal/repository"
)

// SyncEnqueuer appends locally-produced events to the offline sync queue.
// Implemented by syncq.Engine.
type SyncEnqueuer interface {
	Enqueue(ctx context.Context, userID uuid.UUID, typ model.SyncType, payload any, priority int, identityID uuid.NullUUID) (uuid.UUID, error)
}

// Router persists mesh messages and dispatches them to type handlers.
type Router struct {
	log      *zap.Logger
	dir      *peers.Directory
	messages repository.MessageRepository
	tickets  repository.TicketStore
	chat     repository.ChatStore
	estadias repository.EstadiaStore
	queue    SyncEnqueuer
	bus      *events.Bus
	online   func() bool
}

// NewRouter wires the router's collaborators. online reports the current
// connectivity state owned by the surrounding service.
func NewRouter(
	log *zap.Logger,
	dir *peers.Directory,
	messages repository.MessageRepository,
	tickets repository.TicketStore,
	chat repository.ChatStore,
	estadias repository.EstadiaStore,
	queue SyncEnqueuer,
	bus *events.Bus,
	online func() bool,
) *Router {
	return &Router{
		log:      log,
		dir:      dir,
		messages: messages,
		tickets:  tickets,
		chat:     chat,
		estadias: estadias,
		queue:    queue,
		bus:      bus,
		online:   online,
	}
}

// ticketAction is the JSON content of a ticket-type message.
type ticketAction struct {
	Action   string    `json:"action"` // scan | transfer | validate
	TicketID uuid.UUID `json:"ticket_id"`
	NewOwner uuid.UUID `json:"new_owner,omitempty"`
}

// estadiaAction is the JSON content of an estadia-type message.
type estadiaAction struct {
	Action    string    `json:"action"` // request_access | grant_access | log_entry | log_exit
	EstadiaID string    `json:"estadia_id"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Dispatch resolves the sender and, for directed messages, the
// recipient, persists the message and routes it by type. Business-rule
// rejections are answered with a system message to the sender instead
// of an error to the transport layer.
func (r *Router) Dispatch(ctx context.Context, msg *model.MeshMessage) error {
	sender, err := r.dir.LookupIdentityByFingerprint(ctx, msg.Sender)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("%w: sender %s", errs.ErrUnknownSender, msg.Sender)
		}
		return err
	}
	if !msg.Broadcast() {
		if _, err := r.dir.LookupIdentityByFingerprint(ctx, msg.Recipient); err != nil {
			if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrInvalidInput) {
				return fmt.Errorf("%w: recipient %s", errs.ErrUnknownRecipient, msg.Recipient)
			}
			return err
		}
	}

	if err := r.messages.Insert(ctx, msg); err != nil {
		return err
	}

	routeErr := r.route(ctx, sender, msg)
	if routeErr != nil {
		if errors.Is(routeErr, errs.ErrBusinessRule) || errors.Is(routeErr, errs.ErrNotFound) {
			r.sendSystemReply(ctx, msg.Sender, routeErr.Error())
			routeErr = nil
		} else {
			return routeErr
		}
	}

	r.mirrorToRoom(ctx, sender, msg)

	r.bus.Publish(events.MessageProcessed, map[string]any{
		"message_id": msg.ID.String(),
		"type":       string(msg.Type),
		"broadcast":  msg.Broadcast(),
	})
	return nil
}

func (r *Router) route(ctx context.Context, sender *model.Identity, msg *model.MeshMessage) error {
	switch msg.Type {
	case model.MessageTicket:
		return r.handleTicket(ctx, sender, msg)
	case model.MessageEstadia:
		return r.handleEstadia(ctx, sender, msg)
	case model.MessageSystem, model.MessageDeliveryAck:
		// Terminal types: recorded only.
		return nil
	default:
		// Stored but not further processed.
		return nil
	}
}

func (r *Router) handleTicket(ctx context.Context, sender *model.Identity, msg *model.MeshMessage) error {
	var act ticketAction
	if err := json.Unmarshal(msg.Content, &act); err != nil {
		return fmt.Errorf("%w: ticket content: %v", errs.ErrInvalidInput, err)
	}
	if act.TicketID == uuid.Nil {
		return fmt.Errorf("%w: empty ticket id", errs.ErrInvalidInput)
	}

	switch act.Action {
	case "scan":
		if err := r.checkTicket(ctx, act.TicketID, msg.CreatedAt); err != nil {
			return err
		}
		_, err := r.queue.Enqueue(ctx, sender.UserID, model.SyncTicketScan, model.TicketScanPayload{
			TicketID:  act.TicketID,
			ScannedAt: msg.CreatedAt,
		}, 8, uuid.NullUUID{UUID: sender.ID, Valid: true})
		return err
	case "transfer":
		if act.NewOwner == uuid.Nil {
			return fmt.Errorf("%w: transfer needs new_owner", errs.ErrInvalidInput)
		}
		if err := r.checkTicket(ctx, act.TicketID, msg.CreatedAt); err != nil {
			return err
		}
		return r.tickets.Transfer(ctx, act.TicketID, act.NewOwner)
	case "validate":
		err := r.checkTicket(ctx, act.TicketID, msg.CreatedAt)
		result := "valid"
		if err != nil {
			result = err.Error()
		}
		r.sendSystemReply(ctx, msg.Sender, fmt.Sprintf("ticket %s: %s", act.TicketID, result))
		return nil
	default:
		return fmt.Errorf("%w: unknown ticket action %q", errs.ErrInvalidInput, act.Action)
	}
}

// checkTicket validates active status and the validity window.
func (r *Router) checkTicket(ctx context.Context, ticketID uuid.UUID, at time.Time) error {
	t, err := r.tickets.Get(ctx, ticketID)
	if err != nil {
		return err
	}
	if !t.Active {
		return fmt.Errorf("%w: ticket inactive", errs.ErrBusinessRule)
	}
	if at.Before(t.ValidFrom) || at.After(t.ValidUntil) {
		return fmt.Errorf("%w: ticket outside validity window", errs.ErrBusinessRule)
	}
	return nil
}

func (r *Router) handleEstadia(ctx context.Context, sender *model.Identity, msg *model.MeshMessage) error {
	var act estadiaAction
	if err := json.Unmarshal(msg.Content, &act); err != nil {
		return fmt.Errorf("%w: estadia content: %v", errs.ErrInvalidInput, err)
	}
	if act.EstadiaID == "" {
		return fmt.Errorf("%w: empty estadia id", errs.ErrInvalidInput)
	}

	switch act.Action {
	case "request_access":
		granted, reason, err := r.ValidateAccess(ctx, sender.UserID, act.EstadiaID)
		if err != nil {
			return err
		}
		if !granted {
			return fmt.Errorf("%w: access %s", errs.ErrBusinessRule, reason)
		}
		r.sendSystemReply(ctx, msg.Sender, fmt.Sprintf("access granted: %s", act.EstadiaID))
		return nil
	case "grant_access":
		_, err := r.queue.Enqueue(ctx, sender.UserID, model.SyncEstadiaAccess, model.EstadiaAccessPayload{
			EstadiaID: act.EstadiaID,
			Active:    true,
			ExpiresAt: act.ExpiresAt,
		}, 7, uuid.NullUUID{UUID: sender.ID, Valid: true})
		return err
	case "log_entry", "log_exit":
		granted, reason, err := r.ValidateAccess(ctx, sender.UserID, act.EstadiaID)
		if err != nil {
			return err
		}
		if !granted {
			return fmt.Errorf("%w: access %s", errs.ErrBusinessRule, reason)
		}
		typ := "entry"
		if act.Action == "log_exit" {
			typ = "exit"
		}
		_, err = r.queue.Enqueue(ctx, sender.UserID, model.SyncAccessLog, model.AccessLogPayload{
			EstadiaID: act.EstadiaID,
			Type:      typ,
			LoggedAt:  msg.CreatedAt,
		}, 6, uuid.NullUUID{UUID: sender.ID, Valid: true})
		return err
	default:
		return fmt.Errorf("%w: unknown estadia action %q", errs.ErrInvalidInput, act.Action)
	}
}

// ValidateAccess checks the caller's grant for an estadia: existence,
// active flag and expiry. reason is one of not_found, inactive, expired.
func (r *Router) ValidateAccess(ctx context.Context, userID uuid.UUID, estadiaID string) (granted bool, reason string, err error) {
	a, err := r.estadias.GetAccess(ctx, userID, estadiaID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, "not_found", nil
		}
		return false, "", err
	}
	if !a.Active {
		return false, "inactive", nil
	}
	if a.ExpiresAt.Before(time.Now()) {
		return false, "expired", nil
	}
	return true, "", nil
}

// mirrorToRoom copies a room-scoped message into the authoritative chat
// store while online, and enqueues a sync item either way so the mirror
// survives a transient write failure.
func (r *Router) mirrorToRoom(ctx context.Context, sender *model.Identity, msg *model.MeshMessage) {
	if msg.Room == "" || !r.online() {
		return
	}
	exists, err := r.chat.RoomExists(ctx, msg.Room)
	if err != nil || !exists {
		if err != nil {
			r.log.Warn("room lookup failed", zap.String("room", msg.Room), zap.Error(err))
		}
		return
	}

	if err := r.chat.PutMessage(ctx, &model.ChatMessage{
		ID:        msg.ID,
		RoomID:    msg.Room,
		UserID:    sender.UserID,
		Body:      msg.Content,
		CreatedAt: msg.CreatedAt,
	}); err != nil {
		r.log.Warn("chat mirror failed, queued for sync", zap.String("room", msg.Room), zap.Error(err))
	}

	if _, err := r.queue.Enqueue(ctx, sender.UserID, model.SyncMessage, model.MessagePayload{
		MessageID: msg.ID,
		RoomID:    msg.Room,
		Body:      msg.Content,
		SentAt:    msg.CreatedAt,
	}, 5, uuid.NullUUID{UUID: sender.ID, Valid: true}); err != nil {
		r.log.Warn("enqueue chat mirror failed", zap.Error(err))
	}
}

// sendSystemReply emits a private system message back to a peer.
// Best-effort: failures are logged, never propagated.
func (r *Router) sendSystemReply(ctx context.Context, recipient, text string) {
	msg, err := NewMessage("system", recipient, "", model.MessageSystem, []byte(text), true, 1)
	if err != nil {
		r.log.Warn("build system reply", zap.Error(err))
		return
	}
	if err := r.messages.Insert(ctx, msg); err != nil {
		r.log.Warn("store system reply", zap.Error(err))
		return
	}
	r.bus.Publish(events.SystemMessageSent, map[string]any{
		"recipient": recipient,
		"text":      text,
	})
}

// SendDeliveryAck emits a private, TTL-bounded acknowledgment for a
// received message. Best-effort: failures are logged, never propagated.
func (r *Router) SendDeliveryAck(ctx context.Context, sender, recipient string, originalID uuid.UUID) {
	if recipient == "" || recipient == model.BroadcastRecipient {
		r.log.Debug("skip ack for broadcast message", zap.String("message", originalID.String()))
		return
	}
	content, _ := json.Marshal(map[string]string{"original_message_id": originalID.String()})
	msg, err := NewMessage(sender, recipient, "", model.MessageDeliveryAck, content, true, 1)
	if err != nil {
		r.log.Warn("build delivery ack", zap.Error(err))
		return
	}
	if err := r.messages.Insert(ctx, msg); err != nil {
		r.log.Warn("store delivery ack", zap.Error(err))
	}
}
