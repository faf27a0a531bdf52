package syncq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/model"
	"github.com/openfesta/festmesh/internal/repository"
)

// Applier applies one decoded queue item to the authoritative store.
// Implementations must be idempotent: re-applying the same item after a
// crash between "apply" and "mark processed" must not duplicate effects.
type Applier interface {
	Apply(ctx context.Context, item *model.SyncItem, payload model.SyncPayload) error
}

// StoreAppliers routes items to the authoritative store by sync type.
type StoreAppliers struct {
	log           *zap.Logger
	strategy      Strategy
	tickets       repository.TicketStore
	chat          repository.ChatStore
	estadias      repository.EstadiaStore
	favorites     repository.FavoriteStore
	notifications repository.NotificationStore
	presence      repository.PresenceStore

	// OnManual receives conflicts under the Manual strategy. Optional.
	OnManual func(Conflict)
}

// NewStoreAppliers constructs the applier set with the given resolution
// strategy (empty means server_wins).
func NewStoreAppliers(
	log *zap.Logger,
	strategy Strategy,
	tickets repository.TicketStore,
	chat repository.ChatStore,
	estadias repository.EstadiaStore,
	favorites repository.FavoriteStore,
	notifications repository.NotificationStore,
	presence repository.PresenceStore,
) *StoreAppliers {
	return &StoreAppliers{
		log:           log,
		strategy:      strategy,
		tickets:       tickets,
		chat:          chat,
		estadias:      estadias,
		favorites:     favorites,
		notifications: notifications,
		presence:      presence,
	}
}

// Apply dispatches by sync type. Existing target state counts as success.
func (a *StoreAppliers) Apply(ctx context.Context, item *model.SyncItem, payload model.SyncPayload) error {
	switch p := payload.(type) {
	case *model.MessagePayload:
		return a.applyMessage(ctx, p)
	case *model.PresencePayload:
		return a.applyPresence(ctx, item, p)
	case *model.AccessLogPayload:
		return a.applyAccessLog(ctx, item, p)
	case *model.TicketScanPayload:
		return a.applyTicketScan(ctx, item, p)
	case *model.EstadiaAccessPayload:
		return a.applyEstadiaAccess(ctx, item, p)
	case *model.FavoritePayload:
		return a.applyFavorite(ctx, item, p)
	case *model.LocationPayload:
		return a.applyLocation(ctx, item, p)
	case *model.NotificationPayload:
		return a.applyNotification(ctx, item, p)
	default:
		return fmt.Errorf("%w: no applier for %T", errs.ErrInvalidInput, payload)
	}
}

func (a *StoreAppliers) applyMessage(ctx context.Context, p *model.MessagePayload) error {
	exists, err := a.chat.HasMessage(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	// UserID lives on the item, not the payload; the chat store keys the
	// mirror by message id, so senders stay attached via the row below.
	return a.chat.PutMessage(ctx, &model.ChatMessage{
		ID:        p.MessageID,
		RoomID:    p.RoomID,
		Body:      p.Body,
		CreatedAt: p.SentAt,
	})
}

func (a *StoreAppliers) applyPresence(ctx context.Context, item *model.SyncItem, p *model.PresencePayload) error {
	local := map[string]any{
		"status":   p.Status,
		"location": p.Location,
		"tags":     p.Tags,
	}
	server := map[string]any{}
	cur, err := a.presence.Get(ctx, item.UserID)
	if err == nil {
		server = map[string]any{
			"status":   cur.Status,
			"location": cur.Location,
			"tags":     cur.Tags,
		}
	} else if !isNotFound(err) {
		return err
	}

	resolved, manual, err := Resolve(a.strategy, item.ID.String(), local, server)
	if err != nil {
		return err
	}
	if manual != nil {
		if a.OnManual != nil {
			a.OnManual(*manual)
		}
		a.log.Info("presence conflict deferred for manual resolution", zap.String("item", item.ID.String()))
		return nil
	}
	return a.presence.Put(ctx, &model.Presence{
		UserID:    item.UserID,
		Status:    stringField(resolved, "status"),
		Location:  stringField(resolved, "location"),
		Tags:      stringList(resolved, "tags"),
		UpdatedAt: time.Now().UTC(),
	})
}

func (a *StoreAppliers) applyAccessLog(ctx context.Context, item *model.SyncItem, p *model.AccessLogPayload) error {
	exists, err := a.estadias.HasLog(ctx, item.UserID, p.EstadiaID, p.Type, p.LoggedAt)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.estadias.PutLog(ctx, &model.EstadiaAccessLog{
		ID:        item.ID,
		UserID:    item.UserID,
		EstadiaID: p.EstadiaID,
		Type:      p.Type,
		LoggedAt:  p.LoggedAt,
	})
}

func (a *StoreAppliers) applyTicketScan(ctx context.Context, item *model.SyncItem, p *model.TicketScanPayload) error {
	exists, err := a.tickets.HasScan(ctx, item.UserID, p.TicketID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.tickets.LogScan(ctx, &model.TicketScanLog{
		ID:        item.ID,
		UserID:    item.UserID,
		TicketID:  p.TicketID,
		ScannedAt: p.ScannedAt,
	})
}

func (a *StoreAppliers) applyEstadiaAccess(ctx context.Context, item *model.SyncItem, p *model.EstadiaAccessPayload) error {
	return a.estadias.PutAccess(ctx, &model.EstadiaAccess{
		ID:        item.ID,
		UserID:    item.UserID,
		EstadiaID: p.EstadiaID,
		Active:    p.Active,
		ExpiresAt: p.ExpiresAt,
	})
}

func (a *StoreAppliers) applyFavorite(ctx context.Context, item *model.SyncItem, p *model.FavoritePayload) error {
	if p.Remove {
		return a.favorites.Delete(ctx, item.UserID, p.TargetID)
	}
	return a.favorites.Put(ctx, &model.Favorite{
		UserID:    item.UserID,
		TargetID:  p.TargetID,
		Kind:      p.Kind,
		CreatedAt: item.CreatedAt,
	})
}

func (a *StoreAppliers) applyLocation(ctx context.Context, item *model.SyncItem, p *model.LocationPayload) error {
	local := map[string]any{"location": p.Location}
	server := map[string]any{}
	cur, err := a.presence.Get(ctx, item.UserID)
	status := ""
	var tags []string
	if err == nil {
		server["location"] = cur.Location
		status, tags = cur.Status, cur.Tags
	} else if !isNotFound(err) {
		return err
	}

	resolved, manual, err := Resolve(a.strategy, item.ID.String(), local, server)
	if err != nil {
		return err
	}
	if manual != nil {
		if a.OnManual != nil {
			a.OnManual(*manual)
		}
		return nil
	}
	return a.presence.Put(ctx, &model.Presence{
		UserID:    item.UserID,
		Status:    status,
		Location:  stringField(resolved, "location"),
		Tags:      tags,
		UpdatedAt: time.Now().UTC(),
	})
}

func (a *StoreAppliers) applyNotification(ctx context.Context, item *model.SyncItem, p *model.NotificationPayload) error {
	id := p.NotificationID
	if id.IsNil() {
		id = item.ID
	}
	exists, err := a.notifications.Has(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.notifications.Put(ctx, &model.Notification{
		ID:        id,
		UserID:    item.UserID,
		Title:     p.Title,
		Body:      p.Body,
		CreatedAt: item.CreatedAt,
	})
}

func isNotFound(err error) bool { return errors.Is(err, errs.ErrNotFound) }

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func stringList(m map[string]any, key string) []string {
	switch l := m[key].(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, v := range l {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
