// Package mesh builds, seals and routes mesh messages.
package mesh

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/model"
)

// NewMessage constructs a mesh message. TTL is clamped to [0, MaxTTL];
// an empty or sentinel recipient marks the message as broadcast.
func NewMessage(sender, recipient, room string, typ model.MessageType, content []byte, private bool, ttl int) (*model.MeshMessage, error) {
	if sender == "" {
		return nil, fmt.Errorf("%w: empty sender", errs.ErrInvalidInput)
	}
	if typ == "" {
		return nil, fmt.Errorf("%w: empty message type", errs.ErrInvalidInput)
	}
	if ttl < 0 {
		ttl = 0
	}
	if ttl > model.MaxTTL {
		ttl = model.MaxTTL
	}
	return &model.MeshMessage{
		ID:        uuid.Must(uuid.NewV4()),
		Sender:    sender,
		Recipient: recipient,
		Room:      room,
		Type:      typ,
		Content:   content,
		Private:   private,
		TTL:       ttl,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Relay returns a copy with the hop budget decremented, or false when the
// budget is exhausted and the message must be dropped.
func Relay(m *model.MeshMessage) (*model.MeshMessage, bool) {
	if m.TTL <= 0 {
		return nil, false
	}
	out := *m
	out.TTL = m.TTL - 1
	return &out, true
}
