package mesh

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid/v5"

	"github.com/openfesta/festmesh/internal/crypto/meshcrypto"
	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/model"
)

// envelope is the peer-to-peer wire form of a mesh message. Deterministic
// CBOR keeps the same logical message byte-identical across encoders.
type envelope struct {
	ID        string `cbor:"1,keyasint"`
	Sender    string `cbor:"2,keyasint"`
	Recipient string `cbor:"3,keyasint,omitempty"`
	Room      string `cbor:"4,keyasint,omitempty"`
	Type      string `cbor:"5,keyasint"`
	Content   []byte `cbor:"6,keyasint"`
	Private   bool   `cbor:"7,keyasint,omitempty"`
	TTL       int    `cbor:"8,keyasint"`
	SentAt    int64  `cbor:"9,keyasint"` // unix millis
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("mesh: CBOR encoder initialization failed: " + err.Error())
	}
}

// SealEnvelope encodes the message and encrypts it under a transport key
// produced by the handshake. The nonce must be unique per (key, message).
func SealEnvelope(m *model.MeshMessage, key, nonce []byte) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", errs.ErrInvalidInput)
	}
	env := envelope{
		ID:        m.ID.String(),
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Room:      m.Room,
		Type:      string(m.Type),
		Content:   m.Content,
		Private:   m.Private,
		TTL:       m.TTL,
		SentAt:    m.CreatedAt.UnixMilli(),
	}
	raw, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return meshcrypto.Encrypt(raw, key, nonce, nil)
}

// OpenEnvelope decrypts and decodes a sealed envelope.
func OpenEnvelope(sealed, key, nonce []byte) (*model.MeshMessage, error) {
	raw, err := meshcrypto.Decrypt(sealed, key, nonce, nil)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", errs.ErrInvalidInput, err)
	}
	id, err := uuid.FromString(env.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope id: %v", errs.ErrInvalidInput, err)
	}
	ttl := env.TTL
	if ttl < 0 {
		ttl = 0
	}
	if ttl > model.MaxTTL {
		ttl = model.MaxTTL
	}
	return &model.MeshMessage{
		ID:        id,
		Sender:    env.Sender,
		Recipient: env.Recipient,
		Room:      env.Room,
		Type:      model.MessageType(env.Type),
		Content:   env.Content,
		Private:   env.Private,
		TTL:       ttl,
		CreatedAt: time.UnixMilli(env.SentAt).UTC(),
	}, nil
}
