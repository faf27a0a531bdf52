// Package handshake implements the three-message mutual-authentication
// exchange (XX pattern) that derives a pair of transport keys.
//
// Message flow:
//
//	1: initiator -> responder  ephemeral public key
//	2: responder -> initiator  ephemeral || AEAD(static public key)
//	3: initiator -> responder  AEAD(static public key)
//
// Both sides then split a 64-byte HKDF output into send/recv keys. A State
// belongs to exactly one handshake attempt and must not be shared across
// goroutines; it is never persisted.
package handshake

import (
	"crypto/sha256"
	"fmt"

	"github.com/openfesta/festmesh/internal/crypto/meshcrypto"
	"github.com/openfesta/festmesh/internal/errs"
)

// Role distinguishes the initiator from the responder.
type Role int

// Handshake roles.
const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Protocol labels folded into the transcript and derivations.
const (
	protocolName = "festmesh/handshake/v1"
	infoChain    = "festmesh/ck/v1"
	infoMessage  = "festmesh/msg/v1"
	infoSplit    = "festmesh/split/v1"
)

const encStaticLen = meshcrypto.KeySize + meshcrypto.TagOverhead

// State is an in-progress or completed handshake.
type State struct {
	role Role

	h  []byte // transcript hash
	ck []byte // chaining key

	localStatic    meshcrypto.KeyPair
	localEphemeral meshcrypto.KeyPair

	remoteEphemeral []byte
	remoteStatic    []byte

	index    int // next message index, 0..2
	complete bool

	sendKey []byte
	recvKey []byte
}

// New creates a handshake state for the given role and local static key pair.
func New(role Role, localStatic meshcrypto.KeyPair) (*State, error) {
	if len(localStatic.Private) != meshcrypto.KeySize || len(localStatic.Public) != meshcrypto.KeySize {
		return nil, fmt.Errorf("%w: static key pair must hold %d-byte keys", errs.ErrInvalidInput, meshcrypto.KeySize)
	}
	seed := sha256.Sum256([]byte(protocolName))
	st := &State{
		role:        role,
		h:           seed[:],
		ck:          append([]byte(nil), seed[:]...),
		localStatic: localStatic,
	}
	return st, nil
}

// Role returns the side this state plays.
func (s *State) Role() Role { return s.role }

// Index returns the next message index (0..2).
func (s *State) Index() int { return s.index }

// Complete reports whether transport keys are available.
func (s *State) Complete() bool { return s.complete }

// TransportKeys returns the send and receive keys of a completed handshake.
func (s *State) TransportKeys() (send, recv []byte, err error) {
	if !s.complete {
		return nil, nil, fmt.Errorf("%w: handshake not complete", errs.ErrInvalidState)
	}
	return s.sendKey, s.recvKey, nil
}

// RemoteStatic returns the peer's static public key once learned.
func (s *State) RemoteStatic() []byte { return s.remoteStatic }

// Step advances the state machine by one message. For steps where this
// side speaks, msg carries nothing and the return value is the outgoing
// message; for steps where this side listens, msg is the peer's message
// and the return value is nil.
func (s *State) Step(msg []byte) ([]byte, error) {
	if s.complete {
		return nil, fmt.Errorf("%w: handshake already complete", errs.ErrInvalidState)
	}
	switch s.index {
	case 0:
		return s.step0(msg)
	case 1:
		return s.step1(msg)
	case 2:
		return s.step2(msg)
	default:
		return nil, fmt.Errorf("%w: message index %d", errs.ErrInvalidState, s.index)
	}
}

// step0 handles message 1: the initiator's ephemeral key.
func (s *State) step0(msg []byte) ([]byte, error) {
	if s.role == Initiator {
		if msg != nil {
			return nil, fmt.Errorf("%w: initiator step 0 takes no message", errs.ErrProtocolViolation)
		}
		eph, err := meshcrypto.GenerateNoiseKeyPair()
		if err != nil {
			return nil, err
		}
		s.localEphemeral = eph
		s.mixHash(eph.Public)
		s.index = 1
		return append([]byte(nil), eph.Public...), nil
	}

	if len(msg) != meshcrypto.KeySize {
		return nil, fmt.Errorf("%w: want %d-byte ephemeral key, got %d bytes", errs.ErrProtocolViolation, meshcrypto.KeySize, len(msg))
	}
	s.remoteEphemeral = append([]byte(nil), msg...)
	s.mixHash(s.remoteEphemeral)
	s.index = 1
	return nil, nil
}

// step1 handles message 2: responder ephemeral plus its encrypted static.
func (s *State) step1(msg []byte) ([]byte, error) {
	if s.role == Responder {
		if msg != nil {
			return nil, fmt.Errorf("%w: responder step 1 takes no message", errs.ErrProtocolViolation)
		}
		eph, err := meshcrypto.GenerateNoiseKeyPair()
		if err != nil {
			return nil, err
		}
		s.localEphemeral = eph
		s.mixHash(eph.Public)

		if err := s.mixDH(eph.Private, s.remoteEphemeral); err != nil {
			return nil, err
		}
		encStatic, err := s.sealTranscript(s.localStatic.Public)
		if err != nil {
			return nil, err
		}
		s.mixHash(encStatic)
		s.index = 2

		out := make([]byte, 0, meshcrypto.KeySize+len(encStatic))
		out = append(out, eph.Public...)
		out = append(out, encStatic...)
		return out, nil
	}

	if len(msg) != meshcrypto.KeySize+encStaticLen {
		return nil, fmt.Errorf("%w: want %d-byte message 2, got %d bytes", errs.ErrProtocolViolation, meshcrypto.KeySize+encStaticLen, len(msg))
	}
	s.remoteEphemeral = append([]byte(nil), msg[:meshcrypto.KeySize]...)
	s.mixHash(s.remoteEphemeral)

	if err := s.mixDH(s.localEphemeral.Private, s.remoteEphemeral); err != nil {
		return nil, err
	}
	encStatic := msg[meshcrypto.KeySize:]
	static, err := s.openTranscript(encStatic)
	if err != nil {
		return nil, err
	}
	s.remoteStatic = static
	s.mixHash(encStatic)
	s.index = 2
	return nil, nil
}

// step2 handles message 3: the initiator's encrypted static, then both
// sides derive transport keys. Terminal for whichever side runs it.
func (s *State) step2(msg []byte) ([]byte, error) {
	var out []byte
	if s.role == Initiator {
		if msg != nil {
			return nil, fmt.Errorf("%w: initiator step 2 takes no message", errs.ErrProtocolViolation)
		}
		encStatic, err := s.sealTranscript(s.localStatic.Public)
		if err != nil {
			return nil, err
		}
		s.mixHash(encStatic)
		out = encStatic
	} else {
		if len(msg) != encStaticLen {
			return nil, fmt.Errorf("%w: want %d-byte message 3, got %d bytes", errs.ErrProtocolViolation, encStaticLen, len(msg))
		}
		static, err := s.openTranscript(msg)
		if err != nil {
			return nil, err
		}
		s.remoteStatic = static
		s.mixHash(msg)
	}

	// Fold in the static-static secret and split transport keys.
	if err := s.mixDH(s.localStatic.Private, s.remoteStatic); err != nil {
		return nil, err
	}
	okm, err := meshcrypto.HKDF(s.ck, s.h, []byte(infoSplit), 2*meshcrypto.KeySize)
	if err != nil {
		return nil, err
	}
	if s.role == Initiator {
		s.sendKey, s.recvKey = okm[:meshcrypto.KeySize], okm[meshcrypto.KeySize:]
	} else {
		s.sendKey, s.recvKey = okm[meshcrypto.KeySize:], okm[:meshcrypto.KeySize]
	}
	s.complete = true
	s.index = 3
	return out, nil
}

// mixHash absorbs data into the transcript hash.
func (s *State) mixHash(data []byte) {
	h := sha256.New()
	h.Write(s.h)
	h.Write(data)
	s.h = h.Sum(nil)
}

// mixDH folds a derived shared secret into the chaining key.
func (s *State) mixDH(localPrivate, remotePublic []byte) error {
	ss, err := meshcrypto.DeriveSharedSecret(localPrivate, remotePublic)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrProtocolViolation, err)
	}
	ck, err := meshcrypto.HKDF(ss, s.ck, []byte(infoChain), meshcrypto.KeySize)
	if err != nil {
		return err
	}
	s.ck = ck
	return nil
}

// messageKey derives the one-shot AEAD key for the current transcript
// position. Each key encrypts exactly one message, so the zero nonce is
// never reused.
func (s *State) messageKey() ([]byte, error) {
	return meshcrypto.HKDF(s.ck, s.h, []byte(infoMessage), meshcrypto.KeySize)
}

func (s *State) sealTranscript(plaintext []byte) ([]byte, error) {
	key, err := s.messageKey()
	if err != nil {
		return nil, err
	}
	return meshcrypto.Encrypt(plaintext, key, make([]byte, meshcrypto.NonceSize), s.h)
}

func (s *State) openTranscript(ciphertext []byte) ([]byte, error) {
	key, err := s.messageKey()
	if err != nil {
		return nil, err
	}
	return meshcrypto.Decrypt(ciphertext, key, make([]byte, meshcrypto.NonceSize), s.h)
}
