// Package meshcrypto contains the mesh layer primitives: key pairs,
// fingerprints, AEAD, MAC signatures and key derivation.
//
// Public keys and shared secrets are derived with domain-separated SHA-256
// digests instead of curve operations. The contract is deterministic and
// stable but NOT cryptographically sound; swapping in X25519/Ed25519 means
// replacing PublicFromPrivate, DeriveSharedSecret, Sign and Verify only.
package meshcrypto

import (
	"bytes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/openfesta/festmesh/internal/errs"
)

// Sizes, in bytes.
const (
	KeySize         = 32
	NonceSize       = chacha20poly1305.NonceSize
	FingerprintSize = 32
	TagOverhead     = 16
)

// Domain separation labels.
const (
	LabelNoise   = "festmesh/noise/v1"
	LabelSigning = "festmesh/signing/v1"
	labelDH      = "festmesh/dh/v1"
)

// KeyPair holds a private key and its derived public key.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// Rand returns n cryptographically secure random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// PublicFromPrivate derives the public key for a private key under the
// given domain label.
func PublicFromPrivate(private []byte, label string) ([]byte, error) {
	if len(private) != KeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes", errs.ErrInvalidInput, KeySize)
	}
	h := sha256.New()
	h.Write([]byte(label))
	h.Write(private)
	return h.Sum(nil), nil
}

// GenerateKeyPair produces a fresh key pair under the given label.
func GenerateKeyPair(label string) (KeyPair, error) {
	if label == "" {
		return KeyPair{}, fmt.Errorf("%w: empty label", errs.ErrInvalidInput)
	}
	priv, err := Rand(KeySize)
	if err != nil {
		return KeyPair{}, err
	}
	pub, err := PublicFromPrivate(priv, label)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

// GenerateNoiseKeyPair produces a key pair for handshake/transport use.
func GenerateNoiseKeyPair() (KeyPair, error) { return GenerateKeyPair(LabelNoise) }

// GenerateSigningKeyPair produces a key pair for message signing.
func GenerateSigningKeyPair() (KeyPair, error) { return GenerateKeyPair(LabelSigning) }

// Fingerprint returns the SHA-256 digest of a public key.
func Fingerprint(public []byte) ([FingerprintSize]byte, error) {
	if len(public) != KeySize {
		return [FingerprintSize]byte{}, fmt.Errorf("%w: public key must be %d bytes", errs.ErrInvalidInput, KeySize)
	}
	return sha256.Sum256(public), nil
}

// FingerprintHex renders the fingerprint as a 64-character hex string.
func FingerprintHex(public []byte) (string, error) {
	fp, err := Fingerprint(public)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(fp[:]), nil
}

// DeriveSharedSecret derives the 32-byte secret shared between the local
// private key and a remote public key. Both publics feed the digest in
// lexicographic order so either side computes the same value.
func DeriveSharedSecret(localPrivate, remotePublic []byte) ([]byte, error) {
	localPublic, err := PublicFromPrivate(localPrivate, LabelNoise)
	if err != nil {
		return nil, err
	}
	if len(remotePublic) != KeySize {
		return nil, fmt.Errorf("%w: remote public key must be %d bytes", errs.ErrInvalidInput, KeySize)
	}
	lo, hi := localPublic, remotePublic
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	h := sha256.New()
	h.Write([]byte(labelDH))
	h.Write(lo)
	h.Write(hi)
	return h.Sum(nil), nil
}

// Encrypt seals plaintext with ChaCha20-Poly1305 and returns ciphertext||tag.
func Encrypt(plaintext, key, nonce, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Decrypt opens ciphertext||tag; a tag mismatch fails with
// ErrAuthenticationFailed.
func Decrypt(ciphertext, key, nonce, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < TagOverhead {
		return nil, fmt.Errorf("%w: ciphertext too short", errs.ErrInvalidInput)
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errs.ErrAuthenticationFailed
	}
	return pt, nil
}

// Sign produces a deterministic HMAC-SHA256 signature over data. The MAC
// is keyed with the signing public key derived from the private key, so
// holders of the public key can verify.
func Sign(data, private []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", errs.ErrInvalidInput)
	}
	public, err := PublicFromPrivate(private, LabelSigning)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, public)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// Verify checks a signature against the signer's public key in constant time.
func Verify(data, signature, public []byte) bool {
	if len(data) == 0 || len(public) != KeySize {
		return false
	}
	mac := hmac.New(sha256.New, public)
	mac.Write(data)
	return hmac.Equal(signature, mac.Sum(nil))
}

// HKDF runs one extract-and-expand pass over ikm and returns length bytes.
func HKDF(ikm, salt, info []byte, length int) ([]byte, error) {
	if len(ikm) == 0 || length <= 0 {
		return nil, fmt.Errorf("%w: empty ikm or non-positive length", errs.ErrInvalidInput)
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}

func newAEAD(key, nonce []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", errs.ErrInvalidInput, KeySize)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", errs.ErrInvalidInput, NonceSize)
	}
	return chacha20poly1305.New(key)
}
