// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across crypto/router/sync layers.
var (
	// ErrInvalidInput indicates malformed or missing required fields,
	// rejected before any side effect.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProtocolViolation indicates a handshake step called out of order
	// or with a mismatched message.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrInvalidState indicates an operation on a terminal handshake state.
	ErrInvalidState = errors.New("invalid state")

	// ErrAuthenticationFailed indicates a decryption tag or signature mismatch.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUnknownSender indicates the sender fingerprint is not resolvable.
	ErrUnknownSender = errors.New("unknown sender")

	// ErrUnknownRecipient indicates the recipient fingerprint is not resolvable.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBusinessRule indicates a domain rule rejection (expired access,
	// inactive ticket) rather than a technical failure.
	ErrBusinessRule = errors.New("business rule violation")

	// ErrStoreUnavailable indicates an authoritative store call failed;
	// callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)
