// Package peers maintains the directory of known peers and identities.
package peers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/openfesta/festmesh/internal/crypto/meshcrypto"
	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/model"
	"github.com/openfesta/festmesh/internal/repository"
)

// IdentityDescriptor carries the caller-supplied fields for registration.
type IdentityDescriptor struct {
	StaticPublic  []byte
	SigningPublic []byte
	Nickname      string
}

// PeerDescriptor carries the caller-supplied fields for a peer upsert.
type PeerDescriptor struct {
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
}

// Directory owns the peer store, the identity store and the fingerprint
// cache. The cache is an explicit struct cleared by a periodic task, not
// ambient global state.
type Directory struct {
	log       *zap.Logger
	peerRepo  repository.PeerRepository
	identRepo repository.IdentityRepository
	cache     *fingerprintCache
}

// NewDirectory constructs a directory over the given stores.
func NewDirectory(log *zap.Logger, peerRepo repository.PeerRepository, identRepo repository.IdentityRepository) *Directory {
	return &Directory{
		log:       log,
		peerRepo:  peerRepo,
		identRepo: identRepo,
		cache:     newFingerprintCache(),
	}
}

// RegisterIdentity creates or reactivates the identity for (user, festival).
// The fingerprint is derived from the static public key, so re-registering
// the same key collapses to the same identity row. The upsert reports the
// stored row's id and ownership fields, and those are what get cached and
// returned, so the caller never sees an id that exists in no row.
func (d *Directory) RegisterIdentity(ctx context.Context, userID, festivalID uuid.UUID, desc IdentityDescriptor) (*model.Identity, error) {
	if userID == uuid.Nil || festivalID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user/festival id", errs.ErrInvalidInput)
	}
	if desc.Nickname == "" {
		return nil, fmt.Errorf("%w: empty nickname", errs.ErrInvalidInput)
	}
	fp, err := meshcrypto.FingerprintHex(desc.StaticPublic)
	if err != nil {
		return nil, err
	}
	if len(desc.SigningPublic) != meshcrypto.KeySize {
		return nil, fmt.Errorf("%w: signing public key must be %d bytes", errs.ErrInvalidInput, meshcrypto.KeySize)
	}

	now := time.Now().UTC()
	ident := &model.Identity{
		ID:            uuid.Must(uuid.NewV4()),
		UserID:        userID,
		FestivalID:    festivalID,
		StaticPublic:  append([]byte(nil), desc.StaticPublic...),
		SigningPublic: append([]byte(nil), desc.SigningPublic...),
		Fingerprint:   fp,
		Nickname:      desc.Nickname,
		Active:        true,
		CreatedAt:     now,
		LastSeen:      now,
	}
	if err := d.identRepo.Upsert(ctx, ident); err != nil {
		return nil, err
	}
	d.cache.put(fp, ident)
	return ident, nil
}

// UpsertPeer validates the descriptor and writes the peer. Mutable fields
// are last-write-wins; keys on an existing id are accepted verbatim, with
// a warning when they differ from what was seen before.
func (d *Directory) UpsertPeer(ctx context.Context, desc PeerDescriptor) (*model.Peer, error) {
	if desc.ID == "" || desc.Nickname == "" {
		return nil, fmt.Errorf("%w: peer id and nickname are required", errs.ErrInvalidInput)
	}
	if len(desc.StaticPublic) != meshcrypto.KeySize || len(desc.SigningPublic) != meshcrypto.KeySize {
		return nil, fmt.Errorf("%w: peer keys must be %d bytes", errs.ErrInvalidInput, meshcrypto.KeySize)
	}

	now := time.Now().UTC()
	if prev, err := d.peerRepo.Get(ctx, desc.ID); err == nil {
		if !bytes.Equal(prev.StaticPublic, desc.StaticPublic) || !bytes.Equal(prev.SigningPublic, desc.SigningPublic) {
			d.log.Warn("peer keys changed on upsert", zap.String("peer", desc.ID))
		}
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	p := &model.Peer{
		ID:            desc.ID,
		StaticPublic:  append([]byte(nil), desc.StaticPublic...),
		SigningPublic: append([]byte(nil), desc.SigningPublic...),
		Nickname:      desc.Nickname,
		Connected:     desc.Connected,
		Reachable:     desc.Reachable,
		Favorite:      desc.Favorite,
		Blocked:       desc.Blocked,
		Verified:      desc.Verified,
		Metadata:      desc.Metadata,
		FirstSeen:     now,
		LastSeen:      now,
	}
	if err := d.peerRepo.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPeer loads a peer by id.
func (d *Directory) GetPeer(ctx context.Context, id string) (*model.Peer, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty peer id", errs.ErrInvalidInput)
	}
	return d.peerRepo.Get(ctx, id)
}

// ListPeers returns all known peers.
func (d *Directory) ListPeers(ctx context.Context) ([]model.Peer, error) {
	return d.peerRepo.List(ctx)
}

// LookupIdentityByFingerprint resolves a fingerprint, cache first, then
// the persistent store, populating the cache on a miss.
func (d *Directory) LookupIdentityByFingerprint(ctx context.Context, fp string) (*model.Identity, error) {
	if len(fp) != 2*meshcrypto.FingerprintSize {
		return nil, fmt.Errorf("%w: fingerprint must be %d hex chars", errs.ErrInvalidInput, 2*meshcrypto.FingerprintSize)
	}
	if ident, ok := d.cache.get(fp); ok {
		return ident, nil
	}
	ident, err := d.identRepo.GetByFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}
	d.cache.put(fp, ident)
	return ident, nil
}

// ClearCache drops the fingerprint cache; wired to a periodic task to
// bound staleness.
func (d *Directory) ClearCache() { d.cache.Clear() }

// CacheSize reports the number of cached fingerprints.
func (d *Directory) CacheSize() int { return d.cache.len() }
