// Package trust decides whether notebook content may render rich output.
package trust

import (
	"context"

	"github.com/starford/nbkeep/internal/checksum"
	"github.com/starford/nbkeep/internal/models"
)

// Verifier answers whether content is trusted and records trust.
type Verifier interface {
	IsTrusted(ctx context.Context, uri models.URI, content []byte) (bool, error)
	Trust(ctx context.Context, uri models.URI, content []byte) error
}

// digestStore is the persistence the Store needs; *state.DB satisfies it.
type digestStore interface {
	HasTrustDigest(ctx context.Context, digest string) (bool, error)
	AddTrustDigest(ctx context.Context, digest, uri string) error
}

// Store is a Verifier backed by SHA-256 digests of trusted content. Trust
// follows the bytes: identical content is trusted under any identity.
type Store struct {
	db digestStore
}

// NewStore creates a digest-backed Verifier.
func NewStore(db digestStore) *Store {
	return &Store{db: db}
}

// IsTrusted reports whether content was previously trusted.
func (s *Store) IsTrusted(ctx context.Context, _ models.URI, content []byte) (bool, error) {
	return s.db.HasTrustDigest(ctx, checksum.Sum(content))
}

// Trust records content as trusted.
func (s *Store) Trust(ctx context.Context, uri models.URI, content []byte) error {
	return s.db.AddTrustDigest(ctx, checksum.Sum(content), uri.String())
}

var _ Verifier = (*Store)(nil)
