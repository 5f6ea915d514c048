package memory

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/preorder/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyStore)(nil)

// APIKeyStore is a fixed set of operator keys indexed by hash.
type APIKeyStore struct {
	byHash map[string]auth.APIKeyInfo
}

// NewAPIKeyStore returns a store holding keys.
func NewAPIKeyStore(keys ...auth.APIKeyInfo) *APIKeyStore {
	s := &APIKeyStore{byHash: make(map[string]auth.APIKeyInfo, len(keys))}
	for _, k := range keys {
		s.byHash[k.KeyHash] = k
	}
	return s
}

// FindByHash looks up a key by its hex-encoded HMAC hash.
func (s *APIKeyStore) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	k, ok := s.byHash[hash]
	if !ok {
		return nil, errors.New("api key not found")
	}
	return &k, nil
}
