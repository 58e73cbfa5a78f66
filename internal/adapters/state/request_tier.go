// Package state holds the storage tiers the workflow state is replicated to.
package state

import (
	"context"
	"errors"
	"sync"

	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
)

// ErrNoRequestScope is returned when the request tier is written outside an
// HTTP request.
var ErrNoRequestScope = errors.New("no request-scoped state store in context")

type requestStoreKey struct{}

// RequestStore holds state for a single request/response round trip. It is
// seeded from the token the client echoed back and collects whatever the
// request writes so the response can carry it.
type RequestStore struct {
	mu     sync.Mutex
	values map[string][]byte
	dirty  map[string]bool
}

// NewRequestStore returns an empty store.
func NewRequestStore() *RequestStore {
	return &RequestStore{
		values: make(map[string][]byte),
		dirty:  make(map[string]bool),
	}
}

// WithRequestStore attaches store to ctx.
func WithRequestStore(ctx context.Context, store *RequestStore) context.Context {
	return context.WithValue(ctx, requestStoreKey{}, store)
}

// RequestStoreFromContext returns the store attached to ctx, or nil.
func RequestStoreFromContext(ctx context.Context) *RequestStore {
	store, _ := ctx.Value(requestStoreKey{}).(*RequestStore)
	return store
}

// Seed loads a value received from the client without marking it changed.
func (s *RequestStore) Seed(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
}

// Changed returns the value written for key during this request. A nil value
// with changed=true means the state was cleared.
func (s *RequestStore) Changed(key string) (value []byte, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty[key] {
		return nil, false
	}
	return append([]byte(nil), s.values[key]...), true
}

func (s *RequestStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || v == nil {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (s *RequestStore) put(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == nil {
		s.values[key] = nil
	} else {
		s.values[key] = append([]byte(nil), value...)
	}
	s.dirty[key] = true
}

// RequestTier is the shortest-lived tier. It reads and writes the
// RequestStore of the current request.
type RequestTier struct {
	codec *TokenCodec
}

// NewRequestTier creates the request tier.
func NewRequestTier() *RequestTier {
	return &RequestTier{}
}

// WithTokenLimit makes Put fail when the value could not be issued as a
// state token by codec, so the write counts as failed rather than being
// dropped when the response is written.
func (t *RequestTier) WithTokenLimit(codec *TokenCodec) *RequestTier {
	t.codec = codec
	return t
}

// Name implements providers.StateTier.
func (t *RequestTier) Name() providers.TierName {
	return providers.TierRequest
}

// Get implements providers.StateTier.
func (t *RequestTier) Get(ctx context.Context, key string) ([]byte, error) {
	store := RequestStoreFromContext(ctx)
	if store == nil {
		return nil, providers.ErrStateNotFound
	}
	value, ok := store.get(key)
	if !ok {
		return nil, providers.ErrStateNotFound
	}
	return value, nil
}

// Put implements providers.StateTier.
func (t *RequestTier) Put(ctx context.Context, key string, value []byte) error {
	store := RequestStoreFromContext(ctx)
	if store == nil {
		return ErrNoRequestScope
	}
	if t.codec != nil {
		if err := t.codec.Fits(key, value); err != nil {
			return err
		}
	}
	store.put(key, value)
	return nil
}

// Delete implements providers.StateTier.
func (t *RequestTier) Delete(ctx context.Context, key string) error {
	store := RequestStoreFromContext(ctx)
	if store == nil {
		return nil
	}
	store.put(key, nil)
	return nil
}
