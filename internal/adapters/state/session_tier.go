package state

import (
	"context"
	"errors"
	"time"

	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
)

// SessionTier keeps state in the session cache (Redis or in-memory).
type SessionTier struct {
	cache  providers.CacheProvider
	prefix string
	ttl    time.Duration
}

// NewSessionTier creates the session tier. Entries expire after ttl of
// inactivity.
func NewSessionTier(cache providers.CacheProvider, ttl time.Duration) *SessionTier {
	return &SessionTier{cache: cache, prefix: "workflow:state:", ttl: ttl}
}

// Name implements providers.StateTier.
func (t *SessionTier) Name() providers.TierName {
	return providers.TierSession
}

// Get implements providers.StateTier.
func (t *SessionTier) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := t.cache.Get(ctx, t.prefix+key)
	if errors.Is(err, providers.ErrCacheMiss) {
		return nil, providers.ErrStateNotFound
	}
	return value, err
}

// Put implements providers.StateTier.
func (t *SessionTier) Put(ctx context.Context, key string, value []byte) error {
	return t.cache.Set(ctx, t.prefix+key, value, int(t.ttl.Seconds()))
}

// Delete implements providers.StateTier.
func (t *SessionTier) Delete(ctx context.Context, key string) error {
	return t.cache.Delete(ctx, t.prefix+key)
}
