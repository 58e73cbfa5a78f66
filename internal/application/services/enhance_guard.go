package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
)

// InFlightGuard allows one enhancement call per session at a time. The lock
// lives in the cache so it holds across replicas when the cache is Redis, and
// expires on its own if the holder dies.
type InFlightGuard struct {
	cache  providers.CacheProvider
	ttl    time.Duration
	prefix string
}

// NewInFlightGuard creates a guard whose locks expire after ttl.
func NewInFlightGuard(cache providers.CacheProvider, ttl time.Duration) *InFlightGuard {
	return &InFlightGuard{cache: cache, ttl: ttl, prefix: "workflow:enhance:lock:"}
}

// Acquire takes the lock for sessionID. It returns a ConflictError when an
// enhancement for the session is already running. The returned release
// function must be called once the call completes.
func (g *InFlightGuard) Acquire(ctx context.Context, sessionID string) (func(), error) {
	seconds := int(g.ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	key := g.lockKey(sessionID)
	ok, err := g.cache.SetIfAbsent(ctx, key, []byte(uuid.New().String()), seconds)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to take enhancement lock", err)
	}
	if !ok {
		return nil, apperrors.NewConflictError("an enhancement for this session is already in progress")
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.cache.Delete(releaseCtx, key); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("failed to release enhancement lock")
		}
	}
	return release, nil
}

func (g *InFlightGuard) lockKey(sessionID string) string {
	return g.prefix + sessionID
}
