package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
	"github.com/zatekoja/clinicalnotes/backend/pkg/retry"
)

// StateReplicator writes workflow state to every configured tier and reads
// it back from the first tier that has it. Tiers are ordered from shortest
// lived (request) to longest lived (durable).
type StateReplicator struct {
	tiers       []providers.StateTier
	retryConfig retry.Config
	metrics     *observability.Metrics
}

// NewStateReplicator creates a replicator over tiers in read precedence order.
func NewStateReplicator(metrics *observability.Metrics, tiers ...providers.StateTier) *StateReplicator {
	return &StateReplicator{
		tiers:       tiers,
		retryConfig: retry.TierWriteConfig(),
		metrics:     metrics,
	}
}

// TierNames returns the configured tiers in precedence order.
func (r *StateReplicator) TierNames() []providers.TierName {
	names := make([]providers.TierName, 0, len(r.tiers))
	for _, tier := range r.tiers {
		names = append(names, tier.Name())
	}
	return names
}

// Save writes state to every tier. The longest-lived failed tier is retried
// with backoff. When some tiers took the write, the ones that still fail are
// invalidated so they cannot shadow newer state on the next read. Save fails
// only when no tier holds the new state, and then leaves every tier as it was.
func (r *StateReplicator) Save(ctx context.Context, sessionID string, state *entities.PersistedState) error {
	if len(r.tiers) == 0 {
		return apperrors.NewPersistenceError("no state tiers configured", nil)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return apperrors.NewInternalError("failed to encode workflow state", err)
	}

	logger := observability.WithSession(observability.LoggerFromContext(ctx), sessionID)

	var failed []providers.StateTier
	var lastErr error
	for _, tier := range r.tiers {
		if err := tier.Put(ctx, sessionID, data); err != nil {
			logger.Warn().Err(err).Str("tier", string(tier.Name())).Msg("state tier write failed")
			observability.RecordTierFailure(ctx, r.metrics, string(tier.Name()), "put")
			failed = append(failed, tier)
			lastErr = err
		}
	}
	if len(failed) == 0 {
		return nil
	}

	longest := failed[len(failed)-1]
	retryErr := retry.DoWithLog(ctx, r.retryConfig, fmt.Sprintf("%s state tier", longest.Name()), func() error {
		return longest.Put(ctx, sessionID, data)
	}, func(attempt int, err error, nextDelay time.Duration) {
		logger.Warn().Err(err).Str("tier", string(longest.Name())).Int("attempt", attempt).Dur("next_delay", nextDelay).Msg("retrying state tier write")
	})
	if retryErr == nil {
		failed = failed[:len(failed)-1]
	} else {
		lastErr = retryErr
	}

	// No tier holds the new state, so every tier still agrees on the old one.
	if len(failed) == len(r.tiers) {
		logger.Error().Err(lastErr).Msg("all state tiers failed")
		return apperrors.NewPersistenceError("workflow state could not be saved to any tier", lastErr)
	}

	for _, tier := range failed {
		if err := tier.Delete(ctx, sessionID); err != nil {
			logger.Warn().Err(err).Str("tier", string(tier.Name())).Msg("failed to invalidate stale state tier")
		}
	}
	return nil
}

// Load returns the state from the highest precedence tier that holds a
// readable copy, with the name of that tier. It returns
// providers.ErrStateNotFound when no tier has one.
func (r *StateReplicator) Load(ctx context.Context, sessionID string) (*entities.PersistedState, providers.TierName, error) {
	logger := observability.WithSession(observability.LoggerFromContext(ctx), sessionID)

	for _, tier := range r.tiers {
		data, err := tier.Get(ctx, sessionID)
		if errors.Is(err, providers.ErrStateNotFound) {
			continue
		}
		if err != nil {
			logger.Warn().Err(err).Str("tier", string(tier.Name())).Msg("state tier read failed")
			observability.RecordTierFailure(ctx, r.metrics, string(tier.Name()), "get")
			continue
		}

		var state entities.PersistedState
		if err := json.Unmarshal(data, &state); err != nil {
			logger.Warn().Err(err).Str("tier", string(tier.Name())).Msg("discarding unreadable workflow state")
			observability.RecordTierFailure(ctx, r.metrics, string(tier.Name()), "decode")
			continue
		}
		if !state.State.Valid() || (state.SessionID != "" && state.SessionID != sessionID) {
			logger.Warn().Str("tier", string(tier.Name())).Str("state", string(state.State)).Msg("discarding workflow state for another session or unknown stage")
			continue
		}
		state.SessionID = sessionID
		return &state, tier.Name(), nil
	}

	return nil, "", providers.ErrStateNotFound
}

// Clear removes the state from every tier. It fails only when every tier
// failed to delete.
func (r *StateReplicator) Clear(ctx context.Context, sessionID string) error {
	logger := observability.WithSession(observability.LoggerFromContext(ctx), sessionID)

	failures := 0
	var lastErr error
	for _, tier := range r.tiers {
		if err := tier.Delete(ctx, sessionID); err != nil {
			logger.Warn().Err(err).Str("tier", string(tier.Name())).Msg("state tier delete failed")
			observability.RecordTierFailure(ctx, r.metrics, string(tier.Name()), "delete")
			failures++
			lastErr = err
		}
	}
	if len(r.tiers) > 0 && failures == len(r.tiers) {
		return apperrors.NewPersistenceError("workflow state could not be cleared", lastErr)
	}
	return nil
}
