package providers

import (
	"context"
	"errors"
)

// ErrStateNotFound is returned by a StateTier that holds nothing for a key.
var ErrStateNotFound = errors.New("workflow state not found")

// TierName identifies a storage tier of the state replicator.
type TierName string

const (
	// TierRequest lives for one request/response round trip and is echoed
	// back to the client as a signed token.
	TierRequest TierName = "request"
	// TierSession lives for the clinician's session (Redis or memory).
	TierSession TierName = "session"
	// TierDurable survives reloads and restarts (PostgreSQL).
	TierDurable TierName = "durable"
)

// StateTier stores serialized workflow state. Each Put must replace the
// whole value atomically.
type StateTier interface {
	Name() TierName
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
