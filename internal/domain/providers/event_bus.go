package providers

import (
	"context"

	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to workflow events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.WorkflowEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.WorkflowEvent, error)

	// Close closes the event bus and all subscriptions
	Close() error
}

const (
	// EventChannelWorkflow carries every session's transitions
	EventChannelWorkflow = "workflow:events"

	// EventChannelSessionPrefix is the prefix for session-specific channels
	EventChannelSessionPrefix = "workflow:session:"
)

// GetSessionChannel returns the channel name for a specific session
func GetSessionChannel(sessionID string) string {
	return EventChannelSessionPrefix + sessionID
}
