package entities

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// WorkflowEventType represents the kind of workflow event
type WorkflowEventType string

const (
	WorkflowEventTransition WorkflowEventType = "transition"
	WorkflowEventRestart    WorkflowEventType = "restart"
)

// WorkflowEvent is published whenever a session's workflow state changes.
type WorkflowEvent struct {
	ID            string            `json:"id"`
	SessionID     string            `json:"session_id"`
	EventType     WorkflowEventType `json:"event_type"`
	From          WorkflowState     `json:"from"`
	To            WorkflowState     `json:"to"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewWorkflowEvent creates a new workflow event
func NewWorkflowEvent(sessionID string, eventType WorkflowEventType, from, to WorkflowState, correlationID string) *WorkflowEvent {
	return &WorkflowEvent{
		ID:            newEventID(),
		SessionID:     sessionID,
		EventType:     eventType,
		From:          from,
		To:            to,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
}

func newEventID() string {
	return time.Now().UTC().Format("20060102150405") + "-" + randomHex(8)
}

func randomHex(length int) string {
	bytes := make([]byte, length/2+1)
	if _, err := rand.Read(bytes); err != nil {
		return time.Now().Format("150405.000")
	}
	return hex.EncodeToString(bytes)[:length]
}
