package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
)

// WorkflowStateRecord is one persisted workflow snapshot. Data holds the
// compact JSON of entities.PersistedState exactly as it was written.
type WorkflowStateRecord struct {
	SessionID string
	State     entities.WorkflowState
	Data      []byte
	UpdatedAt time.Time
}

// WorkflowStateRepository defines durable storage for workflow snapshots.
type WorkflowStateRepository interface {
	// GetBySessionID returns a NOT_FOUND AppError when nothing is stored.
	GetBySessionID(ctx context.Context, sessionID string) (*WorkflowStateRecord, error)
	Upsert(ctx context.Context, record *WorkflowStateRecord) error
	Delete(ctx context.Context, sessionID string) error
}
