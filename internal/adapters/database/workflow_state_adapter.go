package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/repositories"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
)

const workflowStatesTable = "workflow_states"

// WorkflowStatesSchema creates the durable state table. The data column is
// TEXT rather than JSONB so the payload key order survives a round trip.
const WorkflowStatesSchema = `
CREATE TABLE IF NOT EXISTS workflow_states (
	session_id TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_workflow_states_updated_at ON workflow_states (updated_at);
`

type workflowStateRow struct {
	SessionID string    `db:"session_id"`
	State     string    `db:"state"`
	Data      string    `db:"data"`
	UpdatedAt time.Time `db:"updated_at"`
}

// WorkflowStateAdapter implements WorkflowStateRepository on PostgreSQL.
type WorkflowStateAdapter struct {
	client *postgres.Client
	db     *goqu.Database
	sqlx   *sqlx.DB
}

// NewWorkflowStateAdapter creates a new adapter.
func NewWorkflowStateAdapter(client *postgres.Client) repositories.WorkflowStateRepository {
	return &WorkflowStateAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
		sqlx:   sqlx.NewDb(client.DB(), "postgres"),
	}
}

// Migrate creates the workflow_states table if it does not exist.
func Migrate(ctx context.Context, client *postgres.Client) error {
	if _, err := client.DB().ExecContext(ctx, WorkflowStatesSchema); err != nil {
		return apperrors.NewPersistenceError("failed to migrate workflow_states", err)
	}
	return nil
}

// GetBySessionID retrieves the latest snapshot for a session.
func (a *WorkflowStateAdapter) GetBySessionID(ctx context.Context, sessionID string) (*repositories.WorkflowStateRecord, error) {
	query, args, err := a.db.From(workflowStatesTable).
		Select("session_id", "state", "data", "updated_at").
		Where(goqu.Ex{"session_id": sessionID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build workflow state query", err)
	}

	var row workflowStateRow
	err = a.sqlx.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("workflow state for session %s not found", sessionID))
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to get workflow state", err)
	}

	return &repositories.WorkflowStateRecord{
		SessionID: row.SessionID,
		State:     entities.WorkflowState(row.State),
		Data:      []byte(row.Data),
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// Upsert inserts or replaces the snapshot for a session.
func (a *WorkflowStateAdapter) Upsert(ctx context.Context, record *repositories.WorkflowStateRecord) error {
	if record == nil || record.SessionID == "" {
		return apperrors.NewValidationError("workflow state record requires a session id")
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	query, args, err := a.db.Insert(workflowStatesTable).
		Rows(goqu.Record{
			"session_id": record.SessionID,
			"state":      string(record.State),
			"data":       string(record.Data),
			"updated_at": record.UpdatedAt,
		}).
		OnConflict(goqu.DoUpdate("session_id", goqu.Record{
			"state":      goqu.L("EXCLUDED.state"),
			"data":       goqu.L("EXCLUDED.data"),
			"updated_at": goqu.L("EXCLUDED.updated_at"),
		})).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build workflow state upsert", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewPersistenceError("failed to upsert workflow state", err)
	}
	return nil
}

// Delete removes the snapshot for a session. Deleting a missing row is not an
// error.
func (a *WorkflowStateAdapter) Delete(ctx context.Context, sessionID string) error {
	query, args, err := a.db.Delete(workflowStatesTable).
		Where(goqu.Ex{"session_id": sessionID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build workflow state delete", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewPersistenceError("failed to delete workflow state", err)
	}
	return nil
}
