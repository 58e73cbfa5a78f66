package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/repositories"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
)

// DurableTier keeps state in the workflow_states table.
type DurableTier struct {
	repo repositories.WorkflowStateRepository
}

// NewDurableTier creates the durable tier.
func NewDurableTier(repo repositories.WorkflowStateRepository) *DurableTier {
	return &DurableTier{repo: repo}
}

// Name implements providers.StateTier.
func (t *DurableTier) Name() providers.TierName {
	return providers.TierDurable
}

// Get implements providers.StateTier.
func (t *DurableTier) Get(ctx context.Context, key string) ([]byte, error) {
	record, err := t.repo.GetBySessionID(ctx, key)
	if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return nil, providers.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return record.Data, nil
}

// Put implements providers.StateTier. The workflow stage is copied into its
// own column so rows can be queried without parsing data.
func (t *DurableTier) Put(ctx context.Context, key string, value []byte) error {
	var head struct {
		State entities.WorkflowState `json:"state"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return fmt.Errorf("durable tier: decode state header: %w", err)
	}
	return t.repo.Upsert(ctx, &repositories.WorkflowStateRecord{
		SessionID: key,
		State:     head.State,
		Data:      value,
	})
}

// Delete implements providers.StateTier.
func (t *DurableTier) Delete(ctx context.Context, key string) error {
	return t.repo.Delete(ctx, key)
}
