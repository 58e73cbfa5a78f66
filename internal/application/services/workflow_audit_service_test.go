package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalnotes/backend/internal/adapters/cache"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
)

func TestWorkflowAuditService_RestartDropsEnhanceLock(t *testing.T) {
	memory := cache.NewMemoryAdapter()
	guard := NewInFlightGuard(memory, time.Minute)
	_, err := guard.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	events := make(chan *entities.WorkflowEvent, 2)
	bus := new(MockEventBus)
	bus.On("Subscribe", mock.Anything, providers.EventChannelWorkflow).Return((<-chan *entities.WorkflowEvent)(events), nil)

	svc := NewWorkflowAuditService(bus, memory, guard)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	events <- entities.NewWorkflowEvent("s1", entities.WorkflowEventTransition, entities.WorkflowStateAwaitingReview, entities.WorkflowStateReviewed, "corr-1")
	events <- entities.NewWorkflowEvent("s1", entities.WorkflowEventRestart, entities.WorkflowStateReviewed, entities.WorkflowStateAwaitingReview, "corr-1")

	assert.Eventually(t, func() bool {
		exists, _ := memory.Exists(context.Background(), "workflow:enhance:lock:s1")
		return !exists
	}, time.Second, 10*time.Millisecond)
}
