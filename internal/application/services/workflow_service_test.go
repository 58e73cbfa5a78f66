package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalnotes/backend/internal/adapters/cache"
	"github.com/zatekoja/clinicalnotes/backend/internal/adapters/state"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
)

// MockReviewProvider is a mock implementation of providers.ReviewProvider
type MockReviewProvider struct {
	mock.Mock
}

func (m *MockReviewProvider) Review(ctx context.Context, req entities.ReviewRequest) (*entities.ReviewResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ReviewResult), args.Error(1)
}

// MockEnhancementProvider is a mock implementation of providers.EnhancementProvider
type MockEnhancementProvider struct {
	mock.Mock
}

func (m *MockEnhancementProvider) Enhance(ctx context.Context, req entities.EnhanceRequest) (*entities.EnhanceResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.EnhanceResult), args.Error(1)
}

// MockEventBus is a mock implementation of providers.EventBus
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, channel string, event *entities.WorkflowEvent) error {
	args := m.Called(ctx, channel, event)
	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.WorkflowEvent, error) {
	args := m.Called(ctx, channel)
	return args.Get(0).(<-chan *entities.WorkflowEvent), args.Error(1)
}

func (m *MockEventBus) Close() error {
	return m.Called().Error(0)
}

// switchableTier fails every write while failPuts is set.
type switchableTier struct {
	providers.StateTier
	failPuts bool
}

func (s *switchableTier) Put(ctx context.Context, key string, value []byte) error {
	if s.failPuts {
		return errors.New("tier unavailable")
	}
	return s.StateTier.Put(ctx, key, value)
}

// enhanceOnAcquire runs run just before the enhancement lock is taken.
type enhanceOnAcquire struct {
	providers.CacheProvider
	run func()
}

func (e *enhanceOnAcquire) SetIfAbsent(ctx context.Context, key string, value []byte, expirationSeconds int) (bool, error) {
	e.run()
	return e.CacheProvider.SetIfAbsent(ctx, key, value, expirationSeconds)
}

const samplePayload = `{"title":"Visit","sections":{
	"chief_complaint":{"title":"Chief Complaint","fields":{"summary":"Headache"}},
	"plan":{"items":["Hydration","Follow up in 2 weeks"]}
}}`

type workflowFixture struct {
	service  *WorkflowService
	reviewer *MockReviewProvider
	enhancer *MockEnhancementProvider
	events   *MockEventBus
	cache    *cache.MemoryAdapter
	ctx      context.Context
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	memory := cache.NewMemoryAdapter()
	return newWorkflowFixtureWithTiers(t, memory, state.NewRequestTier(), state.NewSessionTier(memory, time.Hour))
}

func newWorkflowFixtureWithTiers(t *testing.T, memory *cache.MemoryAdapter, tiers ...providers.StateTier) *workflowFixture {
	t.Helper()
	replicator := fastReplicator(tiers...)
	f := &workflowFixture{
		reviewer: new(MockReviewProvider),
		enhancer: new(MockEnhancementProvider),
		events:   new(MockEventBus),
		cache:    memory,
		ctx:      state.WithRequestStore(context.Background(), state.NewRequestStore()),
	}
	f.events.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.service = NewWorkflowService(f.reviewer, f.enhancer, replicator, NewInFlightGuard(memory, time.Minute), f.events, nil, WorkflowOptions{
		EnhanceTimeout: 50 * time.Millisecond,
	})
	f.service.now = func() time.Time { return time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC) }
	return f
}

func (f *workflowFixture) reviewed(t *testing.T, sessionID string) {
	t.Helper()
	f.reviewer.On("Review", mock.Anything, mock.Anything).Return(&entities.ReviewResult{
		Status:        "success",
		CorrelationID: "corr-1",
		Findings:      []entities.Finding{{Code: "F1", Message: "missing vitals"}},
	}, nil).Once()
	view, err := f.service.SubmitReview(f.ctx, sessionID, entities.ReviewRequest{ClinicalNotes: "pt c/o headache"})
	require.NoError(t, err)
	require.Equal(t, entities.WorkflowStateReviewed, view.State)
}

func (f *workflowFixture) enhanced(t *testing.T, sessionID string) {
	t.Helper()
	f.reviewed(t, sessionID)
	f.enhancer.On("Enhance", mock.Anything, mock.Anything).Return(&entities.EnhanceResult{
		Status:  "ok",
		Payload: []byte(samplePayload),
	}, nil).Once()
	view, err := f.service.Enhance(f.ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, entities.WorkflowStateEnhanced, view.State)
}

func TestWorkflowService_CurrentStateWithEmptyTiers(t *testing.T) {
	f := newWorkflowFixture(t)

	view, err := f.service.CurrentState(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateAwaitingReview, view.State)
	assert.False(t, view.HasPayload)
}

func TestWorkflowService_SubmitReview(t *testing.T) {
	f := newWorkflowFixture(t)
	f.reviewed(t, "s1")

	view, err := f.service.CurrentState(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "corr-1", view.CorrelationID)
	assert.Len(t, view.Findings, 1)
	assert.Equal(t, providers.TierRequest, view.LoadedFrom)
	f.events.AssertCalled(t, "Publish", mock.Anything, providers.EventChannelWorkflow, mock.MatchedBy(func(e *entities.WorkflowEvent) bool {
		return e.From == entities.WorkflowStateAwaitingReview && e.To == entities.WorkflowStateReviewed
	}))
}

func TestWorkflowService_SubmitReviewGuards(t *testing.T) {
	t.Run("empty notes", func(t *testing.T) {
		f := newWorkflowFixture(t)
		_, err := f.service.SubmitReview(f.ctx, "s1", entities.ReviewRequest{ClinicalNotes: "  "})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
		f.reviewer.AssertNotCalled(t, "Review", mock.Anything, mock.Anything)
	})

	t.Run("missing correlation id", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.reviewer.On("Review", mock.Anything, mock.Anything).Return(&entities.ReviewResult{Status: "success"}, nil)

		_, err := f.service.SubmitReview(f.ctx, "s1", entities.ReviewRequest{ClinicalNotes: "note"})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))

		view, err := f.service.CurrentState(f.ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, entities.WorkflowStateAwaitingReview, view.State)
	})

	t.Run("service error", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.reviewer.On("Review", mock.Anything, mock.Anything).Return(nil, errors.New("502 bad gateway"))

		_, err := f.service.SubmitReview(f.ctx, "s1", entities.ReviewRequest{ClinicalNotes: "note"})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))
	})

	t.Run("already enhanced", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.enhanced(t, "s1")

		_, err := f.service.SubmitReview(f.ctx, "s1", entities.ReviewRequest{ClinicalNotes: "note"})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
	})
}

func TestWorkflowService_EnhanceTimeoutKeepsReviewed(t *testing.T) {
	f := newWorkflowFixture(t)
	f.reviewed(t, "s1")

	f.enhancer.On("Enhance", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	_, err := f.service.Enhance(f.ctx, "s1")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))

	view, err := f.service.CurrentState(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateReviewed, view.State)

	f.enhancer.On("Enhance", mock.Anything, mock.MatchedBy(func(req entities.EnhanceRequest) bool {
		return req.CorrelationID == "corr-1"
	})).Return(&entities.EnhanceResult{Payload: []byte(samplePayload)}, nil).Once()

	blocks, err := f.service.Enhance(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateEnhanced, blocks.State)
	assert.Equal(t, []string{"chief_complaint", "plan"}, blocks.Selected)
}

func TestWorkflowService_EnhanceUnparseablePayload(t *testing.T) {
	f := newWorkflowFixture(t)
	f.reviewed(t, "s1")
	f.enhancer.On("Enhance", mock.Anything, mock.Anything).Return(&entities.EnhanceResult{Payload: []byte(`{"sections":`)}, nil)

	view, err := f.service.Enhance(f.ctx, "s1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataShape))
	require.NotNil(t, view)
	require.Len(t, view.Blocks, 1)
	assert.Equal(t, `{"sections":`, view.Blocks[0].Text)

	current, err := f.service.CurrentState(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateReviewed, current.State)
}

func TestWorkflowService_EnhanceWithoutRenderableContentKeepsReviewed(t *testing.T) {
	for _, payload := range []string{`{}`, `[]`, `null`, `{"title":"Visit"}`} {
		t.Run(payload, func(t *testing.T) {
			f := newWorkflowFixture(t)
			f.reviewed(t, "s1")
			f.enhancer.On("Enhance", mock.Anything, mock.Anything).Return(&entities.EnhanceResult{Payload: []byte(payload)}, nil).Once()

			_, err := f.service.Enhance(f.ctx, "s1")
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))

			view, err := f.service.CurrentState(f.ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, entities.WorkflowStateReviewed, view.State)
			assert.False(t, view.HasPayload)

			f.enhancer.On("Enhance", mock.Anything, mock.Anything).Return(&entities.EnhanceResult{Payload: []byte(samplePayload)}, nil).Once()
			blocks, err := f.service.Enhance(f.ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, entities.WorkflowStateEnhanced, blocks.State)
		})
	}
}

func TestWorkflowService_EnhanceRechecksStateUnderLock(t *testing.T) {
	f := newWorkflowFixture(t)
	f.service.opts.EnhanceTimeout = time.Second
	f.reviewed(t, "s1")

	// the session moves on after the caller's first check but before it
	// takes the lock
	f.service.guard = NewInFlightGuard(&enhanceOnAcquire{CacheProvider: f.cache, run: func() {
		current, _, err := f.service.replicator.Load(f.ctx, "s1")
		require.NoError(t, err)
		current.State = entities.WorkflowStateEnhanced
		require.NoError(t, f.service.replicator.Save(f.ctx, "s1", current))
	}}, time.Minute)

	_, err := f.service.Enhance(f.ctx, "s1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
	f.enhancer.AssertNotCalled(t, "Enhance", mock.Anything, mock.Anything)
}

func TestWorkflowService_EnhanceSingleFlight(t *testing.T) {
	f := newWorkflowFixture(t)
	f.service.opts.EnhanceTimeout = time.Second
	f.reviewed(t, "s1")

	started := make(chan struct{})
	finish := make(chan struct{})
	f.enhancer.On("Enhance", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-finish
		}).
		Return(&entities.EnhanceResult{Payload: []byte(samplePayload)}, nil).Once()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx := state.WithRequestStore(context.Background(), state.NewRequestStore())
		_, err := f.service.Enhance(ctx, "s1")
		assert.NoError(t, err)
	}()

	<-started
	_, err := f.service.Enhance(f.ctx, "s1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	close(finish)
	wg.Wait()
}

func TestWorkflowService_SelectionEditing(t *testing.T) {
	f := newWorkflowFixture(t)
	f.enhanced(t, "s1")

	view, err := f.service.ToggleBlock(f.ctx, "s1", "plan", false)
	require.NoError(t, err)
	assert.True(t, view.Changed)
	assert.Equal(t, []string{"chief_complaint"}, view.Selected)

	view, err = f.service.ToggleBlock(f.ctx, "s1", "stale-block", true)
	require.NoError(t, err)
	assert.False(t, view.Changed)
	assert.Equal(t, []string{"chief_complaint"}, view.Selected)

	view, err = f.service.DeselectAll(f.ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, view.Selected)

	view, err = f.service.SelectAll(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"chief_complaint", "plan"}, view.Selected)

	blocks, err := f.service.GetRenderableBlocks(f.ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, blocks.Blocks, 2)
	assert.Equal(t, []string{"chief_complaint", "plan"}, blocks.Selected)
}

func TestWorkflowService_ApproveSelection(t *testing.T) {
	f := newWorkflowFixture(t)
	f.enhanced(t, "s1")

	_, err := f.service.ToggleBlock(f.ctx, "s1", "plan", false)
	require.NoError(t, err)

	note, err := f.service.ApproveSelection(f.ctx, "s1", entities.NoteMetadata{ClinicianName: "Dr. Rivera"})
	require.NoError(t, err)
	assert.Contains(t, note.Text, "Chief Complaint")
	assert.Contains(t, note.Text, "Headache")
	assert.NotContains(t, note.Text, "Hydration")
	assert.Contains(t, note.Text, "Correlation ID: corr-1")
	assert.NotEmpty(t, note.NoteID)
	assert.Contains(t, note.Filename, "clinical-note-20261016T093000Z-")

	view, err := f.service.CurrentState(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateFinalized, view.State)
	assert.Equal(t, note.Text, view.FinalText)

	_, err = f.service.ToggleBlock(f.ctx, "s1", "plan", true)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}

func TestWorkflowService_ApproveEmptySelectionRejected(t *testing.T) {
	f := newWorkflowFixture(t)
	f.enhanced(t, "s1")

	_, err := f.service.DeselectAll(f.ctx, "s1")
	require.NoError(t, err)

	_, err = f.service.ApproveSelection(f.ctx, "s1", entities.NoteMetadata{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	view, err := f.service.CurrentState(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateEnhanced, view.State)
}

func TestWorkflowService_ApproveFailedSaveKeepsSelection(t *testing.T) {
	memory := cache.NewMemoryAdapter()
	tier := &switchableTier{StateTier: state.NewSessionTier(memory, time.Hour)}
	f := newWorkflowFixtureWithTiers(t, memory, tier)
	f.enhanced(t, "s1")

	_, err := f.service.ToggleBlock(f.ctx, "s1", "plan", false)
	require.NoError(t, err)

	tier.failPuts = true
	_, err = f.service.ApproveSelection(f.ctx, "s1", entities.NoteMetadata{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypePersistence))

	view, err := f.service.CurrentState(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateEnhanced, view.State)
	assert.Equal(t, []string{"chief_complaint"}, view.Selected)

	tier.failPuts = false
	note, err := f.service.ApproveSelection(f.ctx, "s1", entities.NoteMetadata{})
	require.NoError(t, err)
	assert.NotContains(t, note.Text, "Hydration")
}

func TestWorkflowService_ApproveFromSectionsApproved(t *testing.T) {
	f := newWorkflowFixture(t)
	f.enhanced(t, "s1")

	current, _, err := f.service.replicator.Load(f.ctx, "s1")
	require.NoError(t, err)
	current.State = entities.WorkflowStateSectionsApproved
	current.Selection = []string{"plan"}
	require.NoError(t, f.service.replicator.Save(f.ctx, "s1", current))

	note, err := f.service.ApproveSelection(f.ctx, "s1", entities.NoteMetadata{})
	require.NoError(t, err)
	assert.Contains(t, note.Text, "Hydration")
	assert.NotContains(t, note.Text, "Headache")

	view, err := f.service.CurrentState(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateFinalized, view.State)
}

func TestWorkflowService_BackToEnhancedResetsSelection(t *testing.T) {
	f := newWorkflowFixture(t)
	f.enhanced(t, "s1")

	_, err := f.service.ToggleBlock(f.ctx, "s1", "plan", false)
	require.NoError(t, err)
	_, err = f.service.ApproveSelection(f.ctx, "s1", entities.NoteMetadata{})
	require.NoError(t, err)

	blocks, err := f.service.BackToEnhanced(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateEnhanced, blocks.State)
	assert.Equal(t, []string{"chief_complaint", "plan"}, blocks.Selected)

	view, err := f.service.CurrentState(f.ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, view.FinalText)
	assert.True(t, view.HasPayload)
}

func TestWorkflowService_BackToEnhancedFromReviewedRejected(t *testing.T) {
	f := newWorkflowFixture(t)
	f.reviewed(t, "s1")

	_, err := f.service.BackToEnhanced(f.ctx, "s1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}

func TestWorkflowService_Restart(t *testing.T) {
	f := newWorkflowFixture(t)
	f.enhanced(t, "s1")

	view, err := f.service.Restart(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateAwaitingReview, view.State)

	current, err := f.service.CurrentState(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateAwaitingReview, current.State)

	exists, err := f.cache.Exists(context.Background(), "workflow:state:s1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWorkflowService_SessionTierSurvivesNewRequest(t *testing.T) {
	f := newWorkflowFixture(t)
	f.enhanced(t, "s1")

	fresh := state.WithRequestStore(context.Background(), state.NewRequestStore())
	view, err := f.service.CurrentState(fresh, "s1")
	require.NoError(t, err)
	assert.Equal(t, entities.WorkflowStateEnhanced, view.State)
	assert.Equal(t, providers.TierSession, view.LoadedFrom)
}
