package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/clinicalnotes/backend/internal/application/assembly"
	"github.com/zatekoja/clinicalnotes/backend/internal/application/rendering"
	"github.com/zatekoja/clinicalnotes/backend/internal/application/selection"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// WorkflowOptions tunes the workflow service.
type WorkflowOptions struct {
	EnhanceTimeout time.Duration
	// Header is printed at the top of every assembled note.
	Header string
}

// BlocksView is the renderable form of the current enhancement.
type BlocksView struct {
	State    entities.WorkflowState `json:"state"`
	Blocks   []rendering.Block      `json:"blocks"`
	Selected []string               `json:"selected"`
}

// SelectionView reports the selection after a read or an edit.
type SelectionView struct {
	State    entities.WorkflowState `json:"state"`
	Selected []string               `json:"selected"`
	Known    []string               `json:"known"`
	// Changed is false when a toggle named a block the payload does not have.
	Changed bool `json:"changed"`
}

// StateView summarises a session's workflow.
type StateView struct {
	SessionID     string                 `json:"session_id"`
	State         entities.WorkflowState `json:"state"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Findings      []entities.Finding     `json:"findings,omitempty"`
	HasPayload    bool                   `json:"has_payload"`
	Selected      []string               `json:"selected,omitempty"`
	NoteID        string                 `json:"note_id,omitempty"`
	Filename      string                 `json:"filename,omitempty"`
	FinalText     string                 `json:"final_text,omitempty"`
	Version       int64                  `json:"version"`
	UpdatedAt     time.Time              `json:"updated_at,omitempty"`
	LoadedFrom    providers.TierName     `json:"loaded_from,omitempty"`
}

// WorkflowService drives a session through review, enhancement, selective
// approval and assembly. It holds no per-session memory: every call loads
// the state from the replicator and saves it back before returning.
type WorkflowService struct {
	reviewer   providers.ReviewProvider
	enhancer   providers.EnhancementProvider
	replicator *StateReplicator
	guard      *InFlightGuard
	eventBus   providers.EventBus
	metrics    *observability.Metrics
	opts       WorkflowOptions
	now        func() time.Time
}

// NewWorkflowService creates a new workflow service. eventBus and metrics may
// be nil.
func NewWorkflowService(
	reviewer providers.ReviewProvider,
	enhancer providers.EnhancementProvider,
	replicator *StateReplicator,
	guard *InFlightGuard,
	eventBus providers.EventBus,
	metrics *observability.Metrics,
	opts WorkflowOptions,
) *WorkflowService {
	if opts.Header == "" {
		opts.Header = assembly.DefaultHeader
	}
	return &WorkflowService{
		reviewer:   reviewer,
		enhancer:   enhancer,
		replicator: replicator,
		guard:      guard,
		eventBus:   eventBus,
		metrics:    metrics,
		opts:       opts,
		now:        time.Now,
	}
}

// CurrentState returns the session's state, or a fresh AwaitingReview state
// when no tier holds anything.
func (s *WorkflowService) CurrentState(ctx context.Context, sessionID string) (*StateView, error) {
	state, tier, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	view := &StateView{
		SessionID:     sessionID,
		State:         state.State,
		CorrelationID: state.CorrelationID,
		Findings:      state.Findings,
		HasPayload:    state.Payload != nil,
		NoteID:        state.NoteID,
		Filename:      state.Filename,
		FinalText:     state.FinalText,
		Version:       state.Version,
		UpdatedAt:     state.UpdatedAt,
		LoadedFrom:    tier,
	}
	if state.Payload != nil {
		view.Selected = s.tracker(state).Ordered()
	}
	return view, nil
}

// SubmitReview sends the note to the review service and moves the session to
// Reviewed. Submitting again from Reviewed replaces the earlier review.
func (s *WorkflowService) SubmitReview(ctx context.Context, sessionID string, req entities.ReviewRequest) (*StateView, error) {
	ctx, span := observability.StartSpan(ctx, "WorkflowService.SubmitReview")
	defer span.End()

	if strings.TrimSpace(req.ClinicalNotes) == "" {
		return nil, s.reject(ctx, entities.WorkflowStateReviewed, "empty_notes", apperrors.NewValidationError("clinical notes are required"))
	}

	state, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := entities.CheckTransition(state.State, entities.WorkflowStateReviewed); err != nil {
		return nil, s.reject(ctx, entities.WorkflowStateReviewed, "wrong_state", apperrors.NewConflictError(err.Error()+"; restart the workflow to review a new note"))
	}

	result, err := s.reviewer.Review(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, s.reject(ctx, entities.WorkflowStateReviewed, "review_failed", apperrors.NewExternalError("review service call failed", err))
	}
	if !result.Succeeded() {
		return nil, s.reject(ctx, entities.WorkflowStateReviewed, "review_unsuccessful", apperrors.NewExternalError("review service did not return a successful result with a correlation id", nil))
	}

	from := state.State
	next := entities.NewPersistedState(sessionID)
	next.State = entities.WorkflowStateReviewed
	next.CorrelationID = result.CorrelationID
	next.ClinicalNotes = req.ClinicalNotes
	next.PatientContext = req.PatientContext
	next.Findings = result.Findings
	next.Version = state.Version

	if err := s.save(ctx, sessionID, next); err != nil {
		return nil, err
	}
	s.transitioned(ctx, sessionID, from, next)
	observability.SetSpanAttributes(span, attribute.String("workflow.correlation_id", next.CorrelationID))

	return s.CurrentState(ctx, sessionID)
}

// Enhance requests structured content for the reviewed note. Only one call
// per session may be in flight. On any failure the session stays Reviewed
// and the call may be retried. A payload that is not valid JSON is returned
// as a single unparseable block together with a DataShape error.
func (s *WorkflowService) Enhance(ctx context.Context, sessionID string) (*BlocksView, error) {
	ctx, span := observability.StartSpan(ctx, "WorkflowService.Enhance")
	defer span.End()

	if _, err := s.enhanceable(ctx, sessionID); err != nil {
		return nil, err
	}

	release, err := s.guard.Acquire(ctx, sessionID)
	if err != nil {
		return nil, s.reject(ctx, entities.WorkflowStateEnhanced, "in_flight", err)
	}
	defer release()

	// another call may have finished between the first check and the lock
	state, err := s.enhanceable(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if s.opts.EnhanceTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.EnhanceTimeout)
		defer cancel()
	}

	started := time.Now()
	result, err := s.enhancer.Enhance(callCtx, entities.EnhanceRequest{
		CorrelationID:  state.CorrelationID,
		ClinicalNotes:  state.ClinicalNotes,
		PatientContext: state.PatientContext,
	})
	observability.RecordEnhance(ctx, s.metrics, time.Since(started), err == nil && result.Succeeded())
	if err != nil {
		observability.RecordError(span, err)
		msg := "enhancement service call failed"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			msg = "enhancement service timed out"
		}
		return nil, s.reject(ctx, entities.WorkflowStateEnhanced, "enhance_failed", apperrors.NewExternalError(msg, err))
	}
	if !result.Succeeded() {
		return nil, s.reject(ctx, entities.WorkflowStateEnhanced, "empty_payload", apperrors.NewExternalError("enhancement service returned no content", nil))
	}

	blocks, payload, err := rendering.RenderRaw(result.Payload)
	if err != nil {
		s.reject(ctx, entities.WorkflowStateEnhanced, "unparseable_payload", err)
		return &BlocksView{State: state.State, Blocks: blocks}, err
	}
	if payload.IsEmpty() || len(blocks) == 0 {
		return nil, s.reject(ctx, entities.WorkflowStateEnhanced, "empty_payload", apperrors.NewExternalError("enhancement service returned no renderable content", nil))
	}

	from := state.State
	next := state.Clone()
	next.State = entities.WorkflowStateEnhanced
	next.Payload = payload
	next.Selection = rendering.IDs(blocks)
	next.FinalText = ""
	next.NoteID = ""
	next.Filename = ""

	if err := s.save(ctx, sessionID, next); err != nil {
		return nil, err
	}
	s.transitioned(ctx, sessionID, from, next)

	return &BlocksView{State: next.State, Blocks: blocks, Selected: next.Selection}, nil
}

// enhanceable loads the session and checks it may be enhanced.
func (s *WorkflowService) enhanceable(ctx context.Context, sessionID string) (*entities.PersistedState, error) {
	state, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.State != entities.WorkflowStateReviewed {
		return nil, s.reject(ctx, entities.WorkflowStateEnhanced, "wrong_state", apperrors.NewConflictError("enhancement requires a reviewed note; current state is "+string(state.State)))
	}
	if state.CorrelationID == "" {
		return nil, s.reject(ctx, entities.WorkflowStateEnhanced, "missing_correlation", apperrors.NewValidationError("reviewed note has no correlation id"))
	}
	return state, nil
}

// GetRenderableBlocks renders the current payload with the saved selection.
func (s *WorkflowService) GetRenderableBlocks(ctx context.Context, sessionID string) (*BlocksView, error) {
	state, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Payload == nil {
		return nil, apperrors.NewNotFoundError("no enhancement payload for this session")
	}
	blocks := rendering.Render(state.Payload)
	tracker := selection.Restore(rendering.IDs(blocks), state.Selection)
	return &BlocksView{State: state.State, Blocks: blocks, Selected: tracker.Ordered()}, nil
}

// GetSelection returns the saved selection.
func (s *WorkflowService) GetSelection(ctx context.Context, sessionID string) (*SelectionView, error) {
	state, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Payload == nil {
		return nil, apperrors.NewNotFoundError("no enhancement payload for this session")
	}
	return selectionView(state.State, s.tracker(state), true), nil
}

// ToggleBlock includes or excludes one block. Naming a block the current
// payload does not have changes nothing.
func (s *WorkflowService) ToggleBlock(ctx context.Context, sessionID, blockID string, included bool) (*SelectionView, error) {
	return s.editSelection(ctx, sessionID, func(t *selection.Tracker) bool {
		return t.Toggle(blockID, included)
	})
}

// SelectAll includes every block of the current payload.
func (s *WorkflowService) SelectAll(ctx context.Context, sessionID string) (*SelectionView, error) {
	return s.editSelection(ctx, sessionID, func(t *selection.Tracker) bool {
		t.SelectAll(t.Known())
		return true
	})
}

// DeselectAll excludes every block.
func (s *WorkflowService) DeselectAll(ctx context.Context, sessionID string) (*SelectionView, error) {
	return s.editSelection(ctx, sessionID, func(t *selection.Tracker) bool {
		t.DeselectAll()
		return true
	})
}

func (s *WorkflowService) editSelection(ctx context.Context, sessionID string, edit func(*selection.Tracker) bool) (*SelectionView, error) {
	state, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.State != entities.WorkflowStateEnhanced || state.Payload == nil {
		return nil, apperrors.NewConflictError("blocks can only be selected while the note is enhanced; current state is " + string(state.State))
	}

	tracker := s.tracker(state)
	if !edit(tracker) {
		return selectionView(state.State, tracker, false), nil
	}

	next := state.Clone()
	next.Selection = tracker.Ordered()
	if err := s.save(ctx, sessionID, next); err != nil {
		return nil, err
	}
	return selectionView(next.State, tracker, true), nil
}

// ApproveSelection freezes the selection, assembles the final note and moves
// the session through SectionsApproved to Finalized. Only the finalized state
// is persisted, so a failed save leaves the session where it was and the
// call can be retried. A session left at SectionsApproved may also approve.
func (s *WorkflowService) ApproveSelection(ctx context.Context, sessionID string, meta entities.NoteMetadata) (*entities.FinalNote, error) {
	ctx, span := observability.StartSpan(ctx, "WorkflowService.ApproveSelection")
	defer span.End()

	state, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	approvable := state.State == entities.WorkflowStateEnhanced || state.State == entities.WorkflowStateSectionsApproved
	if !approvable || state.Payload == nil {
		return nil, s.reject(ctx, entities.WorkflowStateSectionsApproved, "wrong_state", apperrors.NewConflictError("only an enhanced note can be approved; current state is "+string(state.State)))
	}

	tracker := s.tracker(state)
	if tracker.Len() == 0 {
		return nil, s.reject(ctx, entities.WorkflowStateSectionsApproved, "empty_selection", apperrors.NewValidationError("select at least one block before approving"))
	}

	approved := state.Clone()
	approved.State = entities.WorkflowStateSectionsApproved
	approved.Selection = tracker.Ordered()

	generatedAt := meta.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = s.now()
	}
	generatedAt = generatedAt.UTC()
	noteID := uuid.New().String()

	text, err := assembly.Assemble(approved.Payload, tracker.Current(), assembly.Metadata{
		Header:        s.opts.Header,
		NoteID:        noteID,
		PatientID:     approved.PatientContext.PatientID,
		EncounterID:   approved.PatientContext.EncounterID,
		CorrelationID: approved.CorrelationID,
		ClinicianName: meta.ClinicianName,
		ClinicianID:   meta.ClinicianID,
		PayerName:     meta.PayerName,
		PayerID:       meta.PayerID,
		GeneratedAt:   generatedAt,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, s.reject(ctx, entities.WorkflowStateFinalized, "empty_note", apperrors.NewValidationError("assembled note is empty"))
	}

	final := approved.Clone()
	final.State = entities.WorkflowStateFinalized
	final.FinalText = text
	final.NoteID = noteID
	final.Filename = assembly.NoteFilename(noteID, generatedAt)
	if err := s.save(ctx, sessionID, final); err != nil {
		return nil, err
	}
	if state.State != approved.State {
		s.transitioned(ctx, sessionID, state.State, approved)
	}
	s.transitioned(ctx, sessionID, approved.State, final)

	return &entities.FinalNote{
		NoteID:        noteID,
		Filename:      final.Filename,
		Text:          text,
		CorrelationID: final.CorrelationID,
		GeneratedAt:   generatedAt,
	}, nil
}

// BackToEnhanced returns an approved or finalized note to editing. The
// payload is kept and the selection is reset to every block.
func (s *WorkflowService) BackToEnhanced(ctx context.Context, sessionID string) (*BlocksView, error) {
	state, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := entities.CheckTransition(state.State, entities.WorkflowStateEnhanced); err != nil || state.State == entities.WorkflowStateReviewed {
		return nil, s.reject(ctx, entities.WorkflowStateEnhanced, "wrong_state", apperrors.NewConflictError("only an approved or finalized note can return to editing; current state is "+string(state.State)))
	}
	if state.Payload == nil {
		return nil, apperrors.NewNotFoundError("no enhancement payload for this session")
	}

	blocks := rendering.Render(state.Payload)
	next := state.Clone()
	next.State = entities.WorkflowStateEnhanced
	next.Selection = rendering.IDs(blocks)
	next.FinalText = ""
	next.NoteID = ""
	next.Filename = ""
	if err := s.save(ctx, sessionID, next); err != nil {
		return nil, err
	}
	s.transitioned(ctx, sessionID, state.State, next)

	return &BlocksView{State: next.State, Blocks: blocks, Selected: next.Selection}, nil
}

// Restart discards everything stored for the session.
func (s *WorkflowService) Restart(ctx context.Context, sessionID string) (*StateView, error) {
	state, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.replicator.Clear(ctx, sessionID); err != nil {
		return nil, err
	}

	logger := observability.WithSession(observability.LoggerFromContext(ctx), sessionID)
	logger.Info().Str("from", string(state.State)).Msg("workflow restarted")
	s.publish(ctx, entities.NewWorkflowEvent(sessionID, entities.WorkflowEventRestart, state.State, entities.WorkflowStateAwaitingReview, state.CorrelationID))

	return &StateView{SessionID: sessionID, State: entities.WorkflowStateAwaitingReview}, nil
}

func (s *WorkflowService) load(ctx context.Context, sessionID string) (*entities.PersistedState, providers.TierName, error) {
	if sessionID == "" {
		return nil, "", apperrors.NewValidationError("session id is required")
	}
	state, tier, err := s.replicator.Load(ctx, sessionID)
	if errors.Is(err, providers.ErrStateNotFound) {
		return entities.NewPersistedState(sessionID), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return state, tier, nil
}

func (s *WorkflowService) save(ctx context.Context, sessionID string, state *entities.PersistedState) error {
	state.SessionID = sessionID
	state.Version++
	state.UpdatedAt = s.now().UTC()
	return s.replicator.Save(ctx, sessionID, state)
}

func (s *WorkflowService) tracker(state *entities.PersistedState) *selection.Tracker {
	return selection.Restore(rendering.IDs(rendering.Render(state.Payload)), state.Selection)
}

// reject logs and counts a refused transition and returns err unchanged.
func (s *WorkflowService) reject(ctx context.Context, target entities.WorkflowState, reason string, err error) error {
	observability.LoggerFromContext(ctx).Warn().Err(err).Str("to", string(target)).Str("reason", reason).Msg("workflow transition rejected")
	observability.RecordGuardRejected(ctx, s.metrics, string(target), reason)
	return err
}

func (s *WorkflowService) transitioned(ctx context.Context, sessionID string, from entities.WorkflowState, next *entities.PersistedState) {
	logger := observability.WithSession(observability.LoggerFromContext(ctx), sessionID)
	logger.Info().Str("from", string(from)).Str("to", string(next.State)).Int64("version", next.Version).Msg("workflow transition")
	observability.RecordTransition(ctx, s.metrics, string(from), string(next.State))
	s.publish(ctx, entities.NewWorkflowEvent(sessionID, entities.WorkflowEventTransition, from, next.State, next.CorrelationID))
}

func (s *WorkflowService) publish(ctx context.Context, event *entities.WorkflowEvent) {
	if s.eventBus == nil {
		return
	}
	for _, channel := range []string{providers.EventChannelWorkflow, providers.GetSessionChannel(event.SessionID)} {
		if err := s.eventBus.Publish(ctx, channel, event); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("channel", channel).Msg("failed to publish workflow event")
		}
	}
}

func selectionView(state entities.WorkflowState, tracker *selection.Tracker, changed bool) *SelectionView {
	return &SelectionView{
		State:    state,
		Selected: tracker.Ordered(),
		Known:    tracker.Known(),
		Changed:  changed,
	}
}
