package entities

import (
	"fmt"
	"time"
)

// WorkflowState is the stage a note has reached in the review and
// enhancement pipeline.
type WorkflowState string

const (
	WorkflowStateAwaitingReview   WorkflowState = "awaiting_review"
	WorkflowStateReviewed         WorkflowState = "reviewed"
	WorkflowStateEnhanced         WorkflowState = "enhanced"
	WorkflowStateSectionsApproved WorkflowState = "sections_approved"
	WorkflowStateFinalized        WorkflowState = "finalized"
)

// allowedTransitions lists every legal edge. Forward edges advance one stage
// at a time; the only backward edges return to Enhanced for another editing
// pass. Re-entering Reviewed from Reviewed covers a repeated review call.
var allowedTransitions = map[WorkflowState][]WorkflowState{
	WorkflowStateAwaitingReview:   {WorkflowStateReviewed},
	WorkflowStateReviewed:         {WorkflowStateReviewed, WorkflowStateEnhanced},
	WorkflowStateEnhanced:         {WorkflowStateSectionsApproved},
	WorkflowStateSectionsApproved: {WorkflowStateFinalized, WorkflowStateEnhanced},
	WorkflowStateFinalized:        {WorkflowStateEnhanced},
}

// Valid reports whether s is a known state.
func (s WorkflowState) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to WorkflowState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a descriptive error for an illegal move.
func CheckTransition(from, to WorkflowState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("cannot move from %s to %s", from, to)
	}
	return nil
}

// Finding is one issue raised by the review service.
type Finding struct {
	Code     string `json:"code,omitempty"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message"`
}

// PatientContext carries the identifiers sent with a review.
type PatientContext struct {
	PatientID   string `json:"patient_id,omitempty"`
	EncounterID string `json:"encounter_id,omitempty"`
	Age         int    `json:"age,omitempty"`
	Sex         string `json:"sex,omitempty"`
}

// PersistedState is everything the workflow must remember between requests.
// It is replicated across the request, session and durable tiers.
type PersistedState struct {
	SessionID      string         `json:"session_id"`
	State          WorkflowState  `json:"state"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	ClinicalNotes  string         `json:"clinical_notes,omitempty"`
	PatientContext PatientContext `json:"patient_context"`
	Findings       []Finding      `json:"findings,omitempty"`
	Payload        *PayloadNode   `json:"payload,omitempty"`
	Selection      []string       `json:"selection,omitempty"`
	FinalText      string         `json:"final_text,omitempty"`
	NoteID         string         `json:"note_id,omitempty"`
	Filename       string         `json:"filename,omitempty"`
	Version        int64          `json:"version"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewPersistedState returns the starting point of a fresh workflow.
func NewPersistedState(sessionID string) *PersistedState {
	return &PersistedState{
		SessionID: sessionID,
		State:     WorkflowStateAwaitingReview,
	}
}

// Clone returns a copy that can be mutated without affecting s. The payload is
// immutable and shared.
func (s *PersistedState) Clone() *PersistedState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Findings != nil {
		out.Findings = append([]Finding(nil), s.Findings...)
	}
	if s.Selection != nil {
		out.Selection = append([]string(nil), s.Selection...)
	}
	return &out
}

// NoteMetadata is supplied by the caller when approving a selection.
type NoteMetadata struct {
	ClinicianName string    `json:"clinician_name"`
	ClinicianID   string    `json:"clinician_id,omitempty"`
	PayerName     string    `json:"payer_name,omitempty"`
	PayerID       string    `json:"payer_id,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// FinalNote is the assembled document plus a filename-safe identifier.
type FinalNote struct {
	NoteID        string    `json:"note_id"`
	Filename      string    `json:"filename"`
	Text          string    `json:"final_text"`
	CorrelationID string    `json:"correlation_id"`
	GeneratedAt   time.Time `json:"generated_at"`
}
