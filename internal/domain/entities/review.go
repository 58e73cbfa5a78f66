package entities

// ReviewRequest is sent to the review service.
type ReviewRequest struct {
	ClinicalNotes  string         `json:"clinical_notes"`
	PatientContext PatientContext `json:"patient_context"`
}

// ReviewResult is the review service's answer.
type ReviewResult struct {
	Status        string    `json:"status"`
	CorrelationID string    `json:"correlation_id"`
	Findings      []Finding `json:"findings"`
}

// Succeeded reports whether the review can advance the workflow.
func (r *ReviewResult) Succeeded() bool {
	return r != nil && isSuccessStatus(r.Status) && r.CorrelationID != ""
}

// EnhanceRequest asks for structured content for a reviewed note.
type EnhanceRequest struct {
	CorrelationID  string         `json:"correlation_id"`
	ClinicalNotes  string         `json:"clinical_notes,omitempty"`
	PatientContext PatientContext `json:"patient_context"`
}

// EnhanceResult carries the raw enhancement JSON; its schema is owned by the
// upstream service and is only loosely specified.
type EnhanceResult struct {
	Status  string `json:"status"`
	Payload []byte `json:"-"`
}

// Succeeded reports whether the enhance call returned usable content.
func (r *EnhanceResult) Succeeded() bool {
	return r != nil && isSuccessStatus(r.Status) && len(r.Payload) > 0
}

func isSuccessStatus(status string) bool {
	switch status {
	case "", "ok", "OK", "success", "SUCCESS", "completed", "COMPLETED":
		return true
	}
	return false
}
