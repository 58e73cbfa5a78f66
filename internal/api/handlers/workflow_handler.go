package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zatekoja/clinicalnotes/backend/internal/api/middleware"
	"github.com/zatekoja/clinicalnotes/backend/internal/application/services"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/entities"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/clinicalnotes/backend/pkg/errors"
)

// maxBodyBytes caps review submissions; clinical notes are plain text.
const maxBodyBytes = 1 << 20

// WorkflowService is the subset of services.WorkflowService the handler drives.
type WorkflowService interface {
	CurrentState(ctx context.Context, sessionID string) (*services.StateView, error)
	SubmitReview(ctx context.Context, sessionID string, req entities.ReviewRequest) (*services.StateView, error)
	Enhance(ctx context.Context, sessionID string) (*services.BlocksView, error)
	GetRenderableBlocks(ctx context.Context, sessionID string) (*services.BlocksView, error)
	GetSelection(ctx context.Context, sessionID string) (*services.SelectionView, error)
	ToggleBlock(ctx context.Context, sessionID, blockID string, included bool) (*services.SelectionView, error)
	SelectAll(ctx context.Context, sessionID string) (*services.SelectionView, error)
	DeselectAll(ctx context.Context, sessionID string) (*services.SelectionView, error)
	ApproveSelection(ctx context.Context, sessionID string, meta entities.NoteMetadata) (*entities.FinalNote, error)
	BackToEnhanced(ctx context.Context, sessionID string) (*services.BlocksView, error)
	Restart(ctx context.Context, sessionID string) (*services.StateView, error)
}

// WorkflowHandler exposes the review, enhance and approval workflow over HTTP.
type WorkflowHandler struct {
	service WorkflowService
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(service WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{service: service}
}

type toggleRequest struct {
	Included *bool `json:"included"`
}

// GetState handles GET /api/workflow/state
func (h *WorkflowHandler) GetState(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.CurrentState(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// SubmitReview handles POST /api/workflow/review
func (h *WorkflowHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	var req entities.ReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}

	view, err := h.service.SubmitReview(r.Context(), middleware.SessionIDFromContext(r.Context()), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// Enhance handles POST /api/workflow/enhance
func (h *WorkflowHandler) Enhance(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Enhance(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeDataShape) && view != nil {
			respondWithJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":  err.Error(),
				"state":  view.State,
				"blocks": view.Blocks,
			})
			return
		}
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// GetBlocks handles GET /api/workflow/blocks
func (h *WorkflowHandler) GetBlocks(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetRenderableBlocks(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// GetSelection handles GET /api/workflow/selection
func (h *WorkflowHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetSelection(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// ToggleBlock handles POST /api/workflow/blocks/{id}/toggle
func (h *WorkflowHandler) ToggleBlock(w http.ResponseWriter, r *http.Request) {
	blockID := strings.TrimSpace(r.PathValue("id"))
	if blockID == "" {
		respondWithError(w, http.StatusBadRequest, "block id is required")
		return
	}

	var req toggleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Included == nil {
		respondWithError(w, http.StatusBadRequest, "included is required")
		return
	}

	view, err := h.service.ToggleBlock(r.Context(), middleware.SessionIDFromContext(r.Context()), blockID, *req.Included)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// SelectAll handles POST /api/workflow/selection/all
func (h *WorkflowHandler) SelectAll(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.SelectAll(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// DeselectAll handles DELETE /api/workflow/selection
func (h *WorkflowHandler) DeselectAll(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.DeselectAll(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// Approve handles POST /api/workflow/approve. The body is optional.
func (h *WorkflowHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var meta entities.NoteMetadata
	if r.ContentLength != 0 && !decodeBody(w, r, &meta) {
		return
	}

	note, err := h.service.ApproveSelection(r.Context(), middleware.SessionIDFromContext(r.Context()), meta)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, note)
}

// Download handles GET /api/workflow/note and serves the finalized note as a
// text attachment.
func (h *WorkflowHandler) Download(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.CurrentState(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if view.State != entities.WorkflowStateFinalized || view.FinalText == "" {
		respondWithError(w, http.StatusNotFound, "no finalized note for this session")
		return
	}

	filename := view.NoteID + ".txt"
	if view.Filename != "" {
		filename = view.Filename
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(view.FinalText))
}

// BackToEnhanced handles POST /api/workflow/back
func (h *WorkflowHandler) BackToEnhanced(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.BackToEnhanced(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// Restart handles POST /api/workflow/restart
func (h *WorkflowHandler) Restart(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Restart(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps an application error type to its HTTP status.
func statusFor(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict
	case apperrors.ErrorTypeExternal:
		return http.StatusBadGateway
	case apperrors.ErrorTypeDataShape:
		return http.StatusUnprocessableEntity
	case apperrors.ErrorTypePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).Error().Err(err).Msg("workflow request failed")
		message = "internal server error"
	}
	respondWithJSON(w, status, map[string]string{
		"error": message,
		"type":  string(apperrors.TypeOf(err)),
	})
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
