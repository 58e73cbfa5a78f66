package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/zatekoja/clinicalnotes/backend/internal/adapters/state"
	"github.com/zatekoja/clinicalnotes/backend/internal/api/handlers"
	"github.com/zatekoja/clinicalnotes/backend/internal/api/middleware"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/observability"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options configures the middleware chain.
type Options struct {
	AllowedOrigins []string
	SessionTTL     time.Duration
	// Checks are run by GET /ready, keyed by dependency name.
	Checks map[string]HealthCheck
}

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	workflowHandler *handlers.WorkflowHandler

	codec   *state.TokenCodec
	metrics *observability.Metrics
	opts    Options
}

// NewRouter creates a new router
func NewRouter(
	workflowHandler *handlers.WorkflowHandler,
	codec *state.TokenCodec,
	metrics *observability.Metrics,
	opts Options,
) *Router {
	return &Router{
		mux:             http.NewServeMux(),
		workflowHandler: workflowHandler,
		codec:           codec,
		metrics:         metrics,
		opts:            opts,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	// Health check endpoint
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})
	r.mux.HandleFunc("GET /ready", r.ready)

	// Workflow endpoints
	r.mux.HandleFunc("GET /api/workflow/state", r.workflowHandler.GetState)
	r.mux.HandleFunc("POST /api/workflow/review", r.workflowHandler.SubmitReview)
	r.mux.HandleFunc("POST /api/workflow/enhance", r.workflowHandler.Enhance)
	r.mux.HandleFunc("POST /api/workflow/back", r.workflowHandler.BackToEnhanced)
	r.mux.HandleFunc("POST /api/workflow/restart", r.workflowHandler.Restart)

	// Block and selection endpoints
	r.mux.HandleFunc("GET /api/workflow/blocks", r.workflowHandler.GetBlocks)
	r.mux.HandleFunc("POST /api/workflow/blocks/{id}/toggle", r.workflowHandler.ToggleBlock)
	r.mux.HandleFunc("GET /api/workflow/selection", r.workflowHandler.GetSelection)
	r.mux.HandleFunc("POST /api/workflow/selection/all", r.workflowHandler.SelectAll)
	r.mux.HandleFunc("DELETE /api/workflow/selection", r.workflowHandler.DeselectAll)

	// Approval and download
	r.mux.HandleFunc("POST /api/workflow/approve", r.workflowHandler.Approve)
	r.mux.HandleFunc("GET /api/workflow/note", r.workflowHandler.Download)

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = middleware.RecordRoute(r.mux)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.SessionMiddleware(r.codec, r.opts.SessionTTL)(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.ResponseOptimization(handler)
	// CORS wraps everything so preflight requests never reach the session layer
	handler = middleware.CORSMiddleware(r.opts.AllowedOrigins)(handler)

	return handler
}

func (r *Router) ready(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(r.opts.Checks))
	for name, check := range r.opts.Checks {
		if err := check(ctx); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("dependency", name).Msg("readiness check failed")
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(results)
}
