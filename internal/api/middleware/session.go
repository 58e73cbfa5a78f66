package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/clinicalnotes/backend/internal/adapters/state"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/observability"
)

const (
	// SessionHeader carries the session id on requests and responses.
	SessionHeader = "X-Session-ID"
	// SessionCookie is the cookie fallback for browsers.
	SessionCookie = "session_id"
	// StateHeader carries the signed request-tier state token.
	StateHeader = "X-Workflow-State"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

type sessionKey struct{}

// WithSessionID returns a copy of ctx carrying the session id.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionIDFromContext returns the session id set by SessionMiddleware.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// SessionMiddleware resolves the session id, seeds the request tier from the
// state token the client echoed back, and writes the updated token onto the
// response before the first byte goes out.
func SessionMiddleware(codec *state.TokenCodec, sessionTTL time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, issued := resolveSessionID(r)

			store := state.NewRequestStore()
			if token := r.Header.Get(StateHeader); token != "" && !issued {
				data, err := codec.Decode(sessionID, token)
				if err != nil {
					logger := observability.WithSession(observability.LoggerFromContext(r.Context()), sessionID)
					logger.Debug().Err(err).Msg("ignoring state token")
				} else {
					store.Seed(sessionID, data)
				}
			}

			w.Header().Set(SessionHeader, sessionID)
			if issued {
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookie,
					Value:    sessionID,
					Path:     "/",
					MaxAge:   int(sessionTTL.Seconds()),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := WithSessionID(r.Context(), sessionID)
			ctx = state.WithRequestStore(ctx, store)

			sw := &stateTokenWriter{ResponseWriter: w, codec: codec, store: store, sessionID: sessionID, ctx: ctx}
			next.ServeHTTP(sw, r.WithContext(ctx))
			sw.flushToken()
		})
	}
}

func resolveSessionID(r *http.Request) (string, bool) {
	if id := r.Header.Get(SessionHeader); sessionIDPattern.MatchString(id) {
		return id, false
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil && sessionIDPattern.MatchString(cookie.Value) {
		return cookie.Value, false
	}
	return uuid.New().String(), true
}

// stateTokenWriter sets the state header from the request store once the
// handler starts writing.
type stateTokenWriter struct {
	http.ResponseWriter
	codec     *state.TokenCodec
	store     *state.RequestStore
	sessionID string
	ctx       context.Context
	written   bool
}

func (w *stateTokenWriter) flushToken() {
	if w.written {
		return
	}
	w.written = true

	data, changed := w.store.Changed(w.sessionID)
	if !changed {
		return
	}
	if data == nil {
		w.Header().Set(StateHeader, "")
		return
	}
	token, err := w.codec.Encode(w.sessionID, data)
	if err != nil {
		// The session and durable tiers still hold the state.
		logger := observability.WithSession(observability.LoggerFromContext(w.ctx), w.sessionID)
		logger.Warn().Err(err).Msg("state token not issued")
		w.Header().Set(StateHeader, "")
		return
	}
	w.Header().Set(StateHeader, token)
}

func (w *stateTokenWriter) WriteHeader(statusCode int) {
	w.flushToken()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *stateTokenWriter) Write(b []byte) (int, error) {
	w.flushToken()
	return w.ResponseWriter.Write(b)
}
