package web

import (
	"context"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"bulc-license-server/internal/infra/logging"
)

type ctxKey int

const (
	ctxKeyOwnerID ctxKey = iota
	ctxKeyRole
)

// OwnerID returns the authenticated owner id, or "" outside the auth middleware.
func OwnerID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyOwnerID).(string); ok {
		return v
	}
	return ""
}

func roleOf(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRole).(string); ok {
		return v
	}
	return ""
}

// requestIDMiddleware tags every request with a ULID, echoed back in the
// X-Request-Id header and threaded through the logging context.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = ulid.Make().String()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func logMiddleware(base *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logging.With(r.Context(), base).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

// authMiddleware resolves the bearer token into the owner id. The owner id is
// never taken from the request body.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyOwnerID, claims.Subject)
		ctx = context.WithValue(ctx, ctxKeyRole, claims.Role)
		ctx = logging.WithOwnerID(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminMiddleware sits behind authMiddleware and requires the admin role.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if roleOf(r.Context()) != "admin" {
			writeError(w, http.StatusForbidden, "ACCESS_DENIED", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
