package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/org/ephemera/internal/auth"
	"github.com/org/ephemera/pkg/models"
)

const adminTokenHeader = "X-Admin-Token"

// requestIDMiddleware attaches a UUID request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := withRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminMiddleware admits requests carrying the configured admin token. When
// no token is configured the route behaves as if it did not exist.
func adminMiddleware(guard *auth.AdminGuard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := guard.Check(r.Header.Get(adminTokenHeader))
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, auth.ErrDisabled):
				writeError(w, http.StatusNotFound, "not found")
			case errors.Is(err, auth.ErrMissingToken):
				writeError(w, http.StatusUnauthorized, "missing "+adminTokenHeader+" header")
			default:
				writeError(w, http.StatusForbidden, "permission denied")
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// auditMiddleware records every request and its response code. Bodies are
// never inspected.
func auditMiddleware(auditor AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rr, r)

			tokenHash := ""
			if tok := r.Header.Get(adminTokenHeader); tok != "" {
				tokenHash = auth.HashToken(tok)
			}

			entry := &models.AuditEntry{
				RequestID:      requestIDFromCtx(r.Context()),
				TokenHash:      tokenHash,
				Operation:      r.Method,
				Path:           routePattern(r),
				ResponseCode:   rr.statusCode,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				ClientIP:       r.RemoteAddr,
			}
			auditor.LogRequest(r.Context(), entry)
		})
	}
}

// routePattern returns the matched chi pattern so message ids never reach
// logs or metric labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
