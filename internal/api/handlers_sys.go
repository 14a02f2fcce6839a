package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.relay.Ping(ctx); err != nil {
		backendUp.Set(0)
		log.Warn().Err(err).Msg("backend health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	backendUp.Set(1)

	resp := map[string]any{"status": "ok"}
	if n, err := s.relay.Pending(ctx); err == nil {
		messagesStored.Set(float64(n))
		resp["messages"] = n
	} else {
		log.Warn().Err(err).Msg("counting messages failed")
	}
	writeJSON(w, http.StatusOK, resp)
}
