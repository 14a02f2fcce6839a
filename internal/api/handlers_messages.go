package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/org/ephemera/internal/relay"
	"github.com/org/ephemera/internal/storage"
)

const notFoundMessage = "message not found or already viewed"

// A JSON string escapes each content byte to at most six bytes (\u003c), and
// jsonOverhead covers the rest of the envelope.
const (
	jsonEscapeFactor = 6
	jsonOverhead     = 1024
)

type sendRequest struct {
	Content string `json:"content"`
	Views   int    `json:"views"`
}

type sendResponse struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Views int    `json:"views"`
}

// SendHandler handles POST /v1/messages
func (s *Server) SendHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSend(w, r)
	if !ok {
		return
	}
	id, err := s.relay.Send(r.Context(), []byte(req.Content), req.Views)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	views := req.Views
	if views == 0 {
		views = s.relay.DefaultViews()
	}
	writeJSON(w, http.StatusCreated, sendResponse{
		ID:    id,
		URL:   s.cfg.BaseURL + "/v1/messages/" + id,
		Views: views,
	})
}

// ReceiveHandler handles GET /v1/messages/{id}
func (s *Server) ReceiveHandler(w http.ResponseWriter, r *http.Request) {
	plaintext, err := s.relay.Receive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": string(plaintext)})
}

// DeleteHandler handles DELETE /v1/messages/{id}
func (s *Server) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.relay.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LegacySendHandler handles POST /send
func (s *Server) LegacySendHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSend(w, r)
	if !ok {
		return
	}
	id, err := s.relay.Send(r.Context(), []byte(req.Content), req.Views)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": s.cfg.BaseURL + "/receive/" + id})
}

// LegacyReceiveHandler handles GET /receive/{id} and answers with the raw
// plaintext.
func (s *Server) LegacyReceiveHandler(w http.ResponseWriter, r *http.Request) {
	plaintext, err := s.relay.Receive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(plaintext) //nolint:errcheck
}

func (s *Server) decodeSend(w http.ResponseWriter, r *http.Request) (sendRequest, bool) {
	var req sendRequest
	limit := int64(s.relay.MaxMessageBytes())*jsonEscapeFactor + jsonOverhead
	if err := decodeJSON(w, r, limit, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "message too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return req, false
	}
	if req.Views < 0 {
		writeError(w, http.StatusBadRequest, "views must not be negative")
		return req, false
	}
	return req, true
}

// writeServiceError maps relay and storage errors onto HTTP responses. Error
// bodies never echo message content.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundMessage)
	case errors.Is(err, relay.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "content must not be empty")
	case errors.Is(err, relay.ErrMessageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "message too large")
	case errors.Is(err, storage.ErrInvalidQuota):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("views must be between 1 and %d", s.relay.MaxViews()))
	default:
		log.Error().Err(err).Str("request_id", requestIDFromCtx(r.Context())).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
