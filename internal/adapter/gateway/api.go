package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/usecase"
)

type chatRequest struct {
	Message       string `json:"message"`
	SessionID     string `json:"session_id"`
	ImageData     string `json:"image_data"`
	ImageMIMEType string `json:"image_mime_type"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

type deleteResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxMessageBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Detail: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid JSON body"})
		return
	}

	result, err := s.deps.Chat.Handle(r.Context(), usecase.ChatRequest{
		SessionID:     req.SessionID,
		Message:       req.Message,
		ImageData:     req.ImageData,
		ImageMIMEType: req.ImageMIMEType,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: result.Response, SessionID: result.SessionID})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Chat.Delete(r.Context(), id) {
		writeJSON(w, http.StatusOK, deleteResponse{Status: "deleted", Message: fmt.Sprintf("Session %s cleared", id)})
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Status: "not_found", Message: fmt.Sprintf("Session %s not found", id)})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.deps.Chat.List()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"active_sessions": ids})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "app": s.deps.AppName})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   s.deps.AppName + " API is running",
		"version":   s.deps.Version,
		"endpoints": []string{"/api/chat", "/ws/{session_id}", "/health", "/metrics"},
	})
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedModality):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", domain.ErrorCodeOf(err), "error", err)
	}
	writeJSON(w, status, errorBody{Detail: errorDetail(err)})
}

// errorDetail prefers the human-readable detail of a domain error.
func errorDetail(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
