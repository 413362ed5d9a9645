package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgechat/forgechat/internal/tracing"
	"github.com/forgechat/forgechat/pkg/chat"
	"github.com/forgechat/forgechat/pkg/health"
	"github.com/rs/zerolog"
)

// handleCreateSession handles POST /api/v1/session
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
		return
	}
	if !s.checkSecret(r) {
		s.writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid shared secret")
		return
	}
	if s.shuttingDown() {
		s.writeError(w, http.StatusServiceUnavailable, CodeShuttingDown, "server is shutting down")
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed request body")
		return
	}

	ctx := tracing.NewRequestContext(r.Context())
	logger := tracing.LoggerFromContext(ctx, s.logger)

	info, err := s.service.CreateSession(ctx, req.Identity)
	if err != nil {
		s.writeServiceError(w, logger, err)
		return
	}

	logger.Info().
		Str("session_id", info.SessionID).
		Str("identity", req.Identity).
		Msg("Gateway issued session")

	s.writeJSON(w, http.StatusOK, info)
}

// handleChat handles POST /api/v1/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
		return
	}
	if !s.checkSecret(r) {
		s.writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid shared secret")
		return
	}
	if s.shuttingDown() {
		s.writeError(w, http.StatusServiceUnavailable, CodeShuttingDown, "server is shutting down")
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	var req chat.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed request body")
		return
	}

	ctx := tracing.NewRequestContext(r.Context())
	ctx = tracing.WithSessionID(ctx, req.SessionID)
	ctx = tracing.WithIdentity(ctx, req.Identity)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	logger.Info().Msg("Gateway received chat turn")

	resp, err := s.service.ProcessTurn(ctx, req)
	if err != nil {
		s.writeServiceError(w, logger, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
		return
	}

	status := s.service.Health(r.Context())

	code := http.StatusOK
	if status.Level == string(health.LevelUnavailable) {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, status)
}

// writeServiceError maps chat service errors onto HTTP responses.
// Authentication and validation failures carry their specific codes;
// everything else is reported as a generic internal error.
func (s *Server) writeServiceError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("Gateway request failed")
	}
	s.writeError(w, status, codeForError(err), safeMessage(err))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrSessionExpired):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func codeForError(err error) string {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return CodeInvalidRequest
	case errors.Is(err, chat.ErrAuthentication):
		return CodeUnauthorized
	case errors.Is(err, chat.ErrSessionExpired):
		return CodeSessionExpired
	default:
		return CodeInternal
	}
}

// safeMessage returns client-facing text for a service error.
// Validation messages are already user text; anything else gets a fixed
// message so internal detail never leaks.
func safeMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return err.Error()
	case errors.Is(err, chat.ErrAuthentication):
		return "authentication failed"
	case errors.Is(err, chat.ErrSessionExpired):
		return "session expired, start a new conversation"
	default:
		return "internal error"
	}
}

// writeJSON writes a JSON response body
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message}})
}
