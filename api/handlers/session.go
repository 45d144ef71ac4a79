// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/the-vow/backend/internal/model"
	"github.com/the-vow/backend/internal/session"
	"github.com/the-vow/backend/internal/vow"
)

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	sessionManager *session.Manager
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionManager *session.Manager) *SessionHandler {
	return &SessionHandler{
		sessionManager: sessionManager,
	}
}

// CreateSessionRequest represents the request body for creating a session.
// Both fields are optional; the body may be empty.
type CreateSessionRequest struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// JoinSessionRequest represents the request body for joining a session.
type JoinSessionRequest struct {
	Code string `json:"code"`
}

// SessionResponse represents a session in API responses. Times are epoch milliseconds.
type SessionResponse struct {
	ID           string            `json:"id"`
	Code         string            `json:"code"`
	Role         model.SessionRole `json:"role,omitempty"`
	Participants []string          `json:"participants"`
	CreatedAt    int64             `json:"createdAt"`
	ExpiresAt    int64             `json:"expiresAt"`
}

// SessionEnvelope wraps a session for create and join responses.
type SessionEnvelope struct {
	Session *SessionResponse `json:"session"`
}

// SessionCardResponse is the body of GET /api/session/:id.
type SessionCardResponse struct {
	Session *SessionResponse `json:"session"`
	VowCard vow.Card         `json:"vowCard"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// toSessionResponse converts a model.Session to SessionResponse.
func toSessionResponse(s *model.Session, role model.SessionRole) *SessionResponse {
	participants := s.Participants
	if participants == nil {
		participants = []string{}
	}
	return &SessionResponse{
		ID:           s.ID,
		Code:         s.Code,
		Role:         role,
		Participants: participants,
		CreatedAt:    s.CreatedAt.UnixMilli(),
		ExpiresAt:    s.ExpiresAt.UnixMilli(),
	}
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendSessionError maps session errors to status codes.
func sendSessionError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidCode):
		sendError(c, http.StatusBadRequest, "INVALID_CODE", "Invalid session code")
	case errors.Is(err, model.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found")
	case errors.Is(err, model.ErrSessionExpired):
		sendError(c, http.StatusGone, "SESSION_EXPIRED", "Session expired")
	case errors.Is(err, model.ErrCodeTaken):
		sendError(c, http.StatusConflict, "CODE_TAKEN", "Session code already in use")
	default:
		log.Error().Err(err).Str("op", op).Msg("Session request failed")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+op+" session")
	}
}

// Create handles POST /api/session/create - creates a new session.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	sess, err := h.sessionManager.Create(c.Request.Context(), session.CreateRequest{
		ID:   req.ID,
		Code: req.Code,
	})
	if err != nil {
		sendSessionError(c, "create", err)
		return
	}

	c.JSON(http.StatusOK, SessionEnvelope{Session: toSessionResponse(sess, model.SessionRoleHost)})
}

// Join handles POST /api/session/join - looks a session up by its join code.
func (h *SessionHandler) Join(c *gin.Context) {
	var req JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	sess, err := h.sessionManager.Join(c.Request.Context(), req.Code)
	if err != nil {
		sendSessionError(c, "join", err)
		return
	}

	c.JSON(http.StatusOK, SessionEnvelope{Session: toSessionResponse(sess, model.SessionRoleParticipant)})
}

// Get handles GET /api/session/:id - returns the session and its vow card.
func (h *SessionHandler) Get(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Session ID is required")
		return
	}

	view, err := h.sessionManager.Get(c.Request.Context(), sessionID)
	if err != nil {
		sendSessionError(c, "get", err)
		return
	}

	c.JSON(http.StatusOK, SessionCardResponse{
		Session: toSessionResponse(view.Session, ""),
		VowCard: view.Card,
	})
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/session")
	{
		sessions.POST("/create", h.Create)
		sessions.POST("/join", h.Join)
		sessions.GET("/:id", h.Get)
	}
}
