package api

import (
	"errors"
	"net/http"

	"github.com/dyluth/quill/internal/coordinator"
	"github.com/dyluth/quill/internal/lifecycle"
	"github.com/dyluth/quill/pkg/session"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// statusFor maps engine errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case session.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, lifecycle.ErrNotForming):
		return http.StatusConflict, "not_forming"
	case errors.Is(err, session.ErrTxConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, coordinator.ErrInvalidPhase):
		return http.StatusBadRequest, "invalid_phase"
	case errors.Is(err, coordinator.ErrNotParticipant), errors.Is(err, session.ErrPlayerNotFound):
		return http.StatusForbidden, "not_participant"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
}
