package api

import (
	"net/http"

	"github.com/dyluth/quill/internal/coordinator"
	"github.com/dyluth/quill/internal/lifecycle"
	"github.com/dyluth/quill/internal/observer"
	"github.com/dyluth/quill/pkg/session"
	"github.com/gin-gonic/gin"
)

// JoinRequest is the body of POST /v1/sessions/join.
type JoinRequest struct {
	Mode        string              `json:"mode" binding:"required"`
	Participant session.Participant `json:"participant"`
}

// JoinResponse reports the session joined and whether it was newly created.
type JoinResponse struct {
	Session *session.Session `json:"session"`
	Created bool             `json:"created"`
}

// PromoteRequest is the body of POST /v1/sessions/:id/promote.
type PromoteRequest struct {
	Trait              string `json:"trait"`
	PromptID           string `json:"prompt_id" binding:"required"`
	PromptType         string `json:"prompt_type"`
	PhaseDuration      int    `json:"phase_duration" binding:"gte=0"`
	RepresentativeRank string `json:"representative_rank"`
}

// SubmitRequest is the body of POST /v1/sessions/:id/submissions.
type SubmitRequest struct {
	UserID  string         `json:"user_id" binding:"required"`
	Phase   int            `json:"phase" binding:"required"`
	Payload map[string]any `json:"payload"`
}

// SessionResponse wraps a session with the derived, clock-dependent views.
type SessionResponse struct {
	Session              *session.Session         `json:"session"`
	PhaseTimeRemaining   int                      `json:"phase_time_remaining"`
	CurrentSubmissions   observer.SubmissionCount `json:"current_submissions"`
	ConnectedPlayerCount int                      `json:"connected_player_count"`
}

func (s *Server) handleJoin(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Participant.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	sess, created, err := s.engine.Lifecycle.JoinOrCreate(c.Request.Context(), req.Participant, req.Mode)
	if err != nil {
		s.fail(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, JoinResponse{Session: sess, Created: created})
}

func (s *Server) handleGet(c *gin.Context) {
	sess, err := s.engine.Lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}

	nowMs := s.engine.Now().UnixMilli()
	c.JSON(http.StatusOK, SessionResponse{
		Session:              sess,
		PhaseTimeRemaining:   observer.PhaseTimeRemaining(sess, nowMs),
		CurrentSubmissions:   observer.CurrentSubmissionCount(sess),
		ConnectedPlayerCount: len(observer.ConnectedPlayers(sess)),
	})
}

func (s *Server) handlePromote(c *gin.Context) {
	var req PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id := c.Param("id")
	err := s.engine.Lifecycle.Promote(c.Request.Context(), id, lifecycle.PromoteRequest{
		Trait:              req.Trait,
		PromptID:           req.PromptID,
		PromptType:         req.PromptType,
		PhaseDuration:      req.PhaseDuration,
		RepresentativeRank: req.RepresentativeRank,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	sess, err := s.engine.Lifecycle.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.engine.Submit(c.Request.Context(), nil, c.Param("id"), req.UserID, session.Phase(req.Phase), req.Payload)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, submitResponse(result))
}

// SubmitResponse reports the outcome of a submission.
type SubmitResponse struct {
	Phase        int  `json:"phase"`
	Transitioned bool `json:"transitioned"`
	NextPhase    int  `json:"next_phase,omitempty"`
	Completed    bool `json:"completed"`
	Stale        bool `json:"stale"`
	Submitted    int  `json:"submitted"`
	Total        int  `json:"total"`
}

func submitResponse(r *coordinator.Result) SubmitResponse {
	return SubmitResponse{
		Phase:        int(r.Phase),
		Transitioned: r.Transitioned,
		NextPhase:    int(r.NextPhase),
		Completed:    r.Completed,
		Stale:        r.Stale,
		Submitted:    r.Submitted,
		Total:        r.Total,
	}
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	if err := s.engine.Presence.Heartbeat(c.Request.Context(), c.Param("id"), c.Param("uid")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.engine.Presence.Disconnect(c.Request.Context(), c.Param("id"), c.Param("uid")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SweepResponse lists the participants a sweep marked disconnected.
type SweepResponse struct {
	Disconnected []string `json:"disconnected"`
}

func (s *Server) handleSweep(c *gin.Context) {
	ids, err := s.engine.Presence.Sweep(c.Request.Context(), c.Param("id"), s.staleAfter)
	if err != nil {
		s.fail(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, SweepResponse{Disconnected: ids})
}
