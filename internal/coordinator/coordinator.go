// Package coordinator records phase submissions and advances sessions.
//
// Every Submit runs as one optimistic transaction on the session document: the
// submission is recorded and, if it completes the phase quorum, the transition
// is written in the same commit. Concurrent submitters serialize on the
// document, so exactly one of them observes the completed quorum.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/quill/internal/duration"
	"github.com/dyluth/quill/internal/metrics"
	"github.com/dyluth/quill/internal/telemetry"
	"github.com/dyluth/quill/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrInvalidPhase is returned for phases outside 1..3.
	ErrInvalidPhase = errors.New("invalid phase")

	// ErrNotParticipant is returned when the submitter has no entry in the session.
	ErrNotParticipant = errors.New("user is not a participant of the session")
)

// Result describes the outcome of one committed submission.
type Result struct {
	Phase        session.Phase
	Transitioned bool
	// NextPhase is set when a transition opened a new phase.
	NextPhase session.Phase
	// Completed is set when the submission completed phase 3.
	Completed bool
	// Stale is set when the session had already left the submitted phase.
	Stale bool

	Submitted int
	Total     int
}

// Coordinator performs transactional submissions.
type Coordinator struct {
	client *session.Client
	policy *duration.Policy
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for submission and phase start stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator. A nil policy uses duration.DefaultPolicy.
func New(client *session.Client, policy *duration.Policy, logger zerolog.Logger, opts ...Option) *Coordinator {
	if policy == nil {
		policy = duration.DefaultPolicy()
	}
	c := &Coordinator{
		client: client,
		policy: policy,
		now:    time.Now,
		logger: logger.With().Str("component", "coordinator").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit records userID's submission for phase and advances the session when
// the submission completes the quorum. Re-submitting a phase overwrites the
// payload and never counts twice.
//
// Returns session.ErrNotFound, ErrInvalidPhase or ErrNotParticipant without
// writing anything.
func (c *Coordinator) Submit(ctx context.Context, sessionID, userID string, phase session.Phase, payload map[string]any) (*Result, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPhase, int(phase))
	}

	ctx, span := telemetry.Tracer().Start(ctx, "coordinator.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("user.id", userID),
		attribute.Int("phase", int(phase)),
	)

	sub := submission{userID: userID, phase: phase, payload: payload, nowMs: c.now().UnixMilli()}

	var result Result
	err := c.client.Update(ctx, sessionID, func(current *session.Session) (*session.Patch, error) {
		patch, r, err := plan(current, sub, c.policy)
		if err != nil {
			return nil, err
		}
		result = r
		return patch, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Bool("transitioned", result.Transitioned))
	c.record(sessionID, userID, result)
	return &result, nil
}

// record emits logs and metrics for a committed submission.
func (c *Coordinator) record(sessionID, userID string, r Result) {
	metrics.Submissions.WithLabelValues(r.Phase.Key()).Inc()

	c.logger.Debug().
		Str("event_type", "submission_recorded").
		Str("session_id", sessionID).
		Str("user_id", userID).
		Int("phase", int(r.Phase)).
		Int("submitted", r.Submitted).
		Int("total", r.Total).
		Bool("stale", r.Stale).
		Msg("submission recorded")

	if !r.Transitioned {
		return
	}

	to := string(session.StateCompleted)
	if !r.Completed {
		to = r.NextPhase.Key()
	}
	metrics.PhaseTransitions.WithLabelValues(to).Inc()

	c.logger.Info().
		Str("event_type", "phase_transition").
		Str("session_id", sessionID).
		Str("triggered_by", userID).
		Str("from", r.Phase.Key()).
		Str("to", to).
		Msg("phase transition committed")
}
