// Package lifecycle creates, discovers, populates and activates sessions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/quill/internal/duration"
	"github.com/dyluth/quill/internal/telemetry"
	"github.com/dyluth/quill/pkg/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrNotForming is returned when promoting a session that has already left the forming state.
var ErrNotForming = errors.New("session is not forming")

// SchemaVersion is written into the metadata of every session this manager creates.
const SchemaVersion = "1.0"

// Manager owns session creation and activation.
type Manager struct {
	client *session.Client
	policy *duration.Policy
	now    func() time.Time
	newID  func() string
	logger zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for phase start stamps and creation times.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides uuid generation for session and match ids.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates a lifecycle manager. A nil policy uses duration.DefaultPolicy.
func NewManager(client *session.Client, policy *duration.Policy, logger zerolog.Logger, opts ...Option) *Manager {
	if policy == nil {
		policy = duration.DefaultPolicy()
	}
	m := &Manager{
		client: client,
		policy: policy,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		logger: logger.With().Str("component", "lifecycle").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateForming writes a new forming session in phase 1 containing only the creator.
func (m *Manager) CreateForming(ctx context.Context, creator session.Participant, mode string) (*session.Session, error) {
	if err := creator.Validate(); err != nil {
		return nil, fmt.Errorf("invalid participant: %w", err)
	}
	if mode == "" {
		return nil, fmt.Errorf("mode cannot be empty")
	}

	nowMs := m.now().UnixMilli()
	s := &session.Session{
		SessionID: m.newID(),
		MatchID:   m.newID(),
		Mode:      mode,
		State:     session.StateForming,
		Config:    &session.Config{Phase: session.PhaseDraft},
		Players: map[string]*session.Player{
			creator.UserID: {
				UserID:      creator.UserID,
				DisplayName: creator.DisplayName,
				Avatar:      creator.Avatar,
				Rank:        creator.Rank,
			},
		},
		Timing:       map[string]int64{},
		Coordination: &session.Coordination{},
		Metadata:     &session.Metadata{CreatedBy: creator.UserID, Version: SchemaVersion},
		CreatedAtMs:  nowMs,
		UpdatedAtMs:  nowMs,
	}

	if err := m.client.Create(ctx, s); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("event_type", "session_created").
		Str("session_id", s.SessionID).
		Str("mode", mode).
		Str("created_by", creator.UserID).
		Msg("forming session created")
	return s, nil
}

// FindForming returns the id of a forming session in mode, if any.
//
// Errors are logged and reported as no match so that callers fall through to
// creating a new session. Index entries whose document is gone or no longer
// forming are pruned along the way.
func (m *Manager) FindForming(ctx context.Context, mode string) (string, bool) {
	ids, err := m.client.FormingSessions(ctx, mode)
	if err != nil {
		m.logger.Warn().Err(err).Str("event_type", "find_forming_failed").Str("mode", mode).Msg("forming lookup failed")
		return "", false
	}

	for _, id := range ids {
		s, err := m.client.Get(ctx, id)
		if session.IsNotFound(err) || (err == nil && s.State != session.StateForming) {
			if err := m.client.RemoveFromForming(ctx, mode, id); err != nil {
				m.logger.Warn().Err(err).Str("session_id", id).Msg("failed to prune forming index")
			}
			continue
		}
		if err != nil {
			m.logger.Warn().Err(err).Str("event_type", "find_forming_failed").Str("session_id", id).Msg("forming lookup failed")
			return "", false
		}
		return id, true
	}
	return "", false
}

// AddParticipant merges a participant entry into a session. It does not read
// the session and does not check phase or quorum.
func (m *Manager) AddParticipant(ctx context.Context, sessionID string, p session.Participant, isAI bool) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid participant: %w", err)
	}
	return m.client.Merge(ctx, sessionID, session.NewPatch().SetPlayerProfile(p, isAI))
}

// PromoteRequest carries the settings a session is activated with.
// When RepresentativeRank is set the duration policy overrides PhaseDuration.
type PromoteRequest struct {
	Trait              string
	PromptID           string
	PromptType         string
	PhaseDuration      int
	RepresentativeRank string
}

// Promote moves a forming session to active, configures phase 1 and stamps
// its start time. Returns ErrNotForming if the session was already promoted.
func (m *Manager) Promote(ctx context.Context, sessionID string, req PromoteRequest) error {
	ctx, span := telemetry.Tracer().Start(ctx, "lifecycle.Promote")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	phaseDuration := req.PhaseDuration
	if req.RepresentativeRank != "" {
		phaseDuration = m.policy.PhaseDuration(req.RepresentativeRank, session.PhaseDraft)
	}
	startMs := m.now().UnixMilli()

	err := m.client.Update(ctx, sessionID, func(current *session.Session) (*session.Patch, error) {
		if current.State != session.StateForming {
			return nil, fmt.Errorf("%w: state is %s", ErrNotForming, current.State)
		}
		return session.NewPatch().
			SetState(session.StateActive).
			SetConfig(session.Config{
				Trait:         req.Trait,
				PromptID:      req.PromptID,
				PromptType:    req.PromptType,
				Phase:         session.PhaseDraft,
				PhaseDuration: session.IntPtr(phaseDuration),
			}).
			SetCoordination(session.Coordination{}).
			SetPhaseStart(session.PhaseDraft, startMs).
			LeaveFormingIndex(current.Mode), nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	m.logger.Info().
		Str("event_type", "session_promoted").
		Str("session_id", sessionID).
		Str("prompt_id", req.PromptID).
		Int("phase_duration", phaseDuration).
		Msg("session activated")
	return nil
}

// Get reads a session. Returns session.ErrNotFound when it does not exist.
func (m *Manager) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	return m.client.Get(ctx, sessionID)
}

// JoinOrCreate adds the participant to a forming session of mode, or creates
// one if none is found. Reports whether a new session was created.
func (m *Manager) JoinOrCreate(ctx context.Context, p session.Participant, mode string) (*session.Session, bool, error) {
	if id, ok := m.FindForming(ctx, mode); ok {
		err := m.AddParticipant(ctx, id, p, false)
		if err == nil {
			s, err := m.client.Get(ctx, id)
			if err == nil {
				m.logger.Info().
					Str("event_type", "session_joined").
					Str("session_id", id).
					Str("user_id", p.UserID).
					Msg("joined forming session")
				return s, false, nil
			}
			if !session.IsNotFound(err) {
				return nil, false, err
			}
		} else if !session.IsNotFound(err) {
			return nil, false, err
		}
		// The session vanished between lookup and join; fall through to create.
	}

	s, err := m.CreateForming(ctx, p, mode)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}
