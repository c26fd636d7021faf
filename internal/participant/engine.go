// Package participant is the per-client entry point to a session.
//
// An Engine holds the shared, session-independent components. Each joined
// participant gets its own Client bundling a heartbeat, an observer and the
// submission path for exactly one session, so any number of sessions can be
// followed from one process without shared mutable state between them.
package participant

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/quill/internal/coordinator"
	"github.com/dyluth/quill/internal/duration"
	"github.com/dyluth/quill/internal/grading"
	"github.com/dyluth/quill/internal/lifecycle"
	"github.com/dyluth/quill/internal/observer"
	"github.com/dyluth/quill/internal/presence"
	"github.com/dyluth/quill/pkg/session"
	"github.com/rs/zerolog"
)

// Settings controls the background loops of each Client.
type Settings struct {
	HeartbeatInterval time.Duration
	ReconcileInterval time.Duration
	Now               func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 10 * time.Second
	}
	if s.ReconcileInterval <= 0 {
		s.ReconcileInterval = 30 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Engine wires the session components around one store client.
type Engine struct {
	Store       *session.Client
	Lifecycle   *lifecycle.Manager
	Coordinator *coordinator.Coordinator
	Presence    *presence.Manager
	Grading     grading.Dispatcher

	settings Settings
	logger   zerolog.Logger
}

// NewEngine builds an engine. A nil dispatcher disables grading hand-off.
func NewEngine(store *session.Client, policy *duration.Policy, dispatcher grading.Dispatcher, settings Settings, logger zerolog.Logger) *Engine {
	settings = settings.withDefaults()
	if dispatcher == nil {
		dispatcher = grading.NopDispatcher{}
	}
	return &Engine{
		Store:       store,
		Lifecycle:   lifecycle.NewManager(store, policy, logger, lifecycle.WithClock(settings.Now)),
		Coordinator: coordinator.New(store, policy, logger, coordinator.WithClock(settings.Now)),
		Presence:    presence.NewManager(store, logger, presence.WithClock(settings.Now)),
		Grading:     dispatcher,
		settings:    settings,
		logger:      logger.With().Str("component", "participant").Logger(),
	}
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.settings.Now()
}

// Join puts p into a forming session of mode, creating one if needed, and
// attaches a client to it.
func (e *Engine) Join(ctx context.Context, p session.Participant, mode string) (*Client, error) {
	s, _, err := e.Lifecycle.JoinOrCreate(ctx, p, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to join session: %w", err)
	}
	return e.Attach(ctx, s.SessionID, p)
}

// Attach connects p to an existing session: it records presence under a new
// connection id, subscribes the observer and starts the heartbeat and
// reconciliation loops. The loops outlive ctx; stop them with Client.Leave.
func (e *Engine) Attach(ctx context.Context, sessionID string, p session.Participant) (*Client, error) {
	connectionID := presence.NewConnectionID()
	if err := e.Presence.Reconnect(ctx, sessionID, p, connectionID); err != nil {
		return nil, err
	}

	logger := e.logger.With().Str("session_id", sessionID).Str("user_id", p.UserID).Logger()
	obs := observer.New(e.Store, sessionID, p.UserID, logger, observer.WithClock(e.settings.Now))

	background := context.WithoutCancel(ctx)
	if err := obs.Subscribe(background); err != nil {
		return nil, err
	}
	obs.StartReconcile(background, e.settings.ReconcileInterval)

	c := &Client{
		engine:       e,
		sessionID:    sessionID,
		participant:  p,
		connectionID: connectionID,
		observer:     obs,
		logger:       logger,
	}
	c.heartbeat = e.Presence.StartHeartbeat(background, sessionID, p.UserID, e.settings.HeartbeatInterval, nil)

	logger.Info().
		Str("event_type", "participant_attached").
		Str("connection_id", connectionID).
		Msg("participant attached to session")
	return c, nil
}

// Submit records userID's submission and hands it to the grading service once
// committed. snapshot supplies the match id for grading; when nil the session
// is read back from the store. Grading failures are logged only.
func (e *Engine) Submit(ctx context.Context, snapshot *session.Session, sessionID, userID string, phase session.Phase, payload map[string]any) (*coordinator.Result, error) {
	result, err := e.Coordinator.Submit(ctx, sessionID, userID, phase, payload)
	if err != nil {
		return nil, err
	}

	if snapshot == nil {
		if snapshot, err = e.Store.Get(ctx, sessionID); err != nil {
			snapshot = &session.Session{SessionID: sessionID}
		}
	}
	sub := grading.FromPayload(snapshot, userID, phase, e.settings.Now().UnixMilli(), payload)
	if err := e.Grading.Dispatch(ctx, sub); err != nil {
		e.logger.Warn().Err(err).
			Str("event_type", "grading_dispatch_failed").
			Str("session_id", sessionID).
			Str("user_id", userID).
			Int("phase", int(phase)).
			Msg("submission committed but grading hand-off failed")
	}
	return result, nil
}
