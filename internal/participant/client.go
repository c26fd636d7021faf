package participant

import (
	"context"
	"errors"
	"sync"

	"github.com/dyluth/quill/internal/coordinator"
	"github.com/dyluth/quill/internal/observer"
	"github.com/dyluth/quill/internal/presence"
	"github.com/dyluth/quill/pkg/session"
	"github.com/rs/zerolog"
)

// ErrNotJoined is returned by operations on a client that has left its session.
var ErrNotJoined = errors.New("participant has left the session")

// Client is one participant's handle on one session.
type Client struct {
	engine       *Engine
	sessionID    string
	participant  session.Participant
	connectionID string
	observer     *observer.Observer
	heartbeat    *presence.Heartbeater
	logger       zerolog.Logger

	mu   sync.Mutex
	left bool
}

// SessionID returns the session this client is attached to.
func (c *Client) SessionID() string { return c.sessionID }

// UserID returns the participant's id.
func (c *Client) UserID() string { return c.participant.UserID }

// ConnectionID returns the id this client registered its presence under.
func (c *Client) ConnectionID() string { return c.connectionID }

func (c *Client) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.left
}

// Submit records this participant's submission for phase. After the
// submission commits, it is handed to the grading service; a grading failure
// is logged and does not affect the returned result.
func (c *Client) Submit(ctx context.Context, phase session.Phase, payload map[string]any) (*coordinator.Result, error) {
	if !c.active() {
		return nil, ErrNotJoined
	}

	return c.engine.Submit(ctx, c.observer.CurrentSession(), c.sessionID, c.participant.UserID, phase, payload)
}

// On registers handler for a named event, replacing any previous one.
func (c *Client) On(event observer.Event, handler any) error {
	return c.observer.On(event, handler)
}

// Observer exposes the typed handler registration and accessors.
func (c *Client) Observer() *observer.Observer {
	return c.observer
}

// CurrentSession returns the last known snapshot, or nil after Leave.
func (c *Client) CurrentSession() *session.Session {
	return c.observer.CurrentSession()
}

// PhaseTimeRemaining returns the seconds left in the current phase.
func (c *Client) PhaseTimeRemaining() int {
	return c.observer.PhaseTimeRemaining()
}

// HasSubmittedCurrentPhase reports whether this participant has submitted the current phase.
func (c *Client) HasSubmittedCurrentPhase() bool {
	return c.observer.HasSubmittedCurrentPhase()
}

// ConnectedPlayers returns the connected participants.
func (c *Client) ConnectedPlayers() []*session.Player {
	return c.observer.ConnectedPlayers()
}

// SubmissionCount returns the current phase's progress among real participants.
func (c *Client) SubmissionCount() observer.SubmissionCount {
	return c.observer.SubmissionCount()
}

// ConnectionSuperseded reports whether another connection of the same user
// has since taken over this participant's entry.
func (c *Client) ConnectionSuperseded() bool {
	p := c.observer.CurrentSession().Player(c.participant.UserID)
	return p != nil && p.ConnectionID != "" && p.ConnectionID != c.connectionID
}

// Leave tears the client down: it stops the heartbeat, stops reconciliation,
// closes the change feed, marks the participant disconnected and clears the
// cached snapshot, in that order. The disconnect write is best effort and is
// skipped when another connection has taken over. Safe to call multiple times.
func (c *Client) Leave(ctx context.Context) {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return
	}
	c.left = true
	c.mu.Unlock()

	c.heartbeat.Stop()
	c.observer.StopReconcile()
	superseded := c.ConnectionSuperseded()
	c.observer.Unsubscribe()

	if !superseded {
		if err := c.engine.Presence.Disconnect(ctx, c.sessionID, c.participant.UserID); err != nil {
			c.logger.Warn().Err(err).Str("event_type", "disconnect_failed").Msg("best-effort disconnect failed")
		}
	}

	c.observer.Reset()
	c.logger.Info().Str("event_type", "participant_left").Msg("participant left session")
}

// Destroy is Leave with a background context.
func (c *Client) Destroy() {
	c.Leave(context.Background())
}
