// Package observer keeps a per-client view of one session document.
//
// An Observer follows the session change feed, derives events by diffing each
// snapshot against the previous one and answers read queries from the cached
// snapshot. A slower reconciliation poll re-reads the document directly so a
// missed notification is eventually healed.
//
// Handlers run on the observer's delivery goroutine, one event at a time.
// Registering a handler replaces the previous handler for that event.
package observer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/dyluth/quill/internal/metrics"
	"github.com/dyluth/quill/pkg/session"
	"github.com/rs/zerolog"
)

var (
	// ErrSessionDeleted is reported to the error handler when the document disappears.
	ErrSessionDeleted = errors.New("session deleted")

	// ErrUnknownEvent is returned by On for an unrecognized event name.
	ErrUnknownEvent = errors.New("unknown event")
)

// Observer is the local view of one session for one participant.
type Observer struct {
	client    *session.Client
	sessionID string
	userID    string
	now       func() time.Time
	logger    zerolog.Logger

	// applyMu serializes snapshot application and handler dispatch between the
	// feed and the reconciliation poll.
	applyMu sync.Mutex

	mu       sync.Mutex
	previous *session.Session
	handlers handlers

	sub      *session.Subscription
	feedDone chan struct{}

	reconcileCancel context.CancelFunc
	reconcileDone   chan struct{}
}

// Option configures an Observer.
type Option func(*Observer)

// WithClock sets the clock used by PhaseTimeRemaining.
func WithClock(now func() time.Time) Option {
	return func(o *Observer) { o.now = now }
}

// New creates an observer for sessionID from the perspective of userID.
// Nothing happens until Subscribe or StartReconcile is called.
func New(client *session.Client, sessionID, userID string, logger zerolog.Logger, opts ...Option) *Observer {
	o := &Observer{
		client:    client,
		sessionID: sessionID,
		userID:    userID,
		now:       time.Now,
		logger: logger.With().
			Str("component", "observer").
			Str("session_id", sessionID).
			Str("user_id", userID).
			Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// On registers handler for event, replacing any previous handler for it.
// Passing nil removes the handler.
func (o *Observer) On(event Event, handler any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handlers.set(event, handler)
}

// OnSessionUpdate registers the handler fired on every delivered snapshot.
func (o *Observer) OnSessionUpdate(fn SessionUpdateHandler) {
	o.mu.Lock()
	o.handlers.sessionUpdate = fn
	o.mu.Unlock()
}

// OnPhaseTransition registers the handler fired when config.phase changes.
func (o *Observer) OnPhaseTransition(fn PhaseTransitionHandler) {
	o.mu.Lock()
	o.handlers.phaseTransition = fn
	o.mu.Unlock()
}

// OnPlayerStatusChange registers the handler fired per participant whose status changed.
func (o *Observer) OnPlayerStatusChange(fn PlayerStatusChangeHandler) {
	o.mu.Lock()
	o.handlers.playerStatusChange = fn
	o.mu.Unlock()
}

// OnAllPlayersReady registers the handler fired when coordination.allPlayersReady turns true.
func (o *Observer) OnAllPlayersReady(fn AllPlayersReadyHandler) {
	o.mu.Lock()
	o.handlers.allPlayersReady = fn
	o.mu.Unlock()
}

// OnSessionError registers the handler for feed errors and deletion.
func (o *Observer) OnSessionError(fn SessionErrorHandler) {
	o.mu.Lock()
	o.handlers.sessionError = fn
	o.mu.Unlock()
}

// Subscribe opens the change feed. The first delivery is the current document.
// Returns an error if the feed cannot be established; later failures go to
// the session error handler.
func (o *Observer) Subscribe(ctx context.Context) error {
	o.mu.Lock()
	if o.sub != nil {
		o.mu.Unlock()
		return fmt.Errorf("observer for session %s is already subscribed", o.sessionID)
	}
	o.mu.Unlock()

	sub, err := o.client.Subscribe(ctx, o.sessionID)
	if err != nil {
		return err
	}
	done := make(chan struct{})

	o.mu.Lock()
	o.sub = sub
	o.feedDone = done
	o.mu.Unlock()

	metrics.ObserversActive.Inc()
	go o.consume(sub, done)
	return nil
}

func (o *Observer) consume(sub *session.Subscription, done chan struct{}) {
	defer close(done)

	events, errs := sub.Events(), sub.Errors()
	for events != nil || errs != nil {
		select {
		case snap, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if snap.Deleted {
				o.logger.Warn().Str("event_type", "session_deleted").Msg("session document deleted")
				o.fail(ErrSessionDeleted)
				continue
			}
			o.apply(snap.Session)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			o.logger.Warn().Err(err).Str("event_type", "feed_error").Msg("session change feed error")
			o.fail(fmt.Errorf("session change feed: %w", err))
		}
	}
}

// apply replaces the cached snapshot with next and dispatches derived events.
func (o *Observer) apply(next *session.Session) {
	o.applyMu.Lock()
	defer o.applyMu.Unlock()
	o.applyLocked(next)
}

// applyLocked is apply with applyMu already held.
func (o *Observer) applyLocked(next *session.Session) {
	o.mu.Lock()
	prev := o.previous
	o.previous = next
	h := o.handlers
	o.mu.Unlock()

	c := diff(prev, next)

	if h.sessionUpdate != nil {
		h.sessionUpdate(next)
	}
	if c.phaseChanged && h.phaseTransition != nil {
		h.phaseTransition(c.phase)
	}
	if h.playerStatusChange != nil {
		for _, sc := range c.statuses {
			h.playerStatusChange(sc.userID, sc.status)
		}
	}
	if c.becameReady && h.allPlayersReady != nil {
		h.allPlayersReady()
	}
}

func (o *Observer) fail(err error) {
	o.applyMu.Lock()
	defer o.applyMu.Unlock()

	o.mu.Lock()
	h := o.handlers.sessionError
	o.mu.Unlock()

	if h != nil {
		h(err)
	}
}

// StartReconcile polls the document every interval and applies it when it
// differs from the cached snapshot. Poll failures are logged and the loop
// continues. Calling it again restarts the loop.
func (o *Observer) StartReconcile(ctx context.Context, interval time.Duration) {
	o.StopReconcile()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	o.mu.Lock()
	o.reconcileCancel = cancel
	o.reconcileDone = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				o.Reconcile(loopCtx)
			}
		}
	}()
}

// Reconcile performs one poll. Reports whether the polled document differed
// from the cached snapshot and was applied.
func (o *Observer) Reconcile(ctx context.Context) bool {
	fresh, err := o.client.Get(ctx, o.sessionID)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn().Err(err).Str("event_type", "reconcile_failed").Msg("reconciliation poll failed")
		}
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	o.applyMu.Lock()
	defer o.applyMu.Unlock()

	o.mu.Lock()
	cached := o.previous
	o.mu.Unlock()

	// The feed may have delivered a newer write while the poll was in flight.
	if cached != nil && fresh.UpdatedAtMs < cached.UpdatedAtMs {
		return false
	}
	if reflect.DeepEqual(cached, fresh) {
		return false
	}

	metrics.ReconcileDivergences.Inc()
	o.logger.Debug().Str("event_type", "reconcile_diverged").Msg("poll found a newer snapshot than the feed")
	o.applyLocked(fresh)
	return true
}

// StopReconcile stops the poll loop and waits for an in-flight poll to finish.
// Safe to call multiple times.
func (o *Observer) StopReconcile() {
	o.mu.Lock()
	cancel, done := o.reconcileCancel, o.reconcileDone
	o.reconcileCancel, o.reconcileDone = nil, nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Unsubscribe closes the change feed and waits until no further event is
// dispatched. Safe to call multiple times. Must not be called from a handler.
func (o *Observer) Unsubscribe() {
	o.mu.Lock()
	sub, done := o.sub, o.feedDone
	o.sub, o.feedDone = nil, nil
	o.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Close()
	<-done
	metrics.ObserversActive.Dec()
}

// Reset clears the cached snapshot.
func (o *Observer) Reset() {
	o.mu.Lock()
	o.previous = nil
	o.mu.Unlock()
}

// Close stops reconciliation, unsubscribes and clears the cache.
func (o *Observer) Close() {
	o.StopReconcile()
	o.Unsubscribe()
	o.Reset()
}

// CurrentSession returns the cached snapshot, or nil.
func (o *Observer) CurrentSession() *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.previous
}

// PhaseTimeRemaining returns the seconds left in the current phase.
func (o *Observer) PhaseTimeRemaining() int {
	return PhaseTimeRemaining(o.CurrentSession(), o.now().UnixMilli())
}

// HasSubmittedCurrentPhase reports whether this observer's user has submitted the current phase.
func (o *Observer) HasSubmittedCurrentPhase() bool {
	return HasSubmittedCurrentPhase(o.CurrentSession(), o.userID)
}

// ConnectedPlayers returns the connected participants of the cached snapshot.
func (o *Observer) ConnectedPlayers() []*session.Player {
	return ConnectedPlayers(o.CurrentSession())
}

// SubmissionCount returns current phase progress among real participants.
func (o *Observer) SubmissionCount() SubmissionCount {
	return CurrentSubmissionCount(o.CurrentSession())
}
