package observer

import (
	"fmt"
	"sort"

	"github.com/dyluth/quill/pkg/session"
)

// Event names a derived session event.
type Event string

const (
	EventSessionUpdate      Event = "onSessionUpdate"
	EventPhaseTransition    Event = "onPhaseTransition"
	EventPlayerStatusChange Event = "onPlayerStatusChange"
	EventAllPlayersReady    Event = "onAllPlayersReady"
	EventSessionError       Event = "onSessionError"
)

// Handler signatures, one per event.
type (
	SessionUpdateHandler      func(s *session.Session)
	PhaseTransitionHandler    func(phase session.Phase)
	PlayerStatusChangeHandler func(userID string, status session.PlayerStatus)
	AllPlayersReadyHandler    func()
	SessionErrorHandler       func(err error)
)

// handlers holds at most one handler per event. Registering replaces.
type handlers struct {
	sessionUpdate      SessionUpdateHandler
	phaseTransition    PhaseTransitionHandler
	playerStatusChange PlayerStatusChangeHandler
	allPlayersReady    AllPlayersReadyHandler
	sessionError       SessionErrorHandler
}

// set registers handler for event. handler may be one of the named handler
// types or the equivalent plain func type; nil clears the slot.
func (h *handlers) set(event Event, handler any) error {
	mismatch := func() error {
		return fmt.Errorf("handler of type %T does not match event %s", handler, event)
	}

	switch event {
	case EventSessionUpdate:
		switch fn := handler.(type) {
		case nil:
			h.sessionUpdate = nil
		case SessionUpdateHandler:
			h.sessionUpdate = fn
		case func(*session.Session):
			h.sessionUpdate = fn
		default:
			return mismatch()
		}
	case EventPhaseTransition:
		switch fn := handler.(type) {
		case nil:
			h.phaseTransition = nil
		case PhaseTransitionHandler:
			h.phaseTransition = fn
		case func(session.Phase):
			h.phaseTransition = fn
		default:
			return mismatch()
		}
	case EventPlayerStatusChange:
		switch fn := handler.(type) {
		case nil:
			h.playerStatusChange = nil
		case PlayerStatusChangeHandler:
			h.playerStatusChange = fn
		case func(string, session.PlayerStatus):
			h.playerStatusChange = fn
		default:
			return mismatch()
		}
	case EventAllPlayersReady:
		switch fn := handler.(type) {
		case nil:
			h.allPlayersReady = nil
		case AllPlayersReadyHandler:
			h.allPlayersReady = fn
		case func():
			h.allPlayersReady = fn
		default:
			return mismatch()
		}
	case EventSessionError:
		switch fn := handler.(type) {
		case nil:
			h.sessionError = nil
		case SessionErrorHandler:
			h.sessionError = fn
		case func(error):
			h.sessionError = fn
		default:
			return mismatch()
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	return nil
}

// statusChange is one participant whose status differs between snapshots.
type statusChange struct {
	userID string
	status session.PlayerStatus
}

// changes are the events derived from one snapshot replacement.
type changes struct {
	phaseChanged bool
	phase        session.Phase
	statuses     []statusChange
	becameReady  bool
}

// diff derives events from prev to next. With no previous snapshot there is
// nothing to compare against and no derived events are produced.
func diff(prev, next *session.Session) changes {
	var c changes
	if prev == nil || next == nil {
		return c
	}

	if prev.CurrentPhase() != next.CurrentPhase() {
		c.phaseChanged = true
		c.phase = next.CurrentPhase()
	}

	ids := make(map[string]struct{}, len(next.Players))
	for id := range prev.Players {
		ids[id] = struct{}{}
	}
	for id := range next.Players {
		ids[id] = struct{}{}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		before := statusOf(prev.Player(id))
		after := statusOf(next.Player(id))
		if before != after {
			c.statuses = append(c.statuses, statusChange{userID: id, status: after})
		}
	}

	c.becameReady = !prev.AllPlayersReady() && next.AllPlayersReady()
	return c
}

// statusOf reads a player's status; missing players and statuses are disconnected.
func statusOf(p *session.Player) session.PlayerStatus {
	if p == nil {
		return session.StatusDisconnected
	}
	return p.Status.Normalize()
}
