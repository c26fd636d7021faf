// Package watch streams a session's derived events and polls for states.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dyluth/quill/internal/observer"
	"github.com/dyluth/quill/pkg/session"
)

// OutputFormat specifies how streamed events are written.
type OutputFormat string

const (
	// OutputFormatDefault writes one human-readable line per event
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL writes one JSON object per event
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Line is one streamed event.
type Line struct {
	Event     observer.Event `json:"event"`
	SessionID string         `json:"session_id"`
	AtMs      int64          `json:"at_ms"`
	State     string         `json:"state,omitempty"`
	Phase     int            `json:"phase,omitempty"`
	Submitted *int           `json:"submitted,omitempty"`
	Total     *int           `json:"total,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Text renders the line for terminal output.
func (l Line) Text() string {
	ts := time.UnixMilli(l.AtMs).Format("15:04:05")
	switch l.Event {
	case observer.EventSessionUpdate:
		return fmt.Sprintf("[%s] update      state=%s phase=%d submitted=%d/%d", ts, l.State, l.Phase, deref(l.Submitted), deref(l.Total))
	case observer.EventPhaseTransition:
		return fmt.Sprintf("[%s] phase       → %d (%s)", ts, l.Phase, session.Phase(l.Phase))
	case observer.EventPlayerStatusChange:
		return fmt.Sprintf("[%s] presence    %s is %s", ts, l.UserID, l.Status)
	case observer.EventAllPlayersReady:
		return fmt.Sprintf("[%s] ready       all players submitted", ts)
	case observer.EventSessionError:
		return fmt.Sprintf("[%s] error       %s", ts, l.Error)
	default:
		return fmt.Sprintf("[%s] %s", ts, l.Event)
	}
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// Options controls Stream.
type Options struct {
	Format            OutputFormat
	ReconcileInterval time.Duration // 0 disables the reconciliation poll
	Now               func() time.Time
}

// Stream subscribes obs and writes every derived event to w until ctx is
// cancelled or the session is deleted. Returns nil on cancellation and
// observer.ErrSessionDeleted on deletion. obs is unsubscribed on return.
func Stream(ctx context.Context, obs *observer.Observer, sessionID string, opts Options, w io.Writer) error {
	if opts.Format == "" {
		opts.Format = OutputFormatDefault
	}
	if opts.Format != OutputFormatDefault && opts.Format != OutputFormatJSONL {
		return fmt.Errorf("unknown output format: %s", opts.Format)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var (
		mu       sync.Mutex
		writeErr error
	)
	emit := func(l Line) {
		l.SessionID = sessionID
		l.AtMs = opts.Now().UnixMilli()

		mu.Lock()
		defer mu.Unlock()
		if writeErr != nil {
			return
		}
		if opts.Format == OutputFormatJSONL {
			data, err := json.Marshal(l)
			if err != nil {
				writeErr = fmt.Errorf("failed to marshal event: %w", err)
				return
			}
			_, writeErr = fmt.Fprintf(w, "%s\n", data)
			return
		}
		_, writeErr = fmt.Fprintln(w, l.Text())
	}

	deleted := make(chan struct{}, 1)

	obs.OnSessionUpdate(func(s *session.Session) {
		count := observer.CurrentSubmissionCount(s)
		emit(Line{
			Event:     observer.EventSessionUpdate,
			State:     string(s.State),
			Phase:     int(s.CurrentPhase()),
			Submitted: &count.Submitted,
			Total:     &count.Total,
		})
	})
	obs.OnPhaseTransition(func(phase session.Phase) {
		emit(Line{Event: observer.EventPhaseTransition, Phase: int(phase)})
	})
	obs.OnPlayerStatusChange(func(userID string, status session.PlayerStatus) {
		emit(Line{Event: observer.EventPlayerStatusChange, UserID: userID, Status: string(status)})
	})
	obs.OnAllPlayersReady(func() {
		emit(Line{Event: observer.EventAllPlayersReady})
	})
	obs.OnSessionError(func(err error) {
		emit(Line{Event: observer.EventSessionError, Error: err.Error()})
		if errors.Is(err, observer.ErrSessionDeleted) {
			select {
			case deleted <- struct{}{}:
			default:
			}
		}
	})

	if err := obs.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer obs.Close()
	if opts.ReconcileInterval > 0 {
		obs.StartReconcile(ctx, opts.ReconcileInterval)
	}

	select {
	case <-ctx.Done():
	case <-deleted:
		return observer.ErrSessionDeleted
	}

	mu.Lock()
	defer mu.Unlock()
	return writeErr
}

// PollForState polls a session until it reaches state or timeout elapses.
// Returns the session as last read.
func PollForState(ctx context.Context, client *session.Client, sessionID string, state session.State, timeout time.Duration) (*session.Session, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for session %s to reach %s after %v", sessionID, state, timeout)

		case <-ticker.C:
			s, err := client.Get(ctx, sessionID)
			if err != nil {
				if session.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to read session: %w", err)
			}
			if s.State == state {
				return s, nil
			}
		}
	}
}
