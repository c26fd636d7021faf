package presence

import (
	"context"
	"sync"
	"time"

	"github.com/dyluth/quill/internal/metrics"
	"github.com/rs/zerolog"
)

// beatTimeout bounds a single heartbeat write.
const beatTimeout = 5 * time.Second

// Heartbeater sends heartbeats for one participant on a fixed interval.
// A failed beat is logged and counted; the loop keeps its schedule.
type Heartbeater struct {
	interval time.Duration
	beat     func(ctx context.Context) error
	onBeat   func(error)
	logger   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartHeartbeat begins heartbeating for userID in sessionID until Stop is
// called or ctx is cancelled. onBeat, if non-nil, is called after every beat
// with its error.
func (m *Manager) StartHeartbeat(ctx context.Context, sessionID, userID string, interval time.Duration, onBeat func(error)) *Heartbeater {
	logger := m.logger.With().Str("session_id", sessionID).Str("user_id", userID).Logger()
	beat := func(ctx context.Context) error {
		return m.Heartbeat(ctx, sessionID, userID)
	}
	return startHeartbeater(ctx, interval, beat, onBeat, logger)
}

func startHeartbeater(ctx context.Context, interval time.Duration, beat func(context.Context) error, onBeat func(error), logger zerolog.Logger) *Heartbeater {
	loopCtx, cancel := context.WithCancel(ctx)
	h := &Heartbeater{
		interval: interval,
		beat:     beat,
		onBeat:   onBeat,
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.run(loopCtx)
	return h
}

func (h *Heartbeater) run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Heartbeater) tick(ctx context.Context) {
	beatCtx, cancel := context.WithTimeout(ctx, beatTimeout)
	defer cancel()

	err := h.beat(beatCtx)
	if err != nil && ctx.Err() == nil {
		metrics.HeartbeatFailures.Inc()
		h.logger.Warn().Err(err).
			Str("event_type", "heartbeat_failed").
			Msg("heartbeat write failed; will retry on next interval")
	}
	if h.onBeat != nil && ctx.Err() == nil {
		h.onBeat(err)
	}
}

// Stop ends the loop and waits for an in-flight beat to finish, so no beat is
// written after Stop returns. Safe to call multiple times.
func (h *Heartbeater) Stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}
