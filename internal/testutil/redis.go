// Package testutil provides Redis-backed fixtures shared by package tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/quill/pkg/session"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// InstanceName is the namespace used by every test client.
const InstanceName = "test-instance"

// NewSessionClient creates a session client connected to a fresh miniredis
// instance. Both are closed when the test finishes.
func NewSessionClient(t *testing.T, opts ...session.Option) (*session.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := session.NewClient(&redis.Options{Addr: mr.Addr()}, InstanceName, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// Clock is a manually advanced time source. Safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at unix millisecond ms.
func NewClock(ms int64) *Clock {
	return &Clock{now: time.UnixMilli(ms)}
}

// Now returns the current frozen time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Player describes a participant to seed into an active session.
type Player struct {
	ID   string
	Rank string
	AI   bool
}

// SeedActiveSession writes an active session in phase 1 with the given players.
// Returns the generated session id.
func SeedActiveSession(t *testing.T, client *session.Client, startMs int64, players ...Player) string {
	t.Helper()

	s := &session.Session{
		SessionID: uuid.New().String(),
		MatchID:   uuid.New().String(),
		Mode:      "ranked",
		State:     session.StateActive,
		Config: &session.Config{
			PromptID:      "prompt-1",
			PromptType:    "essay",
			Phase:         session.PhaseDraft,
			PhaseDuration: session.IntPtr(1080),
		},
		Players:      make(map[string]*session.Player),
		Timing:       map[string]int64{session.PhaseDraft.StartTimeKey(): startMs},
		Coordination: &session.Coordination{},
		Metadata:     &session.Metadata{CreatedBy: "test", Version: "1.0"},
		CreatedAtMs:  startMs,
		UpdatedAtMs:  startMs,
	}
	for _, p := range players {
		s.Players[p.ID] = &session.Player{
			UserID:      p.ID,
			DisplayName: p.ID,
			Rank:        p.Rank,
			IsAI:        p.AI,
			Status:      session.StatusConnected,
		}
	}

	require.NoError(t, client.Create(t.Context(), s))
	return s.SessionID
}
