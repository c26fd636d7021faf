package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T, opts ...Option) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func newFormingSession(mode string) *Session {
	return &Session{
		SessionID: uuid.New().String(),
		MatchID:   uuid.New().String(),
		Mode:      mode,
		State:     StateForming,
		Config:    &Config{Phase: PhaseDraft, PhaseDuration: IntPtr(600)},
		Players: map[string]*Player{
			"alice": {UserID: "alice", DisplayName: "Alice", Rank: "Gold II"},
		},
		Timing:       map[string]int64{},
		Coordination: &Coordination{},
		Metadata:     &Metadata{CreatedBy: "alice", Version: "1.0"},
		CreatedAtMs:  1000,
		UpdatedAtMs:  1000,
	}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.InstanceName())
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestCreateAndGet(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("round-trips a forming session", func(t *testing.T) {
		s := newFormingSession("ranked")
		require.NoError(t, client.Create(ctx, s))

		got, err := client.Get(ctx, s.SessionID)
		require.NoError(t, err)
		assert.Equal(t, s.SessionID, got.SessionID)
		assert.Equal(t, s.MatchID, got.MatchID)
		assert.Equal(t, StateForming, got.State)
		require.NotNil(t, got.Config)
		assert.Equal(t, PhaseDraft, got.Config.Phase)
		require.NotNil(t, got.Player("alice"))
		assert.Equal(t, "Gold II", got.Player("alice").Rank)
		assert.Equal(t, Coordination{}, *got.Coordination)
		assert.Empty(t, got.Timing)
	})

	t.Run("indexes forming sessions by mode", func(t *testing.T) {
		s := newFormingSession("practice")
		require.NoError(t, client.Create(ctx, s))

		ids, err := client.FormingSessions(ctx, "practice")
		require.NoError(t, err)
		assert.Contains(t, ids, s.SessionID)

		other, err := client.FormingSessions(ctx, "unknown-mode")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("rejects invalid state", func(t *testing.T) {
		s := newFormingSession("ranked")
		s.State = "bogus"
		err := client.Create(ctx, s)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid session")
	})

	t.Run("rejects player ids that decode as another player", func(t *testing.T) {
		s := newFormingSession("ranked")
		s.Players["x.phases"] = &Player{UserID: "x.phases", Rank: "Gold"}
		err := client.Create(ctx, s)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid session")

		_, err = client.Get(ctx, s.SessionID)
		assert.True(t, IsNotFound(err), "nothing is written")
	})

	t.Run("round-trips ids close to the phases segment", func(t *testing.T) {
		s := newFormingSession("ranked")
		for _, id := range []string{"phases", "phases.x", "x.phasesy"} {
			s.Players[id] = &Player{UserID: id, Rank: "Silver"}
		}
		require.NoError(t, client.Create(ctx, s))
		require.NoError(t, client.Merge(ctx, s.SessionID, NewPatch().SetSubmission("x.phasesy", PhaseDraft, PhaseSubmission{Submitted: true})))

		got, err := client.Get(ctx, s.SessionID)
		require.NoError(t, err)
		assert.Len(t, got.Players, 4)
		for _, id := range []string{"alice", "phases", "phases.x", "x.phasesy"} {
			p := got.Player(id)
			if assert.NotNil(t, p, id) {
				assert.Equal(t, id, p.UserID)
			}
		}
		submitted, total := got.CountSubmissions(PhaseDraft)
		assert.Equal(t, 1, submitted)
		assert.Equal(t, 4, total)
	})

	t.Run("returns ErrNotFound for missing session", func(t *testing.T) {
		got, err := client.Get(ctx, uuid.New().String())
		assert.Nil(t, got)
		assert.True(t, IsNotFound(err))
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("applies patch and stamps updated_at", func(t *testing.T) {
		client, _ := setupTestClient(t, WithClock(func() time.Time { return time.UnixMilli(5000) }))
		s := newFormingSession("ranked")
		require.NoError(t, client.Create(ctx, s))

		err := client.Update(ctx, s.SessionID, func(current *Session) (*Patch, error) {
			assert.Equal(t, StateForming, current.State)
			return NewPatch().SetState(StateActive).SetPhaseStart(PhaseDraft, 4000).LeaveFormingIndex(current.Mode), nil
		})
		require.NoError(t, err)

		got, err := client.Get(ctx, s.SessionID)
		require.NoError(t, err)
		assert.Equal(t, StateActive, got.State)
		assert.Equal(t, int64(5000), got.UpdatedAtMs)
		start, ok := got.PhaseStartMs(PhaseDraft)
		assert.True(t, ok)
		assert.Equal(t, int64(4000), start)

		ids, err := client.FormingSessions(ctx, "ranked")
		require.NoError(t, err)
		assert.NotContains(t, ids, s.SessionID)
	})

	t.Run("returns ErrNotFound for missing session", func(t *testing.T) {
		client, _ := setupTestClient(t)
		err := client.Update(ctx, "missing", func(*Session) (*Patch, error) {
			t.Fatal("update body must not run for a missing document")
			return nil, nil
		})
		assert.True(t, IsNotFound(err))
	})

	t.Run("aborts on body error without writing", func(t *testing.T) {
		client, _ := setupTestClient(t)
		s := newFormingSession("ranked")
		require.NoError(t, client.Create(ctx, s))

		boom := errors.New("boom")
		err := client.Update(ctx, s.SessionID, func(*Session) (*Patch, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := client.Get(ctx, s.SessionID)
		require.NoError(t, err)
		assert.Equal(t, StateForming, got.State)
	})

	t.Run("re-runs body after a conflicting write", func(t *testing.T) {
		var conflicts atomic.Int32
		client, _ := setupTestClient(t, WithConflictHook(func() { conflicts.Add(1) }))
		s := newFormingSession("ranked")
		require.NoError(t, client.Create(ctx, s))

		calls := 0
		err := client.Update(ctx, s.SessionID, func(current *Session) (*Patch, error) {
			calls++
			if calls == 1 {
				// Another writer touches the document between our read and EXEC.
				require.NoError(t, client.RedisClient().HSet(ctx, SessionKey("test-instance", s.SessionID), "players.bob.status", "connected").Err())
			}
			return NewPatch().SetState(StateActive), nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, int32(1), conflicts.Load())

		got, err := client.Get(ctx, s.SessionID)
		require.NoError(t, err)
		assert.Equal(t, StateActive, got.State)
		assert.NotNil(t, got.Player("bob"))
	})

	t.Run("gives up with ErrTxConflict when conflicts persist", func(t *testing.T) {
		client, _ := setupTestClient(t, WithMaxTxAttempts(3))
		s := newFormingSession("ranked")
		require.NoError(t, client.Create(ctx, s))

		calls := 0
		err := client.Update(ctx, s.SessionID, func(*Session) (*Patch, error) {
			calls++
			require.NoError(t, client.RedisClient().HSet(ctx, SessionKey("test-instance", s.SessionID), "mode", "ranked").Err())
			return NewPatch().SetState(StateActive), nil
		})
		assert.ErrorIs(t, err, ErrTxConflict)
		assert.Equal(t, 3, calls)
	})
}

func TestMerge(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("writes fields of an existing session", func(t *testing.T) {
		s := newFormingSession("ranked")
		require.NoError(t, client.Create(ctx, s))

		patch := NewPatch().
			SetPlayerStatus("alice", StatusConnected).
			SetPlayerHeartbeat("alice", 7000).
			SetPlayerConnection("alice", "conn-1")
		require.NoError(t, client.Merge(ctx, s.SessionID, patch))

		got, err := client.Get(ctx, s.SessionID)
		require.NoError(t, err)
		alice := got.Player("alice")
		require.NotNil(t, alice)
		assert.Equal(t, StatusConnected, alice.Status)
		assert.Equal(t, int64(7000), alice.LastHeartbeatMs)
		assert.Equal(t, "conn-1", alice.ConnectionID)
		assert.Equal(t, "Gold II", alice.Rank, "merge must not clobber the profile")
	})

	t.Run("refuses to create a missing session", func(t *testing.T) {
		err := client.Merge(ctx, "ghost", NewPatch().SetPlayerStatus("alice", StatusConnected))
		assert.True(t, IsNotFound(err))
		assert.False(t, mr.Exists(SessionKey("test-instance", "ghost")))
	})

	t.Run("empty patch is a no-op", func(t *testing.T) {
		assert.NoError(t, client.Merge(ctx, "ghost", NewPatch()))
	})
}

func TestMergePlayer(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	s := newFormingSession("ranked")
	require.NoError(t, client.Create(ctx, s))

	t.Run("writes fields of an existing player", func(t *testing.T) {
		patch := NewPatch().SetPlayerHeartbeat("alice", 9000).SetPlayerStatus("alice", StatusConnected)
		require.NoError(t, client.MergePlayer(ctx, s.SessionID, "alice", patch))

		got, err := client.Get(ctx, s.SessionID)
		require.NoError(t, err)
		assert.Equal(t, int64(9000), got.Player("alice").LastHeartbeatMs)
		assert.Equal(t, StatusConnected, got.Player("alice").Status)
	})

	t.Run("refuses to create a player entry", func(t *testing.T) {
		patch := NewPatch().SetPlayerHeartbeat("ghost", 9000).SetPlayerStatus("ghost", StatusConnected)
		err := client.MergePlayer(ctx, s.SessionID, "ghost", patch)
		assert.ErrorIs(t, err, ErrPlayerNotFound)
		assert.False(t, IsNotFound(err))

		got, err := client.Get(ctx, s.SessionID)
		require.NoError(t, err)
		_, present := got.Players["ghost"]
		assert.False(t, present)
		assert.Len(t, got.RealPlayers(), 1)
	})

	t.Run("refuses to create a missing session", func(t *testing.T) {
		err := client.MergePlayer(ctx, "ghost", "alice", NewPatch().SetPlayerStatus("alice", StatusConnected))
		assert.True(t, IsNotFound(err))
		assert.False(t, mr.Exists(SessionKey("test-instance", "ghost")))
	})
}

func TestDelete(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	s := newFormingSession("ranked")
	require.NoError(t, client.Create(ctx, s))
	require.NoError(t, client.Delete(ctx, s.SessionID))

	_, err := client.Get(ctx, s.SessionID)
	assert.True(t, IsNotFound(err))

	ids, err := client.FormingSessions(ctx, "ranked")
	require.NoError(t, err)
	assert.NotContains(t, ids, s.SessionID)
}

func receiveSnapshot(t *testing.T, sub *Subscription) *Snapshot {
	t.Helper()
	select {
	case snap := <-sub.Events():
		require.NotNil(t, snap)
		return snap
	case err := <-sub.Errors():
		t.Fatalf("unexpected feed error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for session snapshot")
	}
	return nil
}

func TestSubscribe(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	s := newFormingSession("ranked")
	require.NoError(t, client.Create(ctx, s))

	sub, err := client.Subscribe(ctx, s.SessionID)
	require.NoError(t, err)
	defer sub.Close()

	t.Run("delivers the current document first", func(t *testing.T) {
		snap := receiveSnapshot(t, sub)
		assert.False(t, snap.Deleted)
		assert.Equal(t, s.SessionID, snap.Session.SessionID)
	})

	t.Run("delivers a fresh snapshot after a merge", func(t *testing.T) {
		require.NoError(t, client.Merge(ctx, s.SessionID, NewPatch().SetPlayerStatus("alice", StatusConnected)))
		snap := receiveSnapshot(t, sub)
		require.NotNil(t, snap.Session)
		assert.Equal(t, StatusConnected, snap.Session.Player("alice").Status)
	})

	t.Run("delivers a deletion marker", func(t *testing.T) {
		require.NoError(t, client.Delete(ctx, s.SessionID))
		snap := receiveSnapshot(t, sub)
		assert.True(t, snap.Deleted)
		assert.Nil(t, snap.Session)
	})
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "missing")
	require.NoError(t, err)

	snap := receiveSnapshot(t, sub)
	assert.True(t, snap.Deleted, "missing documents are reported as deleted")

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())

	_, open := <-sub.Events()
	assert.False(t, open)
}
