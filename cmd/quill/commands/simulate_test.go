package commands

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/quill/internal/grading"
	"github.com/dyluth/quill/internal/participant"
	"github.com/dyluth/quill/internal/testutil"
	"github.com/dyluth/quill/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDispatcher struct {
	mu    sync.Mutex
	count int
}

func (d *countingDispatcher) Dispatch(context.Context, grading.Submission) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	return nil
}

func (d *countingDispatcher) Close() error { return nil }

func TestSimRank(t *testing.T) {
	assert.Equal(t, "Bronze I", simRank(0))
	assert.Equal(t, "Bronze IV", simRank(3))
	assert.Equal(t, "Silver I", simRank(4))
	assert.Equal(t, "Bronze I", simRank(24), "wraps after Master IV")
}

func TestSimPayload(t *testing.T) {
	p := simPayload("sim-1", session.PhaseFeedback)
	assert.Contains(t, p["content"], "sim-1 writes a feedback.")
	assert.Equal(t, 12, p["word_count"])
}

func TestRunSimulation(t *testing.T) {
	client, _ := testutil.NewSessionClient(t, session.WithMaxTxAttempts(50))
	dispatcher := &countingDispatcher{}
	engine := participant.NewEngine(client, nil, dispatcher, participant.Settings{
		HeartbeatInterval: 50 * time.Millisecond,
		ReconcileInterval: 50 * time.Millisecond,
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var out bytes.Buffer
	final, err := runSimulation(ctx, engine, nil, simulation{Players: 3, AI: 2, Mode: "sim", Prompt: "p1"}, &out)
	require.NoError(t, err)

	assert.Equal(t, session.StateCompleted, final.State)
	assert.True(t, final.AllPlayersReady())
	assert.Len(t, final.Players, 5)
	for _, id := range []string{"sim-1", "sim-2", "sim-3"} {
		p := final.Player(id)
		require.NotNil(t, p, id)
		assert.True(t, p.HasSubmitted(session.PhaseRevision), id)
	}
	assert.True(t, final.Player("ai-1").IsAI)
	assert.False(t, final.Player("ai-1").HasSubmitted(session.PhaseDraft))

	dispatcher.mu.Lock()
	assert.Equal(t, 9, dispatcher.count)
	dispatcher.mu.Unlock()

	assert.Contains(t, out.String(), "Session:  "+final.SessionID)

	ids, err := client.FormingSessions(ctx, "sim")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.Eventually(t, func() bool {
		s, err := client.Get(ctx, final.SessionID)
		if err != nil {
			return false
		}
		for _, id := range []string{"sim-1", "sim-2", "sim-3"} {
			if s.Player(id).Status != session.StatusDisconnected {
				return false
			}
		}
		return true
	}, 2*time.Second, 20*time.Millisecond, "participants disconnect when the simulation ends")
}
