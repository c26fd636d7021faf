package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionToHash(t *testing.T) {
	s := &Session{
		SessionID: "s1",
		MatchID:   "m1",
		Mode:      "ranked",
		State:     StateActive,
		Config:    &Config{PromptID: "p1", Phase: PhaseFeedback, PhaseDuration: IntPtr(300)},
		Players: map[string]*Player{
			"alice": {
				DisplayName: "Alice",
				Rank:        "Gold I",
				Status:      StatusConnected,
				Phases: map[string]*PhaseSubmission{
					"phase1": {Submitted: true, SubmittedAtMs: 42},
				},
			},
			"ghost": nil,
		},
		Timing:      map[string]int64{"phase1_start_time": 10},
		CreatedAtMs: 1,
		UpdatedAtMs: 2,
	}

	hash, err := SessionToHash(s)
	require.NoError(t, err)

	assert.Equal(t, "s1", hash["session_id"])
	assert.Equal(t, "active", hash["state"])
	assert.Equal(t, int64(10), hash["timing.phase1_start_time"])
	assert.Equal(t, "connected", hash["players.alice.status"])
	assert.Contains(t, hash["players.alice.profile"], `"rank":"Gold I"`)
	assert.Contains(t, hash["players.alice.phases.phase1"], `"submitted":true`)
	assert.NotContains(t, hash, "players.ghost.profile")
	assert.NotContains(t, hash, "coordination")
}

func TestHashToSession(t *testing.T) {
	t.Run("decodes a complete document", func(t *testing.T) {
		hash := map[string]string{
			"session_id":                    "s1",
			"match_id":                      "m1",
			"mode":                          "ranked",
			"state":                         "active",
			"config":                        `{"prompt_id":"p1","phase":2,"phase_duration":300}`,
			"coordination":                  `{"ready_count":0,"all_players_ready":false}`,
			"metadata":                      `{"created_by":"alice","version":"1.0"}`,
			"created_at_ms":                 "1",
			"updated_at_ms":                 "2",
			"timing.phase1_start_time":      "10",
			"timing.phase2_start_time":      "20",
			"players.alice.profile":         `{"user_id":"alice","rank":"Gold I","is_ai":false}`,
			"players.alice.status":          "connected",
			"players.alice.phases.phase1":   `{"submitted":true,"submitted_at_ms":15}`,
			"players.bot.profile":           `{"user_id":"bot","is_ai":true}`,
			"players.bot.last_heartbeat_ms": "99",
		}

		s, err := HashToSession(hash)
		require.NoError(t, err)
		assert.Equal(t, PhaseFeedback, s.CurrentPhase())
		require.NotNil(t, s.Config.PhaseDuration)
		assert.Equal(t, 300, *s.Config.PhaseDuration)
		assert.Equal(t, int64(20), s.Timing["phase2_start_time"])
		assert.True(t, s.Player("alice").HasSubmitted(PhaseDraft))
		assert.False(t, s.Player("alice").HasSubmitted(PhaseFeedback))
		assert.True(t, s.Player("bot").IsAI)
		assert.Equal(t, int64(99), s.Player("bot").LastHeartbeatMs)
		assert.Equal(t, "alice", s.Metadata.CreatedBy)
	})

	t.Run("user ids may contain dots", func(t *testing.T) {
		hash := map[string]string{
			"session_id":                  "s1",
			"players.a.b.c.profile":       `{"user_id":"a.b.c"}`,
			"players.a.b.c.phases.phase3": `{"submitted":true}`,
			"players.a.b.c.connection_id": "conn",
		}
		s, err := HashToSession(hash)
		require.NoError(t, err)
		p := s.Player("a.b.c")
		require.NotNil(t, p)
		assert.Equal(t, "conn", p.ConnectionID)
		assert.True(t, p.HasSubmitted(PhaseRevision))
	})

	t.Run("malformed fields decode as absent", func(t *testing.T) {
		hash := map[string]string{
			"session_id":                  "s1",
			"config":                      `{not json`,
			"coordination":                `[]`,
			"timing.phase1_start_time":    "yesterday",
			"players.alice.profile":       `{"user_id":"alice"}`,
			"players.alice.phases.phase1": `"oops"`,
		}
		s, err := HashToSession(hash)
		require.NoError(t, err)
		assert.Nil(t, s.Config)
		assert.Nil(t, s.Coordination)
		assert.Empty(t, s.Timing)
		require.NotNil(t, s.Player("alice"))
		assert.False(t, s.Player("alice").HasSubmitted(PhaseDraft))
	})

	t.Run("players without a parseable field become nil entries", func(t *testing.T) {
		hash := map[string]string{
			"session_id":                       "s1",
			"players.broken.profile":           "null",
			"players.broken.last_heartbeat_ms": "never",
			"players.partial.profile":          "{{",
			"players.partial.status":           "connected",
		}
		s, err := HashToSession(hash)
		require.NoError(t, err)

		broken, present := s.Players["broken"]
		assert.True(t, present)
		assert.Nil(t, broken)

		partial := s.Player("partial")
		require.NotNil(t, partial, "a player with any valid field is still identifiable")
		assert.False(t, partial.IsAI)

		submitted, total := s.CountSubmissions(PhaseDraft)
		assert.Equal(t, 0, submitted)
		assert.Equal(t, 1, total)
	})

	t.Run("rejects hashes without a session id", func(t *testing.T) {
		_, err := HashToSession(map[string]string{"state": "active"})
		assert.Error(t, err)
	})
}

func TestPatch(t *testing.T) {
	p := NewPatch()
	assert.True(t, p.Empty())

	p.SetSubmission("alice", PhaseDraft, PhaseSubmission{Submitted: true, SubmittedAtMs: 5, Payload: map[string]any{"word_count": 120}})
	p.SetCoordination(Coordination{ReadyCount: 2, AllPlayersReady: true})
	assert.False(t, p.Empty())

	fields, err := p.Fields()
	require.NoError(t, err)
	assert.Contains(t, fields["players.alice.phases.phase1"], `"word_count":120`)
	assert.Equal(t, `{"ready_count":2,"all_players_ready":true}`, fields["coordination"])

	t.Run("reports encoding errors", func(t *testing.T) {
		bad := NewPatch().SetSubmission("alice", PhaseDraft, PhaseSubmission{Payload: map[string]any{"ch": make(chan int)}})
		_, err := bad.Fields()
		assert.Error(t, err)
	})
}
