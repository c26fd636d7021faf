package observer

import (
	"testing"

	"github.com/dyluth/quill/pkg/session"
	"github.com/stretchr/testify/assert"
)

const nowMs = int64(1_700_000_100_000)

func timedSession(duration *int, startMs int64) *session.Session {
	s := &session.Session{
		Config: &session.Config{Phase: session.PhaseDraft, PhaseDuration: duration},
		Timing: map[string]int64{},
	}
	if startMs > 0 {
		s.Timing[session.PhaseDraft.StartTimeKey()] = startMs
	}
	return s
}

func TestPhaseTimeRemaining(t *testing.T) {
	tests := []struct {
		name string
		s    *session.Session
		want int
	}{
		{"nil session", nil, 0},
		{"nil config", &session.Session{}, 0},
		{"no duration configured", timedSession(nil, nowMs), 0},
		{"no start time returns full duration", timedSession(session.IntPtr(600), 0), 600},
		{"negative duration without start passes through", timedSession(session.IntPtr(-100), 0), -100},
		{"negative duration with start clamps", timedSession(session.IntPtr(-100), nowMs-1000), 0},
		{"zero duration", timedSession(session.IntPtr(0), nowMs), 0},
		{"partially elapsed", timedSession(session.IntPtr(600), nowMs-90_500), 510},
		{"exactly elapsed", timedSession(session.IntPtr(60), nowMs-60_000), 0},
		{"overrun", timedSession(session.IntPtr(60), nowMs-600_000), 0},
		{"start in the future", timedSession(session.IntPtr(60), nowMs+5_000), 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PhaseTimeRemaining(tt.s, nowMs))
		})
	}

	t.Run("uses the current phase start time", func(t *testing.T) {
		s := timedSession(session.IntPtr(300), nowMs-500_000)
		s.Config.Phase = session.PhaseFeedback
		s.Timing[session.PhaseFeedback.StartTimeKey()] = nowMs - 100_000
		assert.Equal(t, 200, PhaseTimeRemaining(s, nowMs))
	})
}

func TestHasSubmittedCurrentPhase(t *testing.T) {
	submitted := &session.Session{
		Config: &session.Config{Phase: session.PhaseFeedback},
		Players: map[string]*session.Player{
			"alice": {Phases: map[string]*session.PhaseSubmission{"phase2": {Submitted: true}}},
			"bob":   {Phases: map[string]*session.PhaseSubmission{"phase1": {Submitted: true}}},
			"carol": {Phases: map[string]*session.PhaseSubmission{"phase2": nil}},
			"dave":  nil,
		},
	}

	assert.True(t, HasSubmittedCurrentPhase(submitted, "alice"))
	assert.False(t, HasSubmittedCurrentPhase(submitted, "bob"))
	assert.False(t, HasSubmittedCurrentPhase(submitted, "carol"))
	assert.False(t, HasSubmittedCurrentPhase(submitted, "dave"))
	assert.False(t, HasSubmittedCurrentPhase(submitted, "nobody"))
	assert.False(t, HasSubmittedCurrentPhase(nil, "alice"))
	assert.False(t, HasSubmittedCurrentPhase(&session.Session{}, "alice"))
	assert.False(t, HasSubmittedCurrentPhase(&session.Session{Config: &session.Config{Phase: session.PhaseDraft}}, "alice"))
}

func TestConnectedPlayers(t *testing.T) {
	s := &session.Session{Players: map[string]*session.Player{
		"zed":   {UserID: "zed", Status: session.StatusConnected},
		"amy":   {UserID: "amy", Status: session.StatusConnected},
		"bob":   {UserID: "bob", Status: session.StatusDisconnected},
		"carl":  {UserID: "carl"},
		"weird": {UserID: "weird", Status: "online"},
		"null":  nil,
	}}

	got := ConnectedPlayers(s)
	if assert.Len(t, got, 2) {
		assert.Equal(t, "amy", got[0].UserID)
		assert.Equal(t, "zed", got[1].UserID)
	}

	assert.Empty(t, ConnectedPlayers(nil))
	assert.Empty(t, ConnectedPlayers(&session.Session{}))
}

func TestCurrentSubmissionCount(t *testing.T) {
	t.Run("excludes AI and unreadable entries", func(t *testing.T) {
		s := &session.Session{
			Config: &session.Config{Phase: session.PhaseDraft},
			Players: map[string]*session.Player{
				"alice": {UserID: "alice", Phases: map[string]*session.PhaseSubmission{"phase1": {Submitted: true}}},
				"bob":   {UserID: "bob"},
				"bot":   {UserID: "bot", IsAI: true, Phases: map[string]*session.PhaseSubmission{"phase1": {Submitted: true}}},
				"null":  nil,
			},
		}
		assert.Equal(t, SubmissionCount{Submitted: 1, Total: 2}, CurrentSubmissionCount(s))
	})

	t.Run("AI-only session", func(t *testing.T) {
		s := &session.Session{
			Config:  &session.Config{Phase: session.PhaseDraft},
			Players: map[string]*session.Player{"bot": {IsAI: true}},
		}
		assert.Equal(t, SubmissionCount{}, CurrentSubmissionCount(s))
	})

	t.Run("malformed snapshots", func(t *testing.T) {
		assert.Equal(t, SubmissionCount{}, CurrentSubmissionCount(nil))
		assert.Equal(t, SubmissionCount{}, CurrentSubmissionCount(&session.Session{}))

		noConfig := &session.Session{Players: map[string]*session.Player{"alice": {UserID: "alice"}}}
		assert.Equal(t, SubmissionCount{Submitted: 0, Total: 1}, CurrentSubmissionCount(noConfig))
	})
}
