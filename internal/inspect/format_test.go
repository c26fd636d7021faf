package inspect

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dyluth/quill/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nowMs = int64(1_700_000_100_000)

func sampleSession() *session.Session {
	return &session.Session{
		SessionID: "0123456789abcdef",
		MatchID:   "match-1",
		Mode:      "ranked",
		State:     session.StateActive,
		Config:    &session.Config{PromptID: "p1", PromptType: "essay", Phase: session.PhaseFeedback, PhaseDuration: session.IntPtr(540)},
		Timing:    map[string]int64{"phase2_start_time": nowMs - 60_000},
		Players: map[string]*session.Player{
			"bob": {UserID: "bob", Rank: "Gold II", Status: session.StatusConnected, LastHeartbeatMs: nowMs - 5_000,
				Phases: map[string]*session.PhaseSubmission{"phase1": {Submitted: true}, "phase2": {Submitted: true}}},
			"alice": {UserID: "alice", Rank: "Gold I", Phases: map[string]*session.PhaseSubmission{"phase1": {Submitted: true}}},
			"bot":   {UserID: "bot", IsAI: true},
			"ghost": nil,
		},
		Coordination: &session.Coordination{},
		CreatedAtMs:  nowMs - 2*60*60*1000,
	}
}

func TestFormatSessionTable(t *testing.T) {
	t.Run("empty list", func(t *testing.T) {
		var buf bytes.Buffer
		n := FormatSessionTable(&buf, nil, "test-instance", nowMs)
		assert.Equal(t, 0, n)
		assert.Contains(t, buf.String(), "No sessions found for instance 'test-instance'")
	})

	t.Run("one row per session", func(t *testing.T) {
		var buf bytes.Buffer
		n := FormatSessionTable(&buf, []*session.Session{sampleSession()}, "test-instance", nowMs)
		assert.Equal(t, 1, n)

		out := buf.String()
		assert.Contains(t, out, "01234567 ")
		assert.NotContains(t, out, "0123456789abcdef")
		assert.Contains(t, out, "2/feedback")
		assert.Contains(t, out, "1/2")
		assert.Contains(t, out, "8:00")
		assert.Contains(t, out, "2h ago")
		assert.Contains(t, out, "1 session found")
	})
}

func TestFormatSessionDetail(t *testing.T) {
	var buf bytes.Buffer
	FormatSessionDetail(&buf, sampleSession(), nowMs)
	out := buf.String()

	assert.Contains(t, out, "Prompt:   p1 (essay)")
	assert.Contains(t, out, "Ready:    1/2 (all ready: false)")

	lines := strings.Split(out, "\n")
	var rows []string
	for _, l := range lines {
		for _, id := range []string{"alice", "bob", "bot", "ghost"} {
			if strings.HasPrefix(l, id+" ") {
				rows = append(rows, l)
			}
		}
	}
	require.Len(t, rows, 4, out)
	assert.True(t, strings.HasPrefix(rows[0], "alice"), "players are sorted")
	assert.Contains(t, rows[0], "disconnected")
	assert.Contains(t, rows[0], "✓··")
	assert.Contains(t, rows[1], "connected")
	assert.Contains(t, rows[1], "5s ago")
	assert.Contains(t, rows[1], "✓✓·")
	assert.Contains(t, rows[2], "yes")
	assert.Contains(t, rows[3], "(unreadable)")
}

func TestFormatJSON(t *testing.T) {
	s := sampleSession()

	var single bytes.Buffer
	require.NoError(t, FormatSingleJSON(&single, s))
	var decoded session.Session
	require.NoError(t, json.Unmarshal(single.Bytes(), &decoded))
	assert.Equal(t, s.SessionID, decoded.SessionID)

	var lines bytes.Buffer
	require.NoError(t, FormatJSONL(&lines, []*session.Session{s, s}))
	assert.Equal(t, 2, strings.Count(lines.String(), "\n"))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "-", formatAge(0, nowMs))
	assert.Equal(t, "0s ago", formatAge(nowMs+5000, nowMs))
	assert.Equal(t, "3m ago", formatAge(nowMs-3*60*1000, nowMs))
	assert.Equal(t, "2d ago", formatAge(nowMs-49*60*60*1000, nowMs))

	assert.Equal(t, "-", formatPhase(0))
	assert.Equal(t, "3/revision", formatPhase(session.PhaseRevision))

	forming := &session.Session{State: session.StateForming}
	assert.Equal(t, "-", formatRemaining(forming, nowMs))

	negative := &session.Session{State: session.StateActive, Config: &session.Config{Phase: 1, PhaseDuration: session.IntPtr(-5)}}
	assert.Equal(t, "-5s", formatRemaining(negative, nowMs))

	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
