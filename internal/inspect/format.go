package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/quill/internal/observer"
	"github.com/dyluth/quill/pkg/session"
)

// FormatSessionTable writes a summary of sessions, one row each.
// Returns the number of sessions formatted.
func FormatSessionTable(w io.Writer, sessions []*session.Session, instanceName string, nowMs int64) int {
	if len(sessions) == 0 {
		fmt.Fprintf(w, "No sessions found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Sessions for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-10s %-10s %-10s %-9s %-7s %-9s %s\n",
		"ID", "MODE", "STATE", "PHASE", "SUBS", "LEFT", "AGE")
	fmt.Fprintf(w, "%-10s %-10s %-10s %-9s %-7s %-9s %s\n",
		"----------", "----------", "----------", "---------", "-------", "---------", "--------")

	for _, s := range sessions {
		count := observer.CurrentSubmissionCount(s)
		fmt.Fprintf(w, "%-10s %-10s %-10s %-9s %-7s %-9s %s\n",
			formatID(s.SessionID),
			truncate(s.Mode, 10),
			s.State,
			formatPhase(s.CurrentPhase()),
			fmt.Sprintf("%d/%d", count.Submitted, count.Total),
			formatRemaining(s, nowMs),
			formatAge(s.CreatedAtMs, nowMs),
		)
	}

	noun := "session"
	if len(sessions) != 1 {
		noun = "sessions"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(sessions), noun)

	return len(sessions)
}

// FormatSessionDetail writes one session's header and a row per player.
func FormatSessionDetail(w io.Writer, s *session.Session, nowMs int64) {
	fmt.Fprintf(w, "Session:  %s\n", s.SessionID)
	fmt.Fprintf(w, "Match:    %s\n", s.MatchID)
	fmt.Fprintf(w, "Mode:     %s\n", s.Mode)
	fmt.Fprintf(w, "State:    %s\n", s.State)
	fmt.Fprintf(w, "Phase:    %s\n", formatPhase(s.CurrentPhase()))
	if s.Config != nil && s.Config.PromptID != "" {
		fmt.Fprintf(w, "Prompt:   %s (%s)\n", s.Config.PromptID, s.Config.PromptType)
	}
	fmt.Fprintf(w, "Left:     %s\n", formatRemaining(s, nowMs))
	count := observer.CurrentSubmissionCount(s)
	fmt.Fprintf(w, "Ready:    %d/%d (all ready: %t)\n\n", count.Submitted, count.Total, s.AllPlayersReady())

	fmt.Fprintf(w, "%-16s %-12s %-3s %-13s %-9s %s\n",
		"USER", "RANK", "AI", "STATUS", "HEARTBEAT", "PHASES")
	fmt.Fprintf(w, "%-16s %-12s %-3s %-13s %-9s %s\n",
		"----------------", "------------", "---", "-------------", "---------", "------")

	for _, id := range sortedPlayerIDs(s) {
		p := s.Players[id]
		if p == nil {
			fmt.Fprintf(w, "%-16s %s\n", truncate(id, 16), "(unreadable)")
			continue
		}
		fmt.Fprintf(w, "%-16s %-12s %-3s %-13s %-9s %s\n",
			truncate(id, 16),
			dash(truncate(p.Rank, 12)),
			yesNo(p.IsAI),
			p.Status.Normalize(),
			formatAge(p.LastHeartbeatMs, nowMs),
			formatPhases(p),
		)
	}
}

// FormatJSONL writes sessions as line-delimited JSON.
func FormatJSONL(w io.Writer, sessions []*session.Session) error {
	for _, s := range sessions {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal session to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes a session as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, s *session.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// formatID truncates a session ID to its first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatPhase(p session.Phase) string {
	if !p.Valid() {
		return "-"
	}
	return fmt.Sprintf("%d/%s", int(p), p)
}

// formatPhases shows a check per submitted phase, e.g. "✓✓·".
func formatPhases(p *session.Player) string {
	out := ""
	for _, phase := range []session.Phase{session.PhaseDraft, session.PhaseFeedback, session.PhaseRevision} {
		if p.HasSubmitted(phase) {
			out += "✓"
		} else {
			out += "·"
		}
	}
	return out
}

// formatRemaining renders the current phase's time left as m:ss.
func formatRemaining(s *session.Session, nowMs int64) string {
	if s.State != session.StateActive {
		return "-"
	}
	secs := observer.PhaseTimeRemaining(s, nowMs)
	if secs < 0 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// formatAge renders a unix ms timestamp relative to nowMs, e.g. "2m ago".
func formatAge(ms, nowMs int64) string {
	if ms == 0 {
		return "-"
	}
	diff := time.Duration(nowMs-ms) * time.Millisecond
	if diff < 0 {
		diff = 0
	}

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
