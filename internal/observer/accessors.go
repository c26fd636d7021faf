package observer

import (
	"sort"

	"github.com/dyluth/quill/pkg/session"
)

// The functions below are total over partial and malformed snapshots:
// every missing level yields the documented default.

// PhaseTimeRemaining returns the seconds left in the current phase at nowMs.
//
// Without a recorded start time for the current phase the full configured
// duration is returned unchanged, including negative values. Without a
// configured duration the result is 0. Otherwise the result is clamped at 0.
func PhaseTimeRemaining(s *session.Session, nowMs int64) int {
	if s == nil || s.Config == nil || s.Config.PhaseDuration == nil {
		return 0
	}
	phaseDuration := *s.Config.PhaseDuration

	start, ok := s.PhaseStartMs(s.CurrentPhase())
	if !ok {
		return phaseDuration
	}

	elapsed := (nowMs - start) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := int64(phaseDuration) - elapsed
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// HasSubmittedCurrentPhase reports whether userID has submitted the current phase.
func HasSubmittedCurrentPhase(s *session.Session, userID string) bool {
	phase := s.CurrentPhase()
	if !phase.Valid() {
		return false
	}
	return s.Player(userID).HasSubmitted(phase)
}

// ConnectedPlayers returns the players whose status is connected, sorted by user id.
func ConnectedPlayers(s *session.Session) []*session.Player {
	if s == nil {
		return nil
	}
	var connected []*session.Player
	for _, p := range s.Players {
		if p != nil && p.Status.Normalize() == session.StatusConnected {
			connected = append(connected, p)
		}
	}
	sort.Slice(connected, func(i, j int) bool { return connected[i].UserID < connected[j].UserID })
	return connected
}

// SubmissionCount is the progress of the current phase among real participants.
type SubmissionCount struct {
	Submitted int `json:"submitted"`
	Total     int `json:"total"`
}

// CurrentSubmissionCount counts real participants and those among them that
// submitted the current phase.
func CurrentSubmissionCount(s *session.Session) SubmissionCount {
	submitted, total := s.CountSubmissions(s.CurrentPhase())
	return SubmissionCount{Submitted: submitted, Total: total}
}
