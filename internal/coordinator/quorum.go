package coordinator

import "github.com/dyluth/quill/pkg/session"

// quorum counts submissions for phase among the live set of real participants,
// treating submitterID's current submission as already recorded.
// A submitter that is AI or has an unreadable entry never counts.
func quorum(s *session.Session, submitterID string, phase session.Phase) (submitted, total int) {
	for _, p := range s.RealPlayers() {
		total++
		if p.UserID == submitterID || p.HasSubmitted(phase) {
			submitted++
		}
	}
	return submitted, total
}

// quorumMet reports whether every real participant has submitted.
// Sessions without real participants never reach quorum.
func quorumMet(submitted, total int) bool {
	return total > 0 && submitted == total
}

// realRanks returns the rank labels of the real participants.
func realRanks(s *session.Session) []string {
	players := s.RealPlayers()
	ranks := make([]string, 0, len(players))
	for _, p := range players {
		ranks = append(ranks, p.Rank)
	}
	return ranks
}
