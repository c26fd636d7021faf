package coordinator

import (
	"fmt"

	"github.com/dyluth/quill/internal/duration"
	"github.com/dyluth/quill/pkg/session"
)

// submission is the input of one Submit call.
type submission struct {
	userID  string
	phase   session.Phase
	payload map[string]any
	nowMs   int64
}

// plan computes the writes for one submission against a freshly read document.
// It is a pure function of its inputs and may run several times per Submit.
//
// The submission record is always written. When the submission completes the
// quorum of the session's current phase, the transition is written in the same
// patch: phases 1 and 2 advance to the next phase with a fresh start time and
// reset coordination, phase 3 completes the session.
func plan(current *session.Session, sub submission, policy *duration.Policy) (*session.Patch, Result, error) {
	if _, ok := current.Players[sub.userID]; !ok {
		return nil, Result{}, fmt.Errorf("%w: %s", ErrNotParticipant, sub.userID)
	}

	patch := session.NewPatch().SetSubmission(sub.userID, sub.phase, session.PhaseSubmission{
		Submitted:     true,
		SubmittedAtMs: sub.nowMs,
		Payload:       sub.payload,
	})

	submitted, total := quorum(current, sub.userID, sub.phase)
	result := Result{Phase: sub.phase, Submitted: submitted, Total: total}

	// A stale read or a transition that already happened: record only.
	if current.State != session.StateActive || current.CurrentPhase() != sub.phase {
		result.Stale = true
		return patch, result, nil
	}
	if !quorumMet(submitted, total) {
		return patch, result, nil
	}

	switch sub.phase {
	case session.PhaseDraft, session.PhaseFeedback:
		next := sub.phase + 1
		cfg := *current.Config
		cfg.Phase = next
		cfg.PhaseDuration = session.IntPtr(policy.SessionDuration(realRanks(current), next))

		patch.SetConfig(cfg).
			SetPhaseStart(next, sub.nowMs).
			SetCoordination(session.Coordination{})

		result.Transitioned = true
		result.NextPhase = next

	case session.PhaseRevision:
		patch.SetState(session.StateCompleted).
			SetCoordination(session.Coordination{ReadyCount: total, AllPlayersReady: true})

		result.Transitioned = true
		result.Completed = true
	}

	return patch, result, nil
}
