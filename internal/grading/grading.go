// Package grading hands committed submissions to the external grading service.
//
// Dispatch happens after the submission transaction has committed. A failed
// dispatch never undoes a submission; callers log it and move on.
package grading

import (
	"context"
	"fmt"

	"github.com/dyluth/quill/pkg/session"
)

// Submission is the message consumed by the grading service.
type Submission struct {
	SessionID     string   `json:"session_id"`
	MatchID       string   `json:"match_id"`
	UserID        string   `json:"user_id"`
	Phase         int      `json:"phase"`
	Content       string   `json:"content"`
	WordCount     int      `json:"word_count"`
	Score         *float64 `json:"score,omitempty"`
	SubmittedAtMs int64    `json:"submitted_at_ms"`
}

// Key identifies the submission for partitioning and deduplication.
func (s Submission) Key() string {
	return fmt.Sprintf("%s:%s:%s", s.SessionID, s.UserID, session.Phase(s.Phase).Key())
}

// Dispatcher delivers submissions to the grading service.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub Submission) error
	Close() error
}

// NopDispatcher discards submissions. Used when grading is not configured.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Submission) error { return nil }
func (NopDispatcher) Close() error                               { return nil }

// FromPayload builds a grading message from a submission payload.
// Recognized keys are "content", "word_count" and "score"; anything else is
// ignored and wrong-typed values are treated as absent.
func FromPayload(s *session.Session, userID string, phase session.Phase, submittedAtMs int64, payload map[string]any) Submission {
	sub := Submission{
		UserID:        userID,
		Phase:         int(phase),
		SubmittedAtMs: submittedAtMs,
	}
	if s != nil {
		sub.SessionID = s.SessionID
		sub.MatchID = s.MatchID
	}

	if content, ok := payload["content"].(string); ok {
		sub.Content = content
	}
	if n, ok := number(payload["word_count"]); ok {
		sub.WordCount = int(n)
	}
	if score, ok := number(payload["score"]); ok {
		sub.Score = &score
	}
	return sub
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
