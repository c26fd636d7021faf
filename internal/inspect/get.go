package inspect

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/quill/pkg/session"
)

// OutputFormat specifies how sessions are rendered.
type OutputFormat string

const (
	// OutputFormatDefault renders human-readable tables
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON renders pretty JSON for a single session and JSONL for lists
	OutputFormatJSON OutputFormat = "json"
)

// GetSession reads one session and writes it in format.
func GetSession(ctx context.Context, client *session.Client, sessionID string, format OutputFormat, nowMs int64, w io.Writer) error {
	s, err := client.Get(ctx, sessionID)
	if err != nil {
		if session.IsNotFound(err) {
			return &SessionNotFoundError{SessionID: sessionID}
		}
		return fmt.Errorf("failed to fetch session: %w", err)
	}

	switch format {
	case OutputFormatDefault:
		FormatSessionDetail(w, s, nowMs)
	case OutputFormatJSON:
		if err := FormatSingleJSON(w, s); err != nil {
			return fmt.Errorf("failed to format session: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}

// SessionNotFoundError is returned when the requested session does not exist.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session with ID '%s' not found", e.SessionID)
}

// IsNotFound returns true if the error is a SessionNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*SessionNotFoundError)
	return ok
}
