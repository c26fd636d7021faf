package inspect

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dyluth/quill/pkg/session"
)

// FilterCriteria narrows a session listing. All filters are ANDed.
type FilterCriteria struct {
	ModeGlob         string        // Glob pattern for mode, empty = no filter
	State            session.State // Exact match, empty = no filter
	SinceTimestampMs int64         // Created at or after, 0 = no filter
	UntilTimestampMs int64         // Created at or before, 0 = no filter
}

// Matches reports whether s passes every criterion.
func (fc *FilterCriteria) Matches(s *session.Session) bool {
	if fc.SinceTimestampMs > 0 && s.CreatedAtMs < fc.SinceTimestampMs {
		return false
	}
	if fc.UntilTimestampMs > 0 && s.CreatedAtMs > fc.UntilTimestampMs {
		return false
	}
	if fc.ModeGlob != "" {
		matched, err := filepath.Match(fc.ModeGlob, s.Mode)
		if err != nil || !matched {
			return false
		}
	}
	if fc.State != "" && s.State != fc.State {
		return false
	}
	return true
}

// HasFilters reports whether any criterion is set.
func (fc *FilterCriteria) HasFilters() bool {
	return fc != nil && (fc.ModeGlob != "" || fc.State != "" || fc.SinceTimestampMs > 0 || fc.UntilTimestampMs > 0)
}

// ListSessions scans every session of the client's instance and writes them
// in format, oldest first. Unreadable documents are skipped with a warning
// on stderr.
func ListSessions(ctx context.Context, client *session.Client, format OutputFormat, filters *FilterCriteria, nowMs int64, w io.Writer) error {
	prefix := session.SessionKey(client.InstanceName(), "")
	iter := client.RedisClient().Scan(ctx, 0, prefix+"*", 0).Iterator()

	var sessions []*session.Session
	for iter.Next(ctx) {
		key := iter.Val()
		sessionID := strings.TrimPrefix(key, prefix)

		s, err := client.Get(ctx, sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Skipping unreadable session: key=%s (error: %v)\n", key, err)
			continue
		}
		if filters.HasFilters() && !filters.Matches(s) {
			continue
		}
		sessions = append(sessions, s)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan sessions: %w", err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAtMs != sessions[j].CreatedAtMs {
			return sessions[i].CreatedAtMs < sessions[j].CreatedAtMs
		}
		return sessions[i].SessionID < sessions[j].SessionID
	})

	switch format {
	case OutputFormatDefault:
		FormatSessionTable(w, sessions, client.InstanceName(), nowMs)
	case OutputFormatJSON:
		if err := FormatJSONL(w, sessions); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}

func sortedPlayerIDs(s *session.Session) []string {
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
