package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dyluth/quill/internal/inspect"
	"github.com/dyluth/quill/internal/printer"
	"github.com/dyluth/quill/internal/resolver"
	"github.com/dyluth/quill/internal/timespec"
	"github.com/dyluth/quill/pkg/session"
	"github.com/spf13/cobra"
)

var (
	getOutputFormat string
	getMode         string
	getState        string
	getSince        string
	getUntil        string
)

var getCmd = &cobra.Command{
	Use:   "get [SESSION_ID]",
	Short: "Inspect sessions",
	Long: `Inspect sessions in list or get mode.

List Mode (no SESSION_ID):
  Displays every session of the instance, oldest first.

Get Mode (with SESSION_ID):
  Displays one session with a row per player.
  Supports short IDs (e.g., "3f2a9c" instead of the full UUID).

Output Formats:
  default - Human-readable tables
  json    - Pretty JSON in get mode, JSONL in list mode

Filters (list mode only):
  --mode   - Filter by mode (glob pattern: "ranked*")
  --state  - Filter by state (forming, active, completed)
  --since  - Sessions created after this time (duration or RFC3339)
  --until  - Sessions created before this time

Examples:
  # List active sessions from the last hour
  quill get --state=active --since=1h

  # Dump one session for jq
  quill get 3f2a9c1e-... -o json | jq '.players'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().StringVarP(&getOutputFormat, "output", "o", "default", "Output format: default or json")
	getCmd.Flags().StringVar(&getMode, "mode", "", "Filter by mode glob (list mode only)")
	getCmd.Flags().StringVar(&getState, "state", "", "Filter by state: forming, active, completed (list mode only)")
	getCmd.Flags().StringVar(&getSince, "since", "", "Show sessions created after time (duration or RFC3339)")
	getCmd.Flags().StringVar(&getUntil, "until", "", "Show sessions created before time (duration or RFC3339)")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	format, err := parseInspectFormat(getOutputFormat)
	if err != nil {
		return err
	}

	now := time.Now()
	filters, err := buildFilters(getMode, getState, getSince, getUntil, now)
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	return inspectSessions(ctx, rt.store, args, format, filters, now.UnixMilli())
}

// buildFilters validates the list-mode filter flags.
func buildFilters(mode, state, since, until string, now time.Time) (*inspect.FilterCriteria, error) {
	sinceMs, untilMs, err := timespec.ParseRange(since, until, now)
	if err != nil {
		return nil, printer.Error("invalid time filter", err.Error(), []string{
			"Use a duration like 2h or an RFC3339 time like 2025-10-29T13:00:00Z",
		})
	}

	st := session.State(state)
	if st != "" {
		if err := st.Validate(); err != nil {
			return nil, printer.Error("invalid state filter", err.Error(), []string{"Valid states: forming, active, completed"})
		}
	}

	return &inspect.FilterCriteria{
		ModeGlob:         mode,
		State:            st,
		SinceTimestampMs: sinceMs,
		UntilTimestampMs: untilMs,
	}, nil
}

// resolveSession expands a short session id, printing a formatted error when
// it cannot be resolved.
func resolveSession(ctx context.Context, store *session.Client, shortID string) (string, error) {
	id, err := resolver.ResolveSessionID(ctx, store, shortID)
	if err == nil {
		return id, nil
	}

	switch {
	case resolver.IsAmbiguousError(err):
		return "", printer.Error("ambiguous session ID", resolver.FormatAmbiguousError(err.(*resolver.AmbiguousError)), nil)
	case resolver.IsNotFoundError(err):
		return "", printer.ErrorWithContext(
			"session not found",
			err.Error(),
			map[string]string{"Instance": store.InstanceName()},
			[]string{"List sessions:\n  quill get"},
		)
	default:
		return "", printer.Error("invalid session ID", err.Error(), nil)
	}
}

// inspectSessions runs get or list mode against store and writes to stdout.
func inspectSessions(ctx context.Context, store *session.Client, args []string, format inspect.OutputFormat, filters *inspect.FilterCriteria, nowMs int64) error {
	if len(args) == 1 {
		sessionID, err := resolveSession(ctx, store, args[0])
		if err != nil {
			return err
		}
		err = inspect.GetSession(ctx, store, sessionID, format, nowMs, os.Stdout)
		if inspect.IsNotFound(err) {
			return printer.ErrorWithContext(
				"session not found",
				err.Error(),
				map[string]string{"Instance": store.InstanceName()},
				[]string{"List sessions:\n  quill get"},
			)
		}
		return err
	}
	return inspect.ListSessions(ctx, store, format, filters, nowMs, os.Stdout)
}

func parseInspectFormat(s string) (inspect.OutputFormat, error) {
	switch s {
	case "default":
		return inspect.OutputFormatDefault, nil
	case "json":
		return inspect.OutputFormatJSON, nil
	default:
		return "", printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", s),
			[]string{"Valid formats: default, json"},
		)
	}
}
