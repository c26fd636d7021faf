package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/quill/internal/observer"
	"github.com/dyluth/quill/internal/printer"
	"github.com/dyluth/quill/internal/watch"
	"github.com/spf13/cobra"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch SESSION_ID",
	Short: "Stream a session's events",
	Long: `Stream the events derived from a session's change feed: updates,
phase transitions, presence changes and readiness. Runs until interrupted
or until the session is deleted.

Output Formats:
  default - One line per event
  jsonl   - One JSON object per event`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var format watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		format = watch.OutputFormatDefault
	case "jsonl":
		format = watch.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID, err := resolveSession(ctx, rt.store, args[0])
	if err != nil {
		return err
	}

	obs := observer.New(rt.store, sessionID, "", logger)
	err = watch.Stream(ctx, obs, sessionID, watch.Options{
		Format:            format,
		ReconcileInterval: rt.config.ReconcileInterval(),
	}, os.Stdout)
	if errors.Is(err, observer.ErrSessionDeleted) {
		printer.Warning("session %s was deleted\n", sessionID)
		return nil
	}
	return err
}
