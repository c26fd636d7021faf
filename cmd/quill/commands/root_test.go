package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRootCommand_ShowsHelpWhenNoSubcommand tests that the root command
// shows help instead of silently succeeding when invoked without a subcommand
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	testRoot := &cobra.Command{
		Use:   "quill",
		Short: "Test root command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	buf := new(bytes.Buffer)
	testRoot.SetOut(buf)
	testRoot.SetErr(buf)

	err := testRoot.Execute()
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "Usage:")
	assert.Contains(t, buf.String(), "quill")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	testRoot := &cobra.Command{
		Use: "quill",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
	}
	testRoot.SetArgs([]string{"--unknown-flag", "value"})

	buf := new(bytes.Buffer)
	testRoot.SetOut(buf)
	testRoot.SetErr(buf)

	err := testRoot.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "get", "watch", "simulate"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2024-01-01")
	assert.Equal(t, "1.2.3 (commit: abc123, built: 2024-01-01)", rootCmd.Version)
}

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := newLogger(&buf, "json", "debug")
		require.NoError(t, err)
		l.Debug().Str("event_type", "probe").Msg("hello")
		assert.Contains(t, buf.String(), `"event_type":"probe"`)
		assert.Contains(t, buf.String(), `"service":"quill"`)
	})

	t.Run("console respects level", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := newLogger(&buf, "console", "WARN")
		require.NoError(t, err)
		l.Info().Msg("hidden")
		l.Warn().Msg("shown")
		assert.False(t, strings.Contains(buf.String(), "hidden"))
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		_, err := newLogger(&bytes.Buffer{}, "xml", "info")
		assert.Error(t, err)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := newLogger(&bytes.Buffer{}, "json", "loud")
		assert.Error(t, err)
	})
}
