package resolver

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/dyluth/quill/internal/testutil"
	"github.com/dyluth/quill/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, client *session.Client, id string) {
	t.Helper()
	require.NoError(t, client.Create(context.Background(), &session.Session{
		SessionID: id,
		MatchID:   "m-" + id,
		Mode:      "ranked",
		State:     session.StateActive,
		Players:   map[string]*session.Player{},
	}))
}

func TestResolveSessionID(t *testing.T) {
	client, _ := testutil.NewSessionClient(t)
	ctx := context.Background()

	full := "3f2a9c1e-0000-4000-8000-000000000001"
	seed(t, client, full)
	seed(t, client, "abcdef12-0000-4000-8000-000000000001")
	seed(t, client, "abcdef34-0000-4000-8000-000000000002")

	t.Run("full id", func(t *testing.T) {
		id, err := ResolveSessionID(ctx, client, full)
		require.NoError(t, err)
		assert.Equal(t, full, id)
	})

	t.Run("missing full id", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, client, "00000000-0000-4000-8000-000000000000")
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("unique prefix", func(t *testing.T) {
		id, err := ResolveSessionID(ctx, client, "3f2a9c")
		require.NoError(t, err)
		assert.Equal(t, full, id)
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, client, "abcdef")
		require.True(t, IsAmbiguousError(err))
		amb := err.(*AmbiguousError)
		assert.Equal(t, []string{"abcdef12-0000-4000-8000-000000000001", "abcdef34-0000-4000-8000-000000000002"}, amb.Matches)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, client, "ffffff")
		assert.True(t, IsNotFoundError(err))
		assert.Contains(t, err.Error(), "no sessions found matching 'ffffff'")
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, client, "abc")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 6 characters")
	})

	t.Run("glob characters are literal", func(t *testing.T) {
		_, err := ResolveSessionID(ctx, client, "abcde*")
		assert.True(t, IsNotFoundError(err))
	})
}

func TestFormatAmbiguousError(t *testing.T) {
	matches := make([]string, 12)
	for i := range matches {
		matches[i] = fmt.Sprintf("abcdef%02d", i)
	}
	msg := FormatAmbiguousError(&AmbiguousError{ShortID: "abcdef", Matches: matches})

	assert.Contains(t, msg, "matches 12 sessions")
	assert.Contains(t, msg, "abcdef09")
	assert.NotContains(t, msg, "abcdef10")
	assert.Contains(t, msg, "...and 2 more")
	assert.True(t, strings.HasSuffix(msg, "uniquely identify the session."))
}
