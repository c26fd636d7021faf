package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 10, 29, 14, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		spec    string
		want    int64
		wantErr bool
	}{
		{"1h", now.Add(-time.Hour).UnixMilli(), false},
		{"1h30m", now.Add(-90 * time.Minute).UnixMilli(), false},
		{"2025-10-29T13:00:00Z", time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC).UnixMilli(), false},
		{"", 0, true},
		{"-1h", 0, true},
		{"yesterday", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := Parse(tt.spec, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRange(t *testing.T) {
	since, until, err := ParseRange("2h", "1h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour).UnixMilli(), since)
	assert.Equal(t, now.Add(-time.Hour).UnixMilli(), until)

	since, until, err = ParseRange("", "", now)
	require.NoError(t, err)
	assert.Zero(t, since)
	assert.Zero(t, until)

	_, _, err = ParseRange("1h", "2h", now)
	assert.ErrorContains(t, err, "--since must be before --until")

	_, _, err = ParseRange("soon", "", now)
	assert.ErrorContains(t, err, "invalid --since")

	_, _, err = ParseRange("", "later", now)
	assert.ErrorContains(t, err, "invalid --until")
}
