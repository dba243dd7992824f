package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/clause"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"15m", 15 * time.Minute, false},
		{"", 0, true},
		{"d", 0, true},
		{"3x", 0, true},
		{"abcd", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatDurationHuman(t *testing.T) {
	assert.Equal(t, "1 day", formatDurationHuman(24*time.Hour))
	assert.Equal(t, "180 days", formatDurationHuman(180*24*time.Hour))
	assert.Equal(t, "1 hour", formatDurationHuman(time.Hour))
	assert.Equal(t, "5 hours", formatDurationHuman(5*time.Hour))
	assert.Equal(t, "30s", formatDurationHuman(30*time.Second))
}

func TestTimeRange(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	c, err := timeRange(now, "", "")
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = timeRange(now, "1d", "")
	require.NoError(t, err)
	assert.Equal(t, clause.Ge("startedAt", "2024-06-14T12:00:00Z"), c)

	c, err = timeRange(now, "2d", "1d")
	require.NoError(t, err)
	assert.Equal(t, clause.Combine(
		clause.Ge("startedAt", "2024-06-13T12:00:00Z"),
		clause.Lt("startedAt", "2024-06-14T12:00:00Z"),
	), c)

	_, err = timeRange(now, "", "later")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --until")
}

func TestOnOff(t *testing.T) {
	v, err := onOff("collection", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	for _, in := range []string{"on", "true", "yes"} {
		v, err := onOff("collection", in)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.True(t, *v)
	}
	for _, in := range []string{"off", "false", "no"} {
		v, err := onOff("collection", in)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.False(t, *v)
	}

	_, err = onOff("dev-mode", "sometimes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--dev-mode")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, map[string]int{"n": 1}))
	assert.Equal(t, "{\n  \"n\": 1\n}\n", buf.String())
}

func TestDBPathOverride(t *testing.T) {
	g := testGlobals()
	path, err := g.dbPath()
	require.NoError(t, err)
	assert.Equal(t, ":memory:", path)

	g.DBPath = ""
	g.cfg.Storage.Path = t.TempDir()
	g.cfg.Storage.SQLiteFile = "trail.db"
	path, err = g.dbPath()
	require.NoError(t, err)
	assert.Contains(t, path, "trail.db")
}
