package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/storage"
)

func TestAddRecordsClosedSession(t *testing.T) {
	store := testStore(t)
	cmd := &AddCommand{URL: "https://go.dev/doc/effective_go", Title: "Effective Go", TabID: 4, globals: testGlobals()}

	var err error
	output := captureOutput(t, func() {
		err = cmd.executeWithStore(store)
	})
	require.NoError(t, err)
	assert.Contains(t, output, "Added session ")
	assert.Contains(t, output, "Title: Effective Go")

	ctx := context.Background()
	open, err := store.OpenSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open, "the session is ended unless --keep-open")

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalSessions)
	require.Len(t, stats.TopHosts, 1)
	assert.Equal(t, "go.dev", stats.TopHosts[0].Host)
}

func TestAddKeepOpenJSON(t *testing.T) {
	store := testStore(t)
	g := testGlobals()
	g.JSON = true
	cmd := &AddCommand{URL: "https://go.dev/blog", Title: "The Go Blog", TabID: 9, Keep: true, globals: g}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store))
	})

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, "The Go Blog", out["title"])
	assert.Equal(t, true, out["open"])

	open, err := store.OpenSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, out["id"], open[0].ID)
	assert.Equal(t, int64(9), open[0].TabID)
	assert.Equal(t, "typed", open[0].TransitionType)
}

func TestAddRejects(t *testing.T) {
	tests := []struct {
		name string
		cmd  AddCommand
		want string
	}{
		{"relative url", AddCommand{URL: "go.dev/doc"}, "invalid URL"},
		{"no host", AddCommand{URL: "https://"}, "invalid URL"},
		{"ghost tab", AddCommand{URL: "https://go.dev/", TabID: storage.GhostTabID}, "reserved"},
		{"denied host", AddCommand{URL: "http://localhost:8080/admin"}, "excluded by the capture denylist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testStore(t)
			cmd := tt.cmd
			cmd.globals = testGlobals()
			err := cmd.executeWithStore(store)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAddWithCollectionDisabled(t *testing.T) {
	store := testStore(t)
	off := false
	_, err := store.UpdateSettings(context.Background(), storage.SettingsPatch{DataCollectionEnabled: &off})
	require.NoError(t, err)

	cmd := &AddCommand{URL: "https://go.dev/", globals: testGlobals()}
	err = cmd.executeWithStore(store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data collection is disabled")
}
