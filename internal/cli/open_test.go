package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/storage"
)

func seedOpenSessions(t *testing.T, store *storage.SQLiteStore) {
	t.Helper()
	seed(t, store,
		seedSession{id: "root", host: "go.dev", url: "https://go.dev/", title: "The Go Programming Language", transition: "typed"},
		seedSession{id: "kid", host: "go.dev", url: "https://go.dev/doc", title: "Documentation", parent: "root", transition: "link"},
		seedSession{id: "ghost", host: "pkg.go.dev", url: "https://pkg.go.dev/", title: "Go Packages", tabID: storage.GhostTabID},
	)
}

func TestOpenFull(t *testing.T) {
	store := testStore(t)
	seedOpenSessions(t, store)
	cmd := &OpenCommand{ID: "root", Format: "full", globals: testGlobals()}

	var err error
	output := captureOutput(t, func() {
		err = cmd.executeWithStore(store)
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(output, "root\n"))
	assert.Contains(t, output, "Title:        The Go Programming Language")
	assert.Contains(t, output, "URL:          https://go.dev/")
	assert.Contains(t, output, "Transition:   typed")
	assert.Contains(t, output, "--- Opened from here ---")
	assert.Contains(t, output, "Documentation")
	assert.Contains(t, output, "      kid")
}

func TestOpenFullWithoutChildren(t *testing.T) {
	store := testStore(t)
	seedOpenSessions(t, store)
	cmd := &OpenCommand{ID: "ghost", Format: "full", globals: testGlobals()}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store))
	})
	assert.Contains(t, output, "Tab:          from browser history")
	assert.Contains(t, output, "None")
}

func TestOpenFormats(t *testing.T) {
	store := testStore(t)
	seedOpenSessions(t, store)

	tests := []struct {
		format string
		want   string
	}{
		{"url", "https://go.dev/doc\n"},
		{"title", "Documentation\n"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			cmd := &OpenCommand{ID: "kid", Format: tt.format, globals: testGlobals()}
			output := captureOutput(t, func() {
				require.NoError(t, cmd.executeWithStore(store))
			})
			assert.Equal(t, tt.want, output)
		})
	}
}

func TestOpenJSON(t *testing.T) {
	store := testStore(t)
	seedOpenSessions(t, store)
	cmd := &OpenCommand{ID: "root", Format: "json", globals: testGlobals()}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store))
	})

	var s storage.SessionWithChildren
	require.NoError(t, json.Unmarshal([]byte(output), &s))
	assert.Equal(t, "root", s.ID)
	require.Len(t, s.Children, 1)
	assert.Equal(t, "kid", s.Children[0].ID)
}

func TestOpenNotFound(t *testing.T) {
	store := testStore(t)
	cmd := &OpenCommand{ID: "missing", Format: "full", globals: testGlobals()}

	err := cmd.executeWithStore(store)
	require.Error(t, err)
	assert.Equal(t, "session not found: missing", err.Error())
}
