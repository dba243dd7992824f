package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/storage"
)

func TestSettingsShow(t *testing.T) {
	store := testStore(t)
	cmd := &SettingsCommand{globals: testGlobals()}

	var err error
	output := captureOutput(t, func() {
		err = cmd.executeWithStore(store)
	})
	require.NoError(t, err)
	assert.NotContains(t, output, "Settings updated")
	assert.Contains(t, output, "Data collection:  on")
	assert.Contains(t, output, "Developer mode:   off")
	assert.Contains(t, output, "Retention:        6 months")
	assert.Contains(t, output, "Theme:            auto")
}

func TestSettingsUpdate(t *testing.T) {
	store := testStore(t)
	cmd := &SettingsCommand{Collection: "off", DevMode: "on", RetentionMonths: 3, Theme: "dark", globals: testGlobals()}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store))
	})
	assert.Contains(t, output, "Settings updated")
	assert.Contains(t, output, "Data collection:  off")
	assert.Contains(t, output, "Developer mode:   on")
	assert.Contains(t, output, "Retention:        3 months")
	assert.Contains(t, output, "Theme:            dark")
}

func TestSettingsPartialUpdateJSON(t *testing.T) {
	store := testStore(t)
	g := testGlobals()
	g.JSON = true
	cmd := &SettingsCommand{Theme: "light", globals: g}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(store))
	})

	var s storage.Settings
	require.NoError(t, json.Unmarshal([]byte(output), &s))
	assert.Equal(t, "light", s.Theme)
	assert.True(t, s.DataCollectionEnabled, "untouched fields keep their values")
	assert.Equal(t, 6, s.RetentionPolicyMonths)
}

func TestSettingsInvalid(t *testing.T) {
	store := testStore(t)

	cmd := &SettingsCommand{Collection: "maybe", globals: testGlobals()}
	err := cmd.executeWithStore(store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --collection")

	cmd = &SettingsCommand{Theme: "sepia", globals: testGlobals()}
	assert.Error(t, cmd.executeWithStore(store))
}
