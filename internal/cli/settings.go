package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/runnerr0/trail/internal/storage"
)

// Execute implements the go-flags Commander interface for SettingsCommand.
func (c *SettingsCommand) Execute(args []string) error {
	return c.globals.withStore(c.executeWithStore)
}

func (c *SettingsCommand) patch() (storage.SettingsPatch, bool, error) {
	var p storage.SettingsPatch
	var err error
	if p.DataCollectionEnabled, err = onOff("collection", c.Collection); err != nil {
		return p, false, err
	}
	if p.DevModeEnabled, err = onOff("dev-mode", c.DevMode); err != nil {
		return p, false, err
	}
	if c.RetentionMonths != 0 {
		months := c.RetentionMonths
		p.RetentionPolicyMonths = &months
	}
	if c.Theme != "" {
		theme := c.Theme
		p.Theme = &theme
	}
	changed := p.DataCollectionEnabled != nil || p.DevModeEnabled != nil ||
		p.RetentionPolicyMonths != nil || p.Theme != nil
	return p, changed, nil
}

func (c *SettingsCommand) executeWithStore(store *storage.SQLiteStore) error {
	p, changed, err := c.patch()
	if err != nil {
		return err
	}

	ctx := context.Background()
	var settings *storage.Settings
	if changed {
		settings, err = store.UpdateSettings(ctx, p)
	} else {
		settings, err = store.GetSettings(ctx)
	}
	if err != nil {
		return err
	}

	if c.globals.JSON {
		return writeJSON(os.Stdout, settings)
	}
	if changed {
		fmt.Println("Settings updated")
		fmt.Println()
	}
	fmt.Printf("Data collection:  %s\n", onOffString(settings.DataCollectionEnabled))
	fmt.Printf("Developer mode:   %s\n", onOffString(settings.DevModeEnabled))
	fmt.Printf("Retention:        %d months\n", settings.RetentionPolicyMonths)
	fmt.Printf("Theme:            %s\n", settings.Theme)
	return nil
}

func onOffString(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
