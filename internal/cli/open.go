package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/storage"
)

// Execute implements the go-flags Commander interface for OpenCommand.
func (c *OpenCommand) Execute(args []string) error {
	if c.ID == "" {
		return fmt.Errorf("--id is required for open command")
	}
	return c.globals.withStore(c.executeWithStore)
}

func (c *OpenCommand) executeWithStore(store *storage.SQLiteStore) error {
	session, err := store.GetSession(context.Background(), c.ID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return fmt.Errorf("session not found: %s", c.ID)
		}
		return err
	}

	if c.globals.JSON {
		return writeJSON(os.Stdout, session)
	}

	switch c.Format {
	case "url":
		fmt.Println(session.RawURL)
	case "title":
		fmt.Println(session.Title)
	case "json":
		return writeJSON(os.Stdout, session)
	default: // "full"
		c.outputFull(session)
	}
	return nil
}

func (c *OpenCommand) outputFull(s *storage.SessionWithChildren) {
	fmt.Println(s.ID)
	fmt.Printf("Title:        %s\n", s.Title)
	fmt.Printf("URL:          %s\n", s.RawURL)
	fmt.Printf("Host:         %s\n", s.Host)
	fmt.Printf("Started:      %s\n", s.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if s.EndedAt != nil {
		fmt.Printf("Ended:        %s (%s)\n", s.EndedAt.Local().Format("2006-01-02 15:04:05"), s.EndedAt.Sub(s.StartedAt).Round(time.Second))
	} else {
		fmt.Println("Ended:        still open")
	}
	if s.TabID == storage.GhostTabID {
		fmt.Println("Tab:          from browser history")
	} else {
		fmt.Printf("Tab:          %d\n", s.TabID)
	}
	if s.TransitionType != "" {
		fmt.Printf("Transition:   %s\n", s.TransitionType)
	}
	fmt.Printf("Interactions: %d\n", s.InteractionCount)
	if s.ParentSessionID != "" {
		fmt.Printf("Opened from:  %s\n", s.ParentSessionID)
	}
	if s.NextSessionID != "" {
		fmt.Printf("Followed by:  %s\n", s.NextSessionID)
	}

	fmt.Println()
	fmt.Println("--- Opened from here ---")
	if len(s.Children) == 0 {
		fmt.Println("None")
		return
	}
	for _, child := range s.Children {
		title := child.Title
		if title == "" {
			title = child.URL
		}
		fmt.Printf("  %s  %s\n", child.StartedAt.Local().Format("2006-01-02 15:04"), title)
		fmt.Printf("      %s\n", child.ID)
	}
}
