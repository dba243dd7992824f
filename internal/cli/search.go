package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/runnerr0/trail/internal/clause"
	"github.com/runnerr0/trail/internal/query"
	"github.com/runnerr0/trail/internal/search"
	"github.com/runnerr0/trail/internal/storage"
)

// Execute implements the go-flags Commander interface for SearchCommand.
func (c *SearchCommand) Execute(args []string) error {
	return c.globals.withStore(func(store *storage.SQLiteStore) error {
		return c.executeWithStore(store, args)
	})
}

// executeWithStore runs the search against a provided store (for testing).
func (c *SearchCommand) executeWithStore(store *storage.SQLiteStore, args []string) error {
	q := strings.Join(args, " ")

	filter, err := timeRange(time.Now(), c.Since, c.Until)
	if err != nil {
		return err
	}
	if len(c.Host) > 0 {
		hosts := make([]any, len(c.Host))
		for i, h := range c.Host {
			hosts[i] = strings.ToLower(h)
		}
		filter = clause.Combine(filter, clause.InList("host", hosts...))
	}

	req := search.Request{
		Query:    q,
		Filter:   clause.JSON{Clause: filter},
		IsSearch: c.Annotate,
		Skip:     c.Offset,
		Limit:    c.Limit,
	}
	if c.ChildFilter != "" {
		child, err := query.Parse(c.ChildFilter)
		if err != nil {
			return fmt.Errorf("invalid --child query: %w", err)
		}
		req.ChildFilter = clause.JSON{Clause: child}
	}

	res, err := c.globals.searchService(store).QuerySessions(context.Background(), req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if c.globals.JSON {
		return writeJSON(os.Stdout, res)
	}
	return c.printHuman(q, res)
}

func (c *SearchCommand) printHuman(q string, res *search.Result) error {
	if len(res.Results) == 0 {
		if q != "" {
			fmt.Printf("No results found for %q (since %s)\n", q, c.Since)
		} else {
			fmt.Printf("No results found (since %s)\n", c.Since)
		}
		return nil
	}

	resultWord := "results"
	if res.TotalCount == 1 {
		resultWord = "result"
	}
	if q != "" {
		fmt.Printf("Found %d %s for %q (since %s)\n\n", res.TotalCount, resultWord, q, c.Since)
	} else {
		fmt.Printf("Found %d %s (since %s)\n\n", res.TotalCount, resultWord, c.Since)
	}

	for i, r := range res.Results {
		title := r.Title
		if r.Highlight != nil && r.Highlight.Title != "" {
			title = unmark(r.Highlight.Title)
		}
		if title == "" {
			title = r.URL
		}
		fmt.Printf("%d. %s", i+1+c.Offset, title)
		if r.Host != "" {
			fmt.Printf(" · %s", r.Host)
		}
		fmt.Println()

		fmt.Printf("   %s\n", r.RawURL)

		meta := r.StartedAt.Local().Format("2006-01-02 15:04")
		if r.TransitionType != "" {
			meta += " · " + r.TransitionType
		}
		if r.TabID == storage.GhostTabID {
			meta += " · history"
		}
		if r.ChildCount > 0 {
			meta += fmt.Sprintf(" · %d opened from here", r.ChildCount)
		}
		fmt.Printf("   %s\n", meta)
		fmt.Printf("   id: %s\n", r.ID)

		if i < len(res.Results)-1 {
			fmt.Println()
		}
	}

	return nil
}

// unmark replaces highlight markers with terminal-friendly brackets.
func unmark(s string) string {
	return strings.NewReplacer(search.HighlightOpen, "[", search.HighlightClose, "]").Replace(s)
}

// Execute implements the go-flags Commander interface for FacetsCommand.
func (c *FacetsCommand) Execute(args []string) error {
	return c.globals.withStore(func(store *storage.SQLiteStore) error {
		return c.executeWithStore(store, args)
	})
}

func (c *FacetsCommand) executeWithStore(store *storage.SQLiteStore, args []string) error {
	filter, err := timeRange(time.Now(), c.Since, "")
	if err != nil {
		return err
	}
	res, err := c.globals.searchService(store).QuerySessionFacets(context.Background(), search.FacetsRequest{
		Query:  strings.Join(args, " "),
		Filter: clause.JSON{Clause: filter},
		Size:   c.Size,
	})
	if err != nil {
		return fmt.Errorf("facets failed: %w", err)
	}

	if c.globals.JSON {
		return writeJSON(os.Stdout, res)
	}

	fmt.Println("Hosts:")
	if len(res.Host) == 0 {
		fmt.Println("  (none)")
	}
	for _, h := range res.Host {
		fmt.Printf("  %-28s %s\n", h.Value, formatNumber(h.Count))
	}
	fmt.Println()
	fmt.Println("Terms:")
	if len(res.Term) == 0 {
		fmt.Println("  (none)")
	}
	for _, t := range res.Term {
		fmt.Printf("  %-28s %6s  tf-idf %.4f\n", t.Value, formatNumber(t.Count), t.TFIDF)
	}
	return nil
}

// Execute implements the go-flags Commander interface for TimelineCommand.
func (c *TimelineCommand) Execute(args []string) error {
	return c.globals.withStore(func(store *storage.SQLiteStore) error {
		return c.executeWithStore(store, args)
	})
}

func (c *TimelineCommand) executeWithStore(store *storage.SQLiteStore, args []string) error {
	filter, err := timeRange(time.Now(), c.Since, "")
	if err != nil {
		return err
	}
	res, err := c.globals.searchService(store).QuerySessionTimeline(context.Background(), search.TimelineRequest{
		Query:       strings.Join(args, " "),
		Filter:      clause.JSON{Clause: filter},
		Granularity: search.Granularity(c.Granularity),
		MaxBuckets:  c.MaxBuckets,
	})
	if err != nil {
		return fmt.Errorf("timeline failed: %w", err)
	}

	if c.globals.JSON {
		return writeJSON(os.Stdout, res)
	}

	var peak int64
	for _, b := range res.Timeline {
		peak = max(peak, b.Count)
	}
	fmt.Printf("Sessions per %s\n\n", res.Granularity)
	if len(res.Timeline) == 0 {
		fmt.Println("  (no sessions)")
		return nil
	}
	const width = 40
	for _, b := range res.Timeline {
		bar := int(b.Count * width / peak)
		if bar == 0 && b.Count > 0 {
			bar = 1
		}
		fmt.Printf("  %-14s %6s %s\n", b.DateString, formatNumber(b.Count), strings.Repeat("#", bar))
	}
	return nil
}
