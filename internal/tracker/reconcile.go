package tracker

import (
	"context"
	"log/slog"
	"slices"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/storage"
)

// LiveTab is a tab currently open in the browser.
type LiveTab struct {
	ID    int64  `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ReconcileReport lists the tabs a reconciliation pass repaired.
type ReconcileReport struct {
	Closed  []int64 `json:"closed"`
	Opened  []int64 `json:"opened"`
	Updated []int64 `json:"updated"`
	// Deduplicated lists tabs that had more than one open session.
	Deduplicated []int64 `json:"deduplicated"`
}

// Reconcile brings the open sessions in line with the browser's live tabs.
// Sessions open on tabs that no longer exist are closed. Live tabs without
// an open session get one, and tabs whose session shows another URL are
// moved to their current URL. When a tab has several open sessions the
// newest is kept and the others are closed.
func Reconcile(ctx context.Context, store SessionStore, live []LiveTab, log *slog.Logger) (*ReconcileReport, error) {
	if log == nil {
		log = slog.Default()
	}
	open, err := store.OpenSessions(ctx)
	if err != nil {
		return nil, err
	}
	// OpenSessions lists each tab's newest session first.
	byTab := make(map[int64]storage.Session, len(open))
	extras := make(map[int64][]string)
	for _, s := range open {
		if _, ok := byTab[s.TabID]; ok {
			extras[s.TabID] = append(extras[s.TabID], s.ID)
			continue
		}
		byTab[s.TabID] = s
	}
	liveTabs := make(map[int64]bool, len(live))
	for _, t := range live {
		liveTabs[t.ID] = true
	}

	report := &ReconcileReport{Closed: []int64{}, Opened: []int64{}, Updated: []int64{}, Deduplicated: []int64{}}
	for tabID, ids := range extras {
		log.Warn("more than one open session for tab",
			"code", apperr.CodeReconciliation, "tab_id", tabID, "kept", byTab[tabID].ID, "extra", ids)
		report.Deduplicated = append(report.Deduplicated, tabID)
	}
	slices.Sort(report.Deduplicated)

	for tabID, s := range byTab {
		if liveTabs[tabID] {
			continue
		}
		if err := apperr.CheckAbort(ctx); err != nil {
			return nil, err
		}
		log.Warn("closing session of missing tab",
			"code", apperr.CodeReconciliation, "tab_id", tabID, "session_id", s.ID)
		if err := store.TabClosed(ctx, tabID); err != nil {
			return nil, err
		}
		report.Closed = append(report.Closed, tabID)
	}

	for _, tab := range live {
		if tab.URL == "" {
			continue
		}
		s, ok := byTab[tab.ID]
		// The store closes a tab's extra open sessions on every transition,
		// so duplicated tabs go through TabChanged even when the URL matches.
		if ok && s.URL == storage.CleanURL(tab.URL) && len(extras[tab.ID]) == 0 {
			continue
		}
		if err := apperr.CheckAbort(ctx); err != nil {
			return nil, err
		}
		if err := store.TabChanged(ctx, storage.TabChange{TabID: tab.ID, URL: tab.URL, Title: tab.Title}); err != nil {
			return nil, err
		}
		switch {
		case ok && s.URL == storage.CleanURL(tab.URL):
		case ok:
			report.Updated = append(report.Updated, tab.ID)
		default:
			log.Warn("opening session for untracked tab",
				"code", apperr.CodeReconciliation, "tab_id", tab.ID, "url", tab.URL)
			report.Opened = append(report.Opened, tab.ID)
		}
	}
	return report, nil
}
