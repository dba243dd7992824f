package crawler

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/runnerr0/trail/internal/storage"
)

// chromeEpochOffset is the number of microseconds between 1601-01-01, the
// epoch of Chrome history timestamps, and the Unix epoch.
const chromeEpochOffset = 11644473600 * int64(time.Second/time.Microsecond)

// chromeCoreMask extracts the core transition type from a visit's
// transition bit field.
const chromeCoreMask = 0xFF

var chromeTransitions = map[int64]string{
	0:  "link",
	1:  "typed",
	2:  "auto_bookmark",
	3:  "auto_subframe",
	4:  "manual_subframe",
	5:  "generated",
	6:  "start_page",
	7:  "form_submit",
	8:  "reload",
	9:  "keyword",
	10: "keyword_generated",
}

// ToChromeTime converts t to a Chrome history timestamp.
func ToChromeTime(t time.Time) int64 { return t.UnixMicro() + chromeEpochOffset }

// FromChromeTime converts a Chrome history timestamp to UTC time.
func FromChromeTime(v int64) time.Time { return time.UnixMicro(v - chromeEpochOffset).UTC() }

// ChromeTransition names the core transition type of a visit.
func ChromeTransition(v int64) string {
	if name, ok := chromeTransitions[v&chromeCoreMask]; ok {
		return name
	}
	return ""
}

// ChromeHistory reads visits from a Chrome "History" database file.
type ChromeHistory struct {
	db *sql.DB
}

// OpenChromeHistory opens the history file at path read-only. Chrome keeps
// the file locked while running, so the database is opened immutable.
func OpenChromeHistory(path string) (*ChromeHistory, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat history file: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect history file: %w", err)
	}
	return &ChromeHistory{db: db}, nil
}

// Visits returns up to max visits with a visit time in [start, end),
// oldest first.
func (h *ChromeHistory) Visits(ctx context.Context, start, end time.Time, max int) ([]storage.GhostVisit, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT v.id, v.from_visit, u.url, COALESCE(u.title, ''), v.visit_time, v.transition
		FROM visits v
		JOIN urls u ON u.id = v.url
		WHERE v.visit_time >= ? AND v.visit_time < ?
		ORDER BY v.visit_time, v.id
		LIMIT ?`, ToChromeTime(start), ToChromeTime(end), max)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	var out []storage.GhostVisit
	for rows.Next() {
		var (
			id, from, at, transition int64
			url, title               string
		)
		if err := rows.Scan(&id, &from, &url, &title, &at, &transition); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		out = append(out, storage.GhostVisit{
			VisitID:          strconv.FormatInt(id, 10),
			ReferringVisitID: strconv.FormatInt(from, 10),
			URL:              url,
			Title:            title,
			VisitTime:        FromChromeTime(at),
			Transition:       ChromeTransition(transition),
		})
	}
	return out, rows.Err()
}

// Close closes the history file.
func (h *ChromeHistory) Close() error { return h.db.Close() }
