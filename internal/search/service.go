// Package search runs session queries, host and term facets, and
// timelines over the session log.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/clause"
	"github.com/runnerr0/trail/internal/fts"
	"github.com/runnerr0/trail/internal/query"
	"github.com/runnerr0/trail/internal/storage"
)

// Highlight markers wrapped around matched text.
const (
	HighlightOpen  = "{~{~{"
	HighlightClose = "}~}~}"
)

const (
	defaultLimit      = 100
	defaultFacetsSize = 25
	defaultMaxBuckets = 100
)

// Service answers read queries against the session table.
type Service struct {
	db         *sql.DB
	log        *slog.Logger
	loc        *time.Location
	stopHosts  []string
	limit      int
	facetsSize int
	maxBuckets int

	// afterPhase, when set, is called after each completed query phase.
	afterPhase func(phase string)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithLocation sets the zone date literals are read in and timeline
// buckets are cut in.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

// WithStopHosts excludes sessions on hosts from every result.
func WithStopHosts(hosts []string) Option { return func(s *Service) { s.stopHosts = hosts } }

// WithDefaultLimit sets the page size used when a request has none.
func WithDefaultLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithFacetsSize sets how many hosts and terms facets return by default.
func WithFacetsSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.facetsSize = n
		}
	}
}

// WithMaxBuckets sets the default bucket ceiling for automatic granularity.
func WithMaxBuckets(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBuckets = n
		}
	}
}

// New returns a Service reading from db.
func New(db *sql.DB, opts ...Option) *Service {
	s := &Service{
		db:         db,
		log:        slog.Default(),
		loc:        time.Local,
		limit:      defaultLimit,
		facetsSize: defaultFacetsSize,
		maxBuckets: defaultMaxBuckets,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request selects sessions by query string and clause.
type Request struct {
	Query       string      `json:"query,omitempty"`
	Filter      clause.JSON `json:"filter"`
	ChildFilter clause.JSON `json:"childFilter"`
	IsSearch    bool        `json:"isSearch,omitempty"`
	Skip        int         `json:"skip,omitempty" validate:"min=0"`
	Limit       int         `json:"limit,omitempty" validate:"min=0,max=10000"`
}

// Highlight holds marked-up copies of the matched columns.
type Highlight struct {
	Title string `json:"title,omitempty"`
	Host  string `json:"host,omitempty"`
	URL   string `json:"url,omitempty"`
}

// SessionResult is a session with search annotations.
type SessionResult struct {
	storage.Session
	ChildCount       int64            `json:"childCount,omitempty"`
	ChildTransitions map[string]int64 `json:"childTransitions,omitempty"`
	Highlight        *Highlight       `json:"highlight,omitempty"`
}

// Result is one page of sessions and the total match count.
type Result struct {
	TotalCount int64           `json:"totalCount"`
	Results    []SessionResult `json:"results"`
}

func (s *Service) phaseDone(ctx context.Context, phase string) error {
	if s.afterPhase != nil {
		s.afterPhase(phase)
	}
	return apperr.CheckAbort(ctx)
}

// where compiles the query string, filter and child filter of a request
// into a predicate over session rows aliased "s".
func (s *Service) where(q string, filter, childFilter clause.Clause) (predicate, error) {
	parsed, err := parseQuery(q)
	if err != nil {
		return predicate{}, err
	}
	pred, err := s.prepare(clause.Combine(parsed, filter), "s")
	if err != nil {
		return predicate{}, err
	}

	parts := []string{pred.SQL}
	args := pred.Args

	if childFilter != nil {
		child, err := s.prepare(childFilter, "c")
		if err != nil {
			return predicate{}, err
		}
		parts = append(parts, "EXISTS (SELECT 1 FROM session c WHERE c.parentSessionId = s.id AND "+child.SQL+")")
		args = append(args, child.Args...)
	}

	if len(s.stopHosts) > 0 {
		parts = append(parts, `s."host" NOT IN (`+marks(len(s.stopHosts))+`)`)
		for _, h := range s.stopHosts {
			args = append(args, h)
		}
	}

	return predicate{SQL: strings.Join(parts, " AND "), Args: args, Positive: pred.Positive}, nil
}

func parseQuery(q string) (clause.Clause, error) {
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}
	return query.Parse(q)
}

// QuerySessions returns the requested page of matching sessions, newest
// first, and the total number of matches.
func (s *Service) QuerySessions(ctx context.Context, req Request) (*Result, error) {
	if req.Skip < 0 || req.Limit < 0 {
		return nil, apperr.Validation("skip and limit must not be negative")
	}
	limit := req.Limit
	if limit == 0 {
		limit = s.limit
	}

	pred, err := s.where(req.Query, req.Filter.Clause, req.ChildFilter.Clause)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+storage.SessionSelect("s")+" FROM session s WHERE "+pred.SQL+
			" ORDER BY s.startedAt DESC, s.rowid DESC LIMIT ? OFFSET ?",
		append(pred.Args, limit, req.Skip)...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	results, err := collectResults(rows)
	if err != nil {
		return nil, err
	}
	if err := s.phaseDone(ctx, "rows"); err != nil {
		return nil, err
	}

	out := &Result{Results: results}
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM session s WHERE "+pred.SQL, pred.Args...).Scan(&out.TotalCount)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if err := s.phaseDone(ctx, "count"); err != nil {
		return nil, err
	}

	if !req.IsSearch || len(results) == 0 {
		return out, nil
	}

	if err := s.childCounts(ctx, results); err != nil {
		return nil, err
	}
	if err := s.phaseDone(ctx, "children"); err != nil {
		return nil, err
	}

	if err := s.highlight(ctx, results, pred.Positive); err != nil {
		return nil, err
	}
	if err := s.phaseDone(ctx, "highlight"); err != nil {
		return nil, err
	}
	return out, nil
}

func collectResults(rows *sql.Rows) ([]SessionResult, error) {
	defer rows.Close()
	results := []SessionResult{}
	for rows.Next() {
		sess, err := storage.ScanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		results = append(results, SessionResult{Session: sess})
	}
	return results, rows.Err()
}

func resultIDs(results []SessionResult) ([]any, map[string]*SessionResult) {
	ids := make([]any, len(results))
	byID := make(map[string]*SessionResult, len(results))
	for i := range results {
		ids[i] = results[i].ID
		byID[results[i].ID] = &results[i]
	}
	return ids, byID
}

// childCounts annotates each result with its number of direct children
// and their transition types.
func (s *Service) childCounts(ctx context.Context, results []SessionResult) error {
	ids, byID := resultIDs(results)
	rows, err := s.db.QueryContext(ctx, `
		SELECT parentSessionId, COALESCE(transitionType, ''), COUNT(1)
		FROM session
		WHERE parentSessionId IN (`+marks(len(ids))+`)
		GROUP BY parentSessionId, transitionType`, ids...)
	if err != nil {
		return fmt.Errorf("query child counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var parent, transition string
		var n int64
		if err := rows.Scan(&parent, &transition, &n); err != nil {
			return fmt.Errorf("scan child counts: %w", err)
		}
		r := byID[parent]
		if r == nil {
			continue
		}
		if r.ChildTransitions == nil {
			r.ChildTransitions = map[string]int64{}
		}
		r.ChildCount += n
		r.ChildTransitions[transition] += n
	}
	return rows.Err()
}

// highlight marks the matched parts of title, host and url for results
// matched by a positive full-text term.
func (s *Service) highlight(ctx context.Context, results []SessionResult, positive []string) error {
	if len(positive) == 0 {
		return nil
	}
	terms := make([]string, len(positive))
	for i, p := range positive {
		terms[i] = "(" + p + ")"
	}

	ix := fts.SearchIndex
	hl := func(col string) string {
		return fmt.Sprintf("highlight(%s, %d, '%s', '%s')", ix.Table, ix.ColumnIndex(col), HighlightOpen, HighlightClose)
	}
	ids, byID := resultIDs(results)
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, "+hl("title")+", "+hl("host")+", "+hl("url")+
			" FROM "+ix.Table+" WHERE "+ix.Table+" MATCH ? AND id IN ("+marks(len(ids))+")",
		append([]any{strings.Join(terms, " OR ")}, ids...)...)
	if err != nil {
		return fmt.Errorf("query highlights: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var title, host, url sql.NullString
		if err := rows.Scan(&id, &title, &host, &url); err != nil {
			return fmt.Errorf("scan highlights: %w", err)
		}
		if r := byID[id]; r != nil {
			r.Highlight = &Highlight{Title: title.String, Host: host.String, URL: url.String}
		}
	}
	return rows.Err()
}

func marks(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
