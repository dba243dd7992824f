package search

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/clause"
	"github.com/runnerr0/trail/internal/storage"
)

// Granularity is the bucket size of a timeline.
type Granularity string

const (
	GranularityAuto  Granularity = "auto"
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

var granularities = []struct {
	name     Granularity
	format   string
	interval time.Duration
}{
	{GranularityHour, "%Y-%m-%dT%H", time.Hour},
	{GranularityDay, "%Y-%m-%d", 24 * time.Hour},
	{GranularityWeek, "%Y-%W", 7 * 24 * time.Hour},
	{GranularityMonth, "%Y-%m", 30 * 24 * time.Hour},
}

func timeFormat(g Granularity) (string, bool) {
	for _, gr := range granularities {
		if gr.name == g {
			return gr.format, true
		}
	}
	return "", false
}

// TimelineRequest selects the sessions to bucket.
type TimelineRequest struct {
	Query       string      `json:"query,omitempty"`
	Filter      clause.JSON `json:"filter"`
	ChildFilter clause.JSON `json:"childFilter"`
	Granularity Granularity `json:"granularity,omitempty" validate:"omitempty,oneof=auto hour day week month"`
	MaxBuckets  int         `json:"maxBuckets,omitempty" validate:"min=0"`
}

// Bucket is the number of sessions started within one time bucket.
type Bucket struct {
	DateString string `json:"dateString"`
	Count      int64  `json:"count"`
}

// TimelineResult is a histogram of session start times.
type TimelineResult struct {
	Granularity Granularity `json:"granularity"`
	Timeline    []Bucket    `json:"timeline"`
}

// QuerySessionTimeline counts matching sessions per time bucket, oldest
// bucket first.
func (s *Service) QuerySessionTimeline(ctx context.Context, req TimelineRequest) (*TimelineResult, error) {
	maxBuckets := req.MaxBuckets
	if maxBuckets <= 0 {
		maxBuckets = s.maxBuckets
	}

	pred, err := s.where(req.Query, req.Filter.Clause, req.ChildFilter.Clause)
	if err != nil {
		return nil, err
	}

	g := req.Granularity
	if g == "" || g == GranularityAuto {
		g, err = s.autoGranularity(ctx, pred, maxBuckets)
		if err != nil {
			return nil, err
		}
		if err := s.phaseDone(ctx, "range"); err != nil {
			return nil, err
		}
	}
	format, ok := timeFormat(g)
	if !ok {
		return nil, apperr.Validation("unknown granularity %q", req.Granularity)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime(?, s.startedAt, ?) AS bucket, COUNT(1)
		FROM session s
		WHERE `+pred.SQL+`
		GROUP BY bucket
		ORDER BY bucket`, append([]any{format, s.zoneModifier()}, pred.Args...)...)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	out := &TimelineResult{Granularity: g, Timeline: []Bucket{}}
	for rows.Next() {
		var b Bucket
		var date sql.NullString
		if err := rows.Scan(&date, &b.Count); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		b.DateString = date.String
		out.Timeline = append(out.Timeline, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.phaseDone(ctx, "timeline"); err != nil {
		return nil, err
	}
	return out, nil
}

// zoneModifier shifts UTC timestamps into the service's zone, using the
// zone's current offset.
func (s *Service) zoneModifier() string {
	_, offset := time.Now().In(s.loc).Zone()
	return fmt.Sprintf("%+d seconds", offset)
}

// autoGranularity picks the finest granularity whose bucket count over the
// filtered time range stays within maxBuckets, falling back to month.
func (s *Service) autoGranularity(ctx context.Context, pred predicate, maxBuckets int) (Granularity, error) {
	var lo, hi sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MIN(s.startedAt), MAX(s.startedAt) FROM session s WHERE "+pred.SQL, pred.Args...).Scan(&lo, &hi)
	if err != nil {
		return "", fmt.Errorf("query time range: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return pickGranularity(0, maxBuckets), nil
	}
	from, err := storage.ParseTime(lo.String)
	if err != nil {
		return "", err
	}
	to, err := storage.ParseTime(hi.String)
	if err != nil {
		return "", err
	}
	return pickGranularity(to.Sub(from), maxBuckets), nil
}

func pickGranularity(span time.Duration, maxBuckets int) Granularity {
	for _, gr := range granularities {
		if int64(span/gr.interval)+1 <= int64(maxBuckets) {
			return gr.name
		}
	}
	return GranularityMonth
}
