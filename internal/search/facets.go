package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/clause"
	"github.com/runnerr0/trail/internal/fts"
)

// dfChunk bounds the number of terms bound in one document-frequency query.
const dfChunk = 500

// FacetsRequest selects the sessions facets are computed over.
type FacetsRequest struct {
	Query       string      `json:"query,omitempty"`
	Filter      clause.JSON `json:"filter"`
	ChildFilter clause.JSON `json:"childFilter"`
	Size        int         `json:"facetsSize,omitempty" validate:"min=0,max=1000"`
}

// HostFacet is the number of matching sessions on a host.
type HostFacet struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// TermFacet scores a title term within the matching sessions.
type TermFacet struct {
	Value string  `json:"value"`
	Count int64   `json:"count"`
	TF    float64 `json:"tf"`
	IDF   float64 `json:"idf"`
	TFIDF float64 `json:"tfidf"`
}

// FacetsResult holds the top hosts and terms.
type FacetsResult struct {
	Host []HostFacet `json:"host"`
	Term []TermFacet `json:"term"`
}

// QuerySessionFacets returns the most common hosts and the highest
// scoring title terms of the matching sessions.
func (s *Service) QuerySessionFacets(ctx context.Context, req FacetsRequest) (*FacetsResult, error) {
	if req.Size < 0 {
		return nil, apperr.Validation("facets size must not be negative")
	}
	size := req.Size
	if size == 0 {
		size = s.facetsSize
	}

	pred, err := s.where(req.Query, req.Filter.Clause, req.ChildFilter.Clause)
	if err != nil {
		return nil, err
	}

	hosts, err := s.hostFacets(ctx, pred, size)
	if err != nil {
		return nil, err
	}
	if err := s.phaseDone(ctx, "hosts"); err != nil {
		return nil, err
	}

	terms, err := s.termFacets(ctx, pred, size)
	if err != nil {
		return nil, err
	}
	if err := s.phaseDone(ctx, "terms"); err != nil {
		return nil, err
	}

	return &FacetsResult{Host: hosts, Term: terms}, nil
}

func (s *Service) hostFacets(ctx context.Context, pred predicate, size int) ([]HostFacet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.host, COUNT(1) AS n
		FROM session s
		WHERE `+pred.SQL+`
		GROUP BY s.host
		ORDER BY n DESC, s.host
		LIMIT ?`, append(pred.Args, size)...)
	if err != nil {
		return nil, fmt.Errorf("query host facets: %w", err)
	}
	defer rows.Close()

	hosts := []HostFacet{}
	for rows.Next() {
		var h HostFacet
		if err := rows.Scan(&h.Value, &h.Count); err != nil {
			return nil, fmt.Errorf("scan host facet: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// termFacets ranks title terms by tf-idf. Term frequency is relative to all
// title term instances in the matching sessions and document frequency is
// taken over the whole table.
func (s *Service) termFacets(ctx context.Context, pred predicate, size int) ([]TermFacet, error) {
	vocab := `"` + fts.TermIndex.VocabTable() + `"`
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.term, COUNT(1)
		FROM `+vocab+` v
		WHERE v.col = 'title'
		AND v.doc IN (SELECT s.rowid FROM session s WHERE `+pred.SQL+`)
		GROUP BY v.term`, pred.Args...)
	if err != nil {
		return nil, fmt.Errorf("query term instances: %w", err)
	}

	counts := map[string]int64{}
	var instances int64
	err = func() error {
		defer rows.Close()
		for rows.Next() {
			var term string
			var n int64
			if err := rows.Scan(&term, &n); err != nil {
				return fmt.Errorf("scan term instances: %w", err)
			}
			instances += n
			term = norm.NFC.String(term)
			if utf8.RuneCountInString(term) <= 2 || isStopword(term) {
				continue
			}
			counts[term] += n
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return []TermFacet{}, nil
	}
	if err := apperr.CheckAbort(ctx); err != nil {
		return nil, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM session").Scan(&total); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	df, err := s.documentFrequency(ctx, vocab, terms)
	if err != nil {
		return nil, err
	}

	facets := make([]TermFacet, 0, len(terms))
	for _, t := range terms {
		f := TermFacet{Value: t, Count: counts[t]}
		f.TF = float64(f.Count) / float64(instances)
		if d := df[t]; d > 0 && total > 0 {
			f.IDF = math.Log(float64(total) / float64(d))
		}
		f.TFIDF = f.TF * f.IDF
		facets = append(facets, f)
	}
	sort.SliceStable(facets, func(i, j int) bool {
		a, b := facets[i], facets[j]
		if a.TFIDF != b.TFIDF {
			return a.TFIDF > b.TFIDF
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Value < b.Value
	})
	if len(facets) > size {
		facets = facets[:size]
	}
	return facets, nil
}

func (s *Service) documentFrequency(ctx context.Context, vocab string, terms []string) (map[string]int64, error) {
	df := make(map[string]int64, len(terms))
	for start := 0; start < len(terms); start += dfChunk {
		end := min(start+dfChunk, len(terms))
		chunk := terms[start:end]
		args := make([]any, len(chunk))
		for i, t := range chunk {
			args[i] = t
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT term, COUNT(DISTINCT doc)
			FROM `+vocab+`
			WHERE col = 'title' AND term IN (`+marks(len(chunk))+`)
			GROUP BY term`, args...)
		if err != nil {
			return nil, fmt.Errorf("query document frequency: %w", err)
		}
		for rows.Next() {
			var term string
			var n int64
			if err := rows.Scan(&term, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan document frequency: %w", err)
			}
			df[norm.NFC.String(term)] += n
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return df, nil
}
