package search

import (
	"fmt"
	"strings"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/clause"
	"github.com/runnerr0/trail/internal/fts"
	"github.com/runnerr0/trail/internal/query"
	"github.com/runnerr0/trail/internal/storage"
)

// tautology matches every indexed row through the dummy column. FTS5 has
// no unary NOT, so a purely negative expression starts from it.
var tautology = fts.DummyColumn + ` : "` + fts.DummyColumn + `"`

var timeFields = map[string]bool{
	"startedAt":         true,
	"endedAt":           true,
	"lastInteractionAt": true,
}

var sessionColumns = func() map[string]bool {
	cols := make(map[string]bool, len(storage.SessionColumns))
	for _, c := range storage.SessionColumns {
		cols[c] = true
	}
	return cols
}()

// predicate is a rendered WHERE fragment for the session table.
type predicate struct {
	SQL  string
	Args []any

	// Positive holds the FTS5 expressions of unnegated MATCH literals, used
	// to highlight results.
	Positive []string
}

// prepare compiles c into a predicate over session rows aliased as alias.
//
// Equality on an indexed column becomes a column-filtered MATCH and fields
// that are not session columns become free-text MATCH. The clause is then
// factored into disjunctive normal form and, within each conjunction, all
// MATCH literals are merged into a single FTS5 expression.
func (s *Service) prepare(c clause.Clause, alias string) (predicate, error) {
	if c == nil {
		return predicate{SQL: "TRUE"}, nil
	}
	rewritten, err := s.rewrite(c)
	if err != nil {
		return predicate{}, err
	}

	var positive []string
	var disjuncts []clause.Clause
	for _, lits := range clause.Disjuncts(rewritten) {
		conj, pos := mergeMatches(lits)
		positive = append(positive, pos...)
		disjuncts = append(disjuncts, conj)
	}

	var dnf clause.Clause
	switch len(disjuncts) {
	case 0:
		dnf = clause.False()
	case 1:
		dnf = disjuncts[0]
	default:
		dnf = clause.OrOf(disjuncts...)
	}

	r := query.Renderer{Alias: alias, MatchTable: fts.SearchIndex.Table, Columns: sessionColumns}
	sql, args, err := r.Render(dnf)
	if err != nil {
		return predicate{}, err
	}
	return predicate{SQL: sql, Args: args, Positive: positive}, nil
}

func (s *Service) rewrite(c clause.Clause) (clause.Clause, error) {
	switch x := c.(type) {
	case clause.Filter:
		return s.rewriteFilter(x)
	case clause.Unary:
		child, err := s.rewrite(x.Clause)
		if err != nil {
			return nil, err
		}
		return clause.Unary{Operator: x.Operator, Clause: child}, nil
	case clause.Aggregate:
		out := make([]clause.Clause, len(x.Clauses))
		for i, child := range x.Clauses {
			rc, err := s.rewrite(child)
			if err != nil {
				return nil, err
			}
			out[i] = rc
		}
		return clause.Aggregate{Operator: x.Operator, Clauses: out}, nil
	default:
		return nil, apperr.Validation("unsupported clause %T", c)
	}
}

func (s *Service) rewriteFilter(f clause.Filter) (clause.Clause, error) {
	switch {
	case f.Field == clause.IndexToken:
		if f.Operator == clause.Equals {
			if v, ok := f.Value.(string); ok {
				return clause.MatchText(v), nil
			}
		}
		return f, nil

	case !sessionColumns[f.Field]:
		return clause.MatchText(query.FieldText(f)), nil

	case f.Operator == clause.Equals && fts.SearchIndex.IsIndexed(f.Field):
		if v, ok := f.Value.(string); ok {
			return clause.Filter{
				Field:    clause.IndexToken,
				Operator: clause.Match,
				Value:    f.Field + " : " + clause.Phrase(v),
			}, nil
		}
		return f, nil

	case timeFields[f.Field]:
		return s.normalizeTime(f)
	}
	return f, nil
}

// normalizeTime rewrites date literals into the stored timestamp format.
func (s *Service) normalizeTime(f clause.Filter) (clause.Clause, error) {
	convert := func(v any) (any, error) {
		str, ok := v.(string)
		if !ok {
			return v, nil
		}
		t, err := query.ParseDate(str, s.loc)
		if err != nil {
			return nil, err
		}
		return storage.FormatTime(t), nil
	}

	if list, ok := f.Value.([]any); ok {
		out := make([]any, len(list))
		for i, v := range list {
			cv, err := convert(v)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		f.Value = out
		return f, nil
	}
	v, err := convert(f.Value)
	if err != nil {
		return nil, err
	}
	f.Value = v
	return f, nil
}

// mergeMatches folds the MATCH literals of one conjunction into a single
// MATCH filter. Positive expressions are ANDed and negated ones appended
// with NOT.
func mergeMatches(lits []clause.Clause) (clause.Clause, []string) {
	var pos, neg []string
	rest := make([]clause.Clause, 0, len(lits))
	for _, lit := range lits {
		switch x := lit.(type) {
		case clause.Filter:
			if x.Operator == clause.Match {
				pos = append(pos, fmt.Sprint(x.Value))
				continue
			}
		case clause.Unary:
			if f, ok := x.Clause.(clause.Filter); ok && f.Operator == clause.Match {
				neg = append(neg, fmt.Sprint(f.Value))
				continue
			}
		}
		rest = append(rest, lit)
	}

	if len(pos) > 0 || len(neg) > 0 {
		var b strings.Builder
		if len(pos) == 0 {
			b.WriteString(tautology)
		}
		for i, p := range pos {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString("(" + p + ")")
		}
		for _, n := range neg {
			b.WriteString(" NOT (" + n + ")")
		}
		rest = append(rest, clause.Filter{Field: clause.IndexToken, Operator: clause.Match, Value: b.String()})
	}

	switch len(rest) {
	case 1:
		return rest[0], pos
	default:
		return clause.AndOf(rest...), pos
	}
}
