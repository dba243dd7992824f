package query

import (
	"fmt"
	"strings"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/clause"
)

// Renderer turns a clause into a parameterized SQL predicate.
//
// All values are bound as ? parameters, never interpolated. MATCH filters
// render as a row-id subquery against MatchTable so they can appear under
// NOT and OR.
type Renderer struct {
	// Alias qualifies column references, e.g. "s" gives s."url".
	Alias string

	// MatchTable is the full-text table MATCH filters run against.
	MatchTable string

	// Columns, when set, restricts which fields may be referenced.
	Columns map[string]bool
}

// Render returns the predicate for c and its bound arguments.
func (r Renderer) Render(c clause.Clause) (string, []any, error) {
	var args []any
	sql, err := r.render(c, &args)
	if err != nil {
		return "", nil, err
	}
	return sql, args, nil
}

func (r Renderer) render(c clause.Clause, args *[]any) (string, error) {
	switch x := c.(type) {
	case clause.Filter:
		return r.renderFilter(x, args)
	case clause.Unary:
		if x.Operator != clause.Not {
			return "", apperr.Validation("unsupported unary operator %q", x.Operator)
		}
		inner, err := r.render(x.Clause, args)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case clause.Aggregate:
		if len(x.Clauses) == 0 {
			switch x.Operator {
			case clause.And:
				return "TRUE", nil
			case clause.Or:
				return "FALSE", nil
			}
			return "", apperr.Validation("unsupported aggregate operator %q", x.Operator)
		}
		if !x.Operator.IsAggregate() {
			return "", apperr.Validation("unsupported aggregate operator %q", x.Operator)
		}
		parts := make([]string, len(x.Clauses))
		for i, child := range x.Clauses {
			part, err := r.render(child, args)
			if err != nil {
				return "", err
			}
			parts[i] = part
		}
		return "(" + strings.Join(parts, " "+string(x.Operator)+" ") + ")", nil
	case nil:
		return "TRUE", nil
	default:
		return "", apperr.Validation("unsupported clause type %T", c)
	}
}

func (r Renderer) renderFilter(f clause.Filter, args *[]any) (string, error) {
	if f.Operator == clause.Match {
		if f.Field != clause.IndexToken {
			return "", apperr.Validation("MATCH is only valid on %q", clause.IndexToken)
		}
		if r.MatchTable == "" {
			return "", apperr.Validation("full-text search is not available here")
		}
		*args = append(*args, f.Value)
		table := quoteIdent(r.MatchTable)
		return fmt.Sprintf("%s IN (SELECT rowid FROM %s WHERE %s MATCH ?)", r.column("rowid"), table, table), nil
	}

	if f.Field == clause.IndexToken {
		return "", apperr.Validation("operator %s is not valid on %q", f.Operator, clause.IndexToken)
	}
	if !isIdent(f.Field) {
		return "", apperr.Validation("invalid field name %q", f.Field)
	}
	if r.Columns != nil && !r.Columns[f.Field] {
		return "", apperr.Validation("unknown field %q", f.Field)
	}
	col := r.column(quoteIdent(f.Field))

	switch f.Operator {
	case clause.Equals, clause.NotEquals:
		if f.Value == nil {
			if f.Operator == clause.Equals {
				return col + " IS NULL", nil
			}
			return col + " IS NOT NULL", nil
		}
		*args = append(*args, f.Value)
		return col + " " + string(f.Operator) + " ?", nil
	case clause.GreaterThan, clause.GreaterThanOrEqual, clause.LessThan, clause.LessThanOrEqual:
		*args = append(*args, f.Value)
		return col + " " + string(f.Operator) + " ?", nil
	case clause.In, clause.NotIn:
		values, ok := f.Value.([]any)
		if !ok {
			return "", apperr.Validation("%s on %s requires a list", f.Operator, f.Field)
		}
		if len(values) == 0 {
			if f.Operator == clause.In {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = "?"
			*args = append(*args, v)
		}
		return col + " " + string(f.Operator) + " (" + strings.Join(marks, ", ") + ")", nil
	default:
		return "", apperr.Validation("unsupported operator %q", f.Operator)
	}
}

func (r Renderer) column(name string) string {
	if r.Alias == "" {
		return name
	}
	return r.Alias + "." + name
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
