// Package clause implements the boolean expression tree used to filter
// sessions.
//
// Clause is a sealed interface. Only Filter, Unary and Aggregate implement
// it, so type switches over a Clause are exhaustive:
//
//   - Filter:    field <op> value, op one of = != > >= < <= IN "NOT IN" MATCH
//   - Unary:     NOT clause
//   - Aggregate: AND/OR over zero or more clauses
//
// An Aggregate with no clauses is the identity of its operator: AND() is
// true and OR() is false.
package clause

import (
	"fmt"
	"strings"
)

// IndexToken is the pseudo-field standing for the whole indexed document.
// MATCH filters are only valid against it.
const IndexToken = "index"

// Operator names a clause operator.
type Operator string

const (
	Equals             Operator = "="
	NotEquals          Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	In                 Operator = "IN"
	NotIn              Operator = "NOT IN"
	Match              Operator = "MATCH"

	Not Operator = "NOT"

	And Operator = "AND"
	Or  Operator = "OR"
)

// IsBinary reports whether o is a Filter operator.
func (o Operator) IsBinary() bool {
	switch o {
	case Equals, NotEquals, GreaterThan, GreaterThanOrEqual, LessThan, LessThanOrEqual, In, NotIn, Match:
		return true
	}
	return false
}

// IsAggregate reports whether o is AND or OR.
func (o Operator) IsAggregate() bool { return o == And || o == Or }

// Clause is a node of the expression tree.
type Clause interface {
	clauseNode()
	String() string
}

// Filter compares a session field with a value.
type Filter struct {
	Field    string
	Operator Operator
	Value    any
}

// Unary negates its child. NOT is the only unary operator.
type Unary struct {
	Operator Operator
	Clause   Clause
}

// Aggregate joins its children with AND or OR.
type Aggregate struct {
	Operator Operator
	Clauses  []Clause
}

func (Filter) clauseNode()    {}
func (Unary) clauseNode()     {}
func (Aggregate) clauseNode() {}

func (f Filter) String() string {
	return fmt.Sprintf("%s(%s, %s)", f.Operator, f.Field, formatValue(f.Value))
}

func (u Unary) String() string {
	if u.Clause == nil {
		return "NOT(<nil>)"
	}
	return "NOT(" + u.Clause.String() + ")"
}

func (a Aggregate) String() string {
	parts := make([]string, len(a.Clauses))
	for i, c := range a.Clauses {
		parts[i] = c.String()
	}
	return string(a.Operator) + "(" + strings.Join(parts, ", ") + ")"
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Eq builds field = value.
func Eq(field string, value any) Filter { return Filter{Field: field, Operator: Equals, Value: value} }

// Ne builds field != value.
func Ne(field string, value any) Filter { return Filter{Field: field, Operator: NotEquals, Value: value} }

// Gt builds field > value.
func Gt(field string, value any) Filter { return Filter{Field: field, Operator: GreaterThan, Value: value} }

// Ge builds field >= value.
func Ge(field string, value any) Filter {
	return Filter{Field: field, Operator: GreaterThanOrEqual, Value: value}
}

// Lt builds field < value.
func Lt(field string, value any) Filter { return Filter{Field: field, Operator: LessThan, Value: value} }

// Le builds field <= value.
func Le(field string, value any) Filter {
	return Filter{Field: field, Operator: LessThanOrEqual, Value: value}
}

// InList builds field IN (values...).
func InList(field string, values ...any) Filter {
	return Filter{Field: field, Operator: In, Value: values}
}

// NotInList builds field NOT IN (values...).
func NotInList(field string, values ...any) Filter {
	return Filter{Field: field, Operator: NotIn, Value: values}
}

// MatchText builds a MATCH on the index token for the literal text s,
// quoted as a phrase.
func MatchText(s string) Filter {
	return Filter{Field: IndexToken, Operator: Match, Value: Phrase(s)}
}

// Phrase quotes s as a full-text phrase literal, doubling inner quotes.
func Phrase(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// NotOf negates c.
func NotOf(c Clause) Unary { return Unary{Operator: Not, Clause: c} }

// AndOf joins cs with AND.
func AndOf(cs ...Clause) Aggregate {
	if cs == nil {
		cs = []Clause{}
	}
	return Aggregate{Operator: And, Clauses: cs}
}

// OrOf joins cs with OR.
func OrOf(cs ...Clause) Aggregate {
	if cs == nil {
		cs = []Clause{}
	}
	return Aggregate{Operator: Or, Clauses: cs}
}

// True is the empty AND.
func True() Aggregate { return AndOf() }

// False is the empty OR.
func False() Aggregate { return OrOf() }

// Combine ANDs the non-nil clauses in cs. A single clause is returned as is.
func Combine(cs ...Clause) Clause {
	var out []Clause
	for _, c := range cs {
		if c != nil {
			out = append(out, c)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return AndOf(out...)
}

// MapFilters rebuilds c with every Filter replaced by fn(filter).
func MapFilters(c Clause, fn func(Filter) Clause) Clause {
	switch x := c.(type) {
	case Filter:
		return fn(x)
	case Unary:
		return Unary{Operator: x.Operator, Clause: MapFilters(x.Clause, fn)}
	case Aggregate:
		out := make([]Clause, len(x.Clauses))
		for i, child := range x.Clauses {
			out[i] = MapFilters(child, fn)
		}
		return Aggregate{Operator: x.Operator, Clauses: out}
	default:
		return c
	}
}

// Validate checks operator placement across the whole tree.
func Validate(c Clause) error {
	switch x := c.(type) {
	case Filter:
		if !x.Operator.IsBinary() {
			return fmt.Errorf("invalid filter operator %q", x.Operator)
		}
		if x.Field == "" {
			return fmt.Errorf("filter with empty field")
		}
		if x.Operator == Match && x.Field != IndexToken {
			return fmt.Errorf("MATCH is only valid on %q, got %q", IndexToken, x.Field)
		}
		if x.Operator == In || x.Operator == NotIn {
			if _, ok := x.Value.([]any); !ok {
				return fmt.Errorf("%s on %s requires a list value", x.Operator, x.Field)
			}
		}
		return nil
	case Unary:
		if x.Operator != Not {
			return fmt.Errorf("invalid unary operator %q", x.Operator)
		}
		if x.Clause == nil {
			return fmt.Errorf("NOT without operand")
		}
		return Validate(x.Clause)
	case Aggregate:
		if !x.Operator.IsAggregate() {
			return fmt.Errorf("invalid aggregate operator %q", x.Operator)
		}
		for _, child := range x.Clauses {
			if err := Validate(child); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return fmt.Errorf("nil clause")
	default:
		return fmt.Errorf("unsupported clause type %T", c)
	}
}
