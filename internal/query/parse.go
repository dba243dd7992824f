// Package query compiles the textual search language into clauses and
// renders clauses into parameterized SQL predicates.
//
// Grammar, loosest binding first:
//
//	query   := orExpr? EOF
//	orExpr  := juxt ("OR" juxt)*
//	juxt    := andExpr andExpr*
//	andExpr := unary ("AND" unary)*
//	unary   := "NOT" unary | primary
//	primary := "(" orExpr? ")"? | term | "phrase" | field[:op]:value
//
// Keywords are case-insensitive. Juxtaposed expressions are ANDed. Empty
// parentheses are the identity AND and an unclosed parenthesis is closed at
// the end of input.
package query

import (
	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/clause"
)

var opForName = map[string]clause.Operator{
	"":   clause.Equals,
	"eq": clause.Equals,
	"ne": clause.NotEquals,
	"gt": clause.GreaterThan,
	"ge": clause.GreaterThanOrEqual,
	"lt": clause.LessThan,
	"le": clause.LessThanOrEqual,
}

// Parse compiles s into a clause. Bare terms and phrases become MATCH
// filters on the index token. An empty query is the identity AND.
func Parse(s string) (clause.Clause, error) {
	p := &parser{toks: lex(s)}
	if p.peek().kind == tokEOF {
		return clause.True(), nil
	}
	c, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.unexpected(t)
	}
	return c, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) unexpected(t token) error {
	return apperr.Validation("unexpected %s at position %d", t.kind, t.pos)
}

func (p *parser) parseOr() (clause.Clause, error) {
	first, err := p.parseJuxt()
	if err != nil {
		return nil, err
	}
	items := []clause.Clause{first}
	for p.peek().kind == tokOr {
		p.advance()
		next, err := p.parseJuxt()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	if len(items) == 1 {
		return first, nil
	}
	return clause.OrOf(items...), nil
}

func startsPrimary(k tokenKind) bool {
	switch k {
	case tokLParen, tokTerm, tokPhrase, tokField, tokNot:
		return true
	}
	return false
}

func (p *parser) parseJuxt() (clause.Clause, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	items := []clause.Clause{first}
	for startsPrimary(p.peek().kind) {
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	if len(items) == 1 {
		return first, nil
	}
	return clause.AndOf(items...), nil
}

func (p *parser) parseAnd() (clause.Clause, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	items := []clause.Clause{first}
	for p.peek().kind == tokAnd {
		p.advance()
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	if len(items) == 1 {
		return first, nil
	}
	return clause.AndOf(items...), nil
}

func (p *parser) parseUnary() (clause.Clause, error) {
	if p.peek().kind == tokNot {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return clause.NotOf(operand), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (clause.Clause, error) {
	t := p.advance()
	switch t.kind {
	case tokLParen:
		switch p.peek().kind {
		case tokRParen:
			p.advance()
			return clause.True(), nil
		case tokEOF:
			return clause.True(), nil
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind == tokRParen {
			p.advance()
		} else if p.peek().kind != tokEOF {
			return nil, p.unexpected(p.peek())
		}
		return inner, nil
	case tokTerm, tokPhrase:
		return clause.MatchText(t.text), nil
	case tokField:
		if t.text == "" {
			return nil, apperr.Validation("missing value for field %q at position %d", t.field, t.pos)
		}
		return clause.Filter{Field: t.field, Operator: opForName[t.op], Value: t.text}, nil
	default:
		return nil, p.unexpected(t)
	}
}

// FieldText reconstructs the source text of a field filter, used when a
// field turns out not to name a column and is searched as plain text.
func FieldText(f clause.Filter) string {
	value, _ := f.Value.(string)
	for name, op := range opForName {
		if name != "" && op == f.Operator && op != clause.Equals {
			return f.Field + ":" + name + ":" + value
		}
	}
	return f.Field + ":" + value
}
