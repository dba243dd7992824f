package query

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
	tokTerm
	tokPhrase
	tokField
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokNot:
		return "NOT"
	case tokTerm:
		return "term"
	case tokPhrase:
		return "phrase"
	case tokField:
		return "field"
	}
	return "token"
}

type token struct {
	kind  tokenKind
	text  string // term or phrase text, or field value
	field string // tokField only
	op    string // tokField only, "" when omitted
	pos   int
}

// fieldOps are the operator spellings accepted in field:op:value.
var fieldOps = map[string]bool{"gt": true, "lt": true, "ge": true, "le": true, "eq": true, "ne": true}

type lexer struct {
	src []rune
	pos int
}

func lex(s string) []token {
	l := &lexer{src: []rune(s)}
	var out []token
	for {
		t := l.next()
		out = append(out, t)
		if t.kind == tokEOF {
			return out
		}
	}
}

func (l *lexer) next() token {
	for l.pos < len(l.src) && unicode.IsSpace(l.src[l.pos]) {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}
	}
	switch r := l.src[l.pos]; r {
	case '(':
		l.pos++
		return token{kind: tokLParen, pos: start}
	case ')':
		l.pos++
		return token{kind: tokRParen, pos: start}
	case '"':
		return token{kind: tokPhrase, text: l.quoted(), pos: start}
	}

	word := l.bare()
	if field, rest, ok := splitField(word); ok {
		t := token{kind: tokField, field: field, pos: start}
		if op, value, ok := strings.Cut(rest, ":"); ok && fieldOps[strings.ToLower(op)] {
			t.op = strings.ToLower(op)
			rest = value
		}
		if rest == "" && l.pos < len(l.src) && l.src[l.pos] == '"' {
			rest = l.quoted()
		}
		t.text = rest
		return t
	}

	switch strings.ToUpper(word) {
	case "AND":
		return token{kind: tokAnd, pos: start}
	case "OR":
		return token{kind: tokOr, pos: start}
	case "NOT":
		return token{kind: tokNot, pos: start}
	}
	return token{kind: tokTerm, text: word, pos: start}
}

// bare consumes a run of characters up to whitespace, a parenthesis or a
// quote that does not directly follow a colon.
func (l *lexer) bare() string {
	start := l.pos
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		if unicode.IsSpace(r) || r == '(' || r == ')' {
			break
		}
		if r == '"' {
			break
		}
		l.pos++
	}
	return string(l.src[start:l.pos])
}

// quoted consumes a "..." phrase with "" as an escaped quote. An
// unterminated phrase runs to the end of input.
func (l *lexer) quoted() string {
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		if r == '"' {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '"' {
				b.WriteRune('"')
				l.pos += 2
				continue
			}
			l.pos++
			return b.String()
		}
		b.WriteRune(r)
		l.pos++
	}
	return b.String()
}

// splitField splits "name:rest" when name is an identifier.
func splitField(word string) (string, string, bool) {
	name, rest, ok := strings.Cut(word, ":")
	if !ok || name == "" || !isIdent(name) {
		return "", "", false
	}
	return name, rest, true
}

func isIdent(s string) bool {
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return s != ""
}
