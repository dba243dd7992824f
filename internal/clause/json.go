package clause

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wireClause struct {
	Field    string            `json:"field,omitempty"`
	Operator Operator          `json:"operator"`
	Value    any               `json:"value,omitempty"`
	Clause   json.RawMessage   `json:"clause,omitempty"`
	Clauses  []json.RawMessage `json:"clauses,omitempty"`
}

// MarshalJSON encodes f as {"field","operator","value"}.
func (f Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Field    string   `json:"field"`
		Operator Operator `json:"operator"`
		Value    any      `json:"value"`
	}{f.Field, f.Operator, f.Value})
}

// MarshalJSON encodes u as {"operator":"NOT","clause":...}.
func (u Unary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Operator Operator `json:"operator"`
		Clause   Clause   `json:"clause"`
	}{u.Operator, u.Clause})
}

// MarshalJSON encodes a as {"operator":"AND"|"OR","clauses":[...]}.
func (a Aggregate) MarshalJSON() ([]byte, error) {
	clauses := a.Clauses
	if clauses == nil {
		clauses = []Clause{}
	}
	return json.Marshal(struct {
		Operator Operator `json:"operator"`
		Clauses  []Clause `json:"clauses"`
	}{a.Operator, clauses})
}

// Decode parses the wire form of a clause and validates it.
func Decode(data []byte) (Clause, error) {
	c, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

func decode(data []byte) (Clause, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var w wireClause
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode clause: %w", err)
	}
	switch {
	case w.Operator == Not:
		if len(w.Clause) == 0 {
			return nil, fmt.Errorf("decode clause: NOT without operand")
		}
		child, err := decode(w.Clause)
		if err != nil {
			return nil, err
		}
		return NotOf(child), nil
	case w.Operator.IsAggregate():
		children := make([]Clause, 0, len(w.Clauses))
		for _, raw := range w.Clauses {
			child, err := decode(raw)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return Aggregate{Operator: w.Operator, Clauses: children}, nil
	case w.Operator.IsBinary():
		return Filter{Field: w.Field, Operator: w.Operator, Value: normalizeNumber(w.Value)}, nil
	default:
		return nil, fmt.Errorf("decode clause: unknown operator %q", w.Operator)
	}
}

func normalizeNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeNumber(item)
		}
		return out
	default:
		return v
	}
}

// JSON carries an optional clause through encoding/json.
type JSON struct {
	Clause Clause
}

// MarshalJSON implements json.Marshaler.
func (j JSON) MarshalJSON() ([]byte, error) {
	if j.Clause == nil {
		return []byte("null"), nil
	}
	return json.Marshal(j.Clause)
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSON) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		j.Clause = nil
		return nil
	}
	c, err := Decode(data)
	if err != nil {
		return err
	}
	j.Clause = c
	return nil
}
