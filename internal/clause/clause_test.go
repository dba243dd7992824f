package clause

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	a = Eq("host", "a.com")
	b = Eq("host", "b.com")
	c = MatchText("macbook")
	d = Lt("startedAt", "2022-07-01")
	e = Ne("transitionType", "reload")
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		x, y Clause
		want bool
	}{
		{"same filter", Eq("url", "blue"), Eq("url", "blue"), true},
		{"different value", Eq("url", "blue"), Eq("url", "red"), false},
		{"different operator", Eq("url", "blue"), Ne("url", "blue"), false},
		{"numeric kinds", Eq("tabId", 5), Eq("tabId", float64(5)), true},
		{"null values", Eq("endedAt", nil), Eq("endedAt", nil), true},
		{"null against value", Eq("endedAt", nil), Eq("endedAt", ""), false},
		{"IN order independent", InList("tabId", 1, 2, 3), InList("tabId", 3, 1, 2), true},
		{"IN multiplicity", InList("tabId", 1, 1, 2), InList("tabId", 1, 2, 2), false},
		{"IN length", InList("tabId", 1, 2), InList("tabId", 1, 2, 3), false},
		{"unary", NotOf(a), NotOf(a), true},
		{"unary child", NotOf(a), NotOf(b), false},
		{"aggregate order matters", AndOf(a, b), AndOf(b, a), false},
		{"aggregate", OrOf(a, AndOf(b, c)), OrOf(a, AndOf(b, c)), true},
		{"and vs or", AndOf(a, b), OrOf(a, b), false},
		{"empty aggregates", AndOf(), AndOf(), true},
		{"filter vs unary", a, NotOf(a), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.x, tt.y))
		})
	}
}

func TestFactor(t *testing.T) {
	tests := []struct {
		name string
		in   Clause
		want Clause
	}{
		{"literal", a, a},
		{"negated literal", NotOf(a), NotOf(a)},
		{"double negation", NotOf(NotOf(a)), a},
		{"empty and", AndOf(), AndOf()},
		{"empty or", OrOf(), OrOf()},
		{"not empty and", NotOf(AndOf()), OrOf()},
		{"not empty or", NotOf(OrOf()), AndOf()},
		{"and with empty or is false", AndOf(a, OrOf()), OrOf()},
		{"or with empty and is true", OrOf(a, AndOf()), AndOf()},
		{"single child and", AndOf(a), a},
		{"flat and", AndOf(a, AndOf(b, c)), AndOf(a, b, c)},
		{"flat or", OrOf(a, OrOf(b, OrOf(c, d))), OrOf(a, b, c, d)},
		{"de morgan and", NotOf(AndOf(a, b)), OrOf(NotOf(a), NotOf(b))},
		{"de morgan or", NotOf(OrOf(a, b)), AndOf(NotOf(a), NotOf(b))},
		{
			"distribute",
			AndOf(a, OrOf(b, c)),
			OrOf(AndOf(a, b), AndOf(a, c)),
		},
		{
			"cartesian product",
			AndOf(OrOf(a, b), OrOf(c, d)),
			OrOf(AndOf(a, c), AndOf(a, d), AndOf(b, c), AndOf(b, d)),
		},
		{
			"three way or under and",
			AndOf(e, OrOf(a, b, c)),
			OrOf(AndOf(e, a), AndOf(e, b), AndOf(e, c)),
		},
		{
			"negated distribution",
			AndOf(c, NotOf(OrOf(a, b))),
			AndOf(c, NotOf(a), NotOf(b)),
		},
		{
			"nested negation",
			NotOf(AndOf(a, NotOf(OrOf(b, c)))),
			OrOf(NotOf(a), b, c),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Factor(tt.in)
			assert.True(t, Equal(tt.want, got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestFactorIsIdempotentAndPushesNot(t *testing.T) {
	inputs := []Clause{
		a,
		AndOf(),
		OrOf(),
		NotOf(AndOf()),
		AndOf(a, OrOf(b, c, d), NotOf(OrOf(e, AndOf(a, b)))),
		NotOf(NotOf(NotOf(OrOf(a, AndOf(b, NotOf(c)))))),
		OrOf(AndOf(OrOf(a, b), OrOf(c, d)), NotOf(e)),
		AndOf(OrOf(a, AndOf()), OrOf(b, c)),
	}
	for _, in := range inputs {
		once := Factor(in)
		twice := Factor(once)
		assert.True(t, Equal(once, twice), "not idempotent for %s: %s vs %s", in, once, twice)
		assertNotPushed(t, once)
	}
}

func assertNotPushed(t *testing.T, c Clause) {
	t.Helper()
	switch x := c.(type) {
	case Unary:
		_, ok := x.Clause.(Filter)
		assert.True(t, ok, "NOT above non-filter: %s", x)
	case Aggregate:
		for _, child := range x.Clauses {
			assertNotPushed(t, child)
		}
	}
}

func TestDisjuncts(t *testing.T) {
	ds := Disjuncts(AndOf(a, OrOf(b, NotOf(c))))
	require.Len(t, ds, 2)
	assert.Len(t, ds[0], 2)
	assert.True(t, IsLiteral(ds[1][1]))
	assert.Empty(t, Disjuncts(OrOf()))
	assert.Equal(t, [][]Clause{{}}, Disjuncts(AndOf()))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(AndOf(a, NotOf(c), InList("tabId", 1))))
	assert.Error(t, Validate(Filter{Field: "title", Operator: Match, Value: "x"}))
	assert.Error(t, Validate(Filter{Field: "tabId", Operator: In, Value: 5}))
	assert.Error(t, Validate(Unary{Operator: And, Clause: a}))
	assert.Error(t, Validate(Aggregate{Operator: Not}))
	assert.Error(t, Validate(nil))
}

func TestJSONRoundTrip(t *testing.T) {
	in := AndOf(
		MatchText(`say "hi"`),
		NotOf(OrOf(Eq("host", "google.com"), InList("tabId", 1, 2))),
		Eq("endedAt", nil),
	)
	data, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, Equal(in, out), "got %s", out)

	var holder struct {
		Filter JSON `json:"filter"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"filter":{"field":"tabId","operator":">=","value":3}}`), &holder))
	assert.True(t, Equal(Ge("tabId", 3), holder.Filter.Clause))

	require.NoError(t, json.Unmarshal([]byte(`{"filter":null}`), &holder))
	assert.Nil(t, holder.Filter.Clause)

	_, err = Decode([]byte(`{"operator":"XOR","clauses":[]}`))
	assert.Error(t, err)
}

func TestMapFilters(t *testing.T) {
	in := AndOf(Eq("url", "x"), NotOf(Eq("title", "y")))
	out := MapFilters(in, func(f Filter) Clause {
		return Filter{Field: f.Field, Operator: NotEquals, Value: f.Value}
	})
	assert.True(t, Equal(AndOf(Ne("url", "x"), NotOf(Ne("title", "y"))), out))
}
