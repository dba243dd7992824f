package query

import (
	"testing"
	"time"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/clause"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func match(s string) clause.Filter { return clause.MatchText(s) }

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  clause.Clause
	}{
		{"single term", "ABC", match("ABC")},
		{"quoted value", "ABC", clause.Filter{Field: clause.IndexToken, Operator: clause.Match, Value: `"ABC"`}},
		{"empty", "", clause.AndOf()},
		{"blank", "   ", clause.AndOf()},
		{"empty parens", "()", clause.AndOf()},
		{"open paren", "(", clause.AndOf()},
		{"unclosed group", "(hello", match("hello")},
		{"group", "(twitter)", match("twitter")},
		{"juxtaposed", "twitter google", clause.AndOf(match("twitter"), match("google"))},
		{
			"juxtaposed with not",
			"(twitter google NOT USA)",
			clause.AndOf(match("twitter"), match("google"), clause.NotOf(match("USA"))),
		},
		{"not", "NOT macbook", clause.NotOf(match("macbook"))},
		{"lowercase keywords", "blah and google", clause.AndOf(match("blah"), match("google"))},
		{"or", "blah OR google", clause.OrOf(match("blah"), match("google"))},
		{"or chain", "a1a OR b2b OR c3c", clause.OrOf(match("a1a"), match("b2b"), match("c3c"))},
		{"not binds tighter than or", "NOT macbook OR stats", clause.OrOf(clause.NotOf(match("macbook")), match("stats"))},
		{
			"and binds tighter than or",
			"a1a AND b2b OR c3c",
			clause.OrOf(clause.AndOf(match("a1a"), match("b2b")), match("c3c")),
		},
		{
			"group under and",
			"stat AND (twitter OR google)",
			clause.AndOf(match("stat"), clause.OrOf(match("twitter"), match("google"))),
		},
		{
			"and not group",
			"stat AND NOT (twitter OR google)",
			clause.AndOf(match("stat"), clause.NotOf(clause.OrOf(match("twitter"), match("google")))),
		},
		{
			"juxtaposition after and group",
			"twitter AND (startedAt:lt:7/1/2022 OR blah) NOT (google2 OR host:google.com)",
			clause.AndOf(
				clause.AndOf(match("twitter"), clause.OrOf(clause.Lt("startedAt", "7/1/2022"), match("blah"))),
				clause.NotOf(clause.OrOf(match("google2"), clause.Eq("host", "google.com"))),
			),
		},
		{"field", "url:blue", clause.Eq("url", "blue")},
		{"field with op", "startedAt:lt:2022-07-01", clause.Lt("startedAt", "2022-07-01")},
		{"field with eq", "host:eq:a.com", clause.Eq("host", "a.com")},
		{"field with ne", "host:NE:a.com", clause.Ne("host", "a.com")},
		{"field ge le gt", "tabId:ge:3 tabId:le:9 tabId:gt:4", clause.AndOf(
			clause.Ge("tabId", "3"), clause.Le("tabId", "9"), clause.Gt("tabId", "4"),
		)},
		{"field with quoted value", `startedAt:ne:"2022-07-01 00:00:00"`, clause.Ne("startedAt", "2022-07-01 00:00:00")},
		{"field value keeps colons", "startedAt:2022-07-01T10:00:00", clause.Eq("startedAt", "2022-07-01T10:00:00")},
		{"unknown op stays in value", "a:b:c", clause.Eq("a", "b:c")},
		{"phrase", `"hello world"`, match("hello world")},
		{"phrase with quotes", `"say ""hi"""`, clause.Filter{Field: clause.IndexToken, Operator: clause.Match, Value: `"say ""hi"""`}},
		{"unterminated phrase", `"open ended`, match("open ended")},
		{"keyword as phrase", `"AND"`, match("AND")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.True(t, clause.Equal(tt.want, got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		"foo )",
		")",
		"AND foo",
		"foo OR",
		"foo NOT",
		"(a OR )",
		"url:",
	} {
		t.Run(input, func(t *testing.T) {
			c, err := Parse(input)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.True(t, apperr.IsValidation(err))
		})
	}
}

func TestFieldText(t *testing.T) {
	assert.Equal(t, "https://x.com", FieldText(clause.Eq("https", "//x.com")))
	assert.Equal(t, "a:lt:b", FieldText(clause.Lt("a", "b")))
}

func TestRender(t *testing.T) {
	r := Renderer{Alias: "s", MatchTable: "session_index"}
	tests := []struct {
		name     string
		in       clause.Clause
		wantSQL  string
		wantArgs []any
	}{
		{"equals", clause.Eq("url", "x"), `s."url" = ?`, []any{"x"}},
		{"not equals", clause.Ne("url", "x"), `s."url" != ?`, []any{"x"}},
		{"is null", clause.Eq("endedAt", nil), `s."endedAt" IS NULL`, nil},
		{"is not null", clause.Ne("endedAt", nil), `s."endedAt" IS NOT NULL`, nil},
		{"comparison", clause.Ge("tabId", 3), `s."tabId" >= ?`, []any{3}},
		{"in", clause.InList("tabId", 1, 2), `s."tabId" IN (?, ?)`, []any{1, 2}},
		{"not in", clause.NotInList("host", "a"), `s."host" NOT IN (?)`, []any{"a"}},
		{"empty in", clause.InList("tabId"), `FALSE`, nil},
		{"empty not in", clause.NotInList("tabId"), `TRUE`, nil},
		{"empty and", clause.AndOf(), "TRUE", nil},
		{"empty or", clause.OrOf(), "FALSE", nil},
		{"not", clause.NotOf(clause.Eq("host", "a")), `NOT (s."host" = ?)`, []any{"a"}},
		{
			"aggregate",
			clause.OrOf(clause.Eq("host", "a"), clause.AndOf(clause.Lt("tabId", 2), clause.Eq("title", nil))),
			`(s."host" = ? OR (s."tabId" < ? AND s."title" IS NULL))`,
			[]any{"a", 2},
		},
		{
			"match",
			match("abc"),
			`s.rowid IN (SELECT rowid FROM "session_index" WHERE "session_index" MATCH ?)`,
			[]any{`"abc"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := r.Render(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestRenderRejects(t *testing.T) {
	r := Renderer{Alias: "s", Columns: map[string]bool{"url": true}}
	for name, c := range map[string]clause.Clause{
		"match without table": match("abc"),
		"unknown column":      clause.Eq("nope", 1),
		"bad identifier":      clause.Eq("url; DROP", 1),
		"index non-match":     clause.Eq(clause.IndexToken, "x"),
		"in without list":     clause.Filter{Field: "url", Operator: clause.In, Value: "x"},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := r.Render(c)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{
		"2022-07-01",
		"7/1/2022",
		"2022/07/01",
		"2022-07-01 00:00:00",
		"2022-07-01T00:00:00",
		"2022/07/01T00:00:00",
		"2022-07-01T00:00:00Z",
	} {
		got, err := ParseDate(s, time.UTC)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed as %s", s, got)
	}

	got, err := ParseDate("2022/05/01T12:30:51", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 5, 1, 12, 30, 51, 0, time.UTC), got)

	_, err = ParseDate("yesterday", time.UTC)
	assert.True(t, apperr.IsValidation(err))
}
