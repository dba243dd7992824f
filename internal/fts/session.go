package fts

// Tokenizers used by the session indexes.
const (
	// TokenizerTrigram matches arbitrary substrings of three or more
	// characters. Shorter search terms match nothing.
	TokenizerTrigram = "trigram"

	// TokenizerWords splits on word boundaries for term statistics.
	TokenizerWords = "unicode61"
)

func sessionColumns() []Column {
	return []Column{
		{Name: "id"},
		{Name: "tabId"},
		{Name: "host", Indexed: true},
		{Name: "url", Indexed: true},
		{Name: "title", Indexed: true},
		{Name: "rawUrl", Indexed: true},
		{Name: "parentSessionId"},
		{Name: "transitionType", Indexed: true},
		{Name: "startedAt"},
		{Name: "endedAt"},
		{Name: "nextSessionId"},
	}
}

// SearchIndex is the substring index used for MATCH and highlight().
var SearchIndex = Index{
	Table:        "session_index",
	ContentTable: "session",
	ContentRowID: "rowid",
	Tokenizer:    TokenizerTrigram,
	Columns:      sessionColumns(),
}

// TermIndex is the word index whose vocabulary feeds term facets.
var TermIndex = Index{
	Table:        "session_term_index",
	ContentTable: "session",
	ContentRowID: "rowid",
	Tokenizer:    TokenizerWords,
	Columns:      sessionColumns(),
}

// SessionIndexes lists every index maintained over the session table.
func SessionIndexes() []Index {
	return []Index{SearchIndex, TermIndex}
}
