// Package fts generates the DDL that keeps an FTS5 shadow table in step
// with a primary table. Everything here is a pure function from an Index
// description to SQL strings; callers decide when to execute them.
package fts

import (
	"fmt"
	"strings"
)

// DummyColumn is appended to every index. fts5vocab misbehaves on tables
// without it, so it is carried through the table, the backfill and every
// trigger with the constant value 'dum'.
const DummyColumn = "dum"

const dummyValue = "'dum'"

// Column is one column of an index.
type Column struct {
	Name    string
	Indexed bool
}

// Index describes an external-content FTS5 table over ContentTable.
type Index struct {
	Table        string
	ContentTable string
	ContentRowID string
	Tokenizer    string
	Columns      []Column
}

// VocabTable is the name of the companion fts5vocab table.
func (ix Index) VocabTable() string { return ix.Table + "_vocab" }

// ColumnIndex returns the position of name in the index, as expected by
// highlight() and snippet(), or -1.
func (ix Index) ColumnIndex(name string) int {
	for i, c := range ix.Columns {
		if c.Name == name {
			return i
		}
	}
	if name == DummyColumn {
		return len(ix.Columns)
	}
	return -1
}

// IsIndexed reports whether name is a tokenized column of the index.
func (ix Index) IsIndexed(name string) bool {
	for _, c := range ix.Columns {
		if c.Name == name {
			return c.Indexed
		}
	}
	return false
}

// CreateTable returns the CREATE VIRTUAL TABLE statement.
func (ix Index) CreateTable() string {
	defs := make([]string, 0, len(ix.Columns)+4)
	for _, c := range ix.Columns {
		def := quote(c.Name)
		if !c.Indexed {
			def += " UNINDEXED"
		}
		defs = append(defs, def)
	}
	defs = append(defs,
		quote(DummyColumn),
		fmt.Sprintf("content='%s'", ix.ContentTable),
		fmt.Sprintf("content_rowid='%s'", ix.rowID()),
		fmt.Sprintf("tokenize='%s'", ix.Tokenizer),
	)
	return fmt.Sprintf("CREATE VIRTUAL TABLE %s USING fts5(%s)", quote(ix.Table), strings.Join(defs, ", "))
}

// CreateVocab returns the statement creating the instance-level vocabulary
// table: one row per (term, doc, col, offset).
func (ix Index) CreateVocab() string {
	return fmt.Sprintf("CREATE VIRTUAL TABLE %s USING fts5vocab('%s', 'instance')", quote(ix.VocabTable()), ix.Table)
}

// Backfill returns the statement indexing every existing content row.
func (ix Index) Backfill() string {
	return fmt.Sprintf("INSERT INTO %s (rowid, %s) SELECT %s, %s FROM %s",
		quote(ix.Table), ix.columnList(), ix.rowID(), ix.valueList(""), quote(ix.ContentTable))
}

// Triggers returns the after-insert, after-update and after-delete
// triggers. Updates use the FTS5 'delete' command with the old values
// followed by a reinsert of the new ones.
func (ix Index) Triggers() []string {
	table := quote(ix.Table)
	content := quote(ix.ContentTable)
	insertNew := fmt.Sprintf("INSERT INTO %s (rowid, %s) VALUES (new.%s, %s);",
		table, ix.columnList(), ix.rowID(), ix.valueList("new."))
	deleteOld := fmt.Sprintf("INSERT INTO %s (%s, rowid, %s) VALUES ('delete', old.%s, %s);",
		table, table, ix.columnList(), ix.rowID(), ix.valueList("old."))

	return []string{
		fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT ON %s BEGIN %s END", quote(ix.Table+"_ai"), content, insertNew),
		fmt.Sprintf("CREATE TRIGGER %s AFTER UPDATE ON %s BEGIN %s %s END", quote(ix.Table+"_au"), content, deleteOld, insertNew),
		fmt.Sprintf("CREATE TRIGGER %s AFTER DELETE ON %s BEGIN %s END", quote(ix.Table+"_ad"), content, deleteOld),
	}
}

// Create returns every statement needed to build the index from scratch,
// in execution order.
func (ix Index) Create() []string {
	stmts := []string{ix.CreateTable(), ix.CreateVocab(), ix.Backfill()}
	return append(stmts, ix.Triggers()...)
}

// Drop returns the statements removing the triggers, the vocabulary table
// and the index.
func (ix Index) Drop() []string {
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s", quote(ix.Table+"_ai")),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s", quote(ix.Table+"_au")),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s", quote(ix.Table+"_ad")),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", quote(ix.VocabTable())),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", quote(ix.Table)),
	}
}

func (ix Index) rowID() string {
	if ix.ContentRowID == "" {
		return "rowid"
	}
	return ix.ContentRowID
}

func (ix Index) columnList() string {
	names := make([]string, 0, len(ix.Columns)+1)
	for _, c := range ix.Columns {
		names = append(names, quote(c.Name))
	}
	names = append(names, quote(DummyColumn))
	return strings.Join(names, ", ")
}

func (ix Index) valueList(prefix string) string {
	values := make([]string, 0, len(ix.Columns)+1)
	for _, c := range ix.Columns {
		values = append(values, prefix+quote(c.Name))
	}
	values = append(values, dummyValue)
	return strings.Join(values, ", ")
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
