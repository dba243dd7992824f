package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the text form of every stored timestamp. Values are UTC so
// lexical order matches chronological order.
const TimeLayout = "2006-01-02 15:04:05.000"

// FormatTime renders t in the stored format.
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// ParseTime reads a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	layouts := []string{
		TimeLayout,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// nullTime scans DATETIME columns. The driver returns time.Time for values
// it recognizes and raw text otherwise.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (n *nullTime) parse(s string) error {
	if s == "" {
		n.Time, n.Valid = time.Time{}, false
		return nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return err
	}
	n.Time, n.Valid = t, true
	return nil
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// SessionColumns lists the session table columns in scan order.
var SessionColumns = []string{
	"id", "tabId", "host", "url", "rawUrl", "title",
	"parentSessionId", "nextSessionId", "transitionType",
	"startedAt", "endedAt", "interactionCount", "lastInteractionAt",
	"chromeVisitId", "chromeReferringVisitId",
}

// SessionSelect returns the quoted session column list prefixed by alias.
func SessionSelect(alias string) string {
	cols := make([]string, len(SessionColumns))
	for i, c := range SessionColumns {
		if alias != "" {
			cols[i] = alias + `."` + c + `"`
		} else {
			cols[i] = `"` + c + `"`
		}
	}
	return strings.Join(cols, ", ")
}

// IsSessionColumn reports whether name is a column of the session table.
func IsSessionColumn(name string) bool {
	for _, c := range SessionColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Scanner is implemented by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanSession reads one row selected with SessionSelect. Extra
// destinations are scanned after the session columns.
func ScanSession(sc Scanner, extra ...any) (Session, error) {
	var (
		s                                     Session
		title, parent, next, transition       sql.NullString
		visit, referring                      sql.NullString
		startedAt, endedAt, lastInteractionAt nullTime
	)
	dest := []any{
		&s.ID, &s.TabID, &s.Host, &s.URL, &s.RawURL, &title,
		&parent, &next, &transition,
		&startedAt, &endedAt, &s.InteractionCount, &lastInteractionAt,
		&visit, &referring,
	}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return Session{}, err
	}
	s.Title = title.String
	s.ParentSessionID = parent.String
	s.NextSessionID = next.String
	s.TransitionType = transition.String
	s.StartedAt = startedAt.Time
	s.EndedAt = endedAt.ptr()
	s.LastInteractionAt = lastInteractionAt.ptr()
	s.ChromeVisitID = visit.String
	s.ChromeReferringVisitID = referring.String
	return s, nil
}
