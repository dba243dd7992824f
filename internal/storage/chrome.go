package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/runnerr0/trail/internal/apperr"
)

const (
	ghostChunkSize     = 100
	fixParentsBatch    = 2500
	noReferringVisitID = "0"
)

func hasReferrer(visitID string) bool {
	return visitID != "" && visitID != noReferringVisitID
}

// CorrelateChromeVisit attaches a history visit id to a live session. Ghost
// sessions carrying the same visit id are deleted and their children
// re-parented to the live session. A session that already has a visit id
// is left unchanged.
func (s *SQLiteStore) CorrelateChromeVisit(ctx context.Context, visit ChromeVisit) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := ScanSession(tx.StmtContext(ctx, s.getSession).QueryRowContext(ctx, visit.SessionID))
		if errors.Is(err, sql.ErrNoRows) {
			s.log.Warn("no session to correlate", "session_id", visit.SessionID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		if err := apperr.CheckAbort(ctx); err != nil {
			return err
		}

		if sess.ChromeVisitID != "" {
			if sess.ChromeVisitID != visit.VisitID {
				s.log.Warn("session already has a visit id",
					"session_id", sess.ID, "visit_id", sess.ChromeVisitID, "new_visit_id", visit.VisitID)
			}
			return nil
		}

		transition := sess.TransitionType
		if hasReferrer(visit.ReferringVisitID) {
			transition = visit.Transition
			if transition == "" {
				transition = DefaultTransition
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE session SET chromeVisitId = ?, chromeReferringVisitId = ?, transitionType = ?
			WHERE id = ?`,
			visit.VisitID, nullString(visit.ReferringVisitID), nullString(transition), sess.ID,
		); err != nil {
			return fmt.Errorf("set visit id: %w", err)
		}
		if err := apperr.CheckAbort(ctx); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE session SET parentSessionId = ?
			WHERE parentSessionId IN (SELECT id FROM session WHERE chromeVisitId = ? AND tabId = ?)`,
			sess.ID, visit.VisitID, GhostTabID,
		); err != nil {
			return fmt.Errorf("reparent ghost children: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM session WHERE chromeVisitId = ? AND tabId = ?", visit.VisitID, GhostTabID,
		)
		if err != nil {
			return fmt.Errorf("delete ghost sessions: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.log.Debug("merged ghost sessions", "session_id", sess.ID, "count", n)
		}
		return nil
	})
}

// CreateGhostSessions records history visits as closed sessions on the
// ghost tab. Visits already known by visit id and URLs that are not indexed
// are skipped. Parents are resolved through referring visit ids against
// existing sessions and earlier visits of the same batch. It returns the
// number of sessions created.
func (s *SQLiteStore) CreateGhostSessions(ctx context.Context, visits []GhostVisit) (int, error) {
	created := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids := make([]string, 0, 2*len(visits))
		for _, v := range visits {
			ids = append(ids, v.VisitID)
			if hasReferrer(v.ReferringVisitID) {
				ids = append(ids, v.ReferringVisitID)
			}
		}
		known, err := s.sessionsByVisitID(ctx, tx, ids)
		if err != nil {
			return err
		}
		if err := apperr.CheckAbort(ctx); err != nil {
			return err
		}

		var pending []*Session
		for _, v := range visits {
			if !s.policy.ShouldIndex(v.URL) {
				s.log.Debug("not indexing url", "url", v.URL)
				continue
			}
			if existing, ok := known[v.VisitID]; ok {
				s.log.Debug("session already exists for visit", "visit_id", v.VisitID, "session_id", existing)
				continue
			}

			var parentID, transition string
			if hasReferrer(v.ReferringVisitID) {
				transition = v.Transition
				if transition == "" {
					transition = DefaultTransition
				}
				parentID = known[v.ReferringVisitID]
			}

			visitTime := v.VisitTime.UTC().Truncate(time.Millisecond)
			sess := &Session{
				ID:                     uuid.NewString(),
				TabID:                  GhostTabID,
				Host:                   Host(v.URL),
				URL:                    CleanURL(v.URL),
				RawURL:                 v.URL,
				Title:                  norm.NFC.String(v.Title),
				ParentSessionID:        parentID,
				TransitionType:         transition,
				StartedAt:              visitTime,
				EndedAt:                &visitTime,
				LastInteractionAt:      &visitTime,
				ChromeVisitID:          v.VisitID,
				ChromeReferringVisitID: v.ReferringVisitID,
			}
			known[v.VisitID] = sess.ID
			pending = append(pending, sess)
		}

		for start := 0; start < len(pending); start += ghostChunkSize {
			end := min(start+ghostChunkSize, len(pending))
			if err := s.insertSessions(ctx, tx, pending[start:end]); err != nil {
				return err
			}
			if err := apperr.CheckAbort(ctx); err != nil {
				return err
			}
		}
		created = len(pending)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Debug("created ghost sessions", "count", created, "visits", len(visits))
	return created, nil
}

// sessionsByVisitID maps visit ids to the ids of sessions carrying them.
func (s *SQLiteStore) sessionsByVisitID(ctx context.Context, tx *sql.Tx, visitIDs []string) (map[string]string, error) {
	known := make(map[string]string, len(visitIDs))
	const lookupChunk = 500
	for start := 0; start < len(visitIDs); start += lookupChunk {
		chunk := visitIDs[start:min(start+lookupChunk, len(visitIDs))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := tx.QueryContext(ctx,
			"SELECT chromeVisitId, id, tabId FROM session WHERE chromeVisitId IN ("+placeholders(len(chunk))+")",
			args...)
		if err != nil {
			return nil, fmt.Errorf("lookup visits: %w", err)
		}
		for rows.Next() {
			var visitID, id string
			var tabID int64
			if err := rows.Scan(&visitID, &id, &tabID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan visit: %w", err)
			}
			// Prefer the live session when a ghost and a live session share an id.
			if _, seen := known[visitID]; !seen || tabID != GhostTabID {
				known[visitID] = id
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return known, nil
}

func (s *SQLiteStore) insertSessions(ctx context.Context, tx *sql.Tx, sessions []*Session) error {
	if len(sessions) == 0 {
		return nil
	}
	row := "(" + placeholders(len(SessionColumns)) + ")"
	values := make([]string, len(sessions))
	args := make([]any, 0, len(sessions)*len(SessionColumns))
	for i, sess := range sessions {
		values[i] = row
		args = append(args,
			sess.ID, sess.TabID, sess.Host, sess.URL, sess.RawURL, nullString(sess.Title),
			nullString(sess.ParentSessionID), nullString(sess.NextSessionID), nullString(sess.TransitionType),
			FormatTime(sess.StartedAt), nullTimeArg(sess.EndedAt), sess.InteractionCount, nullTimeArg(sess.LastInteractionAt),
			nullString(sess.ChromeVisitID), nullString(sess.ChromeReferringVisitID),
		)
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO session ("+SessionSelect("")+") VALUES "+strings.Join(values, ", "), args...)
	if err != nil {
		return fmt.Errorf("insert sessions: %w", err)
	}
	return nil
}

// FixChromeParents links ghost sessions to the session of their referring
// visit where that session appeared after the ghost was created. It works
// in batches until a batch comes back short and returns the number of
// sessions updated.
func (s *SQLiteStore) FixChromeParents(ctx context.Context) (int64, error) {
	const fix = `
		UPDATE session
		SET parentSessionId = (
			SELECT p.id FROM session p
			WHERE p.chromeVisitId = session.chromeReferringVisitId
			  AND p.id != session.id
			  AND p.url != session.url
			ORDER BY p.tabId = ? ASC
			LIMIT 1
		)
		WHERE rowid IN (
			SELECT DISTINCT s.rowid
			FROM session s
			JOIN session p ON p.chromeVisitId = s.chromeReferringVisitId
			WHERE s.chromeReferringVisitId IS NOT NULL
			  AND s.parentSessionId IS NULL
			  AND s.tabId = ?
			  AND p.id != s.id
			  AND p.url != s.url
			LIMIT ?
		)`

	var total int64
	for {
		if err := apperr.CheckAbort(ctx); err != nil {
			return total, err
		}
		res, err := s.db.ExecContext(ctx, fix, GhostTabID, GhostTabID, fixParentsBatch)
		if err != nil {
			return total, fmt.Errorf("fix chrome parents: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		s.log.Debug("fixed chrome parents", "count", n)
		if n < fixParentsBatch {
			break
		}
	}
	if total > 0 {
		s.log.Info("fixed chrome parents", "total", total)
	}
	return total, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
