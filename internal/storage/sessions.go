package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/runnerr0/trail/internal/apperr"
)

// DefaultTransition is recorded when a navigation carries no transition type.
const DefaultTransition = "link"

// activeSession returns the newest open session for tabID. Any older open
// sessions for the tab are closed at now and reported as a reconciliation
// warning.
func (s *SQLiteStore) activeSession(ctx context.Context, tx *sql.Tx, tabID int64, now time.Time) (*Session, error) {
	rows, err := tx.StmtContext(ctx, s.activeForTab).QueryContext(ctx, tabID)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	open, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}
	if len(open) > 1 {
		urls := make([]string, len(open))
		for i, sess := range open {
			urls[i] = sess.URL
		}
		s.log.Warn("more than one open session for tab; closing extras",
			"code", apperr.CodeReconciliation, "tab_id", tabID, "urls", urls)
		for _, extra := range open[1:] {
			if _, err := tx.ExecContext(ctx,
				"UPDATE session SET endedAt = ? WHERE id = ?", FormatTime(now), extra.ID,
			); err != nil {
				return nil, fmt.Errorf("close duplicate session: %w", err)
			}
		}
	}
	return &open[0], nil
}

func (s *SQLiteStore) insertSession(ctx context.Context, ex execer, sess *Session) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO session (`+SessionSelect("")+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TabID, sess.Host, sess.URL, sess.RawURL, nullString(sess.Title),
		nullString(sess.ParentSessionID), nullString(sess.NextSessionID), nullString(sess.TransitionType),
		FormatTime(sess.StartedAt), nullTimeArg(sess.EndedAt), sess.InteractionCount, nullTimeArg(sess.LastInteractionAt),
		nullString(sess.ChromeVisitID), nullString(sess.ChromeReferringVisitID),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) closeSession(ctx context.Context, ex execer, sess *Session, now time.Time) error {
	sess.EndedAt = &now
	_, err := ex.ExecContext(ctx,
		"UPDATE session SET endedAt = ?, nextSessionId = ? WHERE id = ?",
		FormatTime(now), nullString(sess.NextSessionID), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// TabChanged records a committed top-level navigation. A navigation to the
// tab's current URL, ignoring query and fragment, is a no-op. Otherwise the
// tab's open session is closed and a new one opened. The new session's
// parent is the open session of the source tab for cross-tab opens, or the
// previous session on reload. The previous session links forward to the new
// one unless the navigation came from another tab.
func (s *SQLiteStore) TabChanged(ctx context.Context, req TabChange) error {
	now := s.now().UTC().Truncate(time.Millisecond)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		settings, err := s.settings(ctx, tx)
		if err != nil {
			return err
		}
		if !settings.DataCollectionEnabled {
			s.log.Debug("data collection disabled; ignoring tab change", "tab_id", req.TabID)
			return nil
		}

		existing, err := s.activeSession(ctx, tx, req.TabID, now)
		if err != nil {
			return err
		}
		if err := apperr.CheckAbort(ctx); err != nil {
			return err
		}

		if !s.policy.ShouldIndex(req.URL) {
			s.log.Debug("not indexing url", "url", req.URL)
			if existing == nil {
				return nil
			}
			return s.closeSession(ctx, tx, existing, now)
		}

		clean := CleanURL(req.URL)
		if existing != nil && CleanURL(existing.URL) == clean {
			return nil
		}

		transition := req.TransitionType
		if transition == "" {
			transition = DefaultTransition
		}

		var parentID string
		crossTab := req.SourceTabID != nil && *req.SourceTabID != req.TabID
		if crossTab {
			source, err := s.activeSession(ctx, tx, *req.SourceTabID, now)
			if err != nil {
				return err
			}
			if err := apperr.CheckAbort(ctx); err != nil {
				return err
			}
			if source != nil {
				parentID = source.ID
			}
		}
		if existing != nil && parentID == "" && transition == "reload" {
			parentID = existing.ID
		}

		next := &Session{
			ID:                uuid.NewString(),
			TabID:             req.TabID,
			Host:              Host(req.URL),
			URL:               clean,
			RawURL:            req.URL,
			Title:             norm.NFC.String(req.Title),
			ParentSessionID:   parentID,
			TransitionType:    transition,
			StartedAt:         now,
			LastInteractionAt: &now,
		}
		if err := s.insertSession(ctx, tx, next); err != nil {
			return err
		}
		if err := apperr.CheckAbort(ctx); err != nil {
			return err
		}

		if existing == nil {
			return nil
		}
		if parentID == "" || parentID == existing.ID {
			existing.NextSessionID = next.ID
		}
		return s.closeSession(ctx, tx, existing, now)
	})
}

// TabClosed ends the tab's open session.
func (s *SQLiteStore) TabClosed(ctx context.Context, tabID int64) error {
	now := s.now().UTC().Truncate(time.Millisecond)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.activeSession(ctx, tx, tabID, now)
		if err != nil {
			return err
		}
		if err := apperr.CheckAbort(ctx); err != nil {
			return err
		}
		if existing == nil {
			s.log.Warn("no active session for tab", "tab_id", tabID)
			return nil
		}
		return s.closeSession(ctx, tx, existing, now)
	})
}

// TabInteraction counts user activity against the tab's open session and
// refreshes its title and raw URL. Interactions whose URL does not match
// the open session are ignored.
func (s *SQLiteStore) TabInteraction(ctx context.Context, req TabInteraction) error {
	now := s.now().UTC().Truncate(time.Millisecond)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.activeSession(ctx, tx, req.TabID, now)
		if err != nil {
			return err
		}
		if err := apperr.CheckAbort(ctx); err != nil {
			return err
		}
		if existing == nil {
			s.log.Warn("no active session for tab", "tab_id", req.TabID)
			return nil
		}
		if req.URL == "" || CleanURL(req.URL) != existing.URL {
			s.log.Warn("interaction url does not match open session", "tab_id", req.TabID)
			return nil
		}

		title := existing.Title
		if req.Title != "" {
			title = norm.NFC.String(req.Title)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE session
			SET interactionCount = interactionCount + 1, lastInteractionAt = ?, title = ?, rawUrl = ?
			WHERE id = ?`,
			FormatTime(now), nullString(title), req.URL, existing.ID,
		)
		if err != nil {
			return fmt.Errorf("record interaction: %w", err)
		}
		return nil
	})
}

// OpenSessions returns every live-tracked session that has not ended.
func (s *SQLiteStore) OpenSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+SessionSelect("")+`
		FROM session WHERE endedAt IS NULL AND tabId != ?
		ORDER BY tabId, startedAt DESC`, GhostTabID)
	if err != nil {
		return nil, fmt.Errorf("query open sessions: %w", err)
	}
	return collectSessions(rows)
}

// GetSession returns the session with its direct children.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionWithChildren, error) {
	sess, err := ScanSession(s.getSession.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	rows, err := s.childSessions.QueryContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	children, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}
	return &SessionWithChildren{Session: sess, Children: children}, nil
}
