package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/runnerr0/trail/internal/apperr"
)

const settingsColumns = "id, dataCollectionEnabled, devModeEnabled, retentionPolicyMonths, theme, createdAt, updatedAt"

type settingsQuerier interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// settings returns the singleton settings row, creating it with defaults
// when missing. Extra rows are deleted.
func (s *SQLiteStore) settings(ctx context.Context, q settingsQuerier) (*Settings, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+settingsColumns+" FROM settings ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	var all []Settings
	for rows.Next() {
		var st Settings
		var created, updated nullTime
		if err := rows.Scan(&st.ID, &st.DataCollectionEnabled, &st.DevModeEnabled,
			&st.RetentionPolicyMonths, &st.Theme, &created, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan settings: %w", err)
		}
		st.CreatedAt, st.UpdatedAt = created.Time, updated.Time
		all = append(all, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(all) > 1 {
		s.log.Warn("found extra settings rows; deleting", "count", len(all))
		if _, err := q.ExecContext(ctx, "DELETE FROM settings WHERE id != ?", all[0].ID); err != nil {
			return nil, fmt.Errorf("delete extra settings: %w", err)
		}
	}
	if len(all) > 0 {
		return &all[0], nil
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	st := DefaultSettings()
	st.CreatedAt, st.UpdatedAt = now, now
	res, err := q.ExecContext(ctx, `
		INSERT INTO settings (dataCollectionEnabled, devModeEnabled, retentionPolicyMonths, theme, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.DataCollectionEnabled, st.DevModeEnabled, st.RetentionPolicyMonths, st.Theme,
		FormatTime(now), FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("create settings: %w", err)
	}
	if st.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetSettings returns the settings, creating defaults on first use.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*Settings, error) {
	var out *Settings
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = s.settings(ctx, tx)
		return err
	})
	return out, err
}

// UpdateSettings applies patch and returns the result.
func (s *SQLiteStore) UpdateSettings(ctx context.Context, patch SettingsPatch) (*Settings, error) {
	if patch.RetentionPolicyMonths != nil && *patch.RetentionPolicyMonths < 1 {
		return nil, apperr.Validation("retentionPolicyMonths must be at least 1")
	}
	if patch.Theme != nil {
		switch *patch.Theme {
		case ThemeAuto, ThemeLight, ThemeDark:
		default:
			return nil, apperr.Validation("unknown theme %q", *patch.Theme)
		}
	}

	var out *Settings
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		st, err := s.settings(ctx, tx)
		if err != nil {
			return err
		}
		if err := apperr.CheckAbort(ctx); err != nil {
			return err
		}

		if patch.DataCollectionEnabled != nil {
			st.DataCollectionEnabled = *patch.DataCollectionEnabled
		}
		if patch.DevModeEnabled != nil {
			st.DevModeEnabled = *patch.DevModeEnabled
		}
		if patch.RetentionPolicyMonths != nil {
			st.RetentionPolicyMonths = *patch.RetentionPolicyMonths
		}
		if patch.Theme != nil {
			st.Theme = *patch.Theme
		}
		st.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

		if _, err := tx.ExecContext(ctx, `
			UPDATE settings
			SET dataCollectionEnabled = ?, devModeEnabled = ?, retentionPolicyMonths = ?, theme = ?, updatedAt = ?
			WHERE id = ?`,
			st.DataCollectionEnabled, st.DevModeEnabled, st.RetentionPolicyMonths, st.Theme,
			FormatTime(st.UpdatedAt), st.ID,
		); err != nil {
			return fmt.Errorf("update settings: %w", err)
		}
		out = st
		return nil
	})
	return out, err
}
