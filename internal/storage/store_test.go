package storage

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/trail/internal/apperr"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// openTestStore creates a migrated in-memory store with a controllable clock.
func openTestStore(t *testing.T) (*SQLiteStore, *testClock) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))

	clock := &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := NewSQLiteStore(db, WithClock(clock.Now), WithLogger(discardLogger()))
	require.NoError(t, err)
	return store, clock
}

func mustSession(t *testing.T, s *SQLiteStore, id string) Session {
	t.Helper()
	got, err := s.GetSession(context.Background(), id)
	require.NoError(t, err)
	return got.Session
}

func openSessionFor(t *testing.T, s *SQLiteStore, tabID int64) *Session {
	t.Helper()
	open, err := s.OpenSessions(context.Background())
	require.NoError(t, err)
	for _, sess := range open {
		if sess.TabID == tabID {
			return &sess
		}
	}
	return nil
}

func countSessions(t *testing.T, s *SQLiteStore) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM session").Scan(&n))
	return n
}

func ptr[T any](v T) *T { return &v }

// --- Session transitions ---

func TestTabChanged_SameTabSuccession(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://www.example.com/a?x=1", Title: "A"}))
	s1 := openSessionFor(t, store, 1)
	require.NotNil(t, s1)
	assert.Equal(t, "example.com", s1.Host)
	assert.Equal(t, "https://www.example.com/a", s1.URL)
	assert.Equal(t, "https://www.example.com/a?x=1", s1.RawURL)
	assert.Equal(t, DefaultTransition, s1.TransitionType)

	clock.Advance(time.Minute)
	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://example.com/b", Title: "B"}))

	s2 := openSessionFor(t, store, 1)
	require.NotNil(t, s2)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Empty(t, s2.ParentSessionID)

	ended := mustSession(t, store, s1.ID)
	require.NotNil(t, ended.EndedAt)
	assert.True(t, clock.Now().Equal(*ended.EndedAt))
	assert.Equal(t, s2.ID, ended.NextSessionID)
}

func TestTabChanged_SameURLIsNoop(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://example.com/a?x=1"}))
	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://example.com/a?x=2#frag"}))

	assert.Equal(t, 1, countSessions(t, store))
	assert.NotNil(t, openSessionFor(t, store, 1))
}

func TestTabChanged_CrossTabParent(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://news.example.com/"}))
	source := openSessionFor(t, store, 1)

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 2, URL: "https://blog.example.org/post", SourceTabID: ptr(int64(1))}))
	child := openSessionFor(t, store, 2)
	require.NotNil(t, child)
	assert.Equal(t, source.ID, child.ParentSessionID)

	// The source tab keeps its session.
	assert.Equal(t, source.ID, openSessionFor(t, store, 1).ID)
}

func TestTabChanged_ReloadLinksBothWays(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 3, URL: "https://example.com/a"}))
	first := openSessionFor(t, store, 3)
	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 3, URL: "https://example.com/b", TransitionType: "reload"}))
	second := openSessionFor(t, store, 3)

	assert.Equal(t, first.ID, second.ParentSessionID)
	assert.Equal(t, "reload", second.TransitionType)
	assert.Equal(t, second.ID, mustSession(t, store, first.ID).NextSessionID)
}

func TestTabChanged_UnindexedURLClosesOpenSession(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 4, URL: "https://example.com/"}))
	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 4, URL: "chrome://newtab/"}))
	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 5, URL: "http://localhost:3000/"}))

	assert.Nil(t, openSessionFor(t, store, 4))
	assert.Nil(t, openSessionFor(t, store, 5))
	assert.Equal(t, 1, countSessions(t, store))
}

func TestTabChanged_DataCollectionDisabled(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, err := store.UpdateSettings(ctx, SettingsPatch{DataCollectionEnabled: ptr(false)})
	require.NoError(t, err)
	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://example.com/"}))
	assert.Equal(t, 0, countSessions(t, store))
}

func TestTabChanged_RepairsDuplicateOpenSessions(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"old", "new"} {
		require.NoError(t, store.insertSession(ctx, store.DB(), &Session{
			ID: id, TabID: 9, Host: "example.com", URL: "https://example.com/" + id,
			RawURL:    "https://example.com/" + id,
			StartedAt: time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC),
		}))
	}

	require.NoError(t, store.TabClosed(ctx, 9))
	assert.Nil(t, openSessionFor(t, store, 9))
	assert.NotNil(t, mustSession(t, store, "old").EndedAt)
	assert.NotNil(t, mustSession(t, store, "new").EndedAt)
}

func TestTabChanged_Aborted(t *testing.T) {
	store, _ := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://example.com/"})
	require.Error(t, err)
	assert.True(t, apperr.IsAborted(err), "got %v", err)
	assert.Equal(t, 0, countSessions(t, store))
}

func TestTabClosed(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.TabClosed(ctx, 42), "closing an unknown tab is not an error")

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 42, URL: "https://example.com/"}))
	require.NoError(t, store.TabClosed(ctx, 42))
	assert.Nil(t, openSessionFor(t, store, 42))
}

func TestTabInteraction(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://example.com/a", Title: "Loading"}))
	clock.Advance(time.Second)

	require.NoError(t, store.TabInteraction(ctx, TabInteraction{TabID: 1, URL: "https://example.com/a?page=2", Title: "Article"}))
	require.NoError(t, store.TabInteraction(ctx, TabInteraction{TabID: 1, URL: "https://example.com/other"}))
	require.NoError(t, store.TabInteraction(ctx, TabInteraction{TabID: 1}))

	sess := openSessionFor(t, store, 1)
	assert.Equal(t, int64(1), sess.InteractionCount)
	assert.Equal(t, "Article", sess.Title)
	assert.Equal(t, "https://example.com/a?page=2", sess.RawURL)
	require.NotNil(t, sess.LastInteractionAt)
	assert.True(t, clock.Now().Equal(*sess.LastInteractionAt))
}

func TestGetSession_WithChildren(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://example.com/"}))
	parent := openSessionFor(t, store, 1)
	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 2, URL: "https://a.example.org/", SourceTabID: ptr(int64(1))}))
	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 3, URL: "https://b.example.org/", SourceTabID: ptr(int64(1))}))

	got, err := store.GetSession(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, got.Children, 2)

	_, err = store.GetSession(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

// --- Settings ---

func TestSettings_DefaultsAndPatch(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	st, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, st.DataCollectionEnabled)
	assert.False(t, st.DevModeEnabled)
	assert.Equal(t, 6, st.RetentionPolicyMonths)
	assert.Equal(t, ThemeAuto, st.Theme)

	clock.Advance(time.Hour)
	updated, err := store.UpdateSettings(ctx, SettingsPatch{Theme: ptr(ThemeDark), RetentionPolicyMonths: ptr(12)})
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, updated.Theme)
	assert.Equal(t, 12, updated.RetentionPolicyMonths)
	assert.True(t, updated.DataCollectionEnabled, "unset fields are kept")
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	again, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated.ID, again.ID)
	assert.Equal(t, ThemeDark, again.Theme)
}

func TestSettings_RejectsInvalidPatch(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, err := store.UpdateSettings(ctx, SettingsPatch{Theme: ptr("neon")})
	assert.True(t, apperr.IsValidation(err))
	_, err = store.UpdateSettings(ctx, SettingsPatch{RetentionPolicyMonths: ptr(0)})
	assert.True(t, apperr.IsValidation(err))
}

func TestSettings_ExtraRowsDeleted(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	first, err := store.GetSettings(ctx)
	require.NoError(t, err)
	_, err = store.DB().Exec(`INSERT INTO settings (theme, createdAt, updatedAt) VALUES ('light', '2024-01-01 00:00:00.000', '2024-01-01 00:00:00.000')`)
	require.NoError(t, err)

	got, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	var n int
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM settings").Scan(&n))
	assert.Equal(t, 1, n)
}

// --- Ghost sessions ---

func TestCreateGhostSessions(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

	visits := []GhostVisit{
		{VisitID: "100", ReferringVisitID: "0", URL: "https://example.com/start", Title: "Start", VisitTime: at},
		{VisitID: "101", ReferringVisitID: "100", URL: "https://example.com/next", Title: "Next", VisitTime: at.Add(time.Minute), Transition: "link"},
		{VisitID: "102", URL: "chrome://settings/", VisitTime: at},
		{VisitID: "101", URL: "https://example.com/dupe", VisitTime: at},
	}
	n, err := store.CreateGhostSessions(ctx, visits)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	byVisit := ghostsByVisit(t, store)
	require.Len(t, byVisit, 2)
	start, next := byVisit["100"], byVisit["101"]
	assert.Equal(t, GhostTabID, start.TabID)
	assert.Empty(t, start.ParentSessionID, "referring visit 0 is ignored")
	assert.Empty(t, start.TransitionType)
	require.NotNil(t, start.EndedAt)
	assert.True(t, at.Equal(*start.EndedAt))
	assert.Equal(t, start.ID, next.ParentSessionID)
	assert.Equal(t, "link", next.TransitionType)

	// A second pass with the same visits creates nothing.
	n, err = store.CreateGhostSessions(ctx, visits)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCreateGhostSessions_Chunked(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

	var visits []GhostVisit
	for i := 0; i < 2*ghostChunkSize+7; i++ {
		visits = append(visits, GhostVisit{
			VisitID:   time.Duration(i).String(),
			URL:       "https://example.com/" + time.Duration(i).String(),
			VisitTime: at.Add(time.Duration(i) * time.Second),
		})
	}
	n, err := store.CreateGhostSessions(ctx, visits)
	require.NoError(t, err)
	assert.Equal(t, len(visits), n)
	assert.Equal(t, len(visits), countSessions(t, store))
}

func ghostsByVisit(t *testing.T, store *SQLiteStore) map[string]Session {
	t.Helper()
	rows, err := store.DB().Query("SELECT "+SessionSelect("")+" FROM session WHERE tabId = ?", GhostTabID)
	require.NoError(t, err)
	sessions, err := collectSessions(rows)
	require.NoError(t, err)
	out := map[string]Session{}
	for _, s := range sessions {
		out[s.ChromeVisitID] = s
	}
	return out
}

func TestFixChromeParents(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

	// The child arrives before its referrer.
	_, err := store.CreateGhostSessions(ctx, []GhostVisit{
		{VisitID: "201", ReferringVisitID: "200", URL: "https://example.com/child", VisitTime: at.Add(time.Minute)},
	})
	require.NoError(t, err)
	_, err = store.CreateGhostSessions(ctx, []GhostVisit{
		{VisitID: "200", URL: "https://example.com/parent", VisitTime: at},
		{VisitID: "300", ReferringVisitID: "300", URL: "https://example.com/self", VisitTime: at},
	})
	require.NoError(t, err)

	fixed, err := store.FixChromeParents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fixed)

	byVisit := ghostsByVisit(t, store)
	assert.Equal(t, byVisit["200"].ID, byVisit["201"].ParentSessionID)
	assert.Empty(t, byVisit["300"].ParentSessionID)

	fixed, err = store.FixChromeParents(ctx)
	require.NoError(t, err)
	assert.Zero(t, fixed)
}

func TestCorrelateChromeVisit(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://example.com/live"}))
	live := openSessionFor(t, store, 1)

	_, err := store.CreateGhostSessions(ctx, []GhostVisit{
		{VisitID: "500", URL: "https://example.com/live", VisitTime: at},
		{VisitID: "501", ReferringVisitID: "500", URL: "https://example.com/after", VisitTime: at.Add(time.Minute)},
	})
	require.NoError(t, err)

	require.NoError(t, store.CorrelateChromeVisit(ctx, ChromeVisit{
		SessionID: live.ID, VisitID: "500", ReferringVisitID: "499", Transition: "typed",
	}))

	got := mustSession(t, store, live.ID)
	assert.Equal(t, "500", got.ChromeVisitID)
	assert.Equal(t, "499", got.ChromeReferringVisitID)
	assert.Equal(t, "typed", got.TransitionType)

	byVisit := ghostsByVisit(t, store)
	_, ghostLeft := byVisit["500"]
	assert.False(t, ghostLeft, "ghost with the same visit id is merged away")
	assert.Equal(t, live.ID, byVisit["501"].ParentSessionID)

	// A second correlation with another id leaves the session unchanged.
	require.NoError(t, store.CorrelateChromeVisit(ctx, ChromeVisit{SessionID: live.ID, VisitID: "999"}))
	assert.Equal(t, "500", mustSession(t, store, live.ID).ChromeVisitID)

	// Unknown sessions are logged and ignored.
	require.NoError(t, store.CorrelateChromeVisit(ctx, ChromeVisit{SessionID: "missing", VisitID: "1"}))

	// Later ghosts for a correlated visit are not recreated.
	n, err := store.CreateGhostSessions(ctx, []GhostVisit{{VisitID: "500", URL: "https://example.com/live", VisitTime: at}})
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Maintenance ---

func TestApplyRetentionPolicy(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	_, err := store.CreateGhostSessions(ctx, []GhostVisit{
		{VisitID: "1", URL: "https://example.com/old", VisitTime: clock.Now().Add(-200 * 24 * time.Hour)},
		{VisitID: "2", URL: "https://example.com/new", VisitTime: clock.Now().Add(-10 * 24 * time.Hour)},
	})
	require.NoError(t, err)

	deleted, err := store.ApplyRetentionPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	_, kept := ghostsByVisit(t, store)["2"]
	assert.True(t, kept)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, stats.RecentAudit)
	assert.Equal(t, "retention", stats.RecentAudit[0].Action)
}

func TestRegenerateIndex(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://example.com/", Title: "Quarterly report"}))
	require.NoError(t, store.RegenerateIndex(ctx))

	var n int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM session_index WHERE session_index MATCH '"report"'`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM session_term_index_vocab WHERE term = 'quarterly'`).Scan(&n))
	assert.Equal(t, 1, n)

	aborted, cancel := context.WithCancel(ctx)
	cancel()
	assert.True(t, apperr.IsAborted(store.RegenerateIndex(aborted)))
}

func TestExportImportRoundTrip(t *testing.T) {
	src, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, src.TabChanged(ctx, TabChange{TabID: 1, URL: "https://example.com/exported", Title: "Exported"}))
	_, err := src.UpdateSettings(ctx, SettingsPatch{Theme: ptr(ThemeLight)})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "export.db")
	require.NoError(t, src.ExportTo(ctx, path))
	assert.True(t, apperr.IsValidation(src.ExportTo(ctx, path)), "existing targets are refused")

	dst, _ := openTestStore(t)
	require.NoError(t, dst.TabChanged(ctx, TabChange{TabID: 7, URL: "https://example.com/replaced"}))
	require.NoError(t, dst.ImportFrom(ctx, path))

	assert.Equal(t, 1, countSessions(t, dst))
	assert.NotNil(t, openSessionFor(t, dst, 1))
	st, err := dst.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, st.Theme)

	var n int
	require.NoError(t, dst.DB().QueryRow(`SELECT COUNT(*) FROM session_index WHERE session_index MATCH '"Exported"'`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, dst.DB().QueryRow(`SELECT COUNT(*) FROM session_index WHERE session_index MATCH '"replaced"'`).Scan(&n))
	assert.Zero(t, n)

	assert.True(t, apperr.IsValidation(dst.ImportFrom(ctx, filepath.Join(t.TempDir(), "missing.db"))))
}

func TestPurgeAllAndStats(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://a.com/"}))
	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 2, URL: "https://a.com/x"}))
	_, err := store.CreateGhostSessions(ctx, []GhostVisit{{VisitID: "1", URL: "https://b.com/", VisitTime: time.Now()}})
	require.NoError(t, err)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalSessions)
	assert.Equal(t, int64(2), stats.OpenSessions)
	assert.Equal(t, int64(1), stats.GhostSessions)
	assert.NotNil(t, stats.OldestSession)
	assert.Greater(t, stats.DatabaseSizeBytes, int64(0))
	require.NotEmpty(t, stats.TopHosts)
	assert.Equal(t, HostCount{Host: "a.com", Count: 2}, stats.TopHosts[0])

	deleted, err := store.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	stats, err = store.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalSessions)
	assert.Nil(t, stats.OldestSession)
}

func TestRawQuery(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.TabChanged(ctx, TabChange{TabID: 1, URL: "https://a.com/"}))

	rows, err := store.RawQuery(ctx, "SELECT host, tabId FROM session")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a.com", rows[0]["host"])
	assert.Equal(t, int64(1), rows[0]["tabId"])

	_, err = store.RawQuery(ctx, "  ")
	assert.True(t, apperr.IsValidation(err))
	_, err = store.RawQuery(ctx, "SELECT * FROM nope")
	assert.Equal(t, apperr.CodeStorage, apperr.CodeOf(err))
}

// --- Connector ---

func TestConnector_RetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	calls := 0
	conn := NewConnector(func(ctx context.Context) (*SQLiteStore, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("disk not ready")
		}
		return Open(ctx, ":memory:", "", WithLogger(discardLogger()))
	})
	t.Cleanup(func() { conn.Close() })

	_, err := conn.Store(ctx)
	require.Error(t, err)

	first, err := conn.Store(ctx)
	require.NoError(t, err)
	second, err := conn.Store(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 2, calls)
}
