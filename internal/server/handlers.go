package server

import (
	"context"
	"encoding/json"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/search"
	"github.com/runnerr0/trail/internal/storage"
	"github.com/runnerr0/trail/internal/tracker"
)

type empty struct{}

type queryRequest struct {
	Query string `json:"query" validate:"required"`
}

type tabRequest struct {
	TabID int64 `json:"tabId"`
}

type pathRequest struct {
	Path string `json:"path" validate:"required"`
}

type updateSettingsRequest struct {
	Settings storage.SettingsPatch `json:"settings"`
}

type ghostRequest struct {
	Visits []storage.GhostVisit `json:"visits" validate:"dive"`
}

type navigationRequest struct {
	Event tracker.Event `json:"event"`
}

type cleanupRequest struct {
	Tabs []tracker.LiveTab `json:"tabs" validate:"dive"`
}

type sessionRequest struct {
	ID string `json:"id" validate:"required"`
}

// QueryResponse holds the rows of a raw query.
type QueryResponse struct {
	Result []map[string]any `json:"result"`
}

// PathResponse names the file an export was written to.
type PathResponse struct {
	Path string `json:"path"`
}

// SettingsResponse holds the current settings.
type SettingsResponse struct {
	Settings *storage.Settings `json:"settings"`
}

// CreatedResponse counts ghost sessions created.
type CreatedResponse struct {
	Created int `json:"created"`
}

// UpdatedResponse counts rows updated.
type UpdatedResponse struct {
	Updated int64 `json:"updated"`
}

// DeletedResponse counts rows deleted.
type DeletedResponse struct {
	Deleted int64 `json:"deleted"`
}

// NavigationResponse holds the navigation completed by an event, if any.
type NavigationResponse struct {
	Completion *tracker.Completion `json:"completion,omitempty"`
}

// SessionResponse holds a session and its direct children.
type SessionResponse struct {
	Session *storage.SessionWithChildren `json:"session"`
}

// StatsResponse holds aggregate statistics.
type StatsResponse struct {
	Stats *storage.Stats `json:"stats"`
}

func (s *Service) buildRoutes() map[Kind]route {
	read := func(h handlerFunc) route { return route{handle: h} }
	write := func(h handlerFunc) route { return route{handle: h, writes: true} }

	return map[Kind]route{
		KindPing: read(func(ctx context.Context, _ json.RawMessage) (any, error) {
			return empty{}, apperr.CheckAbort(ctx)
		}),

		KindQuery: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *queryRequest) (any, error) {
			rows, err := st.RawQuery(ctx, req.Query)
			if err != nil {
				return nil, err
			}
			return QueryResponse{Result: rows}, nil
		})),

		KindQuerySessions: read(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *search.Request) (any, error) {
			return s.search(st).QuerySessions(ctx, *req)
		})),

		KindQuerySessionFacets: read(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *search.FacetsRequest) (any, error) {
			return s.search(st).QuerySessionFacets(ctx, *req)
		})),

		KindQuerySessionTimeline: read(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *search.TimelineRequest) (any, error) {
			return s.search(st).QuerySessionTimeline(ctx, *req)
		})),

		KindTabChanged: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *storage.TabChange) (any, error) {
			return empty{}, st.TabChanged(ctx, *req)
		})),

		KindTabClosed: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *tabRequest) (any, error) {
			return empty{}, st.TabClosed(ctx, req.TabID)
		})),

		KindTabInteraction: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *storage.TabInteraction) (any, error) {
			return empty{}, st.TabInteraction(ctx, *req)
		})),

		KindExportDatabase: read(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *pathRequest) (any, error) {
			if err := st.ExportTo(ctx, req.Path); err != nil {
				return nil, err
			}
			return PathResponse{Path: req.Path}, nil
		})),

		KindImportDatabase: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *pathRequest) (any, error) {
			return empty{}, st.ImportFrom(ctx, req.Path)
		})),

		KindRegenerateIndex: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, _ *empty) (any, error) {
			return empty{}, st.RegenerateIndex(ctx)
		})),

		KindGetSettings: read(handler(s, func(ctx context.Context, st *storage.SQLiteStore, _ *empty) (any, error) {
			settings, err := st.GetSettings(ctx)
			if err != nil {
				return nil, err
			}
			return SettingsResponse{Settings: settings}, nil
		})),

		KindUpdateSettings: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *updateSettingsRequest) (any, error) {
			settings, err := st.UpdateSettings(ctx, req.Settings)
			if err != nil {
				return nil, err
			}
			return SettingsResponse{Settings: settings}, nil
		})),

		KindCorrelateChromeVisit: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *storage.ChromeVisit) (any, error) {
			return empty{}, st.CorrelateChromeVisit(ctx, *req)
		})),

		KindCreateGhostSessions: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *ghostRequest) (any, error) {
			n, err := st.CreateGhostSessions(ctx, req.Visits)
			if err != nil {
				return nil, err
			}
			return CreatedResponse{Created: n}, nil
		})),

		KindFixChromeParents: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, _ *empty) (any, error) {
			n, err := st.FixChromeParents(ctx)
			if err != nil {
				return nil, err
			}
			return UpdatedResponse{Updated: n}, nil
		})),

		KindApplyRetentionPolicy: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, _ *empty) (any, error) {
			n, err := st.ApplyRetentionPolicy(ctx)
			if err != nil {
				return nil, err
			}
			return DeletedResponse{Deleted: n}, nil
		})),

		KindNavigationEvent: write(handler(s, func(ctx context.Context, _ *storage.SQLiteStore, req *navigationRequest) (any, error) {
			if s.tracker == nil {
				return nil, apperr.Validation("navigation tracking is not enabled")
			}
			done, err := s.tracker.HandleEvent(ctx, req.Event)
			if err != nil {
				return nil, err
			}
			return NavigationResponse{Completion: done}, nil
		})),

		KindCleanupSessions: write(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *cleanupRequest) (any, error) {
			return tracker.Reconcile(ctx, st, req.Tabs, s.log)
		})),

		KindGetSession: read(handler(s, func(ctx context.Context, st *storage.SQLiteStore, req *sessionRequest) (any, error) {
			sess, err := st.GetSession(ctx, req.ID)
			if err != nil {
				return nil, err
			}
			return SessionResponse{Session: sess}, nil
		})),

		KindGetStats: read(handler(s, func(ctx context.Context, st *storage.SQLiteStore, _ *empty) (any, error) {
			stats, err := st.GetStats(ctx)
			if err != nil {
				return nil, err
			}
			return StatsResponse{Stats: stats}, nil
		})),
	}
}
