package tracker

import (
	"context"
	"log/slog"

	"github.com/runnerr0/trail/internal/storage"
)

// SessionStore is the part of the session store driven by navigation.
type SessionStore interface {
	TabChanged(ctx context.Context, req storage.TabChange) error
	TabClosed(ctx context.Context, tabID int64) error
	OpenSessions(ctx context.Context) ([]storage.Session, error)
}

// TabHandler applies completed navigations to the session store.
type TabHandler struct {
	store SessionStore
	log   *slog.Logger
}

// NewTabHandler returns a TabHandler writing to store.
func NewTabHandler(store SessionStore, log *slog.Logger) *TabHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TabHandler{store: store, log: log}
}

// HandleCompletion records a top-frame navigation. Subframe navigations
// are ignored and failed navigations are only logged.
func (h *TabHandler) HandleCompletion(ctx context.Context, c Completion) error {
	if c.FrameID != 0 {
		return nil
	}
	if c.Failed {
		h.log.Warn("navigation error", "tab_id", c.TabID, "url", c.URL, "transition", c.TransitionType)
		return nil
	}

	req := storage.TabChange{
		TabID:          c.TabID,
		URL:            c.URL,
		Title:          c.Title,
		TransitionType: c.TransitionType,
	}
	if c.Source.TabID != nil && *c.Source.TabID != c.TabID {
		req.SourceTabID = c.Source.TabID
	}
	return h.store.TabChanged(ctx, req)
}

// TabRemoved ends the session of a closed tab.
func (h *TabHandler) TabRemoved(ctx context.Context, tabID int64) error {
	return h.store.TabClosed(ctx, tabID)
}

// Tracker feeds navigation events through an Observer into a TabHandler.
type Tracker struct {
	Observer *Observer
	Tabs     *TabHandler
}

// New returns a Tracker over the given observer and handler.
func New(observer *Observer, tabs *TabHandler) *Tracker {
	return &Tracker{Observer: observer, Tabs: tabs}
}

// HandleEvent records ev and, when it completes a navigation, applies the
// navigation to the session store. It returns the completion, if any.
func (t *Tracker) HandleEvent(ctx context.Context, ev Event) (*Completion, error) {
	done, err := t.Observer.Handle(ctx, ev)
	if err != nil || done == nil {
		return done, err
	}
	if err := t.Tabs.HandleCompletion(ctx, *done); err != nil {
		return nil, err
	}
	return done, nil
}
