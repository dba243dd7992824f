// Package tracker turns raw browser navigation events into session
// transitions.
//
// Navigation events arrive out of order and some never arrive. The
// Observer keeps one pending record per tab frame from the first event of
// a navigation until it completes or fails, persisting the records through
// a kv.Store after every change so they survive restarts. A completed
// navigation is handed to the TabHandler, which drives the session store.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/runnerr0/trail/internal/kv"
)

// DefaultStateKey is the kv key holding the pending navigations.
const DefaultStateKey = "tracker/pending"

// DefaultStaleAfter is how long a pending navigation is kept without
// completing.
const DefaultStaleAfter = 7 * 24 * time.Hour

// EventKind names a browser navigation event.
type EventKind string

const (
	EventTargetCreated   EventKind = "navigation-target-created"
	EventBeforeNavigate  EventKind = "before-navigate"
	EventCommitted       EventKind = "committed"
	EventCompleted       EventKind = "completed"
	EventError           EventKind = "error"
	EventFragmentUpdated EventKind = "reference-fragment-updated"
	EventHistoryUpdated  EventKind = "history-state-updated"
)

// Event is one navigation event as reported by the browser.
type Event struct {
	Kind                 EventKind `json:"kind" validate:"required,oneof=navigation-target-created before-navigate committed completed error reference-fragment-updated history-state-updated"`
	TabID                int64     `json:"tabId"`
	FrameID              int64     `json:"frameId"`
	URL                  string    `json:"url,omitempty"`
	Title                string    `json:"title,omitempty"`
	TimeStamp            time.Time `json:"timeStamp"`
	SourceTabID          *int64    `json:"sourceTabId,omitempty"`
	SourceFrameID        *int64    `json:"sourceFrameId,omitempty"`
	TransitionType       string    `json:"transitionType,omitempty"`
	TransitionQualifiers []string  `json:"transitionQualifiers,omitempty"`
}

// Source is the frame a navigation was opened from.
type Source struct {
	TabID   *int64 `json:"tabId"`
	FrameID *int64 `json:"frameId"`
}

// PendingNavigation is a navigation that has started but not completed.
type PendingNavigation struct {
	Start                time.Time `json:"start"`
	OpenedInNewTab       bool      `json:"openedInNewTab"`
	Source               Source    `json:"source"`
	TransitionType       string    `json:"transitionType,omitempty"`
	TransitionQualifiers []string  `json:"transitionQualifiers"`
}

// Completion is a finished navigation.
type Completion struct {
	URL                  string        `json:"url"`
	Title                string        `json:"title,omitempty"`
	TabID                int64         `json:"tabId"`
	FrameID              int64         `json:"frameId"`
	TransitionType       string        `json:"transitionType,omitempty"`
	TransitionQualifiers []string      `json:"transitionQualifiers"`
	OpenedInNewTab       bool          `json:"openedInNewTab"`
	Source               Source        `json:"source"`
	Duration             time.Duration `json:"duration"`

	// Failed is set when the navigation ended in an error.
	Failed bool `json:"failed,omitempty"`
}

// state is the persisted form of the pending map. SaveTime orders saves so
// an older copy never replaces a newer one held in memory.
type state struct {
	Pending  map[string]*PendingNavigation `json:"pending"`
	SaveTime int64                         `json:"saveTime"`
}

// Observer tracks pending navigations.
type Observer struct {
	mu    sync.Mutex
	store kv.Store
	key   string
	log   *slog.Logger
	now   func() time.Time
	state state
}

// ObserverOption configures an Observer.
type ObserverOption func(*Observer)

// WithStateKey overrides the kv key.
func WithStateKey(key string) ObserverOption { return func(o *Observer) { o.key = key } }

// WithObserverLogger sets the logger.
func WithObserverLogger(l *slog.Logger) ObserverOption { return func(o *Observer) { o.log = l } }

// WithObserverClock overrides the clock used to stamp saves.
func WithObserverClock(now func() time.Time) ObserverOption {
	return func(o *Observer) { o.now = now }
}

// NewObserver returns an Observer persisting to store.
func NewObserver(store kv.Store, opts ...ObserverOption) *Observer {
	o := &Observer{
		store: store,
		key:   DefaultStateKey,
		log:   slog.Default(),
		now:   time.Now,
		state: state{Pending: map[string]*PendingNavigation{}},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PendingID is the key of a tab frame in the pending map.
func PendingID(tabID, frameID int64) string {
	return strconv.FormatInt(tabID, 10) + "-" + strconv.FormatInt(frameID, 10)
}

// ParsePendingID splits a key built by PendingID.
func ParsePendingID(id string) (tabID, frameID int64, ok bool) {
	tab, frame, found := strings.Cut(id, "-")
	if !found {
		return 0, 0, false
	}
	t, err1 := strconv.ParseInt(tab, 10, 64)
	f, err2 := strconv.ParseInt(frame, 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return t, f, true
}

// load refreshes the pending map from the store unless the stored copy is
// older than the last save made here.
func (o *Observer) load(ctx context.Context) error {
	var stored state
	found, err := kv.GetJSON(ctx, o.store, o.key, &stored)
	if err != nil {
		return fmt.Errorf("load pending navigations: %w", err)
	}
	if !found {
		return nil
	}
	if o.state.SaveTime != 0 && stored.SaveTime < o.state.SaveTime {
		o.log.Warn("ignoring stale pending navigations",
			"stored", time.UnixMilli(stored.SaveTime), "current", time.UnixMilli(o.state.SaveTime))
		return nil
	}
	if stored.Pending == nil {
		stored.Pending = map[string]*PendingNavigation{}
	}
	o.state = stored
	return nil
}

func (o *Observer) save(ctx context.Context) error {
	saveTime := o.now().UnixMilli()
	if saveTime <= o.state.SaveTime {
		saveTime = o.state.SaveTime + 1
	}
	o.state.SaveTime = saveTime
	if err := kv.SetJSON(ctx, o.store, o.key, o.state); err != nil {
		return fmt.Errorf("save pending navigations: %w", err)
	}
	return nil
}

func (o *Observer) prepare(id string) *PendingNavigation {
	p := o.state.Pending[id]
	if p == nil {
		p = &PendingNavigation{TransitionQualifiers: []string{}}
		o.state.Pending[id] = p
	}
	return p
}

// Handle applies ev to the pending map and persists the result. It returns
// a Completion when ev finishes a navigation. Events referring to a
// navigation that was never seen starting are logged and dropped.
func (o *Observer) Handle(ctx context.Context, ev Event) (*Completion, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.load(ctx); err != nil {
		return nil, err
	}
	id := PendingID(ev.TabID, ev.FrameID)
	pending := o.state.Pending[id]
	var done *Completion

	switch ev.Kind {
	case EventTargetCreated:
		p := o.prepare(id)
		p.OpenedInNewTab = ev.TabID != 0
		p.Source = Source{TabID: ev.SourceTabID, FrameID: ev.SourceFrameID}
		p.Start = ev.TimeStamp

	case EventBeforeNavigate:
		p := o.prepare(id)
		if p.Start.IsZero() {
			p.Start = ev.TimeStamp
		}

	case EventCommitted:
		if pending == nil {
			o.log.Debug("committed without pending navigation", "tab_id", ev.TabID, "frame_id", ev.FrameID, "url", ev.URL)
			return nil, nil
		}
		pending.TransitionType = ev.TransitionType
		pending.TransitionQualifiers = qualifiers(ev.TransitionQualifiers)

	case EventFragmentUpdated, EventHistoryUpdated:
		if pending == nil {
			// In-page navigations have no start event.
			return &Completion{
				URL:                  ev.URL,
				Title:                ev.Title,
				TabID:                ev.TabID,
				FrameID:              ev.FrameID,
				TransitionType:       ev.TransitionType,
				TransitionQualifiers: qualifiers(ev.TransitionQualifiers),
			}, nil
		}
		pending.TransitionType = ev.TransitionType
		pending.TransitionQualifiers = qualifiers(ev.TransitionQualifiers)

	case EventCompleted, EventError:
		if pending == nil {
			level := slog.LevelDebug
			if ev.Kind == EventError {
				level = slog.LevelWarn
			}
			o.log.Log(ctx, level, "navigation ended without pending navigation",
				"kind", ev.Kind, "tab_id", ev.TabID, "frame_id", ev.FrameID, "url", ev.URL)
			return nil, nil
		}
		done = &Completion{
			URL:                  ev.URL,
			Title:                ev.Title,
			TabID:                ev.TabID,
			FrameID:              ev.FrameID,
			TransitionType:       pending.TransitionType,
			TransitionQualifiers: qualifiers(pending.TransitionQualifiers),
			OpenedInNewTab:       pending.OpenedInNewTab,
			Source:               pending.Source,
			Failed:               ev.Kind == EventError,
		}
		if !pending.Start.IsZero() && !ev.TimeStamp.IsZero() {
			done.Duration = ev.TimeStamp.Sub(pending.Start)
		}
		delete(o.state.Pending, id)

	default:
		return nil, fmt.Errorf("unknown navigation event %q", ev.Kind)
	}

	if err := o.save(ctx); err != nil {
		return nil, err
	}
	return done, nil
}

// Pending returns a copy of the pending navigation for a tab frame.
func (o *Observer) Pending(ctx context.Context, tabID, frameID int64) (*PendingNavigation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.load(ctx); err != nil {
		return nil, err
	}
	p, ok := o.state.Pending[PendingID(tabID, frameID)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// PurgeStale drops pending navigations that started more than maxAge
// before now and returns how many were removed. Entries without a start
// time are kept.
func (o *Observer) PurgeStale(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultStaleAfter
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.load(ctx); err != nil {
		return 0, err
	}
	removed := 0
	for id, p := range o.state.Pending {
		if p.Start.IsZero() {
			continue
		}
		if now.Sub(p.Start) > maxAge {
			delete(o.state.Pending, id)
			removed++
		}
	}
	if err := o.save(ctx); err != nil {
		return 0, err
	}
	if removed > 0 {
		o.log.Info("purged stale pending navigations", "count", removed)
	}
	return removed, nil
}

func qualifiers(q []string) []string {
	if q == nil {
		return []string{}
	}
	return append([]string(nil), q...)
}
