package storage

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// OpenFunc opens and migrates a store.
type OpenFunc func(ctx context.Context) (*SQLiteStore, error)

// Connector opens the store lazily on first use. Concurrent callers share
// one attempt; a failed attempt is not cached, so the next call retries.
type Connector struct {
	open  OpenFunc
	group singleflight.Group

	mu    sync.Mutex
	store *SQLiteStore
}

// NewConnector returns a Connector that calls open on demand.
func NewConnector(open OpenFunc) *Connector {
	return &Connector{open: open}
}

// Store returns the open store, opening it if necessary.
func (c *Connector) Store(ctx context.Context) (*SQLiteStore, error) {
	if s := c.current(); s != nil {
		return s, nil
	}
	v, err, _ := c.group.Do("store", func() (any, error) {
		if s := c.current(); s != nil {
			return s, nil
		}
		s, err := c.open(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.store = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SQLiteStore), nil
}

func (c *Connector) current() *SQLiteStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// Close closes the store if it was opened.
func (c *Connector) Close() error {
	c.mu.Lock()
	s := c.store
	c.store = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

// TabChanged opens the store and records the navigation.
func (c *Connector) TabChanged(ctx context.Context, req TabChange) error {
	s, err := c.Store(ctx)
	if err != nil {
		return err
	}
	return s.TabChanged(ctx, req)
}

// TabClosed opens the store and ends the tab's session.
func (c *Connector) TabClosed(ctx context.Context, tabID int64) error {
	s, err := c.Store(ctx)
	if err != nil {
		return err
	}
	return s.TabClosed(ctx, tabID)
}

// OpenSessions opens the store and lists the open sessions.
func (c *Connector) OpenSessions(ctx context.Context) ([]Session, error) {
	s, err := c.Store(ctx)
	if err != nil {
		return nil, err
	}
	return s.OpenSessions(ctx)
}
