// Package listcache keeps the cards of each requested Trello list around for a
// bounded time, so page requests rarely wait on Trello and keep working while
// it is down.
//
// Entries live in a store.Store as JSON under "list:<id>", with the last
// encoded entry per list also kept in process. The local copy answers when the
// store fails or has lost the key. Every caller gets its own decoded copy, so
// handlers may mutate cards freely.
package listcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/robb-j/husky-cms/internal/card"
	"github.com/robb-j/husky-cms/internal/log"
	"github.com/robb-j/husky-cms/internal/store"
	"github.com/robb-j/husky-cms/internal/trello"
	"github.com/robb-j/husky-cms/internal/xerrors"
)

const (
	DefaultTTL             = 10 * time.Minute
	DefaultUpstreamTimeout = 15 * time.Second

	keyPrefix = "list:"
)

// Upstream is the content source. *trello.Client implements it.
type Upstream interface {
	GetListItems(ctx context.Context, listID string) ([]card.Card, error)
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncCacheHit()
	IncCacheMiss()
	IncStaleServed()
	IncUpstreamError(kind string)
	ObserveUpstreamDuration(seconds float64)
	SetRequestedLists(n int)
}

type Options struct {
	Store    store.Store
	Upstream Upstream
	Logger   log.Logger
	Metrics  Metrics

	// TTL is how long a fetched list is served without asking upstream. Zero uses DefaultTTL.
	TTL time.Duration

	// UpstreamTimeout bounds one shared upstream fetch, independent of the caller's ctx.
	UpstreamTimeout time.Duration

	// Now is the clock, nil means time.Now
	Now func() time.Time
}

// Entry is the stored form of one list.
type Entry struct {
	Items     []card.Card `json:"items"`
	FetchedAt time.Time   `json:"fetchedAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type Cache struct {
	store    store.Store
	upstream Upstream
	logger   log.Logger
	metrics  Metrics
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time

	flights singleflight.Group

	localMu sync.RWMutex
	local   map[string][]byte

	// requested only grows; order is first-request order
	mu        sync.RWMutex
	requested map[string]struct{}
	order     []string
}

func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, xerrors.New("listcache: store is required")
	}
	if opts.Upstream == nil {
		return nil, xerrors.New("listcache: upstream is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store:     opts.Store,
		upstream:  opts.Upstream,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		ttl:       opts.TTL,
		timeout:   opts.UpstreamTimeout,
		now:       opts.Now,
		local:     make(map[string][]byte),
		requested: make(map[string]struct{}),
	}, nil
}

func storeKey(listID string) string { return keyPrefix + listID }

// Fetch returns the cards of listID. It never fails: upstream errors fall back
// to the last stored entry, or to an empty slice when there is none.
// An empty listID is an unconfigured feed and returns empty without any I/O.
func (c *Cache) Fetch(ctx context.Context, listID string, force bool) []card.Card {
	if listID == "" {
		return []card.Card{}
	}
	c.markRequested(listID)

	asked := c.now()
	stale, haveStale := c.Entry(ctx, listID)
	if !force && haveStale && asked.Before(stale.ExpiresAt) {
		if c.metrics != nil {
			c.metrics.IncCacheHit()
		}
		return nonNil(stale.Items)
	}
	if c.metrics != nil {
		c.metrics.IncCacheMiss()
	}

	raw, err := c.refresh(ctx, listID, asked)
	if err == nil {
		var e Entry
		if derr := json.Unmarshal(raw, &e); derr == nil {
			return nonNil(e.Items)
		}
		err = xerrors.New("listcache: undecodable flight result")
	}

	if haveStale {
		c.logger.Warn(ctx, "listcache: upstream failed, serving stale entry",
			"list_id", listID,
			"error_class", trello.Classify(err),
			"err", err,
			"fetched_at", stale.FetchedAt,
		)
		if c.metrics != nil {
			c.metrics.IncStaleServed()
		}
		return nonNil(stale.Items)
	}
	c.logger.Warn(ctx, "listcache: upstream failed with nothing cached, serving empty list",
		"list_id", listID,
		"error_class", trello.Classify(err),
		"err", err,
	)
	return []card.Card{}
}

// FetchAndRefresh is Fetch bypassing the TTL.
func (c *Cache) FetchAndRefresh(ctx context.Context, listID string) []card.Card {
	return c.Fetch(ctx, listID, true)
}

// Refresh fetches listID from upstream and stores it, reporting any failure.
// The list is not added to the requested set.
func (c *Cache) Refresh(ctx context.Context, listID string) error {
	if listID == "" {
		return nil
	}
	_, err := c.refresh(ctx, listID, c.now())
	return err
}

// refresh runs at most one upstream fetch per list at a time. Callers that
// arrive while one is in flight wait for it. If another fetch completed
// after asked, its stored result is reused instead of going upstream again.
func (c *Cache) refresh(ctx context.Context, listID string, asked time.Time) ([]byte, error) {
	v, err, _ := c.flights.Do(listID, func() (any, error) {
		if e, ok := c.Entry(ctx, listID); ok && e.FetchedAt.After(asked) {
			return json.Marshal(e)
		}

		// the flight is shared, one caller going away must not cancel it for the rest
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		start := time.Now()
		items, err := c.upstream.GetListItems(fctx, listID)
		if c.metrics != nil {
			c.metrics.ObserveUpstreamDuration(time.Since(start).Seconds())
		}
		if err != nil {
			if c.metrics != nil {
				c.metrics.IncUpstreamError(trello.Classify(err))
			}
			return nil, xerrors.WithKind(xerrors.Wrapf(err, "fetch list %s", listID), xerrors.KindUpstream)
		}

		fetched := c.now()
		raw, err := json.Marshal(Entry{
			Items:     nonNil(items),
			FetchedAt: fetched,
			ExpiresAt: fetched.Add(c.ttl),
		})
		if err != nil {
			return nil, xerrors.Wrapf(err, "encode list %s", listID)
		}
		c.remember(listID, raw)
		if err := c.store.Set(fctx, storeKey(listID), raw); err != nil {
			// still hand the fresh cards to the waiting callers
			c.logger.Error(ctx, err, "listcache: store write failed", "list_id", listID)
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Entry reads and decodes the stored entry for listID. A failed or empty store
// read falls back to the entry this process last fetched.
func (c *Cache) Entry(ctx context.Context, listID string) (Entry, bool) {
	raw, err := c.store.Get(ctx, storeKey(listID), nil)
	if err != nil {
		c.logger.Error(ctx, err, "listcache: store read failed", "list_id", listID)
		raw = nil
	}
	if raw == nil {
		raw = c.recall(listID)
	}
	if raw == nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn(ctx, "listcache: discarding undecodable entry", "list_id", listID, "err", err)
		return Entry{}, false
	}
	return e, true
}

func (c *Cache) remember(listID string, raw []byte) {
	c.localMu.Lock()
	c.local[listID] = raw
	c.localMu.Unlock()
}

func (c *Cache) recall(listID string) []byte {
	c.localMu.RLock()
	defer c.localMu.RUnlock()
	return c.local[listID]
}

func (c *Cache) markRequested(listID string) {
	c.mu.RLock()
	_, ok := c.requested[listID]
	c.mu.RUnlock()
	if ok {
		return
	}

	c.mu.Lock()
	if _, ok := c.requested[listID]; !ok {
		c.requested[listID] = struct{}{}
		c.order = append(c.order, listID)
	}
	n := len(c.order)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetRequestedLists(n)
	}
}

// Requested returns every list id fetched so far, in first-request order.
func (c *Cache) Requested() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func nonNil(items []card.Card) []card.Card {
	if items == nil {
		return []card.Card{}
	}
	return items
}
