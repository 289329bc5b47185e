package listcache

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/robb-j/husky-cms/internal/log"
	"github.com/robb-j/husky-cms/internal/trello"
)

const (
	// DefaultPollInterval is how often every requested list is re-fetched.
	DefaultPollInterval = 5 * time.Second

	// maxBackoff caps how long a failing list is left alone when backoff is on.
	maxBackoff = 5 * time.Minute
)

// ParsePollInterval reads a millisecond count. Anything that is not a
// positive integer gives DefaultPollInterval.
func ParsePollInterval(raw string) time.Duration {
	ms, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || ms <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(ms) * time.Millisecond
}

// RefresherMetrics is implemented by the metrics package.
type RefresherMetrics interface {
	IncRefreshCycle()
}

type RefresherOptions struct {
	Cache    *Cache
	Logger   log.Logger
	Metrics  RefresherMetrics
	Interval time.Duration

	// Backoff skips a list that keeps failing for exponentially more cycles.
	// Off means every list is retried every interval.
	Backoff bool
}

// Refresher re-fetches every requested list on a fixed interval so requests
// for lists seen before are served from cache.
type Refresher struct {
	cache    *Cache
	logger   log.Logger
	metrics  RefresherMetrics
	interval time.Duration
	backoff  bool

	// per-list backoff state, only touched from the Run goroutine
	failures map[string]int
	skip     map[string]int

	cycles int64
}

func NewRefresher(opts RefresherOptions) *Refresher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	return &Refresher{
		cache:    opts.Cache,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		interval: opts.Interval,
		backoff:  opts.Backoff,
		failures: make(map[string]int),
		skip:     make(map[string]int),
	}
}

// Run blocks until ctx is cancelled.
// Intended to be launched as: go refresher.Run(ctx)
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info(ctx, "list refresher starting",
		"poll_interval", r.interval.String(),
		"backoff", r.backoff,
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "list refresher stopping",
				"reason", ctx.Err(),
				"cycles", r.cycles,
			)
			return ctx.Err()
		case <-ticker.C:
			r.refreshOnce(ctx)
		}
	}
}

// refreshOnce walks the requested set in order. One list failing never stops
// the others.
func (r *Refresher) refreshOnce(ctx context.Context) {
	r.cycles++
	if r.metrics != nil {
		r.metrics.IncRefreshCycle()
	}

	for _, id := range r.cache.Requested() {
		if ctx.Err() != nil {
			return
		}
		if r.backoff && r.skip[id] > 0 {
			r.skip[id]--
			continue
		}

		err := r.refreshList(ctx, id)
		if err == nil {
			if r.failures[id] > 0 {
				r.logger.Info(ctx, "list refresher: list recovered",
					"list_id", id,
					"had_consecutive_errors", r.failures[id],
				)
			}
			delete(r.failures, id)
			delete(r.skip, id)
			continue
		}

		r.failures[id]++
		fields := []any{
			"list_id", id,
			"error_class", trello.Classify(err),
			"consecutive_errors", r.failures[id],
			"err", err,
		}
		if r.backoff {
			r.skip[id] = r.skipCycles(r.failures[id])
			fields = append(fields, "skip_cycles", r.skip[id])
		}
		r.logger.Warn(ctx, "list refresher: refresh failed", fields...)
	}
}

func (r *Refresher) refreshList(ctx context.Context, id string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("refresh panic: %v", rec)
		}
	}()
	return r.cache.Refresh(ctx, id)
}

// skipCycles is how many ticks to sit out after n consecutive failures, so the
// next attempt lands 2^n intervals after the last one, capped at maxBackoff.
func (r *Refresher) skipCycles(n int) int {
	limit := int(maxBackoff / r.interval)
	if limit < 1 {
		limit = 1
	}
	mult := math.Pow(2, float64(n))
	if mult > float64(limit) {
		return limit - 1
	}
	return int(mult) - 1
}
