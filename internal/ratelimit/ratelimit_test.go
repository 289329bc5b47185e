package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robb-j/husky-cms/internal/httpmw"
)

// newTestLimiter creates a limiter with a long TTL so cleanup never races the
// test; eviction is driven by calling evict directly.
func newTestLimiter(t *testing.T, opts ...Option) *IPLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	all := append([]Option{WithRate(1, 5), WithTTL(time.Hour)}, opts...)
	return New(ctx, all...)
}

func TestDefaults(t *testing.T) {
	l := newTestLimiter(t)
	d := New(t.Context())
	if d.perSecond != DefaultPerSecond || d.burst != DefaultBurst || d.ttl != DefaultTTL || d.maxVisitors != DefaultMaxVisitors {
		t.Fatalf("defaults = %+v", d)
	}
	if l.burst != 5 {
		t.Fatalf("WithRate burst = %d", l.burst)
	}
}

func TestAllow_BurstThenReject(t *testing.T) {
	l := newTestLimiter(t)
	for i := 0; i < 5; i++ {
		if !l.allow("1.2.3.4") {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if l.allow("1.2.3.4") {
		t.Fatal("request past burst allowed")
	}
	if !l.allow("5.6.7.8") {
		t.Fatal("other ip should have its own bucket")
	}
}

func TestAllow_RefillAfterTime(t *testing.T) {
	l := newTestLimiter(t, WithRate(50, 1))
	if !l.allow("1.1.1.1") || l.allow("1.1.1.1") {
		t.Fatal("burst of 1 not enforced")
	}
	time.Sleep(60 * time.Millisecond)
	if !l.allow("1.1.1.1") {
		t.Fatal("bucket did not refill")
	}
}

func TestDeniedHooks(t *testing.T) {
	var first, every atomic.Int32
	l := newTestLimiter(t, WithRate(0.001, 1),
		WithOnFirstDenied(func(string) { first.Add(1) }),
		WithOnDenied(func(string) { every.Add(1) }),
	)
	l.allow("ip")
	for i := 0; i < 3; i++ {
		l.allow("ip")
	}
	if first.Load() != 1 || every.Load() != 3 {
		t.Fatalf("first=%d every=%d, want 1 3", first.Load(), every.Load())
	}

	// eviction resets the first-denied log
	l.evict(time.Now().Add(2 * time.Hour))
	l.allow("ip")
	l.allow("ip")
	if first.Load() != 2 {
		t.Fatalf("first after eviction = %d, want 2", first.Load())
	}
}

func TestNilCallbacks_NoPanic(t *testing.T) {
	l := newTestLimiter(t, WithRate(0.001, 1), WithMaxVisitors(1))
	l.allow("a")
	l.allow("a")
	l.allow("b")
}

func TestEvict_KeepsActiveVisitors(t *testing.T) {
	l := newTestLimiter(t)
	l.allow("old")
	l.mu.Lock()
	l.visitors["old"].lastSeen = time.Now().Add(-2 * time.Hour)
	l.mu.Unlock()
	l.allow("new")

	l.evict(time.Now())
	if l.len() != 1 {
		t.Fatalf("visitors = %d, want 1", l.len())
	}
	if _, ok := l.visitors["new"]; !ok {
		t.Fatal("active visitor evicted")
	}
}

func TestCleanup_EvictsInBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(ctx, WithTTL(10*time.Millisecond))
	l.allow("x")
	time.Sleep(50 * time.Millisecond)
	if l.len() != 0 {
		t.Fatalf("visitor not evicted by background cleanup")
	}
	cancel()
}

func TestMaxVisitors(t *testing.T) {
	var capacity atomic.Int32
	l := newTestLimiter(t, WithMaxVisitors(2), WithOnCapacity(func() { capacity.Add(1) }))

	if !l.allow("a") || !l.allow("b") {
		t.Fatal("first two ips should be tracked")
	}
	if l.allow("c") || l.allow("d") {
		t.Fatal("new ip past capacity allowed")
	}
	if !l.allow("a") {
		t.Fatal("tracked ip should still be served at capacity")
	}
	if capacity.Load() != 1 {
		t.Fatalf("OnCapacity = %d, want 1", capacity.Load())
	}

	l.evict(time.Now().Add(2 * time.Hour))
	if !l.allow("c") {
		t.Fatal("eviction should free capacity")
	}
}

func TestMaxVisitors_ZeroDisablesLimit(t *testing.T) {
	l := newTestLimiter(t, WithMaxVisitors(0))
	for i := 0; i < 100; i++ {
		if !l.allow(fmt.Sprintf("10.0.0.%d", i)) {
			t.Fatalf("ip %d rejected with no cap", i)
		}
	}
}

func makeRequestWithIP(handler http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/blog", http.NoBody)
	req = req.WithContext(httpmw.WithClientIP(req.Context(), ip))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	l := newTestLimiter(t, WithRate(0.001, 2))
	var reached atomic.Int32
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached.Add(1)
	}))

	for i := 0; i < 2; i++ {
		if rec := makeRequestWithIP(handler, "203.0.113.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := makeRequestWithIP(handler, "203.0.113.1")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "30" {
		t.Fatalf("denied response = %d retry=%q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if reached.Load() != 2 {
		t.Fatalf("handler reached %d times, want 2", reached.Load())
	}
	if rec := makeRequestWithIP(handler, "203.0.113.2"); rec.Code != http.StatusOK {
		t.Fatalf("other ip status = %d", rec.Code)
	}
}

func TestConcurrentAccess(t *testing.T) {
	l := newTestLimiter(t, WithRate(1000, 1000), WithMaxVisitors(10))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.allow(fmt.Sprintf("ip-%d", i%20))
		}(i)
	}
	wg.Wait()
	if n := l.len(); n > 10 {
		t.Fatalf("visitors = %d, exceeds cap", n)
	}
}
