package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/robb-j/husky-cms/internal/health"
	"github.com/robb-j/husky-cms/internal/httpmw"
	"github.com/robb-j/husky-cms/internal/log"
)

// routesFunc adapts a function to RouteRegistrar.
type routesFunc func(r chi.Router)

func (f routesFunc) RegisterRoutes(r chi.Router) { f(r) }

func defaultOpts() *Options {
	return &Options{Logger: log.Nop()}
}

func withRoutes(opts *Options, fn func(r chi.Router)) *Options {
	opts.Site = routesFunc(fn)
	return opts
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestNewHandler_SecurityHeaders(t *testing.T) {
	h := NewHandler(defaultOpts())
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodHead} {
		rec := doRequest(t, h, method, "/anything")
		if got := rec.Header().Get("Content-Security-Policy"); got != httpmw.ContentSecurityPolicy {
			t.Errorf("%s: CSP = %q", method, got)
		}
		if rec.Header().Get("X-Frame-Options") != "DENY" {
			t.Errorf("%s: X-Frame-Options missing", method)
		}
		if rec.Header().Get("Strict-Transport-Security") != "" {
			t.Errorf("%s: HSTS set without opts.HSTS", method)
		}
	}

	opts := defaultOpts()
	opts.HSTS = true
	if got := doRequest(t, NewHandler(opts), http.MethodGet, "/").Header().Get("Strict-Transport-Security"); got == "" {
		t.Fatal("HSTS missing with opts.HSTS")
	}
}

func TestNewHandler_RequestID(t *testing.T) {
	h := NewHandler(defaultOpts())

	a := doRequest(t, h, http.MethodGet, "/").Header().Get("X-Request-Id")
	b := doRequest(t, h, http.MethodGet, "/").Header().Get("X-Request-Id")
	if len(a) != 32 || a == b {
		t.Fatalf("generated ids %q %q", a, b)
	}

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Request-Id", "upstream-id.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "upstream-id.1" {
		t.Fatalf("propagated id = %q", got)
	}
}

func TestNewHandler_SiteRoutes(t *testing.T) {
	opts := withRoutes(defaultOpts(), func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("home")) })
		r.Get("/blog/{post}", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("post " + chi.URLParam(r, "post")))
		})
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("custom 404"))
		})
	})
	opts.Health = health.Fixed(true, "")
	h := NewHandler(opts)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "home"},
		{"/blog/hello", http.StatusOK, "post hello"},
		{"/nope", http.StatusNotFound, "custom 404"},
		{"/-/healthy", http.StatusOK, "ok\n"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, tt.path)
			if rec.Code != tt.status || rec.Body.String() != tt.body {
				t.Fatalf("%s = %d %q, want %d %q", tt.path, rec.Code, rec.Body.String(), tt.status, tt.body)
			}
		})
	}
}

func TestNewHandler_RedirectsTrailingSlash(t *testing.T) {
	h := NewHandler(withRoutes(defaultOpts(), func(r chi.Router) {
		r.Get("/blog", func(w http.ResponseWriter, r *http.Request) {})
	}))
	rec := doRequest(t, h, http.MethodGet, "/blog/")
	if rec.Code != http.StatusMovedPermanently || rec.Header().Get("Location") != "/blog" {
		t.Fatalf("got %d Location=%q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestNewHandler_Probes(t *testing.T) {
	tests := []struct {
		name      string
		health    health.Probe
		readiness health.Probe
		path      string
		want      int
	}{
		{"healthy", health.Fixed(true, ""), nil, "/-/healthy", http.StatusOK},
		{"unhealthy", health.Fixed(false, "down"), nil, "/-/healthy", http.StatusServiceUnavailable},
		{"ready", nil, health.CheckFunc(func(context.Context) error { return nil }), "/-/ready", http.StatusOK},
		{"not ready", nil, health.CheckFunc(func(context.Context) error { return errors.New("warming") }), "/-/ready", http.StatusServiceUnavailable},
		{"no probe", nil, nil, "/-/ready", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOpts()
			opts.Health = tt.health
			opts.Readiness = tt.readiness
			if rec := doRequest(t, NewHandler(opts), http.MethodGet, tt.path); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestNewHandler_SiteHeaders(t *testing.T) {
	opts := defaultOpts()
	opts.SiteMode = "single:blog"
	opts.Version = "1.4.0"
	rec := doRequest(t, NewHandler(opts), http.MethodGet, "/")
	if rec.Header().Get("X-Husky-Mode") != "single:blog" || rec.Header().Get("X-Husky-Version") != "1.4.0" {
		t.Fatalf("headers = %v", rec.Header())
	}
}

func TestNewHandler_OptionalMiddleware(t *testing.T) {
	var metricsHit bool
	opts := defaultOpts()
	opts.MetricsMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metricsHit = true
			next.ServeHTTP(w, r)
		})
	}
	opts.RateLimitMW = func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}

	rec := doRequest(t, NewHandler(opts), http.MethodGet, "/")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 from rate limiter", rec.Code)
	}
	if metricsHit {
		t.Fatal("metrics middleware ran inside a denied request")
	}
	if rec.Header().Get("X-Request-Id") == "" || rec.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("outer middleware skipped on denied request")
	}
}

func TestNewHandler_Recover(t *testing.T) {
	panicky := func(r chi.Router) {
		r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("test panic") })
	}

	var called bool
	opts := withRoutes(defaultOpts(), panicky)
	opts.UseRecoverMW = true
	opts.OnPanic = func() { called = true }
	rec := doRequest(t, NewHandler(opts), http.MethodGet, "/boom")
	if rec.Code != http.StatusInternalServerError || !called {
		t.Fatalf("status=%d onPanic=%v", rec.Code, called)
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("security headers missing after panic recovery")
	}

	h := NewHandler(withRoutes(defaultOpts(), panicky))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic to propagate when recover is off")
		}
	}()
	doRequest(t, h, http.MethodGet, "/boom")
}

func TestNewHandler_ClientIPInContext(t *testing.T) {
	var got string
	h := NewHandler(withRoutes(defaultOpts(), func(r chi.Router) {
		r.Get("/ip", func(w http.ResponseWriter, r *http.Request) {
			got = httpmw.ClientIPFromContext(r.Context())
		})
	}))
	req := httptest.NewRequest(http.MethodGet, "/ip", http.NoBody)
	req.RemoteAddr = "203.0.113.9:4242"
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "203.0.113.9" {
		t.Fatalf("client ip = %q", got)
	}
}

func TestNewHandler_Compression(t *testing.T) {
	h := NewHandler(withRoutes(defaultOpts(), func(r chi.Router) {
		r.Get("/page", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(strings.Repeat("<p>husky</p>", 200)))
		})
	}))

	req := httptest.NewRequest(http.MethodGet, "/page", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", rec.Header().Get("Content-Encoding"))
	}

	if rec := doRequest(t, h, http.MethodGet, "/page"); rec.Header().Get("Content-Encoding") != "" {
		t.Fatal("compressed without Accept-Encoding")
	}
}

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler())
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout || srv.ReadTimeout != DefaultReadTimeout ||
		srv.WriteTimeout != DefaultWriteTimeout || srv.IdleTimeout != DefaultIdleTimeout ||
		srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Fatalf("server = %+v", srv)
	}
}

func TestStart_ServeAndShutdown(t *testing.T) {
	port := getFreePort(t)
	opts := withRoutes(defaultOpts(), func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("alive")) })
	})
	opts.Port = port

	ctx := t.Context()
	stop, err := Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	addr := fmt.Sprintf("http://127.0.0.1:%d/", port)
	resp, err := http.Get(addr)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "alive" || resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("body=%q headers=%v", body, resp.Header)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := stop(sctx); err != nil {
			t.Fatalf("stop #%d: %v", i+1, err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := http.Get(addr); err == nil {
		t.Fatal("server still accepting after shutdown")
	}
}

func TestStart_PortConflict(t *testing.T) {
	opts := defaultOpts()
	opts.Port = getFreePort(t)

	stop, err := Start(t.Context(), opts)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer stop(context.Background())

	if _, err := Start(t.Context(), opts); err == nil {
		t.Fatal("expected error for port conflict")
	}
}

func TestStart_NilLogger(t *testing.T) {
	opts := &Options{Port: getFreePort(t)}
	stop, err := Start(t.Context(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestTraced(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/blog/hello-world", true},
		{"/-/ready", false},
		{"/favicon.ico", false},
		{"/static/husky.css", false},
		{"/img/cover.PNG", false},
	}
	for _, tt := range tests {
		if got := traced(tt.path); got != tt.want {
			t.Errorf("traced(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
