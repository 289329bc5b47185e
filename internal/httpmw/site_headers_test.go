package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSiteHeaders(t *testing.T) {
	tests := []struct {
		name, mode, version string
	}{
		{"both", "single:blog", "1.4.0"},
		{"mode only", "composite", ""},
		{"neither", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

			rec := httptest.NewRecorder()
			SiteHeaders(tt.mode, tt.version)(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

			if !called {
				t.Fatal("next handler not called")
			}
			if got := rec.Header().Get("X-Husky-Mode"); got != tt.mode {
				t.Errorf("X-Husky-Mode = %q, want %q", got, tt.mode)
			}
			if got := rec.Header().Get("X-Husky-Version"); got != tt.version {
				t.Errorf("X-Husky-Version = %q, want %q", got, tt.version)
			}
			if _, ok := rec.Header()["X-Husky-Version"]; tt.version == "" && ok {
				t.Error("empty version should not set the header")
			}
		})
	}
}

func TestSiteHeaders_AnnotatesSpan(t *testing.T) {
	ctx, sr := newRecordingSpan(t, "GET /")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(ctx)
	SiteHeaders("composite", "dev")(http.NotFoundHandler()).ServeHTTP(rec, req)

	attrs := spanAttrs(t, ctx, sr)
	if attrs["husky.site_mode"] != "composite" || attrs["husky.version"] != "dev" {
		t.Fatalf("attrs = %v", attrs)
	}
}
