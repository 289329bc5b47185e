package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SiteHeaders stamps every response with the resolved site mode and the
// server version, and copies both onto the request span. Empty values are skipped.
func SiteHeaders(mode, version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mode != "" {
				w.Header().Set("X-Husky-Mode", mode)
			}
			if version != "" {
				w.Header().Set("X-Husky-Version", version)
			}
			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				if mode != "" {
					span.SetAttributes(attribute.String("husky.site_mode", mode))
				}
				if version != "" {
					span.SetAttributes(attribute.String("husky.version", version))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
