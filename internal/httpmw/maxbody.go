package httpmw

import "net/http"

// DefaultMaxBody caps request bodies. Every husky route is a GET, so anything
// larger than a small form is refused.
const DefaultMaxBody = 64 << 10

// MaxBody limits request body size. Reading past the limit fails and the
// server answers 413.
func MaxBody(bytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, bytes)
			next.ServeHTTP(w, r)
		})
	}
}
