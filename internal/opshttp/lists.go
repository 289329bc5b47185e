package opshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/robb-j/husky-cms/internal/listcache"
)

// ListInspector is the read side of *listcache.Cache.
type ListInspector interface {
	Requested() []string
	Entry(ctx context.Context, listID string) (listcache.Entry, bool)
}

// Pinger is implemented by stores with a reachable backend, like *store.SQLite.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TemplateInfo is implemented by *render.Renderer.
type TemplateInfo interface {
	LoadedAt() time.Time
}

type listStatus struct {
	ID        string     `json:"id"`
	Cached    bool       `json:"cached"`
	Items     int        `json:"items"`
	FetchedAt *time.Time `json:"fetchedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Stale     bool       `json:"stale"`
}

type listsReport struct {
	Lists             []listStatus `json:"lists"`
	Store             string       `json:"store,omitempty"`
	TemplatesLoadedAt *time.Time   `json:"templatesLoadedAt,omitempty"`
}

// listsHandler reports every list the refresher polls and how fresh its
// cached copy is, plus store reachability and the template load time.
func listsHandler(opts *Options, now func() time.Time) http.HandlerFunc {
	li := opts.Lists
	return func(w http.ResponseWriter, r *http.Request) {
		ids := li.Requested()
		out := make([]listStatus, 0, len(ids))
		for _, id := range ids {
			st := listStatus{ID: id}
			if e, ok := li.Entry(r.Context(), id); ok {
				fetched, expires := e.FetchedAt, e.ExpiresAt
				st.Cached = true
				st.Items = len(e.Items)
				st.FetchedAt = &fetched
				st.ExpiresAt = &expires
				st.Stale = now().After(expires)
			}
			out = append(out, st)
		}
		report := listsReport{Lists: out}
		if opts.Store != nil {
			report.Store = "ok"
			if err := opts.Store.Ping(r.Context()); err != nil {
				report.Store = err.Error()
			}
		}
		if opts.Templates != nil {
			if at := opts.Templates.LoadedAt(); !at.IsZero() {
				report.TemplatesLoadedAt = &at
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(report)
	}
}
