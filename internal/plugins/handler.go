package plugins

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/robb-j/husky-cms/internal/card"
	"github.com/robb-j/husky-cms/internal/pipeline"
	"github.com/robb-j/husky-cms/internal/site"
)

// pageHandler adapts a handler that needs the mounted page.
func pageHandler(fn func(w http.ResponseWriter, r *http.Request, p *site.Page)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := site.FromContext(r.Context())
		if !ok {
			http.Error(w, "page type is not mounted", http.StatusInternalServerError)
			return
		}
		fn(w, r, p)
	}
}

// cards fetches a list and runs it through the pipeline. Each card's Href is
// set relative to the page type's mount point.
func cards(r *http.Request, kit Kit, p *site.Page, listID string, force bool) []card.Card {
	items := p.Process(r.Context(), kit.Cards.Fetch(r.Context(), listID, force))
	for i := range items {
		if items[i].Slug == "" {
			items[i].Slug = pipeline.Slug(items[i].Name)
		}
		items[i].Href = p.Href(items[i].Slug)
	}
	return items
}

// detail renders tmpl for the card whose slug is the route param, or a 404.
func detail(w http.ResponseWriter, r *http.Request, p *site.Page, items []card.Card, param, tmpl, key string, extra map[string]any) {
	c, ok := card.FindBySlug(items, chi.URLParam(r, param))
	if !ok {
		p.NotFound(w, r)
		return
	}
	data := map[string]any{key: c, "index": p.Href("")}
	for k, v := range extra {
		data[k] = v
	}
	p.Render(w, r, http.StatusOK, tmpl, c.Name, data)
}
