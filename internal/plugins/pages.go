package plugins

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/robb-j/husky-cms/internal/card"
	"github.com/robb-j/husky-cms/internal/cfg"
	"github.com/robb-j/husky-cms/internal/pipeline"
	"github.com/robb-j/husky-cms/internal/registry"
	"github.com/robb-j/husky-cms/internal/site"
)

const (
	PagesID   = "page"
	PageList  = "PAGE_LIST"
	HomeSlug  = "home"
	pageParam = "page"
)

// Pages serves one card per page from PAGE_LIST. The card slugged "home" is
// the root. In composite mode it is the catch-all router at the site root.
func Pages() Module {
	return Func("pages", func(r Registrar, kit Kit) error {
		listID := cfg.ID(kit.Env, PageList)

		show := pageHandler(func(w http.ResponseWriter, req *http.Request, p *site.Page) {
			items := cards(req, kit, p, listID, false)
			slug := chi.URLParam(req, pageParam)
			if slug == "" {
				slug = HomeSlug
			}
			c, ok := card.FindBySlug(items, slug)
			if !ok {
				p.NotFound(w, req)
				return
			}
			p.Render(w, req, http.StatusOK, "page", c.Name, map[string]any{"page": c, "pages": items})
		})

		return r.RegisterPageType(PagesID, registry.PageType{
			Name:      "Pages",
			Variables: []string{PageList},
			Templates: []string{"page"},
			Catchall:  true,
			Routes: []registry.Route{
				{Pattern: "./", Handler: show},
				{Pattern: "./{" + pageParam + "}", Handler: show},
			},
			Nav: func(ctx context.Context) []registry.NavItem {
				return pageNav(kit.Cards.Fetch(ctx, listID, false))
			},
		})
	})
}

// pageNav links every page card except home at the site root.
func pageNav(items []card.Card) []registry.NavItem {
	out := make([]registry.NavItem, 0, len(items))
	for _, c := range items {
		slug := pipeline.Slug(c.Name)
		if slug == HomeSlug || slug == "" {
			continue
		}
		out = append(out, registry.NavItem{Name: c.Name, Href: "/" + slug})
	}
	return out
}
