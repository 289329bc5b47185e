package plugins

import (
	"net/http"

	"github.com/robb-j/husky-cms/internal/cfg"
	"github.com/robb-j/husky-cms/internal/registry"
	"github.com/robb-j/husky-cms/internal/site"
)

const (
	BlogID   = "blog"
	BlogList = "BLOG_LIST"
)

// Blog uses BLOG_LIST as a chronological list of posts.
func Blog() Module {
	return Func("blog", func(r Registrar, kit Kit) error {
		listID := cfg.ID(kit.Env, BlogList)

		index := pageHandler(func(w http.ResponseWriter, req *http.Request, p *site.Page) {
			posts := cards(req, kit, p, listID, false)
			p.Render(w, req, http.StatusOK, "blog", "Blog", map[string]any{"posts": posts})
		})
		post := pageHandler(func(w http.ResponseWriter, req *http.Request, p *site.Page) {
			detail(w, req, p, cards(req, kit, p, listID, false), "post", "blogPost", "post", nil)
		})

		return r.RegisterPageType(BlogID, registry.PageType{
			Name:      "Blog",
			Variables: []string{BlogList},
			Templates: []string{"blog", "blogPost"},
			Routes: []registry.Route{
				{Pattern: "./", Handler: index},
				{Pattern: "./{post}", Handler: post},
			},
		})
	})
}
