// Package sitehttp mounts the page types of a frozen registry onto a chi
// router according to the resolved site mode.
package sitehttp

import (
	"context"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/robb-j/husky-cms/internal/cfg"
	"github.com/robb-j/husky-cms/internal/registry"
	"github.com/robb-j/husky-cms/internal/site"
	"github.com/robb-j/husky-cms/internal/xerrors"
)

// Mount is one route as it will be served.
type Mount struct {
	PageType string
	Pattern  string
	handler  http.Handler
}

type Routes struct {
	Site   *site.Site
	Mounts []Mount
	static fs.FS
}

type Options struct {
	Registry *registry.Registry
	Env      cfg.Env
	Site     *site.Site

	// Static is served under /static/, may be nil
	Static fs.FS
}

// New decides every mount up front. In single mode the page type's relative
// routes sit at the root. In composite mode each active page type sits under
// /<id>, then catch-all page types are mounted at the root.
func New(opts Options) (*Routes, error) {
	if opts.Registry == nil || opts.Site == nil {
		return nil, xerrors.New("sitehttp: registry and site are required")
	}
	if opts.Env == nil {
		opts.Env = cfg.OSEnv()
	}
	s := opts.Site
	rt := &Routes{Site: s, static: opts.Static}

	switch s.Mode.Kind {
	case registry.Single:
		pt, ok := opts.Registry.PageType(s.Mode.PageType)
		if !ok {
			return nil, xerrors.Newf("sitehttp: site mode names unknown page type %q", s.Mode.PageType)
		}
		rt.add(pt, "")
	case registry.Composite:
		active := opts.Registry.ActivePageTypes(opts.Env)
		for _, pt := range active {
			if !pt.Catchall {
				rt.add(pt, "/"+pt.ID)
			}
		}
		for _, pt := range active {
			if pt.Catchall {
				rt.add(pt, "")
			}
		}
	default:
		return nil, xerrors.WithKind(xerrors.New("sitehttp: site mode is unresolved"), xerrors.KindConfig)
	}

	if s.Tree == nil {
		s.Tree = SiteTree(opts.Registry, opts.Env, s.Mode)
	}
	return rt, nil
}

func (rt *Routes) add(pt registry.PageType, prefix string) {
	page := &site.Page{Site: rt.Site, PageType: pt, Prefix: prefix}
	for _, r := range pt.Routes {
		rt.Mounts = append(rt.Mounts, Mount{
			PageType: pt.ID,
			Pattern:  Resolve(r.Pattern, prefix),
			handler:  withPage(page, r.Handler),
		})
	}
}

// Resolve places a route pattern under prefix. Only "./" patterns move.
func Resolve(pattern, prefix string) string {
	rel, ok := strings.CutPrefix(pattern, "./")
	if !ok {
		return pattern
	}
	p := prefix + "/" + rel
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func withPage(p *site.Page, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(site.WithPage(r.Context(), p)))
	})
}

// RegisterRoutes should be passed last so the not found handler becomes the
// final fallback.
func (rt *Routes) RegisterRoutes(r chi.Router) {
	if rt.static != nil {
		r.Handle("/static/*", staticHandler(rt.static))
	}
	for _, m := range rt.Mounts {
		r.Method(http.MethodGet, m.Pattern, m.handler)
		r.Method(http.MethodHead, m.Pattern, m.handler)
	}
	r.NotFound(rt.Site.NotFound)
	r.MethodNotAllowed(rt.Site.NotFound)
}

// SiteTree builds the navigation. Composite sites link every active page type
// that is not a catch-all or hidden, then append what page types contribute
// themselves. Single sites only carry the mounted page type's own entries.
func SiteTree(reg *registry.Registry, env cfg.Env, mode registry.SiteMode) func(ctx context.Context) []registry.NavItem {
	return func(ctx context.Context) []registry.NavItem {
		var active []registry.PageType
		if mode.IsComposite() {
			active = reg.ActivePageTypes(env)
		} else if pt, ok := reg.PageType(mode.PageType); ok {
			active = []registry.PageType{pt}
		}

		var tree []registry.NavItem
		if mode.IsComposite() {
			for _, pt := range active {
				if pt.Catchall || pt.HideNav || pt.Name == "" {
					continue
				}
				tree = append(tree, registry.NavItem{Name: pt.Name, Href: "/" + pt.ID})
			}
		}
		for _, pt := range active {
			if pt.Nav != nil {
				tree = append(tree, pt.Nav(ctx)...)
			}
		}
		return tree
	}
}
