// Package site carries what a page type handler needs at request time: the
// resolved site, the prefix its routes are mounted under, and helpers to
// render through the shared layout.
package site

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/robb-j/husky-cms/internal/card"
	"github.com/robb-j/husky-cms/internal/log"
	"github.com/robb-j/husky-cms/internal/pipeline"
	"github.com/robb-j/husky-cms/internal/registry"
)

// Renderer executes a named template. *render.Renderer implements it.
type Renderer interface {
	Render(w io.Writer, name string, data any) error
}

// Site is built once at startup and shared by all requests.
type Site struct {
	Name     string
	Mode     registry.SiteMode
	Pipeline *pipeline.Pipeline
	Renderer Renderer

	// Tree builds the navigation, may be nil
	Tree func(ctx context.Context) []registry.NavItem
}

// Page is the per-request view of one mounted page type.
type Page struct {
	Site     *Site
	PageType registry.PageType

	// Prefix is "" at the root or "/<id>" in composite mode, never a trailing slash
	Prefix string
}

type ctxKey struct{}

func WithPage(ctx context.Context, p *Page) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (*Page, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Page)
	return p, ok && p != nil
}

// Href joins rel onto the page type's mount prefix. Href("") is the page type root.
func (p *Page) Href(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		if p.Prefix == "" {
			return "/"
		}
		return p.Prefix
	}
	return p.Prefix + "/" + rel
}

// Process runs the content pipeline over cards in place.
func (p *Page) Process(ctx context.Context, cards []card.Card) []card.Card {
	if p.Site.Pipeline == nil {
		return cards
	}
	return p.Site.Pipeline.ProcessAll(ctx, cards)
}

// View is the data every template receives. Data holds the page type's own values.
type View struct {
	SiteName string
	Title    string
	Tree     []registry.NavItem
	Mode     string
	PageType string
	Prefix   string
	Path     string
	Data     map[string]any
}

// Render writes tmpl with status through the layout.
func (p *Page) Render(w http.ResponseWriter, r *http.Request, status int, tmpl, title string, data map[string]any) {
	p.Site.render(w, r, status, tmpl, View{
		Title:    title,
		PageType: p.PageType.ID,
		Prefix:   p.Prefix,
		Data:     data,
	})
}

// NotFound renders the notFound template with a 404.
func (p *Page) NotFound(w http.ResponseWriter, r *http.Request) {
	p.Site.NotFound(w, r)
}

// NotFound renders the notFound template with a 404, outside any page type.
func (s *Site) NotFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "notFound", View{Title: "Not Found"})
}

func (s *Site) render(w http.ResponseWriter, r *http.Request, status int, tmpl string, v View) {
	ctx := r.Context()
	v.SiteName = s.Name
	v.Mode = s.Mode.String()
	v.Path = r.URL.Path
	if s.Tree != nil {
		v.Tree = s.Tree(ctx)
	}

	// render to a buffer first so a template error still gets a clean 500
	var buf strings.Builder
	if err := s.Renderer.Render(&buf, tmpl, v); err != nil {
		log.FromContext(ctx).Error(ctx, err, "template render failed", "template", tmpl)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, buf.String())
}
