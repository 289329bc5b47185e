// Package render compiles the page templates every registered page type asks
// for and executes them through the shared layout.
//
// Each page is its own template set: the layout file defines "layout" and
// calls the "content" block, every page file redefines "content". Files are
// looked up in each source in order, first match wins.
package render

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io"
	"io/fs"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robb-j/husky-cms/internal/card"
	"github.com/robb-j/husky-cms/internal/log"
	"github.com/robb-j/husky-cms/internal/xerrors"
)

const (
	LayoutName   = "layout"
	NotFoundName = "notFound"
	ext          = ".html"
)

type Options struct {
	// Sources are searched in order for <name>.html.
	Sources []fs.FS

	// Names are the page templates to compile. notFound is always added.
	Names []string

	Funcs  template.FuncMap
	Logger log.Logger
}

type Renderer struct {
	opts   Options
	active atomic.Pointer[compiled]
}

type compiled struct {
	pages    map[string]*template.Template
	loadedAt time.Time
}

// New compiles every template up front. A template missing from all sources
// is an error, the server must not start without it.
func New(opts Options) (*Renderer, error) {
	if len(opts.Sources) == 0 {
		return nil, xerrors.WithKind(xerrors.New("render: no template sources"), xerrors.KindConfig)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.Names = withNotFound(opts.Names)
	r := &Renderer{opts: opts}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// DefaultFuncs are available to every template.
func DefaultFuncs() template.FuncMap {
	return template.FuncMap{
		"labelColor": card.LabelColor,
		"lower":      strings.ToLower,
	}
}

// Reload recompiles from the sources and swaps the result in. On error the
// previous templates stay active.
func (r *Renderer) Reload() error {
	c, err := r.compile()
	if err != nil {
		return err
	}
	r.active.Store(c)
	return nil
}

// Names returns the compiled page template names.
func (r *Renderer) Names() []string {
	return append([]string(nil), r.opts.Names...)
}

func (r *Renderer) LoadedAt() time.Time {
	if c := r.active.Load(); c != nil {
		return c.loadedAt
	}
	return time.Time{}
}

// Render executes the page template name through the layout.
func (r *Renderer) Render(w io.Writer, name string, data any) error {
	c := r.active.Load()
	t, ok := c.pages[name]
	if !ok {
		return xerrors.Newf("render: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, LayoutName, data); err != nil {
		return xerrors.Wrapf(err, "render %s", name)
	}
	_, err := buf.WriteTo(w)
	return err
}

func (r *Renderer) compile() (*compiled, error) {
	layoutSrc, err := r.read(LayoutName)
	if err != nil {
		return nil, err
	}
	funcs := DefaultFuncs()
	for k, v := range r.opts.Funcs {
		funcs[k] = v
	}
	base, err := template.New(LayoutName).Funcs(funcs).Parse(layoutSrc)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse %s%s", LayoutName, ext)
	}

	pages := make(map[string]*template.Template, len(r.opts.Names))
	for _, name := range r.opts.Names {
		src, err := r.read(name)
		if err != nil {
			return nil, err
		}
		t, err := base.Clone()
		if err != nil {
			return nil, xerrors.Wrapf(err, "clone layout for %s", name)
		}
		if _, err := t.New(name).Parse(src); err != nil {
			return nil, xerrors.Wrapf(err, "parse %s%s", name, ext)
		}
		pages[name] = t
	}
	return &compiled{pages: pages, loadedAt: time.Now().UTC()}, nil
}

func (r *Renderer) read(name string) (string, error) {
	file := name + ext
	for _, src := range r.opts.Sources {
		if src == nil {
			continue
		}
		b, err := fs.ReadFile(src, file)
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", xerrors.Wrapf(err, "read %s", file)
		}
	}
	return "", xerrors.WithKind(xerrors.Newf("template %s not found", file), xerrors.KindConfig)
}

func withNotFound(names []string) []string {
	seen := make(map[string]bool, len(names)+1)
	out := make([]string, 0, len(names)+1)
	for _, n := range append(append([]string(nil), names...), NotFoundName) {
		if n == "" || n == LayoutName || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// logReload is shared by Watch and tests.
func (r *Renderer) logReload(ctx context.Context, reason string) {
	if err := r.Reload(); err != nil {
		r.opts.Logger.Error(ctx, err, "template reload failed, keeping previous templates", "reason", reason)
		return
	}
	r.opts.Logger.Info(ctx, "templates reloaded", "reason", reason, "count", len(r.opts.Names))
}
