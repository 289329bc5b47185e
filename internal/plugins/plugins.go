// Package plugins holds the module contract and the loader that feeds page
// types and content types into a registry.Builder.
//
// Compiled-in modules run first in a fixed order, then every *.yaml file of
// the plugin directory in lexical order. A module that fails or panics is
// logged and skipped; nothing it registered reaches the builder.
package plugins

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/robb-j/husky-cms/internal/card"
	"github.com/robb-j/husky-cms/internal/cfg"
	"github.com/robb-j/husky-cms/internal/log"
	"github.com/robb-j/husky-cms/internal/pipeline"
	"github.com/robb-j/husky-cms/internal/registry"
	"github.com/robb-j/husky-cms/internal/xerrors"
)

// Registrar is the registration capability handed to modules.
// *registry.Builder implements it.
type Registrar interface {
	RegisterPageType(id string, pt registry.PageType) error
	RegisterContentType(name string, parser pipeline.Parser, opts ...registry.ContentOption) error
}

// CardSource serves list contents. *listcache.Cache implements it.
type CardSource interface {
	Fetch(ctx context.Context, listID string, force bool) []card.Card
}

// Kit is what a module may use while registering and from its handlers.
type Kit struct {
	Cards  CardSource
	Env    cfg.Env
	Logger log.Logger
}

// Module registers page types and content types.
type Module interface {
	Name() string
	Register(r Registrar, kit Kit) error
}

type funcModule struct {
	name string
	fn   func(Registrar, Kit) error
}

func (m funcModule) Name() string                        { return m.name }
func (m funcModule) Register(r Registrar, kit Kit) error { return m.fn(r, kit) }

// Func adapts a registration function to Module.
func Func(name string, fn func(r Registrar, kit Kit) error) Module {
	return funcModule{name: name, fn: fn}
}

// Builtins are the compiled-in modules in load order.
func Builtins() []Module {
	return []Module{
		Pages(),
		Blog(),
		Projects(),
		Timeline(),
		Markdown(),
	}
}

type Metrics interface {
	IncPluginLoadError()
}

type Loader struct {
	Modules []Module

	// Dir holds declarative plugin files, may be nil
	Dir fs.FS

	Logger  log.Logger
	Metrics Metrics
}

// Result names modules in the order they were attempted.
type Result struct {
	Loaded []string
	Failed []string
}

// Load runs every module against r. It only returns an error when the
// plugin directory cannot be listed at all; individual module failures are
// logged, counted and reported in Result.
func (l *Loader) Load(ctx context.Context, r Registrar, kit Kit) (Result, error) {
	logger := l.Logger
	if logger == nil {
		logger = log.Nop()
	}
	if kit.Logger == nil {
		kit.Logger = logger
	}
	if kit.Env == nil {
		kit.Env = cfg.OSEnv()
	}

	var res Result
	run := func(name string, load func() (Module, error)) {
		err := func() error {
			m, err := load()
			if err != nil {
				return err
			}
			return apply(m, r, kit)
		}()
		if err != nil {
			err = xerrors.WithKind(xerrors.Wrapf(err, "plugin %s", name), xerrors.KindPlugin)
			logger.Error(ctx, err, "plugin skipped", "plugin", name)
			if l.Metrics != nil {
				l.Metrics.IncPluginLoadError()
			}
			res.Failed = append(res.Failed, name)
			return
		}
		logger.Debug(ctx, "plugin loaded", "plugin", name)
		res.Loaded = append(res.Loaded, name)
	}

	for _, m := range l.Modules {
		if m == nil {
			run("<nil>", func() (Module, error) { return nil, xerrors.New("module is nil") })
			continue
		}
		run(m.Name(), func() (Module, error) { return m, nil })
	}

	if l.Dir == nil {
		return res, nil
	}
	files, err := pluginFiles(l.Dir)
	if err != nil {
		return res, xerrors.WithKind(xerrors.Wrap(err, "list plugin dir"), xerrors.KindPlugin)
	}
	for _, f := range files {
		run(f, func() (Module, error) { return ReadDeclarative(l.Dir, f) })
	}
	return res, nil
}

func pluginFiles(fsys fs.FS) ([]string, error) {
	var out []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := fs.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, m...)
	}
	// Glob sorts per pattern, the two sets are merged here
	sort.Slice(out, func(i, j int) bool { return path.Base(out[i]) < path.Base(out[j]) })
	return out, nil
}

// apply runs m against a staging registrar and only commits when the module
// returned cleanly.
func apply(m Module, r Registrar, kit Kit) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = xerrors.Newf("panic: %v", rec)
		}
	}()
	st := &staging{}
	if err := m.Register(st, kit); err != nil {
		return err
	}
	return st.commit(r)
}

type stagedPage struct {
	id string
	pt registry.PageType
}

type stagedType struct {
	name   string
	parser pipeline.Parser
	opts   []registry.ContentOption
}

type staging struct {
	pages []stagedPage
	types []stagedType
}

func (s *staging) RegisterPageType(id string, pt registry.PageType) error {
	if err := registry.ValidatePageType(id, pt); err != nil {
		return err
	}
	s.pages = append(s.pages, stagedPage{id: id, pt: pt})
	return nil
}

func (s *staging) RegisterContentType(name string, parser pipeline.Parser, opts ...registry.ContentOption) error {
	if err := registry.ValidateContentType(name, parser); err != nil {
		return err
	}
	s.types = append(s.types, stagedType{name: name, parser: parser, opts: opts})
	return nil
}

func (s *staging) commit(r Registrar) error {
	for _, p := range s.pages {
		if err := r.RegisterPageType(p.id, p.pt); err != nil {
			return fmt.Errorf("register page type %s: %w", p.id, err)
		}
	}
	for _, t := range s.types {
		if err := r.RegisterContentType(t.name, t.parser, t.opts...); err != nil {
			return fmt.Errorf("register content type %s: %w", t.name, err)
		}
	}
	return nil
}
