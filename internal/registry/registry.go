// Package registry collects page types and content types from plugin modules
// and answers which of them the current configuration switches on.
//
// Modules call a Builder during startup. Freeze turns it into a Registry that
// never changes again; every read after that is lock free.
package registry

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"unicode"

	"github.com/robb-j/husky-cms/internal/cfg"
	"github.com/robb-j/husky-cms/internal/pipeline"
	"github.com/robb-j/husky-cms/internal/xerrors"
)

// ErrFrozen is returned by Builder methods once Freeze has been called.
var ErrFrozen = xerrors.WithKind(xerrors.New("registry is frozen"), xerrors.KindPlugin)

// Route is one handler of a page type. Patterns are chi patterns. A pattern
// starting with "./" is relative to wherever the page type is mounted; any
// other pattern is mounted as written.
type Route struct {
	Pattern string
	Handler http.HandlerFunc
}

// NavItem is one entry of the site navigation.
type NavItem struct {
	Name string
	Href string
}

// PageType is one kind of page the site can serve.
type PageType struct {
	ID        string
	Name      string
	Variables []string
	Templates []string
	Routes    []Route

	// Catchall page types own the site root in composite mode and are
	// mounted after every other page type.
	Catchall bool

	// HideNav keeps the page type out of the composite navigation.
	HideNav bool

	// Nav adds entries to the site navigation, may be nil
	Nav func(ctx context.Context) []NavItem
}

// Builder accumulates registrations. It is safe for concurrent use, though
// the loader registers modules one at a time.
type Builder struct {
	mu      sync.Mutex
	frozen  bool
	pages   []PageType
	pageIdx map[string]int
	types   []pipeline.ContentType
	typeIdx map[string]int
}

func NewBuilder() *Builder {
	return &Builder{
		pageIdx: make(map[string]int),
		typeIdx: make(map[string]int),
	}
}

// RegisterPageType stores pt under id, filling defaults. Registering an id
// again replaces the earlier page type but keeps its position.
func (b *Builder) RegisterPageType(id string, pt PageType) error {
	id = strings.TrimSpace(id)
	if err := ValidatePageType(id, pt); err != nil {
		return err
	}
	pt.ID = id
	if pt.Name == "" {
		pt.Name = TitleCase(id)
	}
	if pt.Variables == nil {
		pt.Variables = []string{}
	}
	if pt.Templates == nil {
		pt.Templates = []string{}
	}
	if pt.Routes == nil {
		pt.Routes = []Route{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return ErrFrozen
	}
	if i, ok := b.pageIdx[id]; ok {
		b.pages[i] = pt
		return nil
	}
	b.pageIdx[id] = len(b.pages)
	b.pages = append(b.pages, pt)
	return nil
}

// ValidatePageType reports what RegisterPageType would reject.
func ValidatePageType(id string, pt PageType) error {
	if strings.TrimSpace(id) == "" {
		return xerrors.WithKind(xerrors.New("page type id is empty"), xerrors.KindPlugin)
	}
	for _, r := range pt.Routes {
		if r.Pattern == "" || r.Handler == nil {
			return xerrors.WithKind(xerrors.Newf("page type %s: route %q has no pattern or handler", id, r.Pattern), xerrors.KindPlugin)
		}
	}
	return nil
}

// ValidateContentType reports what RegisterContentType would reject.
func ValidateContentType(name string, parser pipeline.Parser) error {
	if strings.TrimSpace(name) == "" {
		return xerrors.WithKind(xerrors.New("content type name is empty"), xerrors.KindPlugin)
	}
	if parser == nil {
		return xerrors.WithKind(xerrors.Newf("content type %s has no parser", name), xerrors.KindPlugin)
	}
	return nil
}

// ContentOption adjusts a content type at registration.
type ContentOption func(*pipeline.ContentType)

// WithOrder sets the render order, default pipeline.DefaultOrder.
func WithOrder(order int) ContentOption {
	return func(ct *pipeline.ContentType) { ct.Order = order }
}

// NoWrapper emits the fragment without its labelled container.
func NoWrapper() ContentOption {
	return func(ct *pipeline.ContentType) { ct.NoWrapper = true }
}

// RegisterContentType stores a content type under name. Like page types, a
// repeated name replaces the earlier registration in place.
func (b *Builder) RegisterContentType(name string, parser pipeline.Parser, opts ...ContentOption) error {
	name = strings.TrimSpace(name)
	if err := ValidateContentType(name, parser); err != nil {
		return err
	}
	ct := pipeline.ContentType{Name: name, Order: pipeline.DefaultOrder, Parser: parser}
	for _, o := range opts {
		o(&ct)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return ErrFrozen
	}
	if i, ok := b.typeIdx[name]; ok {
		b.types[i] = ct
		return nil
	}
	b.typeIdx[name] = len(b.types)
	b.types = append(b.types, ct)
	return nil
}

// FreezeOption configures how the frozen Registry resolves the site mode.
type FreezeOption func(*Registry)

// WithPriority lists page type ids that are tried before registration order.
func WithPriority(ids ...string) FreezeOption {
	return func(r *Registry) { r.priority = append([]string(nil), ids...) }
}

// WithCompositeVar names the variable that forces composite mode. An empty
// name disables the override. Default DefaultCompositeVar.
func WithCompositeVar(name string) FreezeOption {
	return func(r *Registry) { r.compositeVar = name }
}

// WithAutoComposite makes more than one configured page type resolve to
// composite mode instead of the first one.
func WithAutoComposite(on bool) FreezeOption {
	return func(r *Registry) { r.autoComposite = on }
}

// DefaultCompositeVar is the override variable unless WithCompositeVar says otherwise.
const DefaultCompositeVar = "SITE_COMPOSITE"

// Freeze snapshots the builder. Any registration afterwards fails with
// ErrFrozen; calling Freeze again returns ErrFrozen too.
func (b *Builder) Freeze(opts ...FreezeOption) (*Registry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return nil, ErrFrozen
	}
	b.frozen = true

	r := &Registry{
		pages:        append([]PageType(nil), b.pages...),
		byID:         make(map[string]int, len(b.pages)),
		types:        append([]pipeline.ContentType(nil), b.types...),
		compositeVar: DefaultCompositeVar,
	}
	for i, p := range r.pages {
		r.byID[p.ID] = i
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Registry is the frozen result of plugin loading.
type Registry struct {
	pages         []PageType
	byID          map[string]int
	types         []pipeline.ContentType
	priority      []string
	compositeVar  string
	autoComposite bool
}

// PageTypes returns every registered page type in registration order.
func (r *Registry) PageTypes() []PageType {
	return append([]PageType(nil), r.pages...)
}

func (r *Registry) PageType(id string) (PageType, bool) {
	i, ok := r.byID[id]
	if !ok {
		return PageType{}, false
	}
	return r.pages[i], true
}

// ContentTypes returns content types in registration order, pipeline.New sorts them.
func (r *Registry) ContentTypes() []pipeline.ContentType {
	return append([]pipeline.ContentType(nil), r.types...)
}

// Templates is every template any page type needs, each once, first-seen order.
func (r *Registry) Templates() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range r.pages {
		for _, t := range p.Templates {
			if seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Missing returns the variables of pt that env does not provide.
func Missing(pt PageType, env cfg.Env) []string {
	var missing []string
	for _, v := range pt.Variables {
		if !cfg.Present(env, v) {
			missing = append(missing, v)
		}
	}
	return missing
}

// Satisfied reports whether env provides every variable of pt.
func Satisfied(pt PageType, env cfg.Env) bool {
	return len(Missing(pt, env)) == 0
}

// ActivePageTypes returns, in registration order, the page types whose
// variables are all present in env. It reads env on every call.
func (r *Registry) ActivePageTypes(env cfg.Env) []PageType {
	var out []PageType
	for _, p := range r.pages {
		if Satisfied(p, env) {
			out = append(out, p)
		}
	}
	return out
}

// TitleCase turns an id like "blog_post" or "my-projects" into "Blog Post" / "My Projects".
func TitleCase(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}
