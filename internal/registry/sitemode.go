package registry

import (
	"github.com/robb-j/husky-cms/internal/cfg"
)

type ModeKind int

const (
	Unresolved ModeKind = iota
	Single
	Composite
)

func (k ModeKind) String() string {
	switch k {
	case Single:
		return "single"
	case Composite:
		return "composite"
	default:
		return "unresolved"
	}
}

// SiteMode is decided once at startup. PageType is set only for Single.
type SiteMode struct {
	Kind     ModeKind
	PageType string
}

func (m SiteMode) String() string {
	if m.Kind == Single {
		return "single:" + m.PageType
	}
	return m.Kind.String()
}

func (m SiteMode) IsComposite() bool { return m.Kind == Composite }

// ResolveSiteMode decides what the site serves:
//
//   - the composite override variable is set: Composite
//   - otherwise page types are tried in priority order, then registration
//     order, and the first with all variables present wins as Single
//   - with auto composite on, two or more satisfied page types give Composite
//
// If nothing is satisfied the mode is Unresolved and the error is a
// configuration error naming the variables that would switch a page type on.
// Callers must treat that as fatal.
func (r *Registry) ResolveSiteMode(env cfg.Env) (SiteMode, error) {
	if r.compositeVar != "" && cfg.Present(env, r.compositeVar) {
		return SiteMode{Kind: Composite}, nil
	}

	var satisfied []string
	var missing []string
	seenVar := make(map[string]bool)
	for _, p := range r.resolutionOrder() {
		m := Missing(p, env)
		if len(m) == 0 {
			satisfied = append(satisfied, p.ID)
			continue
		}
		for _, v := range m {
			if !seenVar[v] {
				seenVar[v] = true
				missing = append(missing, v)
			}
		}
	}

	switch {
	case len(satisfied) > 1 && r.autoComposite:
		return SiteMode{Kind: Composite}, nil
	case len(satisfied) > 0:
		return SiteMode{Kind: Single, PageType: satisfied[0]}, nil
	}

	if len(r.pages) == 0 {
		return SiteMode{}, cfg.Missing("no page types are registered")
	}
	return SiteMode{}, cfg.Missing("no content feed is configured", missing...)
}

// resolutionOrder is the priority ids that exist, then everything else in
// registration order.
func (r *Registry) resolutionOrder() []PageType {
	out := make([]PageType, 0, len(r.pages))
	used := make(map[string]bool)
	for _, id := range r.priority {
		if i, ok := r.byID[id]; ok && !used[id] {
			used[id] = true
			out = append(out, r.pages[i])
		}
	}
	for _, p := range r.pages {
		if !used[p.ID] {
			out = append(out, p)
		}
	}
	return out
}
