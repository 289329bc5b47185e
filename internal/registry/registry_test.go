package registry

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/robb-j/husky-cms/internal/card"
	"github.com/robb-j/husky-cms/internal/cfg"
	"github.com/robb-j/husky-cms/internal/xerrors"
)

func noop(http.ResponseWriter, *http.Request) {}

func parser(s string) func(card.Card) (string, error) {
	return func(card.Card) (string, error) { return s, nil }
}

// huskyFixture registers page types in the order the built-in modules do:
// page, blog, projects.
func huskyFixture(t *testing.T, opts ...FreezeOption) *Registry {
	t.Helper()
	b := NewBuilder()
	must(t, b.RegisterPageType("page", PageType{Variables: []string{"PAGE_LIST"}, Templates: []string{"page"}, Catchall: true}))
	must(t, b.RegisterPageType("blog", PageType{Variables: []string{"BLOG_LIST"}, Templates: []string{"blog", "blogPost"}}))
	must(t, b.RegisterPageType("projects", PageType{Variables: []string{"PROJECT_LIST"}, Templates: []string{"projectList", "project"}}))
	r, err := b.Freeze(opts...)
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return r
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func ids(pts []PageType) []string {
	out := make([]string, len(pts))
	for i, p := range pts {
		out[i] = p.ID
	}
	return out
}

func TestRegisterPageType_Defaults(t *testing.T) {
	b := NewBuilder()
	must(t, b.RegisterPageType("my-projects", PageType{}))
	r, _ := b.Freeze()

	pt, ok := r.PageType("my-projects")
	if !ok {
		t.Fatal("page type missing")
	}
	if pt.Name != "My Projects" {
		t.Errorf("Name = %q", pt.Name)
	}
	if pt.Variables == nil || pt.Templates == nil || pt.Routes == nil {
		t.Errorf("defaults not filled: %+v", pt)
	}
	if pt.ID != "my-projects" {
		t.Errorf("ID = %q", pt.ID)
	}
}

func TestRegisterPageType_LastWriteWinsKeepsPosition(t *testing.T) {
	b := NewBuilder()
	must(t, b.RegisterPageType("a", PageType{Name: "first"}))
	must(t, b.RegisterPageType("b", PageType{}))
	must(t, b.RegisterPageType("a", PageType{Name: "second"}))
	r, _ := b.Freeze()

	if got := ids(r.PageTypes()); strings.Join(got, ",") != "a,b" {
		t.Fatalf("order = %v", got)
	}
	if pt, _ := r.PageType("a"); pt.Name != "second" {
		t.Fatalf("Name = %q, want second", pt.Name)
	}
}

func TestRegisterPageType_Invalid(t *testing.T) {
	b := NewBuilder()
	if err := b.RegisterPageType(" ", PageType{}); !xerrors.IsKind(err, xerrors.KindPlugin) {
		t.Fatalf("empty id err = %v", err)
	}
	err := b.RegisterPageType("x", PageType{Routes: []Route{{Pattern: "./"}}})
	if !xerrors.IsKind(err, xerrors.KindPlugin) {
		t.Fatalf("nil handler err = %v", err)
	}
}

func TestRegisterContentType(t *testing.T) {
	b := NewBuilder()
	must(t, b.RegisterContentType("plain", parser("p")))
	must(t, b.RegisterContentType("markdown", parser("m"), WithOrder(50)))
	must(t, b.RegisterContentType("raw", parser("r"), NoWrapper(), WithOrder(1)))
	r, _ := b.Freeze()

	cts := r.ContentTypes()
	if len(cts) != 3 {
		t.Fatalf("len = %d", len(cts))
	}
	if cts[0].Name != "plain" || cts[0].Order != 25 || cts[0].NoWrapper {
		t.Errorf("defaults wrong: %+v", cts[0])
	}
	if cts[1].Order != 50 {
		t.Errorf("markdown order = %d", cts[1].Order)
	}
	if !cts[2].NoWrapper || cts[2].Order != 1 {
		t.Errorf("raw = %+v", cts[2])
	}

	if err := NewBuilder().RegisterContentType("nil", nil); err == nil {
		t.Fatal("nil parser should fail")
	}
}

func TestFreeze_ForbidsRegistration(t *testing.T) {
	b := NewBuilder()
	if _, err := b.Freeze(); err != nil {
		t.Fatal(err)
	}
	if err := b.RegisterPageType("late", PageType{}); !errors.Is(err, ErrFrozen) {
		t.Fatalf("RegisterPageType after freeze = %v", err)
	}
	if err := b.RegisterContentType("late", parser("")); !errors.Is(err, ErrFrozen) {
		t.Fatalf("RegisterContentType after freeze = %v", err)
	}
	if _, err := b.Freeze(); !errors.Is(err, ErrFrozen) {
		t.Fatalf("second Freeze = %v", err)
	}
}

func TestFreeze_SnapshotIsIndependent(t *testing.T) {
	b := NewBuilder()
	must(t, b.RegisterPageType("a", PageType{}))
	r, _ := b.Freeze()

	pts := r.PageTypes()
	pts[0].ID = "mutated"
	if pt, _ := r.PageType("a"); pt.ID != "a" {
		t.Fatal("PageTypes exposed internal slice")
	}
}

func TestTemplates_DedupFirstSeen(t *testing.T) {
	b := NewBuilder()
	must(t, b.RegisterPageType("x", PageType{Templates: []string{"page", "blog"}}))
	must(t, b.RegisterPageType("y", PageType{Templates: []string{"blog", "project", "page"}}))
	r, _ := b.Freeze()

	if got := strings.Join(r.Templates(), ","); got != "page,blog,project" {
		t.Fatalf("Templates = %s", got)
	}
}

func TestActivePageTypes(t *testing.T) {
	b := NewBuilder()
	must(t, b.RegisterPageType("x", PageType{Variables: []string{"X"}}))
	must(t, b.RegisterPageType("always", PageType{}))
	r, _ := b.Freeze()

	tests := []struct {
		name string
		env  cfg.MapEnv
		want string
	}{
		{"unset", cfg.MapEnv{}, "always"},
		{"empty", cfg.MapEnv{"X": ""}, "always"},
		{"set", cfg.MapEnv{"X": "list"}, "x,always"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Join(ids(r.ActivePageTypes(tt.env)), ","); got != tt.want {
				t.Fatalf("ActivePageTypes = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveSiteMode(t *testing.T) {
	tests := []struct {
		name string
		opts []FreezeOption
		env  cfg.MapEnv
		want SiteMode
	}{
		{
			name: "page list only is single page",
			env:  cfg.MapEnv{"PAGE_LIST": "p"},
			want: SiteMode{Kind: Single, PageType: "page"},
		},
		{
			name: "blog and projects picks first registered",
			env:  cfg.MapEnv{"BLOG_LIST": "b", "PROJECT_LIST": "pr"},
			want: SiteMode{Kind: Single, PageType: "blog"},
		},
		{
			name: "projects only",
			env:  cfg.MapEnv{"PROJECT_LIST": "pr"},
			want: SiteMode{Kind: Single, PageType: "projects"},
		},
		{
			name: "override var",
			env:  cfg.MapEnv{"SITE_COMPOSITE": "1", "BLOG_LIST": "b"},
			want: SiteMode{Kind: Composite},
		},
		{
			name: "empty override is not set",
			env:  cfg.MapEnv{"SITE_COMPOSITE": "", "BLOG_LIST": "b"},
			want: SiteMode{Kind: Single, PageType: "blog"},
		},
		{
			name: "custom override var",
			opts: []FreezeOption{WithCompositeVar("ALL")},
			env:  cfg.MapEnv{"ALL": "yes", "SITE_COMPOSITE": ""},
			want: SiteMode{Kind: Composite},
		},
		{
			name: "priority beats registration order",
			opts: []FreezeOption{WithPriority("projects", "unknown")},
			env:  cfg.MapEnv{"BLOG_LIST": "b", "PROJECT_LIST": "pr"},
			want: SiteMode{Kind: Single, PageType: "projects"},
		},
		{
			name: "priority entry not satisfied falls through",
			opts: []FreezeOption{WithPriority("projects")},
			env:  cfg.MapEnv{"BLOG_LIST": "b"},
			want: SiteMode{Kind: Single, PageType: "blog"},
		},
		{
			name: "auto composite with two feeds",
			opts: []FreezeOption{WithAutoComposite(true)},
			env:  cfg.MapEnv{"BLOG_LIST": "b", "PAGE_LIST": "p"},
			want: SiteMode{Kind: Composite},
		},
		{
			name: "auto composite with one feed",
			opts: []FreezeOption{WithAutoComposite(true)},
			env:  cfg.MapEnv{"BLOG_LIST": "b"},
			want: SiteMode{Kind: Single, PageType: "blog"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := huskyFixture(t, tt.opts...).ResolveSiteMode(tt.env)
			if err != nil {
				t.Fatalf("ResolveSiteMode: %v", err)
			}
			if got != tt.want {
				t.Fatalf("mode = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveSiteMode_Unresolved(t *testing.T) {
	mode, err := huskyFixture(t).ResolveSiteMode(cfg.MapEnv{})
	if mode.Kind != Unresolved {
		t.Fatalf("mode = %v", mode)
	}
	if !xerrors.IsKind(err, xerrors.KindConfig) {
		t.Fatalf("err kind = %q (%v)", xerrors.KindOf(err), err)
	}
	var me *cfg.MissingError
	if !errors.As(err, &me) {
		t.Fatalf("err = %T", err)
	}
	if strings.Join(me.Vars, ",") != "PAGE_LIST,BLOG_LIST,PROJECT_LIST" {
		t.Fatalf("missing = %v", me.Vars)
	}

	r, _ := NewBuilder().Freeze()
	if _, err := r.ResolveSiteMode(cfg.MapEnv{}); !xerrors.IsKind(err, xerrors.KindConfig) {
		t.Fatalf("empty registry err = %v", err)
	}
}

func TestSiteModeString(t *testing.T) {
	if (SiteMode{Kind: Single, PageType: "blog"}).String() != "single:blog" {
		t.Error("single")
	}
	if (SiteMode{Kind: Composite}).String() != "composite" {
		t.Error("composite")
	}
	if (SiteMode{}).String() != "unresolved" {
		t.Error("unresolved")
	}
}

func TestTitleCase(t *testing.T) {
	tests := map[string]string{
		"blog":        "Blog",
		"my-projects": "My Projects",
		"blog_post":   "Blog Post",
		"projects_1":  "Projects 1",
		"":            "",
	}
	for in, want := range tests {
		if got := TitleCase(in); got != want {
			t.Errorf("TitleCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRoutesKept(t *testing.T) {
	b := NewBuilder()
	must(t, b.RegisterPageType("blog", PageType{Routes: []Route{{"./", noop}, {"./{post}", noop}}}))
	r, _ := b.Freeze()
	pt, _ := r.PageType("blog")
	if len(pt.Routes) != 2 || pt.Routes[1].Pattern != "./{post}" {
		t.Fatalf("routes = %+v", pt.Routes)
	}
}
