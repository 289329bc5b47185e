package plugins

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/robb-j/husky-cms/internal/card"
	"github.com/robb-j/husky-cms/internal/cfg"
	"github.com/robb-j/husky-cms/internal/log"
	"github.com/robb-j/husky-cms/internal/registry"
	"github.com/robb-j/husky-cms/internal/site"
)

const (
	ProjectList  = "PROJECT_LIST"
	NoCacheParam = "nocache"
)

// Filters are the distinct tags and users across a project list, in the
// order they first appear.
type Filters struct {
	Tags  []card.Label
	Users []card.Member
}

func projectFilters(projects []card.Card) Filters {
	f := Filters{Tags: []card.Label{}, Users: []card.Member{}}
	seenTag := make(map[string]bool)
	seenUser := make(map[string]bool)
	for _, p := range projects {
		for _, l := range p.Labels {
			if !seenTag[l.ID] {
				seenTag[l.ID] = true
				f.Tags = append(f.Tags, l)
			}
		}
		for _, m := range p.Members {
			if !seenUser[m.ID] {
				seenUser[m.ID] = true
				f.Users = append(f.Users, m)
			}
		}
	}
	return f
}

type projectOptions struct {
	id       string
	listID   string
	title    string
	subtitle string
}

// Projects turns each list of PROJECT_LIST into a filterable showcase. One
// list registers PROJECT_SLUG (default "projects"); several register
// PROJECT_SLUG_1..n named "PROJECT_NAME n".
func Projects() Module {
	return Func("projects", func(r Registrar, kit Kit) error {
		slug := cfg.GetOr(kit.Env, "PROJECT_SLUG", "projects")
		name := cfg.GetOr(kit.Env, "PROJECT_NAME", "Projects")
		title := cfg.GetOr(kit.Env, "PROJECT_TITLE", "Projects")
		subtitle := cfg.GetOr(kit.Env, "PROJECT_SUBTITLE", "Latest projects and contributions")

		lists := listIDs(kit.Env, ProjectList)
		for i, listID := range lists {
			id, pageName := multiID(slug, name, i, len(lists))
			opts := projectOptions{id: id, listID: listID, title: title, subtitle: subtitle}
			if err := r.RegisterPageType(id, projectPageType(kit, opts, pageName)); err != nil {
				return err
			}
		}
		return nil
	})
}

func projectPageType(kit Kit, o projectOptions, name string) registry.PageType {
	endpoint := "/" + o.id + ".json"

	index := pageHandler(func(w http.ResponseWriter, req *http.Request, p *site.Page) {
		projects := cards(req, kit, p, o.listID, false)
		p.Render(w, req, http.StatusOK, "projectList", o.title, map[string]any{
			"endpoint":     endpoint,
			"filters":      projectFilters(projects),
			"projects":     projects,
			"pageTitle":    o.title,
			"pageSubtitle": o.subtitle,
		})
	})
	show := pageHandler(func(w http.ResponseWriter, req *http.Request, p *site.Page) {
		detail(w, req, p, cards(req, kit, p, o.listID, false), "id", "project", "project", nil)
	})
	feed := pageHandler(func(w http.ResponseWriter, req *http.Request, p *site.Page) {
		force := req.URL.Query().Has(NoCacheParam)
		projects := cards(req, kit, p, o.listID, force)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(map[string]any{"projects": projects}); err != nil {
			log.FromContext(req.Context()).Warn(req.Context(), "write projects feed", "err", err)
		}
	})

	return registry.PageType{
		Name:      name,
		HideNav:   name == "",
		Variables: []string{ProjectList},
		Templates: []string{"projectList", "project"},
		Routes: []registry.Route{
			{Pattern: endpoint, Handler: feed},
			{Pattern: "./", Handler: index},
			{Pattern: "./{id}", Handler: show},
		},
	}
}

// listIDs splits a list variable. An unset variable still yields one empty
// id so the page type is registered and shows up as missing configuration.
func listIDs(env cfg.Env, name string) []string {
	ids := cfg.List(env, name)
	if len(ids) == 0 {
		return []string{""}
	}
	return ids
}

// multiID names the i'th of n page types built from one list variable.
// An empty base name stays empty so the page type can be hidden.
func multiID(slug, name string, i, n int) (id, pageName string) {
	if n <= 1 {
		return slug, name
	}
	id = fmt.Sprintf("%s_%d", slug, i+1)
	if name != "" {
		pageName = fmt.Sprintf("%s %d", name, i+1)
	}
	return id, pageName
}
