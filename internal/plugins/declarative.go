package plugins

import (
	"bytes"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robb-j/husky-cms/internal/cfg"
	"github.com/robb-j/husky-cms/internal/pathutil"
	"github.com/robb-j/husky-cms/internal/registry"
	"github.com/robb-j/husky-cms/internal/site"
	"github.com/robb-j/husky-cms/internal/xerrors"
)

// Declarative is a page type described by a plugin file:
//
//	id: papers
//	name: Academic Papers
//	variables: [PAPER_LIST]
//	list_var: PAPER_LIST
//	template: papers
//	detail_template: paper
//
// The index renders template with "cards"; with detail_template set,
// ./{slug} renders one card as "card".
type Declarative struct {
	ID             string   `yaml:"id"`
	DisplayName    string   `yaml:"name"`
	Variables      []string `yaml:"variables"`
	ListVar        string   `yaml:"list_var"`
	Template       string   `yaml:"template"`
	DetailTemplate string   `yaml:"detail_template"`

	file string
}

// ReadDeclarative parses and validates one plugin file. Unknown keys are errors.
func ReadDeclarative(fsys fs.FS, name string) (*Declarative, error) {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", name)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var d Declarative
	if err := dec.Decode(&d); err != nil {
		return nil, xerrors.Wrapf(err, "decode %s", name)
	}
	d.file = path.Base(name)
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Declarative) validate() error {
	d.ID = strings.TrimSpace(d.ID)
	var problems []string
	if d.ID == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(d.Template) == "" {
		problems = append(problems, "template is required")
	}
	if strings.TrimSpace(d.ListVar) == "" {
		problems = append(problems, "list_var is required")
	}
	for _, name := range []string{d.Template, d.DetailTemplate} {
		if strings.TrimSpace(name) != "" && !pathutil.ValidTemplateName(name) {
			problems = append(problems, fmt.Sprintf("template %q is not a relative template name", name))
		}
	}
	if len(problems) > 0 {
		return xerrors.Newf("%s: %s", d.file, strings.Join(problems, ", "))
	}
	if !slices.Contains(d.Variables, d.ListVar) {
		d.Variables = append(d.Variables, d.ListVar)
	}
	return nil
}

func (d *Declarative) Name() string {
	if d.file != "" {
		return d.file
	}
	return d.ID
}

func (d *Declarative) title() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return registry.TitleCase(d.ID)
}

func (d *Declarative) Register(r Registrar, kit Kit) error {
	listID := cfg.ID(kit.Env, d.ListVar)
	templates := []string{d.Template}
	routes := []registry.Route{{
		Pattern: "./",
		Handler: pageHandler(func(w http.ResponseWriter, req *http.Request, p *site.Page) {
			items := cards(req, kit, p, listID, false)
			p.Render(w, req, http.StatusOK, d.Template, d.title(), map[string]any{"cards": items})
		}),
	}}
	if d.DetailTemplate != "" {
		templates = append(templates, d.DetailTemplate)
		routes = append(routes, registry.Route{
			Pattern: "./{slug}",
			Handler: pageHandler(func(w http.ResponseWriter, req *http.Request, p *site.Page) {
				detail(w, req, p, cards(req, kit, p, listID, false), "slug", d.DetailTemplate, "card", nil)
			}),
		})
	}
	return r.RegisterPageType(d.ID, registry.PageType{
		Name:      d.title(),
		Variables: d.Variables,
		Templates: templates,
		Routes:    routes,
	})
}
