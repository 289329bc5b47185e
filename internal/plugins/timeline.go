package plugins

import (
	"net/http"
	"sort"
	"time"

	"github.com/robb-j/husky-cms/internal/card"
	"github.com/robb-j/husky-cms/internal/cfg"
	"github.com/robb-j/husky-cms/internal/pipeline"
	"github.com/robb-j/husky-cms/internal/registry"
	"github.com/robb-j/husky-cms/internal/site"
)

const (
	TimelineList   = "TIMELINE_LIST"
	TimelineDateID = "TIMELINE_DATE_ID"
)

// Timeline shows each list of TIMELINE_LIST as milestones ordered by the
// custom date field TIMELINE_DATE_ID.
func Timeline() Module {
	return Func("timeline", func(r Registrar, kit Kit) error {
		slug := cfg.GetOr(kit.Env, "TIMELINE_SLUG", "timeline")
		name := cfg.GetOr(kit.Env, "TIMELINE_NAME", "Timeline")
		title := cfg.GetOr(kit.Env, "TIMELINE_TITLE", "Project Timeline")
		subtitle := cfg.GetOr(kit.Env, "TIMELINE_SUBTITLE", "Project timeline & milestones")
		dateID := cfg.ID(kit.Env, TimelineDateID)

		lists := listIDs(kit.Env, TimelineList)
		for i, listID := range lists {
			id, pageName := multiID(slug, name, i, len(lists))

			index := pageHandler(func(w http.ResponseWriter, req *http.Request, p *site.Page) {
				posts := sortByDate(cards(req, kit, p, listID, false), dateID)
				p.Render(w, req, http.StatusOK, "timeline", title, map[string]any{
					"posts":        posts,
					"pageSlug":     id,
					"pageTitle":    title,
					"pageSubtitle": subtitle,
					"dateId":       dateID,
				})
			})

			err := r.RegisterPageType(id, registry.PageType{
				Name:      pageName,
				HideNav:   pageName == "",
				Variables: []string{TimelineList, TimelineDateID},
				Templates: []string{"timeline"},
				Routes:    []registry.Route{{Pattern: "./", Handler: index}},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// sortByDate orders cards by their date field, oldest first. Cards without
// the field keep their list order after the dated ones, and show the date
// instead of the last activity when they have one.
func sortByDate(items []card.Card, fieldID string) []card.Card {
	dates := make([]time.Time, len(items))
	for i := range items {
		if d, ok := items[i].CustomDate(fieldID); ok {
			dates[i] = d
			items[i].Timestamp = pipeline.FormatTimestamp(d)
		}
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		da, db := dates[idx[a]], dates[idx[b]]
		switch {
		case da.IsZero():
			return false
		case db.IsZero():
			return true
		default:
			return da.Before(db)
		}
	})
	out := make([]card.Card, len(items))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}
