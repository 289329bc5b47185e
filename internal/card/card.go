// Package card defines the content item shape read from Trello lists.
//
// The cache treats a []Card as opaque; the pipeline only reads Name, Desc and
// DateLastActivity, and fills Slug, Content and Timestamp. Everything else is
// passed through for page-type templates.
package card

import (
	"encoding/json"
	"html/template"
	"time"
)

type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Member struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Username string `json:"username"`
}

type Preview struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type Attachment struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	Previews []Preview `json:"previews"`
}

type CustomFieldValue struct {
	Date   string `json:"date,omitempty"`
	Text   string `json:"text,omitempty"`
	Number string `json:"number,omitempty"`
}

type CustomFieldItem struct {
	IDCustomField string           `json:"idCustomField"`
	Value         CustomFieldValue `json:"value"`
}

type Card struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Desc              string            `json:"desc"`
	DescData          json.RawMessage   `json:"descData,omitempty"`
	Pos               float64           `json:"pos"`
	URL               string            `json:"url"`
	IDAttachmentCover string            `json:"idAttachmentCover,omitempty"`
	DateLastActivity  time.Time         `json:"dateLastActivity"`
	Labels            []Label           `json:"labels"`
	Members           []Member          `json:"members"`
	Attachments       []Attachment      `json:"attachments"`
	CustomFieldItems  []CustomFieldItem `json:"customFieldItems,omitempty"`

	// derived by the content pipeline and page types, never sent upstream
	Slug      string        `json:"slug,omitempty"`
	Content   template.HTML `json:"content,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
	Href      string        `json:"href,omitempty"`
}

// coverPreview is the preview size the project grid is designed around.
const coverPreview = 4

// CoverURL returns the cover attachment preview url, or "" if the card has none.
func (c Card) CoverURL() string {
	if c.IDAttachmentCover == "" {
		return ""
	}
	for _, a := range c.Attachments {
		if a.ID != c.IDAttachmentCover {
			continue
		}
		switch {
		case len(a.Previews) > coverPreview:
			return a.Previews[coverPreview].URL
		case len(a.Previews) > 0:
			return a.Previews[len(a.Previews)-1].URL
		default:
			return a.URL
		}
	}
	return ""
}

// CustomDate returns the date value of the custom field with the given id.
func (c Card) CustomDate(fieldID string) (time.Time, bool) {
	for _, f := range c.CustomFieldItems {
		if f.IDCustomField != fieldID || f.Value.Date == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, f.Value.Date)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// FindBySlug returns the first card whose slug matches. Cards must already
// have been through the pipeline.
func FindBySlug(cards []Card, slug string) (Card, bool) {
	for _, c := range cards {
		if c.Slug == slug {
			return c, true
		}
	}
	return Card{}, false
}

var labelColors = map[string]string{
	"green":  "#61BD4F",
	"yellow": "#F2D600",
	"orange": "#FF9F1A",
	"red":    "#EB5A46",
	"purple": "#C377E0",
	"blue":   "#0079BF",
	"sky":    "#00C2E0",
	"lime":   "#51E897",
	"pink":   "#FF78CB",
	"black":  "#355263",
}

// LabelColor maps a Trello label colour name to its hex value.
func LabelColor(color string) string {
	return labelColors[color]
}

// DisplayName is the label name, falling back to its colour for unnamed labels.
func (l Label) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	return l.Color
}
