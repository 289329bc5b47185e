// Package pipeline turns a raw card into something a template can render:
// a slug, a body built from every registered content type, and a readable
// timestamp.
package pipeline

import (
	"context"
	"fmt"
	"html/template"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/robb-j/husky-cms/internal/card"
	"github.com/robb-j/husky-cms/internal/log"
	"github.com/robb-j/husky-cms/internal/xerrors"
)

// DefaultOrder is the order of a content type that does not set one.
const DefaultOrder = 25

// TimestampLayout renders as e.g. "Tuesday 5 March 2019".
const TimestampLayout = "Monday 2 January 2006"

// Parser derives an HTML fragment from a card. It receives a copy and must
// not rely on changing it.
type Parser func(c card.Card) (string, error)

// ContentType is one fragment producer; lower Order renders first.
type ContentType struct {
	Name      string
	Order     int
	NoWrapper bool
	Parser    Parser
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncTransformerError(contentType string)
}

type Options struct {
	Logger  log.Logger
	Metrics Metrics
}

type Pipeline struct {
	types   []ContentType
	logger  log.Logger
	metrics Metrics
}

// New copies types and sorts them by Order. Equal orders keep the order
// they were given in.
func New(types []ContentType, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	sorted := make([]ContentType, len(types))
	copy(sorted, types)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return &Pipeline{types: sorted, logger: opts.Logger, metrics: opts.Metrics}
}

// ContentTypes returns the content types in render order.
func (p *Pipeline) ContentTypes() []ContentType {
	out := make([]ContentType, len(p.types))
	copy(out, p.types)
	return out
}

// Process fills c.Slug, c.Content and c.Timestamp in place. A content type
// that fails or panics contributes an empty fragment; the rest still render.
func (p *Pipeline) Process(ctx context.Context, c *card.Card) {
	c.Slug = Slug(c.Name)

	var b strings.Builder
	for _, ct := range p.types {
		frag, err := p.run(ct, *c)
		if err != nil {
			p.logger.Error(ctx, err, "content type failed, rendering empty fragment",
				"content_type", ct.Name,
				"card_id", c.ID,
				"card", c.Name,
			)
			if p.metrics != nil {
				p.metrics.IncTransformerError(ct.Name)
			}
			frag = ""
		}
		if ct.NoWrapper {
			b.WriteString(frag)
			continue
		}
		b.WriteString(`<div class="content-`)
		b.WriteString(template.HTMLEscapeString(ct.Name))
		b.WriteString(`">`)
		b.WriteString(frag)
		b.WriteString(`</div>`)
	}

	c.Content = template.HTML(b.String())
	c.Timestamp = FormatTimestamp(c.DateLastActivity)
}

// ProcessAll runs Process over every card of a list.
func (p *Pipeline) ProcessAll(ctx context.Context, cards []card.Card) []card.Card {
	for i := range cards {
		p.Process(ctx, &cards[i])
	}
	return cards
}

func (p *Pipeline) run(ct ContentType, c card.Card) (frag string, err error) {
	if ct.Parser == nil {
		return "", nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("content type %s panicked: %v", ct.Name, r)
		}
		if err != nil {
			err = xerrors.WithKind(err, xerrors.KindTransformer)
		}
	}()
	return ct.Parser(c)
}

var (
	whitespaceRun = regexp.MustCompile(`[\s\p{Z}]+`)
	nonSlugChars  = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// Slug lowercases s, turns whitespace runs into single hyphens and drops
// anything outside [A-Za-z0-9_-]. "Q3 Report: Final!" becomes "q3-report-final".
func Slug(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRun.ReplaceAllString(s, "-")
	return nonSlugChars.ReplaceAllString(s, "")
}

// FormatTimestamp formats t with TimestampLayout, or "" for the zero time.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimestampLayout)
}
