package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/robb-j/husky-cms/internal/card"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Q3 Report: Final!", "q3-report-final"},
		{"Home", "home"},
		{"  Leading and   trailing  ", "-leading-and-trailing-"},
		{"snake_case-ok", "snake_case-ok"},
		{"Tabs\tand\nnewlines", "tabs-and-newlines"},
		{"Café Münster", "caf-mnster"},
		{"Hello\u00a0World", "hello-world"},
		{"Hello\u2003World", "hello-world"},
		{"Hello\u3000 World", "hello-world"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2019, 3, 5, 14, 0, 0, 0, time.UTC)
	if got := FormatTimestamp(ts); got != "Tuesday 5 March 2019" {
		t.Fatalf("FormatTimestamp = %q", got)
	}
	if FormatTimestamp(time.Time{}) != "" {
		t.Fatal("zero time should format empty")
	}
}

func fixed(s string) Parser {
	return func(card.Card) (string, error) { return s, nil }
}

type errCounter map[string]int

func (e errCounter) IncTransformerError(ct string) { e[ct]++ }

func TestProcess_OrderAndTies(t *testing.T) {
	p := New([]ContentType{
		{Name: "b", Order: 10, NoWrapper: true, Parser: fixed("b")},
		{Name: "a", Order: 10, NoWrapper: true, Parser: fixed("a")},
		{Name: "c", Order: 5, NoWrapper: true, Parser: fixed("c")},
	}, Options{})

	c := &card.Card{Name: "x"}
	p.Process(context.Background(), c)
	if string(c.Content) != "cba" {
		t.Fatalf("content = %q, want cba", c.Content)
	}
}

func TestProcess_Wrapping(t *testing.T) {
	p := New([]ContentType{
		{Name: "markdown", Order: 50, Parser: fixed("<p>hi</p>")},
		{Name: "raw", Order: 60, NoWrapper: true, Parser: fixed("<hr>")},
		{Name: `we"ird`, Order: 70, Parser: fixed("x")},
	}, Options{})

	c := &card.Card{Name: "x"}
	p.Process(context.Background(), c)
	want := `<div class="content-markdown"><p>hi</p></div><hr><div class="content-we&#34;ird">x</div>`
	if string(c.Content) != want {
		t.Fatalf("content =\n%s\nwant\n%s", c.Content, want)
	}
}

func TestProcess_DerivedFields(t *testing.T) {
	p := New(nil, Options{})
	c := &card.Card{Name: "Q3 Report: Final!", DateLastActivity: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	p.Process(context.Background(), c)

	if c.Slug != "q3-report-final" {
		t.Fatalf("slug = %q", c.Slug)
	}
	if c.Timestamp != "Wednesday 1 January 2020" {
		t.Fatalf("timestamp = %q", c.Timestamp)
	}
	if c.Content != "" {
		t.Fatalf("content = %q, want empty with no content types", c.Content)
	}
}

func TestProcess_FailingTransformerIsEmpty(t *testing.T) {
	errs := errCounter{}
	p := New([]ContentType{
		{Name: "first", Order: 1, NoWrapper: true, Parser: fixed("1")},
		{Name: "broken", Order: 2, Parser: func(card.Card) (string, error) { return "partial", errors.New("bad") }},
		{Name: "panics", Order: 3, NoWrapper: true, Parser: func(card.Card) (string, error) { panic("boom") }},
		{Name: "last", Order: 4, NoWrapper: true, Parser: fixed("4")},
	}, Options{Metrics: errs})

	c := &card.Card{Name: "x"}
	p.Process(context.Background(), c)

	if string(c.Content) != `1<div class="content-broken"></div>4` {
		t.Fatalf("content = %q", c.Content)
	}
	if errs["broken"] != 1 || errs["panics"] != 1 {
		t.Fatalf("errors = %v", errs)
	}
}

func TestProcess_ParserGetsCopy(t *testing.T) {
	p := New([]ContentType{{
		Name:      "mutator",
		NoWrapper: true,
		Parser: func(c card.Card) (string, error) {
			c.Name = "changed"
			return "", nil
		},
	}}, Options{})

	c := &card.Card{Name: "Original"}
	p.Process(context.Background(), c)
	if c.Name != "Original" {
		t.Fatalf("parser mutated card name to %q", c.Name)
	}
}

func TestNew_DoesNotReorderCallerSlice(t *testing.T) {
	in := []ContentType{{Name: "late", Order: 90}, {Name: "early", Order: 1}}
	p := New(in, Options{})
	if in[0].Name != "late" {
		t.Fatal("New sorted the caller's slice")
	}
	got := p.ContentTypes()
	if got[0].Name != "early" || got[1].Name != "late" {
		t.Fatalf("ContentTypes = %v", got)
	}
}

func TestProcessAll(t *testing.T) {
	p := New([]ContentType{{Name: "md", Order: 50, Parser: MarkdownParser}}, Options{})
	cards := p.ProcessAll(context.Background(), []card.Card{{Name: "One", Desc: "**bold**"}, {Name: "Two"}})
	if cards[0].Slug != "one" || cards[1].Slug != "two" {
		t.Fatalf("slugs = %q %q", cards[0].Slug, cards[1].Slug)
	}
	if !strings.Contains(string(cards[0].Content), "<strong>bold</strong>") {
		t.Fatalf("content = %q", cards[0].Content)
	}
}

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"heading", "# Hello", `<h1 id="hello">Hello</h1>`},
		{"list", "- a\n- b", "<li>a</li>"},
		{"table", "| a |\n|---|\n| 1 |", "<table>"},
		{"strikethrough", "~~gone~~", "<del>gone</del>"},
		{"raw html dropped", "<script>alert(1)</script>", "<!-- raw HTML omitted -->"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderMarkdown(tt.in)
			if err != nil {
				t.Fatalf("RenderMarkdown: %v", err)
			}
			if !strings.Contains(got, tt.want) {
				t.Fatalf("RenderMarkdown(%q) = %q, want it to contain %q", tt.in, got, tt.want)
			}
		})
	}
}
