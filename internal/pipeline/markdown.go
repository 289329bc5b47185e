package pipeline

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/robb-j/husky-cms/internal/card"
)

// raw html in card descriptions is dropped, goldmark's default
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// RenderMarkdown renders src as GitHub-flavoured markdown.
func RenderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// MarkdownParser renders a card's description.
func MarkdownParser(c card.Card) (string, error) {
	return RenderMarkdown(c.Desc)
}
