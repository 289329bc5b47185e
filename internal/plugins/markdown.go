package plugins

import (
	"github.com/robb-j/husky-cms/internal/pipeline"
	"github.com/robb-j/husky-cms/internal/registry"
)

const MarkdownOrder = 50

// Markdown renders each card's description.
func Markdown() Module {
	return Func("markdown", func(r Registrar, _ Kit) error {
		return r.RegisterContentType("markdown", pipeline.MarkdownParser, registry.WithOrder(MarkdownOrder))
	})
}
