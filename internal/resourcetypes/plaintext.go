package resourcetypes

import (
	"bufio"
	"fmt"
	"io"

	"github.com/mesh-intelligence/folio/internal/registry"
	"github.com/mesh-intelligence/folio/internal/schema"
)

// PlainTextKey is the type key of PlainText.
const PlainTextKey = "plainText"

// PlainText resources carry one block of text per location.
type PlainText struct{}

// Key implements registry.ResourceType.
func (PlainText) Key() string { return PlainTextKey }

// ConfigFields implements registry.ResourceType.
func (PlainText) ConfigFields() []schema.Field {
	return []schema.Field{
		{Name: "fontFamily", Kind: schema.KindString, Nullable: true, MaxLength: 64},
		{Name: "showLineLabels", Kind: schema.KindBoolean},
	}
}

// ContentFields implements registry.ResourceType.
func (PlainText) ContentFields() []schema.Field {
	return []schema.Field{
		{Name: "text", Kind: schema.KindString, Required: true, MinLength: 1, MaxLength: 102400},
	}
}

// SearchQueryFields implements registry.ResourceType.
func (PlainText) SearchQueryFields() []schema.Field {
	return []schema.Field{
		{Name: "text", Kind: schema.KindString, MaxLength: 512},
		{Name: "comment", Kind: schema.KindString, MaxLength: 512},
	}
}

// TemplateFields implements registry.TemplateProvider.
func (PlainText) TemplateFields() map[string]any {
	return map[string]any{"text": ""}
}

// ExportFormats implements registry.Exporter.
func (PlainText) ExportFormats() []registry.ExportFormat {
	return []registry.ExportFormat{{Key: "txt", Extension: "txt", MimeType: "text/plain"}}
}

// Export implements registry.Exporter. The txt format writes each location
// label followed by its text.
func (PlainText) Export(w io.Writer, in registry.ExportInput, format string) error {
	if format != "txt" {
		return unsupported(format, PlainTextKey)
	}
	bw := bufio.NewWriter(w)
	for i, c := range in.Contents {
		if i > 0 {
			bw.WriteString("\n")
		}
		if label := in.Labels[c.LocationID]; label != "" {
			fmt.Fprintf(bw, "[%s]\n", label)
		}
		text, _ := c.Fields["text"].(string)
		bw.WriteString(text)
		bw.WriteString("\n")
	}
	return bw.Flush()
}
