package registry

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mesh-intelligence/folio/pkg/types"
)

// Generic export format keys, available for every type.
const (
	FormatJSON      = "json"
	FormatTekstJSON = "tekst-json"
)

// ExportFormat describes one artifact format.
type ExportFormat struct {
	Key       string `json:"key"`
	Extension string `json:"extension"`
	MimeType  string `json:"mimeType"`
}

// GenericFormats are rendered by the registry itself, independent of type.
var GenericFormats = []ExportFormat{
	{Key: FormatJSON, Extension: "json", MimeType: "application/json"},
	{Key: FormatTekstJSON, Extension: "json", MimeType: "application/json"},
}

// ExportInput is everything a renderer needs. Contents are ordered by
// location position.
type ExportInput struct {
	Resource  *types.Resource
	Text      *types.Text
	Contents  []*types.Content
	Locations map[string]*types.Location
	Labels    map[string]string // Full location labels by location ID.
}

// Formats lists every format the entry can render, generic ones first.
func (e *Entry) Formats() []ExportFormat {
	out := append([]ExportFormat(nil), GenericFormats...)
	if ex, ok := e.Type.(Exporter); ok {
		out = append(out, ex.ExportFormats()...)
	}
	return out
}

// Format looks up a format by key.
func (e *Entry) Format(key string) (ExportFormat, error) {
	for _, f := range e.Formats() {
		if f.Key == key {
			return f, nil
		}
	}
	return ExportFormat{}, fmt.Errorf("%w: %q for %s", types.ErrUnsupportedFormat, key, e.Key)
}

// Export renders in to w. The generic formats are handled here; anything
// else goes to the type's exporter, and types without one fail with
// types.ErrUnsupportedFormat.
func (e *Entry) Export(w io.Writer, in ExportInput, format string) error {
	switch format {
	case FormatTekstJSON:
		return writeJSON(w, importDocument(in))
	case FormatJSON:
		return writeJSON(w, enrichedDocument(in))
	}
	ex, ok := e.Type.(Exporter)
	if !ok {
		return fmt.Errorf("%w: %q for %s", types.ErrUnsupportedFormat, format, e.Key)
	}
	return ex.Export(w, in, format)
}

// ImportDocument is the shape accepted by content import and produced by the
// tekst-json export.
type ImportDocument struct {
	ResourceID string           `json:"resourceId"`
	Contents   []map[string]any `json:"contents"`
}

func importDocument(in ExportInput) ImportDocument {
	doc := ImportDocument{ResourceID: in.Resource.ID, Contents: make([]map[string]any, 0, len(in.Contents))}
	for _, c := range in.Contents {
		row := c.Document()
		for _, k := range []string{
			types.ContentKeyID, types.ContentKeyResourceID, types.ContentKeyResourceType,
			types.ContentKeyCreatedAt, types.ContentKeyModifiedAt,
		} {
			delete(row, k)
		}
		doc.Contents = append(doc.Contents, row)
	}
	return doc
}

type enrichedLocation struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Position int    `json:"position"`
}

type enrichedContent struct {
	Location enrichedLocation `json:"location"`
	Comment  string           `json:"comment,omitempty"`
	Notes    string           `json:"notes,omitempty"`
	Fields   map[string]any   `json:"fields"`
}

type enrichedExport struct {
	Resource struct {
		ID           string             `json:"id"`
		ResourceType string             `json:"resourceType"`
		Title        types.Translations `json:"title"`
		Description  types.Translations `json:"description,omitempty"`
		Level        int                `json:"level"`
		LevelLabel   string             `json:"levelLabel,omitempty"`
	} `json:"resource"`
	Text *struct {
		ID    string `json:"id"`
		Slug  string `json:"slug"`
		Title string `json:"title"`
	} `json:"text,omitempty"`
	Contents []enrichedContent `json:"contents"`
}

func enrichedDocument(in ExportInput) enrichedExport {
	var out enrichedExport
	out.Resource.ID = in.Resource.ID
	out.Resource.ResourceType = in.Resource.ResourceType
	out.Resource.Title = in.Resource.Title
	out.Resource.Description = in.Resource.Description
	out.Resource.Level = in.Resource.Level
	if in.Text != nil {
		if in.Text.ValidLevel(in.Resource.Level) {
			out.Resource.LevelLabel = in.Text.Levels[in.Resource.Level]
		}
		out.Text = &struct {
			ID    string `json:"id"`
			Slug  string `json:"slug"`
			Title string `json:"title"`
		}{in.Text.ID, in.Text.Slug, in.Text.Title}
	}
	out.Contents = make([]enrichedContent, 0, len(in.Contents))
	for _, c := range in.Contents {
		loc := enrichedLocation{ID: c.LocationID, Label: in.Labels[c.LocationID]}
		if l, ok := in.Locations[c.LocationID]; ok {
			loc.Position = l.Position
		}
		fields := c.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		out.Contents = append(out.Contents, enrichedContent{
			Location: loc,
			Comment:  c.Comment,
			Notes:    c.Notes,
			Fields:   fields,
		})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	return nil
}
