package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/folio/internal/schema"
	"github.com/mesh-intelligence/folio/internal/search"
	"github.com/mesh-intelligence/folio/pkg/types"
)

type fakeType struct {
	key     string
	content []schema.Field
	config  []schema.Field
}

func (f fakeType) Key() string                       { return f.key }
func (f fakeType) ConfigFields() []schema.Field      { return f.config }
func (f fakeType) ContentFields() []schema.Field     { return f.content }
func (f fakeType) SearchQueryFields() []schema.Field { return []schema.Field{{Name: "text", Kind: schema.KindString}} }

type exportingType struct{ fakeType }

func (exportingType) ExportFormats() []ExportFormat {
	return []ExportFormat{{Key: "txt", Extension: "txt", MimeType: "text/plain"}}
}

func (exportingType) Export(w io.Writer, in ExportInput, format string) error {
	if format != "txt" {
		return fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, format)
	}
	_, err := fmt.Fprintf(w, "%d items", len(in.Contents))
	return err
}

func textType(key string) fakeType {
	return fakeType{key: key, content: []schema.Field{{Name: "text", Kind: schema.KindString, Required: true}}}
}

func TestRegistryRegisterGetAll(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(textType("b")))
	require.NoError(t, reg.Register(textType("a")))
	require.NoError(t, reg.Register(textType("c")))

	assert.ErrorIs(t, reg.Register(textType("a")), ErrDuplicateType)

	e, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", e.Key)
	assert.True(t, e.Content.Create.Has("text"))
	assert.True(t, e.Content.Create.Has("locationId"))

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, types.ErrUnknownResourceType)

	assert.Equal(t, []string{"b", "a", "c"}, reg.Keys())
	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].Key)
	assert.Equal(t, reg.All(), all, "order is stable")

	reg.Seal()
	assert.ErrorIs(t, reg.Register(textType("d")), ErrSealed)
}

func TestRegistryRejectsInvalidTypes(t *testing.T) {
	reg := New()
	assert.ErrorIs(t, reg.Register(fakeType{}), ErrInvalidType)
	assert.ErrorIs(t, reg.Register(fakeType{key: "x", content: []schema.Field{{Name: "id", Kind: schema.KindString}}}), ErrInvalidType)
	assert.ErrorIs(t, reg.Register(fakeType{key: "y", content: []schema.Field{{Name: "locationId", Kind: schema.KindString}}}), ErrInvalidType)
	assert.ErrorIs(t, reg.Register(fakeType{key: "z", content: []schema.Field{{Name: "bad"}}}), schema.ErrInvalidField)
	assert.Empty(t, reg.Keys())
}

func TestEntryResourceViews(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(fakeType{
		key:    "notes",
		config: []schema.Field{{Name: "color", Kind: schema.KindString, Enum: []any{"red"}}},
	}))
	e, err := reg.Get("notes")
	require.NoError(t, err)

	create := map[string]any{
		"resourceType": "notes",
		"textId":       "t1",
		"level":        0,
		"title":        []any{map[string]any{"locale": "*", "translation": "Notes"}},
		"config":       map[string]any{"color": "red", "sortOrder": 2},
	}
	require.NoError(t, e.Resource.Create.Validate(create))

	create["resourceType"] = "other"
	assert.ErrorIs(t, e.Resource.Create.Validate(create), types.ErrValidation)

	assert.False(t, e.Resource.Create.Has("ownerId"))
	assert.False(t, e.Resource.Update.Has("public"))
	assert.False(t, e.Resource.Update.Has("textId"))
	assert.True(t, e.Resource.Update.Has("sharedRead"))
	assert.True(t, e.Resource.Read.Has(FieldWritable))
	assert.True(t, e.Resource.Stored.Has("contentsChangedAt"))
	assert.False(t, e.Resource.Stored.Has(FieldWritable))

	assert.ErrorIs(t, e.Resource.Update.Validate(map[string]any{"config": map[string]any{"color": "blue"}}), types.ErrValidation)
	assert.NoError(t, e.Resource.Update.Validate(map[string]any{"resourceType": "notes"}))
}

func TestRegistryCheckStored(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(textType("notes")))

	content := map[string]any{
		"id":           "c1",
		"createdAt":    "2026-10-17T07:00:00Z",
		"modifiedAt":   "2026-10-17T07:00:00Z",
		"resourceId":   "r1",
		"resourceType": "notes",
		"locationId":   "l1",
		"text":         "Habe nun, ach!",
	}
	require.NoError(t, reg.CheckStored(types.ContentsTable, "notes", content))

	delete(content, "text")
	assert.ErrorIs(t, reg.CheckStored(types.ContentsTable, "notes", content), types.ErrValidation)
	delete(content, "id")
	content["text"] = "x"
	assert.ErrorIs(t, reg.CheckStored(types.ContentsTable, "notes", content), types.ErrValidation, "bookkeeping fields are required")

	resource := map[string]any{
		"id":                "r1",
		"createdAt":         "2026-10-17T07:00:00Z",
		"modifiedAt":        "2026-10-17T07:00:00Z",
		"contentsChangedAt": "2026-10-17T07:00:00Z",
		"resourceType":      "notes",
		"textId":            "t1",
		"level":             1,
		"title":             []any{map[string]any{"locale": "*", "translation": "Notes"}},
		"sharedRead":        []any{},
		"sharedWrite":       []any{},
		"proposed":          false,
		"public":            false,
	}
	require.NoError(t, reg.CheckStored(types.ResourcesTable, "notes", resource))
	resource["level"] = -1
	assert.ErrorIs(t, reg.CheckStored(types.ResourcesTable, "notes", resource), types.ErrValidation)

	assert.ErrorIs(t, reg.CheckStored(types.ContentsTable, "missing", content), types.ErrUnknownResourceType)
	assert.ErrorIs(t, reg.CheckStored(types.TextsTable, "notes", content), types.ErrValidation)
}

func TestEntryDefaults(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(textType("plain")))
	e, err := reg.Get("plain")
	require.NoError(t, err)

	c := &types.Content{Comment: "c", Fields: map[string]any{"text": "hello"}}
	assert.Equal(t, map[string]any{"text": "hello", "comment": "c"}, e.IndexDocument(c))
	assert.Equal(t, []search.Term{{Field: "text", Value: "hi"}}, e.QueryTerms(map[string]any{"text": "hi", "other": "x"}))
	assert.Nil(t, e.TemplateFields())
	_, ok := e.MaintenanceHook()
	assert.False(t, ok)

	var buf bytes.Buffer
	err = e.Export(&buf, ExportInput{Resource: &types.Resource{ID: "r"}}, "csv")
	assert.ErrorIs(t, err, types.ErrUnsupportedFormat)
	_, err = e.Format("csv")
	assert.ErrorIs(t, err, types.ErrUnsupportedFormat)
	assert.Len(t, e.Formats(), 2)
}

func TestEntryExportDelegates(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(exportingType{textType("plain")}))
	e, err := reg.Get("plain")
	require.NoError(t, err)

	in := ExportInput{
		Resource: &types.Resource{ID: "r1", ResourceType: "plain", Title: types.Translations{{Locale: "*", Translation: "T"}}},
		Text:     &types.Text{ID: "t1", Slug: "t", Levels: []string{"verse"}},
		Contents: []*types.Content{
			{ID: "c1", ResourceID: "r1", ResourceType: "plain", LocationID: "l1", Fields: map[string]any{"text": "a"}},
		},
		Locations: map[string]*types.Location{"l1": {ID: "l1", Position: 4}},
		Labels:    map[string]string{"l1": "1"},
	}

	var buf bytes.Buffer
	require.NoError(t, e.Export(&buf, in, "txt"))
	assert.Equal(t, "1 items", buf.String())

	buf.Reset()
	require.NoError(t, e.Export(&buf, in, FormatTekstJSON))
	var imp ImportDocument
	require.NoError(t, json.Unmarshal(buf.Bytes(), &imp))
	assert.Equal(t, "r1", imp.ResourceID)
	assert.Equal(t, []map[string]any{{"locationId": "l1", "text": "a"}}, imp.Contents)

	buf.Reset()
	require.NoError(t, e.Export(&buf, in, FormatJSON))
	var enriched map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &enriched))
	contents := enriched["contents"].([]any)
	loc := contents[0].(map[string]any)["location"].(map[string]any)
	assert.Equal(t, "1", loc["label"])
	assert.Equal(t, float64(4), loc["position"])
	assert.Equal(t, "verse", enriched["resource"].(map[string]any)["levelLabel"])

	f, err := e.Format("txt")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", f.MimeType)
}
