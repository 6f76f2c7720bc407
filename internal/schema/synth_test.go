package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/folio/pkg/types"
)

var baseNote = Definition{
	Name: "note",
	Fields: []Field{
		{Name: "kind", Kind: KindString, Required: true, Discriminant: true},
		{Name: "parentId", Kind: KindString, Required: true, Immutable: true},
		{Name: "title", Kind: KindTranslations, Required: true, MinItems: 1, MaxLength: 64},
		{Name: "ownerId", Kind: KindString, Nullable: true, ServerManaged: true, Immutable: true},
		{Name: "tags", Kind: KindStringList, ServerManaged: true},
		{Name: "body", Kind: KindString, MaxLength: 10},
	},
	ReadExtensions: []Field{
		{Name: "writable", Kind: KindBoolean, Required: true},
	},
}

var stickyNote = Definition{
	Name: "stickyNote",
	Base: &baseNote,
	Fields: []Field{
		{Name: "kind", Kind: KindString, Required: true, Discriminant: true, Enum: []any{"sticky"}},
		{Name: "color", Kind: KindString, Required: true, Enum: []any{"yellow", "pink"}},
	},
}

func TestSynthesizeViews(t *testing.T) {
	vs, err := Synthesize(baseNote)
	require.NoError(t, err)

	assert.Equal(t, []string{"kind", "parentId", "title", "body"}, vs.Create.Names())
	assert.Equal(t,
		[]string{"id", "createdAt", "modifiedAt", "kind", "parentId", "title", "ownerId", "tags", "body", "writable"},
		vs.Read.Names())
	assert.Equal(t, []string{"kind", "title", "tags", "body"}, vs.Update.Names())
	assert.Equal(t,
		[]string{"id", "createdAt", "modifiedAt", "kind", "parentId", "title", "ownerId", "tags", "body"},
		vs.Stored.Names())

	for _, f := range vs.Update.Fields() {
		assert.Equal(t, f.Discriminant, f.Required, "update field %s", f.Name)
	}
	id, ok := vs.Read.Field(FieldID)
	require.True(t, ok)
	assert.True(t, id.Required)
	assert.Same(t, vs.Create, vs.View(VariantCreate))
	assert.Nil(t, vs.View("bogus"))
}

func TestSynthesizeIsDeterministic(t *testing.T) {
	a, err := Synthesize(stickyNote)
	require.NoError(t, err)
	b, err := Synthesize(stickyNote)
	require.NoError(t, err)

	for _, variant := range []Variant{VariantCreate, VariantRead, VariantUpdate, VariantStored} {
		assert.Equal(t, a.View(variant).Fields(), b.View(variant).Fields(), "variant %s", variant)
		assert.Equal(t, a.View(variant).Schema(), b.View(variant).Schema(), "variant %s", variant)
	}
}

func TestSynthesizeSubtypeKeepsBaseFields(t *testing.T) {
	base, err := Synthesize(baseNote)
	require.NoError(t, err)
	sub, err := Synthesize(stickyNote)
	require.NoError(t, err)

	for _, variant := range []Variant{VariantCreate, VariantRead, VariantUpdate, VariantStored} {
		for _, name := range base.View(variant).Names() {
			assert.True(t, sub.View(variant).Has(name), "%s view lost base field %s", variant, name)
		}
	}
	assert.True(t, sub.Create.Has("color"))
	kind, _ := sub.Create.Field("kind")
	assert.Equal(t, []any{"sticky"}, kind.Enum)
}

func TestSynthesizeRejectsReservedNames(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want error
	}{
		{
			name: "canonical field named id",
			def:  Definition{Name: "bad", Fields: []Field{{Name: "id", Kind: KindString}}},
			want: ErrReservedField,
		},
		{
			name: "read extension named createdAt",
			def:  Definition{Name: "bad", ReadExtensions: []Field{{Name: "createdAt", Kind: KindTimestamp}}},
			want: ErrReservedField,
		},
		{
			name: "base field collides",
			def: Definition{
				Name: "bad",
				Base: &Definition{Name: "base", Fields: []Field{{Name: "modifiedAt", Kind: KindTimestamp}}},
			},
			want: ErrReservedField,
		},
		{
			name: "duplicate field",
			def:  Definition{Name: "bad", Fields: []Field{{Name: "a", Kind: KindString}, {Name: "a", Kind: KindString}}},
			want: ErrDuplicateField,
		},
		{
			name: "extension shadows field",
			def: Definition{
				Name:           "bad",
				Fields:         []Field{{Name: "a", Kind: KindString}},
				ReadExtensions: []Field{{Name: "a", Kind: KindBoolean}},
			},
			want: ErrDuplicateField,
		},
		{
			name: "missing kind",
			def:  Definition{Name: "bad", Fields: []Field{{Name: "a"}}},
			want: ErrInvalidField,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Synthesize(tt.def)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Panics(t, func() { MustSynthesize(tests[0].def) })
}

func TestViewValidate(t *testing.T) {
	vs := MustSynthesize(stickyNote)
	valid := map[string]any{
		"kind":     "sticky",
		"parentId": "p1",
		"title":    []map[string]any{{"locale": "enUS", "translation": "Hi"}},
		"color":    "pink",
		"body":     "short",
		"extra":    "ignored",
	}
	require.NoError(t, vs.Create.Validate(valid))

	tests := []struct {
		name   string
		mutate func(doc map[string]any)
	}{
		{"missing required", func(doc map[string]any) { delete(doc, "parentId") }},
		{"enum violation", func(doc map[string]any) { doc["color"] = "blue" }},
		{"discriminant violation", func(doc map[string]any) { doc["kind"] = "note" }},
		{"too long", func(doc map[string]any) { doc["body"] = "far too long for this" }},
		{"wrong type", func(doc map[string]any) { doc["body"] = 42 }},
		{"null not allowed", func(doc map[string]any) { doc["body"] = nil }},
		{"empty title", func(doc map[string]any) { doc["title"] = []any{} }},
		{"duplicate locale", func(doc map[string]any) {
			doc["title"] = []any{
				map[string]any{"locale": "enUS", "translation": "a"},
				map[string]any{"locale": "enUS", "translation": "b"},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := map[string]any{}
			for k, v := range valid {
				doc[k] = v
			}
			tt.mutate(doc)
			assert.ErrorIs(t, vs.Create.Validate(doc), types.ErrValidation)
		})
	}
}

func TestUpdateAcceptsSubsetsOfCreatePayload(t *testing.T) {
	vs := MustSynthesize(stickyNote)
	create := map[string]any{
		"kind":     "sticky",
		"parentId": "p1",
		"title":    []any{map[string]any{"locale": "*", "translation": "Hi"}},
		"color":    "yellow",
		"body":     "b",
	}
	require.NoError(t, vs.Create.Validate(create))

	keys := []string{"parentId", "title", "color", "body"}
	for mask := 0; mask < 1<<len(keys); mask++ {
		update := map[string]any{"kind": "sticky"}
		for i, k := range keys {
			if mask&(1<<i) != 0 {
				update[k] = create[k]
			}
		}
		assert.NoError(t, vs.Update.Validate(update), "subset %v", update)

		delete(update, "kind")
		assert.ErrorIs(t, vs.Update.Validate(update), types.ErrValidation, "discriminant must stay required")
	}
}

func TestViewShape(t *testing.T) {
	vs := MustSynthesize(baseNote)
	shaped := vs.Create.Shape(map[string]any{"kind": "k", "ownerId": "u", "body": "b", "zzz": 1})
	assert.Equal(t, map[string]any{"kind": "k", "body": "b"}, shaped)
}

func TestNewViewForQueries(t *testing.T) {
	v, err := NewView("noteQuery", VariantQuery, []Field{
		{Name: "text", Kind: KindString, MaxLength: 8},
		{Name: "limit", Kind: KindInteger, Min: Float(1), Max: Float(100)},
	})
	require.NoError(t, err)
	assert.NoError(t, v.Validate(map[string]any{"text": "abc", "limit": 5}))
	assert.ErrorIs(t, v.Validate(map[string]any{"limit": 0}), types.ErrValidation)
	assert.ErrorIs(t, v.Validate(map[string]any{"limit": 2.5}), types.ErrValidation)
	assert.NoError(t, v.Validate(nil))
}
