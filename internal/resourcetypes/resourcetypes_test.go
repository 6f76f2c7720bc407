package resourcetypes

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/folio/internal/registry"
	"github.com/mesh-intelligence/folio/internal/search"
	"github.com/mesh-intelligence/folio/pkg/types"
)

func annotated(loc string, tokens ...any) *types.Content {
	return &types.Content{
		ResourceType: TextAnnotationKey,
		LocationID:   loc,
		Fields:       map[string]any{"tokens": tokens},
	}
}

func token(tok string, pairs ...string) map[string]any {
	annos := []any{}
	for i := 0; i+1 < len(pairs); i += 2 {
		annos = append(annos, map[string]any{"key": pairs[i], "value": pairs[i+1]})
	}
	return map[string]any{"token": tok, "annotations": annos}
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{PlainTextKey, TextAnnotationKey}, reg.Keys())
	assert.ErrorIs(t, reg.Register(PlainText{}), registry.ErrSealed)
}

func TestContentViews(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	plain, err := reg.Get(PlainTextKey)
	require.NoError(t, err)
	assert.NoError(t, plain.Content.Create.Validate(map[string]any{
		"resourceId": "r1", "resourceType": PlainTextKey, "locationId": "l1", "text": "x",
	}))
	assert.ErrorIs(t, plain.Content.Create.Validate(map[string]any{
		"resourceId": "r1", "resourceType": PlainTextKey, "locationId": "l1", "text": "",
	}), types.ErrValidation)

	anno, err := reg.Get(TextAnnotationKey)
	require.NoError(t, err)
	assert.NoError(t, anno.Content.Create.Validate(map[string]any{
		"resourceId": "r1", "resourceType": TextAnnotationKey, "locationId": "l1",
		"tokens": []any{token("arma", "pos", "NOUN")},
	}))
	assert.ErrorIs(t, anno.Content.Create.Validate(map[string]any{
		"resourceId": "r1", "resourceType": TextAnnotationKey, "locationId": "l1",
		"tokens": []any{map[string]any{"token": "arma", "annotations": []any{map[string]any{"key": "pos"}}}},
	}), types.ErrValidation)
}

func TestTextAnnotationPrecompute(t *testing.T) {
	contents := []*types.Content{
		annotated("l1", token("arma", "pos", "NOUN", "case", "acc"), token("virumque", "pos", "NOUN")),
		annotated("l2", token("cano", "pos", "VERB")),
	}
	out, err := TextAnnotation{}.Precompute(context.Background(), registry.MaintenanceInput{Contents: contents})
	require.NoError(t, err)
	assert.Equal(t, []AggregatedKey{
		{Key: "pos", Occurrences: 3, Values: []string{"NOUN", "VERB"}},
		{Key: "case", Occurrences: 1, Values: []string{"acc"}},
	}, out)
}

func TestTextAnnotationPrecomputeCapsValues(t *testing.T) {
	var tokens []any
	for i := 0; i <= maxAggregatedValues; i++ {
		tokens = append(tokens, token("t", "lemma", string(rune('a'+i%26))+string(rune('a'+i/26))))
	}
	out, err := TextAnnotation{}.Precompute(context.Background(), registry.MaintenanceInput{
		Contents: []*types.Content{annotated("l1", tokens...)},
	})
	require.NoError(t, err)
	aggs := out.([]AggregatedKey)
	require.Len(t, aggs, 1)
	assert.Equal(t, maxAggregatedValues+1, aggs[0].Occurrences)
	assert.Nil(t, aggs[0].Values)
}

func TestTextAnnotationIndexAndQuery(t *testing.T) {
	c := annotated("l1", token("arma", "pos", "NOUN"))
	c.Comment = "opening"
	doc := TextAnnotation{}.IndexFields(c)
	assert.Equal(t, []any{"arma"}, doc["tokens"])
	assert.Equal(t, []any{"pos=NOUN"}, doc["annotations"])
	assert.Equal(t, "opening", doc["comment"])

	terms := TextAnnotation{}.QueryTerms(map[string]any{
		"token":       "arm",
		"annotations": []any{map[string]any{"key": "pos", "value": "NOUN"}},
	})
	assert.Equal(t, []search.Term{
		{Field: "tokens", Value: "arm"},
		{Field: "annotations", Value: "pos=NOUN"},
	}, terms)
}

func TestTextAnnotationCSVExport(t *testing.T) {
	in := registry.ExportInput{
		Resource: &types.Resource{ID: "r1", Config: map[string]any{"multiValueDelimiter": "|"}},
		Contents: []*types.Content{
			annotated("l1", token("arma", "pos", "NOUN", "pos", "X"), token("virumque")),
		},
		Labels: map[string]string{"l1": "1, 1"},
	}
	in.Contents[0].Comment = "first"

	var buf bytes.Buffer
	require.NoError(t, TextAnnotation{}.Export(&buf, in, "csv"))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"LOCATION", "POSITION", "TOKEN", "LINE_BREAK", "pos", "COMMENT"},
		{"1, 1", "0", "arma", "false", "NOUN|X", "first"},
		{"1, 1", "1", "virumque", "false", "", ""},
	}, rows)

	assert.ErrorIs(t, TextAnnotation{}.Export(&buf, in, "tei"), types.ErrUnsupportedFormat)
}

func TestPlainTextExport(t *testing.T) {
	in := registry.ExportInput{
		Resource: &types.Resource{ID: "r1"},
		Contents: []*types.Content{
			{LocationID: "l1", Fields: map[string]any{"text": "one"}},
			{LocationID: "l2", Fields: map[string]any{"text": "two"}},
		},
		Labels: map[string]string{"l1": "A", "l2": "B"},
	}
	var buf bytes.Buffer
	require.NoError(t, PlainText{}.Export(&buf, in, "txt"))
	assert.Equal(t, "[A]\none\n\n[B]\ntwo\n", buf.String())
	assert.ErrorIs(t, PlainText{}.Export(&buf, in, "docx"), types.ErrUnsupportedFormat)
}
