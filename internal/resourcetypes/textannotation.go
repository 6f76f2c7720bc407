package resourcetypes

import (
	"cmp"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/folio/internal/registry"
	"github.com/mesh-intelligence/folio/internal/schema"
	"github.com/mesh-intelligence/folio/internal/search"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// TextAnnotationKey is the type key of TextAnnotation.
const TextAnnotationKey = "textAnnotation"

// maxAggregatedValues caps the distinct values kept per annotation key.
// Keys with more values keep their count but drop the value list.
const maxAggregatedValues = 100

// TextAnnotation resources carry tokens with key/value annotations.
type TextAnnotation struct{}

// Annotation is one key/value pair on a token.
type Annotation struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Token is one annotated token.
type Token struct {
	Token       string       `json:"token"`
	LineBreak   bool         `json:"lb,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// AggregatedKey summarizes the values used for one annotation key.
type AggregatedKey struct {
	Key         string   `json:"key"`
	Occurrences int      `json:"occurrences"`
	Values      []string `json:"values,omitempty"`
}

var annotationFields = []schema.Field{
	{Name: "key", Kind: schema.KindString, Required: true, MinLength: 1, MaxLength: 32},
	{Name: "value", Kind: schema.KindString, Required: true, MinLength: 1, MaxLength: 256},
}

// Key implements registry.ResourceType.
func (TextAnnotation) Key() string { return TextAnnotationKey }

// ConfigFields implements registry.ResourceType.
func (TextAnnotation) ConfigFields() []schema.Field {
	return []schema.Field{
		{Name: "multiValueDelimiter", Kind: schema.KindString, MaxLength: 3},
		{Name: "displayTemplate", Kind: schema.KindString, Nullable: true, MaxLength: 4096},
	}
}

// ContentFields implements registry.ResourceType.
func (TextAnnotation) ContentFields() []schema.Field {
	return []schema.Field{
		{Name: "tokens", Kind: schema.KindObjectList, Required: true, MinItems: 1, MaxItems: 1024, Fields: []schema.Field{
			{Name: "token", Kind: schema.KindString, Required: true, MinLength: 1, MaxLength: 4096},
			{Name: "lb", Kind: schema.KindBoolean},
			{Name: "annotations", Kind: schema.KindObjectList, MaxItems: 128, Fields: annotationFields},
		}},
	}
}

// SearchQueryFields implements registry.ResourceType.
func (TextAnnotation) SearchQueryFields() []schema.Field {
	return []schema.Field{
		{Name: "token", Kind: schema.KindString, MaxLength: 256},
		{Name: "annotations", Kind: schema.KindObjectList, MaxItems: 32, Fields: annotationFields},
		{Name: "comment", Kind: schema.KindString, MaxLength: 512},
	}
}

// IndexFields implements registry.IndexProjector. Annotations are flattened
// to "key=value" strings so a query can match a pair exactly.
func (TextAnnotation) IndexFields(c *types.Content) map[string]any {
	tokens := tokensOf(c)
	words := make([]any, 0, len(tokens))
	pairs := make([]any, 0)
	for _, t := range tokens {
		words = append(words, t.Token)
		for _, a := range t.Annotations {
			pairs = append(pairs, a.Key+"="+a.Value)
		}
	}
	out := map[string]any{"tokens": words, "annotations": pairs}
	if c.Comment != "" {
		out[types.ContentKeyComment] = c.Comment
	}
	return out
}

// QueryTerms implements registry.QueryTermer.
func (TextAnnotation) QueryTerms(q map[string]any) []search.Term {
	var terms []search.Term
	if tok, ok := q["token"].(string); ok && tok != "" {
		terms = append(terms, search.Term{Field: "tokens", Value: tok})
	}
	if c, ok := q["comment"].(string); ok && c != "" {
		terms = append(terms, search.Term{Field: types.ContentKeyComment, Value: c})
	}
	annos, _ := q["annotations"].([]any)
	for _, a := range annos {
		m, _ := a.(map[string]any)
		key, _ := m["key"].(string)
		value, _ := m["value"].(string)
		if key != "" {
			terms = append(terms, search.Term{Field: "annotations", Value: key + "=" + value})
		}
	}
	return terms
}

// TemplateFields implements registry.TemplateProvider.
func (TextAnnotation) TemplateFields() map[string]any {
	return map[string]any{
		"tokens": []any{map[string]any{"token": "", "annotations": []any{}}},
	}
}

// PrecomputeKind implements registry.MaintenanceHook.
func (TextAnnotation) PrecomputeKind() string { return types.PrecomputedAggregations }

// Precompute implements registry.MaintenanceHook. It counts annotation keys
// and collects their distinct values, most frequent first.
func (TextAnnotation) Precompute(ctx context.Context, in registry.MaintenanceInput) (any, error) {
	counts := map[string]int{}
	values := map[string]map[string]int{}
	for _, c := range in.Contents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, t := range tokensOf(c) {
			for _, a := range t.Annotations {
				counts[a.Key]++
				if values[a.Key] == nil {
					values[a.Key] = map[string]int{}
				}
				values[a.Key][a.Value]++
			}
		}
	}

	out := make([]AggregatedKey, 0, len(counts))
	for key, n := range counts {
		agg := AggregatedKey{Key: key, Occurrences: n}
		if len(values[key]) <= maxAggregatedValues {
			agg.Values = sortedByCount(values[key])
		}
		out = append(out, agg)
	}
	slices.SortFunc(out, func(a, b AggregatedKey) int {
		return cmp.Or(cmp.Compare(b.Occurrences, a.Occurrences), cmp.Compare(a.Key, b.Key))
	})
	return out, nil
}

// ExportFormats implements registry.Exporter.
func (TextAnnotation) ExportFormats() []registry.ExportFormat {
	return []registry.ExportFormat{{Key: "csv", Extension: "csv", MimeType: "text/csv"}}
}

// Export implements registry.Exporter. The csv format writes one row per
// token with one column per annotation key.
func (TextAnnotation) Export(w io.Writer, in registry.ExportInput, format string) error {
	if format != "csv" {
		return unsupported(format, TextAnnotationKey)
	}
	delim, _ := in.Resource.Config["multiValueDelimiter"].(string)
	if delim == "" {
		delim = "/"
	}

	keySet := map[string]bool{}
	for _, c := range in.Contents {
		for _, t := range tokensOf(c) {
			for _, a := range t.Annotations {
				keySet[a.Key] = true
			}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	cw := csv.NewWriter(w)
	header := append([]string{"LOCATION", "POSITION", "TOKEN", "LINE_BREAK"}, keys...)
	if err := cw.Write(append(header, "COMMENT")); err != nil {
		return err
	}
	for _, c := range in.Contents {
		for i, t := range tokensOf(c) {
			byKey := map[string][]string{}
			for _, a := range t.Annotations {
				byKey[a.Key] = append(byKey[a.Key], a.Value)
			}
			row := []string{in.Labels[c.LocationID], strconv.Itoa(i), t.Token, strconv.FormatBool(t.LineBreak)}
			for _, k := range keys {
				row = append(row, strings.Join(byKey[k], delim))
			}
			comment := ""
			if i == 0 {
				comment = c.Comment
			}
			if err := cw.Write(append(row, comment)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// tokensOf decodes the tokens field regardless of whether it came from a
// JSON payload or from storage.
func tokensOf(c *types.Content) []Token {
	raw, ok := c.Fields["tokens"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var tokens []Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil
	}
	return tokens
}

func sortedByCount(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b string) int {
		return cmp.Or(cmp.Compare(m[b], m[a]), cmp.Compare(a, b))
	})
	return out
}

func unsupported(format, key string) error {
	return fmt.Errorf("%w: %q for %s", types.ErrUnsupportedFormat, format, key)
}
