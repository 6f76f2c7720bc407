package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/mesh-intelligence/folio/pkg/types"
)

// View is one synthesized shape of an entity.
type View struct {
	Name    string
	Variant Variant

	fields []Field
	index  map[string]int
	schema *openapi3.Schema
}

// NewView compiles fields into a view. Synthesize uses it for the four
// entity views; callers use it directly for auxiliary shapes such as search
// queries.
func NewView(name string, variant Variant, fields []Field) (*View, error) {
	if err := checkFields(fields, false); err != nil {
		return nil, fmt.Errorf("view %s/%s: %w", name, variant, err)
	}
	v := &View{
		Name:    name,
		Variant: variant,
		fields:  append([]Field(nil), fields...),
		index:   make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		v.index[f.Name] = i
	}
	v.schema = objectSchema(fields)
	v.schema.Title = name + "." + string(variant)
	return v, nil
}

// Fields returns the fields of v in declaration order.
func (v *View) Fields() []Field {
	return append([]Field(nil), v.fields...)
}

// Names returns the field names of v in declaration order.
func (v *View) Names() []string {
	out := make([]string, len(v.fields))
	for i, f := range v.fields {
		out[i] = f.Name
	}
	return out
}

// Field returns the field with the given name.
func (v *View) Field(name string) (Field, bool) {
	i, ok := v.index[name]
	if !ok {
		return Field{}, false
	}
	return v.fields[i], true
}

// Has reports whether v contains the named field.
func (v *View) Has(name string) bool {
	_, ok := v.index[name]
	return ok
}

// Schema returns the compiled OpenAPI schema of v.
func (v *View) Schema() *openapi3.Schema {
	return v.schema
}

// Validate checks doc against v. Keys that v does not declare are ignored.
// Failures wrap types.ErrValidation.
func (v *View) Validate(doc map[string]any) error {
	normalized, err := normalize(doc)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrValidation, v.Name, err)
	}
	if err := v.schema.VisitJSON(normalized); err != nil {
		return fmt.Errorf("%w: %s: %s", types.ErrValidation, v.Name, describe(err))
	}
	obj, _ := normalized.(map[string]any)
	if err := checkTranslations(v.fields, obj, ""); err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrValidation, v.Name, err)
	}
	return nil
}

// Shape returns the subset of doc whose keys v declares.
func (v *View) Shape(doc map[string]any) map[string]any {
	out := make(map[string]any, len(v.fields))
	for _, f := range v.fields {
		if val, ok := doc[f.Name]; ok {
			out[f.Name] = val
		}
	}
	return out
}

// normalize converts doc to the generic JSON value space (map[string]any,
// []any, float64, string, bool, nil) expected by the validator.
func normalize(doc map[string]any) (any, error) {
	if doc == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func describe(err error) string {
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		if path := se.JSONPointer(); len(path) > 0 {
			return strings.Join(path, ".") + ": " + se.Reason
		}
		return se.Reason
	}
	return err.Error()
}

func checkTranslations(fields []Field, obj map[string]any, prefix string) error {
	for _, f := range fields {
		val, ok := obj[f.Name]
		if !ok || val == nil {
			continue
		}
		switch f.Kind {
		case KindTranslations:
			items, _ := val.([]any)
			seen := map[string]bool{}
			for _, item := range items {
				m, _ := item.(map[string]any)
				locale, _ := m["locale"].(string)
				if seen[locale] {
					return fmt.Errorf("%s%s: duplicate locale %q", prefix, f.Name, locale)
				}
				seen[locale] = true
			}
		case KindObject:
			if nested, ok := val.(map[string]any); ok {
				if err := checkTranslations(f.Fields, nested, prefix+f.Name+"."); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
