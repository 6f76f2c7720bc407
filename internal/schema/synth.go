package schema

import "fmt"

// Variant names one of the synthesized views.
type Variant string

// Views derived from a canonical definition.
const (
	VariantCreate Variant = "create"
	VariantRead   Variant = "read"
	VariantUpdate Variant = "update"
	VariantStored Variant = "stored"
	VariantQuery  Variant = "query"
)

// Variants holds the four views of one canonical definition.
type Variants struct {
	Create *View
	Read   *View
	Update *View
	Stored *View
}

// View returns the view for variant, or nil for an unknown variant.
func (vs *Variants) View(variant Variant) *View {
	switch variant {
	case VariantCreate:
		return vs.Create
	case VariantRead:
		return vs.Read
	case VariantUpdate:
		return vs.Update
	case VariantStored:
		return vs.Stored
	}
	return nil
}

func bookkeepingFields() []Field {
	return []Field{
		{Name: FieldID, Kind: KindString, Required: true, MinLength: 1},
		{Name: FieldCreatedAt, Kind: KindTimestamp, Required: true},
		{Name: FieldModifiedAt, Kind: KindTimestamp, Required: true},
	}
}

var reserved = map[string]bool{
	FieldID:         true,
	FieldCreatedAt:  true,
	FieldModifiedAt: true,
}

// Synthesize derives the Create, Read, Update and Stored views of def. It is
// deterministic: the same definition always yields structurally equal views.
// It fails with ErrReservedField when a canonical field or read extension
// uses a bookkeeping name.
func Synthesize(def Definition) (*Variants, error) {
	if err := checkDefinition(def); err != nil {
		return nil, fmt.Errorf("synthesizing %s: %w", def.Name, err)
	}
	fields := def.AllFields()
	extensions := def.allReadExtensions()

	var create, update []Field
	for _, f := range fields {
		if !f.ServerManaged {
			create = append(create, f)
		}
		if !f.Immutable {
			u := f
			u.Required = f.Discriminant
			update = append(update, u)
		}
	}
	read := concat(bookkeepingFields(), fields, extensions)
	stored := concat(bookkeepingFields(), fields)

	vs := &Variants{}
	var err error
	if vs.Create, err = NewView(def.Name, VariantCreate, create); err != nil {
		return nil, err
	}
	if vs.Read, err = NewView(def.Name, VariantRead, read); err != nil {
		return nil, err
	}
	if vs.Update, err = NewView(def.Name, VariantUpdate, update); err != nil {
		return nil, err
	}
	if vs.Stored, err = NewView(def.Name, VariantStored, stored); err != nil {
		return nil, err
	}
	return vs, nil
}

// MustSynthesize is like Synthesize but panics on error. It is meant for
// package-level definitions that are fixed at compile time.
func MustSynthesize(def Definition) *Variants {
	vs, err := Synthesize(def)
	if err != nil {
		panic(err)
	}
	return vs
}

func checkDefinition(def Definition) error {
	for d := &def; d != nil; d = d.Base {
		if err := checkFields(d.Fields, true); err != nil {
			return err
		}
		if err := checkFields(d.ReadExtensions, true); err != nil {
			return err
		}
	}
	names := map[string]bool{}
	for _, f := range def.AllFields() {
		names[f.Name] = true
	}
	for _, f := range def.allReadExtensions() {
		if names[f.Name] {
			return fmt.Errorf("%w: read extension %q", ErrDuplicateField, f.Name)
		}
	}
	return nil
}

func checkFields(fields []Field, topLevel bool) error {
	seen := map[string]bool{}
	for _, f := range fields {
		if f.Name == "" || f.Kind == 0 {
			return fmt.Errorf("%w: %+v", ErrInvalidField, f)
		}
		if topLevel && reserved[f.Name] {
			return fmt.Errorf("%w: %q", ErrReservedField, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateField, f.Name)
		}
		seen[f.Name] = true
		if f.Kind == KindObject || f.Kind == KindObjectList {
			if err := checkFields(f.Fields, false); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
	}
	return nil
}

func concat(parts ...[]Field) []Field {
	var out []Field
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
