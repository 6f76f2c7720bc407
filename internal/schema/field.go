// Package schema derives the Create, Read, Update and Stored views of an
// entity from one canonical field table, and compiles each view to an
// OpenAPI schema used for validation and for advertising capabilities.
package schema

import "errors"

// Kind is the value kind of a field.
type Kind int

// Field kinds.
const (
	KindString Kind = iota + 1
	KindInteger
	KindBoolean
	KindStringList
	KindObject
	KindObjectList
	KindTranslations
	KindTimestamp
	KindAny
)

// Bookkeeping fields added by synthesis. Canonical definitions must not
// declare them.
const (
	FieldID         = "id"
	FieldCreatedAt  = "createdAt"
	FieldModifiedAt = "modifiedAt"
)

// Synthesis errors.
var (
	ErrReservedField  = errors.New("field collides with a bookkeeping field")
	ErrDuplicateField = errors.New("field declared twice")
	ErrInvalidField   = errors.New("invalid field descriptor")
)

// Field describes one canonical field.
type Field struct {
	Name        string
	Kind        Kind
	Description string

	Required bool
	Nullable bool

	// Discriminant fields define an entity's identity and stay required in
	// the Update view.
	Discriminant bool

	// ServerManaged fields are assigned by the server and absent from the
	// Create view.
	ServerManaged bool

	// Immutable fields are absent from the Update view.
	Immutable bool

	MinLength int64
	MaxLength int64
	Min       *float64
	Max       *float64
	MinItems  int64
	MaxItems  int64
	Enum      []any

	// Fields holds the members of KindObject and KindObjectList fields.
	Fields []Field
}

// Float returns a pointer to v, for Field.Min and Field.Max.
func Float(v float64) *float64 { return &v }

// Definition is the canonical field table of an entity. A definition with a
// Base inherits every base field; a field with the same name as a base field
// replaces it in place.
type Definition struct {
	Name   string
	Base   *Definition
	Fields []Field

	// ReadExtensions are computed fields that only appear in the Read view.
	ReadExtensions []Field
}

// AllFields returns the flattened field list of d, base fields first.
func (d Definition) AllFields() []Field {
	var out []Field
	if d.Base != nil {
		out = d.Base.AllFields()
	}
	for _, f := range d.Fields {
		replaced := false
		for i := range out {
			if out[i].Name == f.Name {
				out[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return out
}

// allReadExtensions returns the read extensions of d and its bases.
func (d Definition) allReadExtensions() []Field {
	var out []Field
	if d.Base != nil {
		out = d.Base.allReadExtensions()
	}
	for _, f := range d.ReadExtensions {
		replaced := false
		for i := range out {
			if out[i].Name == f.Name {
				out[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return out
}
