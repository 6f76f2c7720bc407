package types

import "slices"

// Resource fields a Condition can test.
const (
	FieldPublic      = "public"
	FieldProposed    = "proposed"
	FieldOwnerID     = "ownerId"
	FieldSharedRead  = "sharedRead"
	FieldSharedWrite = "sharedWrite"
)

// CondOp is the operator of a Condition node.
type CondOp int

// Condition operators.
const (
	CondAll      CondOp = iota // Matches every resource.
	CondNone                   // Matches no resource.
	CondEq                     // Field equals Value.
	CondContains               // List field contains Value.
	CondAnd
	CondOr
)

// Condition is a predicate over resources. The same tree is evaluated in
// memory by Match and compiled to a query by the store, so single-item and
// bulk checks cannot diverge.
type Condition struct {
	Op    CondOp
	Field string
	Value any
	Terms []Condition
}

// All returns a condition matching every resource.
func All() Condition { return Condition{Op: CondAll} }

// None returns a condition matching no resource.
func None() Condition { return Condition{Op: CondNone} }

// Eq returns a condition testing field == v.
func Eq(field string, v any) Condition {
	return Condition{Op: CondEq, Field: field, Value: v}
}

// Contains returns a condition testing that the list field contains id.
func Contains(field, id string) Condition {
	return Condition{Op: CondContains, Field: field, Value: id}
}

// And returns the conjunction of terms.
func And(terms ...Condition) Condition {
	return Condition{Op: CondAnd, Terms: terms}
}

// Or returns the disjunction of terms.
func Or(terms ...Condition) Condition {
	return Condition{Op: CondOr, Terms: terms}
}

// Match evaluates c against r. Unknown fields never match.
func (c Condition) Match(r *Resource) bool {
	switch c.Op {
	case CondAll:
		return true
	case CondNone:
		return false
	case CondEq:
		switch c.Field {
		case FieldPublic:
			return r.Public == c.Value
		case FieldProposed:
			return r.Proposed == c.Value
		case FieldOwnerID:
			return r.OwnerID != "" && r.OwnerID == c.Value
		}
		return false
	case CondContains:
		id, _ := c.Value.(string)
		switch c.Field {
		case FieldSharedRead:
			return slices.Contains(r.SharedRead, id)
		case FieldSharedWrite:
			return slices.Contains(r.SharedWrite, id)
		}
		return false
	case CondAnd:
		for _, t := range c.Terms {
			if !t.Match(r) {
				return false
			}
		}
		return true
	case CondOr:
		for _, t := range c.Terms {
			if t.Match(r) {
				return true
			}
		}
		return false
	}
	return false
}
