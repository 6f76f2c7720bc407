// Package access decides which principals may read and write a resource.
//
// Both predicates are expressed once as a types.Condition. Single-item checks
// evaluate the condition in memory; bulk queries hand the same condition to
// the store, which compiles it into the query.
package access

import "github.com/mesh-intelligence/folio/pkg/types"

// ReadCondition matches the resources p may read: public ones, owned ones,
// and ones shared with p for reading or writing. Superusers read everything;
// anonymous principals read public resources only.
func ReadCondition(p types.Principal) types.Condition {
	if p.Superuser {
		return types.All()
	}
	if p.IsAnonymous() {
		return types.Eq(types.FieldPublic, true)
	}
	return types.Or(
		types.Eq(types.FieldPublic, true),
		types.Eq(types.FieldOwnerID, p.ID),
		types.Contains(types.FieldSharedRead, p.ID),
		types.Contains(types.FieldSharedWrite, p.ID),
	)
}

// WriteCondition matches the resources p may write. Public resources are
// never writable, not even by superusers.
func WriteCondition(p types.Principal) types.Condition {
	if p.Superuser {
		return types.Eq(types.FieldPublic, false)
	}
	if p.IsAnonymous() {
		return types.None()
	}
	return types.And(
		types.Eq(types.FieldPublic, false),
		types.Or(
			types.Eq(types.FieldOwnerID, p.ID),
			types.Contains(types.FieldSharedWrite, p.ID),
		),
	)
}

// CanRead reports whether p may read r.
func CanRead(p types.Principal, r *types.Resource) bool {
	return ReadCondition(p).Match(r)
}

// CanWrite reports whether p may write r.
func CanWrite(p types.Principal, r *types.Resource) bool {
	return WriteCondition(p).Match(r)
}
