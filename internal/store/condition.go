package store

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/folio/pkg/types"
)

// compileCondition translates c into a SQL predicate over the resources
// table aliased as r. It mirrors types.Condition.Match.
func compileCondition(c types.Condition) (string, []any, error) {
	switch c.Op {
	case types.CondAll:
		return "1 = 1", nil, nil
	case types.CondNone:
		return "1 = 0", nil, nil
	case types.CondEq:
		return compileEq(c)
	case types.CondContains:
		id, ok := c.Value.(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s needs a string value", types.ErrInvalidFilter, c.Field)
		}
		var mode string
		switch c.Field {
		case types.FieldSharedRead:
			mode = shareRead
		case types.FieldSharedWrite:
			mode = shareWrite
		default:
			return "", nil, fmt.Errorf("%w: cannot test membership of %q", types.ErrInvalidFilter, c.Field)
		}
		return "EXISTS (SELECT 1 FROM resource_shares s WHERE s.resource_id = r.id AND s.mode = ? AND s.principal_id = ?)",
			[]any{mode, id}, nil
	case types.CondAnd, types.CondOr:
		if len(c.Terms) == 0 {
			if c.Op == types.CondAnd {
				return "1 = 1", nil, nil
			}
			return "1 = 0", nil, nil
		}
		parts := make([]string, 0, len(c.Terms))
		var args []any
		for _, t := range c.Terms {
			sql, targs, err := compileCondition(t)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			args = append(args, targs...)
		}
		sep := " AND "
		if c.Op == types.CondOr {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")", args, nil
	}
	return "", nil, fmt.Errorf("%w: unknown operator %d", types.ErrInvalidFilter, c.Op)
}

func compileEq(c types.Condition) (string, []any, error) {
	switch c.Field {
	case types.FieldPublic, types.FieldProposed:
		b, ok := c.Value.(bool)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s needs a boolean value", types.ErrInvalidFilter, c.Field)
		}
		return "r." + c.Field + " = ?", []any{boolInt(b)}, nil
	case types.FieldOwnerID:
		id, ok := c.Value.(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s needs a string value", types.ErrInvalidFilter, c.Field)
		}
		return "r.owner_id = ?", []any{id}, nil
	}
	return "", nil, fmt.Errorf("%w: cannot compare %q", types.ErrInvalidFilter, c.Field)
}
