package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mesh-intelligence/folio/pkg/types"
)

type locationsTable struct {
	b *Backend
}

const locationColumns = "id, text_id, parent_id, level, position, label"

func (t *locationsTable) Get(ctx context.Context, id string) (*types.Location, error) {
	locs, err := t.Find(ctx, types.LocationFilter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, fmt.Errorf("%w: location %s", types.ErrNotFound, id)
	}
	return locs[0], nil
}

func (t *locationsTable) Find(ctx context.Context, f types.LocationFilter) ([]*types.Location, error) {
	db, d, err := t.b.conn()
	if err != nil {
		return nil, err
	}
	where, args := locationWhere(f)
	query := "SELECT " + locationColumns + " FROM locations" + where + " ORDER BY level, position"
	rows, err := db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying locations: %w", err)
	}
	defer rows.Close()

	var locs []*types.Location
	for rows.Next() {
		var (
			loc    types.Location
			parent sql.NullString
		)
		if err := rows.Scan(&loc.ID, &loc.TextID, &parent, &loc.Level, &loc.Position, &loc.Label); err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		loc.ParentID = parent.String
		locs = append(locs, &loc)
	}
	return locs, rows.Err()
}

func (t *locationsTable) Count(ctx context.Context, f types.LocationFilter) (int, error) {
	db, d, err := t.b.conn()
	if err != nil {
		return 0, err
	}
	where, args := locationWhere(f)
	var n int
	if err := db.QueryRowContext(ctx, d.rebind("SELECT COUNT(*) FROM locations"+where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting locations: %w", err)
	}
	return n, nil
}

// InsertMany inserts locs in one transaction, assigning missing IDs.
func (t *locationsTable) InsertMany(ctx context.Context, locs []*types.Location) error {
	return t.b.withTx(ctx, func(tx *sql.Tx, d dialect) error {
		query := d.rebind("INSERT INTO locations (" + locationColumns + ") VALUES (" + placeholders(6) + ")")
		for _, loc := range locs {
			if loc.ID == "" {
				loc.ID = generateUUID()
			}
			_, err := tx.ExecContext(ctx, query,
				loc.ID, loc.TextID, nullString(loc.ParentID), loc.Level, loc.Position, loc.Label)
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: location %s exists", types.ErrConflict, loc.ID)
			}
			if err != nil {
				return fmt.Errorf("inserting location %s: %w", loc.ID, err)
			}
		}
		return nil
	})
}

func locationWhere(f types.LocationFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if f.TextID != "" {
		conditions = append(conditions, "text_id = ?")
		args = append(args, f.TextID)
	}
	if f.Level != nil {
		conditions = append(conditions, "level = ?")
		args = append(args, *f.Level)
	}
	if len(f.IDs) > 0 {
		clause, ids := inClause("id", f.IDs)
		conditions = append(conditions, clause)
		args = append(args, ids...)
	}
	if f.FromPosition != nil {
		conditions = append(conditions, "position >= ?")
		args = append(args, *f.FromPosition)
	}
	if f.ToPosition != nil {
		conditions = append(conditions, "position <= ?")
		args = append(args, *f.ToPosition)
	}
	return whereClause(conditions), args
}
