package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mesh-intelligence/folio/internal/codec"
	"github.com/mesh-intelligence/folio/pkg/types"
)

type contentsTable struct {
	b *Backend
}

const contentColumns = "c.id, c.resource_id, c.resource_type, c.location_id, c.comment, c.notes, c.fields, c.created_at, c.modified_at"

const contentInsert = "INSERT INTO contents (id, resource_id, resource_type, location_id, comment, notes, fields, created_at, modified_at) " +
	"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"

func (t *contentsTable) Get(ctx context.Context, id string) (*types.Content, error) {
	cs, err := t.Find(ctx, types.ContentFilter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, fmt.Errorf("%w: content %s", types.ErrNotFound, id)
	}
	return cs[0], nil
}

// Find returns matching contents ordered by the position of their location.
func (t *contentsTable) Find(ctx context.Context, f types.ContentFilter) ([]*types.Content, error) {
	db, d, err := t.b.conn()
	if err != nil {
		return nil, err
	}
	where, args := contentWhere(f)
	query := "SELECT " + contentColumns + " FROM contents c LEFT JOIN locations l ON l.id = c.location_id" +
		where + " ORDER BY l.position, c.id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying contents: %w", err)
	}
	defer rows.Close()

	var cs []*types.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	return cs, rows.Err()
}

func (t *contentsTable) Count(ctx context.Context, f types.ContentFilter) (int, error) {
	db, d, err := t.b.conn()
	if err != nil {
		return 0, err
	}
	where, args := contentWhere(f)
	var n int
	query := "SELECT COUNT(*) FROM contents c LEFT JOIN locations l ON l.id = c.location_id" + where
	if err := db.QueryRowContext(ctx, d.rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting contents: %w", err)
	}
	return n, nil
}

// Insert stores c. The unique (resource, location) index turns a concurrent
// second insert for the same pair into ErrContentConflict.
func (t *contentsTable) Insert(ctx context.Context, c *types.Content) error {
	db, d, err := t.b.conn()
	if err != nil {
		return err
	}
	args, err := contentArgs(c)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, d.rebind(contentInsert), args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: resource %s location %s", types.ErrContentConflict, c.ResourceID, c.LocationID)
	}
	if err != nil {
		return fmt.Errorf("inserting content: %w", err)
	}
	return nil
}

// InsertMany stores cs in one transaction. Contents whose (resource,
// location) pair is already bound, including pairs bound earlier in cs, are
// skipped.
func (t *contentsTable) InsertMany(ctx context.Context, cs []*types.Content) ([]string, error) {
	var inserted []string
	err := t.b.withTx(ctx, func(tx *sql.Tx, d dialect) error {
		query := d.rebind(contentInsert + " ON CONFLICT (resource_id, location_id) DO NOTHING")
		for _, c := range cs {
			args, err := contentArgs(c)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("inserting content: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted = append(inserted, c.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// Update stores the comment, notes and type fields of c and sets
// ModifiedAt. Bindings never change.
func (t *contentsTable) Update(ctx context.Context, c *types.Content) error {
	db, d, err := t.b.conn()
	if err != nil {
		return err
	}
	c.ModifiedAt = time.Now().UTC()
	fields, err := encodeFields(c.Fields)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, d.rebind("UPDATE contents SET comment = ?, notes = ?, fields = ?, modified_at = ? WHERE id = ?"),
		nullString(c.Comment), nullString(c.Notes), fields, formatTime(c.ModifiedAt), c.ID)
	if err != nil {
		return fmt.Errorf("updating content %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: content %s", types.ErrNotFound, c.ID)
	}
	return nil
}

func (t *contentsTable) Delete(ctx context.Context, id string) error {
	db, d, err := t.b.conn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, d.rebind("DELETE FROM contents WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting content %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: content %s", types.ErrNotFound, id)
	}
	return nil
}

func (t *contentsTable) DeleteByResource(ctx context.Context, resourceID string) (int, error) {
	db, d, err := t.b.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, d.rebind("DELETE FROM contents WHERE resource_id = ?"), resourceID)
	if err != nil {
		return 0, fmt.Errorf("deleting contents of resource %s: %w", resourceID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// contentArgs assigns missing ID and timestamps and returns the insert
// arguments for c.
func contentArgs(c *types.Content) ([]any, error) {
	if c.ID == "" {
		c.ID = generateUUID()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.ModifiedAt.IsZero() {
		c.ModifiedAt = now
	}
	fields, err := encodeFields(c.Fields)
	if err != nil {
		return nil, err
	}
	return []any{c.ID, c.ResourceID, c.ResourceType, c.LocationID, nullString(c.Comment), nullString(c.Notes),
		fields, formatTime(c.CreatedAt), formatTime(c.ModifiedAt)}, nil
}

func encodeFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := codec.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding content fields: %w", err)
	}
	return data, nil
}

func contentWhere(f types.ContentFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if len(f.IDs) > 0 {
		clause, ids := inClause("c.id", f.IDs)
		conditions = append(conditions, clause)
		args = append(args, ids...)
	}
	if len(f.ResourceIDs) > 0 {
		clause, ids := inClause("c.resource_id", f.ResourceIDs)
		conditions = append(conditions, clause)
		args = append(args, ids...)
	}
	if len(f.LocationIDs) > 0 {
		clause, ids := inClause("c.location_id", f.LocationIDs)
		conditions = append(conditions, clause)
		args = append(args, ids...)
	}
	if f.FromPosition != nil {
		conditions = append(conditions, "l.position >= ?")
		args = append(args, *f.FromPosition)
	}
	if f.ToPosition != nil {
		conditions = append(conditions, "l.position <= ?")
		args = append(args, *f.ToPosition)
	}
	return whereClause(conditions), args
}

func scanContent(rows *sql.Rows) (*types.Content, error) {
	var (
		c              types.Content
		comment, notes sql.NullString
		fields         []byte
		stamps         [2]string
	)
	if err := rows.Scan(&c.ID, &c.ResourceID, &c.ResourceType, &c.LocationID, &comment, &notes,
		&fields, &stamps[0], &stamps[1]); err != nil {
		return nil, fmt.Errorf("scanning content: %w", err)
	}
	c.Comment = comment.String
	c.Notes = notes.String
	if err := codec.Unmarshal(fields, &c.Fields); err != nil {
		return nil, fmt.Errorf("decoding fields of content %s: %w", c.ID, err)
	}
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	if err := parseTimes(stamps[:], &c.CreatedAt, &c.ModifiedAt); err != nil {
		return nil, fmt.Errorf("parsing timestamps of content %s: %w", c.ID, err)
	}
	return &c, nil
}
