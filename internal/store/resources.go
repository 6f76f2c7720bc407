package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesh-intelligence/folio/internal/codec"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// Share modes stored in resource_shares.mode.
const (
	shareRead  = "read"
	shareWrite = "write"
)

type resourcesTable struct {
	b *Backend
}

const resourceColumns = "r.id, r.resource_type, r.text_id, r.level, r.title, r.description, r.owner_id, " +
	"r.proposed, r.public, r.original_id, r.config, r.contents_changed_at, r.created_at, r.modified_at"

func (t *resourcesTable) Get(ctx context.Context, id string) (*types.Resource, error) {
	rs, err := t.Find(ctx, types.ResourceFilter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("%w: resource %s", types.ErrNotFound, id)
	}
	return rs[0], nil
}

// Find returns matching resources ordered by creation time.
func (t *resourcesTable) Find(ctx context.Context, f types.ResourceFilter) ([]*types.Resource, error) {
	db, d, err := t.b.conn()
	if err != nil {
		return nil, err
	}
	where, args, err := resourceWhere(f)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + resourceColumns + " FROM resources r" + where + " ORDER BY r.created_at, r.id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying resources: %w", err)
	}
	var rs []*types.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		rs = append(rs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resources: %w", err)
	}
	if err := t.loadShares(ctx, db, d, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

func (t *resourcesTable) Count(ctx context.Context, f types.ResourceFilter) (int, error) {
	db, d, err := t.b.conn()
	if err != nil {
		return 0, err
	}
	where, args, err := resourceWhere(f)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, d.rebind("SELECT COUNT(*) FROM resources r"+where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting resources: %w", err)
	}
	return n, nil
}

// Insert assigns ID and timestamps when unset and stores r with its shares.
func (t *resourcesTable) Insert(ctx context.Context, r *types.Resource) error {
	if r.ID == "" {
		r.ID = generateUUID()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.ModifiedAt.IsZero() {
		r.ModifiedAt = now
	}
	if r.ContentsChangedAt.IsZero() {
		r.ContentsChangedAt = now
	}
	if r.SharedRead == nil {
		r.SharedRead = []string{}
	}
	if r.SharedWrite == nil {
		r.SharedWrite = []string{}
	}
	row, err := encodeResource(r)
	if err != nil {
		return err
	}
	return t.b.withTx(ctx, func(tx *sql.Tx, d dialect) error {
		_, err := tx.ExecContext(ctx, d.rebind("INSERT INTO resources (id, resource_type, text_id, level, title, description, "+
			"owner_id, proposed, public, original_id, config, contents_changed_at, created_at, modified_at) VALUES ("+placeholders(14)+")"),
			r.ID, r.ResourceType, r.TextID, r.Level, row.title, row.description,
			nullString(r.OwnerID), boolInt(r.Proposed), boolInt(r.Public), nullString(r.OriginalID), row.config,
			formatTime(r.ContentsChangedAt), formatTime(r.CreatedAt), formatTime(r.ModifiedAt))
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: resource %s exists", types.ErrConflict, r.ID)
		}
		if err != nil {
			return fmt.Errorf("inserting resource: %w", err)
		}
		return writeShares(ctx, tx, d, r)
	})
}

// Update stores the mutable fields of r and sets ModifiedAt. The type,
// text, level and creation time of a resource never change, and
// ContentsChangedAt is written only by TouchContents; r receives the stored
// value.
func (t *resourcesTable) Update(ctx context.Context, r *types.Resource) error {
	r.ModifiedAt = time.Now().UTC()
	row, err := encodeResource(r)
	if err != nil {
		return err
	}
	return t.b.withTx(ctx, func(tx *sql.Tx, d dialect) error {
		res, err := tx.ExecContext(ctx, d.rebind("UPDATE resources SET title = ?, description = ?, owner_id = ?, "+
			"proposed = ?, public = ?, original_id = ?, config = ?, modified_at = ? WHERE id = ?"),
			row.title, row.description, nullString(r.OwnerID), boolInt(r.Proposed), boolInt(r.Public),
			nullString(r.OriginalID), row.config, formatTime(r.ModifiedAt), r.ID)
		if err != nil {
			return fmt.Errorf("updating resource %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: resource %s", types.ErrNotFound, r.ID)
		}
		var changed string
		if err := tx.QueryRowContext(ctx, d.rebind("SELECT contents_changed_at FROM resources WHERE id = ?"), r.ID).Scan(&changed); err != nil {
			return fmt.Errorf("reading contents stamp of resource %s: %w", r.ID, err)
		}
		if r.ContentsChangedAt, err = parseTime(changed); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, d.rebind("DELETE FROM resource_shares WHERE resource_id = ?"), r.ID); err != nil {
			return fmt.Errorf("clearing shares of resource %s: %w", r.ID, err)
		}
		return writeShares(ctx, tx, d, r)
	})
}

func (t *resourcesTable) TouchContents(ctx context.Context, id string, at time.Time) error {
	db, d, err := t.b.conn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, d.rebind("UPDATE resources SET contents_changed_at = ? WHERE id = ?"), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touching resource %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: resource %s", types.ErrNotFound, id)
	}
	return nil
}

func (t *resourcesTable) DetachVersions(ctx context.Context, originalID string) (int, error) {
	db, d, err := t.b.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, d.rebind("UPDATE resources SET original_id = NULL WHERE original_id = ?"), originalID)
	if err != nil {
		return 0, fmt.Errorf("detaching versions of %s: %w", originalID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Delete removes the resource row and its shares. Contents are removed by
// the caller.
func (t *resourcesTable) Delete(ctx context.Context, id string) error {
	return t.b.withTx(ctx, func(tx *sql.Tx, d dialect) error {
		if _, err := tx.ExecContext(ctx, d.rebind("DELETE FROM resource_shares WHERE resource_id = ?"), id); err != nil {
			return fmt.Errorf("deleting shares of resource %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, d.rebind("DELETE FROM resources WHERE id = ?"), id)
		if err != nil {
			return fmt.Errorf("deleting resource %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: resource %s", types.ErrNotFound, id)
		}
		return nil
	})
}

func (t *resourcesTable) loadShares(ctx context.Context, db *sql.DB, d dialect, rs []*types.Resource) error {
	if len(rs) == 0 {
		return nil
	}
	byID := make(map[string]*types.Resource, len(rs))
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		r.SharedRead = []string{}
		r.SharedWrite = []string{}
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}
	clause, args := inClause("resource_id", ids)
	rows, err := db.QueryContext(ctx, d.rebind("SELECT resource_id, principal_id, mode FROM resource_shares WHERE "+clause+
		" ORDER BY resource_id, mode, position"), args...)
	if err != nil {
		return fmt.Errorf("querying shares: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var resourceID, principalID, mode string
		if err := rows.Scan(&resourceID, &principalID, &mode); err != nil {
			return fmt.Errorf("scanning share: %w", err)
		}
		r := byID[resourceID]
		switch mode {
		case shareRead:
			r.SharedRead = append(r.SharedRead, principalID)
		case shareWrite:
			r.SharedWrite = append(r.SharedWrite, principalID)
		}
	}
	return rows.Err()
}

func writeShares(ctx context.Context, tx *sql.Tx, d dialect, r *types.Resource) error {
	query := d.rebind("INSERT INTO resource_shares (resource_id, principal_id, mode, position) VALUES (?, ?, ?, ?)")
	for mode, ids := range map[string][]string{shareRead: r.SharedRead, shareWrite: r.SharedWrite} {
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx, query, r.ID, id, mode, i); err != nil {
				return fmt.Errorf("inserting %s share of resource %s: %w", mode, r.ID, err)
			}
		}
	}
	return nil
}

func resourceWhere(f types.ResourceFilter) (string, []any, error) {
	var (
		conditions []string
		args       []any
	)
	if len(f.IDs) > 0 {
		clause, ids := inClause("r.id", f.IDs)
		conditions = append(conditions, clause)
		args = append(args, ids...)
	}
	if f.TextID != "" {
		conditions = append(conditions, "r.text_id = ?")
		args = append(args, f.TextID)
	}
	if f.Level != nil {
		conditions = append(conditions, "r.level = ?")
		args = append(args, *f.Level)
	}
	if f.ResourceType != "" {
		conditions = append(conditions, "r.resource_type = ?")
		args = append(args, f.ResourceType)
	}
	if f.OwnerID != "" {
		conditions = append(conditions, "r.owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.OriginalID != "" {
		conditions = append(conditions, "r.original_id = ?")
		args = append(args, f.OriginalID)
	}
	if f.Access.Op != types.CondAll {
		clause, cargs, err := compileCondition(f.Access)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, clause)
		args = append(args, cargs...)
	}
	return whereClause(conditions), args, nil
}

type resourceRow struct {
	title       string
	description string
	config      []byte
}

func encodeResource(r *types.Resource) (resourceRow, error) {
	if err := r.Title.Validate(); err != nil {
		return resourceRow{}, err
	}
	title, err := json.Marshal(r.Title)
	if err != nil {
		return resourceRow{}, fmt.Errorf("encoding title: %w", err)
	}
	desc := r.Description
	if desc == nil {
		desc = types.Translations{}
	}
	description, err := json.Marshal(desc)
	if err != nil {
		return resourceRow{}, fmt.Errorf("encoding description: %w", err)
	}
	var config []byte
	if len(r.Config) > 0 {
		if config, err = codec.Marshal(r.Config); err != nil {
			return resourceRow{}, fmt.Errorf("encoding config: %w", err)
		}
	}
	return resourceRow{title: string(title), description: string(description), config: config}, nil
}

func scanResource(rows *sql.Rows) (*types.Resource, error) {
	var (
		r                  types.Resource
		title, description string
		owner, original    sql.NullString
		proposed, public   int
		config             []byte
		stamps             [3]string
	)
	if err := rows.Scan(&r.ID, &r.ResourceType, &r.TextID, &r.Level, &title, &description, &owner,
		&proposed, &public, &original, &config, &stamps[0], &stamps[1], &stamps[2]); err != nil {
		return nil, fmt.Errorf("scanning resource: %w", err)
	}
	r.OwnerID = owner.String
	r.OriginalID = original.String
	r.Proposed = proposed != 0
	r.Public = public != 0
	if err := json.Unmarshal([]byte(title), &r.Title); err != nil {
		return nil, fmt.Errorf("decoding title of resource %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(description), &r.Description); err != nil {
		return nil, fmt.Errorf("decoding description of resource %s: %w", r.ID, err)
	}
	if err := codec.Unmarshal(config, &r.Config); err != nil {
		return nil, fmt.Errorf("decoding config of resource %s: %w", r.ID, err)
	}
	if err := parseTimes(stamps[:], &r.ContentsChangedAt, &r.CreatedAt, &r.ModifiedAt); err != nil {
		return nil, fmt.Errorf("parsing timestamps of resource %s: %w", r.ID, err)
	}
	return &r, nil
}
