package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mesh-intelligence/folio/pkg/types"
)

type principalsTable struct {
	b *Backend
}

func (t *principalsTable) Get(ctx context.Context, id string) (*types.Principal, error) {
	ps, err := t.fetch(ctx, " WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("%w: principal %s", types.ErrNotFound, id)
	}
	return ps[0], nil
}

func (t *principalsTable) GetByUsername(ctx context.Context, username string) (*types.Principal, error) {
	ps, err := t.fetch(ctx, " WHERE username = ?", username)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("%w: principal %q", types.ErrNotFound, username)
	}
	return ps[0], nil
}

func (t *principalsTable) Find(ctx context.Context) ([]*types.Principal, error) {
	return t.fetch(ctx, "")
}

// Insert assigns ID and CreatedAt when unset. Usernames are unique.
func (t *principalsTable) Insert(ctx context.Context, p *types.Principal) error {
	db, d, err := t.b.conn()
	if err != nil {
		return err
	}
	if p.Username == "" {
		return fmt.Errorf("%w: empty username", types.ErrValidation)
	}
	if p.ID == "" {
		p.ID = generateUUID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx, d.rebind("INSERT INTO principals (id, username, superuser, created_at) VALUES (?, ?, ?, ?)"),
		p.ID, p.Username, boolInt(p.Superuser), formatTime(p.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: username %q is taken", types.ErrConflict, p.Username)
	}
	if err != nil {
		return fmt.Errorf("inserting principal: %w", err)
	}
	return nil
}

func (t *principalsTable) fetch(ctx context.Context, where string, args ...any) ([]*types.Principal, error) {
	db, d, err := t.b.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, d.rebind("SELECT id, username, superuser, created_at FROM principals"+where+" ORDER BY username"), args...)
	if err != nil {
		return nil, fmt.Errorf("querying principals: %w", err)
	}
	defer rows.Close()

	var ps []*types.Principal
	for rows.Next() {
		var (
			p         types.Principal
			superuser int
			created   string
		)
		if err := rows.Scan(&p.ID, &p.Username, &superuser, &created); err != nil {
			return nil, fmt.Errorf("scanning principal: %w", err)
		}
		p.Superuser = superuser != 0
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parsing created_at of principal %s: %w", p.ID, err)
		}
		ps = append(ps, &p)
	}
	return ps, rows.Err()
}
