package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/folio/internal/codec"
	"github.com/mesh-intelligence/folio/pkg/types"
)

type precomputedTable struct {
	b *Backend
}

func (t *precomputedTable) Get(ctx context.Context, refID, kind string) (*types.Precomputed, error) {
	db, d, err := t.b.conn()
	if err != nil {
		return nil, err
	}
	var (
		p       = types.Precomputed{RefID: refID, Kind: kind}
		data    []byte
		created string
	)
	err = db.QueryRowContext(ctx, d.rebind("SELECT data, created_at FROM precomputed WHERE ref_id = ? AND kind = ?"), refID, kind).
		Scan(&data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s of %s", types.ErrNotFound, kind, refID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s of %s: %w", kind, refID, err)
	}
	if err := codec.Unmarshal(data, &p.Data); err != nil {
		return nil, fmt.Errorf("decoding %s of %s: %w", kind, refID, err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at of %s of %s: %w", kind, refID, err)
	}
	return &p, nil
}

// Put stores p, replacing any artifact of the same reference and kind.
func (t *precomputedTable) Put(ctx context.Context, p *types.Precomputed) error {
	db, d, err := t.b.conn()
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	data, err := codec.Marshal(p.Data)
	if err != nil {
		return fmt.Errorf("encoding %s of %s: %w", p.Kind, p.RefID, err)
	}
	_, err = db.ExecContext(ctx, d.rebind("INSERT INTO precomputed (ref_id, kind, data, created_at) VALUES (?, ?, ?, ?) "+
		"ON CONFLICT (ref_id, kind) DO UPDATE SET data = excluded.data, created_at = excluded.created_at"),
		p.RefID, p.Kind, data, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("storing %s of %s: %w", p.Kind, p.RefID, err)
	}
	return nil
}

func (t *precomputedTable) DeleteByRef(ctx context.Context, refID string) error {
	db, d, err := t.b.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, d.rebind("DELETE FROM precomputed WHERE ref_id = ?"), refID); err != nil {
		return fmt.Errorf("deleting precomputed data of %s: %w", refID, err)
	}
	return nil
}
