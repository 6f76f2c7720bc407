package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesh-intelligence/folio/pkg/types"
)

type textsTable struct {
	b *Backend
}

const textColumns = "id, slug, title, levels, label_delimiter, contents_changed_at, indexed_at, created_at, modified_at"

func (t *textsTable) Get(ctx context.Context, id string) (*types.Text, error) {
	texts, err := t.fetch(ctx, " WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: text %s", types.ErrNotFound, id)
	}
	return texts[0], nil
}

func (t *textsTable) Find(ctx context.Context) ([]*types.Text, error) {
	return t.fetch(ctx, "")
}

// Insert assigns ID and timestamps when unset. Slugs are unique.
func (t *textsTable) Insert(ctx context.Context, text *types.Text) error {
	db, d, err := t.b.conn()
	if err != nil {
		return err
	}
	if text.ID == "" {
		text.ID = generateUUID()
	}
	if text.LabelDelimiter == "" {
		text.LabelDelimiter = types.DefaultLabelDelimiter
	}
	now := time.Now().UTC()
	if text.CreatedAt.IsZero() {
		text.CreatedAt = now
	}
	if text.ModifiedAt.IsZero() {
		text.ModifiedAt = now
	}
	if text.ContentsChangedAt.IsZero() {
		text.ContentsChangedAt = now
	}
	levels, err := json.Marshal(text.Levels)
	if err != nil {
		return fmt.Errorf("encoding levels: %w", err)
	}
	_, err = db.ExecContext(ctx, d.rebind("INSERT INTO texts ("+textColumns+") VALUES ("+placeholders(9)+")"),
		text.ID, text.Slug, text.Title, string(levels), text.LabelDelimiter,
		formatTime(text.ContentsChangedAt), formatTime(text.IndexedAt),
		formatTime(text.CreatedAt), formatTime(text.ModifiedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: text slug %q exists", types.ErrConflict, text.Slug)
	}
	if err != nil {
		return fmt.Errorf("inserting text: %w", err)
	}
	return nil
}

func (t *textsTable) TouchContents(ctx context.Context, id string, at time.Time) error {
	return t.setTime(ctx, "contents_changed_at", id, at)
}

func (t *textsTable) MarkIndexed(ctx context.Context, id string, at time.Time) error {
	return t.setTime(ctx, "indexed_at", id, at)
}

func (t *textsTable) setTime(ctx context.Context, column, id string, at time.Time) error {
	db, d, err := t.b.conn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, d.rebind("UPDATE texts SET "+column+" = ? WHERE id = ?"), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating text %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: text %s", types.ErrNotFound, id)
	}
	return nil
}

func (t *textsTable) fetch(ctx context.Context, where string, args ...any) ([]*types.Text, error) {
	db, d, err := t.b.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, d.rebind("SELECT "+textColumns+" FROM texts"+where+" ORDER BY slug"), args...)
	if err != nil {
		return nil, fmt.Errorf("querying texts: %w", err)
	}
	defer rows.Close()

	var texts []*types.Text
	for rows.Next() {
		text, err := scanText(rows)
		if err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

func scanText(rows *sql.Rows) (*types.Text, error) {
	var text types.Text
	var levels string
	var stamps [4]string
	if err := rows.Scan(&text.ID, &text.Slug, &text.Title, &levels, &text.LabelDelimiter,
		&stamps[0], &stamps[1], &stamps[2], &stamps[3]); err != nil {
		return nil, fmt.Errorf("scanning text: %w", err)
	}
	if err := json.Unmarshal([]byte(levels), &text.Levels); err != nil {
		return nil, fmt.Errorf("decoding levels of text %s: %w", text.ID, err)
	}
	if err := parseTimes(stamps[:], &text.ContentsChangedAt, &text.IndexedAt, &text.CreatedAt, &text.ModifiedAt); err != nil {
		return nil, fmt.Errorf("parsing timestamps of text %s: %w", text.ID, err)
	}
	return &text, nil
}
