package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/folio/pkg/types"
)

// fixture is a store seeded with one text, its locations and two users.
type fixture struct {
	backend *Backend
	text    *types.Text
	verses  []*types.Location
	alice   *types.Principal
	bob     *types.Principal
}

func newSQLiteBackend(t *testing.T, dir string) *Backend {
	t.Helper()
	b := NewBackend(zerolog.Nop())
	require.NoError(t, b.Attach(context.Background(), types.Config{Backend: types.BackendSQLite, DataDir: dir}))
	t.Cleanup(func() { b.Detach() })
	return b
}

func newFixture(t *testing.T, b *Backend) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{backend: b}

	f.text = &types.Text{Slug: "faust", Title: "Faust", Levels: []string{"Part", "Verse"}}
	require.NoError(t, b.Texts().Insert(ctx, f.text))

	// The part gets its ID on insert, before the verses point at it.
	part := &types.Location{TextID: f.text.ID, Level: 0, Position: 0, Label: "I"}
	require.NoError(t, b.Locations().InsertMany(ctx, []*types.Location{part}))
	for i := range 4 {
		f.verses = append(f.verses, &types.Location{
			TextID: f.text.ID, ParentID: part.ID, Level: 1, Position: i, Label: string(rune('a' + i)),
		})
	}
	require.NoError(t, b.Locations().InsertMany(ctx, f.verses))

	f.alice = &types.Principal{Username: "alice"}
	f.bob = &types.Principal{Username: "bob"}
	require.NoError(t, b.Principals().Insert(ctx, f.alice))
	require.NoError(t, b.Principals().Insert(ctx, f.bob))
	return f
}

func (f *fixture) resource(t *testing.T, mutate func(r *types.Resource)) *types.Resource {
	t.Helper()
	r := &types.Resource{
		ResourceType: "plainText",
		TextID:       f.text.ID,
		Level:        1,
		Title:        types.Translations{{Locale: "*", Translation: "Notes"}},
		OwnerID:      f.alice.ID,
	}
	if mutate != nil {
		mutate(r)
	}
	require.NoError(t, f.backend.Resources().Insert(context.Background(), r))
	return r
}

func TestBackend_AttachDetach(t *testing.T) {
	dir := t.TempDir()
	b := NewBackend(zerolog.Nop())
	cfg := types.Config{Backend: types.BackendSQLite, DataDir: dir}
	ctx := context.Background()

	require.NoError(t, b.Attach(ctx, cfg))
	_, err := os.Stat(filepath.Join(dir, DatabaseFile))
	assert.NoError(t, err, "database file should exist")
	assert.ErrorIs(t, b.Attach(ctx, cfg), types.ErrAlreadyAttached)

	require.NoError(t, b.Detach())
	require.NoError(t, b.Detach(), "Detach is idempotent")

	_, err = b.Texts().Find(ctx)
	assert.ErrorIs(t, err, types.ErrDetached)
}

func TestBackend_AttachInvalidConfig(t *testing.T) {
	b := NewBackend(zerolog.Nop())
	err := b.Attach(context.Background(), types.Config{Backend: "oracle"})
	assert.ErrorIs(t, err, types.ErrBackendUnknown)
}

func TestBackend_ReattachKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b := NewBackend(zerolog.Nop())
	require.NoError(t, b.Attach(ctx, types.Config{Backend: types.BackendSQLite, DataDir: dir}))
	require.NoError(t, b.Texts().Insert(ctx, &types.Text{Slug: "ilias", Title: "Ilias", Levels: []string{"Book"}}))
	require.NoError(t, b.Detach())

	b2 := newSQLiteBackend(t, dir)
	texts, err := b2.Texts().Find(ctx)
	require.NoError(t, err)
	require.Len(t, texts, 1)
	assert.Equal(t, "ilias", texts[0].Slug)
	assert.Equal(t, []string{"Book"}, texts[0].Levels)
}

func TestTexts(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()

	got, err := f.backend.Texts().Get(ctx, f.text.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultLabelDelimiter, got.LabelDelimiter)
	assert.True(t, got.IndexStale(), "new text has never been indexed")

	dup := &types.Text{Slug: "faust", Title: "Other", Levels: []string{"x"}}
	assert.ErrorIs(t, f.backend.Texts().Insert(ctx, dup), types.ErrConflict)

	at := time.Now().UTC().Add(time.Hour)
	require.NoError(t, f.backend.Texts().MarkIndexed(ctx, f.text.ID, at))
	got, err = f.backend.Texts().Get(ctx, f.text.ID)
	require.NoError(t, err)
	assert.False(t, got.IndexStale())
	assert.True(t, got.IndexedAt.Equal(at))

	_, err = f.backend.Texts().Get(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, f.backend.Texts().TouchContents(ctx, "missing", at), types.ErrNotFound)
}

func TestLocations_Find(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()
	level := 1
	from, to := 1, 2

	locs, err := f.backend.Locations().Find(ctx, types.LocationFilter{TextID: f.text.ID, Level: &level})
	require.NoError(t, err)
	require.Len(t, locs, 4)
	for i, l := range locs {
		assert.Equal(t, i, l.Position)
		assert.NotEmpty(t, l.ParentID)
	}

	locs, err = f.backend.Locations().Find(ctx, types.LocationFilter{TextID: f.text.ID, Level: &level, FromPosition: &from, ToPosition: &to})
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "b", locs[0].Label)

	n, err := f.backend.Locations().Count(ctx, types.LocationFilter{TextID: f.text.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestPrincipals(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()

	got, err := f.backend.Principals().GetByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, got.ID)

	err = f.backend.Principals().Insert(ctx, &types.Principal{Username: "bob"})
	assert.ErrorIs(t, err, types.ErrConflict)
	err = f.backend.Principals().Insert(ctx, &types.Principal{})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestResources_RoundTrip(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()

	r := f.resource(t, func(r *types.Resource) {
		r.Description = types.Translations{{Locale: "deu", Translation: "Anmerkungen"}}
		r.SharedRead = []string{f.bob.ID}
		r.Config = map[string]any{"category": "notes", "sortOrder": 3}
	})
	require.NotEmpty(t, r.ID)

	got, err := f.backend.Resources().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Title, got.Title)
	assert.Equal(t, r.Description, got.Description)
	assert.Equal(t, []string{f.bob.ID}, got.SharedRead)
	assert.Empty(t, got.SharedWrite)
	assert.Equal(t, "notes", got.Config["category"])
	assert.EqualValues(t, 3, got.Config["sortOrder"])
	assert.True(t, got.CreatedAt.Equal(r.CreatedAt))

	got.SharedRead = []string{}
	got.SharedWrite = []string{f.bob.ID}
	got.Proposed = true
	require.NoError(t, f.backend.Resources().Update(ctx, got))

	again, err := f.backend.Resources().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, again.SharedRead)
	assert.Equal(t, []string{f.bob.ID}, again.SharedWrite)
	assert.True(t, again.Proposed)
	assert.False(t, again.ModifiedAt.Before(r.ModifiedAt))

	require.NoError(t, f.backend.Resources().Delete(ctx, r.ID))
	_, err = f.backend.Resources().Get(ctx, r.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, f.backend.Resources().Delete(ctx, r.ID), types.ErrNotFound)
}

func TestResources_UpdateKeepsContentsStamp(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()
	r := f.resource(t, nil)

	loaded, err := f.backend.Resources().Get(ctx, r.ID)
	require.NoError(t, err)

	// A content write lands after the load and before the update.
	touched := loaded.ContentsChangedAt.Add(time.Minute)
	require.NoError(t, f.backend.Resources().TouchContents(ctx, r.ID, touched))

	require.NoError(t, loaded.Propose(*f.alice))
	require.NoError(t, f.backend.Resources().Update(ctx, loaded))
	assert.True(t, loaded.ContentsChangedAt.Equal(touched), "update refreshes the caller's stamp")

	stored, err := f.backend.Resources().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, stored.Proposed)
	assert.True(t, stored.ContentsChangedAt.Equal(touched),
		"touched=%s stored=%s", touched, stored.ContentsChangedAt)
}

func TestResources_AccessConditionMatchesInMemory(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()

	all := []*types.Resource{
		f.resource(t, nil),
		f.resource(t, func(r *types.Resource) { r.SharedRead = []string{f.bob.ID} }),
		f.resource(t, func(r *types.Resource) { r.SharedWrite = []string{f.bob.ID} }),
		f.resource(t, func(r *types.Resource) { r.OwnerID = f.bob.ID; r.Proposed = true }),
		f.resource(t, func(r *types.Resource) { r.OwnerID = ""; r.Public = true }),
	}

	conditions := map[string]types.Condition{
		"all":        types.All(),
		"none":       types.None(),
		"public":     types.Eq(types.FieldPublic, true),
		"not public": types.Eq(types.FieldPublic, false),
		"proposed":   types.Eq(types.FieldProposed, true),
		"bob reads": types.Or(
			types.Eq(types.FieldPublic, true),
			types.Eq(types.FieldOwnerID, f.bob.ID),
			types.Contains(types.FieldSharedRead, f.bob.ID),
			types.Contains(types.FieldSharedWrite, f.bob.ID),
		),
		"bob writes": types.And(
			types.Eq(types.FieldPublic, false),
			types.Or(types.Eq(types.FieldOwnerID, f.bob.ID), types.Contains(types.FieldSharedWrite, f.bob.ID)),
		),
		"empty owner": types.Eq(types.FieldOwnerID, ""),
		"empty and":   types.And(),
		"empty or":    types.Or(),
	}

	for name, cond := range conditions {
		t.Run(name, func(t *testing.T) {
			var want []string
			for _, r := range all {
				if cond.Match(r) {
					want = append(want, r.ID)
				}
			}
			got, err := f.backend.Resources().Find(ctx, types.ResourceFilter{Access: cond})
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.ElementsMatch(t, want, ids, "store and Match disagree")

			n, err := f.backend.Resources().Count(ctx, types.ResourceFilter{Access: cond})
			require.NoError(t, err)
			assert.Equal(t, len(want), n)
		})
	}
}

func TestResources_InvalidCondition(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	_, err := f.backend.Resources().Find(context.Background(), types.ResourceFilter{Access: types.Eq("title", "x")})
	assert.ErrorIs(t, err, types.ErrInvalidFilter)
}

func TestResources_DetachVersions(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()

	orig := f.resource(t, nil)
	f.resource(t, func(r *types.Resource) { r.OriginalID = orig.ID })
	f.resource(t, func(r *types.Resource) { r.OriginalID = orig.ID })

	n, err := f.backend.Resources().Count(ctx, types.ResourceFilter{OriginalID: orig.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	detached, err := f.backend.Resources().DetachVersions(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, detached)

	n, err = f.backend.Resources().Count(ctx, types.ResourceFilter{OriginalID: orig.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestContents(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()
	r := f.resource(t, nil)
	contents := f.backend.Contents()

	// Insert in reverse position order; Find orders by position.
	for i := len(f.verses) - 1; i >= 0; i-- {
		c := &types.Content{
			ResourceID:   r.ID,
			ResourceType: r.ResourceType,
			LocationID:   f.verses[i].ID,
			Fields:       map[string]any{"text": f.verses[i].Label},
		}
		require.NoError(t, contents.Insert(ctx, c))
	}

	got, err := contents.Find(ctx, types.ContentFilter{ResourceIDs: []string{r.ID}})
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, c := range got {
		assert.Equal(t, f.verses[i].ID, c.LocationID)
		assert.Equal(t, f.verses[i].Label, c.Fields["text"])
	}

	dup := &types.Content{ResourceID: r.ID, ResourceType: r.ResourceType, LocationID: f.verses[0].ID}
	assert.ErrorIs(t, contents.Insert(ctx, dup), types.ErrContentConflict)
	assert.ErrorIs(t, contents.Insert(ctx, dup), types.ErrConflict)

	from, to := 1, 2
	ranged, err := contents.Find(ctx, types.ContentFilter{ResourceIDs: []string{r.ID}, FromPosition: &from, ToPosition: &to})
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, f.verses[1].ID, ranged[0].LocationID)

	c := got[0]
	c.Comment = "check"
	c.Fields["text"] = "changed"
	require.NoError(t, contents.Update(ctx, c))
	updated, err := contents.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "check", updated.Comment)
	assert.Equal(t, "changed", updated.Fields["text"])

	require.NoError(t, contents.Delete(ctx, c.ID))
	assert.ErrorIs(t, contents.Delete(ctx, c.ID), types.ErrNotFound)

	n, err := contents.DeleteByResource(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestContents_InsertManySkipsBoundPairs(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()
	r := f.resource(t, nil)

	existing := &types.Content{ResourceID: r.ID, ResourceType: r.ResourceType, LocationID: f.verses[0].ID}
	require.NoError(t, f.backend.Contents().Insert(ctx, existing))

	batch := []*types.Content{
		{ResourceID: r.ID, ResourceType: r.ResourceType, LocationID: f.verses[0].ID},
		{ResourceID: r.ID, ResourceType: r.ResourceType, LocationID: f.verses[1].ID},
		{ResourceID: r.ID, ResourceType: r.ResourceType, LocationID: f.verses[1].ID},
		{ResourceID: r.ID, ResourceType: r.ResourceType, LocationID: f.verses[2].ID},
	}
	ids, err := f.backend.Contents().InsertMany(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, []string{batch[1].ID, batch[3].ID}, ids)

	n, err := f.backend.Contents().Count(ctx, types.ContentFilter{ResourceIDs: []string{r.ID}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPrecomputed(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()
	table := f.backend.Precomputed()

	_, err := table.Get(ctx, "r1", types.PrecomputedCoverage)
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, table.Put(ctx, &types.Precomputed{RefID: "r1", Kind: types.PrecomputedCoverage, Data: []any{"a", "b"}}))
	require.NoError(t, table.Put(ctx, &types.Precomputed{RefID: "r1", Kind: types.PrecomputedCoverage, Data: []any{"c"}}))

	got, err := table.Get(ctx, "r1", types.PrecomputedCoverage)
	require.NoError(t, err)
	assert.Equal(t, []any{"c"}, got.Data)
	assert.False(t, got.Stale(got.CreatedAt.Add(-time.Second)))

	require.NoError(t, table.DeleteByRef(ctx, "r1"))
	_, err = table.Get(ctx, "r1", types.PrecomputedCoverage)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDumpRestore(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()
	r := f.resource(t, func(r *types.Resource) { r.SharedRead = []string{f.bob.ID} })
	require.NoError(t, f.backend.Contents().Insert(ctx, &types.Content{
		ResourceID: r.ID, ResourceType: r.ResourceType, LocationID: f.verses[0].ID,
		Comment: "c", Fields: map[string]any{"text": "hello"},
	}))

	dumpDir := t.TempDir()
	stats, err := Dump(ctx, f.backend, dumpDir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[types.TextsTable])
	assert.Equal(t, 5, stats[types.LocationsTable])
	assert.Equal(t, 1, stats[types.ContentsTable])

	target := newSQLiteBackend(t, t.TempDir())
	restored, err := Restore(ctx, target, dumpDir, nil)
	require.NoError(t, err)
	assert.Equal(t, stats, restored)

	got, err := target.Resources().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.bob.ID}, got.SharedRead)
	assert.Equal(t, f.alice.ID, got.OwnerID)

	cs, err := target.Contents().Find(ctx, types.ContentFilter{ResourceIDs: []string{r.ID}})
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "hello", cs[0].Fields["text"])
	assert.Equal(t, "c", cs[0].Comment)
}

func TestRestore_CheckRejectsBeforeWriting(t *testing.T) {
	f := newFixture(t, newSQLiteBackend(t, t.TempDir()))
	ctx := context.Background()
	r := f.resource(t, nil)
	require.NoError(t, f.backend.Contents().Insert(ctx, &types.Content{
		ResourceID: r.ID, ResourceType: r.ResourceType, LocationID: f.verses[0].ID,
		Fields: map[string]any{"text": "hello"},
	}))
	dumpDir := t.TempDir()
	_, err := Dump(ctx, f.backend, dumpDir)
	require.NoError(t, err)

	var checked []string
	reject := func(table, resourceType string, doc map[string]any) error {
		checked = append(checked, table)
		assert.Equal(t, "plainText", resourceType)
		if table == types.ContentsTable {
			assert.Equal(t, "hello", doc["text"])
			return fmt.Errorf("%w: text too short", types.ErrValidation)
		}
		assert.Equal(t, r.ID, doc["id"])
		return nil
	}

	target := newSQLiteBackend(t, t.TempDir())
	_, err = Restore(ctx, target, dumpDir, reject)
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Equal(t, []string{types.ResourcesTable, types.ContentsTable}, checked)

	texts, err := target.Texts().Find(ctx)
	require.NoError(t, err)
	assert.Empty(t, texts, "a rejected dump writes nothing")
}

func TestRebind(t *testing.T) {
	q := "SELECT 1 FROM t WHERE a = ? AND b IN (?, ?)"
	assert.Equal(t, q, dialectSQLite.rebind(q))
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b IN ($2, $3)", dialectPostgres.rebind(q))
}

func TestPgx5URL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@host:5432/db?sslmode=disable", pgx5URL("postgres://u:p@host:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://host/db", pgx5URL("postgresql://host/db"))
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.FixedZone("x", 3600))
	got, err := parseTime(formatTime(now))
	require.NoError(t, err)
	assert.True(t, now.Equal(got))

	zero, err := parseTime(formatTime(time.Time{}))
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}
