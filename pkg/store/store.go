// Package store exposes the folio storage backend to programs that embed
// folio, keeping the implementation internal.
package store

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/folio/internal/resourcetypes"
	"github.com/mesh-intelligence/folio/internal/store"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// NewBackend creates an unattached backend. Call Attach with a Config to
// open it.
//
// Example:
//
//	backend := store.NewBackend(zerolog.Nop())
//	err := backend.Attach(ctx, types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".folio-db",
//	})
//	defer backend.Detach()
func NewBackend(log zerolog.Logger) types.Backend {
	return store.NewBackend(log)
}

// Open creates a backend and attaches it to cfg.
func Open(ctx context.Context, cfg types.Config, log zerolog.Logger) (types.Backend, error) {
	b := store.NewBackend(log)
	if err := b.Attach(ctx, cfg); err != nil {
		return nil, err
	}
	return b, nil
}

// Dump writes every stored record of s to JSONL files under dir.
func Dump(ctx context.Context, s types.Store, dir string) (map[string]int, error) {
	return store.Dump(ctx, s, dir)
}

// Restore loads a dump written by Dump into s. Resources and contents are
// checked against the stored views of the built-in resource types first.
func Restore(ctx context.Context, s types.Store, dir string) (map[string]int, error) {
	reg, err := resourcetypes.NewRegistry()
	if err != nil {
		return nil, err
	}
	return store.Restore(ctx, s, dir, reg.CheckStored)
}
