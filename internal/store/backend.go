// Package store implements the SQL storage backend for folio. The same
// schema runs on SQLite (modernc.org/sqlite, the default) and PostgreSQL
// (pgx). Schema changes are applied as golang-migrate migrations embedded in
// the binary.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/folio/pkg/types"
)

// DatabaseFile is the SQLite file name inside the data directory.
const DatabaseFile = "folio.db"

// Backend implements types.Backend on database/sql.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	dialect  dialect
	log      zerolog.Logger

	texts       *textsTable
	locations   *locationsTable
	principals  *principalsTable
	resources   *resourcesTable
	contents    *contentsTable
	precomputed *precomputedTable
}

var _ types.Backend = (*Backend)(nil)

// NewBackend creates a detached backend. Call Attach to connect.
func NewBackend(log zerolog.Logger) *Backend {
	b := &Backend{log: log.With().Str("component", "store").Logger()}
	b.texts = &textsTable{b: b}
	b.locations = &locationsTable{b: b}
	b.principals = &principalsTable{b: b}
	b.resources = &resourcesTable{b: b}
	b.contents = &contentsTable{b: b}
	b.precomputed = &precomputedTable{b: b}
	return b
}

func (b *Backend) Texts() types.TextTable { return b.texts }
func (b *Backend) Locations() types.LocationTable { return b.locations }
func (b *Backend) Principals() types.PrincipalTable { return b.principals }
func (b *Backend) Resources() types.ResourceTable { return b.resources }
func (b *Backend) Contents() types.ContentTable { return b.contents }
func (b *Backend) Precomputed() types.PrecomputedTable { return b.precomputed }

// Attach opens the database described by cfg and migrates it to the latest
// schema version. For SQLite, DataDir is created when missing.
func (b *Backend) Attach(ctx context.Context, cfg types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		db    *sql.DB
		d     dialect
		dbURL string
		err   error
	)
	switch cfg.Backend {
	case types.BackendSQLite:
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "."
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		path := filepath.Join(dataDir, DatabaseFile)
		d = dialectSQLite
		dbURL = "sqlite://" + path
		db, err = sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
		if err != nil {
			return fmt.Errorf("opening sqlite: %w", err)
		}
		// One writer at a time; transactions use the tx connection only.
		db.SetMaxOpenConns(1)
	case types.BackendPostgres:
		d = dialectPostgres
		dbURL = pgx5URL(cfg.DatabaseURL)
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("opening postgres: %w", err)
		}
	default:
		return types.ErrBackendUnknown
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("connecting to %s: %w", d, err)
	}
	if err := runMigrations(d, dbURL); err != nil {
		db.Close()
		return err
	}

	b.db = db
	b.dialect = d
	b.config = cfg
	b.attached = true
	b.log.Info().Str("backend", string(d)).Msg("store attached")
	return nil
}

// Detach closes the database. Idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	b.log.Info().Msg("store detached")
	return nil
}

// Ping checks the database connection.
func (b *Backend) Ping(ctx context.Context) error {
	db, _, err := b.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (b *Backend) conn() (*sql.DB, dialect, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, "", types.ErrDetached
	}
	return b.db, b.dialect, nil
}

// withTx runs fn inside a transaction. fn must only use tx.
func (b *Backend) withTx(ctx context.Context, fn func(tx *sql.Tx, d dialect) error) error {
	db, d, err := b.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx, d); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// generateUUID generates a new UUID v7 for entity IDs.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
