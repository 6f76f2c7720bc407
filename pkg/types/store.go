package types

import (
	"context"
	"errors"
	"time"
)

// Store gives access to the persisted entity kinds. Implementations guarantee
// atomicity per document only.
type Store interface {
	Texts() TextTable
	Locations() LocationTable
	Principals() PrincipalTable
	Resources() ResourceTable
	Contents() ContentTable
	Precomputed() PrecomputedTable
}

// Backend is a Store with an attach/detach lifecycle.
type Backend interface {
	Store

	// Attach connects to the backend described by cfg and applies pending
	// schema migrations. Returns ErrAlreadyAttached when called twice.
	Attach(ctx context.Context, cfg Config) error

	// Detach releases backend resources. Idempotent. After Detach, table
	// operations return ErrDetached.
	Detach() error
}

// Store lifecycle errors.
var (
	ErrDetached        = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
)

// TextTable persists texts.
type TextTable interface {
	Get(ctx context.Context, id string) (*Text, error)
	Find(ctx context.Context) ([]*Text, error)
	Insert(ctx context.Context, t *Text) error
	TouchContents(ctx context.Context, id string, at time.Time) error
	MarkIndexed(ctx context.Context, id string, at time.Time) error
}

// LocationFilter selects locations. Zero-valued fields do not filter.
type LocationFilter struct {
	TextID       string
	Level        *int
	IDs          []string
	FromPosition *int
	ToPosition   *int
}

// LocationTable persists text locations. Find orders by level, then position.
type LocationTable interface {
	Get(ctx context.Context, id string) (*Location, error)
	Find(ctx context.Context, f LocationFilter) ([]*Location, error)
	Count(ctx context.Context, f LocationFilter) (int, error)
	InsertMany(ctx context.Context, locs []*Location) error
}

// PrincipalTable persists principals.
type PrincipalTable interface {
	Get(ctx context.Context, id string) (*Principal, error)
	GetByUsername(ctx context.Context, username string) (*Principal, error)
	Find(ctx context.Context) ([]*Principal, error)
	Insert(ctx context.Context, p *Principal) error
}

// ResourceFilter selects resources. Access restricts the result to resources
// matching the condition; the zero Condition matches everything.
type ResourceFilter struct {
	IDs          []string
	TextID       string
	Level        *int
	ResourceType string
	OwnerID      string
	OriginalID   string
	Access       Condition
	Limit        int
}

// ResourceTable persists resources.
type ResourceTable interface {
	Get(ctx context.Context, id string) (*Resource, error)
	Find(ctx context.Context, f ResourceFilter) ([]*Resource, error)
	Count(ctx context.Context, f ResourceFilter) (int, error)

	// Insert assigns ID, CreatedAt and ModifiedAt when they are unset.
	Insert(ctx context.Context, r *Resource) error

	// Update replaces the mutable fields of the stored resource. It leaves
	// ContentsChangedAt alone; TouchContents is its only writer.
	Update(ctx context.Context, r *Resource) error
	TouchContents(ctx context.Context, id string, at time.Time) error

	// DetachVersions clears OriginalID on all versions of originalID and
	// returns how many were detached.
	DetachVersions(ctx context.Context, originalID string) (int, error)
	Delete(ctx context.Context, id string) error
}

// ContentFilter selects contents. Position bounds are inclusive and refer to
// the bound location's position.
type ContentFilter struct {
	IDs          []string
	ResourceIDs  []string
	LocationIDs  []string
	FromPosition *int
	ToPosition   *int
	Limit        int
}

// ContentTable persists contents. Find orders by location position.
type ContentTable interface {
	Get(ctx context.Context, id string) (*Content, error)
	Find(ctx context.Context, f ContentFilter) ([]*Content, error)
	Count(ctx context.Context, f ContentFilter) (int, error)

	// Insert returns ErrContentConflict when the (resource, location) pair
	// is already bound.
	Insert(ctx context.Context, c *Content) error

	// InsertMany inserts cs, skipping pairs that are already bound. It
	// returns the IDs of the inserted contents.
	InsertMany(ctx context.Context, cs []*Content) ([]string, error)
	Update(ctx context.Context, c *Content) error
	Delete(ctx context.Context, id string) error
	DeleteByResource(ctx context.Context, resourceID string) (int, error)
}

// PrecomputedTable persists derived artifacts keyed by (refID, kind).
type PrecomputedTable interface {
	Get(ctx context.Context, refID, kind string) (*Precomputed, error)
	Put(ctx context.Context, p *Precomputed) error
	DeleteByRef(ctx context.Context, refID string) error
}
