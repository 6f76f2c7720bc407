// Package service implements the resource and content operations of folio.
// Every operation takes the requesting principal explicitly and applies the
// access rules, lifecycle transitions and schema views uniformly for every
// registered resource type.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/folio/internal/registry"
	"github.com/mesh-intelligence/folio/internal/search"
	"github.com/mesh-intelligence/folio/internal/tasks"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// Defaults applied by New to zero Options fields.
const (
	DefaultMaxResourcesPerUser = 10
	DefaultPrincipalCacheSize  = 1024
	DefaultPrincipalCacheTTL   = 5 * time.Minute
	DefaultContentsLimit       = 4096
	DefaultTaskRetention       = time.Hour
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_resource_transitions_total",
		Help: "Resource lifecycle operations by transition and outcome.",
	}, []string{"transition", "outcome"})
	contentWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_content_writes_total",
		Help: "Content mutations by operation.",
	}, []string{"operation"})
	importRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_import_records_total",
		Help: "Imported content records by outcome.",
	}, []string{"outcome"})
	exportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_exports_total",
		Help: "Rendered export artifacts by format.",
	}, []string{"format"})
	searchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folio_search_total",
		Help: "Search requests.",
	})
)

// Options tune a Service.
type Options struct {
	MaxResourcesPerUser int
	TempDir             string // Export artifacts are written here.
	TaskRetention       time.Duration
	PrincipalCacheSize  int
	PrincipalCacheTTL   time.Duration
}

// Service is the entry point for every resource and content operation.
type Service struct {
	store      types.Store
	registry   *registry.Registry
	index      search.Index
	runner     *tasks.Runner
	notifier   Notifier
	principals *expirable.LRU[string, types.Principal]
	indexed    sync.Map // Text IDs indexed by this process.
	opts       Options
	log        zerolog.Logger
}

// New creates a Service. A nil notifier logs notifications.
func New(
	store types.Store,
	reg *registry.Registry,
	index search.Index,
	runner *tasks.Runner,
	notifier Notifier,
	opts Options,
	log zerolog.Logger,
) *Service {
	if opts.MaxResourcesPerUser <= 0 {
		opts.MaxResourcesPerUser = DefaultMaxResourcesPerUser
	}
	if opts.PrincipalCacheSize <= 0 {
		opts.PrincipalCacheSize = DefaultPrincipalCacheSize
	}
	if opts.PrincipalCacheTTL <= 0 {
		opts.PrincipalCacheTTL = DefaultPrincipalCacheTTL
	}
	if opts.TaskRetention <= 0 {
		opts.TaskRetention = DefaultTaskRetention
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "folio")
	}
	log = log.With().Str("component", "service").Logger()
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	return &Service{
		store:      store,
		registry:   reg,
		index:      index,
		runner:     runner,
		notifier:   notifier,
		principals: expirable.NewLRU[string, types.Principal](opts.PrincipalCacheSize, nil, opts.PrincipalCacheTTL),
		opts:       opts,
		log:        log,
	}
}

// Registry returns the resource type registry the service was built with.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Tasks returns the background task runner.
func (s *Service) Tasks() *tasks.Runner {
	return s.runner
}

// Principal returns the principal with the given ID through a short-lived
// cache. Principals never change once created, so stale entries are safe.
func (s *Service) Principal(ctx context.Context, id string) (types.Principal, error) {
	if p, ok := s.principals.Get(id); ok {
		return p, nil
	}
	p, err := s.store.Principals().Get(ctx, id)
	if err != nil {
		return types.Principal{}, err
	}
	s.principals.Add(id, *p)
	return *p, nil
}

// PrincipalByUsername looks up a principal by username.
func (s *Service) PrincipalByUsername(ctx context.Context, username string) (types.Principal, error) {
	p, err := s.store.Principals().GetByUsername(ctx, username)
	if err != nil {
		return types.Principal{}, err
	}
	s.principals.Add(p.ID, *p)
	return *p, nil
}

// CreatePrincipal registers a new principal. Identity issuance lives outside
// folio; this is the administrative entry point used by the CLI.
func (s *Service) CreatePrincipal(ctx context.Context, username string, superuser bool) (*types.Principal, error) {
	p := &types.Principal{Username: username, Superuser: superuser}
	if err := s.store.Principals().Insert(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info().Str("principal_id", p.ID).Str("username", username).Bool("superuser", superuser).Msg("principal created")
	return p, nil
}

// Principals lists every principal.
func (s *Service) Principals(ctx context.Context) ([]*types.Principal, error) {
	return s.store.Principals().Find(ctx)
}

// entryFor resolves the registry entry of a stored resource.
func (s *Service) entryFor(r *types.Resource) (*registry.Entry, error) {
	e, err := s.registry.Get(r.ResourceType)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", r.ID, err)
	}
	return e, nil
}

// touchContents records a content change on the resource and its text.
// Failures are logged; the content write itself already succeeded.
func (s *Service) touchContents(ctx context.Context, r *types.Resource) {
	now := time.Now().UTC()
	if err := s.store.Resources().TouchContents(ctx, r.ID, now); err != nil {
		s.log.Warn().Err(err).Str("resource_id", r.ID).Msg("touching resource contents")
	}
	s.touchText(ctx, r.TextID, now)
	r.ContentsChangedAt = now
}

// touchText marks the contents of a text as changed, invalidating its
// search index.
func (s *Service) touchText(ctx context.Context, textID string, at time.Time) {
	if err := s.store.Texts().TouchContents(ctx, textID, at); err != nil {
		s.log.Warn().Err(err).Str("text_id", textID).Msg("touching text contents")
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(types.KindOf(err))
}

// newID returns a UUID v7, falling back to v4.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
