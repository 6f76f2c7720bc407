package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/folio/internal/codec"
	"github.com/mesh-intelligence/folio/internal/registry"
	"github.com/mesh-intelligence/folio/internal/tasks"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// Gap is a run of consecutive locations without content.
type Gap struct {
	FromLocationID string `json:"fromLocationId"`
	ToLocationID   string `json:"toLocationId"`
	FromLabel      string `json:"fromLabel"`
	ToLabel        string `json:"toLabel"`
	Length         int    `json:"length"`
}

// Coverage summarizes how many locations of a resource's level hold
// content.
type Coverage struct {
	Covered int   `json:"covered"`
	Total   int   `json:"total"`
	Gaps    []Gap `json:"gaps"`
}

// MaintenanceReport counts the work done by one maintenance run.
type MaintenanceReport struct {
	Coverage     int `json:"coverage"`
	Aggregations int `json:"aggregations"`
	Reindexed    int `json:"reindexed"`
	PrunedTasks  int `json:"prunedTasks"`
}

// Coverage returns the coverage of a readable resource, recomputing it when
// the cached copy predates the resource's last content change.
func (s *Service) Coverage(ctx context.Context, p types.Principal, id string) (*Coverage, error) {
	r, err := s.readable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	data, err := s.cached(ctx, r, types.PrecomputedCoverage, false, func(ctx context.Context) (any, error) {
		return s.computeCoverage(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	if cov, ok := data.(*Coverage); ok {
		return cov, nil
	}
	var cov Coverage
	if err := recode(data, &cov); err != nil {
		return nil, fmt.Errorf("decoding coverage of %s: %w", r.ID, err)
	}
	return &cov, nil
}

// Aggregations returns the type-specific precomputed artifact of a readable
// resource. Types without a maintenance hook have none.
func (s *Service) Aggregations(ctx context.Context, p types.Principal, id string) (any, error) {
	r, err := s.readable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	entry, err := s.entryFor(r)
	if err != nil {
		return nil, err
	}
	hook, ok := entry.MaintenanceHook()
	if !ok {
		return nil, fmt.Errorf("%w: %s resources have no aggregations", types.ErrValidation, r.ResourceType)
	}
	return s.cached(ctx, r, hook.PrecomputeKind(), false, s.hookFunc(r, hook))
}

func (s *Service) hookFunc(r *types.Resource, hook registry.MaintenanceHook) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		contents, err := s.store.Contents().Find(ctx, types.ContentFilter{ResourceIDs: []string{r.ID}})
		if err != nil {
			return nil, err
		}
		return hook.Precompute(ctx, registry.MaintenanceInput{Resource: r, Contents: contents})
	}
}

// cached returns the stored artifact of kind for r, or computes and stores
// a new one when it is missing, stale, or refresh is set. The artifact is
// stamped with the time computation started so content changes made while
// it runs leave it stale.
func (s *Service) cached(
	ctx context.Context,
	r *types.Resource,
	kind string,
	refresh bool,
	compute func(context.Context) (any, error),
) (any, error) {
	if !refresh {
		pc, err := s.store.Precomputed().Get(ctx, r.ID, kind)
		switch {
		case err == nil && !pc.Stale(r.ContentsChangedAt):
			return pc.Data, nil
		case err != nil && !errors.Is(err, types.ErrNotFound):
			return nil, err
		}
	}
	started := time.Now().UTC()
	data, err := compute(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing %s of %s: %w", kind, r.ID, err)
	}
	if err := s.store.Precomputed().Put(ctx, &types.Precomputed{RefID: r.ID, Kind: kind, Data: data, CreatedAt: started}); err != nil {
		return nil, err
	}
	s.log.Debug().Str("resource_id", r.ID).Str("kind", kind).Msg("precomputed data refreshed")
	return data, nil
}

func (s *Service) computeCoverage(ctx context.Context, r *types.Resource) (*Coverage, error) {
	locs, labels, err := s.Locations(ctx, r.TextID, r.Level)
	if err != nil {
		return nil, err
	}
	contents, err := s.store.Contents().Find(ctx, types.ContentFilter{ResourceIDs: []string{r.ID}})
	if err != nil {
		return nil, err
	}
	covered := make(map[string]bool, len(contents))
	for _, c := range contents {
		covered[c.LocationID] = true
	}

	cov := &Coverage{Total: len(locs), Gaps: []Gap{}}
	var gap *Gap
	for _, l := range locs {
		if covered[l.ID] {
			cov.Covered++
			gap = nil
			continue
		}
		if gap == nil {
			cov.Gaps = append(cov.Gaps, Gap{FromLocationID: l.ID, FromLabel: labels[l.ID]})
			gap = &cov.Gaps[len(cov.Gaps)-1]
		}
		gap.ToLocationID = l.ID
		gap.ToLabel = labels[l.ID]
		gap.Length++
	}
	return cov, nil
}

// recode converts a generic decoded value into a typed one.
func recode(in, out any) error {
	data, err := codec.Marshal(in)
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, out)
}

// StartMaintenance runs Maintain as a background task. Only superusers may
// start it, and only one maintenance run exists at a time.
func (s *Service) StartMaintenance(ctx context.Context, p types.Principal) (tasks.Task, error) {
	if !p.Superuser {
		return tasks.Task{}, fmt.Errorf("%w: maintenance requires a superuser", types.ErrForbidden)
	}
	return s.runner.Submit(tasks.Spec{Kind: TaskMaintenance, OwnerID: p.ID, TargetID: "*", Exclusive: true}, func(ctx context.Context) (any, error) {
		return s.Maintain(ctx)
	})
}

// Maintain refreshes stale precomputed data, reindexes stale texts and
// prunes expired tasks.
func (s *Service) Maintain(ctx context.Context) (*MaintenanceReport, error) {
	report := &MaintenanceReport{}
	rs, err := s.store.Resources().Find(ctx, types.ResourceFilter{})
	if err != nil {
		return report, err
	}
	for _, r := range rs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		refreshed, err := s.refreshStale(ctx, r, types.PrecomputedCoverage, func(ctx context.Context) (any, error) {
			return s.computeCoverage(ctx, r)
		})
		if err != nil {
			return report, err
		}
		if refreshed {
			report.Coverage++
		}
		entry, err := s.entryFor(r)
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping resource of unknown type")
			continue
		}
		if hook, ok := entry.MaintenanceHook(); ok {
			refreshed, err := s.refreshStale(ctx, r, hook.PrecomputeKind(), s.hookFunc(r, hook))
			if err != nil {
				return report, err
			}
			if refreshed {
				report.Aggregations++
			}
		}
	}

	texts, err := s.store.Texts().Find(ctx)
	if err != nil {
		return report, err
	}
	for _, t := range texts {
		if !t.IndexStale() {
			continue
		}
		if _, err := s.Reindex(ctx, t.ID); err != nil {
			return report, err
		}
		report.Reindexed++
	}
	report.PrunedTasks = s.PruneTasks(s.opts.TaskRetention)
	s.log.Info().Int("coverage", report.Coverage).Int("aggregations", report.Aggregations).
		Int("reindexed", report.Reindexed).Int("pruned_tasks", report.PrunedTasks).Msg("maintenance finished")
	return report, nil
}

// refreshStale recomputes an artifact only when it is missing or stale and
// reports whether it did.
func (s *Service) refreshStale(ctx context.Context, r *types.Resource, kind string, compute func(context.Context) (any, error)) (bool, error) {
	pc, err := s.store.Precomputed().Get(ctx, r.ID, kind)
	switch {
	case err == nil && !pc.Stale(r.ContentsChangedAt):
		return false, nil
	case err != nil && !errors.Is(err, types.ErrNotFound):
		return false, err
	}
	if _, err := s.cached(ctx, r, kind, true, compute); err != nil {
		return false, err
	}
	return true, nil
}
