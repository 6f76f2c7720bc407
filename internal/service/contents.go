package service

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/folio/internal/access"
	"github.com/mesh-intelligence/folio/internal/registry"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// ContentQuery filters FindContents. Results are restricted to contents of
// resources the principal may read.
type ContentQuery struct {
	ResourceIDs []string
	LocationIDs []string
	Limit       int
}

// CreateContent binds a new content document to a writable resource and a
// location on the resource's text and level.
func (s *Service) CreateContent(ctx context.Context, p types.Principal, doc map[string]any) (*types.Content, error) {
	entry, err := s.registry.Get(typeOf(doc))
	if err != nil {
		return nil, err
	}
	if err := entry.Content.Create.Validate(doc); err != nil {
		return nil, err
	}
	c, err := types.ContentFromDocument(entry.Content.Create.Shape(doc))
	if err != nil {
		return nil, err
	}
	r, err := s.writable(ctx, p, c.ResourceID)
	if err != nil {
		return nil, err
	}
	if r.ResourceType != c.ResourceType {
		return nil, fmt.Errorf("%w: resource %s is %s, content is %s", types.ErrTypeMismatch, r.ID, r.ResourceType, c.ResourceType)
	}
	if err := s.checkLocation(ctx, r, c.LocationID); err != nil {
		return nil, err
	}
	if err := s.store.Contents().Insert(ctx, c); err != nil {
		return nil, err
	}
	contentWritesTotal.WithLabelValues("create").Inc()
	s.touchContents(ctx, r)
	return c, nil
}

// checkLocation fails with ErrValidation unless the location exists on the
// text and level of r.
func (s *Service) checkLocation(ctx context.Context, r *types.Resource, locationID string) error {
	loc, err := s.store.Locations().Get(ctx, locationID)
	if err != nil {
		return fmt.Errorf("%w: location %s does not exist", types.ErrValidation, locationID)
	}
	if loc.TextID != r.TextID || loc.Level != r.Level {
		return fmt.Errorf("%w: location %s is not on level %d of the resource's text", types.ErrValidation, locationID, r.Level)
	}
	return nil
}

// GetContent returns a content whose resource p may read.
func (s *Service) GetContent(ctx context.Context, p types.Principal, id string) (*types.Content, error) {
	c, err := s.store.Contents().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.readable(ctx, p, c.ResourceID); err != nil {
		return nil, fmt.Errorf("%w: content %s", types.ErrNotFound, id)
	}
	return c, nil
}

// UpdateContent applies a document in the update view of the content's type.
// Comment, notes and type fields present in doc are replaced; a null value
// clears them. Base keys such as the location are never changed.
func (s *Service) UpdateContent(ctx context.Context, p types.Principal, id string, doc map[string]any) (*types.Content, error) {
	c, err := s.store.Contents().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rid, ok := doc[types.ContentKeyResourceID]; ok && rid != c.ResourceID {
		return nil, fmt.Errorf("%w: content %s belongs to %s", types.ErrIDMismatch, id, c.ResourceID)
	}
	if t := typeOf(doc); t != c.ResourceType {
		return nil, fmt.Errorf("%w: content %s is %s, got %q", types.ErrTypeMismatch, id, c.ResourceType, t)
	}
	r, err := s.writable(ctx, p, c.ResourceID)
	if err != nil {
		return nil, err
	}
	entry, err := s.entryFor(r)
	if err != nil {
		return nil, err
	}
	if err := entry.Content.Update.Validate(doc); err != nil {
		return nil, err
	}
	applyContentUpdate(c, entry.Content.Update.Shape(doc))
	if err := s.store.Contents().Update(ctx, c); err != nil {
		return nil, err
	}
	contentWritesTotal.WithLabelValues("update").Inc()
	s.touchContents(ctx, r)
	return c, nil
}

func applyContentUpdate(c *types.Content, shaped map[string]any) {
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	for k, v := range shaped {
		switch k {
		case types.ContentKeyComment:
			c.Comment, _ = v.(string)
		case types.ContentKeyNotes:
			c.Notes, _ = v.(string)
		default:
			if types.IsContentBaseKey(k) || k == registry.FieldResourceType {
				continue
			}
			if v == nil {
				delete(c.Fields, k)
				continue
			}
			c.Fields[k] = v
		}
	}
}

// DeleteContent removes a content of a writable resource.
func (s *Service) DeleteContent(ctx context.Context, p types.Principal, id string) error {
	c, err := s.store.Contents().Get(ctx, id)
	if err != nil {
		return err
	}
	r, err := s.writable(ctx, p, c.ResourceID)
	if err != nil {
		return err
	}
	if err := s.store.Contents().Delete(ctx, id); err != nil {
		return err
	}
	contentWritesTotal.WithLabelValues("delete").Inc()
	s.touchContents(ctx, r)
	return nil
}

// FindContents lists contents of readable resources. Without resource IDs
// every readable resource is searched.
func (s *Service) FindContents(ctx context.Context, p types.Principal, q ContentQuery) ([]*types.Content, error) {
	rs, err := s.store.Resources().Find(ctx, types.ResourceFilter{IDs: q.ResourceIDs, Access: access.ReadCondition(p)})
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return []*types.Content{}, nil
	}
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultContentsLimit
	}
	return s.store.Contents().Find(ctx, types.ContentFilter{
		ResourceIDs: ids,
		LocationIDs: q.LocationIDs,
		Limit:       limit,
	})
}

// ContentRange returns the contents of one readable resource whose location
// position lies in [from, to]. A nil bound leaves that side open.
func (s *Service) ContentRange(ctx context.Context, p types.Principal, resourceID string, from, to *int) ([]*types.Content, error) {
	if from != nil && to != nil && *from > *to {
		return nil, fmt.Errorf("%w: range start %d is after end %d", types.ErrValidation, *from, *to)
	}
	if _, err := s.readable(ctx, p, resourceID); err != nil {
		return nil, err
	}
	return s.store.Contents().Find(ctx, types.ContentFilter{
		ResourceIDs:  []string{resourceID},
		FromPosition: from,
		ToPosition:   to,
		Limit:        DefaultContentsLimit,
	})
}

// contentsInRange loads every content of r between two location IDs on the
// resource's level. Empty IDs leave that side open.
func (s *Service) contentsInRange(ctx context.Context, r *types.Resource, fromID, toID string) ([]*types.Content, error) {
	var from, to *int
	for _, bound := range []struct {
		id  string
		dst **int
	}{{fromID, &from}, {toID, &to}} {
		if bound.id == "" {
			continue
		}
		loc, err := s.store.Locations().Get(ctx, bound.id)
		if err != nil || loc.TextID != r.TextID || loc.Level != r.Level {
			return nil, fmt.Errorf("%w: location %s is not on the resource's level", types.ErrValidation, bound.id)
		}
		pos := loc.Position
		*bound.dst = &pos
	}
	if from != nil && to != nil && *from > *to {
		return nil, fmt.Errorf("%w: range start is after its end", types.ErrValidation)
	}
	return s.store.Contents().Find(ctx, types.ContentFilter{
		ResourceIDs:  []string{r.ID},
		FromPosition: from,
		ToPosition:   to,
	})
}
