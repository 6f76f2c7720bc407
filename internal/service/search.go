package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mesh-intelligence/folio/internal/access"
	"github.com/mesh-intelligence/folio/internal/search"
	"github.com/mesh-intelligence/folio/pkg/types"
)

// SearchRequest is a type-specific search. Query must validate against the
// type's search query view.
type SearchRequest struct {
	TextID       string         `json:"textId,omitempty"`
	ResourceType string         `json:"resourceType"`
	Query        map[string]any `json:"query"`
	Limit        int            `json:"limit,omitempty"`
}

// Reindex replaces the index documents of a text with projections of every
// content on it and returns how many documents were indexed.
func (s *Service) Reindex(ctx context.Context, textID string) (int, error) {
	started := time.Now().UTC()
	text, err := s.store.Texts().Get(ctx, textID)
	if err != nil {
		return 0, err
	}
	rs, err := s.store.Resources().Find(ctx, types.ResourceFilter{TextID: text.ID})
	if err != nil {
		return 0, err
	}
	locs, err := s.store.Locations().Find(ctx, types.LocationFilter{TextID: text.ID})
	if err != nil {
		return 0, err
	}
	positions := make(map[string]int, len(locs))
	for _, l := range locs {
		positions[l.ID] = l.Position
	}

	var docs []search.Document
	for _, r := range rs {
		entry, err := s.entryFor(r)
		if err != nil {
			s.log.Warn().Err(err).Msg("not indexing resource of unknown type")
			continue
		}
		contents, err := s.store.Contents().Find(ctx, types.ContentFilter{ResourceIDs: []string{r.ID}})
		if err != nil {
			return 0, err
		}
		for _, c := range contents {
			docs = append(docs, search.Document{
				ContentID:    c.ID,
				TextID:       text.ID,
				ResourceID:   r.ID,
				ResourceType: r.ResourceType,
				LocationID:   c.LocationID,
				Position:     positions[c.LocationID],
				Fields:       entry.IndexDocument(c),
			})
		}
	}
	if err := s.index.Replace(ctx, text.ID, docs); err != nil {
		return 0, fmt.Errorf("indexing text %s: %w", text.Slug, err)
	}
	if err := s.store.Texts().MarkIndexed(ctx, text.ID, started); err != nil {
		return 0, err
	}
	s.indexed.Store(text.ID, true)
	s.log.Info().Str("text_id", text.ID).Int("documents", len(docs)).Msg("text reindexed")
	return len(docs), nil
}

// Search runs a type-specific query over the contents of resources p may
// read. Texts whose index is stale, or that this process has not indexed
// yet, are reindexed first.
func (s *Service) Search(ctx context.Context, p types.Principal, req SearchRequest) ([]search.Hit, error) {
	searchTotal.Inc()
	entry, err := s.registry.Get(req.ResourceType)
	if err != nil {
		return nil, err
	}
	if err := entry.SearchQuery.Validate(req.Query); err != nil {
		return nil, err
	}
	rs, err := s.store.Resources().Find(ctx, types.ResourceFilter{
		TextID:       req.TextID,
		ResourceType: entry.Key,
		Access:       access.ReadCondition(p),
	})
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return []search.Hit{}, nil
	}

	ids := make([]string, 0, len(rs))
	textIDs := map[string]bool{}
	for _, r := range rs {
		ids = append(ids, r.ID)
		textIDs[r.TextID] = true
	}
	for id := range textIDs {
		text, err := s.store.Texts().Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, ok := s.indexed.Load(id); !ok || text.IndexStale() {
			if _, err := s.Reindex(ctx, id); err != nil {
				return nil, err
			}
		}
	}

	hits, err := s.index.Search(ctx, search.Query{
		TextID:       req.TextID,
		ResourceType: entry.Key,
		ResourceIDs:  ids,
		Terms:        entry.QueryTerms(req.Query),
		Limit:        req.Limit,
	})
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	return hits, nil
}
