// Package search holds the index contract the resource subsystem feeds and
// a small in-memory index. Ranking is out of scope: hits come back in
// structural order.
package search

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Term restricts a query to documents whose Field contains Value. An empty
// Field matches any field. Field paths use dots for nested objects.
type Term struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Document is the projection of one content item.
type Document struct {
	ContentID    string         `json:"contentId"`
	TextID       string         `json:"textId"`
	ResourceID   string         `json:"resourceId"`
	ResourceType string         `json:"resourceType"`
	LocationID   string         `json:"locationId"`
	Position     int            `json:"position"`
	Fields       map[string]any `json:"fields"`
}

// Query selects documents. Every term must match.
type Query struct {
	TextID       string
	ResourceType string
	ResourceIDs  []string
	Terms        []Term
	Limit        int
}

// Hit is one matching document.
type Hit struct {
	ContentID  string `json:"contentId"`
	ResourceID string `json:"resourceId"`
	LocationID string `json:"locationId"`
	TextID     string `json:"textId"`
	Position   int    `json:"position"`
}

// Index receives projected documents and answers queries.
type Index interface {
	// Replace swaps every document of a text for docs.
	Replace(ctx context.Context, textID string, docs []Document) error
	Remove(ctx context.Context, textID string) error
	Search(ctx context.Context, q Query) ([]Hit, error)
}

// Memory is an Index held in process memory.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]Document
}

// NewMemory returns an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{docs: map[string][]Document{}}
}

// Replace implements Index.
func (m *Memory) Replace(ctx context.Context, textID string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[textID] = append([]Document(nil), docs...)
	return nil
}

// Remove implements Index.
func (m *Memory) Remove(ctx context.Context, textID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, textID)
	return nil
}

// Search implements Index.
func (m *Memory) Search(ctx context.Context, q Query) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for textID, docs := range m.docs {
		if q.TextID != "" && q.TextID != textID {
			continue
		}
		for _, d := range docs {
			if !q.matches(d) {
				continue
			}
			hits = append(hits, Hit{
				ContentID:  d.ContentID,
				ResourceID: d.ResourceID,
				LocationID: d.LocationID,
				TextID:     d.TextID,
				Position:   d.Position,
			})
		}
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		return cmp.Or(
			cmp.Compare(a.TextID, b.TextID),
			cmp.Compare(a.ResourceID, b.ResourceID),
			cmp.Compare(a.Position, b.Position),
			cmp.Compare(a.ContentID, b.ContentID),
		)
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (q Query) matches(d Document) bool {
	if q.ResourceType != "" && q.ResourceType != d.ResourceType {
		return false
	}
	if len(q.ResourceIDs) > 0 && !slices.Contains(q.ResourceIDs, d.ResourceID) {
		return false
	}
	for _, t := range q.Terms {
		var val any = d.Fields
		if t.Field != "" {
			val = lookup(d.Fields, strings.Split(t.Field, "."))
		}
		if !containsText(val, strings.ToLower(t.Value)) {
			return false
		}
	}
	return true
}

func lookup(v any, path []string) any {
	if len(path) == 0 {
		return v
	}
	switch tv := v.(type) {
	case map[string]any:
		return lookup(tv[path[0]], path[1:])
	case []any:
		out := make([]any, 0, len(tv))
		for _, item := range tv {
			if found := lookup(item, path); found != nil {
				out = append(out, found)
			}
		}
		return out
	}
	return nil
}

func containsText(v any, needle string) bool {
	switch tv := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(tv), needle)
	case []any:
		return slices.ContainsFunc(tv, func(item any) bool { return containsText(item, needle) })
	case map[string]any:
		for _, item := range tv {
			if containsText(item, needle) {
				return true
			}
		}
	case nil:
	default:
		return strings.Contains(strings.ToLower(fmt.Sprint(tv)), needle)
	}
	return false
}
