package types

import (
	"slices"
	"strings"
	"time"
)

// DefaultLabelDelimiter joins ancestor labels into a full location label.
const DefaultLabelDelimiter = ", "

// Text is a hierarchical work that resources attach to. Its structure is
// described by ordered level labels; the depth of the text is len(Levels).
type Text struct {
	ID                string    `json:"id"`
	Slug              string    `json:"slug"`
	Title             string    `json:"title"`
	Levels            []string  `json:"levels"`
	LabelDelimiter    string    `json:"labelDelimiter"`
	ContentsChangedAt time.Time `json:"contentsChangedAt"`
	IndexedAt         time.Time `json:"indexedAt"`
	CreatedAt         time.Time `json:"createdAt"`
	ModifiedAt        time.Time `json:"modifiedAt"`
}

// ValidLevel reports whether level addresses one of the text's levels.
func (t *Text) ValidLevel(level int) bool {
	return level >= 0 && level < len(t.Levels)
}

// IndexStale reports whether the search index predates the last content
// change on the text.
func (t *Text) IndexStale() bool {
	return t.IndexedAt.Before(t.ContentsChangedAt)
}

// Location is an addressable node of a text's structure.
type Location struct {
	ID       string `json:"id"`
	TextID   string `json:"textId"`
	ParentID string `json:"parentId,omitempty"`
	Level    int    `json:"level"`
	Position int    `json:"position"`
	Label    string `json:"label"`
}

// FullLabels maps each location ID to the labels of its ancestors and itself,
// root first, joined by delim. Ancestors missing from locs end the chain.
func FullLabels(locs []*Location, delim string) map[string]string {
	byID := make(map[string]*Location, len(locs))
	for _, l := range locs {
		byID[l.ID] = l
	}
	out := make(map[string]string, len(locs))
	for _, l := range locs {
		var parts []string
		for cur := l; cur != nil; cur = byID[cur.ParentID] {
			parts = append(parts, cur.Label)
			if cur.ParentID == "" || len(parts) > len(locs) {
				break
			}
		}
		slices.Reverse(parts)
		out[l.ID] = strings.Join(parts, delim)
	}
	return out
}
