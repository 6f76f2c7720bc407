package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFullLabels(t *testing.T) {
	locs := []*Location{
		{ID: "b1", Level: 0, Position: 0, Label: "Book 1"},
		{ID: "c1", ParentID: "b1", Level: 1, Position: 0, Label: "Chapter 1"},
		{ID: "c2", ParentID: "b1", Level: 1, Position: 1, Label: "Chapter 2"},
		{ID: "v1", ParentID: "c2", Level: 2, Position: 0, Label: "1"},
		{ID: "orphan", ParentID: "missing", Level: 1, Position: 2, Label: "Loose"},
	}
	labels := FullLabels(locs, DefaultLabelDelimiter)

	assert.Equal(t, "Book 1", labels["b1"])
	assert.Equal(t, "Book 1, Chapter 2", labels["c2"])
	assert.Equal(t, "Book 1, Chapter 2, 1", labels["v1"])
	assert.Equal(t, "Loose", labels["orphan"])
}

func TestTextLevelsAndStaleness(t *testing.T) {
	txt := &Text{Levels: []string{"book", "chapter"}}
	assert.True(t, txt.ValidLevel(0))
	assert.True(t, txt.ValidLevel(1))
	assert.False(t, txt.ValidLevel(2))
	assert.False(t, txt.ValidLevel(-1))

	now := time.Now()
	txt.ContentsChangedAt = now
	assert.True(t, txt.IndexStale())
	txt.IndexedAt = now.Add(time.Second)
	assert.False(t, txt.IndexStale())
}

func TestPrecomputedStale(t *testing.T) {
	now := time.Now()
	p := &Precomputed{CreatedAt: now}
	assert.True(t, p.Stale(now.Add(time.Minute)))
	assert.False(t, p.Stale(now.Add(-time.Minute)))
}
