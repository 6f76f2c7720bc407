package types

import "time"

// Precomputed artifact kinds.
const (
	PrecomputedCoverage     = "coverage"
	PrecomputedAggregations = "aggregations"
)

// Precomputed is derived data cached per (reference, kind). It is never
// required to be current; Stale compares it against the source's last
// content change.
type Precomputed struct {
	RefID     string    `json:"refId"`
	Kind      string    `json:"kind"`
	Data      any       `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stale reports whether p was computed before changedAt.
func (p *Precomputed) Stale(changedAt time.Time) bool {
	return p.CreatedAt.Before(changedAt)
}
