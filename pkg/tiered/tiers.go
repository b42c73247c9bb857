// Package tiered implements the tiered memory store: importance-band
// placement across an ordered set of retention tiers, decay-scored retrieval
// with access write-back, forward-only promotion, similarity consolidation,
// and age-based expiration.
package tiered

import "time"

// Tier names, most volatile to most durable. Promotion only moves forward
// in this order.
const (
	TierImmediate  = "immediate"
	TierShortTerm  = "short_term"
	TierWorking    = "working"
	TierLongTerm   = "long_term"
	TierPersistent = "persistent"
)

// Tier describes one retention band.
type Tier struct {
	// Name identifies the tier. Must be unique within the tier set.
	Name string

	// Retention is how long entries live before the expiration sweep
	// removes them. Zero means unbounded: never swept by age.
	Retention time.Duration

	// MaxEntries caps the tier per owner (0 = uncapped). Advisory; the
	// sweep trims overflow least recently used first.
	MaxEntries int

	// DecayRateHint nudges scoring for tiers whose contents age unusually
	// fast or slow. 1.0 is neutral.
	DecayRateHint float64
}

// Unbounded reports whether the tier is never expired by age.
func (t Tier) Unbounded() bool {
	return t.Retention == 0
}

// DefaultTiers returns the standard five-tier ladder.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: TierImmediate, Retention: time.Hour, MaxEntries: 50, DecayRateHint: 1.0},
		{Name: TierShortTerm, Retention: 24 * time.Hour, MaxEntries: 200, DecayRateHint: 1.0},
		{Name: TierWorking, Retention: 7 * 24 * time.Hour, MaxEntries: 500, DecayRateHint: 1.0},
		{Name: TierLongTerm, Retention: 30 * 24 * time.Hour, MaxEntries: 1000, DecayRateHint: 1.0},
		{Name: TierPersistent, Retention: 0, MaxEntries: 0, DecayRateHint: 1.0},
	}
}

// TierForImportance maps an importance value onto its band. Boundaries are
// lower-inclusive: 0.9 → persistent, 0.7 → long-term, 0.5 → working,
// 0.3 → short-term, else immediate.
func TierForImportance(importance float64) string {
	switch {
	case importance >= 0.9:
		return TierPersistent
	case importance >= 0.7:
		return TierLongTerm
	case importance >= 0.5:
		return TierWorking
	case importance >= 0.3:
		return TierShortTerm
	default:
		return TierImmediate
	}
}

// tierSet indexes an ordered tier slice for lookups.
type tierSet struct {
	ordered []Tier
	index   map[string]int
}

func newTierSet(tiers []Tier) *tierSet {
	ts := &tierSet{
		ordered: tiers,
		index:   make(map[string]int, len(tiers)),
	}
	for i, t := range tiers {
		ts.index[t.Name] = i
	}
	return ts
}

// get returns the tier by name.
func (ts *tierSet) get(name string) (Tier, bool) {
	i, ok := ts.index[name]
	if !ok {
		return Tier{}, false
	}
	return ts.ordered[i], true
}

// next returns the tier after name in the order, or false at the ceiling.
func (ts *tierSet) next(name string) (Tier, bool) {
	i, ok := ts.index[name]
	if !ok || i+1 >= len(ts.ordered) {
		return Tier{}, false
	}
	return ts.ordered[i+1], true
}

// rank returns the position of name in the order (-1 if unknown).
func (ts *tierSet) rank(name string) int {
	i, ok := ts.index[name]
	if !ok {
		return -1
	}
	return i
}
