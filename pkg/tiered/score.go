package tiered

import (
	"math"
	"time"

	"github.com/omnix-ai/recall-go/pkg/storage"
)

// ScoreConfig holds the decay and boost constants. The values ship as
// configuration because they are tuned, not derived.
type ScoreConfig struct {
	// HalfLifeFactor multiplies tier retention to produce the decay
	// half-life. Default 2.
	HalfLifeFactor float64

	// UnboundedHalfLife is the half-life used for tiers with no retention
	// bound. Default one year.
	UnboundedHalfLife time.Duration

	// UsageBoostWeight scales log(accessCount+1). Default 0.1.
	UsageBoostWeight float64

	// RecencyBoostWeight scales exp(-timeSinceLastAccess/RecencyWindow).
	// Default 0.2.
	RecencyBoostWeight float64

	// RecencyWindow is the time constant of the recency boost. Default 24h.
	RecencyWindow time.Duration
}

// DefaultScoreConfig returns the standard scoring constants.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		HalfLifeFactor:     2,
		UnboundedHalfLife:  365 * 24 * time.Hour,
		UsageBoostWeight:   0.1,
		RecencyBoostWeight: 0.2,
		RecencyWindow:      24 * time.Hour,
	}
}

func (c ScoreConfig) withDefaults() ScoreConfig {
	d := DefaultScoreConfig()
	if c.HalfLifeFactor <= 0 {
		c.HalfLifeFactor = d.HalfLifeFactor
	}
	if c.UnboundedHalfLife <= 0 {
		c.UnboundedHalfLife = d.UnboundedHalfLife
	}
	if c.UsageBoostWeight <= 0 {
		c.UsageBoostWeight = d.UsageBoostWeight
	}
	if c.RecencyBoostWeight <= 0 {
		c.RecencyBoostWeight = d.RecencyBoostWeight
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = d.RecencyWindow
	}
	return c
}

// halfLife returns the decay half-life for one tier.
func (c ScoreConfig) halfLife(t Tier) time.Duration {
	if t.Unbounded() {
		return c.UnboundedHalfLife
	}
	return time.Duration(c.HalfLifeFactor * float64(t.Retention))
}

// DecayFactor computes exp(-age/halfLife) for a record in tier t at time now.
// Strictly decreasing in age for a fixed tier.
func (c ScoreConfig) DecayFactor(t Tier, createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	hl := c.halfLife(t)
	return math.Exp(-float64(age) / float64(hl))
}

// AccessBoost rewards frequently and recently used memories:
// log(accessCount+1)×usage + exp(-sinceAccess/window)×recency.
func (c ScoreConfig) AccessBoost(accessCount int, lastAccessedAt, now time.Time) (usage, recency float64) {
	usage = math.Log(float64(accessCount)+1) * c.UsageBoostWeight

	since := now.Sub(lastAccessedAt)
	if since < 0 {
		since = 0
	}
	recency = math.Exp(-float64(since)/float64(c.RecencyWindow)) * c.RecencyBoostWeight
	return usage, recency
}

// Score computes the final retrieval score for one stored record:
// relevance×decayFactor + accessBoost.
func (c ScoreConfig) Score(t Tier, rec *storage.MemoryRecord, relevance float64, now time.Time) (final, decay, usage, recency float64) {
	decay = c.DecayFactor(t, rec.CreatedAt, now)
	usage, recency = c.AccessBoost(rec.AccessCount, rec.LastAccessedAt, now)
	final = relevance*decay + usage + recency
	return final, decay, usage, recency
}
