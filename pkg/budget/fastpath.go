package budget

import (
	"time"

	"github.com/omnix-ai/recall-go/pkg/cache"
	"github.com/omnix-ai/recall-go/pkg/memory"
)

// fast-path thresholds: a cached bundle short-circuits full retrieval only
// when it is big enough, fresh enough, and on-topic enough.
const (
	fastPathMinMemories = 3
	fastPathMaxAge      = time.Hour
	fastPathMinOverlap  = 2
	fastPathOverlapFrac = 0.3
)

// FastPathEligible reports whether a cached bundle can serve the query
// directly: at least three memories, the newest less than an hour old, and
// keyword overlap with the query of at least min(2, 30% of query terms).
func FastPathEligible(b *cache.Bundle, query string, now time.Time) bool {
	if b == nil || len(b.Memories) < fastPathMinMemories {
		return false
	}
	if now.Sub(b.NewestMemoryTime()) >= fastPathMaxAge {
		return false
	}

	queryTerms := memory.Keywords(query)
	if len(queryTerms) == 0 {
		return false
	}

	required := fastPathOverlapFrac * float64(len(queryTerms))
	if required > fastPathMinOverlap {
		required = fastPathMinOverlap
	}

	overlap := 0
	bundleSet := make(map[string]bool, len(b.Keywords))
	for _, k := range b.Keywords {
		bundleSet[k] = true
	}
	for _, t := range queryTerms {
		if bundleSet[t] {
			overlap++
		}
	}
	return float64(overlap) >= required
}
