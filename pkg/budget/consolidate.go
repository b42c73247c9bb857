package budget

import (
	"github.com/omnix-ai/recall-go/pkg/memory"
)

// near-duplicate thresholds for the pre-budgeting merge.
const (
	entityOverlapThreshold = 0.6
	topicOverlapThreshold  = 0.6
	wordOverlapThreshold   = 0.4
)

// MergeNearDuplicates collapses near-duplicate results before budgeting so
// the budget is not spent on redundant content. Two results are duplicates
// when their entity overlap exceeds 0.6, topic overlap exceeds 0.6, or
// content word overlap exceeds 0.4. The survivor is the higher-importance
// result, with entities and topics unioned; rank order is preserved.
func MergeNearDuplicates(ranked []*memory.RetrievalResult) []*memory.RetrievalResult {
	var out []*memory.RetrievalResult

next:
	for _, r := range ranked {
		for i, kept := range out {
			if !nearDuplicate(kept.Memory, r.Memory) {
				continue
			}
			if r.Memory.Importance > kept.Memory.Importance {
				// Keep the later result's memory but hold the earlier
				// slot so rank order is stable.
				merged := *r
				merged.Memory = mergeMemories(r.Memory, kept.Memory)
				out[i] = &merged
			} else {
				merged := *kept
				merged.Memory = mergeMemories(kept.Memory, r.Memory)
				out[i] = &merged
			}
			continue next
		}
		out = append(out, r)
	}
	return out
}

func nearDuplicate(a, b *memory.Memory) bool {
	if memory.OverlapRatio(a.Entities, b.Entities) > entityOverlapThreshold {
		return true
	}
	if memory.OverlapRatio(a.Topics, b.Topics) > topicOverlapThreshold {
		return true
	}
	return memory.OverlapRatio(memory.Tokenize(a.Content), memory.Tokenize(b.Content)) > wordOverlapThreshold
}

// mergeMemories keeps the winner's content and unions metadata from the
// loser.
func mergeMemories(winner, loser *memory.Memory) *memory.Memory {
	merged := *winner
	merged.Entities = memory.UnionStrings(winner.Entities, loser.Entities)
	merged.Topics = memory.UnionStrings(winner.Topics, loser.Topics)
	return &merged
}
