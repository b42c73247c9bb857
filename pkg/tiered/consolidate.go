package tiered

import (
	"context"
	"fmt"
	"strings"

	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/storage"
)

// Consolidate groups an owner's memories by similarity and merges each group
// into a single record, deleting the originals. Returns the number of merge
// operations performed; re-running on an already-consolidated set returns 0.
//
// Similarity is embedding cosine when both candidates carry a vector, and
// shared-word overlap otherwise. Merged content is the union of sentences
// deduplicated pairwise; entities and topics are unioned; importance is the
// group maximum; the merged embedding is the normalized mean of the group's
// vectors; the merged record carries the source ids.
func (s *Store) Consolidate(ctx context.Context, ownerID string) (int, error) {
	recs, err := s.storage.ListMemories(ctx, &storage.ListOptions{OwnerID: ownerID})
	if err != nil {
		s.logger.WithField("owner_id", ownerID).
			Warnf("consolidate: storage unavailable: %v", err)
		return 0, nil
	}
	if len(recs) < 2 {
		return 0, nil
	}

	groups := s.groupBySimilarity(recs)

	merged := 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		if err := s.mergeGroup(ctx, group); err != nil {
			s.logger.WithField("owner_id", ownerID).
				Warnf("consolidate: merge failed: %v", err)
			continue
		}
		merged++
	}
	return merged, nil
}

// groupBySimilarity assigns each record to the first existing group whose
// representative it matches, or starts a new group.
func (s *Store) groupBySimilarity(recs []*storage.MemoryRecord) [][]*storage.MemoryRecord {
	var groups [][]*storage.MemoryRecord

next:
	for _, rec := range recs {
		for i, group := range groups {
			if s.similar(group[0], rec) {
				groups[i] = append(groups[i], rec)
				continue next
			}
		}
		groups = append(groups, []*storage.MemoryRecord{rec})
	}
	return groups
}

// similar reports whether two memories are close enough to merge. Memories of
// different types never merge.
func (s *Store) similar(a, b *storage.MemoryRecord) bool {
	if a.Type != b.Type {
		return false
	}
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return memory.CosineSimilarity(a.Embedding, b.Embedding) >= s.consolidateThreshold
	}
	return memory.OverlapRatio(memory.Tokenize(a.Content), memory.Tokenize(b.Content)) >= s.consolidateThreshold
}

// mergeGroup builds the merged record, inserts it, and deletes the originals.
func (s *Store) mergeGroup(ctx context.Context, group []*storage.MemoryRecord) error {
	base := group[0]
	sourceIDs := make([]int64, 0, len(group))

	importance := 0.0
	confidence := 0.0
	accessCount := 0
	createdAt := base.CreatedAt
	lastAccessed := base.LastAccessedAt
	entities := []string{}
	topics := []string{}
	var sentences []string
	var embedding []float64

	for _, rec := range group {
		sourceIDs = append(sourceIDs, rec.ID)
		if rec.Importance > importance {
			importance = rec.Importance
			base = rec
		}
		if len(rec.Embedding) > 0 {
			if embedding == nil {
				embedding = rec.Embedding
			} else {
				embedding = memory.AverageVectors(embedding, rec.Embedding)
			}
		}
		if rec.Confidence > confidence {
			confidence = rec.Confidence
		}
		accessCount += rec.AccessCount
		if rec.CreatedAt.Before(createdAt) {
			createdAt = rec.CreatedAt
		}
		if rec.LastAccessedAt.After(lastAccessed) {
			lastAccessed = rec.LastAccessedAt
		}
		entities = memory.UnionStrings(entities, rec.Entities)
		topics = memory.UnionStrings(topics, rec.Topics)
		sentences = appendNovelSentences(sentences, memory.SplitSentences(rec.Content), s.consolidateThreshold)
	}

	merged := &storage.MemoryRecord{
		ID:               s.node.Generate().Int64(),
		OwnerID:          base.OwnerID,
		ConversationID:   base.ConversationID,
		Type:             base.Type,
		Content:          strings.Join(sentences, " "),
		Confidence:       confidence,
		Importance:       importance,
		Embedding:        embedding,
		Entities:         entities,
		Topics:           topics,
		Tier:             TierForImportance(importance),
		ConsolidatedFrom: sourceIDs,
		CreatedAt:        createdAt,
		LastAccessedAt:   lastAccessed,
		AccessCount:      accessCount,
	}

	if err := s.storage.InsertMemory(ctx, merged); err != nil {
		return fmt.Errorf("insert merged: %w", err)
	}
	if err := s.storage.DeleteMemories(ctx, sourceIDs); err != nil {
		return fmt.Errorf("delete originals: %w", err)
	}
	return nil
}

// appendNovelSentences adds each candidate sentence unless it duplicates an
// already-kept sentence at or above the pairwise similarity threshold.
func appendNovelSentences(kept, candidates []string, threshold float64) []string {
next:
	for _, cand := range candidates {
		candTokens := memory.Tokenize(cand)
		for _, k := range kept {
			if memory.OverlapRatio(memory.Tokenize(k), candTokens) > threshold {
				continue next
			}
		}
		kept = append(kept, cand)
	}
	return kept
}
