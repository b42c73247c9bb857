package core

import (
	"context"

	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/retrieval"
	"github.com/omnix-ai/recall-go/pkg/tiered"
)

// Remember stores one memory directly, bypassing extraction. Used for
// explicit "remember this" requests from the upstream conversation layer.
// Returns the new memory id, or 0 when the write was dropped because the
// backend is unavailable.
func (s *Service) Remember(ctx context.Context, ownerID string, typ memory.Type, content string, importance float64) (int64, error) {
	id, err := s.store.AddMemory(ctx, &tiered.AddRequest{
		OwnerID:    ownerID,
		Type:       typ,
		Content:    content,
		Confidence: 1.0,
		Importance: importance,
		Topics:     memory.Keywords(content),
	})
	if err != nil {
		return 0, NewMemoryError("Remember", err)
	}
	if id != 0 {
		s.bundleCache.Invalidate(ctx, ownerID+":")
	}
	return id, nil
}

// Forget deletes memories by id and invalidates the owner's cached bundles.
func (s *Service) Forget(ctx context.Context, ownerID string, ids []int64) error {
	if err := s.storage.DeleteMemories(ctx, ids); err != nil {
		return NewMemoryError("Forget", err)
	}
	s.bundleCache.Invalidate(ctx, ownerID+":")
	return nil
}

// Search runs a ranked retrieval without budget fitting. An empty result
// means "no memories currently available", never proof of absence.
func (s *Service) Search(ctx context.Context, ownerID, query string, maxResults int) []*memory.RetrievalResult {
	return s.engine.Retrieve(ctx, &retrieval.Query{
		OwnerID:    ownerID,
		Text:       query,
		MaxResults: maxResults,
	})
}

// Consolidate merges an owner's near-duplicate memories immediately, outside
// the optimization schedule. Returns the number of merge operations.
func (s *Service) Consolidate(ctx context.Context, ownerID string) (int, error) {
	merged, err := s.store.Consolidate(ctx, ownerID)
	if err != nil {
		return 0, NewMemoryError("Consolidate", err)
	}
	if merged > 0 {
		s.bundleCache.Invalidate(ctx, ownerID+":")
	}
	return merged, nil
}
