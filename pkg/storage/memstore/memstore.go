// Package memstore is an in-memory storage.Store used for development and
// tests. It mirrors the SQLite backend's semantics, including in-process
// cosine scoring, without touching disk.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/storage"
)

// Store is a thread-safe in-memory storage.Store.
type Store struct {
	mu      sync.RWMutex
	mems    map[int64]*storage.MemoryRecord
	vecs    []*storage.ConversationVector
	nextVec int64

	// Fail makes every operation return ErrUnavailable, simulating a
	// backend outage.
	Fail bool
}

// ErrUnavailable is returned from every operation while Fail is set.
var ErrUnavailable = storageError("memstore: backend unavailable")

type storageError string

func (e storageError) Error() string { return string(e) }

// New creates an empty in-memory store.
func New() *Store {
	return &Store{mems: make(map[int64]*storage.MemoryRecord)}
}

// SetFail toggles the simulated outage.
func (s *Store) SetFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail = fail
}

func (s *Store) InsertMemory(ctx context.Context, rec *storage.MemoryRecord) error {
	return s.InsertMemories(ctx, []*storage.MemoryRecord{rec})
}

func (s *Store) InsertMemories(ctx context.Context, recs []*storage.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrUnavailable
	}
	for _, rec := range recs {
		cp := *rec
		s.mems[rec.ID] = &cp
	}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, id int64) (*storage.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail {
		return nil, ErrUnavailable
	}
	rec, ok := s.mems[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) DeleteMemories(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrUnavailable
	}
	for _, id := range ids {
		delete(s.mems, id)
	}
	return nil
}

func (s *Store) SearchMemories(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail {
		return nil, ErrUnavailable
	}
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	var out []*storage.MemoryRecord
	for _, rec := range s.mems {
		if opts.OwnerID != "" && rec.OwnerID != opts.OwnerID {
			continue
		}
		if opts.Tier != "" && rec.Tier != opts.Tier {
			continue
		}
		if !opts.CreatedAfter.IsZero() && rec.CreatedAt.Before(opts.CreatedAfter) {
			continue
		}
		score := memory.CosineSimilarity(embedding, rec.Embedding)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		cp := *rec
		cp.Score = score
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) ListMemories(ctx context.Context, opts *storage.ListOptions) ([]*storage.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail {
		return nil, ErrUnavailable
	}
	if opts == nil {
		opts = &storage.ListOptions{}
	}

	var out []*storage.MemoryRecord
	for _, rec := range s.mems {
		if opts.OwnerID != "" && rec.OwnerID != opts.OwnerID {
			continue
		}
		if opts.Tier != "" && rec.Tier != opts.Tier {
			continue
		}
		if !opts.CreatedBefore.IsZero() && !rec.CreatedAt.Before(opts.CreatedBefore) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) CountMemories(ctx context.Context, ownerID, tier string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail {
		return 0, ErrUnavailable
	}
	n := 0
	for _, rec := range s.mems {
		if rec.OwnerID == ownerID && rec.Tier == tier {
			n++
		}
	}
	return n, nil
}

func (s *Store) TouchMemories(ctx context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrUnavailable
	}
	for _, id := range ids {
		if rec, ok := s.mems[id]; ok {
			rec.AccessCount++
			rec.LastAccessedAt = at
		}
	}
	return nil
}

func (s *Store) TierIndex(ctx context.Context, ownerID, tier string, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail {
		return nil, ErrUnavailable
	}

	var recs []*storage.MemoryRecord
	for _, rec := range s.mems {
		if rec.OwnerID == ownerID && rec.Tier == tier {
			recs = append(recs, rec)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].LastAccessedAt.After(recs[j].LastAccessedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	ids := make([]int64, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	return ids, nil
}

func (s *Store) AppendConversationVector(ctx context.Context, vec *storage.ConversationVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrUnavailable
	}
	cp := *vec
	s.nextVec++
	cp.ID = s.nextVec
	s.vecs = append(s.vecs, &cp)
	return nil
}

func (s *Store) SearchConversationVectors(ctx context.Context, embedding []float64, opts *storage.ConversationSearchOptions) ([]*storage.ConversationVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail {
		return nil, ErrUnavailable
	}
	if opts == nil {
		opts = &storage.ConversationSearchOptions{}
	}

	allowed := s.recentConversations(opts.OwnerID, opts.MaxConversations)

	var out []*storage.ConversationVector
	for _, vec := range s.vecs {
		if opts.OwnerID != "" && vec.OwnerID != opts.OwnerID {
			continue
		}
		if allowed != nil && !allowed[vec.ConversationID] {
			continue
		}
		score := memory.CosineSimilarity(embedding, vec.Embedding)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		cp := *vec
		cp.Score = score
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// recentConversations returns the ids of the owner's max most recently
// active conversations, or nil when unbounded.
func (s *Store) recentConversations(ownerID string, max int) map[string]bool {
	if max <= 0 {
		return nil
	}

	latest := make(map[string]time.Time)
	for _, vec := range s.vecs {
		if ownerID != "" && vec.OwnerID != ownerID {
			continue
		}
		if vec.CreatedAt.After(latest[vec.ConversationID]) {
			latest[vec.ConversationID] = vec.CreatedAt
		}
	}

	type convAge struct {
		id string
		at time.Time
	}
	ordered := make([]convAge, 0, len(latest))
	for id, at := range latest {
		ordered = append(ordered, convAge{id, at})
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].at.After(ordered[j].at) })
	if len(ordered) > max {
		ordered = ordered[:max]
	}

	allowed := make(map[string]bool, len(ordered))
	for _, c := range ordered {
		allowed[c.id] = true
	}
	return allowed
}

func (s *Store) PruneConversationVectors(ctx context.Context, ownerID string, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return 0, ErrUnavailable
	}

	kept := s.vecs[:0]
	removed := 0
	for _, vec := range s.vecs {
		if vec.OwnerID == ownerID && vec.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, vec)
	}
	s.vecs = kept
	return removed, nil
}

func (s *Store) Close() error { return nil }
