package tiered

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sirupsen/logrus"

	"github.com/omnix-ai/recall-go/pkg/embedder"
	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/scheduler"
	"github.com/omnix-ai/recall-go/pkg/storage"
)

// promotion thresholds: adding a memory above the importance threshold, or
// touching one past the access threshold, promotes it one tier forward.
const (
	promoteImportanceThreshold = 0.8
	promoteAccessThreshold     = 10
)

// Config configures a tiered Store.
type Config struct {
	// Storage is the system of record. Required.
	Storage storage.Store

	// Embedder produces vectors for content added without one. Optional;
	// when nil, AddMemory requires a caller-supplied embedding.
	Embedder embedder.Provider

	// Tiers is the ordered tier ladder. Defaults to DefaultTiers.
	Tiers []Tier

	// Score holds the decay/boost constants. Zero fields take defaults.
	Score ScoreConfig

	// ConsolidateThreshold is the word-overlap (or cosine) similarity at
	// which two memories merge. Default 0.7.
	ConsolidateThreshold float64

	// Clock defaults to the real clock.
	Clock scheduler.Clock

	// Logger defaults to the standard logrus logger.
	Logger *logrus.Logger

	// SnowflakeNode identifies this process for id generation. Default 1.
	SnowflakeNode int64
}

// Store is the tiered memory store. All operations are owner-scoped and
// degrade to no-ops with a logged warning when the storage backend is down:
// retrieval returns empty, writes are dropped.
type Store struct {
	storage  storage.Store
	embedder embedder.Provider
	tiers    *tierSet
	score    ScoreConfig
	clock    scheduler.Clock
	logger   *logrus.Logger
	node     *snowflake.Node

	consolidateThreshold float64

	// promoteLocks serializes promotions per memory id. Striped rather than
	// per-id to bound memory.
	promoteLocks [64]sync.Mutex
}

// NewStore creates a tiered Store from cfg. Storage is required.
func NewStore(cfg *Config) (*Store, error) {
	if cfg == nil || cfg.Storage == nil {
		return nil, errors.New("tiered: storage is required")
	}

	tiers := cfg.Tiers
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = scheduler.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	nodeID := cfg.SnowflakeNode
	if nodeID == 0 {
		nodeID = 1
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("tiered: snowflake node: %w", err)
	}
	threshold := cfg.ConsolidateThreshold
	if threshold <= 0 {
		threshold = 0.7
	}

	return &Store{
		storage:              cfg.Storage,
		embedder:             cfg.Embedder,
		tiers:                newTierSet(tiers),
		score:                cfg.Score.withDefaults(),
		clock:                clock,
		logger:               logger,
		node:                 node,
		consolidateThreshold: threshold,
	}, nil
}

// AddRequest is the input to AddMemory.
type AddRequest struct {
	OwnerID        string
	ConversationID string
	Type           memory.Type
	Content        string
	Confidence     float64
	Importance     float64

	// Embedding, when nil, is generated from Content if an embedder is
	// configured.
	Embedding []float64

	Entities []string
	Topics   []string
}

// AddMemory stores a new memory in the tier whose importance band contains
// req.Importance, then runs a promotion check. Returns the new id, or 0 when
// the write was dropped because the backend is unavailable.
//
// Unknown memory types are rejected at ingestion; that is a caller error, not
// a degradation.
func (s *Store) AddMemory(ctx context.Context, req *AddRequest) (int64, error) {
	if !memory.ValidType(req.Type) {
		return 0, fmt.Errorf("tiered: unknown memory type %q", req.Type)
	}
	if req.OwnerID == "" {
		return 0, errors.New("tiered: owner id is required")
	}

	embedding := req.Embedding
	if embedding == nil && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, req.Content)
		if err != nil {
			s.logger.WithField("owner_id", req.OwnerID).
				Warnf("embedding unavailable, memory dropped: %v", err)
			return 0, nil
		}
		embedding = vec
	}

	now := s.clock.Now()
	importance := memory.Clamp01(req.Importance)
	rec := &storage.MemoryRecord{
		ID:             s.node.Generate().Int64(),
		OwnerID:        req.OwnerID,
		ConversationID: req.ConversationID,
		Type:           string(req.Type),
		Content:        req.Content,
		Confidence:     memory.Clamp01(req.Confidence),
		Importance:     importance,
		Embedding:      embedding,
		Entities:       req.Entities,
		Topics:         req.Topics,
		Tier:           TierForImportance(importance),
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	if err := s.storage.InsertMemory(ctx, rec); err != nil {
		s.logger.WithField("owner_id", req.OwnerID).
			Warnf("storage unavailable, memory write dropped: %v", err)
		return 0, nil
	}

	if importance > promoteImportanceThreshold || rec.AccessCount > promoteAccessThreshold {
		s.Promote(ctx, rec.ID, "")
	}
	return rec.ID, nil
}

// RetrieveOptions shapes a Retrieve call.
type RetrieveOptions struct {
	// MaxResults truncates the ranked list (0 = no truncation).
	MaxResults int

	// TimeWindow, when set, restricts candidates to memories created within
	// the window.
	TimeWindow time.Duration

	// IncludeExpired keeps entries past their tier retention that the
	// expiration sweep has not yet removed.
	IncludeExpired bool
}

// Retrieve searches every tier concurrently, scores hits with decay and
// access boosts, and returns them ranked. Returned items are touched:
// accessCount and lastAccessedAt are written back, and frequently used
// entries are promoted one tier forward.
//
// Backend failure in one tier skips that tier; total failure returns an
// empty list. Never returns an error to the caller.
func (s *Store) Retrieve(ctx context.Context, ownerID, query string, opts *RetrieveOptions) []*memory.RetrievalResult {
	if opts == nil {
		opts = &RetrieveOptions{}
	}

	if s.embedder == nil {
		s.logger.Warn("retrieve: no embedder configured")
		return nil
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.WithField("owner_id", ownerID).
			Warnf("retrieve: embedding failed: %v", err)
		return nil
	}
	return s.RetrieveByVector(ctx, ownerID, queryVec, opts)
}

// RetrieveByVector is Retrieve with a caller-supplied query embedding.
func (s *Store) RetrieveByVector(ctx context.Context, ownerID string, queryVec []float64, opts *RetrieveOptions) []*memory.RetrievalResult {
	if opts == nil {
		opts = &RetrieveOptions{}
	}
	now := s.clock.Now()

	var createdAfter time.Time
	if opts.TimeWindow > 0 {
		createdAfter = now.Add(-opts.TimeWindow)
	}

	// Fan out one search per tier, joined before ranking.
	type tierHits struct {
		tier Tier
		recs []*storage.MemoryRecord
	}
	results := make(chan tierHits, len(s.tiers.ordered))
	var wg sync.WaitGroup
	for _, t := range s.tiers.ordered {
		wg.Add(1)
		go func(t Tier) {
			defer wg.Done()
			recs, err := s.storage.SearchMemories(ctx, queryVec, &storage.SearchOptions{
				OwnerID:      ownerID,
				Tier:         t.Name,
				CreatedAfter: createdAfter,
			})
			if err != nil {
				s.logger.WithFields(logrus.Fields{
					"owner_id": ownerID,
					"tier":     t.Name,
				}).Warnf("retrieve: tier search failed: %v", err)
				return
			}
			results <- tierHits{tier: t, recs: recs}
		}(t)
	}
	wg.Wait()
	close(results)

	var ranked []*memory.RetrievalResult
	for hits := range results {
		for _, rec := range hits.recs {
			if !opts.IncludeExpired && !hits.tier.Unbounded() &&
				now.Sub(rec.CreatedAt) > hits.tier.Retention {
				continue
			}
			final, decay, usage, recency := s.score.Score(hits.tier, rec, rec.Score, now)
			ranked = append(ranked, &memory.RetrievalResult{
				Memory:       storage.ToMemory(rec),
				Relevance:    rec.Score,
				DecayFactor:  decay,
				UsageBoost:   usage,
				RecencyBoost: recency,
				FinalScore:   final,
				Source:       hits.tier.Name,
			})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})
	if opts.MaxResults > 0 && len(ranked) > opts.MaxResults {
		ranked = ranked[:opts.MaxResults]
	}

	s.touchResults(ctx, ranked, now)
	return ranked
}

// touchResults writes accesses back for every returned item and mirrors the
// update onto the in-memory copies. The access that carries an entry past the
// usage threshold promotes it one tier forward.
func (s *Store) touchResults(ctx context.Context, results []*memory.RetrievalResult, now time.Time) {
	if len(results) == 0 {
		return
	}

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	if err := s.storage.TouchMemories(ctx, ids, now); err != nil {
		s.logger.Warnf("retrieve: access write-back failed: %v", err)
		return
	}
	for _, r := range results {
		r.Memory.AccessCount++
		r.Memory.LastAccessedAt = now
		if r.Memory.AccessCount > promoteAccessThreshold && s.Promote(ctx, r.Memory.ID, "") {
			if next, ok := s.tiers.next(r.Memory.Tier); ok {
				r.Memory.Tier = next.Name
			}
		}
	}
}

// Promote moves a memory one tier forward (or to targetTier when given).
// Relocation is delete-then-insert under the same id. Promotions of the same
// id never run concurrently. Returns true only when the memory actually
// moved; at-or-above-target and at-the-ceiling are no-ops.
func (s *Store) Promote(ctx context.Context, id int64, targetTier string) bool {
	mu := &s.promoteLocks[uint64(id)%uint64(len(s.promoteLocks))]
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.storage.GetMemory(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warnf("promote: storage unavailable: %v", err)
		}
		return false
	}

	var target Tier
	if targetTier == "" {
		next, ok := s.tiers.next(rec.Tier)
		if !ok {
			return false
		}
		target = next
	} else {
		t, ok := s.tiers.get(targetTier)
		if !ok {
			return false
		}
		target = t
	}
	if s.tiers.rank(target.Name) <= s.tiers.rank(rec.Tier) {
		return false
	}

	if err := s.storage.DeleteMemories(ctx, []int64{id}); err != nil {
		s.logger.Warnf("promote: delete failed: %v", err)
		return false
	}
	rec.Tier = target.Name
	if err := s.storage.InsertMemory(ctx, rec); err != nil {
		s.logger.WithField("memory_id", id).
			Errorf("promote: reinsert failed, memory lost: %v", err)
		return false
	}
	return true
}

// ExpireSweep deletes entries in finite-retention tiers past their retention
// and trims per-tier overflow, least recently used first. The unbounded tier
// is never swept by age. Returns the number of deleted records.
func (s *Store) ExpireSweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	deleted := 0

	for _, t := range s.tiers.ordered {
		if t.Unbounded() {
			continue
		}

		recs, err := s.storage.ListMemories(ctx, &storage.ListOptions{
			Tier:          t.Name,
			CreatedBefore: now.Add(-t.Retention),
		})
		if err != nil {
			return deleted, fmt.Errorf("tiered: expire sweep: %w", err)
		}
		if len(recs) == 0 {
			continue
		}

		ids := make([]int64, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID
		}
		if err := s.storage.DeleteMemories(ctx, ids); err != nil {
			return deleted, fmt.Errorf("tiered: expire sweep: %w", err)
		}
		deleted += len(ids)
	}

	for _, t := range s.tiers.ordered {
		if t.MaxEntries <= 0 {
			continue
		}
		n, err := s.trimOverflow(ctx, t)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

// trimOverflow enforces a tier's per-owner entry cap. Counts come from the
// storage counter and overflow ids from the tier index, which orders entries
// most recently touched first, so the least recently used entries past the
// cap are the ones deleted.
func (s *Store) trimOverflow(ctx context.Context, t Tier) (int, error) {
	recs, err := s.storage.ListMemories(ctx, &storage.ListOptions{Tier: t.Name})
	if err != nil {
		return 0, fmt.Errorf("tiered: overflow trim: %w", err)
	}
	owners := make(map[string]bool)
	for _, rec := range recs {
		owners[rec.OwnerID] = true
	}

	deleted := 0
	for ownerID := range owners {
		n, err := s.storage.CountMemories(ctx, ownerID, t.Name)
		if err != nil {
			return deleted, fmt.Errorf("tiered: overflow trim: %w", err)
		}
		if n <= t.MaxEntries {
			continue
		}

		ids, err := s.storage.TierIndex(ctx, ownerID, t.Name, 0)
		if err != nil {
			return deleted, fmt.Errorf("tiered: overflow trim: %w", err)
		}
		if len(ids) <= t.MaxEntries {
			continue
		}
		overflow := ids[t.MaxEntries:]
		if err := s.storage.DeleteMemories(ctx, overflow); err != nil {
			return deleted, fmt.Errorf("tiered: overflow trim: %w", err)
		}
		deleted += len(overflow)
	}
	return deleted, nil
}

// Tiers returns the configured tier ladder in order.
func (s *Store) Tiers() []Tier {
	out := make([]Tier, len(s.tiers.ordered))
	copy(out, s.tiers.ordered)
	return out
}
