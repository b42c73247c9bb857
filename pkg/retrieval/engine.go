// Package retrieval implements the ranking engine: it embeds the query,
// fans out over conversation vectors and discrete memories, boosts
// current-conversation hits, filters by a query-dependent similarity floor,
// and returns a plan-bounded top-K.
package retrieval

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/omnix-ai/recall-go/pkg/embedder"
	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/plan"
	"github.com/omnix-ai/recall-go/pkg/scheduler"
	"github.com/omnix-ai/recall-go/pkg/storage"
)

// SourceConversation marks results drawn from conversation transcripts
// rather than a memory tier.
const SourceConversation = "conversation"

// Config configures an Engine.
type Config struct {
	// Embedder produces the query vector. Required. Wrap it with the
	// cached provider so repeated queries hit the embedding cache.
	Embedder embedder.Provider

	// Storage supplies candidates. Required.
	Storage storage.Store

	// Plans resolves per-owner candidate and result bounds. Defaults to
	// static free-tier limits.
	Plans plan.Resolver

	// GeneralFloor is the similarity floor for ordinary queries.
	// Default 0.15.
	GeneralFloor float64

	// ProfileFloor is the lower floor for profile-style queries such as
	// "who am I". Default 0.05.
	ProfileFloor float64

	// CurrentBoost multiplies the similarity of current-conversation hits.
	// Default 1.3.
	CurrentBoost float64

	// NearTieWindow is the score distance within which ties break by
	// importance, then recency. Default 0.1.
	NearTieWindow float64

	// Permissive selects the permissive ranking variant: floors are halved
	// and near-ties are not reordered. Default is the strict variant.
	Permissive bool

	Clock  scheduler.Clock
	Logger *logrus.Logger
}

// Engine is the retrieval and ranking engine.
type Engine struct {
	embedder embedder.Provider
	storage  storage.Store
	plans    plan.Resolver
	clock    scheduler.Clock
	logger   *logrus.Logger

	generalFloor  float64
	profileFloor  float64
	currentBoost  float64
	nearTieWindow float64
	permissive    bool
}

// NewEngine creates an Engine from cfg.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Embedder == nil || cfg.Storage == nil {
		return nil, errors.New("retrieval: embedder and storage are required")
	}

	e := &Engine{
		embedder:      cfg.Embedder,
		storage:       cfg.Storage,
		plans:         cfg.Plans,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		generalFloor:  cfg.GeneralFloor,
		profileFloor:  cfg.ProfileFloor,
		currentBoost:  cfg.CurrentBoost,
		nearTieWindow: cfg.NearTieWindow,
		permissive:    cfg.Permissive,
	}
	if e.plans == nil {
		e.plans = plan.NewStaticResolver(plan.TierFree)
	}
	if e.clock == nil {
		e.clock = scheduler.RealClock{}
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	if e.generalFloor <= 0 {
		e.generalFloor = 0.15
	}
	if e.profileFloor <= 0 {
		e.profileFloor = 0.05
	}
	if e.currentBoost <= 1 {
		e.currentBoost = 1.3
	}
	if e.nearTieWindow <= 0 {
		e.nearTieWindow = 0.1
	}
	return e, nil
}

// Query is one retrieval request.
type Query struct {
	// OwnerID scopes the search. Required.
	OwnerID string

	// Text is the query text to embed and match against.
	Text string

	// Current identifies the conversation the query originates from.
	// Hits from this conversation receive the relevance boost.
	Current memory.ConversationRef

	// MaxResults overrides the plan's top-K when positive.
	MaxResults int
}

// Retrieve runs the full retrieval algorithm and returns ranked results.
//
// Total embedding-provider failure aborts the search with an empty result
// and a logged error: callers must treat empty as "no memories currently
// available," never as proof of absence. Individual candidates with missing
// or mismatched embeddings are skipped.
func (e *Engine) Retrieve(ctx context.Context, q *Query) []*memory.RetrievalResult {
	queryVec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		e.logger.WithField("owner_id", q.OwnerID).
			Errorf("retrieval: query embedding failed, returning empty: %v", err)
		return nil
	}

	limits, err := e.plans.Resolve(ctx, q.OwnerID)
	if err != nil {
		e.logger.WithField("owner_id", q.OwnerID).
			Warnf("retrieval: plan resolution failed, using free limits: %v", err)
		limits = plan.LimitsFor(plan.TierFree)
	}

	// Independent candidate reads fan out in parallel and join before
	// ranking.
	var (
		wg      sync.WaitGroup
		vecs    []*storage.ConversationVector
		records []*storage.MemoryRecord
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		vecs, err = e.storage.SearchConversationVectors(ctx, queryVec, &storage.ConversationSearchOptions{
			OwnerID:          q.OwnerID,
			MaxConversations: limits.MaxConversations,
		})
		if err != nil {
			e.logger.Warnf("retrieval: conversation search failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		records, err = e.storage.SearchMemories(ctx, queryVec, &storage.SearchOptions{
			OwnerID: q.OwnerID,
		})
		if err != nil {
			e.logger.Warnf("retrieval: memory search failed: %v", err)
		}
	}()
	wg.Wait()

	floor := e.floorFor(q.Text)
	results := e.merge(q, queryVec, vecs, records, floor)

	e.rank(results)

	topK := q.MaxResults
	if topK <= 0 {
		topK = limits.MaxResults
	}
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	e.touch(ctx, results)
	return results
}

// merge scores both candidate partitions against the query vector. The
// current-conversation boost is applied post-hoc, after the raw cosine is
// computed, so cached vectors never carry boosted values.
func (e *Engine) merge(q *Query, queryVec []float64, vecs []*storage.ConversationVector, records []*storage.MemoryRecord, floor float64) []*memory.RetrievalResult {
	var results []*memory.RetrievalResult

	for _, vec := range vecs {
		if len(vec.Embedding) == 0 {
			continue
		}
		relevance := memory.CosineSimilarity(queryVec, vec.Embedding)

		score := relevance
		current := vec.ConversationID == q.Current.ConversationID && q.Current.ConversationID != ""
		if current {
			score = relevance * e.currentBoost
		}
		if score < floor {
			continue
		}

		results = append(results, &memory.RetrievalResult{
			Memory: &memory.Memory{
				OwnerID:        vec.OwnerID,
				ConversationID: vec.ConversationID,
				Type:           memory.TypeContext,
				Content:        vec.Content,
				Importance:     vec.Importance,
				Topics:         vec.Topics,
				CreatedAt:      vec.CreatedAt,
				LastAccessedAt: vec.CreatedAt,
				AccessCount:    vec.AccessCount,
			},
			Relevance:  relevance,
			FinalScore: score,
			Source:     SourceConversation,
		})
	}

	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			continue
		}
		relevance := memory.CosineSimilarity(queryVec, rec.Embedding)
		if relevance < floor {
			continue
		}
		results = append(results, &memory.RetrievalResult{
			Memory:     storage.ToMemory(rec),
			Relevance:  relevance,
			FinalScore: relevance,
			Source:     rec.Tier,
		})
	}
	return results
}

// rank orders results by score descending. In the strict variant, scores
// within the near-tie window compare by importance, then recency.
func (e *Engine) rank(results []*memory.RetrievalResult) {
	if e.permissive {
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].FinalScore > results[j].FinalScore
		})
		return
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		diff := a.FinalScore - b.FinalScore
		if diff > e.nearTieWindow {
			return true
		}
		if diff < -e.nearTieWindow {
			return false
		}
		if a.Memory.Importance != b.Memory.Importance {
			return a.Memory.Importance > b.Memory.Importance
		}
		if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
			return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
		}
		return a.FinalScore > b.FinalScore
	})
}

// floorFor picks the similarity floor: profile-style queries use the lower
// floor so sparse profile facts still surface. Permissive mode halves both.
func (e *Engine) floorFor(query string) float64 {
	floor := e.generalFloor
	if isProfileQuery(query) {
		floor = e.profileFloor
	}
	if e.permissive {
		floor /= 2
	}
	return floor
}

// profilePatterns match queries asking about the user themself.
var profilePatterns = []string{
	"who am i", "about me", "my profile", "what do you know about me",
	"tell me about myself", "my information",
}

func isProfileQuery(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, p := range profilePatterns {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// touch writes accesses back for returned memory-record results.
// Conversation hits have no discrete record to touch.
func (e *Engine) touch(ctx context.Context, results []*memory.RetrievalResult) {
	var ids []int64
	for _, r := range results {
		if r.Source != SourceConversation && r.Memory.ID != 0 {
			ids = append(ids, r.Memory.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	now := e.clock.Now()
	if err := e.storage.TouchMemories(ctx, ids, now); err != nil {
		e.logger.Warnf("retrieval: access write-back failed: %v", err)
		return
	}
	for _, r := range results {
		if r.Source != SourceConversation && r.Memory.ID != 0 {
			r.Memory.AccessCount++
			r.Memory.LastAccessedAt = now
		}
	}
}
