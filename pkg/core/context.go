package core

import (
	"context"

	"github.com/omnix-ai/recall-go/pkg/budget"
	"github.com/omnix-ai/recall-go/pkg/cache"
	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/retrieval"
)

// Context is one assembled memory context, ready to be prepended to a model
// request upstream.
type Context struct {
	// ConversationLocal holds memories tied to the current conversation.
	ConversationLocal []*memory.RetrievalResult

	// UserGlobal holds owner-wide memories.
	UserGlobal []*memory.RetrievalResult

	// TokensUsed is the estimated cost of the included memories.
	TokensUsed int

	// FromCache marks contexts served by the fast-path cache without a
	// full retrieval pass.
	FromCache bool
}

// Memories returns all included memories, conversation-local first.
func (c *Context) Memories() []*memory.RetrievalResult {
	out := make([]*memory.RetrievalResult, 0, len(c.ConversationLocal)+len(c.UserGlobal))
	out = append(out, c.ConversationLocal...)
	out = append(out, c.UserGlobal...)
	return out
}

// BuildContext assembles the memory context for one upcoming model call.
//
// The fast path serves a cached bundle when it is fresh and on-topic;
// otherwise a full retrieval runs and the cache is refreshed asynchronously
// (fire-and-forget). The assembled context never exceeds maxTokens; zero
// maxTokens uses the configured default budget. Always returns a context,
// possibly empty: retrieval degradation is never an error here.
func (s *Service) BuildContext(ctx context.Context, ref memory.ConversationRef, query string, maxTokens int) *Context {
	if maxTokens <= 0 {
		maxTokens = s.cfg.Budget.MaxTokens
	}
	b := budget.SplitBudget(maxTokens)

	if bundle, ok := s.bundleCache.Get(ctx, bundleKey(ref)); ok {
		if budget.FastPathEligible(bundle, query, s.clock.Now()) {
			return s.assembleFromBundle(bundle, ref, b)
		}
	}

	results := s.engine.Retrieve(ctx, &retrieval.Query{
		OwnerID: ref.OwnerID,
		Text:    query,
		Current: ref,
	})
	results = budget.MergeNearDuplicates(results)
	fitted := budget.FitMemoriesInBudget(results, b, ref)

	s.refreshBundle(ref, query, fitted.All())

	return &Context{
		ConversationLocal: fitted.ConversationLocal,
		UserGlobal:        fitted.UserGlobal,
		TokensUsed:        fitted.TotalTokens(),
	}
}

// assembleFromBundle rebuilds a Context from cached memories, re-fitting
// them into the current budget.
func (s *Service) assembleFromBundle(bundle *cache.Bundle, ref memory.ConversationRef, b budget.Budget) *Context {
	results := make([]*memory.RetrievalResult, 0, len(bundle.Memories))
	for _, m := range bundle.Memories {
		results = append(results, &memory.RetrievalResult{
			Memory:     m,
			Source:     m.Tier,
			FinalScore: m.Importance,
		})
	}

	fitted := budget.FitMemoriesInBudget(results, b, ref)
	return &Context{
		ConversationLocal: fitted.ConversationLocal,
		UserGlobal:        fitted.UserGlobal,
		TokensUsed:        fitted.TotalTokens(),
		FromCache:         true,
	}
}

// refreshBundle pushes the freshly retrieved memories into the bundle cache
// as a fire-and-forget side write. The bundle's keywords are the query terms
// plus the memories' own topics, which the next fast-path check overlaps
// against.
func (s *Service) refreshBundle(ref memory.ConversationRef, query string, results []*memory.RetrievalResult) {
	if len(results) == 0 {
		return
	}

	memories := make([]*memory.Memory, 0, len(results))
	keywords := memory.Keywords(query)
	for _, r := range results {
		memories = append(memories, r.Memory)
		keywords = memory.UnionStrings(keywords, r.Memory.Topics)
	}

	bundle := &cache.Bundle{
		Memories: memories,
		Keywords: keywords,
		StoredAt: s.clock.Now(),
	}

	bundleCache := s.bundleCache
	key := bundleKey(ref)
	cache.BestEffort(s.logger, "bundle_refresh", 0, func(ctx context.Context) error {
		bundleCache.Set(ctx, key, bundle)
		return nil
	})
}
