package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/omnix-ai/recall-go/pkg/budget"
	"github.com/omnix-ai/recall-go/pkg/cache"
	"github.com/omnix-ai/recall-go/pkg/embedder"
	"github.com/omnix-ai/recall-go/pkg/embedder/cached"
	embopenai "github.com/omnix-ai/recall-go/pkg/embedder/openai"
	"github.com/omnix-ai/recall-go/pkg/extraction"
	"github.com/omnix-ai/recall-go/pkg/llm"
	llmopenai "github.com/omnix-ai/recall-go/pkg/llm/openai"
	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/plan"
	"github.com/omnix-ai/recall-go/pkg/retrieval"
	"github.com/omnix-ai/recall-go/pkg/scheduler"
	"github.com/omnix-ai/recall-go/pkg/storage"
	"github.com/omnix-ai/recall-go/pkg/storage/memstore"
	"github.com/omnix-ai/recall-go/pkg/storage/postgres"
	"github.com/omnix-ai/recall-go/pkg/storage/sqlite"
	"github.com/omnix-ai/recall-go/pkg/tiered"
)

// Service is the memory subsystem: one per process, constructed once at
// startup and passed by handle into request-scoped handlers. There is no
// hidden global state.
type Service struct {
	cfg    *Config
	logger *logrus.Logger
	clock  scheduler.Clock

	storage    storage.Store
	embedder   embedder.Provider
	llm        llm.Provider
	store      *tiered.Store
	pipeline   *extraction.Pipeline
	engine     *retrieval.Engine
	compressor *budget.Compressor
	plans      plan.Resolver

	embCache    *cache.EmbeddingCache
	bundleCache *cache.BundleCache

	sched *scheduler.Scheduler

	mu            sync.RWMutex
	conversations map[string]*memory.Conversation
}

// Option customizes Service construction, mainly for dependency injection
// in tests and embedding the core into a larger process.
type Option func(*Service)

// WithLogger replaces the default logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock replaces the real clock, making the background sweeps testable
// by advancing a virtual clock.
func WithClock(clock scheduler.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithStorage injects a pre-built storage backend, overriding the provider
// selected in the configuration.
func WithStorage(store storage.Store) Option {
	return func(s *Service) { s.storage = store }
}

// WithEmbedder injects an embedding provider.
func WithEmbedder(provider embedder.Provider) Option {
	return func(s *Service) { s.embedder = provider }
}

// WithLLM injects a language-generation provider.
func WithLLM(provider llm.Provider) Option {
	return func(s *Service) { s.llm = provider }
}

// WithPlanResolver injects the plan/quota resolver. Defaults to a static
// resolver pinned to the configured tier.
func WithPlanResolver(resolver plan.Resolver) Option {
	return func(s *Service) { s.plans = resolver }
}

// NewService builds the memory service from cfg and starts its background
// sweeps. Call Close to stop them.
func NewService(ctx context.Context, cfg *Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:           cfg,
		conversations: make(map[string]*memory.Conversation),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logrus.New()
		if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			s.logger.SetLevel(level)
		}
	}
	if s.clock == nil {
		s.clock = scheduler.RealClock{}
	}
	if s.plans == nil {
		s.plans = plan.NewStaticResolver(plan.Tier(cfg.Plan))
	}

	if err := s.buildStorage(); err != nil {
		return nil, err
	}
	if err := s.buildProviders(); err != nil {
		return nil, err
	}
	if err := s.buildCaches(); err != nil {
		return nil, err
	}
	if err := s.buildComponents(); err != nil {
		return nil, err
	}

	s.startSweeps(ctx)
	return s, nil
}

func (s *Service) buildStorage() error {
	if s.storage != nil {
		return nil
	}

	var err error
	switch s.cfg.Storage.Provider {
	case "sqlite":
		s.storage, err = sqlite.NewClient(&sqlite.Config{DBPath: s.cfg.Storage.SQLitePath})
	case "postgres":
		s.storage, err = postgres.NewClient(&postgres.Config{
			Host:          s.cfg.Storage.Host,
			Port:          s.cfg.Storage.Port,
			User:          s.cfg.Storage.User,
			Password:      s.cfg.Storage.Password,
			DBName:        s.cfg.Storage.DBName,
			SSLMode:       s.cfg.Storage.SSLMode,
			EmbeddingDims: s.cfg.Embedder.Dimensions,
		})
	case "memory":
		s.storage = memstore.New()
	}
	return NewMemoryError("NewService", err)
}

func (s *Service) buildProviders() error {
	if s.llm == nil {
		provider, err := llmopenai.NewClient(&llmopenai.Config{
			APIKey:  s.cfg.LLM.APIKey,
			Model:   s.cfg.LLM.Model,
			BaseURL: s.cfg.LLM.BaseURL,
		})
		if err != nil {
			return NewMemoryError("NewService", err)
		}
		s.llm = provider
	}

	if s.embedder == nil {
		provider, err := embopenai.NewClient(&embopenai.Config{
			APIKey:     s.cfg.Embedder.APIKey,
			Model:      s.cfg.Embedder.Model,
			BaseURL:    s.cfg.Embedder.BaseURL,
			Dimensions: s.cfg.Embedder.Dimensions,
		})
		if err != nil {
			return NewMemoryError("NewService", err)
		}
		s.embedder = provider
	}
	return nil
}

func (s *Service) buildCaches() error {
	embCache, err := cache.NewEmbeddingCache(int64(s.cfg.Cache.MaxEntries), s.cfg.Cache.TTL)
	if err != nil {
		return NewMemoryError("NewService", err)
	}
	s.embCache = embCache

	// Every embedding path goes through the cache-fronted provider.
	s.embedder = cached.New(s.embedder, s.embCache)

	var redisClient *redis.Client
	if s.cfg.Cache.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     s.cfg.Cache.RedisAddr,
			Password: s.cfg.Cache.RedisPassword,
			DB:       s.cfg.Cache.RedisDB,
		})
	}
	s.bundleCache = cache.NewBundleCache(cache.BundleCacheConfig{
		MaxEntries:    s.cfg.Cache.MaxEntries,
		TTL:           s.cfg.Cache.TTL,
		Redis:         redisClient,
		RemoteTimeout: s.cfg.Cache.RemoteTimeout,
		Logger:        s.logger,
	})
	return nil
}

func (s *Service) buildComponents() error {
	store, err := tiered.NewStore(&tiered.Config{
		Storage:  s.storage,
		Embedder: s.embedder,
		Score: tiered.ScoreConfig{
			HalfLifeFactor:     s.cfg.Scoring.HalfLifeFactor,
			UnboundedHalfLife:  s.cfg.Scoring.UnboundedHalfLife,
			UsageBoostWeight:   s.cfg.Scoring.UsageBoostWeight,
			RecencyBoostWeight: s.cfg.Scoring.RecencyBoostWeight,
		},
		Clock:  s.clock,
		Logger: s.logger,
	})
	if err != nil {
		return NewMemoryError("NewService", err)
	}
	s.store = store

	extractor := extraction.NewExtractor(s.llm,
		extraction.WithConfidenceFloor(s.cfg.Extraction.ConfidenceFloor),
		extraction.WithExtractorLogger(s.logger))

	pipeline, err := extraction.NewPipeline(&extraction.PipelineConfig{
		Store:            s.store,
		Extractor:        extractor,
		Storage:          s.storage,
		SweepInterval:    s.cfg.Extraction.SweepInterval,
		OptimizeInterval: s.cfg.Extraction.OptimizeInterval,
		BatchSize:        s.cfg.Extraction.BatchSize,
		MaxAttempts:      s.cfg.Extraction.MaxAttempts,
		CleanupFloor:     s.cfg.Extraction.CleanupFloor,
		Clock:            s.clock,
		Logger:           s.logger,
	})
	if err != nil {
		return NewMemoryError("NewService", err)
	}
	s.pipeline = pipeline

	engine, err := retrieval.NewEngine(&retrieval.Config{
		Embedder:      s.embedder,
		Storage:       s.storage,
		Plans:         s.plans,
		GeneralFloor:  s.cfg.Retrieval.GeneralFloor,
		ProfileFloor:  s.cfg.Retrieval.ProfileFloor,
		CurrentBoost:  s.cfg.Retrieval.CurrentBoost,
		NearTieWindow: s.cfg.Retrieval.NearTieWindow,
		Permissive:    s.cfg.Retrieval.Permissive,
		Clock:         s.clock,
		Logger:        s.logger,
	})
	if err != nil {
		return NewMemoryError("NewService", err)
	}
	s.engine = engine

	s.compressor = budget.NewCompressor(s.llm,
		budget.WithKeepRecent(s.cfg.Budget.KeepRecent),
		budget.WithCompressorClock(s.clock),
		budget.WithCompressorLogger(s.logger))

	s.sched = scheduler.New(s.clock, s.logger)
	return nil
}

// startSweeps launches the three background units: extraction, optimization,
// and tier expiration. Each is isolated from the request-serving paths and
// from the others' failures.
func (s *Service) startSweeps(ctx context.Context) {
	s.pipeline.Start(ctx)

	s.sched.Every(ctx, "tier_expiration", s.cfg.Extraction.ExpireInterval,
		func(ctx context.Context) error {
			deleted, err := s.store.ExpireSweep(ctx)
			if deleted > 0 {
				s.logger.Infof("tier expiration removed %d memories", deleted)
			}
			return err
		})

	s.sched.Every(ctx, "vector_retention", s.cfg.Extraction.ExpireInterval,
		func(ctx context.Context) error {
			return s.pruneConversationVectors(ctx)
		})
}

// pruneConversationVectors enforces each known owner's plan retention on
// stored conversation vectors.
func (s *Service) pruneConversationVectors(ctx context.Context) error {
	s.mu.RLock()
	owners := make(map[string]bool)
	for _, conv := range s.conversations {
		owners[conv.Ref.OwnerID] = true
	}
	s.mu.RUnlock()

	for ownerID := range owners {
		limits, err := s.plans.Resolve(ctx, ownerID)
		if err != nil || limits.RetentionDays <= 0 {
			continue
		}
		cutoff := s.clock.Now().AddDate(0, 0, -limits.RetentionDays)
		removed, err := s.storage.PruneConversationVectors(ctx, ownerID, cutoff)
		if err != nil {
			s.logger.WithField("owner_id", ownerID).
				Warnf("vector retention prune failed: %v", err)
			continue
		}
		if removed > 0 {
			s.logger.WithField("owner_id", ownerID).
				Debugf("vector retention removed %d vectors", removed)
		}
	}
	return nil
}

// Pipeline exposes the extraction pipeline, mainly for tests and embedding
// processes that drive sweeps manually.
func (s *Service) Pipeline() *extraction.Pipeline { return s.pipeline }

// Store exposes the tiered memory store.
func (s *Service) Store() *tiered.Store { return s.store }

// Close stops the background sweeps and releases every owned resource.
func (s *Service) Close() error {
	s.pipeline.Stop()
	s.sched.Stop()
	s.embCache.Close()

	var firstErr error
	if err := s.llm.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.storage.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return NewMemoryError("Close", firstErr)
}

// bundleKey is the cache key for one owner/conversation context bundle.
func bundleKey(ref memory.ConversationRef) string {
	return fmt.Sprintf("%s:%s", ref.OwnerID, ref.ConversationID)
}
