package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnix-ai/recall-go/pkg/scheduler"
	"github.com/omnix-ai/recall-go/pkg/storage"
	"github.com/omnix-ai/recall-go/pkg/storage/memstore"
	"github.com/omnix-ai/recall-go/pkg/tiered"
)

func newTestPipeline(t *testing.T, provider *fakeLLM) (*Pipeline, *memstore.Store, *scheduler.FakeClock) {
	t.Helper()
	mem := memstore.New()
	clock := scheduler.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))

	store, err := tiered.NewStore(&tiered.Config{
		Storage: mem,
		Clock:   clock,
	})
	require.NoError(t, err)

	p, err := NewPipeline(&PipelineConfig{
		Store:     store,
		Extractor: NewExtractor(provider),
		Storage:   mem,
		Clock:     clock,
	})
	require.NoError(t, err)
	return p, mem, clock
}

func TestHighPriorityRunsInline(t *testing.T) {
	provider := &fakeLLM{response: `[{"type": "fact", "content": "Lives in Oslo", "confidence": 0.9}]`}
	p, mem, _ := newTestPipeline(t, provider)

	task := p.Enqueue(context.Background(), "user-1", "conv-1", "user: I live in Oslo", PriorityHigh)

	assert.Equal(t, StateCompleted, task.State)
	assert.Equal(t, 1, provider.callCount())
	assert.Zero(t, p.QueueLen(), "inline tasks never wait for the sweep")

	recs, err := mem.ListMemories(context.Background(), &storage.ListOptions{OwnerID: "user-1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Lives in Oslo", recs[0].Content)
	assert.Equal(t, "conv-1", recs[0].ConversationID)
}

func TestSweepProcessesBatchByPriorityThenAge(t *testing.T) {
	provider := &fakeLLM{response: `[]`}
	p, _, clock := newTestPipeline(t, provider)
	ctx := context.Background()

	// Seven queued tasks; batch size is five. The two oldest low-priority
	// tasks beyond the batch must remain queued.
	var tasks []*Task
	for i := 0; i < 5; i++ {
		tasks = append(tasks, p.Enqueue(ctx, "user-1", "conv-1", "text", PriorityLow))
		clock.Advance(time.Second)
	}
	med := p.Enqueue(ctx, "user-1", "conv-1", "text", PriorityMedium)

	require.NoError(t, p.Sweep(ctx))

	assert.Equal(t, StateCompleted, med.State, "higher priority beats older age")
	assert.Equal(t, 1, p.QueueLen())
	assert.Equal(t, StateQueued, tasks[4].State, "the youngest low-priority task waits")
}

func TestRetryDemotesPriorityThenAbandons(t *testing.T) {
	provider := &fakeLLM{err: errors.New("provider down")}
	p, _, _ := newTestPipeline(t, provider)
	ctx := context.Background()

	task := p.Enqueue(ctx, "user-1", "conv-1", "text", PriorityHigh)
	assert.Equal(t, StateRetrying, task.State)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.Equal(t, 1, task.Attempts)

	require.NoError(t, p.Sweep(ctx))
	assert.Equal(t, StateRetrying, task.State)
	assert.Equal(t, PriorityLow, task.Priority)
	assert.Equal(t, 2, task.Attempts)

	require.NoError(t, p.Sweep(ctx))
	assert.Equal(t, StateAbandoned, task.State)
	assert.Equal(t, 3, task.Attempts)
	assert.Zero(t, p.QueueLen(), "abandoned tasks leave the queue")
}

func TestRecoveryAfterRetry(t *testing.T) {
	provider := &fakeLLM{err: errors.New("transient")}
	p, mem, _ := newTestPipeline(t, provider)
	ctx := context.Background()

	task := p.Enqueue(ctx, "user-1", "conv-1", "user: my name is Kim", PriorityHigh)
	assert.Equal(t, StateRetrying, task.State)

	provider.set(`[{"type": "fact", "content": "Name is Kim", "confidence": 0.9}]`, nil)
	require.NoError(t, p.Sweep(ctx))
	assert.Equal(t, StateCompleted, task.State)

	recs, err := mem.ListMemories(ctx, &storage.ListOptions{OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCleanupRemovesLowConfidenceMemories(t *testing.T) {
	provider := &fakeLLM{response: `[]`}
	p, mem, clock := newTestPipeline(t, provider)
	ctx := context.Background()
	now := clock.Now()

	require.NoError(t, mem.InsertMemories(ctx, []*storage.MemoryRecord{
		{ID: 1, OwnerID: "user-1", Type: "fact", Content: "shaky", Confidence: 0.2,
			Tier: tiered.TierShortTerm, CreatedAt: now, LastAccessedAt: now},
		{ID: 2, OwnerID: "user-1", Type: "fact", Content: "solid", Confidence: 0.9,
			Tier: tiered.TierShortTerm, CreatedAt: now, LastAccessedAt: now},
	}))

	require.NoError(t, p.cleanup(ctx, "user-1"))

	_, err := mem.GetMemory(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = mem.GetMemory(ctx, 2)
	assert.NoError(t, err)
}

func TestOptimizeTickRunsOneTaskPerTick(t *testing.T) {
	provider := &fakeLLM{response: `[]`}
	p, _, _ := newTestPipeline(t, provider)
	ctx := context.Background()

	p.Enqueue(ctx, "user-1", "conv-1", "text", PriorityLow)
	p.Enqueue(ctx, "user-2", "conv-2", "text", PriorityLow)

	require.NoError(t, p.OptimizeTick(ctx))

	p.mu.Lock()
	pending := len(p.optPending)
	p.mu.Unlock()
	assert.Equal(t, 1, pending, "one owner served per tick, one still pending")
}

func TestQualityCheckIsIdempotent(t *testing.T) {
	provider := &fakeLLM{response: `[]`}
	p, mem, clock := newTestPipeline(t, provider)
	ctx := context.Background()
	now := clock.Now()

	require.NoError(t, mem.InsertMemory(ctx, &storage.MemoryRecord{
		ID: 1, OwnerID: "user-1", Type: "fact",
		Content: "I think they moved to Dublin", Confidence: 0.9,
		Tier: tiered.TierWorking, CreatedAt: now, LastAccessedAt: now,
	}))

	require.NoError(t, p.qualityCheck(ctx, "user-1"))
	rec, err := mem.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, rec.Confidence, 1e-9)

	require.NoError(t, p.qualityCheck(ctx, "user-1"))
	rec, err = mem.GetMemory(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, rec.Confidence, 1e-9, "repeated checks never drift confidence")
}
