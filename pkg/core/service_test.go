package core

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnix-ai/recall-go/pkg/llm"
	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/scheduler"
	"github.com/omnix-ai/recall-go/pkg/storage/memstore"
)

// stubLLM answers every extraction prompt with an empty candidate list and
// every summarization prompt with a fixed summary.
type stubLLM struct{}

func (stubLLM) Generate(context.Context, string, ...llm.GenerateOption) (string, error) {
	return "summary", nil
}

func (stubLLM) GenerateWithMessages(context.Context, []llm.Message, ...llm.GenerateOption) (string, error) {
	return "[]", nil
}

func (stubLLM) Close() error { return nil }

// hashEmbedder produces deterministic bag-of-words vectors so identical text
// always yields cosine similarity 1.0.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, 16)
	for _, tok := range memory.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%16]++
	}
	return memory.NormalizeVector(vec), nil
}

func (e hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (hashEmbedder) Dimensions() int { return 16 }
func (hashEmbedder) Close() error    { return nil }

func newTestService(t *testing.T) (*Service, *memstore.Store, *scheduler.FakeClock) {
	t.Helper()

	mem := memstore.New()
	clock := scheduler.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	svc, err := NewService(context.Background(), DefaultConfig(),
		WithStorage(mem),
		WithLLM(stubLLM{}),
		WithEmbedder(hashEmbedder{}),
		WithClock(clock),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mem, clock
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Provider = "oracle"

	_, err := NewService(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCreateConversation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateConversation(ctx, "owner-1", "trip planning", "")
	require.NoError(t, err)
	second, err := svc.CreateConversation(ctx, "owner-1", "", "gpt-4o")
	require.NoError(t, err)

	assert.NotEqual(t, first.Ref.ConversationID, second.Ref.ConversationID)
	assert.NotEqual(t, first.Ref.ThreadID, second.Ref.ThreadID)
	assert.True(t, first.MemoryEnabled)
	assert.Equal(t, "gpt-4o-mini", first.CurrentModel) // configured default
	assert.Equal(t, "gpt-4o", second.CurrentModel)

	got, err := svc.GetConversation(first.Ref)
	require.NoError(t, err)
	assert.Equal(t, "trip planning", got.Title)
}

func TestCreateConversationRequiresOwner(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateConversation(context.Background(), "", "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetConversationUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GetConversation(memory.ConversationRef{OwnerID: "owner-1", ConversationID: "nope"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestRecordTurnValidatesRole(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "owner-1", "", "")
	require.NoError(t, err)

	err = svc.RecordTurn(ctx, conv.Ref, "moderator", "hello")
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = svc.RecordTurn(ctx, memory.ConversationRef{OwnerID: "owner-1", ConversationID: "nope"}, "user", "hello")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestRecordTurnAppendsAndCounts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "owner-1", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.RecordTurn(ctx, conv.Ref, "user", "I prefer window seats on long flights"))
	require.NoError(t, svc.RecordTurn(ctx, conv.Ref, "assistant", "Noted, window seats it is."))

	got, err := svc.GetConversation(conv.Ref)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
	assert.Positive(t, got.TokenCount)
}

func TestRecordTurnEnqueuesExtraction(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "owner-1", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.RecordTurn(ctx, conv.Ref, "user", "I work as a marine biologist"))
	assert.Equal(t, 1, svc.Pipeline().QueueLen())

	require.NoError(t, svc.RecordTurn(ctx, conv.Ref, "assistant", "That sounds fascinating."))
	assert.Equal(t, 2, svc.Pipeline().QueueLen())

	// System turns carry no extractable user information.
	require.NoError(t, svc.RecordTurn(ctx, conv.Ref, "system", "You are a helpful assistant."))
	assert.Equal(t, 2, svc.Pipeline().QueueLen())
}

func TestRecordTurnRespectsMemoryToggle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "owner-1", "", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetMemoryEnabled(conv.Ref, false))

	require.NoError(t, svc.RecordTurn(ctx, conv.Ref, "user", "I am allergic to peanuts"))
	assert.Zero(t, svc.Pipeline().QueueLen())

	got, err := svc.GetConversation(conv.Ref)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
}

func TestRememberSearchForget(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Remember(ctx, "owner-1", memory.TypePreference, "favorite color is blue", 0.6)
	require.NoError(t, err)
	require.NotZero(t, id)

	results := svc.Search(ctx, "owner-1", "favorite color is blue", 0)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Memory.ID)
	assert.InDelta(t, 1.0, results[0].Relevance, 1e-9)

	require.NoError(t, svc.Forget(ctx, "owner-1", []int64{id}))
	assert.Empty(t, svc.Search(ctx, "owner-1", "favorite color is blue", 0))
}

func TestRememberRejectsUnknownType(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Remember(context.Background(), "owner-1", memory.Type("vibe"), "something", 0.5)
	assert.Error(t, err)
}

func TestBuildContextFullRetrieval(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	ref := memory.ConversationRef{OwnerID: "owner-1", ConversationID: "conv-1"}

	for _, content := range []string{
		"favorite color is blue",
		"favorite food is sushi",
		"favorite season is autumn",
	} {
		_, err := svc.Remember(ctx, "owner-1", memory.TypePreference, content, 0.6)
		require.NoError(t, err)
	}

	built := svc.BuildContext(ctx, ref, "favorite color and food", 0)
	require.NotNil(t, built)
	assert.False(t, built.FromCache)
	assert.Len(t, built.UserGlobal, 3)
	assert.Empty(t, built.ConversationLocal)
	assert.Positive(t, built.TokensUsed)
	assert.Len(t, built.Memories(), 3)
}

func TestBuildContextFastPath(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	ref := memory.ConversationRef{OwnerID: "owner-1", ConversationID: "conv-1"}

	for _, content := range []string{
		"favorite color is blue",
		"favorite food is sushi",
		"favorite season is autumn",
	} {
		_, err := svc.Remember(ctx, "owner-1", memory.TypePreference, content, 0.6)
		require.NoError(t, err)
	}

	first := svc.BuildContext(ctx, ref, "favorite color and food", 0)
	require.False(t, first.FromCache)

	// The bundle refresh is fire-and-forget, so poll until the cache serves.
	require.Eventually(t, func() bool {
		return svc.BuildContext(ctx, ref, "favorite color and food", 0).FromCache
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBuildContextZeroBudgetIsEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	ref := memory.ConversationRef{OwnerID: "owner-1", ConversationID: "conv-1"}

	_, err := svc.Remember(ctx, "owner-1", memory.TypeFact, "lives in Lisbon", 0.6)
	require.NoError(t, err)

	built := svc.BuildContext(ctx, ref, "lives in Lisbon", 1)
	require.NotNil(t, built)
	assert.Empty(t, built.Memories())
	assert.Zero(t, built.TokensUsed)
}

// blockingLLM parks every Generate call until released, signalling when the
// call is in flight.
type blockingLLM struct {
	stubLLM
	started chan struct{}
	release chan struct{}
}

func (b *blockingLLM) Generate(context.Context, string, ...llm.GenerateOption) (string, error) {
	b.started <- struct{}{}
	<-b.release
	return "summary", nil
}

func TestCompressionDoesNotBlockOtherOwners(t *testing.T) {
	mem := memstore.New()
	clock := scheduler.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	blocker := &blockingLLM{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	svc, err := NewService(context.Background(), DefaultConfig(),
		WithStorage(mem),
		WithLLM(blocker),
		WithEmbedder(hashEmbedder{}),
		WithClock(clock),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, "owner-1", "", "gpt-3.5-turbo")
	require.NoError(t, err)

	// Sized so the token count crosses 80% of the 4k window on turn 12, when
	// the history is long enough for compression to summarize.
	long := strings.Repeat("memory systems are fun ", 50)
	for i := 0; i < 11; i++ {
		require.NoError(t, svc.RecordTurn(ctx, conv.Ref, "user", long))
	}

	done := make(chan error, 1)
	go func() { done <- svc.RecordTurn(ctx, conv.Ref, "user", long) }()
	<-blocker.started // summarization is now in flight

	created := make(chan struct{})
	go func() {
		_, err := svc.CreateConversation(ctx, "owner-2", "", "")
		assert.NoError(t, err)
		close(created)
	}()

	select {
	case <-created:
	case <-time.After(time.Second):
		close(blocker.release)
		t.Fatal("unrelated operation stalled behind an in-flight compression")
	}

	close(blocker.release)
	require.NoError(t, <-done)

	got, err := svc.GetConversation(conv.Ref)
	require.NoError(t, err)
	assert.Equal(t, "summary", got.Summary)
	require.Len(t, got.Messages, 11) // synthetic summary + the last 10 turns
	assert.True(t, got.Messages[0].Synthetic)
}

func TestStorageOutageDegrades(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	ref := memory.ConversationRef{OwnerID: "owner-1", ConversationID: "conv-1"}

	mem.SetFail(true)

	id, err := svc.Remember(ctx, "owner-1", memory.TypeFact, "lives in Lisbon", 0.6)
	assert.NoError(t, err)
	assert.Zero(t, id)

	assert.Empty(t, svc.Search(ctx, "owner-1", "lives in Lisbon", 0))

	built := svc.BuildContext(ctx, ref, "lives in Lisbon", 0)
	require.NotNil(t, built)
	assert.Empty(t, built.Memories())
}

func TestForgetSurfacesStorageError(t *testing.T) {
	svc, mem, _ := newTestService(t)
	mem.SetFail(true)

	err := svc.Forget(context.Background(), "owner-1", []int64{1})
	assert.Error(t, err)
}
