package tiered

import (
	"context"
	"hash/fnv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/scheduler"
	"github.com/omnix-ai/recall-go/pkg/storage"
	"github.com/omnix-ai/recall-go/pkg/storage/memstore"
)

// wordEmbedder produces deterministic bag-of-words vectors so identical text
// always yields cosine similarity 1.0.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, 16)
	for _, tok := range memory.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%16]++
	}
	return memory.NormalizeVector(vec), nil
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (wordEmbedder) Dimensions() int { return 16 }
func (wordEmbedder) Close() error    { return nil }

func newTestStore(t *testing.T) (*Store, *memstore.Store, *scheduler.FakeClock) {
	t.Helper()
	mem := memstore.New()
	clock := scheduler.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	s, err := NewStore(&Config{
		Storage:  mem,
		Embedder: wordEmbedder{},
		Clock:    clock,
	})
	require.NoError(t, err)
	return s, mem, clock
}

func TestTierForImportance(t *testing.T) {
	tests := []struct {
		importance float64
		want       string
	}{
		{0.95, TierPersistent},
		{0.9, TierPersistent},
		{0.89, TierLongTerm},
		{0.7, TierLongTerm},
		{0.69, TierWorking},
		{0.5, TierWorking},
		{0.49, TierShortTerm},
		{0.3, TierShortTerm},
		{0.29, TierImmediate},
		{0.0, TierImmediate},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierForImportance(tt.importance), "importance %v", tt.importance)
	}
}

func TestAddMemoryPlacesByImportanceBand(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddMemory(ctx, &AddRequest{
		OwnerID:    "user-1",
		Type:       memory.TypeFact,
		Content:    "User works as a marine biologist.",
		Importance: 0.95,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	rec, err := mem.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TierPersistent, rec.Tier)
}

func TestAddMemoryPromotionCheck(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	// 0.85 lands in long-term by band, then the promotion check (>0.8)
	// moves it one tier forward.
	id, err := s.AddMemory(ctx, &AddRequest{
		OwnerID:    "user-1",
		Type:       memory.TypePreference,
		Content:    "Prefers responses in French.",
		Importance: 0.85,
	})
	require.NoError(t, err)

	rec, err := mem.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TierPersistent, rec.Tier)
}

func TestAddMemoryRejectsUnknownType(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.AddMemory(context.Background(), &AddRequest{
		OwnerID: "user-1",
		Type:    "rumor",
		Content: "something",
	})
	assert.Error(t, err)
}

func TestPromoteNeverMovesBackward(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddMemory(ctx, &AddRequest{
		OwnerID:    "user-1",
		Type:       memory.TypeFact,
		Content:    "Owns two cats.",
		Importance: 0.5,
	})
	require.NoError(t, err)

	assert.False(t, s.Promote(ctx, id, TierImmediate), "backward promotion must be a no-op")
	assert.False(t, s.Promote(ctx, id, TierWorking), "same-tier promotion must be a no-op")

	rec, err := mem.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TierWorking, rec.Tier)
}

func TestPromoteDefaultsToNextTier(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddMemory(ctx, &AddRequest{
		OwnerID:    "user-1",
		Type:       memory.TypeFact,
		Content:    "Allergic to peanuts.",
		Importance: 0.5,
	})
	require.NoError(t, err)

	assert.True(t, s.Promote(ctx, id, ""))

	rec, err := mem.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TierLongTerm, rec.Tier)
}

func TestPromoteAtCeilingIsNoOp(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddMemory(ctx, &AddRequest{
		OwnerID:    "user-1",
		Type:       memory.TypeFact,
		Content:    "Birthday is March 3rd.",
		Importance: 0.95,
	})
	require.NoError(t, err)

	assert.False(t, s.Promote(ctx, id, ""))
}

func TestDecayFactorStrictlyDecreasingInAge(t *testing.T) {
	cfg := DefaultScoreConfig()
	tier := Tier{Name: TierWorking, Retention: 7 * 24 * time.Hour}
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	prev := 1.1
	for _, age := range []time.Duration{0, time.Hour, 24 * time.Hour, 7 * 24 * time.Hour, 60 * 24 * time.Hour} {
		d := cfg.DecayFactor(tier, now.Add(-age), now)
		assert.Less(t, d, prev, "decay at age %v", age)
		assert.Greater(t, d, 0.0)
		prev = d
	}
}

func TestRetrieveIdenticalContentScoresNearOne(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	content := "The user is training for a marathon in April."
	_, err := s.AddMemory(ctx, &AddRequest{
		OwnerID:    "user-1",
		Type:       memory.TypeGoal,
		Content:    content,
		Importance: 0.6,
	})
	require.NoError(t, err)

	results := s.Retrieve(ctx, "user-1", content, nil)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Relevance, 1e-9)
}

func TestRetrieveWritesBackAccess(t *testing.T) {
	s, mem, clock := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddMemory(ctx, &AddRequest{
		OwnerID:    "user-1",
		Type:       memory.TypeFact,
		Content:    "Favorite editor is Neovim.",
		Importance: 0.4,
	})
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	results := s.Retrieve(ctx, "user-1", "what editor does the user like", nil)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Memory.AccessCount)

	rec, err := mem.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AccessCount)
	assert.Equal(t, clock.Now(), rec.LastAccessedAt)
}

func TestRetrieveTruncatesToMaxResults(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{
		"Enjoys hiking on weekends.",
		"Enjoys trail running.",
		"Enjoys cycling in the hills.",
		"Enjoys climbing at the gym.",
	} {
		_, err := s.AddMemory(ctx, &AddRequest{
			OwnerID:    "user-1",
			Type:       memory.TypePreference,
			Content:    content,
			Importance: 0.5,
		})
		require.NoError(t, err)
	}

	results := s.Retrieve(ctx, "user-1", "outdoor hobbies", &RetrieveOptions{MaxResults: 2})
	assert.Len(t, results, 2)
}

func TestStorageOutageDegradesToNoOp(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	mem.SetFail(true)

	id, err := s.AddMemory(ctx, &AddRequest{
		OwnerID:    "user-1",
		Type:       memory.TypeFact,
		Content:    "dropped on the floor",
		Importance: 0.5,
	})
	assert.NoError(t, err)
	assert.Zero(t, id, "write must be dropped, not errored")

	results := s.Retrieve(ctx, "user-1", "anything", nil)
	assert.Empty(t, results)

	assert.False(t, s.Promote(ctx, 42, ""))
}

func TestExpireSweepRemovesOnlyFiniteTiers(t *testing.T) {
	s, mem, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	stale := &storage.MemoryRecord{
		ID: 1, OwnerID: "user-1", Type: "fact", Content: "stale",
		Tier: TierImmediate, CreatedAt: now.Add(-2 * time.Hour),
		LastAccessedAt: now.Add(-2 * time.Hour),
	}
	durable := &storage.MemoryRecord{
		ID: 2, OwnerID: "user-1", Type: "fact", Content: "durable",
		Tier: TierPersistent, CreatedAt: now.Add(-400 * 24 * time.Hour),
		LastAccessedAt: now.Add(-400 * 24 * time.Hour),
	}
	fresh := &storage.MemoryRecord{
		ID: 3, OwnerID: "user-1", Type: "fact", Content: "fresh",
		Tier: TierImmediate, CreatedAt: now.Add(-10 * time.Minute),
		LastAccessedAt: now.Add(-10 * time.Minute),
	}
	require.NoError(t, mem.InsertMemories(ctx, []*storage.MemoryRecord{stale, durable, fresh}))

	deleted, err := s.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = mem.GetMemory(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = mem.GetMemory(ctx, 2)
	assert.NoError(t, err, "the unbounded tier is never swept by age")
	_, err = mem.GetMemory(ctx, 3)
	assert.NoError(t, err)
}

func TestExpireSweepTrimsPerOwnerOverflow(t *testing.T) {
	mem := memstore.New()
	clock := scheduler.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	s, err := NewStore(&Config{
		Storage:  mem,
		Embedder: wordEmbedder{},
		Tiers: []Tier{
			{Name: TierImmediate, Retention: time.Hour, MaxEntries: 2},
			{Name: TierPersistent},
		},
		Clock: clock,
	})
	require.NoError(t, err)

	ctx := context.Background()
	now := clock.Now()
	for i := int64(1); i <= 4; i++ {
		at := now.Add(-time.Duration(i) * time.Minute)
		require.NoError(t, mem.InsertMemory(ctx, &storage.MemoryRecord{
			ID: i, OwnerID: "user-1", Type: "fact", Content: "note",
			Tier:      TierImmediate,
			CreatedAt: at, LastAccessedAt: at,
		}))
	}
	// Accessing the oldest entry moves it to the front of the tier index.
	require.NoError(t, mem.TouchMemories(ctx, []int64{4}, now))

	deleted, err := s.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	// The two most recently used entries survive; the rest are trimmed.
	_, err = mem.GetMemory(ctx, 4)
	assert.NoError(t, err)
	_, err = mem.GetMemory(ctx, 1)
	assert.NoError(t, err)
	_, err = mem.GetMemory(ctx, 2)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = mem.GetMemory(ctx, 3)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRetrievePromotesFrequentlyUsed(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddMemory(ctx, &AddRequest{
		OwnerID:    "user-1",
		Type:       memory.TypePreference,
		Content:    "Prefers tea over coffee.",
		Importance: 0.4,
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.Len(t, s.Retrieve(ctx, "user-1", "tea or coffee", nil), 1)
	}
	rec, err := mem.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TierShortTerm, rec.Tier, "promotion waits for the access threshold")

	// The access that crosses the threshold promotes one tier forward.
	results := s.Retrieve(ctx, "user-1", "tea or coffee", nil)
	require.Len(t, results, 1)
	assert.Equal(t, TierWorking, results[0].Memory.Tier)

	rec, err = mem.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TierWorking, rec.Tier)
	assert.Equal(t, 11, rec.AccessCount)
}
