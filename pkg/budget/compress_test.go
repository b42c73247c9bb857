package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnix-ai/recall-go/pkg/cache"
	"github.com/omnix-ai/recall-go/pkg/llm"
	"github.com/omnix-ai/recall-go/pkg/memory"
)

type fakeSummarizer struct {
	summary string
	err     error
}

func (f *fakeSummarizer) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return f.summary, f.err
}

func (f *fakeSummarizer) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	return f.summary, f.err
}

func (f *fakeSummarizer) Close() error { return nil }

func bigConversation(messages int) *memory.Conversation {
	conv := &memory.Conversation{
		Ref:          memory.ConversationRef{OwnerID: "user-1", ConversationID: "conv-1"},
		CurrentModel: "gpt-4o",
	}
	for i := 0; i < messages; i++ {
		conv.Messages = append(conv.Messages, memory.Message{
			Role:    "user",
			Content: fmt.Sprintf("message number %d with some padding text", i),
		})
	}
	// Past 80% of the 128k window.
	conv.TokenCount = 110000
	return conv
}

func TestCompressKeepsRecentPlusSummary(t *testing.T) {
	c := NewCompressor(&fakeSummarizer{summary: "They discussed travel plans."})
	conv := bigConversation(30)

	require.NoError(t, c.Compress(context.Background(), conv))

	require.Len(t, conv.Messages, 11, "last 10 plus one synthetic summary message")
	assert.True(t, conv.Messages[0].Synthetic)
	assert.Equal(t, "system", conv.Messages[0].Role)
	assert.Contains(t, conv.Messages[0].Content, "They discussed travel plans.")
	assert.Equal(t, "They discussed travel plans.", conv.Summary, "summary retained in metadata")
	assert.Contains(t, conv.Messages[10].Content, "message number 29")
	assert.Less(t, conv.TokenCount, 110000)
}

func TestCompressBelowThresholdIsNoOp(t *testing.T) {
	c := NewCompressor(&fakeSummarizer{summary: "unused"})
	conv := bigConversation(30)
	conv.TokenCount = 1000

	require.NoError(t, c.Compress(context.Background(), conv))
	assert.Len(t, conv.Messages, 30)
	assert.Empty(t, conv.Summary)
}

func TestFailedCompressionLeavesContextUnmodified(t *testing.T) {
	c := NewCompressor(&fakeSummarizer{err: errors.New("provider down")})
	conv := bigConversation(30)

	err := c.Compress(context.Background(), conv)
	assert.Error(t, err)
	assert.Len(t, conv.Messages, 30)
	assert.Empty(t, conv.Summary)
	assert.Equal(t, 110000, conv.TokenCount)
}

func TestNeedsCompressionAtEightyPercent(t *testing.T) {
	c := NewCompressor(&fakeSummarizer{})

	conv := &memory.Conversation{CurrentModel: "gpt-4o", TokenCount: 102400}
	assert.False(t, c.NeedsCompression(conv), "exactly 80% does not trigger")

	conv.TokenCount = 102401
	assert.True(t, c.NeedsCompression(conv))
}

func TestFastPathEligible(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	fresh := func(n int, keywords ...string) *cache.Bundle {
		b := &cache.Bundle{Keywords: keywords, StoredAt: now}
		for i := 0; i < n; i++ {
			b.Memories = append(b.Memories, &memory.Memory{
				Content:        "m",
				CreatedAt:      now.Add(-10 * time.Minute),
				LastAccessedAt: now.Add(-10 * time.Minute),
			})
		}
		return b
	}

	t.Run("eligible", func(t *testing.T) {
		b := fresh(3, "travel", "japan", "flights")
		assert.True(t, FastPathEligible(b, "planning travel to Japan", now))
	})

	t.Run("too few memories", func(t *testing.T) {
		b := fresh(2, "travel", "japan")
		assert.False(t, FastPathEligible(b, "planning travel to Japan", now))
	})

	t.Run("stale", func(t *testing.T) {
		b := fresh(3, "travel", "japan")
		for _, m := range b.Memories {
			m.CreatedAt = now.Add(-2 * time.Hour)
			m.LastAccessedAt = now.Add(-2 * time.Hour)
		}
		assert.False(t, FastPathEligible(b, "planning travel to Japan", now))
	})

	t.Run("off topic", func(t *testing.T) {
		b := fresh(3, "cooking", "recipes")
		assert.False(t, FastPathEligible(b, "planning travel to Japan", now))
	})
}

func TestModelContextWindow(t *testing.T) {
	assert.Equal(t, 128000, ModelContextWindow("gpt-4o"))
	assert.Equal(t, 128000, ModelContextWindow("gpt-4o-mini"))
	assert.Equal(t, 8192, ModelContextWindow("some-unknown-model"))
}

func TestEstimateMessageTokens(t *testing.T) {
	msgs := []memory.Message{
		{Role: "user", Content: strings.Repeat("a", 40)},
		{Role: "assistant", Content: strings.Repeat("b", 40)},
	}
	assert.Equal(t, 28, EstimateMessageTokens(msgs))
}
