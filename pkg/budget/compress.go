package budget

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/omnix-ai/recall-go/pkg/llm"
	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/scheduler"
)

// compressionRatio is the share of the model window at which a conversation
// gets compressed.
const compressionRatio = 0.8

// defaultKeepRecent is how many trailing messages survive compression.
const defaultKeepRecent = 10

// Compressor summarizes over-long conversations into one synthetic system
// message.
type Compressor struct {
	llm        llm.Provider
	keepRecent int
	clock      scheduler.Clock
	logger     *logrus.Logger
}

// CompressorOption configures a Compressor.
type CompressorOption func(*Compressor)

// WithKeepRecent overrides how many trailing messages compression keeps.
func WithKeepRecent(n int) CompressorOption {
	return func(c *Compressor) { c.keepRecent = n }
}

// WithCompressorClock overrides the clock.
func WithCompressorClock(clock scheduler.Clock) CompressorOption {
	return func(c *Compressor) { c.clock = clock }
}

// WithCompressorLogger overrides the logger.
func WithCompressorLogger(logger *logrus.Logger) CompressorOption {
	return func(c *Compressor) { c.logger = logger }
}

// NewCompressor creates a Compressor backed by the given provider.
func NewCompressor(provider llm.Provider, opts ...CompressorOption) *Compressor {
	c := &Compressor{
		llm:        provider,
		keepRecent: defaultKeepRecent,
		clock:      scheduler.RealClock{},
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NeedsCompression reports whether the conversation's token count exceeds
// 80% of its model's context window.
func (c *Compressor) NeedsCompression(conv *memory.Conversation) bool {
	window := ModelContextWindow(conv.CurrentModel)
	return float64(conv.TokenCount) > compressionRatio*float64(window)
}

// Compress replaces all messages beyond the most recent keepRecent with one
// synthetic system message carrying their summary. The summary is also
// retained in the conversation metadata.
//
// A failed summarization call leaves the conversation unmodified for this
// cycle: the failure is logged and returned, never partially applied.
func (c *Compressor) Compress(ctx context.Context, conv *memory.Conversation) error {
	if !c.NeedsCompression(conv) {
		return nil
	}
	if len(conv.Messages) <= c.keepRecent {
		return nil
	}

	older := conv.Messages[:len(conv.Messages)-c.keepRecent]
	recent := conv.Messages[len(conv.Messages)-c.keepRecent:]

	summary, err := c.summarize(ctx, older)
	if err != nil {
		c.logger.WithField("conversation_id", conv.Ref.ConversationID).
			Warnf("compression failed, context unmodified: %v", err)
		return err
	}

	summaryMsg := memory.Message{
		Role:      "system",
		Content:   fmt.Sprintf("Summary of the earlier conversation: %s", summary),
		Synthetic: true,
		CreatedAt: c.clock.Now(),
	}

	conv.Messages = append([]memory.Message{summaryMsg}, recent...)
	conv.Summary = summary
	conv.TokenCount = EstimateMessageTokens(conv.Messages)
	conv.UpdatedAt = c.clock.Now()
	return nil
}

func (c *Compressor) summarize(ctx context.Context, msgs []memory.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range msgs {
		if m.Role == "system" && !m.Synthetic {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	prompt := fmt.Sprintf(`Summarize the following conversation in a compact paragraph.
Preserve every concrete fact about the user, their preferences, decisions made, and open questions.
Do not add commentary.

%s`, transcript.String())

	summary, err := c.llm.Generate(ctx, prompt,
		llm.WithTemperature(0.2), llm.WithMaxTokens(512))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("summarize: empty summary")
	}
	return summary, nil
}
