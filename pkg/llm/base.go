// Package llm defines the language-generation capability consumed by the
// memory core for extraction, summarization, and quality analysis.
//
// The core always calls providers in low-temperature, bounded-output mode;
// the defaults below reflect that.
package llm

import "context"

// Provider is the language-generation capability.
type Provider interface {
	// Generate produces text from a single prompt.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// GenerateWithMessages produces text from a conversation history
	// (system, user, and assistant messages).
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	// Close releases provider resources.
	Close() error
}

// Message is a single message in a generation request.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// GenerateOptions holds generation parameters.
type GenerateOptions struct {
	// Temperature controls randomness. The core defaults to 0.2 to keep
	// extraction output parseable.
	Temperature float64

	// MaxTokens bounds the response length.
	MaxTokens int

	// TopP controls nucleus sampling.
	TopP float64

	// Stop lists sequences that end generation.
	Stop []string
}

// GenerateOption configures a generation request.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) { o.Temperature = temp }
}

// WithMaxTokens bounds the response length in tokens.
func WithMaxTokens(max int) GenerateOption {
	return func(o *GenerateOptions) { o.MaxTokens = max }
}

// WithTopP sets the nucleus-sampling parameter.
func WithTopP(topP float64) GenerateOption {
	return func(o *GenerateOptions) { o.TopP = topP }
}

// WithStop sets stop sequences.
func WithStop(stop ...string) GenerateOption {
	return func(o *GenerateOptions) { o.Stop = stop }
}

// ApplyGenerateOptions resolves option functions against the defaults
// (Temperature=0.2, MaxTokens=1024, TopP=1.0).
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: 0.2,
		MaxTokens:   1024,
		TopP:        1.0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
