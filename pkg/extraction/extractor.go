// Package extraction turns raw conversation text into typed memory records.
//
// The pipeline half of the package schedules extraction work; the Extractor
// half calls the language model with a closed-vocabulary JSON contract and
// filters the output through quality heuristics and a confidence floor.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/omnix-ai/recall-go/pkg/llm"
	"github.com/omnix-ai/recall-go/pkg/memory"
)

// Candidate is one extracted memory before storage: the model's typed output
// plus derived metadata.
type Candidate struct {
	Type       memory.Type
	Content    string
	Confidence float64
	Importance float64
	Entities   []string
	Topics     []string
}

// Extractor extracts typed memories from conversation text.
//
// The model is asked for a JSON array of {type, content, confidence} objects
// with a closed type vocabulary. Malformed output yields zero memories, never
// an error; only a provider failure is an error.
type Extractor struct {
	llm    llm.Provider
	logger *logrus.Logger

	// floor discards candidates whose adjusted confidence falls below it.
	floor float64

	customPrompt string
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithConfidenceFloor overrides the default confidence floor (0.5).
// Useful values sit between 0.4 (permissive inline extraction) and 0.6
// (strict background extraction).
func WithConfidenceFloor(floor float64) ExtractorOption {
	return func(e *Extractor) { e.floor = floor }
}

// WithPrompt replaces the default system prompt.
func WithPrompt(prompt string) ExtractorOption {
	return func(e *Extractor) { e.customPrompt = prompt }
}

// WithExtractorLogger overrides the default logger.
func WithExtractorLogger(logger *logrus.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = logger }
}

// NewExtractor creates an Extractor backed by the given provider.
func NewExtractor(provider llm.Provider, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		llm:    provider,
		logger: logrus.StandardLogger(),
		floor:  0.5,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract runs one extraction call over text and returns the surviving
// candidates. A provider failure returns an error (the pipeline retries);
// unparseable model output returns an empty slice.
func (e *Extractor) Extract(ctx context.Context, text string) ([]*Candidate, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	messages := []llm.Message{
		{Role: "system", Content: e.systemPrompt()},
		{Role: "user", Content: fmt.Sprintf("Input:\n%s", text)},
	}
	response, err := e.llm.GenerateWithMessages(ctx, messages,
		llm.WithTemperature(0.1), llm.WithMaxTokens(1024))
	if err != nil {
		return nil, fmt.Errorf("extraction: %w", err)
	}

	raw := parseExtractionResponse(response)
	if raw == nil {
		e.logger.Debug("extraction: malformed model output, zero memories")
		return nil, nil
	}

	candidates := make([]*Candidate, 0, len(raw))
	for _, item := range raw {
		typ := memory.Type(strings.ToLower(strings.TrimSpace(item.Type)))
		content := strings.TrimSpace(item.Content)
		if content == "" || !memory.ValidType(typ) {
			continue
		}

		confidence := AdjustQuality(content, memory.Clamp01(item.Confidence))
		if confidence < e.floor {
			continue
		}

		candidates = append(candidates, &Candidate{
			Type:       typ,
			Content:    content,
			Confidence: confidence,
			Importance: importanceFor(typ, confidence),
			Entities:   ExtractEntities(content),
			Topics:     ExtractTopics(content),
		})
	}
	return candidates, nil
}

// rawCandidate is the wire shape of one model output item.
type rawCandidate struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// parseExtractionResponse parses the model's JSON array, tolerating markdown
// code fences. Returns nil when the output cannot be parsed.
func parseExtractionResponse(response string) []rawCandidate {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	response = strings.TrimSpace(response)

	var items []rawCandidate
	if err := json.Unmarshal([]byte(response), &items); err != nil {
		return nil
	}
	return items
}

func (e *Extractor) systemPrompt() string {
	if e.customPrompt != "" {
		return e.customPrompt
	}
	return defaultExtractionPrompt
}

const defaultExtractionPrompt = `You are a memory extraction system. Extract durable, self-contained memories about the user from the conversation below.

Each memory must be one of these types: preference, fact, skill, goal, topic, question, knowledge, context.

Rules:
1. COMPLETE: each memory must stand alone, with who/what/when/where when available.
2. SEPARATE: extract distinct memories separately, never combined.
3. TEMPORAL: keep time references ("yesterday", "in May 2023") inside the content.
4. CONFIDENCE: rate how certain the conversation makes each memory, from 0.0 to 1.0.
5. Skip small talk, one-off requests, and anything about the assistant itself.

Return ONLY a JSON array, no prose:
[{"type": "fact", "content": "Lives in Paris", "confidence": 0.9}]

If nothing is worth remembering, return [].`

// importanceFor derives storage importance from the memory type and the
// extraction confidence. Type sets the base band; confidence shifts it.
func importanceFor(typ memory.Type, confidence float64) float64 {
	base := 0.5
	switch typ {
	case memory.TypePreference, memory.TypeGoal:
		base = 0.7
	case memory.TypeFact, memory.TypeSkill:
		base = 0.6
	case memory.TypeKnowledge:
		base = 0.5
	case memory.TypeTopic:
		base = 0.4
	case memory.TypeQuestion, memory.TypeContext:
		base = 0.3
	}
	return memory.Clamp01(base + (confidence-0.5)*0.2)
}

// ExtractEntities returns capitalized tokens that look like named entities.
// The first word of each sentence only counts when it appears capitalized
// elsewhere too, which filters ordinary sentence-initial capitalization.
func ExtractEntities(content string) []string {
	words := strings.Fields(content)
	counts := make(map[string]int)
	var order []string

	for i, w := range words {
		w = strings.Trim(w, ".,!?;:'\"()")
		if len(w) < 2 || w[0] < 'A' || w[0] > 'Z' {
			continue
		}
		if _, seen := counts[w]; !seen {
			counts[w] = 0
			order = append(order, w)
		}
		// Sentence-initial capitals are ambiguous, so they don't count.
		if i > 0 && !strings.HasSuffix(words[i-1], ".") {
			counts[w]++
		}
	}

	var out []string
	for _, w := range order {
		if counts[w] > 0 {
			out = append(out, w)
		}
	}
	return out
}

// ExtractTopics returns up to five topic keywords for the content.
func ExtractTopics(content string) []string {
	keywords := memory.Keywords(content)
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	return keywords
}
