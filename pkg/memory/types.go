// Package memory defines the domain types shared by the recall memory core:
// typed memories, conversation contexts, and transient retrieval results.
package memory

import "time"

// Type classifies what kind of information a memory carries.
//
// The type vocabulary is closed: extraction rejects anything outside this set
// at ingestion time.
type Type string

const (
	TypePreference Type = "preference"
	TypeFact       Type = "fact"
	TypeSkill      Type = "skill"
	TypeGoal       Type = "goal"
	TypeTopic      Type = "topic"
	TypeQuestion   Type = "question"
	TypeKnowledge  Type = "knowledge"
	TypeContext    Type = "context"
)

// ValidType reports whether t is a member of the closed type vocabulary.
func ValidType(t Type) bool {
	switch t {
	case TypePreference, TypeFact, TypeSkill, TypeGoal,
		TypeTopic, TypeQuestion, TypeKnowledge, TypeContext:
		return true
	}
	return false
}

// Memory is a single extracted memory record.
//
// Confidence and Importance are always clamped to [0,1]; Embedding length is
// constant per deployment; Tier is always a member of the configured tier set.
type Memory struct {
	// ID is the unique identifier of the memory.
	ID int64 `json:"id"`

	// OwnerID identifies the user who owns this memory.
	OwnerID string `json:"owner_id"`

	// ConversationID identifies the conversation the memory was extracted
	// from (empty for user-global memories).
	ConversationID string `json:"conversation_id,omitempty"`

	// Type is the memory classification (preference, fact, skill, ...).
	Type Type `json:"type"`

	// Content is the text content of the memory.
	Content string `json:"content"`

	// Confidence is the extraction confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Importance drives tier placement and promotion, in [0,1].
	Importance float64 `json:"importance"`

	// Embedding is the vector representation for similarity search.
	// Omitted from JSON to reduce payload size.
	Embedding []float64 `json:"embedding,omitempty"`

	// Entities and Topics are structured metadata extracted alongside the
	// content, used by consolidation and the fast-path cache.
	Entities []string `json:"entities,omitempty"`
	Topics   []string `json:"topics,omitempty"`

	// Tier names the retention tier currently holding this memory.
	Tier string `json:"tier"`

	// ConsolidatedFrom records the ids merged into this memory, if any.
	ConsolidatedFrom []int64 `json:"consolidated_from,omitempty"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt is when the memory last surfaced in a retrieval.
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// AccessCount is how many times the memory has surfaced in retrievals.
	AccessCount int `json:"access_count"`
}

// ConversationRef is the structured identifier of a conversation, minted at
// conversation creation. It replaces string-prefix chat-id parsing: the three
// fields are always distinct and never reconstructed from a composite key.
type ConversationRef struct {
	OwnerID        string `json:"owner_id"`
	ConversationID string `json:"conversation_id"`
	ThreadID       string `json:"thread_id,omitempty"`
}

// Message is a single turn in a conversation.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Synthetic marks messages minted by the system, such as the summary
	// message produced by compression.
	Synthetic bool `json:"synthetic,omitempty"`

	// CreatedAt is when the message was appended.
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is the live context of one conversation, owned exclusively by
// Ref.OwnerID. Each appended message mutates TokenCount and may trigger
// compression.
type Conversation struct {
	Ref           ConversationRef `json:"ref"`
	Title         string          `json:"title,omitempty"`
	Messages      []Message       `json:"messages"`
	CurrentModel  string          `json:"current_model"`
	TokenCount    int             `json:"token_count"`
	Summary       string          `json:"summary,omitempty"`
	MemoryEnabled bool            `json:"memory_enabled"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RetrievalResult is the transient, per-query scoring of one candidate.
// It is never persisted and is recomputed on every query.
type RetrievalResult struct {
	// Memory is the scored candidate.
	Memory *Memory

	// Relevance is the raw cosine similarity against the query embedding,
	// before any boost is applied.
	Relevance float64

	// DecayFactor is the age-based multiplier in [0,1].
	DecayFactor float64

	// RecencyBoost rewards recently accessed memories.
	RecencyBoost float64

	// UsageBoost rewards frequently accessed memories.
	UsageBoost float64

	// FinalScore is the ranking key: relevance×decay plus boosts.
	FinalScore float64

	// Source names the tier or collection the candidate came from, for
	// example "working" or "conversation".
	Source string
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
