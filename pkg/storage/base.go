// Package storage defines the document/vector store contract the memory core
// persists into, along with the record types it stores.
//
// The logical layout is three collections: user-memories (flat typed memory
// records with embeddings), conversation-vectors (per-message embeddings with
// conversation metadata), and a tiered-memory-index (per-owner, per-tier
// recency-sorted id index kept separate from payload storage).
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: record not found")

// MemoryRecord is a user-memory row. Types here stay close to the database
// shape; the core package converts to and from domain memories.
type MemoryRecord struct {
	ID               int64
	OwnerID          string
	ConversationID   string
	Type             string
	Content          string
	Confidence       float64
	Importance       float64
	Embedding        []float64
	Entities         []string
	Topics           []string
	Tier             string
	ConsolidatedFrom []int64
	CreatedAt        time.Time
	LastAccessedAt   time.Time
	AccessCount      int

	// Score is the similarity score attached by Search. Never persisted.
	Score float64
}

// ConversationVector is a conversation-vectors row: one embedded message
// with its conversation metadata.
type ConversationVector struct {
	ID             int64
	OwnerID        string
	ConversationID string
	ThreadID       string
	Role           string
	Content        string
	Embedding      []float64
	Importance     float64
	Topics         []string
	AccessCount    int
	CreatedAt      time.Time

	// Score is the similarity score attached by Search. Never persisted.
	Score float64
}

// SearchOptions filters a memory similarity search.
type SearchOptions struct {
	// OwnerID scopes the search (required; there is no cross-owner search).
	OwnerID string

	// Tier restricts the search to one tier. Empty searches all tiers.
	Tier string

	// Limit bounds the number of results (0 = no bound).
	Limit int

	// MinScore drops candidates below this similarity.
	MinScore float64

	// CreatedAfter, when set, restricts to memories created in the window.
	CreatedAfter time.Time
}

// ListOptions filters a non-similarity listing.
type ListOptions struct {
	OwnerID string
	Tier    string
	Limit   int
	Offset  int

	// CreatedBefore, when set, restricts to records older than the cutoff.
	// Used by the expiration sweep.
	CreatedBefore time.Time
}

// ConversationSearchOptions filters a conversation-vector search.
type ConversationSearchOptions struct {
	// OwnerID scopes the search (required).
	OwnerID string

	// MaxConversations bounds how many recent conversations contribute
	// candidates (the plan-dependent limit). 0 = no bound.
	MaxConversations int

	// Limit bounds the number of returned vectors (0 = no bound).
	Limit int

	// MinScore drops candidates below this similarity.
	MinScore float64
}

// Store is the owner-scoped document/vector store.
//
// All writes are at-most-once: callers treat failures as dropped writes, not
// retryable transactions. Multi-record operations are batched at the backend
// where the engine allows it.
type Store interface {
	// InsertMemory inserts one memory record and updates the tier index.
	InsertMemory(ctx context.Context, rec *MemoryRecord) error

	// InsertMemories inserts a batch of memory records.
	InsertMemories(ctx context.Context, recs []*MemoryRecord) error

	// GetMemory returns the record with the given id, or ErrNotFound.
	GetMemory(ctx context.Context, id int64) (*MemoryRecord, error)

	// DeleteMemories deletes the given ids (batched) and their index rows.
	// Missing ids are ignored.
	DeleteMemories(ctx context.Context, ids []int64) error

	// SearchMemories runs a similarity search over user-memories, returning
	// records ordered by descending Score.
	SearchMemories(ctx context.Context, embedding []float64, opts *SearchOptions) ([]*MemoryRecord, error)

	// ListMemories lists records by recency (most recent first).
	ListMemories(ctx context.Context, opts *ListOptions) ([]*MemoryRecord, error)

	// CountMemories counts an owner's records in one tier.
	CountMemories(ctx context.Context, ownerID, tier string) (int, error)

	// TouchMemories records an access: increments AccessCount and sets
	// LastAccessedAt for every id, refreshing the tier index recency.
	TouchMemories(ctx context.Context, ids []int64, at time.Time) error

	// TierIndex returns an owner's memory ids in one tier, most recently
	// touched first. Reads the index collection, not the payloads.
	TierIndex(ctx context.Context, ownerID, tier string, limit int) ([]int64, error)

	// AppendConversationVector stores one embedded conversation message.
	AppendConversationVector(ctx context.Context, vec *ConversationVector) error

	// SearchConversationVectors runs a similarity search over the owner's
	// recent conversations, ordered by descending Score.
	SearchConversationVectors(ctx context.Context, embedding []float64, opts *ConversationSearchOptions) ([]*ConversationVector, error)

	// PruneConversationVectors deletes an owner's conversation vectors older
	// than the cutoff, returning the number removed.
	PruneConversationVectors(ctx context.Context, ownerID string, before time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}
