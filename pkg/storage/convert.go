package storage

import "github.com/omnix-ai/recall-go/pkg/memory"

// ToMemory converts a stored record into the domain type.
func ToMemory(rec *MemoryRecord) *memory.Memory {
	return &memory.Memory{
		ID:               rec.ID,
		OwnerID:          rec.OwnerID,
		ConversationID:   rec.ConversationID,
		Type:             memory.Type(rec.Type),
		Content:          rec.Content,
		Confidence:       rec.Confidence,
		Importance:       rec.Importance,
		Embedding:        rec.Embedding,
		Entities:         rec.Entities,
		Topics:           rec.Topics,
		Tier:             rec.Tier,
		ConsolidatedFrom: rec.ConsolidatedFrom,
		CreatedAt:        rec.CreatedAt,
		LastAccessedAt:   rec.LastAccessedAt,
		AccessCount:      rec.AccessCount,
	}
}
