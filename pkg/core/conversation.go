package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/omnix-ai/recall-go/pkg/budget"
	"github.com/omnix-ai/recall-go/pkg/cache"
	"github.com/omnix-ai/recall-go/pkg/extraction"
	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/storage"
)

// CreateConversation mints a new conversation for an owner. The structured
// reference (owner, conversation, thread) is created here and never parsed
// back out of a composite key.
func (s *Service) CreateConversation(ctx context.Context, ownerID, title, model string) (*memory.Conversation, error) {
	if ownerID == "" {
		return nil, NewMemoryError("CreateConversation", ErrInvalidInput)
	}
	if model == "" {
		model = s.cfg.LLM.Model
	}

	now := s.clock.Now()
	conv := &memory.Conversation{
		Ref: memory.ConversationRef{
			OwnerID:        ownerID,
			ConversationID: uuid.NewString(),
			ThreadID:       uuid.NewString(),
		},
		Title:         title,
		CurrentModel:  model,
		MemoryEnabled: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	s.conversations[conversationKey(conv.Ref)] = conv
	s.mu.Unlock()
	return conv, nil
}

// GetConversation returns the live conversation for ref.
func (s *Service) GetConversation(ref memory.ConversationRef) (*memory.Conversation, error) {
	s.mu.RLock()
	conv, ok := s.conversations[conversationKey(ref)]
	s.mu.RUnlock()
	if !ok {
		return nil, NewMemoryError("GetConversation", ErrConversationNotFound)
	}
	return conv, nil
}

// RecordTurn appends one message to a conversation and feeds the memory
// machinery: the message is embedded and persisted as a conversation vector
// (best-effort), extraction is enqueued, and the conversation is compressed
// when it outgrows its model window.
//
// The persistence steps are independently best-effort, not atomic: a failed
// vector write or extraction never fails the turn.
func (s *Service) RecordTurn(ctx context.Context, ref memory.ConversationRef, role, content string) error {
	conv, err := s.GetConversation(ref)
	if err != nil {
		return err
	}
	if role != "user" && role != "assistant" && role != "system" {
		return NewMemoryError("RecordTurn", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role))
	}

	now := s.clock.Now()
	msg := memory.Message{Role: role, Content: content, CreatedAt: now}

	s.mu.Lock()
	conv.Messages = append(conv.Messages, msg)
	conv.TokenCount += budget.EstimateTokens(content) + 4
	conv.UpdatedAt = now
	needsCompression := s.compressor.NeedsCompression(conv)
	s.mu.Unlock()

	if conv.MemoryEnabled && role != "system" {
		s.persistTurnVector(conv, msg)
		s.enqueueTurnExtraction(ctx, conv, role, content)
	}

	if needsCompression {
		s.compressConversation(ctx, conv)
	}
	return nil
}

// compressConversation summarizes the conversation's older messages. The
// summarization call runs against a snapshot outside the service lock, so
// one owner's compression never stalls unrelated operations; the compressed
// history is swapped in afterwards, keeping any turns recorded in the
// meantime.
func (s *Service) compressConversation(ctx context.Context, conv *memory.Conversation) {
	s.mu.RLock()
	snapshot := *conv
	snapshot.Messages = append([]memory.Message(nil), conv.Messages...)
	s.mu.RUnlock()
	taken := len(snapshot.Messages)

	if err := s.compressor.Compress(ctx, &snapshot); err != nil {
		// Compression failures leave the context unmodified; the next turn
		// retries naturally.
		s.logger.WithField("conversation_id", conv.Ref.ConversationID).
			Warnf("compression deferred: %v", err)
		return
	}

	s.mu.Lock()
	appended := conv.Messages[taken:]
	conv.Messages = append(snapshot.Messages, appended...)
	conv.Summary = snapshot.Summary
	conv.TokenCount = snapshot.TokenCount + budget.EstimateMessageTokens(appended)
	conv.UpdatedAt = snapshot.UpdatedAt
	s.mu.Unlock()
}

// persistTurnVector embeds the message and stores it as a conversation
// vector through the best-effort side-write primitive.
func (s *Service) persistTurnVector(conv *memory.Conversation, msg memory.Message) {
	ref := conv.Ref
	embedderProvider := s.embedder
	store := s.storage

	cache.BestEffort(s.logger, "conversation_vector_write", 0, func(ctx context.Context) error {
		vec, err := embedderProvider.Embed(ctx, msg.Content)
		if err != nil {
			return err
		}
		return store.AppendConversationVector(ctx, &storage.ConversationVector{
			OwnerID:        ref.OwnerID,
			ConversationID: ref.ConversationID,
			ThreadID:       ref.ThreadID,
			Role:           msg.Role,
			Content:        msg.Content,
			Embedding:      vec,
			Topics:         memory.Keywords(msg.Content),
			CreatedAt:      msg.CreatedAt,
		})
	})
}

// enqueueTurnExtraction routes the turn into the extraction pipeline. User
// turns carry more durable information than assistant turns, so they queue
// at medium priority and assistant turns at low.
func (s *Service) enqueueTurnExtraction(ctx context.Context, conv *memory.Conversation, role, content string) {
	priority := extraction.PriorityLow
	if role == "user" {
		priority = extraction.PriorityMedium
	}
	s.pipeline.Enqueue(ctx, conv.Ref.OwnerID, conv.Ref.ConversationID, content, priority)
}

// SetMemoryEnabled toggles memory capture for one conversation.
func (s *Service) SetMemoryEnabled(ref memory.ConversationRef, enabled bool) error {
	conv, err := s.GetConversation(ref)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conv.MemoryEnabled = enabled
	s.mu.Unlock()
	return nil
}

func conversationKey(ref memory.ConversationRef) string {
	return ref.OwnerID + ":" + ref.ConversationID
}
