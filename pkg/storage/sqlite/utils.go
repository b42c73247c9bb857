package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/omnix-ai/recall-go/pkg/storage"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(s rowScanner) (*storage.MemoryRecord, error) {
	var rec storage.MemoryRecord
	var convID, entities, topics, consolidatedFrom sql.NullString
	var embedding string

	err := s.Scan(
		&rec.ID, &rec.OwnerID, &convID, &rec.Type, &rec.Content,
		&rec.Confidence, &rec.Importance, &embedding,
		&entities, &topics, &rec.Tier, &consolidatedFrom,
		&rec.CreatedAt, &rec.LastAccessedAt, &rec.AccessCount,
	)
	if err != nil {
		return nil, err
	}

	rec.ConversationID = convID.String
	if err := json.Unmarshal([]byte(embedding), &rec.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	rec.Entities = unmarshalStrings(entities.String)
	rec.Topics = unmarshalStrings(topics.String)
	rec.ConsolidatedFrom = unmarshalIDs(consolidatedFrom.String)
	return &rec, nil
}

func scanConversationVector(s rowScanner) (*storage.ConversationVector, error) {
	var vec storage.ConversationVector
	var threadID, topics sql.NullString
	var embedding string

	err := s.Scan(
		&vec.ID, &vec.OwnerID, &vec.ConversationID, &threadID, &vec.Role,
		&vec.Content, &embedding, &vec.Importance, &topics,
		&vec.AccessCount, &vec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	vec.ThreadID = threadID.String
	if err := json.Unmarshal([]byte(embedding), &vec.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	vec.Topics = unmarshalStrings(topics.String)
	return &vec, nil
}

func marshalStrings(v []string) string {
	if len(v) == 0 {
		return ""
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func marshalIDs(v []int64) string {
	if len(v) == 0 {
		return ""
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func unmarshalIDs(s string) []int64 {
	if s == "" {
		return nil
	}
	var out []int64
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func idArgs(ids []int64) (string, []interface{}) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return placeholders, args
}
