package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

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
		&rec.CreatedAt, &rec.LastAccessedAt, &rec.AccessCount, &rec.Score,
	)
	if err != nil {
		return nil, err
	}

	rec.ConversationID = convID.String
	rec.Embedding, err = parseVector(embedding)
	if err != nil {
		return nil, err
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
		&vec.AccessCount, &vec.CreatedAt, &vec.Score,
	)
	if err != nil {
		return nil, err
	}

	vec.ThreadID = threadID.String
	vec.Embedding, err = parseVector(embedding)
	if err != nil {
		return nil, err
	}
	vec.Topics = unmarshalStrings(topics.String)
	return &vec, nil
}

// vectorToString renders a pgvector literal: "[0.1,0.2,...]".
func vectorToString(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector: %w", err)
		}
		out[i] = f
	}
	return out, nil
}

func jsonStrings(v []string) interface{} {
	if len(v) == 0 {
		return nil
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

func jsonIDs(v []int64) interface{} {
	if len(v) == 0 {
		return nil
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

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func int64Array(ids []int64) interface{} {
	return pq.Array(ids)
}
