// Package postgres implements storage.Store on PostgreSQL with the pgvector
// extension. Similarity is computed database-side through the cosine
// distance operator, so searches stay index-friendly at scale.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/omnix-ai/recall-go/pkg/storage"
)

// Client implements storage.Store using PostgreSQL + pgvector.
type Client struct {
	db         *sql.DB
	dimensions int
}

// Config configures a PostgreSQL store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	// EmbeddingDims is the fixed embedding length for the vector columns.
	EmbeddingDims int
}

// NewClient connects to PostgreSQL and prepares the schema.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	c := &Client{db: db, dimensions: cfg.EmbeddingDims}
	if err := c.initTables(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("postgres: create extension: %w", err)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_memories (
			id BIGINT PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			conversation_id VARCHAR(255),
			type VARCHAR(32) NOT NULL,
			content TEXT NOT NULL,
			confidence FLOAT NOT NULL DEFAULT 0,
			importance FLOAT NOT NULL DEFAULT 0,
			embedding vector(%d) NOT NULL,
			entities JSONB,
			topics JSONB,
			tier VARCHAR(32) NOT NULL,
			consolidated_from JSONB,
			created_at TIMESTAMP NOT NULL,
			last_accessed_at TIMESTAMP NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0
		)`, c.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_user_memories_owner_tier
			ON user_memories(owner_id, tier)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversation_vectors (
			id BIGSERIAL PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			conversation_id VARCHAR(255) NOT NULL,
			thread_id VARCHAR(255),
			role VARCHAR(32) NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			importance FLOAT NOT NULL DEFAULT 0,
			topics JSONB,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`, c.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_conversation_vectors_owner
			ON conversation_vectors(owner_id, conversation_id)`,
		`CREATE TABLE IF NOT EXISTS tiered_memory_index (
			memory_id BIGINT PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			tier VARCHAR(32) NOT NULL,
			touched_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tiered_memory_index_owner_tier
			ON tiered_memory_index(owner_id, tier, touched_at)`,
	}

	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init tables: %w", err)
		}
	}
	return nil
}

// InsertMemory inserts one memory record and its tier-index row.
func (c *Client) InsertMemory(ctx context.Context, rec *storage.MemoryRecord) error {
	return c.InsertMemories(ctx, []*storage.MemoryRecord{rec})
}

// InsertMemories inserts a batch of records inside one transaction.
func (c *Client) InsertMemories(ctx context.Context, recs []*storage.MemoryRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_memories
			(id, owner_id, conversation_id, type, content, confidence, importance,
			 embedding, entities, topics, tier, consolidated_from,
			 created_at, last_accessed_at, access_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9, $10, $11, $12, $13, $14, $15)`,
			rec.ID, rec.OwnerID, nullString(rec.ConversationID), rec.Type, rec.Content,
			rec.Confidence, rec.Importance, vectorToString(rec.Embedding),
			jsonStrings(rec.Entities), jsonStrings(rec.Topics),
			rec.Tier, jsonIDs(rec.ConsolidatedFrom),
			rec.CreatedAt, rec.LastAccessedAt, rec.AccessCount,
		); err != nil {
			return fmt.Errorf("postgres: insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tiered_memory_index (memory_id, owner_id, tier, touched_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (memory_id) DO UPDATE SET tier = $3, touched_at = $4`,
			rec.ID, rec.OwnerID, rec.Tier, rec.LastAccessedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: insert: %w", err)
	}
	return nil
}

// GetMemory returns one record by id.
func (c *Client) GetMemory(ctx context.Context, id int64) (*storage.MemoryRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, owner_id, conversation_id, type, content, confidence, importance,
		       embedding::text, entities, topics, tier, consolidated_from,
		       created_at, last_accessed_at, access_count, 0::float AS score
		FROM user_memories WHERE id = $1`, id)

	rec, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get: %w", err)
	}
	return rec, nil
}

// DeleteMemories deletes the given ids and their index rows.
func (c *Client) DeleteMemories(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM user_memories WHERE id = ANY($1)", int64Array(ids)); err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM tiered_memory_index WHERE memory_id = ANY($1)", int64Array(ids)); err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	return nil
}

// SearchMemories performs similarity search using the pgvector cosine
// distance operator. Score = 1 - cosine_distance.
func (c *Client) SearchMemories(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.MemoryRecord, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	query := `
		SELECT id, owner_id, conversation_id, type, content, confidence, importance,
		       embedding::text, entities, topics, tier, consolidated_from,
		       created_at, last_accessed_at, access_count,
		       1 - (embedding <=> $1::vector) AS score
		FROM user_memories
		WHERE owner_id = $2`
	args := []interface{}{vectorToString(embedding), opts.OwnerID}
	argIdx := 3

	if opts.Tier != "" {
		query += fmt.Sprintf(" AND tier = $%d", argIdx)
		args = append(args, opts.Tier)
		argIdx++
	}
	if !opts.CreatedAfter.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, opts.CreatedAfter)
		argIdx++
	}
	if opts.MinScore > 0 {
		query += fmt.Sprintf(" AND 1 - (embedding <=> $1::vector) >= $%d", argIdx)
		args = append(args, opts.MinScore)
		argIdx++
	}

	query += " ORDER BY score DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*storage.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: search: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListMemories lists records most recent first.
func (c *Client) ListMemories(ctx context.Context, opts *storage.ListOptions) ([]*storage.MemoryRecord, error) {
	if opts == nil {
		opts = &storage.ListOptions{}
	}

	query := `
		SELECT id, owner_id, conversation_id, type, content, confidence, importance,
		       embedding::text, entities, topics, tier, consolidated_from,
		       created_at, last_accessed_at, access_count, 0::float AS score
		FROM user_memories WHERE 1=1`
	var args []interface{}
	argIdx := 1

	if opts.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, opts.OwnerID)
		argIdx++
	}
	if opts.Tier != "" {
		query += fmt.Sprintf(" AND tier = $%d", argIdx)
		args = append(args, opts.Tier)
		argIdx++
	}
	if !opts.CreatedBefore.IsZero() {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, opts.CreatedBefore)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*storage.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CountMemories counts an owner's records in one tier.
func (c *Client) CountMemories(ctx context.Context, ownerID, tier string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_memories WHERE owner_id = $1 AND tier = $2",
		ownerID, tier).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

// TouchMemories records accesses and refreshes tier-index recency.
func (c *Client) TouchMemories(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: touch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_memories
		SET access_count = access_count + 1, last_accessed_at = $1
		WHERE id = ANY($2)`, at, int64Array(ids)); err != nil {
		return fmt.Errorf("postgres: touch: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tiered_memory_index SET touched_at = $1 WHERE memory_id = ANY($2)`,
		at, int64Array(ids)); err != nil {
		return fmt.Errorf("postgres: touch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: touch: %w", err)
	}
	return nil
}

// TierIndex returns an owner's memory ids in one tier, most recently touched
// first.
func (c *Client) TierIndex(ctx context.Context, ownerID, tier string, limit int) ([]int64, error) {
	query := `
		SELECT memory_id FROM tiered_memory_index
		WHERE owner_id = $1 AND tier = $2
		ORDER BY touched_at DESC`
	args := []interface{}{ownerID, tier}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: tier index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: tier index: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendConversationVector stores one embedded conversation message.
func (c *Client) AppendConversationVector(ctx context.Context, vec *storage.ConversationVector) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO conversation_vectors
		(owner_id, conversation_id, thread_id, role, content, embedding,
		 importance, topics, access_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8, $9, $10)`,
		vec.OwnerID, vec.ConversationID, nullString(vec.ThreadID), vec.Role,
		vec.Content, vectorToString(vec.Embedding), vec.Importance,
		jsonStrings(vec.Topics), vec.AccessCount, vec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append vector: %w", err)
	}
	return nil
}

// SearchConversationVectors performs similarity search over the owner's most
// recent conversations.
func (c *Client) SearchConversationVectors(ctx context.Context, embedding []float64, opts *storage.ConversationSearchOptions) ([]*storage.ConversationVector, error) {
	if opts == nil {
		opts = &storage.ConversationSearchOptions{}
	}

	query := `
		SELECT id, owner_id, conversation_id, thread_id, role, content,
		       embedding::text, importance, topics, access_count, created_at,
		       1 - (embedding <=> $1::vector) AS score
		FROM conversation_vectors
		WHERE owner_id = $2`
	args := []interface{}{vectorToString(embedding), opts.OwnerID}
	argIdx := 3

	if opts.MaxConversations > 0 {
		query += fmt.Sprintf(` AND conversation_id IN (
			SELECT conversation_id FROM conversation_vectors
			WHERE owner_id = $2
			GROUP BY conversation_id
			ORDER BY MAX(created_at) DESC
			LIMIT $%d)`, argIdx)
		args = append(args, opts.MaxConversations)
		argIdx++
	}
	if opts.MinScore > 0 {
		query += fmt.Sprintf(" AND 1 - (embedding <=> $1::vector) >= $%d", argIdx)
		args = append(args, opts.MinScore)
		argIdx++
	}

	query += " ORDER BY score DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var vecs []*storage.ConversationVector
	for rows.Next() {
		vec, err := scanConversationVector(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: search vectors: %w", err)
		}
		vecs = append(vecs, vec)
	}
	return vecs, rows.Err()
}

// PruneConversationVectors deletes an owner's vectors older than the cutoff.
func (c *Client) PruneConversationVectors(ctx context.Context, ownerID string, before time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM conversation_vectors WHERE owner_id = $1 AND created_at < $2",
		ownerID, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune vectors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: prune vectors: %w", err)
	}
	return int(n), nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
