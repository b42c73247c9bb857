// Package sqlite implements storage.Store on SQLite.
//
// SQLite has no native vector operations, so embeddings are stored as JSON
// text and similarity is computed in memory after loading the candidate
// rows. Suitable for local development and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/omnix-ai/recall-go/pkg/memory"
	"github.com/omnix-ai/recall-go/pkg/storage"
)

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	db *sql.DB
}

// Config configures a SQLite store.
type Config struct {
	// DBPath is the path to the database file.
	DBPath string
}

// NewClient opens (creating if needed) the SQLite store at cfg.DBPath.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	c := &Client{db: db}
	if err := c.initTables(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_memories (
			id INTEGER PRIMARY KEY,
			owner_id TEXT NOT NULL,
			conversation_id TEXT,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			importance REAL NOT NULL DEFAULT 0,
			embedding TEXT NOT NULL,
			entities TEXT,
			topics TEXT,
			tier TEXT NOT NULL,
			consolidated_from TEXT,
			created_at DATETIME NOT NULL,
			last_accessed_at DATETIME NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_memories_owner_tier
			ON user_memories(owner_id, tier)`,
		`CREATE TABLE IF NOT EXISTS conversation_vectors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			thread_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0,
			topics TEXT,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_vectors_owner
			ON conversation_vectors(owner_id, conversation_id)`,
		`CREATE TABLE IF NOT EXISTS tiered_memory_index (
			memory_id INTEGER PRIMARY KEY,
			owner_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			touched_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tiered_memory_index_owner_tier
			ON tiered_memory_index(owner_id, tier, touched_at)`,
	}

	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init tables: %w", err)
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
		return fmt.Errorf("sqlite: insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	memStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO user_memories
		(id, owner_id, conversation_id, type, content, confidence, importance,
		 embedding, entities, topics, tier, consolidated_from,
		 created_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: insert: %w", err)
	}
	defer func() { _ = memStmt.Close() }()

	idxStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO tiered_memory_index
		(memory_id, owner_id, tier, touched_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: insert: %w", err)
	}
	defer func() { _ = idxStmt.Close() }()

	for _, rec := range recs {
		embJSON, err := json.Marshal(rec.Embedding)
		if err != nil {
			return fmt.Errorf("sqlite: insert: %w", err)
		}
		if _, err := memStmt.ExecContext(ctx,
			rec.ID, rec.OwnerID, rec.ConversationID, rec.Type, rec.Content,
			rec.Confidence, rec.Importance, string(embJSON),
			marshalStrings(rec.Entities), marshalStrings(rec.Topics),
			rec.Tier, marshalIDs(rec.ConsolidatedFrom),
			rec.CreatedAt, rec.LastAccessedAt, rec.AccessCount,
		); err != nil {
			return fmt.Errorf("sqlite: insert: %w", err)
		}
		if _, err := idxStmt.ExecContext(ctx, rec.ID, rec.OwnerID, rec.Tier, rec.LastAccessedAt); err != nil {
			return fmt.Errorf("sqlite: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: insert: %w", err)
	}
	return nil
}

// GetMemory returns one record by id.
func (c *Client) GetMemory(ctx context.Context, id int64) (*storage.MemoryRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, owner_id, conversation_id, type, content, confidence, importance,
		       embedding, entities, topics, tier, consolidated_from,
		       created_at, last_accessed_at, access_count
		FROM user_memories WHERE id = ?`, id)

	rec, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get: %w", err)
	}
	return rec, nil
}

// DeleteMemories deletes the given ids and their index rows. Missing ids are
// ignored.
func (c *Client) DeleteMemories(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders, args := idArgs(ids)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM user_memories WHERE id IN (%s)", placeholders), args...); err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM tiered_memory_index WHERE memory_id IN (%s)", placeholders), args...); err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	return nil
}

// SearchMemories performs similarity search with in-memory cosine scoring.
func (c *Client) SearchMemories(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.MemoryRecord, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}

	where := "WHERE owner_id = ?"
	args := []interface{}{opts.OwnerID}
	if opts.Tier != "" {
		where += " AND tier = ?"
		args = append(args, opts.Tier)
	}
	if !opts.CreatedAfter.IsZero() {
		where += " AND created_at >= ?"
		args = append(args, opts.CreatedAfter)
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, owner_id, conversation_id, type, content, confidence, importance,
		       embedding, entities, topics, tier, consolidated_from,
		       created_at, last_accessed_at, access_count
		FROM user_memories %s`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*storage.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: search: %w", err)
		}
		rec.Score = memory.CosineSimilarity(embedding, rec.Embedding)
		if rec.Score >= opts.MinScore {
			recs = append(recs, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	return recs, nil
}

// ListMemories lists records most recent first.
func (c *Client) ListMemories(ctx context.Context, opts *storage.ListOptions) ([]*storage.MemoryRecord, error) {
	if opts == nil {
		opts = &storage.ListOptions{}
	}

	var conds []string
	var args []interface{}
	if opts.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, opts.OwnerID)
	}
	if opts.Tier != "" {
		conds = append(conds, "tier = ?")
		args = append(args, opts.Tier)
	}
	if !opts.CreatedBefore.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, opts.CreatedBefore)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	args = append(args, limit, opts.Offset)

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, owner_id, conversation_id, type, content, confidence, importance,
		       embedding, entities, topics, tier, consolidated_from,
		       created_at, last_accessed_at, access_count
		FROM user_memories %s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*storage.MemoryRecord
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CountMemories counts an owner's records in one tier.
func (c *Client) CountMemories(ctx context.Context, ownerID, tier string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_memories WHERE owner_id = ? AND tier = ?",
		ownerID, tier).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

// TouchMemories records accesses: bumps access_count, sets last_accessed_at,
// and refreshes tier-index recency.
func (c *Client) TouchMemories(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders, args := idArgs(ids)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: touch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE user_memories
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id IN (%s)`, placeholders),
		append([]interface{}{at}, args...)...); err != nil {
		return fmt.Errorf("sqlite: touch: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE tiered_memory_index SET touched_at = ? WHERE memory_id IN (%s)`, placeholders),
		append([]interface{}{at}, args...)...); err != nil {
		return fmt.Errorf("sqlite: touch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: touch: %w", err)
	}
	return nil
}

// TierIndex returns an owner's memory ids in one tier, most recently touched
// first, reading only the index table.
func (c *Client) TierIndex(ctx context.Context, ownerID, tier string, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT memory_id FROM tiered_memory_index
		WHERE owner_id = ? AND tier = ?
		ORDER BY touched_at DESC
		LIMIT ?`, ownerID, tier, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: tier index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: tier index: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendConversationVector stores one embedded conversation message.
func (c *Client) AppendConversationVector(ctx context.Context, vec *storage.ConversationVector) error {
	embJSON, err := json.Marshal(vec.Embedding)
	if err != nil {
		return fmt.Errorf("sqlite: append vector: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO conversation_vectors
		(owner_id, conversation_id, thread_id, role, content, embedding,
		 importance, topics, access_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		vec.OwnerID, vec.ConversationID, vec.ThreadID, vec.Role, vec.Content,
		string(embJSON), vec.Importance, marshalStrings(vec.Topics),
		vec.AccessCount, vec.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: append vector: %w", err)
	}
	return nil
}

// SearchConversationVectors performs similarity search over the owner's most
// recent conversations, bounded by opts.MaxConversations.
func (c *Client) SearchConversationVectors(ctx context.Context, embedding []float64, opts *storage.ConversationSearchOptions) ([]*storage.ConversationVector, error) {
	if opts == nil {
		opts = &storage.ConversationSearchOptions{}
	}

	query := `
		SELECT id, owner_id, conversation_id, thread_id, role, content,
		       embedding, importance, topics, access_count, created_at
		FROM conversation_vectors
		WHERE owner_id = ?`
	args := []interface{}{opts.OwnerID}

	if opts.MaxConversations > 0 {
		query += ` AND conversation_id IN (
			SELECT conversation_id FROM conversation_vectors
			WHERE owner_id = ?
			GROUP BY conversation_id
			ORDER BY MAX(created_at) DESC
			LIMIT ?)`
		args = append(args, opts.OwnerID, opts.MaxConversations)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var vecs []*storage.ConversationVector
	for rows.Next() {
		vec, err := scanConversationVector(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: search vectors: %w", err)
		}
		vec.Score = memory.CosineSimilarity(embedding, vec.Embedding)
		if vec.Score >= opts.MinScore {
			vecs = append(vecs, vec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: search vectors: %w", err)
	}

	sort.Slice(vecs, func(i, j int) bool { return vecs[i].Score > vecs[j].Score })
	if opts.Limit > 0 && len(vecs) > opts.Limit {
		vecs = vecs[:opts.Limit]
	}
	return vecs, nil
}

// PruneConversationVectors deletes an owner's vectors older than the cutoff.
func (c *Client) PruneConversationVectors(ctx context.Context, ownerID string, before time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM conversation_vectors WHERE owner_id = ? AND created_at < ?",
		ownerID, before)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune vectors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune vectors: %w", err)
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
