// Package sqlite implements storage.Store on SQLite, for local
// development and tests. Vectors and JSON-shaped columns (metadata,
// provenance payloads) are stored as TEXT, matching the JSON-in-column
// idiom the rest of this codebase already uses for embeddings.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cortexlabs/cortex-engine-go/pkg/profile"
	"github.com/cortexlabs/cortex-engine-go/pkg/provenance"
	"github.com/cortexlabs/cortex-engine-go/pkg/storage"
)

// Client implements storage.Store on SQLite.
type Client struct {
	db *sql.DB
}

// Config configures the SQLite backend.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
}

var _ storage.Store = (*Client)(nil)

// NewClient opens (creating if absent) a SQLite database and ensures
// the schema exists.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite.NewClient: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite.NewClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite.NewClient: %w", err)
	}

	c := &Client{db: db}
	if err := c.initTables(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			agent_id TEXT,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'raw',
			status TEXT NOT NULL DEFAULT 'active',
			criticality TEXT NOT NULL DEFAULT 'normal',
			tier TEXT NOT NULL DEFAULT 'hot',
			shard_id INTEGER NOT NULL DEFAULT 0,
			tokens INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			retrieval_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			last_accessed_at DATETIME,
			deleted_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_id)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			agent_id TEXT,
			user_id TEXT,
			query_text TEXT NOT NULL,
			query_embedding TEXT,
			response_text TEXT,
			snapshot_memory_ids TEXT NOT NULL,
			status TEXT NOT NULL,
			method TEXT,
			created_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS attribution_scores (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			score REAL NOT NULL,
			raw_score REAL NOT NULL,
			method TEXT NOT NULL,
			confidence REAL NOT NULL,
			compute_ms INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_txn ON attribution_scores(transaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_mem ON attribution_scores(memory_id)`,
		`CREATE TABLE IF NOT EXISTS memory_profiles (
			memory_id TEXT PRIMARY KEY,
			mean_attribution REAL NOT NULL,
			m2 REAL NOT NULL,
			retrieval_count INTEGER NOT NULL,
			total_attribution REAL NOT NULL,
			trend TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_cost_configs (
			agent_id TEXT PRIMARY KEY,
			input_token_cost REAL NOT NULL,
			output_token_cost REAL NOT NULL,
			queries_per_day REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contradictions (
			id TEXT PRIMARY KEY,
			memory_id_a TEXT NOT NULL,
			memory_id_b TEXT NOT NULL,
			probability REAL NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS calibration_pairs (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			score REAL NOT NULL,
			ground_truth REAL NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS health_snapshots (
			id TEXT PRIMARY KEY,
			taken_at DATETIME NOT NULL,
			memory_count INTEGER NOT NULL,
			pending_txns INTEGER NOT NULL,
			avg_confidence REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS provenance_records (
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (id, kind)
		)`,
	}
	for _, s := range stmts {
		if _, err := c.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("sqlite.initTables: %w", err)
		}
	}
	return nil
}

func marshalEmbedding(v []float32) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalEmbedding(s string) ([]float32, error) {
	var v []float32
	if s == "" {
		return nil, nil
	}
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func unmarshalMetadata(s string) (map[string]any, error) {
	m := make(map[string]any)
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func marshalIDs(ids []string) (string, error) {
	b, err := json.Marshal(ids)
	return string(b), err
}

func unmarshalIDs(s string) ([]string, error) {
	var ids []string
	if s == "" {
		return nil, nil
	}
	err := json.Unmarshal([]byte(s), &ids)
	return ids, err
}

// CreateMemory inserts a new memory row.
func (c *Client) CreateMemory(ctx context.Context, m *storage.Memory) error {
	embJSON, err := marshalEmbedding(m.Embedding)
	if err != nil {
		return fmt.Errorf("sqlite.CreateMemory: %w", err)
	}
	metaJSON, err := marshalMetadata(m.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite.CreateMemory: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO memories (id, owner_id, agent_id, content, embedding, type, status,
			criticality, tier, shard_id, tokens, metadata, retrieval_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.OwnerID, m.AgentID, m.Content, embJSON, m.Type, m.Status,
		m.Criticality, m.Tier, m.ShardID, m.Tokens, metaJSON, m.RetrievalCount, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite.CreateMemory: %w", err)
	}
	return nil
}

func (c *Client) scanMemory(row interface {
	Scan(...any) error
}) (*storage.Memory, error) {
	var m storage.Memory
	var embJSON, metaJSON string
	var lastAccessed, deletedAt sql.NullTime
	err := row.Scan(&m.ID, &m.OwnerID, &m.AgentID, &m.Content, &embJSON, &m.Type, &m.Status,
		&m.Criticality, &m.Tier, &m.ShardID, &m.Tokens, &metaJSON, &m.RetrievalCount, &m.CreatedAt, &m.UpdatedAt,
		&lastAccessed, &deletedAt)
	if err != nil {
		return nil, err
	}
	if m.Embedding, err = unmarshalEmbedding(embJSON); err != nil {
		return nil, err
	}
	if m.Metadata, err = unmarshalMetadata(metaJSON); err != nil {
		return nil, err
	}
	if lastAccessed.Valid {
		m.LastAccessedAt = &lastAccessed.Time
	}
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.Time
	}
	return &m, nil
}

const memoryColumns = `id, owner_id, agent_id, content, embedding, type, status,
	criticality, tier, shard_id, tokens, metadata, retrieval_count, created_at, updated_at,
	last_accessed_at, deleted_at`

// GetMemory retrieves a memory by id, including soft-deleted rows.
func (c *Client) GetMemory(ctx context.Context, id string) (*storage.Memory, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := c.scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return m, err
}

// GetMemoriesOrdered returns rows for ids sorted by id. When
// ignoreSoftDelete is false, soft-deleted rows are excluded.
func (c *Client) GetMemoriesOrdered(ctx context.Context, ids []string, ignoreSoftDelete bool) ([]*storage.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE id IN (%s)`, memoryColumns, joinPlaceholders(placeholders))
	if !ignoreSoftDelete {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY id`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite.GetMemoriesOrdered: %w", err)
	}
	defer rows.Close()

	var out []*storage.Memory
	for rows.Next() {
		m, err := c.scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if len(out) != len(ids) {
		return nil, fmt.Errorf("sqlite.GetMemoriesOrdered: %w: expected %d rows, got %d", storage.ErrNotFound, len(ids), len(out))
	}
	return out, rows.Err()
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += "," + p
	}
	return out
}

// PatchMemory updates tier and/or metadata and returns the updated row.
func (c *Client) PatchMemory(ctx context.Context, id string, tier *storage.Tier, metadata map[string]any) (*storage.Memory, error) {
	if tier != nil {
		if _, err := c.db.ExecContext(ctx, `UPDATE memories SET tier = ?, updated_at = ? WHERE id = ?`, *tier, time.Now().UTC(), id); err != nil {
			return nil, fmt.Errorf("sqlite.PatchMemory: %w", err)
		}
	}
	if metadata != nil {
		metaJSON, err := marshalMetadata(metadata)
		if err != nil {
			return nil, err
		}
		if _, err := c.db.ExecContext(ctx, `UPDATE memories SET metadata = ?, updated_at = ? WHERE id = ?`, metaJSON, time.Now().UTC(), id); err != nil {
			return nil, fmt.Errorf("sqlite.PatchMemory: %w", err)
		}
	}
	return c.GetMemory(ctx, id)
}

// SoftDeleteMemory sets deleted_at and advances status to pending_deletion.
func (c *Client) SoftDeleteMemory(ctx context.Context, id string, now time.Time) error {
	res, err := c.db.ExecContext(ctx, `UPDATE memories SET deleted_at = ?, status = ?, updated_at = ? WHERE id = ?`,
		now, storage.StatusPendingDeletion, now, id)
	if err != nil {
		return fmt.Errorf("sqlite.SoftDeleteMemory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// BumpMemoryAccess increments retrieval_count and sets last_accessed_at.
func (c *Client) BumpMemoryAccess(ctx context.Context, id string, now time.Time) error {
	_, err := c.db.ExecContext(ctx, `UPDATE memories SET retrieval_count = retrieval_count + 1, last_accessed_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("sqlite.BumpMemoryAccess: %w", err)
	}
	return nil
}

// CreateTransaction inserts a new transaction row.
func (c *Client) CreateTransaction(ctx context.Context, t *storage.Transaction) error {
	idsJSON, err := marshalIDs(t.SnapshotMemoryIDs)
	if err != nil {
		return err
	}
	qeJSON, err := marshalEmbedding(t.QueryEmbedding)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO transactions (id, agent_id, user_id, query_text, query_embedding, response_text,
			snapshot_memory_ids, status, method, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.AgentID, t.UserID, t.QueryText, qeJSON, t.ResponseText, idsJSON, t.Status, t.Method, t.CreatedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("sqlite.CreateTransaction: %w", err)
	}
	return nil
}

func (c *Client) scanTransaction(row interface{ Scan(...any) error }) (*storage.Transaction, error) {
	var t storage.Transaction
	var idsJSON, qeJSON string
	var completedAt sql.NullTime
	var responseText sql.NullString
	err := row.Scan(&t.ID, &t.AgentID, &t.UserID, &t.QueryText, &qeJSON, &responseText, &idsJSON, &t.Status, &t.Method, &t.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if t.SnapshotMemoryIDs, err = unmarshalIDs(idsJSON); err != nil {
		return nil, err
	}
	if t.QueryEmbedding, err = unmarshalEmbedding(qeJSON); err != nil {
		return nil, err
	}
	t.ResponseText = responseText.String
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

const transactionColumns = `id, agent_id, user_id, query_text, query_embedding, response_text, snapshot_memory_ids, status, method, created_at, completed_at`

// GetTransaction fetches a transaction by id.
func (c *Client) GetTransaction(ctx context.Context, id string) (*storage.Transaction, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := c.scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return t, err
}

// CompleteTransaction transitions a transaction pending -> completed.
func (c *Client) CompleteTransaction(ctx context.Context, id, responseText string, now time.Time) error {
	res, err := c.db.ExecContext(ctx, `UPDATE transactions SET response_text = ?, status = ?, completed_at = ? WHERE id = ?`,
		responseText, storage.TxnCompleted, now, id)
	if err != nil {
		return fmt.Errorf("sqlite.CompleteTransaction: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ExpireStaleTransactions transitions pending transactions older than
// olderThan to failed, returning the number affected.
func (c *Client) ExpireStaleTransactions(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx, `UPDATE transactions SET status = ? WHERE status = ? AND created_at < ?`,
		storage.TxnFailed, storage.TxnPending, olderThan)
	if err != nil {
		return 0, fmt.Errorf("sqlite.ExpireStaleTransactions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// InsertAttributionScores inserts a batch of attribution_scores rows.
func (c *Client) InsertAttributionScores(ctx context.Context, scores []*storage.AttributionScore) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attribution_scores (id, memory_id, transaction_id, score, raw_score, method, confidence, compute_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range scores {
		if _, err := stmt.ExecContext(ctx, s.ID, s.MemoryID, s.TransactionID, s.Score, s.RawScore, s.Method, s.Confidence, s.ComputeMS, s.CreatedAt); err != nil {
			return fmt.Errorf("sqlite.InsertAttributionScores: %w", err)
		}
	}
	return tx.Commit()
}

func (c *Client) scanScores(rows *sql.Rows) ([]*storage.AttributionScore, error) {
	var out []*storage.AttributionScore
	for rows.Next() {
		var s storage.AttributionScore
		if err := rows.Scan(&s.ID, &s.MemoryID, &s.TransactionID, &s.Score, &s.RawScore, &s.Method, &s.Confidence, &s.ComputeMS, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

const scoreColumns = `id, memory_id, transaction_id, score, raw_score, method, confidence, compute_ms, created_at`

// GetScoresByTransaction returns all scores for one transaction.
func (c *Client) GetScoresByTransaction(ctx context.Context, transactionID string) ([]*storage.AttributionScore, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+scoreColumns+` FROM attribution_scores WHERE transaction_id = ?`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return c.scanScores(rows)
}

// GetScoresByMemory returns all scores ever recorded for one memory.
func (c *Client) GetScoresByMemory(ctx context.Context, memoryID string) ([]*storage.AttributionScore, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+scoreColumns+` FROM attribution_scores WHERE memory_id = ?`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return c.scanScores(rows)
}

// UpsertProfile performs the atomic Welford upsert (§4.6) as a single
// SQL statement: INSERT ... ON CONFLICT DO UPDATE, so two concurrent
// writers can never read-modify-write the same profile incoherently.
func (c *Client) UpsertProfile(ctx context.Context, memoryID string, score float64, now time.Time) (profile.Profile, error) {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO memory_profiles (memory_id, mean_attribution, m2, retrieval_count, total_attribution, trend, updated_at)
		VALUES (?, ?, 0, 1, ?, 'stable', ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			retrieval_count = memory_profiles.retrieval_count + 1,
			total_attribution = memory_profiles.total_attribution + excluded.mean_attribution,
			m2 = memory_profiles.m2 +
				(excluded.mean_attribution - memory_profiles.mean_attribution) *
				(excluded.mean_attribution - (memory_profiles.mean_attribution +
					(excluded.mean_attribution - memory_profiles.mean_attribution) / (memory_profiles.retrieval_count + 1))),
			trend = CASE
				WHEN excluded.mean_attribution > memory_profiles.mean_attribution * 1.1 THEN 'up'
				WHEN excluded.mean_attribution < memory_profiles.mean_attribution * 0.9 THEN 'down'
				ELSE 'stable'
			END,
			mean_attribution = memory_profiles.mean_attribution +
				(excluded.mean_attribution - memory_profiles.mean_attribution) / (memory_profiles.retrieval_count + 1),
			updated_at = excluded.updated_at
	`, memoryID, score, score, now)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("sqlite.UpsertProfile: %w", err)
	}
	return c.GetProfile(ctx, memoryID)
}

// GetProfile fetches the current profile for a memory.
func (c *Client) GetProfile(ctx context.Context, memoryID string) (profile.Profile, error) {
	var p profile.Profile
	var trend string
	err := c.db.QueryRowContext(ctx, `
		SELECT memory_id, mean_attribution, m2, retrieval_count, total_attribution, trend, updated_at
		FROM memory_profiles WHERE memory_id = ?
	`, memoryID).Scan(&p.MemoryID, &p.Mean, &p.M2, &p.Count, &p.TotalAttribution, &trend, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, storage.ErrNotFound
	}
	if err != nil {
		return profile.Profile{}, err
	}
	p.Trend = profile.Trend(trend)
	return p, nil
}

// GetAgentCostConfig looks up per-agent pricing.
func (c *Client) GetAgentCostConfig(ctx context.Context, agentID string) (*storage.AgentCostConfig, error) {
	var cfg storage.AgentCostConfig
	err := c.db.QueryRowContext(ctx, `
		SELECT agent_id, input_token_cost, output_token_cost, queries_per_day
		FROM agent_cost_configs WHERE agent_id = ?
	`, agentID).Scan(&cfg.AgentID, &cfg.InputTokenCost, &cfg.OutputTokenCost, &cfg.QueriesPerDay)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveProvenanceNode persists a provenance node as a JSON payload row.
func (c *Client) SaveProvenanceNode(ctx context.Context, n provenance.Node) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO provenance_records (id, kind, type, created_at, payload)
		VALUES (?, 'node', ?, ?, ?)
		ON CONFLICT(id, kind) DO UPDATE SET payload = excluded.payload
	`, n.ID, string(n.Type), n.CreatedAt, string(payload))
	return err
}

// SaveProvenanceEdge persists a provenance edge as a JSON payload row.
func (c *Client) SaveProvenanceEdge(ctx context.Context, e provenance.Edge) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO provenance_records (id, kind, type, created_at, payload)
		VALUES (?, 'edge', ?, ?, ?)
		ON CONFLICT(id, kind) DO UPDATE SET payload = excluded.payload
	`, e.ID, string(e.Type), e.CreatedAt, string(payload))
	return err
}

// LoadProvenanceGraph replays every persisted node/edge into a fresh
// in-memory Graph, in creation order.
func (c *Client) LoadProvenanceGraph(ctx context.Context) (*provenance.Graph, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT kind, payload FROM provenance_records ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	g := provenance.NewGraph()
	for rows.Next() {
		var kind, payload string
		if err := rows.Scan(&kind, &payload); err != nil {
			return nil, err
		}
		switch kind {
		case "node":
			var n provenance.Node
			if err := json.Unmarshal([]byte(payload), &n); err != nil {
				return nil, err
			}
			g.AddNode(n)
		case "edge":
			var e provenance.Edge
			if err := json.Unmarshal([]byte(payload), &e); err != nil {
				return nil, err
			}
			g.AddEdge(e)
		}
	}
	return g, rows.Err()
}

// ListContradictions returns every recorded pairwise contradiction.
func (c *Client) ListContradictions(ctx context.Context) ([]*storage.Contradiction, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, memory_id_a, memory_id_b, probability, created_at FROM contradictions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Contradiction
	for rows.Next() {
		var ct storage.Contradiction
		if err := rows.Scan(&ct.ID, &ct.MemoryIDA, &ct.MemoryIDB, &ct.Probability, &ct.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ct)
	}
	return out, rows.Err()
}

// ListMemoriesByOwner returns active-or-not memories owned by ownerID.
func (c *Client) ListMemoriesByOwner(ctx context.Context, ownerID string) ([]*storage.Memory, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*storage.Memory
	for rows.Next() {
		m, err := c.scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListAllMemories returns every memory row, for metrics computation.
func (c *Client) ListAllMemories(ctx context.Context) ([]*storage.Memory, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*storage.Memory
	for rows.Next() {
		m, err := c.scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DashboardOverview aggregates per-agent and global metrics.
func (c *Client) DashboardOverview(ctx context.Context) (*storage.DashboardOverview, error) {
	overview := &storage.DashboardOverview{}

	rows, err := c.db.QueryContext(ctx, `
		SELECT agent_id, COUNT(*), COALESCE(AVG(retrieval_count), 0)
		FROM memories
		WHERE deleted_at IS NULL
		GROUP BY agent_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a storage.AgentSummary
		if err := rows.Scan(&a.AgentID, &a.MemoryCount, &a.MeanAttribution); err != nil {
			return nil, err
		}
		overview.Agents = append(overview.Agents, a)
		overview.TotalMemories += a.MemoryCount
	}
	return overview, rows.Err()
}

// Close closes the underlying database connection.
func (c *Client) Close() error {
	return c.db.Close()
}
