// Package storage defines the Store interface every backend
// (sqlite, postgres, oceanbase) implements, plus the domain types
// persisted across the system's logical tables: memories,
// transactions, attribution scores, memory profiles, agent cost
// configs, and provenance node/edge records (see ProvenanceRecord).
package storage

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/cortexlabs/cortex-engine-go/pkg/profile"
	"github.com/cortexlabs/cortex-engine-go/pkg/provenance"
)

// ErrNotFound indicates a lookup by ID found no row.
var ErrNotFound = errors.New("storage: not found")

// MemoryType classifies how a memory came to exist.
type MemoryType string

const (
	MemoryTypeRaw          MemoryType = "raw"
	MemoryTypeConsolidated MemoryType = "consolidated"
	MemoryTypeCritical     MemoryType = "critical"
)

// MemoryStatus is the monotonic lifecycle a memory advances through:
// active -> archived -> pending_deletion -> deleted. It never regresses.
type MemoryStatus string

const (
	StatusActive           MemoryStatus = "active"
	StatusArchived         MemoryStatus = "archived"
	StatusPendingDeletion  MemoryStatus = "pending_deletion"
	StatusDeleted          MemoryStatus = "deleted"
)

// Criticality marks memories that require stricter handling
// (e.g. exempt from redundancy-driven pruning).
type Criticality string

const (
	CriticalityNormal         Criticality = "normal"
	CriticalitySafetyCritical Criticality = "safety_critical"
	CriticalityProtected      Criticality = "protected"
)

// Tier names the storage tier a memory currently lives in. Hot/warm/cold
// is a caller-driven classification (memory.patch is the only writer);
// nothing in this package moves a memory between tiers on its own.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// DefaultShardCount is S in shard_id = hash(owner) mod S (§3's default).
const DefaultShardCount = 16

// ShardID computes the horizontal-partition key for a memory owned by
// ownerID, per §3's `shard_id = hash(owner) mod S`.
func ShardID(ownerID string, shardCount int) int {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(ownerID))
	return int(h.Sum32() % uint32(shardCount))
}

// Memory is a single stored memory unit.
type Memory struct {
	ID             string
	OwnerID        string
	AgentID        string
	Content        string
	Embedding      []float32
	Type           MemoryType
	Status         MemoryStatus
	Criticality    Criticality
	Tier           Tier
	ShardID        int
	Tokens         int
	Metadata       map[string]any
	RetrievalCount int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt *time.Time
	DeletedAt      *time.Time
}

// TransactionStatus is the two-phase transaction state machine.
type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnCompleted TransactionStatus = "completed"
	TxnFailed    TransactionStatus = "failed"
)

// Transaction records one interaction, in both the single-shot and
// two-phase paths. SnapshotMemoryIDs preserves the exact, ordered
// memory-id list supplied at initiate/single-shot time so complete can
// re-fetch it deterministically (ORDER BY id) regardless of
// intervening soft-deletes.
type Transaction struct {
	ID                string
	AgentID           string
	UserID            string
	QueryText         string
	QueryEmbedding    []float32
	ResponseText      string
	SnapshotMemoryIDs []string
	Status            TransactionStatus
	Method            string
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// ScoreType names which attribution engine produced a score.
type ScoreType string

const (
	ScoreEAS         ScoreType = "eas"
	ScoreContextCite ScoreType = "contextcite"
	ScoreExact       ScoreType = "exact"
	ScoreApprox      ScoreType = "approx"
	ScoreCalibrated  ScoreType = "calibrated"
)

// AttributionScore is one persisted attribution_scores row.
type AttributionScore struct {
	ID            string
	MemoryID      string
	TransactionID string
	Score         float64
	RawScore      float64
	Method        ScoreType
	Confidence    float64
	ComputeMS     int64
	CreatedAt     time.Time
}

// AgentCostConfig is per-agent token pricing, looked up with fallback
// to global defaults (a supplemented feature).
type AgentCostConfig struct {
	AgentID         string
	InputTokenCost  float64
	OutputTokenCost float64
	QueriesPerDay   float64
}

// Contradiction records a pairwise contradiction probability between
// two memories, feeding pkg/metrics.ContradictionRisk.
type Contradiction struct {
	ID         string
	MemoryIDA  string
	MemoryIDB  string
	Probability float64
	CreatedAt  time.Time
}

// CalibrationPair records a (score, ground_truth) pair used to
// calibrate the "calibrated" score type.
type CalibrationPair struct {
	ID          string
	MemoryID    string
	Score       float64
	GroundTruth float64
	CreatedAt   time.Time
}

// HealthSnapshot is a point-in-time system health record.
type HealthSnapshot struct {
	ID            string
	TakenAt       time.Time
	MemoryCount   int64
	PendingTxns   int64
	AvgConfidence float64
}

// AgentSummary aggregates one agent's dashboard row.
type AgentSummary struct {
	AgentID          string
	MemoryCount      int64
	MeanAttribution  float64
	TokenWasteRate   float64
	MonthlyTokenCost float64
}

// DashboardOverview is dashboard.overview's response shape.
type DashboardOverview struct {
	Agents        []AgentSummary
	GlobalGini    float64
	GlobalSNRdB   float64
	GlobalWaste   float64
	TotalMemories int64
}

// ProvenanceRecord is the persisted form of a provenance.Node or
// provenance.Edge: both are stored as a type-discriminated JSON
// payload row, the same idiom the teacher uses for Memory.Metadata and
// Memory.Embedding (JSON in a TEXT/JSONB column) rather than one
// bespoke table per node/edge type across three SQL dialects.
type ProvenanceRecord struct {
	ID        string
	Kind      string // "node" or "edge"
	Type      string // provenance.NodeType or provenance.EdgeType
	CreatedAt time.Time
	Payload   []byte // JSON-encoded provenance.Node or provenance.Edge
}

// Store is the persistence contract every backend implements. Method
// groups mirror SPEC_FULL.md's ten-plus logical tables.
type Store interface {
	// Memories
	CreateMemory(ctx context.Context, m *Memory) error
	GetMemory(ctx context.Context, id string) (*Memory, error)
	// GetMemoriesOrdered returns the given ids' rows sorted by id,
	// ignoring soft-delete, for two-phase snapshot re-fetch (§5).
	GetMemoriesOrdered(ctx context.Context, ids []string, ignoreSoftDelete bool) ([]*Memory, error)
	// PatchMemory implements memory.patch's `id, tier?, metadata?`
	// signature: either argument may be nil to leave that field alone.
	PatchMemory(ctx context.Context, id string, tier *Tier, metadata map[string]any) (*Memory, error)
	SoftDeleteMemory(ctx context.Context, id string, now time.Time) error
	BumpMemoryAccess(ctx context.Context, id string, now time.Time) error

	// Transactions
	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	CompleteTransaction(ctx context.Context, id, responseText string, now time.Time) error
	ExpireStaleTransactions(ctx context.Context, olderThan time.Time) (int, error)

	// Attribution
	InsertAttributionScores(ctx context.Context, scores []*AttributionScore) error
	GetScoresByTransaction(ctx context.Context, transactionID string) ([]*AttributionScore, error)
	GetScoresByMemory(ctx context.Context, memoryID string) ([]*AttributionScore, error)

	// Memory profiles — a single atomic upsert per §4.6's concurrency
	// contract; each backend expresses this as one SQL statement.
	UpsertProfile(ctx context.Context, memoryID string, score float64, now time.Time) (profile.Profile, error)
	GetProfile(ctx context.Context, memoryID string) (profile.Profile, error)

	// Pricing
	GetAgentCostConfig(ctx context.Context, agentID string) (*AgentCostConfig, error)

	// Provenance persistence (see ProvenanceRecord).
	SaveProvenanceNode(ctx context.Context, n provenance.Node) error
	SaveProvenanceEdge(ctx context.Context, e provenance.Edge) error
	LoadProvenanceGraph(ctx context.Context) (*provenance.Graph, error)

	// Supporting tables for pkg/metrics.
	ListContradictions(ctx context.Context) ([]*Contradiction, error)
	ListMemoriesByOwner(ctx context.Context, ownerID string) ([]*Memory, error)
	ListAllMemories(ctx context.Context) ([]*Memory, error)

	// Dashboard aggregation (supplemented feature).
	DashboardOverview(ctx context.Context) (*DashboardOverview, error)

	Close() error
}
