package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cortexlabs/cortex-engine-go/pkg/attribution"
	"github.com/cortexlabs/cortex-engine-go/pkg/cortexconfig"
	"github.com/cortexlabs/cortex-engine-go/pkg/embedder"
	"github.com/cortexlabs/cortex-engine-go/pkg/embedder/openai"
	"github.com/cortexlabs/cortex-engine-go/pkg/llm"
	llmopenai "github.com/cortexlabs/cortex-engine-go/pkg/llm/openai"
	"github.com/cortexlabs/cortex-engine-go/pkg/provenance"
	"github.com/cortexlabs/cortex-engine-go/pkg/storage"
	"github.com/cortexlabs/cortex-engine-go/pkg/storage/oceanbase"
	"github.com/cortexlabs/cortex-engine-go/pkg/storage/postgres"
	"github.com/cortexlabs/cortex-engine-go/pkg/storage/sqlite"
	"github.com/cortexlabs/cortex-engine-go/pkg/transaction"
)

// Client is the transport-agnostic facade over §6's operations. A
// caller wraps it with HTTP handlers or an RPC service; Client itself
// knows nothing about either.
type Client struct {
	store  storage.Store
	embed  embedder.Embedder
	graph  *provenance.Graph
	txns   *transaction.Manager
	cfg    *cortexconfig.Config
	newID  func() string
	nowFn  func() time.Time
}

// New wires a Client from configuration: it opens the configured
// storage backend, constructs the embedder and LLM oracle adapters, and
// rehydrates the provenance graph from storage.
func New(ctx context.Context, cfg *cortexconfig.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewMemoryError("New", err)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, NewMemoryError("New", err)
	}

	embed, err := openEmbedder(cfg.Embedder)
	if err != nil {
		return nil, NewMemoryError("New", err)
	}

	var oracle llm.LogProbOracle
	if cfg.LLM.Provider == "openai" && cfg.LLM.APIKey != "" {
		oracleClient, err := llmopenai.NewClient(&llmopenai.Config{
			APIKey:          cfg.LLM.APIKey,
			Model:           cfg.LLM.Model,
			CompletionModel: cfg.LLM.CompletionModel,
			BaseURL:         cfg.LLM.BaseURL,
		})
		if err != nil {
			return nil, NewMemoryError("New", err)
		}
		oracle = oracleClient
	}

	graph, err := store.LoadProvenanceGraph(ctx)
	if err != nil {
		return nil, NewMemoryError("New", err)
	}

	txns := transaction.NewManager(store, embed, oracle, graph, transaction.Options{
		TTL:                   time.Duration(cfg.Attribution.TransactionTTLHours) * time.Hour,
		ContextCite:           attributionOptionsFromConfig(cfg),
		ContextCiteSampleRate: cfg.Attribution.ContextCiteSampleRate,
		ShapleyMaxExactK:      cfg.Attribution.ShapleyMaxExactK,
		ShapleyMCSamples:      cfg.Attribution.ShapleyMCSamples,
	})

	return &Client{
		store: store,
		embed: embed,
		graph: graph,
		txns:  txns,
		cfg:   cfg,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
		nowFn: time.Now,
	}, nil
}

func openStore(cfg cortexconfig.StorageConfig) (storage.Store, error) {
	switch cfg.Provider {
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:     stringOpt(cfg.Config, "host"),
			Port:     intOpt(cfg.Config, "port"),
			User:     stringOpt(cfg.Config, "user"),
			Password: stringOpt(cfg.Config, "password"),
			DBName:   stringOpt(cfg.Config, "db_name"),
			SSLMode:  stringOpt(cfg.Config, "ssl_mode"),
		})
	case "oceanbase":
		return oceanbase.NewClient(&oceanbase.Config{
			Host:     stringOpt(cfg.Config, "host"),
			Port:     intOpt(cfg.Config, "port"),
			User:     stringOpt(cfg.Config, "user"),
			Password: stringOpt(cfg.Config, "password"),
			DBName:   stringOpt(cfg.Config, "db_name"),
		})
	default:
		return sqlite.NewClient(&sqlite.Config{
			DBPath: stringOpt(cfg.Config, "db_path"),
		})
	}
}

func stringOpt(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intOpt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return 0
}

func openEmbedder(cfg cortexconfig.EmbedderConfig) (embedder.Embedder, error) {
	return openai.NewClient(&openai.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	})
}

// CreateMemory implements memory.create: it embeds content, estimates
// its token count, computes the memory's shard assignment, and
// persists a new active memory.
func (c *Client) CreateMemory(ctx context.Context, ownerID, agentID, content string, memType storage.MemoryType, tier storage.Tier, criticality storage.Criticality) (*MemorySnapshot, error) {
	if content == "" {
		return nil, NewMemoryError("CreateMemory", ErrInvalidInput)
	}
	vecs, err := c.embed.Embed(ctx, []string{content})
	if err != nil {
		return nil, NewMemoryError("CreateMemory", err)
	}

	now := c.nowFn()
	m := &storage.Memory{
		ID:          c.newID(),
		OwnerID:     ownerID,
		AgentID:     agentID,
		Content:     content,
		Embedding:   vecs[0],
		Type:        memType,
		Status:      storage.StatusActive,
		Criticality: criticality,
		Tier:        tier,
		ShardID:     storage.ShardID(ownerID, storage.DefaultShardCount),
		Tokens:      estimateTokens(content),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.CreateMemory(ctx, m); err != nil {
		return nil, NewMemoryError("CreateMemory", err)
	}

	if c.graph != nil {
		// A memory needs a real InteractionNode as its creation edge's
		// source, not the bare agentID string, so Footprint(ownerID) --
		// which seeds only from actual InteractionNodes it owns -- can
		// reach memories created outside a scored transaction. agentID
		// is recorded on the node's payload for traceability instead.
		interactionNode := provenance.Node{
			ID: c.newID(), Type: provenance.NodeInteraction, OwnerID: ownerID, CreatedAt: now,
			Payload: map[string]any{"agent_id": agentID, "kind": "memory_create"},
		}
		c.graph.AddNode(interactionNode)

		memNode := provenance.Node{
			ID: m.ID, Type: provenance.NodeMemory, OwnerID: ownerID, CreatedAt: now,
			Payload: map[string]any{"shard_id": m.ShardID, "tier": string(tier)},
		}
		embNode := provenance.Node{
			ID: c.newID(), Type: provenance.NodeEmbedding, CreatedAt: now,
			Payload: map[string]any{"vector": m.Embedding},
		}
		creation := provenance.Edge{ID: c.newID(), SourceID: interactionNode.ID, SourceType: provenance.NodeInteraction, TargetID: m.ID, CreatedAt: now}
		derivation := provenance.Edge{ID: c.newID(), SourceID: m.ID, TargetID: embNode.ID, CreatedAt: now}
		c.graph.RecordMemoryCreation(memNode, embNode, creation, derivation)
	}

	return toSnapshot(m), nil
}

// PatchMemory implements memory.patch's `id, tier?, metadata?` signature.
func (c *Client) PatchMemory(ctx context.Context, id string, tier *storage.Tier, metadata map[string]any) (*MemorySnapshot, error) {
	m, err := c.store.PatchMemory(ctx, id, tier, metadata)
	if err != nil {
		return nil, NewMemoryError("PatchMemory", err)
	}
	return toSnapshot(m), nil
}

// SoftDeleteMemory implements memory.soft_delete: it transitions the
// memory to pending_deletion (the monotonic status sequence never
// regresses, so a caller wanting a full active->deleted cascade issues
// this then, after the grace period, a hard-delete sweep not exposed
// here).
func (c *Client) SoftDeleteMemory(ctx context.Context, id string) error {
	if err := c.store.SoftDeleteMemory(ctx, id, c.nowFn()); err != nil {
		return NewMemoryError("SoftDeleteMemory", err)
	}
	return nil
}

// SingleShotTransaction implements transaction.single_shot.
func (c *Client) SingleShotTransaction(ctx context.Context, req transaction.Request, responseText string) (*transaction.Outcome, error) {
	outcome, err := c.txns.SingleShot(ctx, req, responseText)
	if err != nil {
		return nil, NewMemoryError("SingleShotTransaction", err)
	}
	return outcome, nil
}

// InitiateTransaction implements transaction.initiate.
func (c *Client) InitiateTransaction(ctx context.Context, req transaction.Request) (*storage.Transaction, error) {
	txn, err := c.txns.Initiate(ctx, req)
	if err != nil {
		return nil, NewMemoryError("InitiateTransaction", err)
	}
	return txn, nil
}

// CompleteTransaction implements transaction.complete.
func (c *Client) CompleteTransaction(ctx context.Context, transactionID, responseText string) (*transaction.Outcome, error) {
	outcome, err := c.txns.Complete(ctx, transactionID, responseText)
	if err != nil {
		return nil, NewMemoryError("CompleteTransaction", err)
	}
	return outcome, nil
}

// AttributionByTransaction implements attribution.by_transaction.
func (c *Client) AttributionByTransaction(ctx context.Context, transactionID string) ([]AttributionSnapshot, error) {
	scores, err := c.store.GetScoresByTransaction(ctx, transactionID)
	if err != nil {
		return nil, NewMemoryError("AttributionByTransaction", err)
	}
	return toAttributionSnapshots(scores), nil
}

// AttributionByMemory implements attribution.by_memory: it returns the
// memory's full score history plus its current Welford profile.
func (c *Client) AttributionByMemory(ctx context.Context, memoryID string) ([]AttributionSnapshot, *ProfileSnapshot, error) {
	scores, err := c.store.GetScoresByMemory(ctx, memoryID)
	if err != nil {
		return nil, nil, NewMemoryError("AttributionByMemory", err)
	}
	p, err := c.store.GetProfile(ctx, memoryID)
	if err != nil {
		return nil, nil, NewMemoryError("AttributionByMemory", err)
	}
	profileSnapshot := &ProfileSnapshot{
		MemoryID:         p.MemoryID,
		Mean:             p.Mean,
		Variance:         p.Variance(),
		Count:            p.Count,
		TotalAttribution: p.TotalAttribution,
		Trend:            string(p.Trend),
		UpdatedAt:        p.UpdatedAt,
	}
	return toAttributionSnapshots(scores), profileSnapshot, nil
}

// ComplianceFootprint implements compliance.footprint: F(u) plus its
// reproducible certificate hash.
func (c *Client) ComplianceFootprint(ctx context.Context, userID string) (*FootprintSummary, error) {
	fp, err := c.graph.Footprint(ctx, userID)
	if err != nil {
		return nil, NewMemoryError("ComplianceFootprint", err)
	}
	return &FootprintSummary{
		UserID:          userID,
		InteractionIDs:  fp.InteractionIDs,
		MemoryIDs:       fp.MemoryIDs,
		SummaryIDs:      fp.SummaryIDs,
		EmbeddingIDs:    fp.EmbeddingIDs,
		CertificateHash: fp.CertificateHash,
	}, nil
}

// gdprGraceDays is the retention window between a compliance.delete
// request and hard deletion, per spec's Memory lifecycle row.
const gdprGraceDays = 30

// ComplianceDelete implements compliance.delete: it computes F(u),
// soft-deletes every memory in the footprint, runs the orphan-edge/
// attribution-zero/vector-proximity verification pass over the
// resulting graph, and issues a certificate naming a 30-day grace
// period before hard deletion. Per §7, a failed verification pass does
// not block deletion — the certificate is returned unverified so the
// caller can surface an alert.
func (c *Client) ComplianceDelete(ctx context.Context, userID string, requestType RequestType) (*DeletionCertificate, error) {
	fp, err := c.graph.Footprint(ctx, userID)
	if err != nil {
		return nil, NewMemoryError("ComplianceDelete", err)
	}
	now := c.nowFn()
	for _, memID := range fp.MemoryIDs {
		if err := c.store.SoftDeleteMemory(ctx, memID, now); err != nil {
			return nil, NewMemoryError("ComplianceDelete", err)
		}
	}

	verification, err := c.graph.VerifyCertificate(ctx, userID, fp)
	if err != nil {
		return nil, NewMemoryError("ComplianceDelete", err)
	}

	return &DeletionCertificate{
		CertificateID:      c.newID(),
		UserID:             userID,
		RequestType:        requestType,
		IssuedAt:           now,
		GraceUntil:         now.AddDate(0, 0, gdprGraceDays),
		MemoryIDs:          fp.MemoryIDs,
		CertificateHash:    fp.CertificateHash,
		Verified:           verification.Verified,
		VerificationIssues: verification.Issues,
	}, nil
}

// DashboardOverview implements dashboard.overview.
func (c *Client) DashboardOverview(ctx context.Context) (*storage.DashboardOverview, error) {
	overview, err := c.store.DashboardOverview(ctx)
	if err != nil {
		return nil, NewMemoryError("DashboardOverview", err)
	}
	return overview, nil
}

// ExpireStaleTransactions runs the pending-TTL garbage-collection sweep
// (§5). Callers schedule this periodically.
func (c *Client) ExpireStaleTransactions(ctx context.Context) (int, error) {
	n, err := c.txns.ExpireStale(ctx)
	if err != nil {
		return 0, NewMemoryError("ExpireStaleTransactions", err)
	}
	return n, nil
}

// Close releases the embedder and storage backend.
func (c *Client) Close() error {
	if err := c.embed.Close(); err != nil {
		return NewMemoryError("Close", err)
	}
	return c.store.Close()
}

func toSnapshot(m *storage.Memory) *MemorySnapshot {
	return &MemorySnapshot{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		AgentID:        m.AgentID,
		Content:        m.Content,
		Type:           string(m.Type),
		Status:         string(m.Status),
		Criticality:    string(m.Criticality),
		Tier:           string(m.Tier),
		ShardID:        m.ShardID,
		Tokens:         m.Tokens,
		Metadata:       m.Metadata,
		RetrievalCount: m.RetrievalCount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		LastAccessedAt: m.LastAccessedAt,
	}
}

func toAttributionSnapshots(scores []*storage.AttributionScore) []AttributionSnapshot {
	out := make([]AttributionSnapshot, len(scores))
	for i, s := range scores {
		out[i] = AttributionSnapshot{
			MemoryID:      s.MemoryID,
			TransactionID: s.TransactionID,
			Score:         s.Score,
			RawScore:      s.RawScore,
			Method:        string(s.Method),
			Confidence:    s.Confidence,
		}
	}
	return out
}

// estimateTokens approximates a token count from character length
// (~4 characters/token), the common estimator used when no tokenizer
// for the target model is wired in; none of the example repos import
// one, and the domain only needs an integer proxy for pricing formulas,
// not exact tokenization.
func estimateTokens(content string) int {
	n := len(content) / 4
	if n == 0 && content != "" {
		n = 1
	}
	return n
}

func attributionOptionsFromConfig(cfg *cortexconfig.Config) attribution.ContextCiteOptions {
	return attribution.ContextCiteOptions{
		NumSamples:    cfg.Attribution.ContextCiteNumSamples,
		LassoLambda:   cfg.Attribution.ContextCiteLassoLambda,
		MinConfidence: cfg.Attribution.ContextCiteMinConfidence,
	}
}
