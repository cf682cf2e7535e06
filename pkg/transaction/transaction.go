// Package transaction implements the two-phase interaction protocol
// (§4.7): a single-shot path for callers that already have the full
// response text, and an initiate/complete path for callers that must
// stream a response before attribution can run. Both paths converge on
// the same snapshot-isolated memory set and hand off to pkg/attribution
// and pkg/provenance identically.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/cortexlabs/cortex-engine-go/pkg/attribution"
	"github.com/cortexlabs/cortex-engine-go/pkg/embedder"
	"github.com/cortexlabs/cortex-engine-go/pkg/llm"
	"github.com/cortexlabs/cortex-engine-go/pkg/provenance"
	"github.com/cortexlabs/cortex-engine-go/pkg/storage"
)

// Sentinel errors for the transaction state machine.
var (
	// ErrUnknownTransaction is returned by Complete when the id names no
	// pending transaction.
	ErrUnknownTransaction = errors.New("transaction: unknown transaction id")

	// ErrExpiredTransaction is returned by Complete when the pending
	// transaction's TTL has already elapsed.
	ErrExpiredTransaction = errors.New("transaction: transaction expired")

	// ErrSnapshotCorrupted is returned when the memory ids recorded at
	// initiate time no longer resolve to the same count of rows at
	// complete time (a memory was hard-deleted out from under it).
	ErrSnapshotCorrupted = errors.New("transaction: snapshot corrupted")

	// ErrAlreadyCompleted is returned by Complete on a duplicate call;
	// it is not a failure, callers should treat it as idempotent.
	ErrAlreadyCompleted = errors.New("transaction: already completed")
)

// Error wraps a transaction-manager failure with operation context, the
// same shape core.MemoryError uses.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("transaction: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Options configures the manager's defaults.
type Options struct {
	// TTL bounds how long an initiated transaction may sit pending
	// before ExpireStale reaps it as failed (default 24h).
	TTL time.Duration
	// EASOnly forces EAS regardless of a request's Method or the sample
	// rate below; an operator kill switch for callers whose LLM budget
	// can't cover an oracle at all.
	EASOnly bool
	ContextCite attribution.ContextCiteOptions
	// ContextCiteSampleRate is the fraction of requests with no explicit
	// Method that fall back to ContextCite instead of EAS (§9: EAS is
	// the default production path, ContextCite runs on ~1% for
	// low-confidence debugging). Default 0.01.
	ContextCiteSampleRate float64
	// ShapleyMaxExactK bounds ExactShapley's enumeration (default
	// attribution.MaxExactK); above it, a MethodExact request falls
	// back to TMCShapley.
	ShapleyMaxExactK int
	// ShapleyMCSamples is the permutation count TMCShapley walks
	// (default 100, per attribution.TMCShapleyOptions).
	ShapleyMCSamples int
}

func (o Options) withDefaults() Options {
	if o.TTL == 0 {
		o.TTL = 24 * time.Hour
	}
	if o.ContextCiteSampleRate == 0 {
		o.ContextCiteSampleRate = 0.01
	}
	if o.ShapleyMaxExactK == 0 {
		o.ShapleyMaxExactK = attribution.MaxExactK
	}
	return o
}

// Manager drives the two-phase protocol and the single-shot shortcut,
// wiring memory snapshotting, EAS/ContextCite attribution, and
// provenance recording behind one entry point.
type Manager struct {
	store  storage.Store
	embed  embedder.Embedder
	oracle llm.LogProbOracle
	graph  *provenance.Graph
	opts   Options
	newID  func() string
	nowFn  func() time.Time
	// sampleFn draws from [0, 1) to decide whether an unrequested
	// attribution defaults to ContextCite instead of EAS; overridable in
	// tests for determinism, the same way newID/nowFn are.
	sampleFn func() float64
}

// NewManager builds a Manager. oracle may be nil, in which case Complete
// always falls back to EAS-only attribution regardless of opts.EASOnly.
func NewManager(store storage.Store, embed embedder.Embedder, oracle llm.LogProbOracle, graph *provenance.Graph, opts Options) *Manager {
	return &Manager{
		store:    store,
		embed:    embed,
		oracle:   oracle,
		graph:    graph,
		opts:     opts.withDefaults(),
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
		nowFn:    time.Now,
		sampleFn: rand.Float64,
	}
}

// Request describes one interaction: the querying agent/user, the query
// text, and the memory ids the retrieval layer surfaced for it. Ids are
// preserved in caller order but re-sorted at snapshot time (ORDER BY
// id) so re-fetch during Complete is deterministic.
//
// Method optionally selects the attribution algorithm this interaction
// should use (§6's `method?` parameter on transaction.single_shot and
// transaction.initiate). Leaving it empty defers to the manager's
// default tiering: EAS for production traffic, with a small sampled
// fraction promoted to ContextCite.
type Request struct {
	AgentID   string
	UserID    string
	QueryText string
	MemoryIDs []string
	Method    attribution.Method
}

// Outcome is what SingleShot/Complete return: the finalized transaction
// plus its per-memory attribution scores.
type Outcome struct {
	Transaction *storage.Transaction
	Scores      []*storage.AttributionScore
}

// SingleShot runs the full protocol in one call: it snapshots the
// memories, records the transaction as completed immediately, computes
// attribution, and records provenance. Use it when the response text is
// already known (no streaming).
func (m *Manager) SingleShot(ctx context.Context, req Request, responseText string) (*Outcome, error) {
	txn, snapshot, err := m.beginAndSnapshot(ctx, req)
	if err != nil {
		return nil, wrap("SingleShot", err)
	}
	now := m.nowFn()
	txn.ResponseText = responseText
	txn.Status = storage.TxnCompleted
	txn.CompletedAt = &now
	if err := m.store.CreateTransaction(ctx, txn); err != nil {
		return nil, wrap("SingleShot", err)
	}

	scores, err := m.attributeAndRecord(ctx, txn, snapshot, responseText)
	if err != nil {
		return nil, wrap("SingleShot", err)
	}
	return &Outcome{Transaction: txn, Scores: scores}, nil
}

// Initiate opens the first phase: it snapshots the retrieved memory ids
// (ORDER BY id, ignoring soft-delete) and persists a pending
// transaction. The caller then streams a response and calls Complete
// with the same transaction id.
func (m *Manager) Initiate(ctx context.Context, req Request) (*storage.Transaction, error) {
	txn, _, err := m.beginAndSnapshot(ctx, req)
	if err != nil {
		return nil, wrap("Initiate", err)
	}
	if err := m.store.CreateTransaction(ctx, txn); err != nil {
		return nil, wrap("Initiate", err)
	}
	return txn, nil
}

// Complete closes the second phase: it re-fetches the exact snapshot ids
// recorded at Initiate time (ignoring soft-delete, so a memory
// soft-deleted mid-stream still contributes attribution for the
// response it helped produce), computes attribution, and records
// provenance. Calling Complete twice on the same id is idempotent and
// returns ErrAlreadyCompleted rather than double-scoring.
func (m *Manager) Complete(ctx context.Context, transactionID, responseText string) (*Outcome, error) {
	txn, err := m.store.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, wrap("Complete", ErrUnknownTransaction)
		}
		return nil, wrap("Complete", err)
	}
	if txn.Status == storage.TxnCompleted {
		return nil, wrap("Complete", ErrAlreadyCompleted)
	}
	if txn.Status == storage.TxnFailed {
		return nil, wrap("Complete", ErrExpiredTransaction)
	}
	if m.nowFn().Sub(txn.CreatedAt) > m.opts.TTL {
		return nil, wrap("Complete", ErrExpiredTransaction)
	}

	snapshot, err := m.store.GetMemoriesOrdered(ctx, txn.SnapshotMemoryIDs, true)
	if err != nil {
		return nil, wrap("Complete", err)
	}
	if len(snapshot) != len(txn.SnapshotMemoryIDs) {
		return nil, wrap("Complete", ErrSnapshotCorrupted)
	}

	now := m.nowFn()
	if err := m.store.CompleteTransaction(ctx, transactionID, responseText, now); err != nil {
		return nil, wrap("Complete", err)
	}
	txn.ResponseText = responseText
	txn.Status = storage.TxnCompleted
	txn.CompletedAt = &now

	scores, err := m.attributeAndRecord(ctx, txn, snapshot, responseText)
	if err != nil {
		return nil, wrap("Complete", err)
	}
	return &Outcome{Transaction: txn, Scores: scores}, nil
}

// ExpireStale marks every pending transaction older than the manager's
// TTL as failed, and returns the count reaped. Callers run this
// periodically as a background sweep (grounded on the reference's
// cron-driven GC of abandoned two-phase transactions).
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	cutoff := m.nowFn().Add(-m.opts.TTL)
	n, err := m.store.ExpireStaleTransactions(ctx, cutoff)
	if err != nil {
		return 0, wrap("ExpireStale", err)
	}
	return n, nil
}

// beginAndSnapshot validates the request, fetches and orders the
// snapshot, embeds the query, and returns an unsaved pending
// Transaction plus that snapshot. Both SingleShot and Initiate share it
// so their notion of "the memory set at query time" is identical, and
// so the query is embedded exactly once regardless of which path a
// caller takes (§4.7: "initiate: embed query").
func (m *Manager) beginAndSnapshot(ctx context.Context, req Request) (*storage.Transaction, []*storage.Memory, error) {
	snapshot, err := m.store.GetMemoriesOrdered(ctx, req.MemoryIDs, false)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(snapshot))
	for i, mem := range snapshot {
		ids[i] = mem.ID
	}
	queryVecs, err := m.embed.Embed(ctx, []string{req.QueryText})
	if err != nil {
		return nil, nil, err
	}
	txn := &storage.Transaction{
		ID:                m.newID(),
		AgentID:           req.AgentID,
		UserID:            req.UserID,
		QueryText:         req.QueryText,
		QueryEmbedding:    queryVecs[0],
		SnapshotMemoryIDs: ids,
		Status:            storage.TxnPending,
		Method:            string(req.Method),
		CreatedAt:         m.nowFn(),
	}
	return txn, snapshot, nil
}

// attributeAndRecord scores the snapshot against the response, persists
// the resulting scores, bumps each memory's Welford profile, and
// records the interaction and attribution edges into the provenance
// graph.
//
// EAS is always computed first, from the snapshot's already-stored
// embeddings and the query embedding captured at Initiate/SingleShot
// time (§4.7's split: no memory or query content is re-embedded here,
// only the response text, which doesn't exist until this point).
// txn.Method (the request's requested method, persisted verbatim at
// snapshot time) then selects what runs on top of that baseline: an
// explicit "contextcite" reruns ContextCite and "exact"/"approx" run
// Shapley, both only when an oracle is set; anything else stays EAS, with
// a sampled slice of production traffic promoted to ContextCite per
// opts.ContextCiteSampleRate (§9's tiering). EASOnly overrides all of
// the above and forces the baseline.
func (m *Manager) attributeAndRecord(ctx context.Context, txn *storage.Transaction, snapshot []*storage.Memory, responseText string) ([]*storage.AttributionScore, error) {
	if len(snapshot) == 0 {
		return nil, nil
	}

	requested := attribution.Method(txn.Method)

	memoryVecs := make([][]float32, len(snapshot))
	for i, mem := range snapshot {
		memoryVecs[i] = mem.Embedding
	}
	respVecs, err := m.embed.Embed(ctx, []string{responseText})
	if err != nil {
		return nil, err
	}
	responseVec := respVecs[0]

	txn.Method = string(attribution.MethodEAS)
	results, err := attribution.EAS(memoryVecs, txn.QueryEmbedding, responseVec)
	if err != nil {
		return nil, err
	}

	if !m.opts.EASOnly {
		switch {
		case requested == attribution.MethodContextCite && m.oracle != nil,
			requested == "" && m.oracle != nil && m.sampleFn() < m.opts.ContextCiteSampleRate:
			contents := make([]string, len(snapshot))
			for i, mem := range snapshot {
				contents[i] = mem.Content
			}
			ccResults, err := attribution.ContextCite(ctx, m.oracle, txn.QueryText, responseText, contents, m.opts.ContextCite)
			if err == nil && len(ccResults) == len(results) {
				results = ccResults
				txn.Method = string(attribution.MethodContextCite)
			}
		case (requested == attribution.MethodExact || requested == attribution.MethodApprox) && m.oracle != nil:
			shapleyResults, method, err := m.runShapley(ctx, requested, txn, snapshot, responseText)
			if err == nil && len(shapleyResults) == len(results) {
				results = shapleyResults
				txn.Method = string(method)
			}
		}
	}

	scores := make([]*storage.AttributionScore, len(snapshot))
	now := m.nowFn()
	for i, mem := range snapshot {
		scores[i] = &storage.AttributionScore{
			ID:            m.newID(),
			MemoryID:      mem.ID,
			TransactionID: txn.ID,
			Score:         results[i].Score,
			RawScore:      results[i].RawScore,
			Method:        storage.ScoreType(results[i].Method),
			Confidence:    results[i].Confidence,
			ComputeMS:     int64(results[i].ComputeMS),
			CreatedAt:     now,
		}
	}
	if err := m.store.InsertAttributionScores(ctx, scores); err != nil {
		return nil, err
	}

	for i, mem := range snapshot {
		if _, err := m.store.UpsertProfile(ctx, mem.ID, results[i].Score, now); err != nil {
			return nil, err
		}
	}

	if m.graph != nil {
		m.recordProvenance(txn, snapshot, scores, now)
	}
	return scores, nil
}

// runShapley scores the snapshot with the exact or Monte-Carlo Shapley
// engine (C5), using the oracle's response log-probability under a
// masked subset of memories as the value function — the same oracle
// ContextCite ablates over, reused here as Shapley's coalition value.
// A MethodExact request above opts.ShapleyMaxExactK, or one
// ExactShapley otherwise rejects as infeasible, falls back to
// TMCShapley rather than failing the transaction.
func (m *Manager) runShapley(ctx context.Context, requested attribution.Method, txn *storage.Transaction, snapshot []*storage.Memory, responseText string) ([]attribution.Result, attribution.Method, error) {
	contents := make([]string, len(snapshot))
	for i, mem := range snapshot {
		contents[i] = mem.Content
	}
	k := len(contents)
	value := func(ctx context.Context, subset []int) (float64, error) {
		mask := make([]bool, k)
		for _, idx := range subset {
			mask[idx] = true
		}
		return m.oracle.LogProb(ctx, txn.QueryText, responseText, contents, mask)
	}

	if requested == attribution.MethodExact && k <= m.opts.ShapleyMaxExactK {
		results, err := attribution.ExactShapley(ctx, k, value)
		if err == nil {
			return results, attribution.MethodExact, nil
		}
		if !errors.Is(err, attribution.ErrInfeasibleExactShapley) {
			return nil, "", err
		}
	}

	results, err := attribution.TMCShapley(ctx, k, value, attribution.TMCShapleyOptions{Samples: m.opts.ShapleyMCSamples})
	if err != nil {
		return nil, "", err
	}
	return results, attribution.MethodApprox, nil
}

// recordProvenance builds the interaction node and one attribution edge
// per scored memory and hands them to the graph as a single append
// (§4.8's RecordTransaction).
func (m *Manager) recordProvenance(txn *storage.Transaction, snapshot []*storage.Memory, scores []*storage.AttributionScore, now time.Time) {
	interaction := provenance.Node{
		ID:        txn.ID,
		Type:      provenance.NodeInteraction,
		OwnerID:   txn.UserID,
		CreatedAt: now,
		Payload: map[string]any{
			"agent_id": txn.AgentID,
			"query":    txn.QueryText,
		},
	}
	edges := make([]provenance.Edge, len(scores))
	for i, s := range scores {
		edges[i] = provenance.Edge{
			ID:         m.newID(),
			Type:       provenance.EdgeAttribution,
			SourceID:   s.MemoryID,
			SourceType: provenance.NodeMemory,
			TargetID:   interaction.ID,
			TargetType: provenance.NodeInteraction,
			Score:      s.Score,
			Version:    1,
			IsCurrent:  true,
			CreatedAt:  now,
		}
	}
	m.graph.RecordTransaction(interaction, edges)
}
