package transaction_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlabs/cortex-engine-go/pkg/attribution"
	"github.com/cortexlabs/cortex-engine-go/pkg/profile"
	"github.com/cortexlabs/cortex-engine-go/pkg/provenance"
	"github.com/cortexlabs/cortex-engine-go/pkg/storage"
	"github.com/cortexlabs/cortex-engine-go/pkg/transaction"
)

// linearOracle mimics an LLM whose log-prob grows with the number of
// memories included in the mask, giving Shapley/ContextCite something
// non-degenerate to fit.
type linearOracle struct{}

func (linearOracle) LogProb(_ context.Context, _, _ string, _ []string, mask []bool) (float64, error) {
	var s float64
	for i, on := range mask {
		if on {
			s += float64(i) + 1
		}
	}
	return s, nil
}

// fakeStore is a minimal in-memory storage.Store sufficient to drive
// the transaction manager's tests without a real SQL backend.
type fakeStore struct {
	memories     map[string]*storage.Memory
	transactions map[string]*storage.Transaction
	scores       []*storage.AttributionScore
	profiles     map[string]profile.Profile
}

func newFakeStore(mems ...*storage.Memory) *fakeStore {
	s := &fakeStore{
		memories:     map[string]*storage.Memory{},
		transactions: map[string]*storage.Transaction{},
		profiles:     map[string]profile.Profile{},
	}
	for _, m := range mems {
		s.memories[m.ID] = m
	}
	return s
}

func (s *fakeStore) CreateMemory(ctx context.Context, m *storage.Memory) error {
	s.memories[m.ID] = m
	return nil
}
func (s *fakeStore) GetMemory(ctx context.Context, id string) (*storage.Memory, error) {
	m, ok := s.memories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m, nil
}
func (s *fakeStore) GetMemoriesOrdered(ctx context.Context, ids []string, ignoreSoftDelete bool) ([]*storage.Memory, error) {
	out := make([]*storage.Memory, 0, len(ids))
	for _, id := range ids {
		m, ok := s.memories[id]
		if !ok {
			continue
		}
		if !ignoreSoftDelete && m.Status == storage.StatusDeleted {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (s *fakeStore) PatchMemory(ctx context.Context, id string, tier *storage.Tier, metadata map[string]any) (*storage.Memory, error) {
	return s.memories[id], nil
}
func (s *fakeStore) SoftDeleteMemory(ctx context.Context, id string, now time.Time) error {
	if m, ok := s.memories[id]; ok {
		m.Status = storage.StatusDeleted
		m.DeletedAt = &now
	}
	return nil
}
func (s *fakeStore) BumpMemoryAccess(ctx context.Context, id string, now time.Time) error { return nil }

func (s *fakeStore) CreateTransaction(ctx context.Context, t *storage.Transaction) error {
	s.transactions[t.ID] = t
	return nil
}
func (s *fakeStore) GetTransaction(ctx context.Context, id string) (*storage.Transaction, error) {
	t, ok := s.transactions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t, nil
}
func (s *fakeStore) CompleteTransaction(ctx context.Context, id, responseText string, now time.Time) error {
	t, ok := s.transactions[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.ResponseText = responseText
	t.Status = storage.TxnCompleted
	t.CompletedAt = &now
	return nil
}
func (s *fakeStore) ExpireStaleTransactions(ctx context.Context, olderThan time.Time) (int, error) {
	n := 0
	for _, t := range s.transactions {
		if t.Status == storage.TxnPending && t.CreatedAt.Before(olderThan) {
			t.Status = storage.TxnFailed
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) InsertAttributionScores(ctx context.Context, scores []*storage.AttributionScore) error {
	s.scores = append(s.scores, scores...)
	return nil
}
func (s *fakeStore) GetScoresByTransaction(ctx context.Context, transactionID string) ([]*storage.AttributionScore, error) {
	var out []*storage.AttributionScore
	for _, sc := range s.scores {
		if sc.TransactionID == transactionID {
			out = append(out, sc)
		}
	}
	return out, nil
}
func (s *fakeStore) GetScoresByMemory(ctx context.Context, memoryID string) ([]*storage.AttributionScore, error) {
	return nil, nil
}

func (s *fakeStore) UpsertProfile(ctx context.Context, memoryID string, score float64, now time.Time) (profile.Profile, error) {
	p := s.profiles[memoryID]
	p.MemoryID = memoryID
	p = profile.Update(p, score, now)
	s.profiles[memoryID] = p
	return p, nil
}
func (s *fakeStore) GetProfile(ctx context.Context, memoryID string) (profile.Profile, error) {
	return s.profiles[memoryID], nil
}

func (s *fakeStore) GetAgentCostConfig(ctx context.Context, agentID string) (*storage.AgentCostConfig, error) {
	return nil, storage.ErrNotFound
}

func (s *fakeStore) SaveProvenanceNode(ctx context.Context, n provenance.Node) error { return nil }
func (s *fakeStore) SaveProvenanceEdge(ctx context.Context, e provenance.Edge) error { return nil }
func (s *fakeStore) LoadProvenanceGraph(ctx context.Context) (*provenance.Graph, error) {
	return provenance.NewGraph(), nil
}

func (s *fakeStore) ListContradictions(ctx context.Context) ([]*storage.Contradiction, error) {
	return nil, nil
}
func (s *fakeStore) ListMemoriesByOwner(ctx context.Context, ownerID string) ([]*storage.Memory, error) {
	return nil, nil
}
func (s *fakeStore) ListAllMemories(ctx context.Context) ([]*storage.Memory, error) { return nil, nil }
func (s *fakeStore) DashboardOverview(ctx context.Context) (*storage.DashboardOverview, error) {
	return nil, nil
}
func (s *fakeStore) Close() error { return nil }

// fakeEmbedder returns a fixed, distinguishable vector (components in
// 1..11, not normalized) per input string so EAS has something
// non-degenerate to score.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32((len(t)+j*7+i)%11) + 1
		}
		out[i] = v
	}
	return out, nil
}
func (f fakeEmbedder) Dimensions() int { return f.dim }
func (f fakeEmbedder) Close() error    { return nil }

// newMemory builds a fixture memory carrying a pre-computed embedding,
// standing in for the vector CreateMemory would have stored at
// memory.create time — attributeAndRecord reads it directly rather than
// re-embedding content.
func newMemory(id, content string) *storage.Memory {
	emb := make([]float32, 8)
	for j := range emb {
		emb[j] = float32((len(content)+j*7)%11) + 1
	}
	return &storage.Memory{ID: id, Content: content, Embedding: emb, Status: storage.StatusActive, Type: storage.MemoryTypeRaw}
}

func TestSingleShotProducesScoresForEveryMemory(t *testing.T) {
	store := newFakeStore(newMemory("m1", "the sky is blue"), newMemory("m2", "water boils at 100C"))
	graph := provenance.NewGraph()
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, nil, graph, transaction.Options{})

	outcome, err := mgr.SingleShot(context.Background(), transaction.Request{
		AgentID:   "agent-1",
		UserID:    "user-1",
		QueryText: "what color is the sky",
		MemoryIDs: []string{"m1", "m2"},
	}, "the sky is blue")
	require.NoError(t, err)
	assert.Len(t, outcome.Scores, 2)
	assert.Equal(t, storage.TxnCompleted, outcome.Transaction.Status)
	assert.Len(t, store.scores, 2)

	targets, err := graph.Influence(context.Background(), provenance.Footprint{MemoryIDs: []string{"m1", "m2"}})
	require.NoError(t, err)
	assert.Contains(t, targets, outcome.Transaction.ID)
}

func TestInitiateThenCompleteMatchesSingleShot(t *testing.T) {
	store := newFakeStore(newMemory("m1", "alpha"), newMemory("m2", "beta"))
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, nil, provenance.NewGraph(), transaction.Options{})

	txn, err := mgr.Initiate(context.Background(), transaction.Request{
		AgentID: "agent-1", UserID: "user-1", QueryText: "q", MemoryIDs: []string{"m2", "m1"},
	})
	require.NoError(t, err)
	assert.Equal(t, storage.TxnPending, txn.Status)
	assert.Equal(t, []string{"m1", "m2"}, txn.SnapshotMemoryIDs, "snapshot ids re-sorted deterministically")

	outcome, err := mgr.Complete(context.Background(), txn.ID, "the answer")
	require.NoError(t, err)
	assert.Len(t, outcome.Scores, 2)

	single, err := mgr.SingleShot(context.Background(), transaction.Request{
		AgentID: "agent-1", UserID: "user-1", QueryText: "q", MemoryIDs: []string{"m2", "m1"},
	}, "the answer")
	require.NoError(t, err)
	require.Len(t, single.Scores, 2)
	for i := range single.Scores {
		assert.Equal(t, single.Scores[i].MemoryID, outcome.Scores[i].MemoryID)
		assert.Equal(t, single.Scores[i].Score, outcome.Scores[i].Score)
	}
}

func TestCompleteAfterSoftDeleteStillScores(t *testing.T) {
	store := newFakeStore(newMemory("m1", "alpha"))
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, nil, provenance.NewGraph(), transaction.Options{})

	txn, err := mgr.Initiate(context.Background(), transaction.Request{MemoryIDs: []string{"m1"}, QueryText: "q"})
	require.NoError(t, err)

	require.NoError(t, store.SoftDeleteMemory(context.Background(), "m1", time.Now()))

	outcome, err := mgr.Complete(context.Background(), txn.ID, "resp")
	require.NoError(t, err)
	assert.Len(t, outcome.Scores, 1)
}

func TestCompleteUnknownTransactionFails(t *testing.T) {
	store := newFakeStore()
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, nil, provenance.NewGraph(), transaction.Options{})

	_, err := mgr.Complete(context.Background(), "does-not-exist", "resp")
	assert.ErrorIs(t, err, transaction.ErrUnknownTransaction)
}

func TestDuplicateCompleteIsIdempotent(t *testing.T) {
	store := newFakeStore(newMemory("m1", "alpha"))
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, nil, provenance.NewGraph(), transaction.Options{})

	txn, err := mgr.Initiate(context.Background(), transaction.Request{MemoryIDs: []string{"m1"}, QueryText: "q"})
	require.NoError(t, err)

	_, err = mgr.Complete(context.Background(), txn.ID, "resp")
	require.NoError(t, err)

	_, err = mgr.Complete(context.Background(), txn.ID, "resp-again")
	assert.ErrorIs(t, err, transaction.ErrAlreadyCompleted)
}

func TestExpiredTransactionRejectsComplete(t *testing.T) {
	store := newFakeStore(newMemory("m1", "alpha"))
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, nil, provenance.NewGraph(), transaction.Options{TTL: time.Millisecond})

	txn, err := mgr.Initiate(context.Background(), transaction.Request{MemoryIDs: []string{"m1"}, QueryText: "q"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = mgr.Complete(context.Background(), txn.ID, "resp")
	assert.ErrorIs(t, err, transaction.ErrExpiredTransaction)
}

func TestExpireStaleMarksOldPendingAsFailed(t *testing.T) {
	store := newFakeStore(newMemory("m1", "alpha"))
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, nil, provenance.NewGraph(), transaction.Options{TTL: time.Millisecond})

	_, err := mgr.Initiate(context.Background(), transaction.Request{MemoryIDs: []string{"m1"}, QueryText: "q"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	n, err := mgr.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExplicitMethodContextCiteOverridesEAS(t *testing.T) {
	store := newFakeStore(newMemory("m1", "the sky is blue"), newMemory("m2", "water boils"))
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, linearOracle{}, provenance.NewGraph(), transaction.Options{})

	outcome, err := mgr.SingleShot(context.Background(), transaction.Request{
		QueryText: "what color is the sky", MemoryIDs: []string{"m1", "m2"}, Method: attribution.MethodContextCite,
	}, "the sky is blue")
	require.NoError(t, err)
	require.Len(t, outcome.Scores, 2)
	for _, s := range outcome.Scores {
		assert.Equal(t, storage.ScoreContextCite, s.Method)
	}
}

func TestExplicitMethodExactRunsShapley(t *testing.T) {
	store := newFakeStore(newMemory("m1", "alpha"), newMemory("m2", "beta"), newMemory("m3", "gamma"))
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, linearOracle{}, provenance.NewGraph(), transaction.Options{})

	outcome, err := mgr.SingleShot(context.Background(), transaction.Request{
		QueryText: "q", MemoryIDs: []string{"m1", "m2", "m3"}, Method: attribution.MethodExact,
	}, "resp")
	require.NoError(t, err)
	require.Len(t, outcome.Scores, 3)
	for _, s := range outcome.Scores {
		assert.Equal(t, storage.ScoreExact, s.Method)
		assert.Equal(t, 1.0, s.Confidence)
	}
}

func TestExplicitMethodApproxRunsTMCShapley(t *testing.T) {
	store := newFakeStore(newMemory("m1", "alpha"), newMemory("m2", "beta"))
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, linearOracle{}, provenance.NewGraph(), transaction.Options{ShapleyMCSamples: 20})

	outcome, err := mgr.SingleShot(context.Background(), transaction.Request{
		QueryText: "q", MemoryIDs: []string{"m1", "m2"}, Method: attribution.MethodApprox,
	}, "resp")
	require.NoError(t, err)
	require.Len(t, outcome.Scores, 2)
	for _, s := range outcome.Scores {
		assert.Equal(t, storage.ScoreApprox, s.Method)
	}
}

func TestExactShapleyAboveMaxKFallsBackToApprox(t *testing.T) {
	store := newFakeStore(newMemory("m1", "alpha"), newMemory("m2", "beta"))
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, linearOracle{}, provenance.NewGraph(), transaction.Options{ShapleyMaxExactK: 1})

	outcome, err := mgr.SingleShot(context.Background(), transaction.Request{
		QueryText: "q", MemoryIDs: []string{"m1", "m2"}, Method: attribution.MethodExact,
	}, "resp")
	require.NoError(t, err)
	require.Len(t, outcome.Scores, 2)
	for _, s := range outcome.Scores {
		assert.Equal(t, storage.ScoreApprox, s.Method, "k above ShapleyMaxExactK degrades to TMC approx")
	}
}

func TestDefaultMethodWithoutOracleStaysEAS(t *testing.T) {
	store := newFakeStore(newMemory("m1", "alpha"), newMemory("m2", "beta"))
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, nil, provenance.NewGraph(), transaction.Options{})

	outcome, err := mgr.SingleShot(context.Background(), transaction.Request{
		QueryText: "q", MemoryIDs: []string{"m1", "m2"},
	}, "resp")
	require.NoError(t, err)
	for _, s := range outcome.Scores {
		assert.Equal(t, storage.ScoreEAS, s.Method)
	}
}

func TestEASOnlyOverridesRequestedMethod(t *testing.T) {
	store := newFakeStore(newMemory("m1", "alpha"), newMemory("m2", "beta"))
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, linearOracle{}, provenance.NewGraph(), transaction.Options{EASOnly: true})

	outcome, err := mgr.SingleShot(context.Background(), transaction.Request{
		QueryText: "q", MemoryIDs: []string{"m1", "m2"}, Method: attribution.MethodContextCite,
	}, "resp")
	require.NoError(t, err)
	for _, s := range outcome.Scores {
		assert.Equal(t, storage.ScoreEAS, s.Method)
	}
}

func TestEmptyMemorySetProducesNoScores(t *testing.T) {
	store := newFakeStore()
	mgr := transaction.NewManager(store, fakeEmbedder{dim: 8}, nil, provenance.NewGraph(), transaction.Options{})

	outcome, err := mgr.SingleShot(context.Background(), transaction.Request{QueryText: "q"}, "resp")
	require.NoError(t, err)
	assert.Empty(t, outcome.Scores)
}
