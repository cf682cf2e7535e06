package core

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlabs/cortex-engine-go/pkg/profile"
	"github.com/cortexlabs/cortex-engine-go/pkg/provenance"
	"github.com/cortexlabs/cortex-engine-go/pkg/storage"
	"github.com/cortexlabs/cortex-engine-go/pkg/transaction"
)

// White-box tests: Client's fields are unexported, so this file lives
// in package core (not core_test) and builds Client by hand around
// fakes rather than through New, which dials real backends.

type fakeStore struct {
	memories map[string]*storage.Memory
	profiles map[string]profile.Profile
}

func newFakeStore() *fakeStore {
	return &fakeStore{memories: map[string]*storage.Memory{}, profiles: map[string]profile.Profile{}}
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
		if m, ok := s.memories[id]; ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
func (s *fakeStore) PatchMemory(ctx context.Context, id string, tier *storage.Tier, metadata map[string]any) (*storage.Memory, error) {
	m, ok := s.memories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if tier != nil {
		m.Tier = *tier
	}
	if metadata != nil {
		m.Metadata = metadata
	}
	return m, nil
}
func (s *fakeStore) SoftDeleteMemory(ctx context.Context, id string, now time.Time) error {
	m, ok := s.memories[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.Status = storage.StatusPendingDeletion
	m.DeletedAt = &now
	return nil
}
func (s *fakeStore) BumpMemoryAccess(ctx context.Context, id string, now time.Time) error { return nil }

func (s *fakeStore) CreateTransaction(ctx context.Context, t *storage.Transaction) error { return nil }
func (s *fakeStore) GetTransaction(ctx context.Context, id string) (*storage.Transaction, error) {
	return nil, storage.ErrNotFound
}
func (s *fakeStore) CompleteTransaction(ctx context.Context, id, responseText string, now time.Time) error {
	return nil
}
func (s *fakeStore) ExpireStaleTransactions(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}

func (s *fakeStore) InsertAttributionScores(ctx context.Context, scores []*storage.AttributionScore) error {
	return nil
}
func (s *fakeStore) GetScoresByTransaction(ctx context.Context, transactionID string) ([]*storage.AttributionScore, error) {
	return nil, nil
}
func (s *fakeStore) GetScoresByMemory(ctx context.Context, memoryID string) ([]*storage.AttributionScore, error) {
	return nil, nil
}

func (s *fakeStore) UpsertProfile(ctx context.Context, memoryID string, score float64, now time.Time) (profile.Profile, error) {
	p := profile.Update(s.profiles[memoryID], score, now)
	p.MemoryID = memoryID
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
	return &storage.DashboardOverview{TotalMemories: int64(len(s.memories))}, nil
}
func (s *fakeStore) Close() error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) Close() error    { return nil }

func newTestClient(store *fakeStore) *Client {
	graph := provenance.NewGraph()
	embed := fakeEmbedder{}
	txns := transaction.NewManager(store, embed, nil, graph, transaction.Options{})
	i := 0
	return &Client{
		store: store,
		embed: embed,
		graph: graph,
		txns:  txns,
		newID: func() string { i++; return "id-" + string(rune('a'+i)) },
		nowFn: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestCreateMemoryPersistsAndEmbeds(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)

	snap, err := c.CreateMemory(context.Background(), "user-1", "agent-1", "hello world", storage.MemoryTypeRaw, storage.TierHot, storage.CriticalityNormal)
	require.NoError(t, err)
	assert.Equal(t, "hello world", snap.Content)
	assert.Equal(t, string(storage.StatusActive), snap.Status)
	assert.Greater(t, snap.Tokens, 0)
	assert.Len(t, store.memories, 1)
}

func TestCreateMemoryRejectsEmptyContent(t *testing.T) {
	c := newTestClient(newFakeStore())
	_, err := c.CreateMemory(context.Background(), "user-1", "agent-1", "", storage.MemoryTypeRaw, storage.TierHot, storage.CriticalityNormal)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSoftDeleteMemoryTransitionsStatus(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)

	snap, err := c.CreateMemory(context.Background(), "user-1", "agent-1", "some content", storage.MemoryTypeRaw, storage.TierHot, storage.CriticalityNormal)
	require.NoError(t, err)

	require.NoError(t, c.SoftDeleteMemory(context.Background(), snap.ID))
	assert.Equal(t, storage.StatusPendingDeletion, store.memories[snap.ID].Status)
}

func TestCreateMemoryReachableFromOwnerFootprint(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)

	snap, err := c.CreateMemory(context.Background(), "user-9", "agent-1", "some content", storage.MemoryTypeRaw, storage.TierHot, storage.CriticalityNormal)
	require.NoError(t, err)

	footprint, err := c.ComplianceFootprint(context.Background(), "user-9")
	require.NoError(t, err)
	assert.Contains(t, footprint.MemoryIDs, snap.ID)

	cert, err := c.ComplianceDelete(context.Background(), "user-9", RequestGDPRDeletion)
	require.NoError(t, err)
	assert.Contains(t, cert.MemoryIDs, snap.ID)
	assert.Equal(t, storage.StatusPendingDeletion, store.memories[snap.ID].Status)
}

func TestComplianceDeleteRunsVerificationPass(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)

	cert, err := c.ComplianceDelete(context.Background(), "user-9", RequestGDPRDeletion)
	require.NoError(t, err)
	assert.Equal(t, RequestGDPRDeletion, cert.RequestType)
	assert.True(t, cert.Verified, "an empty footprint has nothing to leave dangling")
	assert.NotEmpty(t, cert.CertificateHash)
	assert.NotEmpty(t, cert.CertificateID)
}

func TestDashboardOverviewReflectsMemoryCount(t *testing.T) {
	store := newFakeStore()
	c := newTestClient(store)

	_, err := c.CreateMemory(context.Background(), "user-1", "agent-1", "one", storage.MemoryTypeRaw, storage.TierHot, storage.CriticalityNormal)
	require.NoError(t, err)
	_, err = c.CreateMemory(context.Background(), "user-1", "agent-1", "two", storage.MemoryTypeRaw, storage.TierHot, storage.CriticalityNormal)
	require.NoError(t, err)

	overview, err := c.DashboardOverview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), overview.TotalMemories)
}
