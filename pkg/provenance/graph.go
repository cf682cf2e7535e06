// Package provenance implements the append-only provenance DAG (§4.8):
// nodes for interactions, memories, summaries, embeddings, and
// responses, connected by creation, attribution, derivation, and
// statement-attribution edges. Graph answers footprint and influence
// queries and issues compliance certificates over the result.
package provenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cortexlabs/cortex-engine-go/pkg/vector"
)

// NodeType discriminates the five node tables the DAG spans.
type NodeType string

const (
	NodeInteraction NodeType = "interaction"
	NodeMemory      NodeType = "memory"
	NodeSummary     NodeType = "summary"
	NodeEmbedding   NodeType = "embedding"
	NodeResponse    NodeType = "response"
)

// EdgeType discriminates the four edge tables the DAG spans.
type EdgeType string

const (
	EdgeCreation             EdgeType = "creation"
	EdgeAttribution          EdgeType = "attribution"
	EdgeDerivation           EdgeType = "derivation"
	EdgeStatementAttribution EdgeType = "statement_attribution"
)

// DerivationType names why a derivation edge exists.
type DerivationType string

const (
	DerivationConsolidation DerivationType = "consolidation"
	DerivationEmbedding     DerivationType = "embedding"
	DerivationReEmbedding   DerivationType = "re_embedding"
	DerivationSummary       DerivationType = "summary"
)

// Node is a single vertex in the DAG. Payload carries type-specific
// fields (owner, content ref, vector_ref, etc); the DAG itself only
// needs ID, Type, and creation time to compute reachability.
type Node struct {
	ID        string
	Type      NodeType
	OwnerID   string // user_id for InteractionNode/MemoryNode; empty otherwise
	CreatedAt time.Time
	Payload   map[string]any
}

// Edge is a single directed arc. SourceType/TargetType make derivation
// edges polymorphic without cross-table foreign keys: endpoints span
// three node tables, so the pair is carried as a tag rather than
// resolved through a shared schema.
type Edge struct {
	ID         string
	Type       EdgeType
	SourceID   string
	SourceType NodeType
	TargetID   string
	TargetType NodeType
	Derivation DerivationType // only meaningful when Type == EdgeDerivation
	Score      float64        // only meaningful when Type == EdgeAttribution
	Version    int            // only meaningful when Type == EdgeAttribution
	IsCurrent  bool           // only meaningful when Type == EdgeAttribution
	CreatedAt  time.Time
}

// Graph is an in-memory, mutex-guarded provenance DAG. Concrete storage
// backends persist Nodes/Edges as append-only rows (or JSON-payload
// rows, see pkg/storage); Graph is the traversal and certificate layer
// on top, and can be rehydrated from storage by replaying AddNode/
// AddEdge in insertion order.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	// outCreation/outDerivation index edges by source for fixed-point
	// footprint expansion; outAttribution indexes only is_current edges
	// by source memory for influence queries.
	outCreation   map[string][]Edge
	outDerivation map[string][]Edge
	outAttribution map[string][]Edge
	edgesByID     map[string]Edge
	// attributionVersions tracks the current edge id per (source,target)
	// pair so UpdateAttribution can flip is_current atomically.
	attributionVersions map[string]string
}

// NewGraph creates an empty provenance DAG.
func NewGraph() *Graph {
	return &Graph{
		nodes:               make(map[string]Node),
		outCreation:         make(map[string][]Edge),
		outDerivation:       make(map[string][]Edge),
		outAttribution:      make(map[string][]Edge),
		edgesByID:           make(map[string]Edge),
		attributionVersions: make(map[string]string),
	}
}

func attributionKey(sourceID, targetID string) string {
	return sourceID + "->" + targetID
}

// AddNode inserts a node. Nodes are never mutated once added, except
// via the MemoryNode.status advance modeled by callers re-adding the
// node with an updated Payload["status"] (the DAG itself does not
// enforce the monotonic sequence).
func (g *Graph) AddNode(n Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[n.ID] = n
}

// AddEdge inserts an edge, indexing it for traversal.
func (g *Graph) AddEdge(e Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edgesByID[e.ID] = e
	switch e.Type {
	case EdgeCreation:
		g.outCreation[e.SourceID] = append(g.outCreation[e.SourceID], e)
	case EdgeDerivation:
		g.outDerivation[e.SourceID] = append(g.outDerivation[e.SourceID], e)
	case EdgeAttribution:
		if e.IsCurrent {
			g.outAttribution[e.SourceID] = append(g.outAttribution[e.SourceID], e)
			g.attributionVersions[attributionKey(e.SourceID, e.TargetID)] = e.ID
		}
	}
}

// RecordTransaction records an InteractionNode plus one AttributionEdge
// per (memory, score) pair, per §4.8's record_transaction.
func (g *Graph) RecordTransaction(interaction Node, edges []Edge) {
	g.AddNode(interaction)
	for _, e := range edges {
		e.Type = EdgeAttribution
		e.IsCurrent = true
		if e.Version == 0 {
			e.Version = 1
		}
		g.AddEdge(e)
	}
}

// RecordMemoryCreation records MemoryNode + CreationEdge(interaction->memory)
// + EmbeddingNode + DerivationEdge(memory->embedding, embedding).
func (g *Graph) RecordMemoryCreation(memory, embedding Node, creation, derivation Edge) {
	g.AddNode(memory)
	g.AddNode(embedding)
	creation.Type = EdgeCreation
	creation.TargetType = NodeMemory
	g.AddEdge(creation)
	derivation.Type = EdgeDerivation
	derivation.Derivation = DerivationEmbedding
	derivation.SourceType = NodeMemory
	derivation.TargetType = NodeEmbedding
	g.AddEdge(derivation)
}

// RecordConsolidation records a SummaryNode plus one
// DerivationEdge(memory->summary, derivation_type=consolidation) per
// source memory.
func (g *Graph) RecordConsolidation(summary Node, sourceMemoryIDs []string, newEdgeID func() string) {
	g.AddNode(summary)
	for _, memID := range sourceMemoryIDs {
		g.AddEdge(Edge{
			ID:         newEdgeID(),
			Type:       EdgeDerivation,
			SourceID:   memID,
			SourceType: NodeMemory,
			TargetID:   summary.ID,
			TargetType: NodeSummary,
			Derivation: DerivationConsolidation,
			CreatedAt:  summary.CreatedAt,
		})
	}
}

// RecordContextCite records a ResponseNode plus one
// StatementAttributionEdge per (statement, memory) pair.
func (g *Graph) RecordContextCite(response Node, edges []Edge) {
	g.AddNode(response)
	for _, e := range edges {
		e.Type = EdgeStatementAttribution
		g.AddEdge(e)
	}
}

// UpdateAttribution inserts a new attribution edge with
// version = prev.version + 1, is_current = true, and marks the
// previous current edge for (sourceID, targetID) is_current = false.
// The flip and insert happen while holding the write lock so no reader
// observes two current edges for the same pair.
func (g *Graph) UpdateAttribution(sourceID, targetID string, score float64, now time.Time, newEdgeID string) Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := attributionKey(sourceID, targetID)
	version := 1
	if prevID, ok := g.attributionVersions[key]; ok {
		prev := g.edgesByID[prevID]
		prev.IsCurrent = false
		g.edgesByID[prevID] = prev
		version = prev.Version + 1
		g.removeFromCurrentIndex(sourceID, prevID)
	}

	e := Edge{
		ID:         newEdgeID,
		Type:       EdgeAttribution,
		SourceID:   sourceID,
		SourceType: NodeMemory,
		TargetID:   targetID,
		TargetType: NodeInteraction,
		Score:      score,
		Version:    version,
		IsCurrent:  true,
		CreatedAt:  now,
	}
	g.edgesByID[e.ID] = e
	g.outAttribution[sourceID] = append(g.outAttribution[sourceID], e)
	g.attributionVersions[key] = e.ID
	return e
}

func (g *Graph) removeFromCurrentIndex(sourceID, edgeID string) {
	edges := g.outAttribution[sourceID]
	for i, e := range edges {
		if e.ID == edgeID {
			g.outAttribution[sourceID] = append(edges[:i], edges[i+1:]...)
			return
		}
	}
}

// Footprint is the result of a Footprint(u) query: every node reachable
// from u's interactions, plus a reproducible certificate hash.
type Footprint struct {
	InteractionIDs []string
	MemoryIDs      []string
	SummaryIDs     []string
	EmbeddingIDs   []string
	CertificateHash string
}

// Footprint computes F(u): all nodes reachable from user u's
// interactions by following creation edges, then repeatedly following
// derivation edges to a fixed point (§4.8).
func (g *Graph) Footprint(ctx context.Context, userID string) (Footprint, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seed := make(map[string]bool)
	for id, n := range g.nodes {
		if n.Type == NodeInteraction && n.OwnerID == userID {
			seed[id] = true
		}
	}

	reached := make(map[string]bool, len(seed))
	for id := range seed {
		reached[id] = true
	}

	// Expand along creation edges from every reached node once.
	frontier := make([]string, 0, len(reached))
	for id := range reached {
		frontier = append(frontier, id)
	}
	for _, id := range frontier {
		for _, e := range g.outCreation[id] {
			if !reached[e.TargetID] {
				reached[e.TargetID] = true
			}
		}
	}

	// Fixed-point expansion along derivation edges.
	for {
		select {
		case <-ctx.Done():
			return Footprint{}, ctx.Err()
		default:
		}
		grew := false
		for id := range reached {
			for _, e := range g.outDerivation[id] {
				if !reached[e.TargetID] {
					reached[e.TargetID] = true
					grew = true
				}
			}
		}
		if !grew {
			break
		}
	}

	fp := Footprint{}
	for id := range reached {
		n := g.nodes[id]
		switch n.Type {
		case NodeInteraction:
			fp.InteractionIDs = append(fp.InteractionIDs, id)
		case NodeMemory:
			fp.MemoryIDs = append(fp.MemoryIDs, id)
		case NodeSummary:
			fp.SummaryIDs = append(fp.SummaryIDs, id)
		case NodeEmbedding:
			fp.EmbeddingIDs = append(fp.EmbeddingIDs, id)
		}
	}
	sort.Strings(fp.InteractionIDs)
	sort.Strings(fp.MemoryIDs)
	sort.Strings(fp.SummaryIDs)
	sort.Strings(fp.EmbeddingIDs)
	fp.CertificateHash = certificateHash(fp)
	return fp, nil
}

// certificateHash is a SHA-256 hash over the canonical (sorted)
// serialization of the footprint, reproducible across runs given the
// same F(u) (Scenario F).
func certificateHash(fp Footprint) string {
	h := sha256.New()
	write := func(label string, ids []string) {
		fmt.Fprintf(h, "%s:%d:", label, len(ids))
		for _, id := range ids {
			h.Write([]byte(id))
			h.Write([]byte{0})
		}
	}
	write("interaction", fp.InteractionIDs)
	write("memory", fp.MemoryIDs)
	write("summary", fp.SummaryIDs)
	write("embedding", fp.EmbeddingIDs)
	return hex.EncodeToString(h.Sum(nil))
}

// Influence computes I(u): distinct target interactions reached from
// F(u)'s memories via is_current=true attribution edges with score > 0.
func (g *Graph) Influence(ctx context.Context, fp Footprint) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	seen := make(map[string]bool)
	var targets []string
	for _, memID := range fp.MemoryIDs {
		for _, e := range g.outAttribution[memID] {
			if e.IsCurrent && e.Score > 0 && !seen[e.TargetID] {
				seen[e.TargetID] = true
				targets = append(targets, e.TargetID)
			}
		}
	}
	sort.Strings(targets)
	return targets, nil
}

// VerificationResult reports the compliance verification pass for a
// certificate: orphan-edge, attribution-zero and vector-proximity
// checks over F(u).
type VerificationResult struct {
	Verified    bool
	OrphanEdges []string // edge IDs whose source or target is missing
	Issues      []string
}

// vectorProximityThreshold is the cosine similarity above which two
// embedding vectors are treated as the same content: a footprint
// embedding scoring above this against a node left outside the
// footprint indicates the deleted content is still reachable under a
// different id (a stray replica the cascade missed).
const vectorProximityThreshold = 0.999

func vectorPayload(n Node) ([]float32, bool) {
	if n.Payload == nil {
		return nil, false
	}
	v, ok := n.Payload["vector"].([]float32)
	return v, ok
}

// VerifyCertificate checks the given footprint fp (it does not recompute
// F(u); userID is not consulted) for the three consistency conditions
// §7's "GDPR cascade inconsistency" implies: no derivation edge from a
// memory in F(u) points outside F(u) (invariant 8), no memory in F(u)
// has only zero-score current attribution edges leaving it (which
// would indicate a partially-cascaded delete), and no embedding in F(u)
// remains near-duplicated by a vector outside F(u). A supplemented
// feature: spec.md names the failure mode but not the checks.
func (g *Graph) VerifyCertificate(ctx context.Context, userID string, fp Footprint) (VerificationResult, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inFootprint := make(map[string]bool)
	for _, id := range fp.InteractionIDs {
		inFootprint[id] = true
	}
	for _, id := range fp.MemoryIDs {
		inFootprint[id] = true
	}
	for _, id := range fp.SummaryIDs {
		inFootprint[id] = true
	}
	for _, id := range fp.EmbeddingIDs {
		inFootprint[id] = true
	}

	result := VerificationResult{Verified: true}
	for _, memID := range fp.MemoryIDs {
		for _, e := range g.outDerivation[memID] {
			if !inFootprint[e.TargetID] {
				result.Verified = false
				result.OrphanEdges = append(result.OrphanEdges, e.ID)
				result.Issues = append(result.Issues, fmt.Sprintf("derivation edge %s escapes footprint: %s -> %s", e.ID, e.SourceID, e.TargetID))
			}
		}
	}

	for _, memID := range fp.MemoryIDs {
		hasNonZero := false
		total := 0
		for _, e := range g.outAttribution[memID] {
			if e.IsCurrent {
				total++
				if e.Score > 0 {
					hasNonZero = true
				}
			}
		}
		if total > 0 && !hasNonZero {
			result.Verified = false
			result.Issues = append(result.Issues, fmt.Sprintf("memory %s has only zero-score current attribution edges", memID))
		}
	}

	for _, embID := range fp.EmbeddingIDs {
		embNode, ok := g.nodes[embID]
		if !ok {
			continue
		}
		vec, ok := vectorPayload(embNode)
		if !ok {
			continue
		}
		for otherID, otherNode := range g.nodes {
			if otherNode.Type != NodeEmbedding || inFootprint[otherID] {
				continue
			}
			otherVec, ok := vectorPayload(otherNode)
			if !ok {
				continue
			}
			sim, err := vector.Cosine(vec, otherVec)
			if err != nil {
				continue
			}
			if sim > vectorProximityThreshold {
				result.Verified = false
				result.Issues = append(result.Issues, fmt.Sprintf("embedding %s remains near-duplicated by %s outside the footprint (cosine %.4f)", embID, otherID, sim))
			}
		}
	}

	return result, nil
}
