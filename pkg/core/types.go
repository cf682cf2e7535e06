package core

import "time"

// MemorySnapshot is the caller-facing view of a stored memory, trimmed
// of the storage layer's internal fields.
type MemorySnapshot struct {
	ID             string
	OwnerID        string
	AgentID        string
	Content        string
	Type           string
	Status         string
	Criticality    string
	Tier           string
	ShardID        int
	Tokens         int
	Metadata       map[string]any
	RetrievalCount int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt *time.Time
}

// AttributionSnapshot is the caller-facing view of one scored memory.
type AttributionSnapshot struct {
	MemoryID      string
	TransactionID string
	Score         float64
	RawScore      float64
	Method        string
	Confidence    float64
}

// ProfileSnapshot is a memory's Welford attribution profile (running
// mean, variance, count, total and trend) for attribution.by_memory.
type ProfileSnapshot struct {
	MemoryID         string
	Mean             float64
	Variance         float64
	Count            int64
	TotalAttribution float64
	Trend            string
	UpdatedAt        time.Time
}

// FootprintSummary is compliance.footprint's response shape: F(u) plus
// its certificate hash.
type FootprintSummary struct {
	UserID          string
	InteractionIDs  []string
	MemoryIDs       []string
	SummaryIDs      []string
	EmbeddingIDs    []string
	CertificateHash string
}

// RequestType names why a compliance request was made.
type RequestType string

const (
	RequestGDPRDeletion RequestType = "gdpr_deletion"
	RequestAuditRequest RequestType = "audit_request"
	RequestDataExport   RequestType = "data_export"
)

// DeletionCertificate is compliance.delete's response: a certificate id
// naming the 30-day grace period before hard deletion, per §7's GDPR
// cascade design. Verified reflects the orphan-edge/attribution-zero/
// vector-proximity pass VerifyCertificate runs before the certificate
// is handed back; a false value means an alert must be surfaced rather
// than the certificate treated as authoritative.
type DeletionCertificate struct {
	CertificateID      string
	UserID             string
	RequestType        RequestType
	IssuedAt           time.Time
	GraceUntil         time.Time
	MemoryIDs          []string
	CertificateHash    string
	Verified           bool
	VerificationIssues []string
}
