package models

import "time"

// DocumentType enumerates the kinds of knowledge documents (spec §3).
type DocumentType string

const (
	DocTypeLearning            DocumentType = "learning"
	DocTypePrinciple           DocumentType = "principle"
	DocTypeRetrospective       DocumentType = "retrospective"
	DocTypeDecision            DocumentType = "decision"
	DocTypeThread              DocumentType = "thread"
	DocTypeTrace               DocumentType = "trace"
	DocTypeUserModel           DocumentType = "user_model"
	DocTypeProcedural          DocumentType = "procedural"
	DocTypeConversationSummary DocumentType = "conversation_summary"
)

// CreatedBy distinguishes documents the indexer may delete during a full
// rebuild from documents the learn API wrote, which must survive (spec §3
// invariant: "created_by=indexer documents are the ONLY ones indexer-driven
// re-indexing may delete").
type CreatedBy string

const (
	CreatedByIndexer CreatedBy = "indexer"
	CreatedByLearnAPI CreatedBy = "learn_api"
	CreatedByManual   CreatedBy = "manual"
)

// MemoryLayer is the dimension along which knowledge entries are scoped and
// decayed (spec §4.2, Memory layers).
type MemoryLayer string

const (
	LayerUserModel  MemoryLayer = "user_model"
	LayerProcedural MemoryLayer = "procedural"
	LayerSemantic   MemoryLayer = "semantic"
	LayerEpisodic   MemoryLayer = "episodic"
	LayerWorking    MemoryLayer = "working"
)

// SyncStatus tracks cross-store consistency between the relational store
// and the vector store for a document (spec §4.2, Indexer failure
// semantics).
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Document is a unit of knowledge: a learning, principle, decision,
// conversation summary, etc.
type Document struct {
	ID            string       `json:"id"`
	Type          DocumentType `json:"type"`
	SourcePath    string       `json:"source_path,omitempty"`
	Title         string       `json:"title"`
	Content       string       `json:"content"`
	Concepts      []string     `json:"concepts,omitempty"`
	Project       string       `json:"project,omitempty"` // canonical host/owner/repo, or "" (global)
	CreatedBy     CreatedBy    `json:"created_by"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	SupersededBy  string       `json:"superseded_by,omitempty"`
	Layer         MemoryLayer  `json:"layer"`
	SyncStatus    SyncStatus   `json:"sync_status"`
	SyncAttempts  int          `json:"sync_attempts"`
	LastAccess    time.Time    `json:"last_access"`
	AccessCount   int          `json:"access_count"`
	DecayScore    float64      `json:"decay_score"` // episodic layer only; recomputed on read
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"` // working layer only (session TTL)
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Chunk is a sub-document unit used for lexical/vector search. Chunk IDs
// are deterministic from (document_id, index, content hash) so that
// re-chunking identical content reproduces identical ids (spec §4.2).
type Chunk struct {
	ID             string `json:"id"`
	DocumentID     string `json:"document_id"`
	Index          int    `json:"index"`
	Total          int    `json:"total"`
	Content        string `json:"content"`
	TokenCount      int    `json:"token_count"`
	EmbeddingModel string `json:"embedding_model"`
}

// Supersession is an append-only pair linking an old document to its
// replacement. Originals are never deleted.
type Supersession struct {
	ID        int64     `json:"id"`
	OldDocID  string    `json:"old_doc_id"`
	NewDocID  string    `json:"new_doc_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
	By        string    `json:"by"`
}

// CostRecord captures per-request token/cost accounting (spec §3, §4.7).
type CostRecord struct {
	ID            int64     `json:"id"`
	Tier          string    `json:"tier"`
	Model         string    `json:"model"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	CostEstimate  float64   `json:"cost_estimate"`
	LatencyMS     int64     `json:"latency_ms"`
	At            time.Time `json:"at"`
}
