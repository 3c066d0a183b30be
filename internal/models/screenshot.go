// Package models defines the core data types shared across the
// screenvault services: screenshot records, analysis results, vector
// index entries and query history.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the processing lifecycle state of a screenshot.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusEmbedding Status = "embedding"
	StatusIndexed   Status = "indexed"
	StatusFailed    Status = "failed"
	StatusDeleted   Status = "deleted"
)

// statusRank orders the forward lifecycle. Terminal states (failed,
// deleted) sit outside the ordering and are handled explicitly.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusAnalyzing: 1,
	StatusEmbedding: 2,
	StatusIndexed:   3,
}

// ValidTransition reports whether moving from one status to another is
// allowed. Forward moves never skip a state, failed and deleted are
// reachable from any non-terminal state, and the only regression
// permitted is the explicit failed -> pending reprocess reset.
func ValidTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch to {
	case StatusFailed, StatusDeleted:
		return from != StatusDeleted
	case StatusPending:
		return from == StatusFailed
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank == fromRank+1
}

// Screenshot is the durable metadata record for one uploaded image.
// The blob key is immutable once set; everything AI-derived is filled
// in by the enrichment pipeline.
type Screenshot struct {
	ID             uuid.UUID `db:"id" json:"id"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	BlobKey        string    `db:"blob_key" json:"-"`
	ContentType    string    `db:"content_type" json:"content_type"`
	FileSize       int64     `db:"file_size" json:"file_size"`
	Status         Status    `db:"status" json:"status"`
	Tag            string    `db:"tag" json:"tag,omitempty"`
	Description    string    `db:"description" json:"description,omitempty"`
	RawText        string    `db:"raw_text" json:"raw_text,omitempty"`
	EmbeddingModel string    `db:"embedding_model" json:"embedding_model,omitempty"`
	LastError      string    `db:"last_error" json:"last_error,omitempty"`
	AttemptCount   int       `db:"attempt_count" json:"attempt_count"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`

	// SignedURL is populated on read from the blob store, never stored.
	SignedURL string `db:"-" json:"signed_url,omitempty"`
}

// Searchable reports whether the record participates in semantic search.
func (s *Screenshot) Searchable() bool {
	return s.Status == StatusIndexed
}

// AnalysisResult is the normalized output of one provider analysis
// attempt. It is folded into the screenshot record and the vector index
// on success and never persisted on its own.
type AnalysisResult struct {
	Tag         string        `json:"tag"`
	Description string        `json:"description"`
	RawText     string        `json:"raw_text"`
	Provider    string        `json:"provider"`
	Latency     time.Duration `json:"latency"`
}

// Validate checks that a result carries the minimum usable content.
func (r *AnalysisResult) Validate() error {
	if r.Tag == "" && r.Description == "" {
		return fmt.Errorf("analysis result has neither tag nor description")
	}
	return nil
}

// EmbeddingText builds the text fed to the embedding model from the
// analysis fields. Tag and description lead so short labels still
// dominate the vector for sparse screenshots.
func (r *AnalysisResult) EmbeddingText() string {
	return r.Tag + "\n" + r.Description + "\n" + r.RawText
}

// VectorEntry is one row of the vector index: the embedding for an
// indexed screenshot plus the owner id used for scoped filtering and
// the tag kept for cheap candidate prefiltering.
type VectorEntry struct {
	ScreenshotID uuid.UUID `db:"screenshot_id"`
	UserID       uuid.UUID `db:"user_id"`
	Tag          string    `db:"tag"`
	Embedding    []float32 `db:"-"`
}

// VectorMatch is a nearest-neighbor candidate returned by the index.
type VectorMatch struct {
	ScreenshotID uuid.UUID
	Score        float64
}

// SearchResult pairs a hydrated screenshot with its similarity score.
type SearchResult struct {
	Screenshot *Screenshot `json:"screenshot"`
	Score      float64     `json:"score"`
}

// QueryHistoryEntry records one executed semantic search. Append-only.
type QueryHistoryEntry struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	UserID    uuid.UUID   `db:"user_id" json:"user_id"`
	QueryText string      `db:"query_text" json:"query_text"`
	Embedding []float32   `db:"-" json:"-"`
	ResultIDs []uuid.UUID `db:"-" json:"result_ids"`
	Scores    []float64   `db:"-" json:"scores"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}
