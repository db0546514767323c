// Package rag implements the retrieval-citation pipeline: hybrid search with
// reciprocal rank fusion, cross-encoder reranking, grounded answer generation,
// and citation normalization.
package rag

import (
	"context"
)

// Chunk is one passage of an ingested document with positional metadata.
// Chunks are immutable once created; ordering within a document is by
// (PageNumber, CharStart).
type Chunk struct {
	ChunkID        string          `json:"chunk_id"`
	DocumentID     string          `json:"document_id"`
	DocumentTitle  string          `json:"document_title"`
	ProjectID      string          `json:"project_id"`
	PageNumber     int             `json:"page_number"`
	CharStart      int             `json:"char_start"`
	CharEnd        int             `json:"char_end"`
	BoundingRegion *BoundingRegion `json:"bounding_region,omitempty"`
	Text           string          `json:"text"`
}

// BoundingRegion locates a chunk on its page for viewer highlighting.
type BoundingRegion struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// EvidenceItem is one retrieved passage plus its source metadata. Produced
// fresh per query and not persisted beyond the query's lifetime.
type EvidenceItem struct {
	Rank          int     `json:"rank"`
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	PageNumber    int     `json:"page_number"`
	Snippet       string  `json:"snippet"`
	Score         float64 `json:"score"`
	// Text is the full chunk body. It feeds prompt construction and is
	// never serialized; clients get the snippet.
	Text string `json:"-"`
}

// Answer is the final product of the pipeline: normalized text whose [n]
// markers index into Evidence with no bounds error.
type Answer struct {
	RawText        string         `json:"raw_text"`
	NormalizedText string         `json:"normalized_text"`
	Evidence       []EvidenceItem `json:"evidence"`
}

// Scope constrains retrieval to a project or to a single document.
// Scope filtering happens at the index query level, never by post-filtering.
type Scope struct {
	ProjectID  string
	DocumentID string
}

// VectorHit is one match from the vector half of the hybrid index.
type VectorHit struct {
	ChunkID string
	Score   float64
}

// LexicalHit is one match from the lexical half of the hybrid index.
// Lexical search runs against the chunk store directly, so the full
// chunk rides along and saves a hydration round-trip.
type LexicalHit struct {
	Chunk Chunk
	Score float64
}

// RerankResult reorders candidates: Index refers to the position in the
// candidate list as supplied, Score is the model-native relevance score.
type RerankResult struct {
	Index int
	Score float64
}

// Embedder turns text into a fixed-length vector. Pluggable, remote.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the vector half of the hybrid index.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, scope Scope, limit int) ([]VectorHit, error)
}

// LexicalSearcher is the lexical (term-overlap) half of the hybrid index.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, scope Scope, limit int) ([]LexicalHit, error)
}

// ChunkReader reads chunks from the chunk store. The store is owned by the
// ingestion subsystem; the pipeline only reads from it.
type ChunkReader interface {
	// ChunksByIDs returns the chunks for the given ids; missing ids are
	// silently absent from the result.
	ChunksByIDs(ctx context.Context, ids []string) ([]Chunk, error)
	// DocumentChunks returns up to limit chunks of a document ordered by
	// (page_number, char_start). limit <= 0 means no limit.
	DocumentChunks(ctx context.Context, documentID string, limit int) ([]Chunk, error)
}

// Reranker reorders a candidate passage list by relevance to the query.
// Reranking is an optimization, not a correctness requirement; callers fall
// back to the fused order when it is unavailable.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]RerankResult, error)
}

// Generator produces free text for a prompt. The output is never trusted
// blindly; citation markers are verified and repaired downstream.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}
