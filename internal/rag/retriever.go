package rag

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// RetrieverConfig configures hybrid retrieval
type RetrieverConfig struct {
	// DefaultK is used when the caller requests k <= 0
	DefaultK int `json:"default_k"`
	// CandidateFloor is the minimum per-half candidate count
	CandidateFloor int `json:"candidate_floor"`
	// CandidateMultiplier retrieves k*N candidates per half before fusion
	CandidateMultiplier int `json:"candidate_multiplier"`
	// RRFConstant is the c in 1/(c+rank)
	RRFConstant int `json:"rrf_constant"`
	// SnippetMaxChars caps evidence snippet length
	SnippetMaxChars int `json:"snippet_max_chars"`
}

// DefaultRetrieverConfig returns default configuration
func DefaultRetrieverConfig() *RetrieverConfig {
	return &RetrieverConfig{
		DefaultK:            5,
		CandidateFloor:      20,
		CandidateMultiplier: 4,
		RRFConstant:         60,
		SnippetMaxChars:     350,
	}
}

// HybridRetriever combines vector and lexical retrieval with reciprocal
// rank fusion, then reranks the fused candidates when a reranker is
// configured. Reranker failures degrade to the fused order.
type HybridRetriever struct {
	embedder Embedder
	vector   VectorSearcher
	lexical  LexicalSearcher
	chunks   ChunkReader
	reranker Reranker
	config   *RetrieverConfig
	logger   *logrus.Logger
}

// NewHybridRetriever creates a new hybrid retriever. reranker may be nil.
func NewHybridRetriever(
	embedder Embedder,
	vector VectorSearcher,
	lexical LexicalSearcher,
	chunks ChunkReader,
	reranker Reranker,
	config *RetrieverConfig,
	logger *logrus.Logger,
) *HybridRetriever {
	if config == nil {
		config = DefaultRetrieverConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &HybridRetriever{
		embedder: embedder,
		vector:   vector,
		lexical:  lexical,
		chunks:   chunks,
		reranker: reranker,
		config:   config,
		logger:   logger,
	}
}

// Retrieve runs hybrid search scoped to scope and returns at most k
// evidence items ranked best-first. It returns ErrRetrievalUnavailable
// when the query cannot be embedded or when both index halves fail;
// a single failed half is tolerated.
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, scope Scope, k int) ([]EvidenceItem, error) {
	if k <= 0 {
		k = h.config.DefaultK
	}
	candidateK := k * h.config.CandidateMultiplier
	if candidateK < h.config.CandidateFloor {
		candidateK = h.config.CandidateFloor
	}

	vector, err := h.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrRetrievalUnavailable, err)
	}

	// Run both index halves in parallel
	var wg sync.WaitGroup
	var denseHits []VectorHit
	var sparseHits []LexicalHit
	var denseErr, sparseErr error

	wg.Add(2)

	go func() {
		defer wg.Done()
		denseHits, denseErr = h.vector.Search(ctx, vector, scope, candidateK)
	}()

	go func() {
		defer wg.Done()
		sparseHits, sparseErr = h.lexical.Search(ctx, query, scope, candidateK)
	}()

	wg.Wait()

	if denseErr != nil && sparseErr != nil {
		return nil, fmt.Errorf("%w: dense=%v, sparse=%v", ErrRetrievalUnavailable, denseErr, sparseErr)
	}
	if denseErr != nil {
		h.logger.WithError(denseErr).Warn("Vector search failed, using lexical results only")
	}
	if sparseErr != nil {
		h.logger.WithError(sparseErr).Warn("Lexical search failed, using vector results only")
	}

	fused := h.reciprocalRankFusion(denseHits, sparseHits)

	fused, err = h.hydrate(ctx, fused)
	if err != nil {
		return nil, fmt.Errorf("%w: hydrating chunks: %v", ErrRetrievalUnavailable, err)
	}
	fused = dedupeByContent(fused)

	if h.reranker != nil && len(fused) > 0 {
		fused = h.rerank(ctx, query, fused)
	}

	if len(fused) > k {
		fused = fused[:k]
	}

	evidence := make([]EvidenceItem, len(fused))
	for i, c := range fused {
		evidence[i] = EvidenceItem{
			Rank:          i + 1,
			ChunkID:       c.chunk.ChunkID,
			DocumentID:    c.chunk.DocumentID,
			DocumentTitle: c.chunk.DocumentTitle,
			PageNumber:    c.chunk.PageNumber,
			Snippet:       Snippet(c.chunk.Text, h.config.SnippetMaxChars),
			Score:         c.score,
			Text:          c.chunk.Text,
		}
	}

	h.logger.WithFields(logrus.Fields{
		"query":        query[:min(50, len(query))],
		"dense_count":  len(denseHits),
		"sparse_count": len(sparseHits),
		"evidence":     len(evidence),
	}).Debug("Hybrid retrieval completed")

	return evidence, nil
}

// candidate carries a chunk through fusion, hydration and reranking.
type candidate struct {
	id    string
	score float64
	chunk Chunk
	// hydrated is false until the chunk body has been loaded
	hydrated bool
}

// reciprocalRankFusion implements RRF: score(d) = sum 1/(c + rank(d)).
// A candidate appearing in only one half simply contributes nothing for
// the other.
func (h *HybridRetriever) reciprocalRankFusion(denseHits []VectorHit, sparseHits []LexicalHit) []*candidate {
	c := float64(h.config.RRFConstant)
	scoreMap := make(map[string]float64)
	candMap := make(map[string]*candidate)

	for i, hit := range denseHits {
		scoreMap[hit.ChunkID] += 1.0 / (c + float64(i+1))
		if _, exists := candMap[hit.ChunkID]; !exists {
			candMap[hit.ChunkID] = &candidate{id: hit.ChunkID}
		}
	}

	for i, hit := range sparseHits {
		id := hit.Chunk.ChunkID
		scoreMap[id] += 1.0 / (c + float64(i+1))
		if existing, exists := candMap[id]; exists {
			existing.chunk = hit.Chunk
			existing.hydrated = true
		} else {
			candMap[id] = &candidate{id: id, chunk: hit.Chunk, hydrated: true}
		}
	}

	results := make([]*candidate, 0, len(scoreMap))
	for id, score := range scoreMap {
		cand := candMap[id]
		cand.score = score
		results = append(results, cand)
	}

	// Ties break on chunk id so equal scores order deterministically
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].id < results[j].id
	})

	return results
}

// hydrate loads chunk bodies for candidates that only appeared in the
// vector half. Ids the store no longer knows are dropped.
func (h *HybridRetriever) hydrate(ctx context.Context, cands []*candidate) ([]*candidate, error) {
	missing := make([]string, 0, len(cands))
	for _, c := range cands {
		if !c.hydrated {
			missing = append(missing, c.id)
		}
	}
	if len(missing) == 0 {
		return cands, nil
	}

	chunks, err := h.chunks.ChunksByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ChunkID] = ch
	}

	kept := cands[:0]
	for _, c := range cands {
		if !c.hydrated {
			ch, ok := byID[c.id]
			if !ok {
				continue
			}
			c.chunk = ch
			c.hydrated = true
		}
		kept = append(kept, c)
	}
	return kept, nil
}

// rerank reorders candidates by cross-encoder score. On any error the
// fused order is kept.
func (h *HybridRetriever) rerank(ctx context.Context, query string, cands []*candidate) []*candidate {
	passages := make([]string, len(cands))
	for i, c := range cands {
		passages[i] = c.chunk.Text
	}

	results, err := h.reranker.Rerank(ctx, query, passages)
	if err != nil {
		h.logger.WithError(err).Warn("Reranking failed, using fused order")
		return cands
	}

	reranked := make([]*candidate, 0, len(cands))
	seen := make(map[int]bool, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(cands) || seen[r.Index] {
			continue
		}
		seen[r.Index] = true
		c := cands[r.Index]
		c.score = r.Score
		reranked = append(reranked, c)
	}
	// Candidates the reranker omitted keep their fused position at the tail
	for i, c := range cands {
		if !seen[i] {
			reranked = append(reranked, c)
		}
	}
	return reranked
}

// dedupeByContent drops candidates whose text prefix hashes equal to an
// earlier, better-ranked candidate. Catches the same passage indexed
// twice under different chunk ids.
func dedupeByContent(cands []*candidate) []*candidate {
	seen := make(map[uint64]bool, len(cands))
	kept := cands[:0]
	for _, c := range cands {
		key := contentKey(c.chunk.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, c)
	}
	return kept
}

func contentKey(text string) uint64 {
	norm := strings.Join(strings.Fields(text), " ")
	if len(norm) > 200 {
		norm = norm[:200]
	}
	h := fnv.New64a()
	h.Write([]byte(norm))
	return h.Sum64()
}

// Snippet normalizes whitespace and truncates text for display in an
// evidence list.
func Snippet(text string, maxChars int) string {
	norm := strings.Join(strings.Fields(text), " ")
	if maxChars <= 0 || len(norm) <= maxChars {
		return norm
	}
	cut := norm[:maxChars]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
