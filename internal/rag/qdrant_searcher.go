package rag

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/docscope/docscope/internal/vectordb/qdrant"
)

// QdrantSearcher adapts the Qdrant client to the VectorSearcher interface.
// Scope filters are pushed into the index query, never applied after the
// fact.
type QdrantSearcher struct {
	client     *qdrant.Client
	collection string
	logger     *logrus.Logger
}

// NewQdrantSearcher creates a vector searcher over one collection.
func NewQdrantSearcher(client *qdrant.Client, collection string, logger *logrus.Logger) *QdrantSearcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &QdrantSearcher{
		client:     client,
		collection: collection,
		logger:     logger,
	}
}

// Search runs a filtered similarity search and maps payloads back to chunk
// ids. Points without a chunk_id payload are skipped.
func (s *QdrantSearcher) Search(ctx context.Context, vector []float32, scope Scope, limit int) ([]VectorHit, error) {
	points, err := s.client.Search(ctx, s.collection, vector, limit, scopeFilter(scope))
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	hits := make([]VectorHit, 0, len(points))
	for _, p := range points {
		chunkID, ok := p.Payload["chunk_id"].(string)
		if !ok || chunkID == "" {
			s.logger.WithField("point_id", p.ID).Warn("Point missing chunk_id payload, skipping")
			continue
		}
		hits = append(hits, VectorHit{ChunkID: chunkID, Score: float64(p.Score)})
	}
	return hits, nil
}

// scopeFilter builds the Qdrant filter for a scope. Document scope wins
// over project scope when both are set; an empty scope means no filter.
func scopeFilter(scope Scope) map[string]interface{} {
	var must []map[string]interface{}
	if scope.DocumentID != "" {
		must = append(must, matchClause("document_id", scope.DocumentID))
	} else if scope.ProjectID != "" {
		must = append(must, matchClause("project_id", scope.ProjectID))
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]interface{}{"must": must}
}

func matchClause(key, value string) map[string]interface{} {
	return map[string]interface{}{
		"key":   key,
		"match": map[string]interface{}{"value": value},
	}
}
