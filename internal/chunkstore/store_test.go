package chunkstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docscope/docscope/internal/rag"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedChunks(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.SaveChunks(context.Background(), []rag.Chunk{
		{
			ChunkID: "c1", DocumentID: "d1", DocumentTitle: "Lease Agreement",
			ProjectID: "p1", PageNumber: 1, CharStart: 0, CharEnd: 52,
			Text: "The tenant shall pay rent on the first of each month.",
		},
		{
			ChunkID: "c2", DocumentID: "d1", DocumentTitle: "Lease Agreement",
			ProjectID: "p1", PageNumber: 2, CharStart: 0, CharEnd: 45,
			Text:           "A security deposit of two months rent is required.",
			BoundingRegion: &rag.BoundingRegion{X1: 10, Y1: 20, X2: 300, Y2: 60},
		},
		{
			ChunkID: "c3", DocumentID: "d2", DocumentTitle: "Purchase Order",
			ProjectID: "p2", PageNumber: 1, CharStart: 0, CharEnd: 40,
			Text: "Delivery is expected within thirty days.",
		},
	}))
}

func TestSearch_MatchesAndRanks(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	hits, err := s.Search(context.Background(), "tenant rent", rag.Scope{ProjectID: "p1"}, 10)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	// c1 matches both terms, c2 only one
	assert.Equal(t, "c1", hits[0].Chunk.ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearch_ScopeFiltersProject(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	hits, err := s.Search(context.Background(), "delivery", rag.Scope{ProjectID: "p1"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search(context.Background(), "delivery", rag.Scope{ProjectID: "p2"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c3", hits[0].Chunk.ChunkID)
}

func TestSearch_DocumentScope(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	hits, err := s.Search(context.Background(), "rent", rag.Scope{DocumentID: "d1"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
}

func TestSearch_PunctuationDoesNotBreakQuery(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	_, err := s.Search(context.Background(), `what is "rent" AND (deposit)?`, rag.Scope{}, 10)
	require.NoError(t, err)

	hits, err := s.Search(context.Background(), "!!! ???", rag.Scope{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSaveChunks_UpsertReplacesText(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	require.NoError(t, s.SaveChunks(context.Background(), []rag.Chunk{
		{
			ChunkID: "c1", DocumentID: "d1", DocumentTitle: "Lease Agreement",
			ProjectID: "p1", PageNumber: 1,
			Text: "Entirely new clause about parking spaces.",
		},
	}))

	hits, err := s.Search(context.Background(), "parking", rag.Scope{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].Chunk.ChunkID)

	// Old text is gone from the index
	hits, err = s.Search(context.Background(), "tenant", rag.Scope{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChunksByIDs(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	chunks, err := s.ChunksByIDs(context.Background(), []string{"c2", "missing", "c3"})

	require.NoError(t, err)
	require.Len(t, chunks, 2)

	byID := map[string]rag.Chunk{}
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}
	require.Contains(t, byID, "c2")
	require.NotNil(t, byID["c2"].BoundingRegion)
	assert.InDelta(t, 300.0, byID["c2"].BoundingRegion.X2, 1e-9)
}

func TestDocumentChunks_ReadingOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	chunks, err := s.DocumentChunks(context.Background(), "d1", 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c1", chunks[0].ChunkID)
	assert.Equal(t, "c2", chunks[1].ChunkID)

	limited, err := s.DocumentChunks(context.Background(), "d1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c1", limited[0].ChunkID)
}

func TestDeleteDocumentChunks(t *testing.T) {
	s := newTestStore(t)
	seedChunks(t, s)

	require.NoError(t, s.DeleteDocumentChunks(context.Background(), "d1"))

	chunks, err := s.DocumentChunks(context.Background(), "d1", 0)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	hits, err := s.Search(context.Background(), "rent", rag.Scope{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDocumentRegistry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDocument(ctx, Document{
		DocumentID: "d1", ProjectID: "p1", Title: "Lease", Status: "pending",
	}))
	require.NoError(t, s.SaveDocument(ctx, Document{
		DocumentID: "d2", ProjectID: "p1", Title: "Invoice", Status: "indexed",
	}))

	require.NoError(t, s.SetDocumentStatus(ctx, "d1", "indexed"))

	docs, err := s.Documents(ctx, []string{"d1", "missing"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "indexed", docs[0].Status)

	all, err := s.ProjectDocuments(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	err = s.SetDocumentStatus(ctx, "missing", "indexed")
	assert.Error(t, err)
}
