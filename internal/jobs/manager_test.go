package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docscope/docscope/internal/rag"
)

type stubAsker struct {
	mu      sync.Mutex
	answers map[string]*rag.AskResult
	errs    map[string]error
	calls   int
}

func (s *stubAsker) Ask(_ context.Context, _ string, scope rag.Scope, _ int) (*rag.AskResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if err, ok := s.errs[scope.DocumentID]; ok {
		return nil, err
	}
	if res, ok := s.answers[scope.DocumentID]; ok {
		return res, nil
	}
	return &rag.AskResult{
		QueryID: "q-" + scope.DocumentID,
		NumHits: 1,
		Answer: rag.Answer{
			NormalizedText: "answer for " + scope.DocumentID,
			Evidence:       []rag.EvidenceItem{{Rank: 1, ChunkID: "c1", DocumentID: scope.DocumentID}},
		},
	}, nil
}

type stubJobChunks struct {
	empty map[string]bool
	err   error
}

func (s *stubJobChunks) ChunksByIDs(_ context.Context, _ []string) ([]rag.Chunk, error) {
	return nil, nil
}

func (s *stubJobChunks) DocumentChunks(_ context.Context, documentID string, _ int) ([]rag.Chunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.empty[documentID] {
		return nil, nil
	}
	return []rag.Chunk{{
		ChunkID: documentID + "-c1", DocumentID: documentID,
		Text: "Lease agreement dated 2023-05-01 between Alice and Bob.",
	}}, nil
}

type stubJobGenerator struct {
	output string
}

func (s *stubJobGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	if s.output == "" {
		return `{"date": "2023-05-01", "document_type": "contract", "summary": "A lease.", "author": "Alice", "persons_mentioned": ["Alice", "Bob"], "language": "en"}`, nil
	}
	return s.output, nil
}

func newTestManager(asker Asker, chunks rag.ChunkReader, gen rag.Generator) (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	m := NewManager(store, asker, chunks, gen, Config{
		Concurrency:        2,
		PerDocumentTimeout: 5 * time.Second,
		ContextMaxChunks:   5,
		ContextMaxChars:    4000,
		AnswerMaxChars:     200,
	}, nil)
	return m, store
}

func waitTerminal(t *testing.T, m *Manager, jobID string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Poll(context.Background(), jobID)
		require.NoError(t, err)
		return job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmit_RejectsEmptyDocuments(t *testing.T) {
	m, _ := newTestManager(&stubAsker{}, &stubJobChunks{}, &stubJobGenerator{})

	_, err := m.Submit(context.Background(), SubmitRequest{
		Kind:    KindBatchAnalyze,
		VaultID: "v1",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestSubmit_RejectsUnknownKind(t *testing.T) {
	m, _ := newTestManager(&stubAsker{}, &stubJobChunks{}, &stubJobGenerator{})

	_, err := m.Submit(context.Background(), SubmitRequest{
		Kind:      Kind("bogus"),
		VaultID:   "v1",
		Documents: []string{"d1"},
	})

	require.Error(t, err)
}

func TestSubmit_CustomColumnRequiresNameAndQuestion(t *testing.T) {
	m, _ := newTestManager(&stubAsker{}, &stubJobChunks{}, &stubJobGenerator{})

	_, err := m.Submit(context.Background(), SubmitRequest{
		Kind:      KindCustomColumn,
		VaultID:   "v1",
		Documents: []string{"d1"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "column_name")
}

func TestBatchAnalyze_CompletesAndStoresFields(t *testing.T) {
	m, store := newTestManager(&stubAsker{}, &stubJobChunks{}, &stubJobGenerator{})

	job, err := m.Submit(context.Background(), SubmitRequest{
		Kind:      KindBatchAnalyze,
		VaultID:   "v1",
		Documents: []string{"d1", "d2"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 2, job.TotalDocs)

	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 2, final.ProcessedDocs)
	assert.Equal(t, 100, final.Progress)

	require.Contains(t, final.Results, "d1")
	assert.Equal(t, "contract", final.Results["d1"].Fields["document_type"])
	assert.Equal(t, "Alice, Bob", final.Results["d1"].Fields["persons_mentioned"])

	rows, err := store.ListAnalyses(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2023-05-01", rows[0].Fields["date"])
}

func TestBatchAnalyze_PerDocumentFailureDoesNotFailJob(t *testing.T) {
	chunks := &stubJobChunks{empty: map[string]bool{"d3": true}}
	m, _ := newTestManager(&stubAsker{}, chunks, &stubJobGenerator{})

	docs := []string{"d1", "d2", "d3", "d4", "d5"}
	job, err := m.Submit(context.Background(), SubmitRequest{
		Kind:      KindBatchAnalyze,
		VaultID:   "v1",
		Documents: docs,
	})
	require.NoError(t, err)

	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 5, final.ProcessedDocs)
	assert.Equal(t, 100, final.Progress)

	require.Contains(t, final.Results, "d3")
	assert.NotEmpty(t, final.Results["d3"].Error)
	for _, id := range []string{"d1", "d2", "d4", "d5"} {
		require.Contains(t, final.Results, id)
		assert.Empty(t, final.Results[id].Error)
		assert.NotEmpty(t, final.Results[id].Fields)
	}
}

func TestBatchAnalyze_TotalBackendLossFailsJob(t *testing.T) {
	chunks := &stubJobChunks{err: errors.New("store unreachable")}
	m, _ := newTestManager(&stubAsker{}, chunks, &stubJobGenerator{})

	job, err := m.Submit(context.Background(), SubmitRequest{
		Kind:      KindBatchAnalyze,
		VaultID:   "v1",
		Documents: []string{"d1", "d2"},
	})
	require.NoError(t, err)

	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, StatusFailed, final.Status)
	assert.NotEmpty(t, final.Error)
	assert.Equal(t, 2, final.ProcessedDocs)
}

func TestCustomColumn_StoresAnswers(t *testing.T) {
	asker := &stubAsker{}
	m, store := newTestManager(asker, &stubJobChunks{}, &stubJobGenerator{})

	job, err := m.Submit(context.Background(), SubmitRequest{
		Kind:       KindCustomColumn,
		VaultID:    "v1",
		Documents:  []string{"d1", "d2"},
		ColumnName: "governing_law",
		Question:   "What law governs this agreement?",
	})
	require.NoError(t, err)

	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "answer for d1", final.Results["d1"].Answer)

	rows, err := store.ListAnalyses(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "answer for d1", rows[0].Columns["governing_law"])
}

func TestCustomColumn_NoEvidenceBecomesNotMentioned(t *testing.T) {
	asker := &stubAsker{answers: map[string]*rag.AskResult{
		"d1": {
			QueryID: "q1",
			NumHits: 0,
			Answer:  rag.Answer{NormalizedText: "I could not find any relevant passages."},
		},
	}}
	m, _ := newTestManager(asker, &stubJobChunks{}, &stubJobGenerator{})

	job, err := m.Submit(context.Background(), SubmitRequest{
		Kind:       KindCustomColumn,
		VaultID:    "v1",
		Documents:  []string{"d1"},
		ColumnName: "notes",
		Question:   "Anything about penalties?",
	})
	require.NoError(t, err)

	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, "Not mentioned", final.Results["d1"].Answer)
}

func TestCustomColumn_RetrievalFailureIsPerDocument(t *testing.T) {
	asker := &stubAsker{errs: map[string]error{
		"d2": fmt.Errorf("%w: qdrant down", rag.ErrRetrievalUnavailable),
	}}
	m, _ := newTestManager(asker, &stubJobChunks{}, &stubJobGenerator{})

	job, err := m.Submit(context.Background(), SubmitRequest{
		Kind:       KindCustomColumn,
		VaultID:    "v1",
		Documents:  []string{"d1", "d2", "d3"},
		ColumnName: "notes",
		Question:   "q",
	})
	require.NoError(t, err)

	final := waitTerminal(t, m, job.ID)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.NotEmpty(t, final.Results["d2"].Error)
	assert.Empty(t, final.Results["d1"].Error)
}

func TestPoll_ProgressIsMonotonic(t *testing.T) {
	m, _ := newTestManager(&stubAsker{}, &stubJobChunks{}, &stubJobGenerator{})

	docs := make([]string, 20)
	for i := range docs {
		docs[i] = fmt.Sprintf("d%d", i)
	}
	job, err := m.Submit(context.Background(), SubmitRequest{
		Kind:      KindBatchAnalyze,
		VaultID:   "v1",
		Documents: docs,
	})
	require.NoError(t, err)

	lastProcessed, lastProgress := 0, 0
	require.Eventually(t, func() bool {
		snap, err := m.Poll(context.Background(), job.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, snap.ProcessedDocs, lastProcessed)
		require.GreaterOrEqual(t, snap.Progress, lastProgress)
		lastProcessed, lastProgress = snap.ProcessedDocs, snap.Progress
		return snap.Status.Terminal()
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, 20, lastProcessed)
	assert.Equal(t, 100, lastProgress)
}

func TestPoll_UnknownJob(t *testing.T) {
	m, _ := newTestManager(&stubAsker{}, &stubJobChunks{}, &stubJobGenerator{})

	_, err := m.Poll(context.Background(), "job_missing_1")
	assert.ErrorIs(t, err, ErrNotFound)
}
