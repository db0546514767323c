package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docscope/docscope/internal/rag"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, nil),
	}
}

func TestStore_JobRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			job := &Job{
				ID:        "job_v1_1",
				VaultID:   "v1",
				Kind:      KindBatchAnalyze,
				Status:    StatusProcessing,
				TotalDocs: 3,
				Results: map[string]*AnalysisResult{
					"d1": {DocumentID: "d1", Fields: map[string]string{"date": "2023-05-01"}},
				},
				CreatedAt: time.Now(),
			}
			require.NoError(t, store.SaveJob(ctx, job))

			got, err := store.GetJob(ctx, "job_v1_1")
			require.NoError(t, err)
			assert.Equal(t, StatusProcessing, got.Status)
			assert.Equal(t, "2023-05-01", got.Results["d1"].Fields["date"])

			// Snapshots are independent of later mutation
			job.Status = StatusCompleted
			again, err := store.GetJob(ctx, "job_v1_1")
			require.NoError(t, err)
			assert.Equal(t, StatusProcessing, again.Status)

			_, err = store.GetJob(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_AnalysisSupersedesNotMerges(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.SaveAnalysis(ctx, "v1", "d1", map[string]string{
				"date": "2023-05-01", "author": "Alice",
			}))
			require.NoError(t, store.SetColumn(ctx, "v1", "d1", "governing_law", "Delaware"))

			// Rerunning the template replaces fields but keeps columns
			require.NoError(t, store.SaveAnalysis(ctx, "v1", "d1", map[string]string{
				"date": "2024-01-01",
			}))

			rows, err := store.ListAnalyses(ctx, "v1")
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "2024-01-01", rows[0].Fields["date"])
			assert.NotContains(t, rows[0].Fields, "author")
			assert.Equal(t, "Delaware", rows[0].Columns["governing_law"])

			// Rerunning a column replaces just that cell
			require.NoError(t, store.SetColumn(ctx, "v1", "d1", "governing_law", "New York"))
			require.NoError(t, store.SetColumn(ctx, "v1", "d1", "term", "12 months"))

			rows, err = store.ListAnalyses(ctx, "v1")
			require.NoError(t, err)
			assert.Equal(t, "New York", rows[0].Columns["governing_law"])
			assert.Equal(t, "12 months", rows[0].Columns["term"])
		})
	}
}

func TestStore_ListIsSortedAndClearable(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.SaveAnalysis(ctx, "v1", "d2", map[string]string{"date": "b"}))
			require.NoError(t, store.SaveAnalysis(ctx, "v1", "d1", map[string]string{"date": "a"}))
			require.NoError(t, store.SaveAnalysis(ctx, "v2", "d9", map[string]string{"date": "c"}))

			rows, err := store.ListAnalyses(ctx, "v1")
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, "d1", rows[0].DocumentID)
			assert.Equal(t, "d2", rows[1].DocumentID)

			require.NoError(t, store.ClearAnalyses(ctx, "v1"))

			rows, err = store.ListAnalyses(ctx, "v1")
			require.NoError(t, err)
			assert.Empty(t, rows)

			// Other vaults untouched
			rows, err = store.ListAnalyses(ctx, "v2")
			require.NoError(t, err)
			assert.Len(t, rows, 1)
		})
	}
}

func TestStore_QueryLogRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			result := &rag.AskResult{
				QueryID: "q-1",
				Query:   "when is rent due?",
				NumHits: 2,
				Answer: rag.Answer{
					NormalizedText: "Rent is due on the first [1].",
					Evidence:       []rag.EvidenceItem{{Rank: 1, ChunkID: "c1"}},
				},
			}
			require.NoError(t, store.SaveQuery(ctx, result))

			got, err := store.GetQuery(ctx, "q-1")
			require.NoError(t, err)
			assert.Equal(t, "when is rent due?", got.Query)
			require.Len(t, got.Answer.Evidence, 1)

			_, err = store.GetQuery(ctx, "q-unknown")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
