package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvidence(n int) []EvidenceItem {
	items := make([]EvidenceItem, n)
	for i := range items {
		items[i] = EvidenceItem{
			Rank:          i + 1,
			ChunkID:       string(rune('a' + i)),
			DocumentID:    "doc-1",
			DocumentTitle: "Contract",
			PageNumber:    i + 1,
			Snippet:       "snippet",
			Score:         1.0 / float64(i+1),
		}
	}
	return items
}

func TestNormalizeCitations_RenumbersByFirstAppearance(t *testing.T) {
	ev := makeEvidence(4)
	text := "Rent is due monthly [3]. Late fees apply [1, 3]. See also [2]."

	got, reordered := NormalizeCitations(text, ev)

	assert.Equal(t, "Rent is due monthly [1]. Late fees apply [1, 2]. See also [3].", got)
	require.Len(t, reordered, 3)
	assert.Equal(t, "c", reordered[0].ChunkID)
	assert.Equal(t, "a", reordered[1].ChunkID)
	assert.Equal(t, "b", reordered[2].ChunkID)
	for i, item := range reordered {
		assert.Equal(t, i+1, item.Rank)
	}
}

func TestNormalizeCitations_DeduplicatesWithinGroup(t *testing.T) {
	ev := makeEvidence(4)

	got, reordered := NormalizeCitations("Payment terms [4, 4].", ev)

	assert.Equal(t, "Payment terms [1].", got)
	require.Len(t, reordered, 1)
	assert.Equal(t, "d", reordered[0].ChunkID)
}

func TestNormalizeCitations_DropsOutOfRange(t *testing.T) {
	ev := makeEvidence(2)

	got, reordered := NormalizeCitations("Valid [2] but hallucinated [7].", ev)

	assert.Equal(t, "Valid [1] but hallucinated .", got)
	require.Len(t, reordered, 1)
	assert.Equal(t, "b", reordered[0].ChunkID)
}

func TestNormalizeCitations_RemovesEmptyGroups(t *testing.T) {
	ev := makeEvidence(1)

	got, reordered := NormalizeCitations("There is a 7.1 point gap [2] here [1].", ev)

	assert.Equal(t, "There is a 7.1 point gap  here [1].", got)
	require.Len(t, reordered, 1)
}

func TestNormalizeCitations_NoMarkers(t *testing.T) {
	ev := makeEvidence(3)

	got, reordered := NormalizeCitations("No citations at all.", ev)

	assert.Equal(t, "No citations at all.", got)
	assert.Empty(t, reordered)
}

func TestNormalizeCitations_Idempotent(t *testing.T) {
	ev := makeEvidence(5)
	text := "First [5], then [2, 5], finally [1]."

	once, onceEv := NormalizeCitations(text, ev)
	twice, twiceEv := NormalizeCitations(once, onceEv)

	assert.Equal(t, once, twice)
	assert.Equal(t, onceEv, twiceEv)
}

func TestNormalizeCitations_GroupSortedAscending(t *testing.T) {
	ev := makeEvidence(4)

	got, reordered := NormalizeCitations("Combined [4, 2] then [2].", ev)

	assert.Equal(t, "Combined [1, 2] then [2].", got)
	require.Len(t, reordered, 2)
	assert.Equal(t, "d", reordered[0].ChunkID)
	assert.Equal(t, "b", reordered[1].ChunkID)
}

func TestNormalizeCitations_EmptyEvidence(t *testing.T) {
	got, reordered := NormalizeCitations("Claims something [1].", nil)

	assert.Equal(t, "Claims something .", got)
	assert.Empty(t, reordered)
}
