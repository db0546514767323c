package rag

import "errors"

var (
	// ErrRetrievalUnavailable indicates the embedding provider or both index
	// halves are unreachable. Fatal to a single ask; a batch job records it
	// as a per-document error.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationFailed indicates the model call failed or returned an
	// empty answer after the bounded fallback attempt.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrNoEvidence indicates retrieval succeeded but found nothing in
	// scope. Callers answer with a friendly message, not an error page.
	ErrNoEvidence = errors.New("no relevant evidence found")
)
