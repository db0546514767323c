package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EvidenceRetriever is the retrieval stage of the pipeline.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, query string, scope Scope, k int) ([]EvidenceItem, error)
}

// Stats records per-stage wall time for one query.
type Stats struct {
	RetrievalMs  int64 `json:"retrieval_ms"`
	GenerationMs int64 `json:"generation_ms"`
	CitationMs   int64 `json:"citation_ms"`
	TotalMs      int64 `json:"total_ms"`
}

// WorkflowStep is one trace entry describing what the pipeline did.
type WorkflowStep struct {
	Step       string `json:"step"`
	Detail     string `json:"detail"`
	DurationMs int64  `json:"duration_ms"`
}

// AskResult is the complete outcome of one question.
type AskResult struct {
	QueryID  string         `json:"query_id"`
	Query    string         `json:"query"`
	Answer   Answer         `json:"answer"`
	NumHits  int            `json:"num_hits"`
	Stats    Stats          `json:"stats"`
	Workflow []WorkflowStep `json:"workflow"`
}

// Pipeline runs the full question-answering flow: retrieve evidence,
// generate a grounded answer, normalize its citations.
type Pipeline struct {
	retriever EvidenceRetriever
	generator Generator
	logger    *logrus.Logger
}

// NewPipeline creates a new answer pipeline
func NewPipeline(retriever EvidenceRetriever, generator Generator, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		retriever: retriever,
		generator: generator,
		logger:    logger,
	}
}

// Ask answers a question against the given scope. Retrieval failures
// surface as ErrRetrievalUnavailable and generation failures as
// ErrGenerationFailed; an empty retrieval is not an error and yields an
// explicit no-evidence answer without calling the model.
func (p *Pipeline) Ask(ctx context.Context, query string, scope Scope, k int) (*AskResult, error) {
	start := time.Now()
	result := &AskResult{
		QueryID: uuid.NewString(),
		Query:   query,
	}

	retrievalStart := time.Now()
	evidence, err := p.retriever.Retrieve(ctx, query, scope, k)
	if err != nil {
		return nil, err
	}
	result.Stats.RetrievalMs = time.Since(retrievalStart).Milliseconds()
	result.NumHits = len(evidence)
	result.Workflow = append(result.Workflow, WorkflowStep{
		Step:       "retrieve",
		Detail:     fmt.Sprintf("hybrid search returned %d passages", len(evidence)),
		DurationMs: result.Stats.RetrievalMs,
	})

	if len(evidence) == 0 {
		result.Answer = Answer{
			RawText:        noEvidenceAnswer,
			NormalizedText: noEvidenceAnswer,
			Evidence:       []EvidenceItem{},
		}
		result.Stats.TotalMs = time.Since(start).Milliseconds()
		result.Workflow = append(result.Workflow, WorkflowStep{
			Step:   "answer",
			Detail: "no evidence, generation skipped",
		})
		return result, nil
	}

	generationStart := time.Now()
	raw, err := p.generator.Generate(ctx, answerSystemPrompt, BuildAnswerPrompt(query, evidence))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	result.Stats.GenerationMs = time.Since(generationStart).Milliseconds()
	result.Workflow = append(result.Workflow, WorkflowStep{
		Step:       "generate",
		Detail:     fmt.Sprintf("model produced %d chars", len(raw)),
		DurationMs: result.Stats.GenerationMs,
	})

	citationStart := time.Now()
	normalized, cited := NormalizeCitations(raw, evidence)
	result.Stats.CitationMs = time.Since(citationStart).Milliseconds()
	result.Workflow = append(result.Workflow, WorkflowStep{
		Step:       "normalize_citations",
		Detail:     fmt.Sprintf("%d passages cited", len(cited)),
		DurationMs: result.Stats.CitationMs,
	})

	if cited == nil {
		cited = []EvidenceItem{}
	}
	result.Answer = Answer{
		RawText:        raw,
		NormalizedText: normalized,
		Evidence:       cited,
	}
	result.Stats.TotalMs = time.Since(start).Milliseconds()

	p.logger.WithFields(logrus.Fields{
		"query_id": result.QueryID,
		"hits":     result.NumHits,
		"cited":    len(cited),
		"total_ms": result.Stats.TotalMs,
	}).Info("Question answered")

	return result, nil
}
