package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/docscope/docscope/internal/rag"
)

// Asker is the interactive pipeline reused per document by batch jobs.
type Asker interface {
	Ask(ctx context.Context, query string, scope rag.Scope, k int) (*rag.AskResult, error)
}

// Config bounds the manager's resource usage
type Config struct {
	// Concurrency caps documents processed in parallel within one job
	Concurrency int
	// PerDocumentTimeout bounds each document's pipeline run
	PerDocumentTimeout time.Duration
	// ContextMaxChunks and ContextMaxChars cap the extraction context
	ContextMaxChunks int
	ContextMaxChars  int
	// AnswerMaxChars caps custom column cell values
	AnswerMaxChars int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Concurrency:        4,
		PerDocumentTimeout: 2 * time.Minute,
		ContextMaxChunks:   5,
		ContextMaxChars:    4000,
		AnswerMaxChars:     200,
	}
}

// SubmitRequest describes a new batch job.
type SubmitRequest struct {
	Kind       Kind
	VaultID    string
	Documents  []string
	Template   string
	ColumnName string
	Question   string
}

// Manager owns the batch job lifecycle: validate, enqueue, fan out,
// aggregate. One worker goroutine per job with bounded per-document
// concurrency inside it.
type Manager struct {
	store     Store
	asker     Asker
	chunks    rag.ChunkReader
	generator rag.Generator
	config    Config
	logger    *logrus.Logger
}

// NewManager creates a job manager.
func NewManager(store Store, asker Asker, chunks rag.ChunkReader, generator rag.Generator, config Config, logger *logrus.Logger) *Manager {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	if config.PerDocumentTimeout <= 0 {
		config.PerDocumentTimeout = DefaultConfig().PerDocumentTimeout
	}
	if config.AnswerMaxChars <= 0 {
		config.AnswerMaxChars = DefaultConfig().AnswerMaxChars
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		store:     store,
		asker:     asker,
		chunks:    chunks,
		generator: generator,
		config:    config,
		logger:    logger,
	}
}

// Submit validates the request, records the job as pending, and schedules
// processing. It returns as soon as the job is persisted.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if len(req.Documents) == 0 {
		return nil, fmt.Errorf("target_documents must not be empty")
	}
	switch req.Kind {
	case KindBatchAnalyze:
	case KindCustomColumn:
		if req.ColumnName == "" || req.Question == "" {
			return nil, fmt.Errorf("custom column jobs require column_name and question")
		}
	default:
		return nil, fmt.Errorf("unknown job kind %q", req.Kind)
	}

	prefix := "job"
	if req.Kind == KindCustomColumn {
		prefix = "col"
	}
	job := &Job{
		ID:         fmt.Sprintf("%s_%s_%d", prefix, req.VaultID, time.Now().UnixMilli()),
		VaultID:    req.VaultID,
		Kind:       req.Kind,
		Status:     StatusPending,
		Template:   req.Template,
		ColumnName: req.ColumnName,
		Question:   req.Question,
		TotalDocs:  len(req.Documents),
		Results:    make(map[string]*AnalysisResult, len(req.Documents)),
		CreatedAt:  time.Now(),
	}

	if err := m.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting job: %w", err)
	}

	documents := append([]string(nil), req.Documents...)
	go m.run(job, documents)

	m.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"kind":   job.Kind,
		"docs":   job.TotalDocs,
	}).Info("Job submitted")

	return job.Clone(), nil
}

// Poll returns a read-only snapshot of the job.
func (m *Manager) Poll(ctx context.Context, id string) (*Job, error) {
	return m.store.GetJob(ctx, id)
}

// run executes the job to a terminal state. It is detached from the
// submitting request on purpose; jobs outlive their submitters.
func (m *Manager) run(job *Job, documents []string) {
	ctx := context.Background()

	var mu sync.Mutex
	job.Status = StatusProcessing
	m.saveSnapshot(ctx, &mu, job)

	var infraFailures int

	g := new(errgroup.Group)
	g.SetLimit(m.config.Concurrency)

	for _, documentID := range documents {
		documentID := documentID
		g.Go(func() error {
			docCtx, cancel := context.WithTimeout(ctx, m.config.PerDocumentTimeout)
			defer cancel()

			result := m.processDocument(docCtx, job, documentID)

			mu.Lock()
			defer mu.Unlock()
			job.Results[documentID] = result
			job.ProcessedDocs++
			job.Progress = 100 * job.ProcessedDocs / job.TotalDocs
			if result.Error != "" && result.infraFailure {
				infraFailures++
			}
			if err := m.store.SaveJob(ctx, job); err != nil {
				m.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to save job progress")
			}
			return nil
		})
	}
	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()
	// Per-document errors never fail the job; only total backend loss does
	if infraFailures == job.TotalDocs {
		job.Status = StatusFailed
		job.Error = "all documents failed: retrieval backends unreachable"
	} else {
		job.Status = StatusCompleted
	}
	done := time.Now()
	job.CompletedAt = &done
	if err := m.store.SaveJob(ctx, job); err != nil {
		m.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to save terminal job state")
	}

	m.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"status":    job.Status,
		"processed": job.ProcessedDocs,
	}).Info("Job finished")
}

func (m *Manager) saveSnapshot(ctx context.Context, mu *sync.Mutex, job *Job) {
	mu.Lock()
	defer mu.Unlock()
	if err := m.store.SaveJob(ctx, job); err != nil {
		m.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to save job snapshot")
	}
}

// processDocument runs one document through the pipeline appropriate for
// the job kind. Failures are folded into the result, never returned.
func (m *Manager) processDocument(ctx context.Context, job *Job, documentID string) *AnalysisResult {
	var result *AnalysisResult
	switch job.Kind {
	case KindCustomColumn:
		result = m.processColumn(ctx, job, documentID)
	default:
		result = m.processAnalysis(ctx, job, documentID)
	}
	if result.Error != "" {
		m.logger.WithFields(logrus.Fields{
			"job_id":      job.ID,
			"document_id": documentID,
			"error":       result.Error,
		}).Warn("Document processing failed")
	}
	return result
}

func (m *Manager) processColumn(ctx context.Context, job *Job, documentID string) *AnalysisResult {
	result := &AnalysisResult{DocumentID: documentID}

	ask, err := m.asker.Ask(ctx, job.Question, rag.Scope{DocumentID: documentID}, 0)
	if err != nil {
		result.Error = err.Error()
		result.infraFailure = errors.Is(err, rag.ErrRetrievalUnavailable)
		return result
	}

	answer := ask.Answer.NormalizedText
	if ask.NumHits == 0 {
		answer = "Not mentioned"
	}
	result.Answer = rag.Snippet(answer, m.config.AnswerMaxChars)
	result.Evidence = ask.Answer.Evidence

	if err := m.store.SetColumn(ctx, job.VaultID, documentID, job.ColumnName, result.Answer); err != nil {
		m.logger.WithError(err).WithField("document_id", documentID).Warn("Failed to persist column value")
	}
	return result
}

func (m *Manager) processAnalysis(ctx context.Context, job *Job, documentID string) *AnalysisResult {
	result := &AnalysisResult{DocumentID: documentID}

	fields, err := m.extractFields(ctx, documentID)
	if err != nil {
		result.Error = err.Error()
		result.infraFailure = errors.Is(err, rag.ErrRetrievalUnavailable)
		return result
	}
	result.Fields = fields

	if err := m.store.SaveAnalysis(ctx, job.VaultID, documentID, fields); err != nil {
		m.logger.WithError(err).WithField("document_id", documentID).Warn("Failed to persist analysis")
	}
	return result
}
