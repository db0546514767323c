// Package jobs implements the asynchronous batch job manager: table
// analysis jobs fan the answer pipeline out across documents, track
// progress, and record per-document failures without aborting the job.
package jobs

import (
	"time"

	"github.com/docscope/docscope/internal/rag"
)

// Kind of batch job
type Kind string

const (
	KindBatchAnalyze Kind = "batch_analyze"
	KindCustomColumn Kind = "custom_column"
)

// Status of a job. pending -> processing -> completed|failed; terminal
// states are never left.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AnalysisResult is one document's outcome within a job. Either Fields
// (template analysis) or Answer (custom column) is populated; Error is
// set when this document failed without affecting the rest of the job.
type AnalysisResult struct {
	DocumentID string             `json:"document_id"`
	Answer     string             `json:"answer,omitempty"`
	Fields     map[string]string  `json:"fields,omitempty"`
	Evidence   []rag.EvidenceItem `json:"evidence,omitempty"`
	Error      string             `json:"error,omitempty"`

	// infraFailure marks errors caused by unreachable backends; a job
	// where every document fails this way transitions to failed.
	infraFailure bool
}

// Job tracks one batch run. Mutated only by the worker executing it;
// clients see immutable snapshots.
type Job struct {
	ID            string                     `json:"job_id"`
	VaultID       string                     `json:"vault_id"`
	Kind          Kind                       `json:"kind"`
	Status        Status                     `json:"status"`
	Template      string                     `json:"template,omitempty"`
	ColumnName    string                     `json:"column_name,omitempty"`
	Question      string                     `json:"question,omitempty"`
	TotalDocs     int                        `json:"total_docs"`
	ProcessedDocs int                        `json:"processed_docs"`
	Progress      int                        `json:"progress"`
	Error         string                     `json:"error,omitempty"`
	Results       map[string]*AnalysisResult `json:"results"`
	CreatedAt     time.Time                  `json:"created_at"`
	CompletedAt   *time.Time                 `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Results = make(map[string]*AnalysisResult, len(j.Results))
	for id, r := range j.Results {
		rc := *r
		if r.Fields != nil {
			rc.Fields = make(map[string]string, len(r.Fields))
			for k, v := range r.Fields {
				rc.Fields[k] = v
			}
		}
		if r.Evidence != nil {
			rc.Evidence = append([]rag.EvidenceItem(nil), r.Evidence...)
		}
		cp.Results[id] = &rc
	}
	if j.CompletedAt != nil {
		done := *j.CompletedAt
		cp.CompletedAt = &done
	}
	return &cp
}

// StoredAnalysis is the persisted per-document table row for a vault.
// Template fields and custom columns live side by side; rerunning a
// template or a column replaces the corresponding part, never merges.
type StoredAnalysis struct {
	DocumentID string            `json:"document_id"`
	Fields     map[string]string `json:"fields,omitempty"`
	Columns    map[string]string `json:"columns,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
