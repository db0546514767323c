package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/docscope/docscope/internal/chunkstore"
	"github.com/docscope/docscope/internal/jobs"
)

// analyzableStatuses are the document states that have indexed content.
var analyzableStatuses = map[string]bool{
	"indexed":   true,
	"completed": true,
	"processed": true,
}

// DocumentRegistry looks up document metadata for request validation.
type DocumentRegistry interface {
	Documents(ctx context.Context, ids []string) ([]chunkstore.Document, error)
}

// TableHandler handles batch table analysis requests
type TableHandler struct {
	manager  *jobs.Manager
	results  jobs.ResultStore
	registry DocumentRegistry
	logger   *logrus.Logger
}

// NewTableHandler creates a new table handler
func NewTableHandler(manager *jobs.Manager, results jobs.ResultStore, registry DocumentRegistry, logger *logrus.Logger) *TableHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &TableHandler{
		manager:  manager,
		results:  results,
		registry: registry,
		logger:   logger,
	}
}

// BatchAnalyzeRequest represents a batch analyze request
type BatchAnalyzeRequest struct {
	VaultID   string   `json:"vault_id" binding:"required"`
	Template  string   `json:"template"`
	Documents []string `json:"documents" binding:"required"`
}

// CustomColumnRequest represents a custom column request
type CustomColumnRequest struct {
	VaultID    string   `json:"vault_id" binding:"required"`
	ColumnName string   `json:"column_name" binding:"required"`
	Question   string   `json:"question" binding:"required"`
	Documents  []string `json:"documents" binding:"required"`
}

// AnalysisResponse represents a job submission response
type AnalysisResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	TotalDocs int    `json:"total_docs"`
}

// ResultsResponse represents a vault's analysis table
type ResultsResponse struct {
	VaultID string                `json:"vault_id"`
	Results []jobs.StoredAnalysis `json:"results"`
}

// BatchAnalyze godoc
// @Summary Run template analysis across documents
// @Tags table
// @Accept json
// @Produce json
// @Param request body BatchAnalyzeRequest true "Documents to analyze"
// @Success 202 {object} AnalysisResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/table/batch-analyze [post]
func (h *TableHandler) BatchAnalyze(c *gin.Context) {
	var req BatchAnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	eligible, err := h.analyzableDocuments(c.Request.Context(), req.Documents)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if len(eligible) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no analyzable documents in request"})
		return
	}

	job, err := h.manager.Submit(c.Request.Context(), jobs.SubmitRequest{
		Kind:      jobs.KindBatchAnalyze,
		VaultID:   req.VaultID,
		Documents: eligible,
		Template:  req.Template,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, AnalysisResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		Message:   "analysis started",
		TotalDocs: job.TotalDocs,
	})
}

// CustomColumn godoc
// @Summary Answer one question per document into a table column
// @Tags table
// @Accept json
// @Produce json
// @Param request body CustomColumnRequest true "Column definition"
// @Success 202 {object} AnalysisResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/table/custom-column [post]
func (h *TableHandler) CustomColumn(c *gin.Context) {
	var req CustomColumnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	eligible, err := h.analyzableDocuments(c.Request.Context(), req.Documents)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if len(eligible) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no analyzable documents in request"})
		return
	}

	job, err := h.manager.Submit(c.Request.Context(), jobs.SubmitRequest{
		Kind:       jobs.KindCustomColumn,
		VaultID:    req.VaultID,
		Documents:  eligible,
		ColumnName: req.ColumnName,
		Question:   req.Question,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, AnalysisResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		Message:   "column analysis started",
		TotalDocs: job.TotalDocs,
	})
}

// GetJob godoc
// @Summary Poll a job's progress
// @Tags table
// @Produce json
// @Param job_id path string true "Job ID"
// @Success 200 {object} jobs.Job
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/table/job/{job_id} [get]
func (h *TableHandler) GetJob(c *gin.Context) {
	job, err := h.manager.Poll(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetResults godoc
// @Summary List the stored analysis table of a vault
// @Tags table
// @Produce json
// @Param vault_id path string true "Vault ID"
// @Success 200 {object} ResultsResponse
// @Router /api/v1/table/results/{vault_id} [get]
func (h *TableHandler) GetResults(c *gin.Context) {
	vaultID := c.Param("vault_id")
	rows, err := h.results.ListAnalyses(c.Request.Context(), vaultID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if rows == nil {
		rows = []jobs.StoredAnalysis{}
	}
	c.JSON(http.StatusOK, ResultsResponse{VaultID: vaultID, Results: rows})
}

// ClearResults godoc
// @Summary Clear the stored analysis table of a vault
// @Tags table
// @Produce json
// @Param vault_id path string true "Vault ID"
// @Success 200 {object} map[string]string
// @Router /api/v1/table/results/{vault_id} [delete]
func (h *TableHandler) ClearResults(c *gin.Context) {
	vaultID := c.Param("vault_id")
	if err := h.results.ClearAnalyses(c.Request.Context(), vaultID); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "results cleared", "vault_id": vaultID})
}

// analyzableDocuments filters the requested ids down to documents that
// exist and have indexed content.
func (h *TableHandler) analyzableDocuments(ctx context.Context, ids []string) ([]string, error) {
	docs, err := h.registry.Documents(ctx, ids)
	if err != nil {
		return nil, err
	}
	eligible := make([]string, 0, len(docs))
	for _, d := range docs {
		if analyzableStatuses[d.Status] {
			eligible = append(eligible, d.DocumentID)
		}
	}
	if len(eligible) < len(ids) {
		h.logger.WithFields(logrus.Fields{
			"requested": len(ids),
			"eligible":  len(eligible),
		}).Debug("Skipping documents without indexed content")
	}
	return eligible, nil
}

// RegisterTableRoutes registers table analysis routes
func RegisterTableRoutes(r *gin.RouterGroup, h *TableHandler) {
	table := r.Group("/table")
	{
		table.POST("/batch-analyze", h.BatchAnalyze)
		table.POST("/custom-column", h.CustomColumn)
		table.GET("/job/:job_id", h.GetJob)
		table.GET("/results/:vault_id", h.GetResults)
		table.DELETE("/results/:vault_id", h.ClearResults)
	}
}
