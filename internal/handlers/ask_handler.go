// Package handlers exposes the question-answering pipeline and the batch
// table analysis jobs over HTTP.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/docscope/docscope/internal/jobs"
	"github.com/docscope/docscope/internal/rag"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// AskHandler handles interactive question answering requests
type AskHandler struct {
	asker   jobs.Asker
	queries jobs.QueryLog
	logger  *logrus.Logger
}

// NewAskHandler creates a new ask handler
func NewAskHandler(asker jobs.Asker, queries jobs.QueryLog, logger *logrus.Logger) *AskHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AskHandler{
		asker:   asker,
		queries: queries,
		logger:  logger,
	}
}

// AskRequest represents an ask request
type AskRequest struct {
	Query     string `json:"query" binding:"required"`
	ProjectID string `json:"project_id"`
	K         int    `json:"k"`
}

// AskResponse represents an ask response
type AskResponse struct {
	QueryID   string             `json:"query_id"`
	Query     string             `json:"query"`
	Answer    string             `json:"answer_text"`
	Citations []rag.EvidenceItem `json:"citations"`
	NumHits   int                `json:"num_hits"`
	Stats     rag.Stats          `json:"stats"`
	Workflow  []rag.WorkflowStep `json:"workflow"`
}

// Ask godoc
// @Summary Ask a question against a project's documents
// @Description Runs hybrid retrieval, grounded generation, and citation normalization
// @Tags ask
// @Accept json
// @Produce json
// @Param request body AskRequest true "Question"
// @Success 200 {object} AskResponse
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/ask [post]
func (h *AskHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.asker.Ask(c.Request.Context(), req.Query, rag.Scope{ProjectID: req.ProjectID}, req.K)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, rag.ErrRetrievalUnavailable):
			status = http.StatusServiceUnavailable
		case errors.Is(err, rag.ErrGenerationFailed):
			status = http.StatusBadGateway
		}
		h.logger.WithError(err).WithField("query", req.Query).Warn("Ask failed")
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.queries.SaveQuery(c.Request.Context(), result); err != nil {
		h.logger.WithError(err).WithField("query_id", result.QueryID).Warn("Failed to log query")
	}

	c.JSON(http.StatusOK, AskResponse{
		QueryID:   result.QueryID,
		Query:     result.Query,
		Answer:    result.Answer.NormalizedText,
		Citations: result.Answer.Evidence,
		NumHits:   result.NumHits,
		Stats:     result.Stats,
		Workflow:  result.Workflow,
	})
}

// GetQuery godoc
// @Summary Retrieve a past query by id
// @Tags ask
// @Produce json
// @Param query_id path string true "Query ID"
// @Success 200 {object} rag.AskResult
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/query/{query_id} [get]
func (h *AskHandler) GetQuery(c *gin.Context) {
	result, err := h.queries.GetQuery(c.Request.Context(), c.Param("query_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "query not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// RegisterAskRoutes registers ask routes
func RegisterAskRoutes(r *gin.RouterGroup, h *AskHandler) {
	r.POST("/ask", h.Ask)
	r.GET("/query/:query_id", h.GetQuery)
}
