package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports the health of the service and its backends
type HealthHandler struct {
	checks map[string]HealthCheck
	logger *logrus.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checks map[string]HealthCheck, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthHandler{
		checks: checks,
		logger: logger,
	}
}

// HealthResponse represents a health response
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Health godoc
// @Summary Service health
// @Description Reports the reachability of each backing service
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	components := make(map[string]string, len(h.checks))
	healthy := true

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()

		if err != nil {
			healthy = false
			components[name] = err.Error()
			h.logger.WithError(err).WithField("component", name).Warn("Health check failed")
			continue
		}
		components[name] = "ok"
	}

	resp := HealthResponse{Status: "healthy", Components: components}
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// RegisterHealthRoutes registers health routes
func RegisterHealthRoutes(r *gin.Engine, h *HealthHandler) {
	r.GET("/health", h.Health)
}
