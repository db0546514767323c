package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthRouter(checks map[string]HealthCheck) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterHealthRoutes(r, NewHealthHandler(checks, nil))
	return r
}

func TestHealth_AllHealthy(t *testing.T) {
	r := healthRouter(map[string]HealthCheck{
		"chunkstore": func(context.Context) error { return nil },
		"qdrant":     func(context.Context) error { return nil },
	})

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Components["chunkstore"])
	assert.Equal(t, "ok", resp.Components["qdrant"])
}

func TestHealth_DegradedComponent(t *testing.T) {
	r := healthRouter(map[string]HealthCheck{
		"chunkstore": func(context.Context) error { return nil },
		"qdrant":     func(context.Context) error { return errors.New("connection refused") },
	})

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Components["chunkstore"])
	assert.Contains(t, resp.Components["qdrant"], "connection refused")
}
