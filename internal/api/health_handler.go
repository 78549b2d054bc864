package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kuyugama/ratelimit-go/internal/repository"
	"github.com/kuyugama/ratelimit-go/internal/store/redisstore"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	endpointStore *redisstore.EndpointStore
	auditRepo     *repository.DecisionAuditRepository
	logger        *zap.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(
	endpointStore *redisstore.EndpointStore,
	auditRepo *repository.DecisionAuditRepository,
	logger *zap.Logger,
) *HealthHandler {
	return &HealthHandler{
		endpointStore: endpointStore,
		auditRepo:     auditRepo,
		logger:        logger,
	}
}

// Health returns basic health status.
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "ratelimit-go",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Ready checks if the service is ready to handle requests.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	start := time.Now()

	checks := make(map[string]interface{})
	allHealthy := true

	redisStart := time.Now()
	redisCtx, redisCancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer redisCancel()

	if _, err := h.endpointStore.LoadGlobal(redisCtx, "GET", "/health/ready"); err != nil {
		checks["redis"] = map[string]interface{}{
			"status":   "unhealthy",
			"error":    err.Error(),
			"duration": time.Since(redisStart).Milliseconds(),
		}
		allHealthy = false
		h.logger.Warn("redis health check failed", zap.Error(err))
	} else {
		checks["redis"] = map[string]interface{}{
			"status":   "healthy",
			"duration": time.Since(redisStart).Milliseconds(),
		}
	}

	dbStart := time.Now()
	dbCtx, dbCancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer dbCancel()

	if err := h.auditRepo.HealthCheck(dbCtx); err != nil {
		checks["database"] = map[string]interface{}{
			"status":   "unhealthy",
			"error":    err.Error(),
			"duration": time.Since(dbStart).Milliseconds(),
		}
		allHealthy = false
		h.logger.Warn("database health check failed", zap.Error(err))
	} else {
		checks["database"] = map[string]interface{}{
			"status":   "healthy",
			"duration": time.Since(dbStart).Milliseconds(),
		}
	}

	status := http.StatusOK
	overallStatus := "ready"
	if !allHealthy {
		status = http.StatusServiceUnavailable
		overallStatus = "not_ready"
	}

	c.JSON(status, gin.H{
		"status":         overallStatus,
		"service":        "ratelimit-go",
		"checks":         checks,
		"total_duration": time.Since(start).Milliseconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Live checks if the service is alive (minimal check).
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"service":   "ratelimit-go",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
