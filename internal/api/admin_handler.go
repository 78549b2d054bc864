package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kuyugama/ratelimit-go/internal/analytics"
	"github.com/kuyugama/ratelimit-go/internal/models"
	"github.com/kuyugama/ratelimit-go/internal/ratelimit"
	"github.com/kuyugama/ratelimit-go/internal/repository"
	"github.com/kuyugama/ratelimit-go/internal/store/redisstore"
)

// AdminHandler exposes reporting endpoints over the rate limit engine's
// decision history and identity ranks.
type AdminHandler struct {
	auditRepo    *repository.DecisionAuditRepository
	rankingStore *redisstore.RankingStore
	ranks        ratelimit.RankSet
	logger       *zap.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	auditRepo *repository.DecisionAuditRepository,
	rankingStore *redisstore.RankingStore,
	ranks ratelimit.RankSet,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		auditRepo:    auditRepo,
		rankingStore: rankingStore,
		ranks:        ranks,
		logger:       logger,
	}
}

// GetAnalytics computes a RankDistribution for a group.
// GET /api/v1/ratelimit/analytics/:group
func (h *AdminHandler) GetAnalytics(c *gin.Context) {
	group := c.Param("group")
	if group == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group is required"})
		return
	}

	start := time.Now()

	identities, err := h.rankingStore.SnapshotGroup(c.Request.Context(), group)
	if err != nil {
		h.logger.Error("failed to snapshot group identities", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute analytics"})
		return
	}

	var blockDurations []float64
	events, err := h.auditRepo.List(c.Request.Context(), &models.DecisionQuery{Group: &group, Limit: 1000})
	if err != nil {
		h.logger.Warn("failed to list decision events for analytics", zap.Error(err))
	} else {
		for _, event := range events {
			if event.Outcome == models.OutcomeBlocked || event.Outcome == models.OutcomeDelayed {
				blockDurations = append(blockDurations, event.LimitedFor.Seconds())
			}
		}
	}

	distribution := analytics.ComputeRankDistribution(group, identities, blockDurations, len(h.ranks))

	h.logger.Debug("analytics computed",
		zap.String("group", group),
		zap.Int("sample_size", distribution.SampleSize),
		zap.Duration("duration", time.Since(start)))

	c.JSON(http.StatusOK, gin.H{
		"analytics": distribution,
		"meta": gin.H{
			"processing_time_ms": time.Since(start).Milliseconds(),
		},
	})
}

// GetStats retrieves aggregate decision counts for a group.
// GET /api/v1/ratelimit/stats/:group
func (h *AdminHandler) GetStats(c *gin.Context) {
	group := c.Param("group")
	if group == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group is required"})
		return
	}

	stats, err := h.auditRepo.GetStats(c.Request.Context(), group)
	if err != nil {
		h.logger.Error("failed to get decision stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// GetDecision retrieves a single decision event by id.
// GET /api/v1/ratelimit/decisions/:id
func (h *AdminHandler) GetDecision(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision id"})
		return
	}

	event, err := h.auditRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
			return
		}
		h.logger.Error("failed to get decision event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve decision"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"decision": event})
}

// ListDecisions lists recent decision events, optionally filtered by
// identity or outcome.
// GET /api/v1/ratelimit/decisions?identity_id=...&outcome=...&limit=...&offset=...
func (h *AdminHandler) ListDecisions(c *gin.Context) {
	query := &models.DecisionQuery{}

	if identityID := c.Query("identity_id"); identityID != "" {
		query.IdentityID = &identityID
	}
	if group := c.Query("group"); group != "" {
		query.Group = &group
	}
	if outcome := c.Query("outcome"); outcome != "" {
		o := models.DecisionOutcome(outcome)
		query.Outcome = &o
	}

	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			query.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			query.Offset = parsed
		}
	}

	events, err := h.auditRepo.List(c.Request.Context(), query)
	if err != nil {
		h.logger.Error("failed to list decision events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list decisions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": events,
		"meta": gin.H{
			"returned": len(events),
			"limit":    query.Limit,
			"offset":   query.Offset,
		},
	})
}
