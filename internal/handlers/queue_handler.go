package handlers

import (
	"net/http"
	"time"

	"bridge-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// QueueHandler exposes the queued path, including the JWT-guarded admin
// settlement operations.
type QueueHandler struct {
	coordinator *services.QueueCoordinator
	stats       *services.StatsService
	logger      *logrus.Logger
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(coordinator *services.QueueCoordinator, stats *services.StatsService, logger *logrus.Logger) *QueueHandler {
	return &QueueHandler{coordinator: coordinator, stats: stats, logger: logger}
}

// Create handles POST /v1/queue.
func (h *QueueHandler) Create(c *gin.Context) {
	var req txHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, ok := parseTxHash(req.TransactionHash)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction hash"})
		return
	}

	entry, err := h.coordinator.Create(c.Request.Context(), hash)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Verify handles POST /v1/queue/verify.
func (h *QueueHandler) Verify(c *gin.Context) {
	var req txHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, ok := parseTxHash(req.TransactionHash)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction hash"})
		return
	}

	result, err := h.coordinator.Verify(c.Request.Context(), hash)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RequestRefund handles POST /v1/queue/refund.
func (h *QueueHandler) RequestRefund(c *gin.Context) {
	var req txHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, ok := parseTxHash(req.TransactionHash)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction hash"})
		return
	}

	entry, err := h.coordinator.RequestRefund(c.Request.Context(), hash)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Settle handles POST /v1/admin/queue/settle.
func (h *QueueHandler) Settle(c *gin.Context) {
	var req txHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, ok := parseTxHash(req.TransactionHash)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction hash"})
		return
	}

	sendTxID, err := h.coordinator.Settle(c.Request.Context(), hash)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sendTransactionHash": sendTxID})
}

// DefichainVerify handles POST /v1/admin/queue/defichain-verify.
func (h *QueueHandler) DefichainVerify(c *gin.Context) {
	var req txHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, ok := parseTxHash(req.TransactionHash)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction hash"})
		return
	}

	result, err := h.coordinator.DefichainVerify(c.Request.Context(), hash)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MarkRefunded handles POST /v1/admin/queue/refunded.
func (h *QueueHandler) MarkRefunded(c *gin.Context) {
	var req txHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, ok := parseTxHash(req.TransactionHash)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction hash"})
		return
	}

	entry, err := h.coordinator.MarkRefunded(c.Request.Context(), hash)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// DailyStats handles GET /v1/admin/stats?date=2006-01-02.
func (h *QueueHandler) DailyStats(c *gin.Context) {
	date := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	stats, err := h.stats.Daily(c.Request.Context(), date)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
