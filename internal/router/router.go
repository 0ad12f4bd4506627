package router

import (
	"net/http"

	"bridge-backend/internal/handlers"
	"bridge-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// New builds the gin engine with every route the relayer serves.
func New(
	bridge *handlers.BridgeHandler,
	queue *handlers.QueueHandler,
	adminAuth *middleware.AdminAuthMiddleware,
	registry *prometheus.Registry,
	logger *logrus.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger(logger))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := engine.Group("/v1")
	{
		v1.POST("/evm/verify", bridge.ConfirmDeposit)
		v1.POST("/evm/allocate", bridge.AllocateFund)

		v1.POST("/defichain/verify", bridge.VerifyDefichainDeposit)
		v1.GET("/defichain/address", bridge.GenerateAddress)

		v1.POST("/queue", queue.Create)
		v1.POST("/queue/verify", queue.Verify)
		v1.POST("/queue/refund", queue.RequestRefund)
	}

	admin := v1.Group("/admin", adminAuth.RequireAdmin())
	{
		admin.POST("/queue/settle", queue.Settle)
		admin.POST("/queue/defichain-verify", queue.DefichainVerify)
		admin.POST("/queue/refunded", queue.MarkRefunded)
		admin.GET("/stats", queue.DailyStats)
	}

	return engine
}
