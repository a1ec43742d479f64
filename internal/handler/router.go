package handler

import (
	"net/http"
	"time"

	"zefa-sync/internal/config"
	"zefa-sync/internal/metrics"
	"zefa-sync/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func NewRouter(cfg *config.Config, chat *ChatHandler, transactions *TransactionHandler) *gin.Engine {
	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.Use(middleware.RateLimit(cfg.RateLimit))
	{
		chatGroup := api.Group("/chat")
		{
			chatGroup.GET("/session", chat.GetSession)
			chatGroup.DELETE("/session", chat.ClearSession)
			chatGroup.POST("/messages", chat.SendMessage)
			chatGroup.POST("/messages/:message_id/retry", chat.RetryMessage)
			chatGroup.GET("/events", chat.StreamEvents)
		}

		txGroup := api.Group("/transactions")
		{
			txGroup.GET("", transactions.ListTransactions)
			txGroup.POST("/reload", transactions.Reload)
			txGroup.GET("/pending", transactions.PendingEdits)
			txGroup.POST("/reconcile", transactions.Reconcile)
			txGroup.PUT("/:id", transactions.UpdateTransaction)
		}

		api.GET("/dashboard/summary", transactions.DashboardSummary)
	}

	return router
}
