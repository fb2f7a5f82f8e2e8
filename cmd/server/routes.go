package main

import (
	"net/http"
	"slices"

	"escrow-pay.backend/internal/interfaces/http/handlers"
	"escrow-pay.backend/internal/interfaces/http/middleware"
	"escrow-pay.backend/internal/interfaces/ws"
	"escrow-pay.backend/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	paymentHandler    *handlers.PaymentHandler
	lpHandler         *handlers.LPHandler
	chainEventHandler *handlers.ChainEventHandler
	adminHandler      *handlers.AdminHandler
	healthHandler     *handlers.HealthHandler
	hub               *ws.Hub
	jwtService        *jwt.JWTService
	allowedOrigins    []string
}

func newRouter(d routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())

	applyCORSMiddleware(r, d.allowedOrigins)
	registerHealthRoute(r, d.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	registerAPIV1Routes(r, d)
	if d.hub != nil {
		r.GET("/ws/payments", middleware.AuthMiddleware(d.jwtService), d.hub.ServeWS)
	}
	return r
}

func registerAPIV1Routes(r *gin.Engine, d routeDeps) {
	auth := middleware.AuthMiddleware(d.jwtService)
	v1 := r.Group("/api/v1")
	{
		// Indexer push, authenticated by shared secret
		v1.POST("/chain/events", d.chainEventHandler.HandleEvent)

		payments := v1.Group("/payments")
		payments.Use(auth)
		{
			payments.POST("", middleware.IdempotencyMiddleware(), d.paymentHandler.CreatePayment)
			payments.GET("", d.paymentHandler.ListPayments)
			payments.GET("/:id", d.paymentHandler.GetPayment)
			payments.GET("/:id/history", d.paymentHandler.GetHistory)
			payments.POST("/:id/claim",
				middleware.RequireRole(jwt.RoleLP),
				middleware.IdempotencyMiddleware(),
				d.paymentHandler.Claim,
			)
			payments.POST("/:id/paid", d.paymentHandler.MarkPaid)
			payments.POST("/:id/confirm", d.paymentHandler.Confirm)
			payments.POST("/:id/cancel", d.paymentHandler.Cancel)
			payments.POST("/:id/dispute", d.paymentHandler.Dispute)
			payments.POST("/:id/sync", d.paymentHandler.Sync)
		}

		lps := v1.Group("/lps")
		lps.Use(auth)
		{
			lps.POST("", middleware.RequireRole(jwt.RoleLP, jwt.RoleAdmin), d.lpHandler.Register)
			lps.GET("", d.lpHandler.List)
			lps.GET("/:wallet", d.lpHandler.Get)
		}

		admin := v1.Group("/admin")
		admin.Use(auth, middleware.RequireRole(jwt.RoleAdmin))
		{
			admin.PUT("/lps/:wallet/active", d.lpHandler.SetActive)
			admin.GET("/retry-queue", d.adminHandler.ListRetryQueue)
			admin.GET("/retry-queue/stats", d.adminHandler.RetryQueueStats)
			admin.POST("/retry-queue/:id/requeue", d.adminHandler.Requeue)
		}
	}
}

// applyCORSMiddleware echoes allowed origins. An empty list allows any origin.
func applyCORSMiddleware(r *gin.Engine, allowedOrigins []string) {
	r.Use(func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, origin)) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Request-ID, X-Webhook-Secret")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-Idempotency-Hit")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
}

func registerHealthRoute(r *gin.Engine, h *handlers.HealthHandler) {
	if h == nil {
		r.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		return
	}
	r.GET("/health", h.Health)
}
