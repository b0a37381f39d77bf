package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/cache"
	"github.com/MikeMC777/ordenes-pagos/internal/checkout"
	"github.com/MikeMC777/ordenes-pagos/internal/httpx"
	"github.com/MikeMC777/ordenes-pagos/internal/reconcile"
)

type server struct {
	checkout  *checkout.Service
	reconcile *reconcile.Service
	cache     cache.Store
	log       *zap.Logger

	jwtSecret   string
	rateMax     int
	rateWindow  time.Duration
	swaggerDocs bool
}

func newRouter(s *server) *gin.Engine {
	r := gin.New()
	r.Use(httpx.RequestID(), httpx.Recovery(s.log), httpx.Logger(s.log))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	if s.swaggerDocs {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// gateways authenticate with their own signatures
	r.POST("/orders/webhook/:gateway", webhookHandler(s.reconcile, s.log))

	api := r.Group("/", httpx.Auth(s.jwtSecret))
	limited := httpx.RateLimit(s.cache, s.log, "payments", s.rateMax, s.rateWindow)

	api.POST("/orders", createOrderHandler(s.checkout, s.log))
	api.GET("/orders/user/orders", listMyOrdersHandler(s.checkout, s.log))
	api.GET("/orders/:id", getOrderHandler(s.checkout, s.log))
	api.POST("/orders/:id/:method", limited, paymentInstructionsHandler(s.checkout, s.log))
	api.PUT("/orders/:id/verify-payment", limited, verifyPaymentHandler(s.reconcile, s.log))

	api.POST("/payments/:paymentId/refund", limited, refundHandler(s.reconcile, s.log))
	api.GET("/payments/:paymentId/status", paymentStatusHandler(s.reconcile, s.log))
	return r
}
