package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/services/fulfillment/internal/auth"
	"example.com/fulfillment/services/fulfillment/internal/payment"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — HTTP роутер fulfillment-сервиса.
type Router struct {
	engine          *gin.Engine
	orders          OrderService
	webhooks        WebhookProcessor
	availability    AvailabilityProvider
	authService     *auth.Service
	webhookVerifier *payment.WebhookVerifier
	readinessCheck  ReadinessChecker // опциональная проверка готовности
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Orders          OrderService
	Webhooks        WebhookProcessor
	Availability    AvailabilityProvider
	AuthService     *auth.Service
	WebhookVerifier *payment.WebhookVerifier
	ReadinessCheck  ReadinessChecker // опциональная проверка готовности для /readyz
	Debug           bool             // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Стандартные middleware Gin
	engine.Use(gin.Recovery())

	// OpenTelemetry tracing — создаёт spans для Jaeger
	engine.Use(otelgin.Middleware("fulfillment"))

	// Prometheus метрики — requests_total, request_duration_seconds
	engine.Use(metrics.GinMetricsMiddleware("fulfillment"))

	r := &Router{
		engine:          engine,
		orders:          cfg.Orders,
		webhooks:        cfg.Webhooks,
		availability:    cfg.Availability,
		authService:     cfg.AuthService,
		webhookVerifier: cfg.WebhookVerifier,
		readinessCheck:  cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	// Health endpoints (без auth)
	r.engine.GET("/health", r.healthCheck)           // legacy, оставлен для совместимости
	r.engine.GET("/healthz", r.livenessCheck)        // k3s liveness probe
	r.engine.GET("/readyz", r.readinessCheckHandler) // k3s readiness probe

	// API v1
	v1 := r.engine.Group("/api/v1")

	// === Order routes (публичные) ===
	orderHandler := NewOrderHandler(r.orders)
	orders := v1.Group("/orders")
	{
		orders.POST("", orderHandler.CreateOrder)
		orders.GET("", orderHandler.ListOrders)
		orders.GET("/:orderId", orderHandler.GetOrder)
	}

	// === Inventory routes (публичные, read-only) ===
	inventoryHandler := NewInventoryHandler(r.availability)
	v1.GET("/inventory/:productId", inventoryHandler.GetAvailability)

	// === Webhook routes (подпись вместо auth) ===
	webhookHandler := NewWebhookHandler(r.webhookVerifier, r.webhooks)
	v1.POST("/webhooks/payment", webhookHandler.HandlePayment)

	// === Admin routes ===
	if r.authService != nil {
		adminHandler := NewAdminHandler(r.authService, r.orders)
		admin := v1.Group("/admin")
		{
			admin.POST("/login", adminHandler.Login)
			admin.POST("/logout", adminHandler.Logout)

			// Отмена заказа требует живую сессию
			protected := admin.Group("/orders")
			protected.Use(auth.Middleware(r.authService))
			protected.POST("/:orderId/cancel", adminHandler.CancelOrder)
		}
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// healthCheck — проверка работоспособности сервиса (legacy).
func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "fulfillment",
	})
}

// livenessCheck — liveness probe для Kubernetes.
// Возвращает 200 OK если процесс жив (сервер отвечает = процесс работает).
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — readiness probe для Kubernetes.
// Возвращает 200 OK если сервис готов принимать трафик (все зависимости доступны).
func (r *Router) readinessCheckHandler(c *gin.Context) {
	// Если ReadinessChecker не установлен — считаем сервис готовым
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	// Проверяем готовность с таймаутом 5 секунд
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
