// Fulfillment Service — обработка заказов после оплаты: saga-оркестрация
// (резерв → проверка платежа → доставка → уведомление), инвентарь по
// складам, платёжные webhooks и уборка брошенных корзин.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"example.com/fulfillment/pkg/config"
	"example.com/fulfillment/pkg/db"
	"example.com/fulfillment/pkg/healthcheck"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/pkg/tracing"
	"example.com/fulfillment/services/fulfillment/internal/auth"
	"example.com/fulfillment/services/fulfillment/internal/handler"
	"example.com/fulfillment/services/fulfillment/internal/idempotency"
	"example.com/fulfillment/services/fulfillment/internal/inventory"
	"example.com/fulfillment/services/fulfillment/internal/notification"
	"example.com/fulfillment/services/fulfillment/internal/payment"
	"example.com/fulfillment/services/fulfillment/internal/repository"
	"example.com/fulfillment/services/fulfillment/internal/saga"
	"example.com/fulfillment/services/fulfillment/internal/service"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", "fulfillment").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Msg("Запуск Fulfillment Service")

	// Tracing (Jaeger через OTLP)
	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.App.Name,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Environment:    cfg.App.Env,
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации tracing")
	}

	// Подключаемся к MySQL
	gormDB, err := db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	// Подключаемся к Redis (идемпотентность и админ-сессии)
	rdb := db.ConnectRedis(cfg.Redis)

	// Kafka producer для outbox worker
	producer, err := kafka.NewProducer(kafka.Config{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka producer")
	}

	// Kafka consumer топика уведомлений
	consumer, err := kafka.NewConsumer(kafka.Config{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	}, kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka consumer")
	}
	// Необработанные уведомления уходят в DLQ вместо бесконечных повторов
	consumer.SetDLQProducer(producer)

	// === Репозитории ===
	orderRepo := repository.NewOrderRepository(gormDB)
	inventoryRepo := repository.NewInventoryRepository(gormDB)
	productRepo := repository.NewProductRepository(gormDB)
	outboxRepo := outbox.NewOutboxRepository(gormDB)

	// === Доменные компоненты ===
	engine := inventory.NewEngine(inventoryRepo, productRepo)
	idemSvc := idempotency.NewService(rdb, cfg.Idempotency.TTL)

	paymentClient := payment.NewClient(payment.Config{
		BaseURL: cfg.Payment.BaseURL,
		APIKey:  cfg.Payment.APIKey,
		Timeout: cfg.Payment.RequestTimeout,
	})
	webhookVerifier := payment.NewWebhookVerifier(cfg.Payment.WebhookSecret)
	if cfg.Payment.WebhookSecret == "" {
		log.Warn().Msg("PAYMENT_WEBHOOK_SECRET пуст — подпись webhook не проверяется")
	}

	notifier := notification.NewPublisher(producer, cfg.Notifications)

	// === Saga ===
	orchestrator := saga.NewOrchestrator(orderRepo, engine, paymentClient, idemSvc, notifier)
	compensator := saga.NewCompensator(orderRepo, engine, paymentClient, idemSvc)
	reaper := saga.NewReaper(orderRepo, engine, notifier, idemSvc, outboxRepo, cfg.Reaper)

	// === Сервисный слой ===
	orderService := service.NewOrderService(orderRepo, productRepo, engine, paymentClient, compensator)
	webhookService := service.NewWebhookService(orderRepo, orchestrator)
	authService := auth.NewService(cfg.Admin, rdb)

	// === Фоновые воркеры ===
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	outboxWorker := outbox.NewOutboxWorker(outboxRepo, producer, outbox.DefaultWorkerConfig())
	go outboxWorker.Run(workerCtx)
	go reaper.Run(workerCtx)

	notificationWorker := notification.NewWorker(consumer, notification.LogSender{})
	go func() {
		if err := notificationWorker.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Error().Err(err).Msg("Notification worker завершился с ошибкой")
		}
	}()

	// === HTTP API ===
	readiness := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, gormDB) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, rdb) },
	)

	router := handler.NewRouter(handler.RouterConfig{
		Orders:          orderService,
		Webhooks:        webhookService,
		Availability:    engine,
		AuthService:     authService,
		WebhookVerifier: webhookVerifier,
		ReadinessCheck:  readiness,
		Debug:           cfg.IsDevelopment(),
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Metrics server (отдельный порт, без auth)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), "fulfillment",
			metrics.WithReadinessCheck(readiness))
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics сервера")
			}
		}()
	}

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	// Сначала перестаём принимать трафик, потом гасим воркеры
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}
	stopWorkers()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics сервера")
		}
	}

	if err := consumer.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Kafka consumer")
	}
	if err := producer.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Kafka producer")
	}

	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки tracing")
	}

	if sqlDB, err := gormDB.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Redis")
	}

	log.Info().Msg("Fulfillment Service остановлен")
}
