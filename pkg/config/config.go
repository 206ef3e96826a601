// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию fulfillment-сервиса.
type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	MySQL         MySQLConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Payment       PaymentConfig
	Notifications NotificationConfig
	Reaper        ReaperConfig
	Idempotency   IdempotencyConfig
	Admin         AdminConfig
	Metrics       MetricsConfig
	Jaeger        JaegerConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"fulfillment"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig содержит настройки HTTP сервера.
type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Addr возвращает адрес для HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"fulfillment"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
// Redis хранит записи идемпотентности и админ-сессии (обе таблицы с TTL).
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"fulfillment"`
}

// PaymentConfig содержит настройки платёжного провайдера.
// WebhookSecret подписывает входящие webhook события (HMAC-SHA256).
// Пустой WebhookSecret допустим только в development — подпись не проверяется.
type PaymentConfig struct {
	BaseURL        string        `env:"PAYMENT_API_BASE_URL" envDefault:"https://api.payment.example.com/v1"`
	APIKey         string        `env:"PAYMENT_API_KEY"`
	WebhookSecret  string        `env:"PAYMENT_WEBHOOK_SECRET"`
	RequestTimeout time.Duration `env:"PAYMENT_REQUEST_TIMEOUT" envDefault:"10s"`
}

// NotificationConfig содержит настройки email уведомлений.
type NotificationConfig struct {
	SenderAddress   string `env:"NOTIFICATION_SENDER" envDefault:"orders@shop.example.com"`
	FrontendBaseURL string `env:"FRONTEND_BASE_URL" envDefault:"http://localhost:3000"`
}

// ReaperConfig содержит настройки уборщика брошенных корзин.
type ReaperConfig struct {
	// Interval — период между проходами reaper.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// AbandonedAfterMinutes — возраст неоплаченного заказа, после которого
	// он отменяется и резервы возвращаются на склад.
	AbandonedAfterMinutes int `env:"ABANDONED_CART_TIMEOUT_MINUTES" envDefault:"30"`

	// RemindersEnabled включает напоминания о брошенной корзине
	// (отправляются за 5 минут до отмены).
	RemindersEnabled bool `env:"ABANDONED_CART_REMINDERS_ENABLED" envDefault:"true"`

	// BatchSize — максимум заказов за один проход.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"50"`
}

// AbandonedAfter возвращает таймаут брошенной корзины как Duration.
func (c ReaperConfig) AbandonedAfter() time.Duration {
	return time.Duration(c.AbandonedAfterMinutes) * time.Minute
}

// IdempotencyConfig содержит настройки хранилища идемпотентности.
type IdempotencyConfig struct {
	// TTL записей. Минимум 24 часа, по умолчанию 7 дней.
	TTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"168h"`
}

// AdminConfig содержит учётные данные администратора и настройки сессий.
// PasswordHash — bcrypt-хэш пароля (никогда не сам пароль).
type AdminConfig struct {
	Username     string        `env:"ADMIN_USERNAME" envDefault:"admin"`
	PasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
	JWTSecret    string        `env:"ADMIN_JWT_SECRET"`
	SessionTTL   time.Duration `env:"ADMIN_SESSION_TTL" envDefault:"12h"`
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// JaegerConfig содержит настройки трассировки.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"false"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
}

// OTLPEndpoint возвращает OTLP gRPC endpoint.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подхватывает .env файл, если он существует.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate проверяет инварианты конфигурации, которые env-теги выразить не могут.
func (c *Config) validate() error {
	if c.Idempotency.TTL < 24*time.Hour {
		return fmt.Errorf("IDEMPOTENCY_TTL не может быть меньше 24h, получено %s", c.Idempotency.TTL)
	}
	if c.Reaper.AbandonedAfterMinutes <= 5 {
		return fmt.Errorf("ABANDONED_CART_TIMEOUT_MINUTES должен быть больше 5, получено %d", c.Reaper.AbandonedAfterMinutes)
	}
	if c.IsProduction() && c.Payment.WebhookSecret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET обязателен в production")
	}
	return nil
}

// IsDevelopment возвращает true в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
