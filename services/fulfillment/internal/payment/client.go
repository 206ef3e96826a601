// Package payment содержит адаптер платёжного провайдера: HTTP клиент
// для интентов и возвратов плюс проверку подписи входящих webhook.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"example.com/fulfillment/pkg/circuitbreaker"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// Intent — платёжный интент провайдера.
type Intent struct {
	ID            string            `json:"id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	ClientSecret  string            `json:"client_secret,omitempty"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Refund — возврат платежа.
type Refund struct {
	ID       string `json:"id"`
	IntentID string `json:"payment_intent"`
	Amount   int64  `json:"amount"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
}

// Статусы интента на стороне провайдера.
const (
	IntentStatusSucceeded = "succeeded"
	IntentStatusPending   = "pending"
	IntentStatusFailed    = "failed"
	IntentStatusCanceled  = "canceled"
)

// RefundReasonRequestedByCustomer — причина возврата при компенсации саги.
const RefundReasonRequestedByCustomer = "requested_by_customer"

// Client определяет операции платёжного провайдера.
// Интерфейс для тестируемости (Dependency Inversion).
type Client interface {
	// CreateIntent создаёт платёжный интент на сумму amount (минорные единицы).
	// metadata обязана содержать orderId — по нему webhook находит заказ.
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Intent, error)

	// GetIntent возвращает текущее состояние интента.
	GetIntent(ctx context.Context, intentID string) (*Intent, error)

	// Refund создаёт полный возврат по интенту.
	Refund(ctx context.Context, intentID, reason string) (*Refund, error)
}

// httpClient — реализация Client поверх HTTP API провайдера.
// Все вызовы идут через Circuit Breaker: при недоступности провайдера
// запросы отклоняются мгновенно, не съедая тайм-ауты саги.
type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// Config — настройки HTTP клиента провайдера.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient создаёт HTTP клиент платёжного провайдера.
func NewClient(cfg Config) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	settings := circuitbreaker.DefaultSettings()
	// Бизнес-ошибки провайдера (4xx) не должны открывать breaker.
	settings.IsFailure = func(err error) bool {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.StatusCode >= 500
		}
		return true
	}

	return &httpClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewWithSettings("payment-provider", settings),
	}
}

// APIError — ошибка API провайдера с HTTP статусом.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error реализует интерфейс error.
func (e *APIError) Error() string {
	return fmt.Sprintf("payment api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// CreateIntent создаёт платёжный интент.
func (c *httpClient) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", currency)
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	return circuitbreaker.Execute(ctx, c.breaker, func() (*Intent, error) {
		var intent Intent
		if err := c.do(ctx, http.MethodPost, "/payment_intents", form, &intent); err != nil {
			return nil, err
		}
		return &intent, nil
	})
}

// GetIntent возвращает состояние интента.
func (c *httpClient) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	return circuitbreaker.Execute(ctx, c.breaker, func() (*Intent, error) {
		var intent Intent
		if err := c.do(ctx, http.MethodGet, "/payment_intents/"+url.PathEscape(intentID), nil, &intent); err != nil {
			return nil, err
		}
		return &intent, nil
	})
}

// Refund создаёт полный возврат по интенту.
func (c *httpClient) Refund(ctx context.Context, intentID, reason string) (*Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)
	form.Set("reason", reason)

	return circuitbreaker.Execute(ctx, c.breaker, func() (*Refund, error) {
		var refund Refund
		if err := c.do(ctx, http.MethodPost, "/refunds", form, &refund); err != nil {
			return nil, err
		}
		return &refund, nil
	})
}

// do выполняет HTTP запрос к API провайдера и декодирует ответ.
func (c *httpClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = bytes.NewBufferString(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: чтение ответа: %v", domain.ErrExternalService, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// Тело ошибки может быть обёрнуто в {"error": {...}}
		var wrapper struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(data, &wrapper) == nil && wrapper.Error != nil {
			apiErr.Code = wrapper.Error.Code
			apiErr.Message = wrapper.Error.Message
		}

		logger.Ctx(ctx).Warn().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("code", apiErr.Code).
			Msg("Ошибка API платёжного провайдера")
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("ошибка декодирования ответа провайдера: %w", err)
		}
	}
	return nil
}
