package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// Типы webhook событий провайдера.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
)

// signatureTolerance — максимальный возраст подписи. Защита от replay:
// перехваченный webhook нельзя воспроизвести позже этого окна.
const signatureTolerance = 5 * time.Minute

// Event — webhook событие платёжного провайдера.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object Intent `json:"object"`
	} `json:"data"`
}

// OrderID возвращает orderId из metadata интента (пустая строка если нет).
func (e *Event) OrderID() string {
	return e.Data.Object.Metadata["orderId"]
}

// WebhookVerifier проверяет подпись и разбирает webhook события.
type WebhookVerifier struct {
	secret string
	// now подменяется в тестах для проверки окна толерантности.
	now func() time.Time
}

// NewWebhookVerifier создаёт верификатор с секретом из конфигурации.
// Пустой секрет отключает проверку подписи (только для dev окружения).
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret, now: time.Now}
}

// ParseEvent проверяет подпись payload и декодирует событие.
// Формат заголовка подписи: "t=<unix>,v1=<hex hmac-sha256>", где подпись
// считается от строки "<t>.<payload>".
func (v *WebhookVerifier) ParseEvent(payload []byte, signatureHeader string) (*Event, error) {
	if v.secret != "" {
		if err := v.verifySignature(payload, signatureHeader); err != nil {
			return nil, err
		}
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: некорректный JSON события: %v", domain.ErrValidation, err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("%w: событие без type", domain.ErrValidation)
	}
	return &event, nil
}

// verifySignature проверяет HMAC-SHA256 подпись и окно толерантности.
func (v *WebhookVerifier) verifySignature(payload []byte, header string) error {
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("%w: подпись вне окна толерантности", domain.ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	// Заголовок может нести несколько v1 подписей (ротация секрета).
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}

	return fmt.Errorf("%w: подпись не совпадает", domain.ErrSignatureInvalid)
}

// parseSignatureHeader разбирает "t=...,v1=...[,v1=...]".
func parseSignatureHeader(header string) (timestamp int64, signatures []string, err error) {
	if header == "" {
		return 0, nil, fmt.Errorf("%w: отсутствует заголовок подписи", domain.ErrSignatureInvalid)
	}

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: некорректный timestamp подписи", domain.ErrSignatureInvalid)
			}
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: неполный заголовок подписи", domain.ErrSignatureInvalid)
	}
	return timestamp, signatures, nil
}
