package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/payment"
)

// SignatureHeader — заголовок подписи платёжного провайдера.
const SignatureHeader = "Webhook-Signature"

// maxWebhookBody — лимит тела webhook запроса.
const maxWebhookBody = 1 << 20

// WebhookHandler принимает callbacks платёжного провайдера.
type WebhookHandler struct {
	verifier  *payment.WebhookVerifier
	processor WebhookProcessor
}

// NewWebhookHandler создаёт handler платёжных webhook-ов.
func NewWebhookHandler(verifier *payment.WebhookVerifier, processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, processor: processor}
}

// HandlePayment обрабатывает POST /api/v1/webhooks/payment.
// Подпись проверяется по сырому телу запроса до любого декодирования.
// Дубликаты отвечают тем же успехом, что и первая доставка.
func (h *WebhookHandler) HandlePayment(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		HandleError(c, fmt.Errorf("%w: ошибка чтения тела", domain.ErrValidation), "HandlePayment")
		return
	}

	event, err := h.verifier.ParseEvent(body, c.GetHeader(SignatureHeader))
	if err != nil {
		HandleError(c, err, "HandlePayment")
		return
	}

	if err := h.processor.ProcessEvent(c.Request.Context(), event); err != nil {
		HandleError(c, err, "HandlePayment")
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
