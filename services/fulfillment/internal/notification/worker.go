package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
)

// maxDeliveryRetries — число повторов доставки до отправки события в DLQ.
const maxDeliveryRetries = 3

// EmailSender доставляет письмо получателю.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// LogSender пишет письма в лог вместо реальной отправки.
// Используется в dev окружении и как fallback без SMTP.
type LogSender struct{}

// Send реализует EmailSender.
func (LogSender) Send(ctx context.Context, msg EmailMessage) error {
	logger.Ctx(ctx).Info().
		Str("recipient_id", msg.RecipientID).
		Str("subject", msg.Subject).
		Str("body", msg.Body).
		Msg("Email (лог-доставка)")
	return nil
}

// Worker — consumer топика уведомлений: декодирует события и
// отправляет письма через EmailSender.
type Worker struct {
	consumer *kafka.Consumer
	sender   EmailSender
}

// NewWorker создаёт worker доставки уведомлений.
func NewWorker(consumer *kafka.Consumer, sender EmailSender) *Worker {
	return &Worker{consumer: consumer, sender: sender}
}

// Run потребляет топик уведомлений до отмены контекста.
// Недоставляемые события после повторов уходят в DLQ.
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.ConsumeWithRetry(ctx, w.Handle, maxDeliveryRetries)
}

// Handle обрабатывает одно событие уведомления.
// Публичный для прямого вызова из тестов.
func (w *Worker) Handle(ctx context.Context, msg *kafka.Message) error {
	switch msg.EventType() {
	case EventOrderConfirmation:
		return w.handleConfirmation(ctx, msg.Value)
	case EventAbandonedCartReminder:
		return w.handleReminder(ctx, msg.Value)
	default:
		// Чужие события не наши: пропускаем без ошибки, чтобы не засорять DLQ.
		logger.Ctx(ctx).Debug().
			Str("event_type", msg.EventType()).
			Msg("Неизвестный тип уведомления, пропускаем")
		return nil
	}
}

func (w *Worker) handleConfirmation(ctx context.Context, value []byte) error {
	var payload OrderConfirmationPayload
	if err := json.Unmarshal(value, &payload); err != nil {
		return fmt.Errorf("ошибка декодирования подтверждения заказа: %w", err)
	}

	return w.sender.Send(ctx, EmailMessage{
		RecipientID: payload.CustomerID,
		Subject:     fmt.Sprintf("Заказ %s подтверждён", payload.OrderID),
		Body:        renderConfirmation(payload),
	})
}

func (w *Worker) handleReminder(ctx context.Context, value []byte) error {
	var payload CartReminderPayload
	if err := json.Unmarshal(value, &payload); err != nil {
		return fmt.Errorf("ошибка декодирования напоминания: %w", err)
	}

	return w.sender.Send(ctx, EmailMessage{
		RecipientID: payload.CustomerID,
		Subject:     "Ваш заказ ждёт оплаты",
		Body: fmt.Sprintf(
			"Заказ %s на сумму %s ещё не оплачен и скоро будет отменён.\nЗавершить оформление: %s",
			payload.OrderID, formatAmount(payload.TotalAmount), payload.CheckoutURL,
		),
	})
}

// renderConfirmation собирает тело письма-подтверждения.
func renderConfirmation(p OrderConfirmationPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Спасибо за заказ %s!\n\nСостав заказа:\n", p.OrderID)
	for _, item := range p.Items {
		fmt.Fprintf(&b, "  - %s × %d\n", item.ProductName, item.Quantity)
	}
	fmt.Fprintf(&b, "\nИтого: %s\n", formatAmount(p.TotalAmount))

	if p.TrackingNumber != "" {
		fmt.Fprintf(&b, "Доставка: %s, трек-номер %s\n", p.Carrier, p.TrackingNumber)
	}
	if p.EstimatedDelivery != nil {
		fmt.Fprintf(&b, "Ожидаемая дата доставки: %s\n", p.EstimatedDelivery.Format("02.01.2006"))
	}
	return b.String()
}

// formatAmount печатает сумму в минорных единицах как десятичную.
func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
