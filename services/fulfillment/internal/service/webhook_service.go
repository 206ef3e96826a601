package service

import (
	"context"
	"errors"
	"fmt"

	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/payment"
	"example.com/fulfillment/services/fulfillment/internal/repository"
)

// SagaRunner запускает fulfillment-сагу для заказа. saga.Orchestrator
// реализует интерфейс.
type SagaRunner interface {
	Run(ctx context.Context, orderID string) error
}

// Причины отмены при неуспешных платёжных событиях.
const (
	cancelReasonPaymentFailed   = "PAYMENT_FAILED"
	cancelReasonPaymentCanceled = "PAYMENT_CANCELED"
)

// WebhookService переводит события платёжного провайдера в действия
// над заказами и запуск саги.
//
// Идемпотентность повторных webhook-ов держится на правиле
// "статус != PENDING ⇒ дубликат, no-op": сага стартует не более
// одного раза на заказ.
type WebhookService struct {
	orders repository.OrderRepository
	saga   SagaRunner

	// launch запускает сагу; в тестах подменяется на синхронный вызов.
	launch func(ctx context.Context, orderID string)
}

// NewWebhookService создаёт обработчик платёжных webhook-ов.
func NewWebhookService(orders repository.OrderRepository, sagaRunner SagaRunner) *WebhookService {
	s := &WebhookService{orders: orders, saga: sagaRunner}
	s.launch = s.launchSaga
	return s
}

// ProcessEvent обрабатывает декодированное webhook событие.
// Неизвестные типы событий игнорируются с успехом.
func (s *WebhookService) ProcessEvent(ctx context.Context, event *payment.Event) error {
	switch event.Type {
	case payment.EventPaymentSucceeded:
		return s.handleSucceeded(ctx, event)
	case payment.EventPaymentFailed:
		return s.cancelOrder(ctx, event, domain.PaymentStatusFailed, cancelReasonPaymentFailed)
	case payment.EventPaymentCanceled:
		return s.cancelOrder(ctx, event, domain.PaymentStatusCanceled, cancelReasonPaymentCanceled)
	default:
		metrics.RecordWebhookEvent(event.Type, "ignored")
		return nil
	}
}

// handleSucceeded фиксирует успешную оплату и запускает сагу.
func (s *WebhookService) handleSucceeded(ctx context.Context, event *payment.Event) error {
	log := logger.FromContext(ctx)

	orderID := event.OrderID()
	if orderID == "" {
		metrics.RecordWebhookEvent(event.Type, "invalid")
		return fmt.Errorf("%w: событие без metadata.orderId", domain.ErrValidation)
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		metrics.RecordWebhookEvent(event.Type, "error")
		return err
	}

	// Повторный webhook: заказ уже двинулся по саге или отменён.
	if order.Status != domain.OrderStatusPending {
		log.Info().
			Str("order_id", orderID).
			Str("status", string(order.Status)).
			Msg("Повторный webhook оплаты, пропускаем")
		metrics.RecordWebhookEvent(event.Type, "duplicate")
		return nil
	}

	intent := event.Data.Object
	err = s.orders.SetPaymentInfo(ctx, orderID, intent.ID, domain.PaymentStatusSucceeded, intent.PaymentMethod)
	if err != nil {
		// Конфликт — гонка двух одинаковых webhook-ов, выигравший уже
		// записал реквизиты и запустил сагу.
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			metrics.RecordWebhookEvent(event.Type, "duplicate")
			return nil
		}
		metrics.RecordWebhookEvent(event.Type, "error")
		return err
	}

	metrics.RecordWebhookEvent(event.Type, "accepted")
	s.launch(ctx, orderID)
	return nil
}

// launchSaga запускает сагу в фоне: webhook отвечает провайдеру сразу,
// не дожидаясь резервов и проверки платежа.
func (s *WebhookService) launchSaga(ctx context.Context, orderID string) {
	sagaCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.saga.Run(sagaCtx, orderID); err != nil {
			logger.Ctx(sagaCtx).Error().
				Err(err).
				Str("order_id", orderID).
				Msg("Сага завершилась с ошибкой")
		}
	}()
}

// cancelOrder отменяет заказ по неуспешному платёжному событию.
func (s *WebhookService) cancelOrder(ctx context.Context, event *payment.Event, ps domain.PaymentStatus, reason string) error {
	log := logger.FromContext(ctx)

	orderID := event.OrderID()
	if orderID == "" {
		metrics.RecordWebhookEvent(event.Type, "invalid")
		return fmt.Errorf("%w: событие без metadata.orderId", domain.ErrValidation)
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		metrics.RecordWebhookEvent(event.Type, "error")
		return err
	}
	if order.Status == domain.OrderStatusCancelled {
		metrics.RecordWebhookEvent(event.Type, "duplicate")
		return nil
	}

	meta := order.Metadata
	meta.CancelReason = reason
	upd := &repository.OrderUpdate{PaymentStatus: &ps, Metadata: &meta}

	err = s.orders.TransitionStatus(ctx, orderID, order.Status, domain.OrderStatusCancelled, upd, nil)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			// Статус сменился под ногами; если заказ уже отменён — дубликат.
			fresh, readErr := s.orders.GetByID(ctx, orderID)
			if readErr == nil && fresh.Status == domain.OrderStatusCancelled {
				metrics.RecordWebhookEvent(event.Type, "duplicate")
				return nil
			}
		}
		metrics.RecordWebhookEvent(event.Type, "error")
		return err
	}

	log.Info().
		Str("order_id", orderID).
		Str("payment_status", string(ps)).
		Msg("Заказ отменён по платёжному событию")
	metrics.RecordWebhookEvent(event.Type, "accepted")
	return nil
}
