package saga

import (
	"context"
	"errors"
	"strings"

	"example.com/fulfillment/pkg/circuitbreaker"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/payment"
	"example.com/fulfillment/services/fulfillment/internal/repository"
)

// Операции компенсации в CompensationResult.CompensatedSteps.
const (
	CompensationPaymentRefunded   = "payment_refunded"
	CompensationInventoryReleased = "inventory_released"
	CompensationOrderCancelled    = "order_cancelled"
)

// CompensationResult — итог компенсации. Компенсация никогда не возвращает
// ошибку вызывающему: частичные сбои дают degraded результат Success=false.
type CompensationResult struct {
	Success          bool     `json:"success"`
	CompensatedSteps []string `json:"compensatedSteps"`
}

// Compensator откатывает завершённые шаги саги до консистентного
// отменённого состояния.
//
// Поведение определяется НАБЛЮДАЕМЫМ статусом заказа, а не именем
// провалившегося шага — failedStep идёт только в диагностику:
//
//	PENDING             → отмена
//	INVENTORY_RESERVED  → возврат резервов + отмена
//	PAYMENT_CONFIRMED   → refund + возврат резервов + отмена
//	SHIPPING_ALLOCATED  → как PAYMENT_CONFIRMED (отзыва трек-номера нет)
//	CANCELLED           → идемпотентный no-op
//
// Refund идёт первым: если процесс умрёт посреди компенсации, резервы
// ещё на месте и реплей докатит откат. Обратный порядок мог бы оставить
// деньги на отгруженном заказе при гонке с allocation.
type Compensator struct {
	orders   repository.OrderRepository
	engine   InventoryEngine
	payments PaymentClient
	idem     IdempotencyGuard
}

// NewCompensator создаёт обработчик компенсации.
func NewCompensator(orders repository.OrderRepository, engine InventoryEngine, payments PaymentClient, idem IdempotencyGuard) *Compensator {
	return &Compensator{
		orders:   orders,
		engine:   engine,
		payments: payments,
		idem:     idem,
	}
}

// Compensate откатывает заказ после сбоя шага failedStep с ошибкой cause.
// Сбой refund логируется, но не прерывает возврат резервов и отмену:
// сток не должен утекать. Финальная отмена выполняется безусловно.
// В metadata.cancelReason попадает шаг и вид ошибки, например
// SAGA_FAILED_RESERVE_INVENTORY:InsufficientInventory.
func (c *Compensator) Compensate(ctx context.Context, orderID, failedStep string, cause error) CompensationResult {
	return c.run(ctx, orderID, failedStep, failureReason(failedStep, cause), cause)
}

// Cancel — ручная отмена заказа администратором с причиной оператора
// (fraud, запрос клиента...). Пустая причина записывается как ADMIN_CANCELLED.
func (c *Compensator) Cancel(ctx context.Context, orderID, reason string) CompensationResult {
	if reason == "" {
		reason = CancelReasonAdmin
	}
	return c.run(ctx, orderID, StepAdminCancel, reason, nil)
}

func (c *Compensator) run(ctx context.Context, orderID, failedStep, cancelReason string, cause error) CompensationResult {
	log := logger.FromContext(ctx).With().
		Str("order_id", orderID).
		Str("failed_step", failedStep).
		Logger()
	log.Info().Err(cause).Msg("Запуск компенсации")
	metrics.RecordCompensation(failedStep)

	result := CompensationResult{Success: true, CompensatedSteps: []string{}}

	order, err := c.orders.GetByID(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Msg("Не удалось прочитать заказ для компенсации")
		result.Success = false
		return result
	}

	if order.Status == domain.OrderStatusCancelled {
		log.Info().Msg("Заказ уже отменён, компенсация не требуется")
		return result
	}

	// 1. Refund — только для заказов с подтверждённым платежом.
	refunded := false
	needsRefund := order.Status == domain.OrderStatusPaymentConfirmed || order.Status == domain.OrderStatusShippingAllocated
	if needsRefund {
		if refunded = c.refund(ctx, order); refunded {
			result.CompensatedSteps = append(result.CompensatedSteps, CompensationPaymentRefunded)
		} else {
			result.Success = false
		}
	}

	// 2. Возврат резервов — для всех статусов после резервирования.
	if statusRank[order.Status] >= statusRank[domain.OrderStatusInventoryReserved] {
		if c.releaseItems(ctx, order) {
			result.CompensatedSteps = append(result.CompensatedSteps, CompensationInventoryReleased)
		} else {
			result.Success = false
		}
	}

	// 3. Отмена заказа — безусловно.
	if c.cancelOrder(ctx, order, cancelReason, refunded) {
		result.CompensatedSteps = append(result.CompensatedSteps, CompensationOrderCancelled)
	} else {
		result.Success = false
	}

	return result
}

// refund делает полный возврат платежа. Ошибка логируется и не
// прерывает компенсацию.
func (c *Compensator) refund(ctx context.Context, order *domain.Order) bool {
	log := logger.FromContext(ctx)

	if order.PaymentIntentID == nil || *order.PaymentIntentID == "" {
		log.Warn().Str("order_id", order.ID).Msg("Статус требует refund, но интент отсутствует")
		return false
	}

	intentID := *order.PaymentIntentID
	_, err := c.idem.ExecuteOnce(ctx, paymentKey(order.ID, intentID), "refund",
		func(ctx context.Context) (any, error) {
			refund, err := c.payments.Refund(ctx, intentID, payment.RefundReasonRequestedByCustomer)
			if err != nil {
				return nil, err
			}
			log.Info().
				Str("order_id", order.ID).
				Str("refund_id", refund.ID).
				Int64("amount", refund.Amount).
				Msg("Платёж возвращён")
			return refund, nil
		})
	if err != nil {
		log.Error().Err(err).
			Str("order_id", order.ID).
			Str("payment_intent_id", intentID).
			Msg("Ошибка refund при компенсации, продолжаем возврат резервов")
		return false
	}
	return true
}

// releaseItems возвращает резерв каждой позиции на её склад.
// Сбой по одной позиции логируется и не мешает остальным.
func (c *Compensator) releaseItems(ctx context.Context, order *domain.Order) bool {
	log := logger.FromContext(ctx)

	ok := true
	for _, item := range order.Items {
		if item.WarehouseID == nil || *item.WarehouseID == "" {
			// Позиция так и не получила склад — резерва нет.
			continue
		}
		_, err := c.idem.ExecuteOnce(ctx, releaseKey(order.ID, item.ProductID), "release-inventory",
			func(ctx context.Context) (any, error) {
				return nil, c.engine.Release(ctx, item.ProductID, *item.WarehouseID, item.Quantity)
			})
		if err != nil {
			log.Error().Err(err).
				Str("order_id", order.ID).
				Str("product_id", item.ProductID).
				Str("warehouse_id", *item.WarehouseID).
				Msg("Ошибка возврата резерва позиции, пропускаем")
			ok = false
		}
	}
	return ok
}

// cancelOrder переводит заказ в CANCELLED с машиночитаемой причиной.
// При гонке статус перечитывается и попытка повторяется один раз.
func (c *Compensator) cancelOrder(ctx context.Context, order *domain.Order, cancelReason string, refunded bool) bool {
	log := logger.FromContext(ctx)

	meta := order.Metadata
	meta.CancelReason = cancelReason

	upd := &repository.OrderUpdate{Metadata: &meta}
	if refunded {
		ps := domain.PaymentStatusRefunded
		upd.PaymentStatus = &ps
	}

	from := order.Status
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := outbox.NewRecord("order", order.ID, "order.cancelled", kafka.TopicOrderEvents, meta, nil)
		if err != nil {
			log.Error().Err(err).Str("order_id", order.ID).Msg("Ошибка создания outbox записи отмены")
			return false
		}

		err = c.orders.TransitionStatus(ctx, order.ID, from, domain.OrderStatusCancelled, upd, rec)
		if err == nil {
			return true
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			log.Error().Err(err).Str("order_id", order.ID).Msg("Ошибка отмены заказа при компенсации")
			return false
		}

		// Статус сменился под ногами — перечитываем.
		fresh, readErr := c.orders.GetByID(ctx, order.ID)
		if readErr != nil {
			log.Error().Err(readErr).Str("order_id", order.ID).Msg("Не удалось перечитать заказ после конфликта отмены")
			return false
		}
		if fresh.Status == domain.OrderStatusCancelled {
			return true
		}
		from = fresh.Status
	}

	log.Error().Str("order_id", order.ID).Msg("Отмена заказа не удалась после повтора")
	return false
}

// failureReason строит причину отмены вида SAGA_FAILED_<STEP>:<KIND>,
// где KIND — вид доменной ошибки, приведшей к компенсации.
func failureReason(failedStep string, cause error) string {
	reason := "SAGA_FAILED_" + strings.ToUpper(strings.ReplaceAll(failedStep, "-", "_"))
	if kind := errorKind(cause); kind != "" {
		reason += ":" + kind
	}
	return reason
}

// errorKind сопоставляет доменные ошибки машиночитаемым видам для
// metadata.cancelReason.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInsufficientInventory):
		return "InsufficientInventory"
	case errors.Is(err, domain.ErrPaymentVerificationFailed):
		return "PaymentVerificationFailed"
	case errors.Is(err, domain.ErrExternalService),
		errors.Is(err, circuitbreaker.ErrUnavailable):
		return "ExternalService"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "ConcurrencyConflict"
	case errors.Is(err, domain.ErrConcurrentInProgress):
		return "ConcurrentInProgress"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrInventoryNotFound):
		return "NotFound"
	case errors.Is(err, domain.ErrValidation):
		return "Validation"
	case errors.Is(err, domain.ErrFatalInternal):
		return "FatalInternal"
	}
	return ""
}
