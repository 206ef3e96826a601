package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/fulfillment/pkg/circuitbreaker"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/payment"
	"example.com/fulfillment/services/fulfillment/internal/repository"
)

const (
	// maxStepAttempts — число попыток шага при транзиентных сбоях.
	maxStepAttempts = 3

	// stepBackoffBase — базовая задержка между попытками (экспоненциальный рост).
	stepBackoffBase = 100 * time.Millisecond
)

// Orchestrator ведёт заказ по шагам саги и запускает компенсацию при сбое.
//
// Оркестратор не держит состояния между вызовами: перед каждым шагом заказ
// перечитывается из хранилища (observe-then-act), поэтому процесс можно
// убить между любыми двумя внешними вызовами и безопасно перезапустить.
type Orchestrator struct {
	orders      repository.OrderRepository
	engine      InventoryEngine
	payments    PaymentClient
	idem        IdempotencyGuard
	notifier    Notifier
	compensator *Compensator
}

// NewOrchestrator создаёт оркестратор саги.
func NewOrchestrator(
	orders repository.OrderRepository,
	engine InventoryEngine,
	payments PaymentClient,
	idem IdempotencyGuard,
	notifier Notifier,
) *Orchestrator {
	return &Orchestrator{
		orders:      orders,
		engine:      engine,
		payments:    payments,
		idem:        idem,
		notifier:    notifier,
		compensator: NewCompensator(orders, engine, payments, idem),
	}
}

// Run выполняет сагу для заказа: Reserve → VerifyPayment → AllocateShipping →
// Notify. Логический сбой любого шага запускает компенсацию, и заказ
// терминально отменяется. Уведомление best-effort и сагу не валит.
func (o *Orchestrator) Run(ctx context.Context, orderID string) error {
	log := logger.FromContext(ctx).With().Str("order_id", orderID).Logger()
	log.Info().Msg("Запуск саги fulfillment")

	steps := []struct {
		name string
		run  func(ctx context.Context, order *domain.Order) error
	}{
		{StepReserveInventory, o.reserveInventory},
		{StepVerifyPayment, o.verifyPayment},
		{StepAllocateShipping, o.allocateShipping},
	}

	for _, step := range steps {
		if err := o.runStep(ctx, orderID, step.name, step.run); err != nil {
			metrics.RecordSagaStep(step.name, "failure")
			log.Error().Err(err).Str("step", step.name).Msg("Шаг саги провален, запускаем компенсацию")

			result := o.compensator.Compensate(ctx, orderID, step.name, err)
			log.Info().
				Bool("success", result.Success).
				Strs("compensated_steps", result.CompensatedSteps).
				Msg("Компенсация завершена")

			return fmt.Errorf("шаг %s: %w", step.name, err)
		}
		metrics.RecordSagaStep(step.name, "success")
	}

	o.notify(ctx, orderID)

	log.Info().Msg("Сага завершена успешно")
	return nil
}

// runStep перечитывает заказ и выполняет шаг с повторами при
// транзиентных сбоях (throttling хранилища, сетевые ошибки провайдера).
func (o *Orchestrator) runStep(ctx context.Context, orderID, stepName string, run func(ctx context.Context, order *domain.Order) error) error {
	var lastErr error

	for attempt := 1; attempt <= maxStepAttempts; attempt++ {
		order, err := o.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		// Заказ отменили параллельно (reaper, админ) — сагу продолжать нельзя,
		// компенсировать нечего: путь отмены уже вернул резервы.
		if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusFailed {
			return fmt.Errorf("%w: заказ %s в терминальном статусе %s", domain.ErrInvalidTransition, orderID, order.Status)
		}

		err = run(ctx, order)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}

		lastErr = err
		logger.Ctx(ctx).Warn().
			Err(err).
			Str("order_id", orderID).
			Str("step", stepName).
			Int("attempt", attempt).
			Msg("Транзиентный сбой шага саги, повторяем")

		if attempt < maxStepAttempts {
			if err := sleepCtx(ctx, stepBackoffBase*(1<<(attempt-1))); err != nil {
				return err
			}
		}
	}

	return lastErr
}

// isTransient сообщает, стоит ли повторять шаг после этой ошибки.
// Логические сбои (нехватка стока, расхождение платежа) фатальны.
func isTransient(err error) bool {
	return errors.Is(err, domain.ErrExternalService) ||
		errors.Is(err, domain.ErrConcurrencyConflict) ||
		errors.Is(err, domain.ErrConcurrentInProgress) ||
		errors.Is(err, circuitbreaker.ErrUnavailable)
}

// =============================================================================
// Шаг 1: резервирование остатков
// =============================================================================

func (o *Orchestrator) reserveInventory(ctx context.Context, order *domain.Order) error {
	// Идемпотентный реплей: резерв уже выполнен предыдущим запуском.
	if statusRank[order.Status] >= statusRank[domain.OrderStatusInventoryReserved] {
		return nil
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: резервирование из статуса %s", domain.ErrInvalidTransition, order.Status)
	}

	_, err := o.idem.ExecuteOnce(ctx, stepKey(order.ID, StepReserveInventory), StepReserveInventory, func(ctx context.Context) (any, error) {
		reservations, err := o.engine.ReserveItems(ctx, order.Items)
		if err != nil {
			return nil, err
		}

		warehouses := make(map[string]string, len(reservations))
		for _, res := range reservations {
			warehouses[res.ProductID] = res.WarehouseID
		}

		rec, err := outbox.NewRecord("order", order.ID, "order.inventory_reserved", kafka.TopicOrderEvents, ReserveOutput{ReservedItems: reservations}, nil)
		if err != nil {
			return nil, err
		}
		// AssignWarehouses пишет склады на позиции и переводит заказ
		// PENDING -> INVENTORY_RESERVED одной транзакцией. При сбое резерв
		// уже в базе остатков, статус остался PENDING — доберёт reaper.
		if err := o.orders.AssignWarehouses(ctx, order.ID, warehouses, rec); err != nil {
			return nil, err
		}

		return ReserveOutput{ReservedItems: reservations}, nil
	})
	return err
}

// =============================================================================
// Шаг 2: проверка платежа
// =============================================================================

func (o *Orchestrator) verifyPayment(ctx context.Context, order *domain.Order) error {
	if statusRank[order.Status] >= statusRank[domain.OrderStatusPaymentConfirmed] {
		return nil
	}
	if order.Status != domain.OrderStatusInventoryReserved {
		return fmt.Errorf("%w: проверка платежа из статуса %s", domain.ErrInvalidTransition, order.Status)
	}
	if order.PaymentIntentID == nil || *order.PaymentIntentID == "" {
		return fmt.Errorf("%w: у заказа %s нет платёжного интента", domain.ErrPaymentVerificationFailed, order.ID)
	}

	_, err := o.idem.ExecuteOnce(ctx, stepKey(order.ID, StepVerifyPayment), StepVerifyPayment, func(ctx context.Context) (any, error) {
		intent, err := o.payments.GetIntent(ctx, *order.PaymentIntentID)
		if err != nil {
			return nil, err
		}

		if intent.Status != payment.IntentStatusSucceeded {
			return nil, fmt.Errorf("%w: интент %s в статусе %s", domain.ErrPaymentVerificationFailed, intent.ID, intent.Status)
		}
		if intent.Amount != order.TotalAmount {
			return nil, fmt.Errorf("%w: оплачено %d, ожидалось %d", domain.ErrPaymentVerificationFailed, intent.Amount, order.TotalAmount)
		}

		output := VerifyOutput{PaymentID: intent.ID, Amount: intent.Amount}
		rec, err := outbox.NewRecord("order", order.ID, "order.payment_confirmed", kafka.TopicOrderEvents, output, nil)
		if err != nil {
			return nil, err
		}
		if err := o.orders.TransitionStatus(ctx, order.ID, domain.OrderStatusInventoryReserved, domain.OrderStatusPaymentConfirmed, nil, rec); err != nil {
			return nil, err
		}

		return output, nil
	})
	return err
}

// =============================================================================
// Шаг 3: назначение доставки
// =============================================================================

func (o *Orchestrator) allocateShipping(ctx context.Context, order *domain.Order) error {
	if statusRank[order.Status] >= statusRank[domain.OrderStatusShippingAllocated] {
		return nil
	}
	if order.Status != domain.OrderStatusPaymentConfirmed {
		return fmt.Errorf("%w: назначение доставки из статуса %s", domain.ErrInvalidTransition, order.Status)
	}

	_, err := o.idem.ExecuteOnce(ctx, stepKey(order.ID, StepAllocateShipping), StepAllocateShipping, func(ctx context.Context) (any, error) {
		shipment := allocateShipment(time.Now())

		upd := &repository.OrderUpdate{
			TrackingNumber:    &shipment.TrackingNumber,
			Carrier:           &shipment.Carrier,
			EstimatedDelivery: &shipment.EstimatedDelivery,
		}
		rec, err := outbox.NewRecord("order", order.ID, "order.shipping_allocated", kafka.TopicOrderEvents, shipment, nil)
		if err != nil {
			return nil, err
		}
		if err := o.orders.TransitionStatus(ctx, order.ID, domain.OrderStatusPaymentConfirmed, domain.OrderStatusShippingAllocated, upd, rec); err != nil {
			return nil, err
		}

		return shipment, nil
	})
	return err
}

// =============================================================================
// Шаг 4: уведомление (best-effort)
// =============================================================================

func (o *Orchestrator) notify(ctx context.Context, orderID string) {
	log := logger.FromContext(ctx)

	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("Не удалось перечитать заказ для уведомления")
		metrics.RecordSagaStep(StepNotify, "failure")
		return
	}

	if err := o.notifier.SendOrderConfirmation(ctx, order); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("Не удалось отправить подтверждение заказа")
		metrics.RecordSagaStep(StepNotify, "failure")
		return
	}
	metrics.RecordSagaStep(StepNotify, "success")
}

// sleepCtx спит duration или прерывается отменой контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
