package saga

import (
	"context"
	"time"

	"example.com/fulfillment/pkg/config"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/repository"
)

const (
	// reminderLead — за сколько до отмены уходит письмо-напоминание.
	reminderLead = 5 * time.Minute

	// outboxRetention — сколько храним обработанные outbox записи.
	outboxRetention = 24 * time.Hour
)

// Reaper — фоновый сборщик брошенных корзин.
//
// Раз в интервал находит заказы, застрявшие без оплаты дольше тайм-аута:
// возвращает их резервы на склады и отменяет заказ с причиной
// ABANDONED_CART. Заказам, подходящим к тайм-ауту, один раз отправляется
// письмо-напоминание. Заодно reaper чистит обработанные outbox записи.
//
// Все операции best-effort: сбой по одному заказу логируется, заказ
// добирается на следующем тике.
type Reaper struct {
	orders     repository.OrderRepository
	engine     InventoryEngine
	notifier   Notifier
	idem       IdempotencyGuard
	outboxRepo outbox.OutboxRepository
	cfg        config.ReaperConfig

	// now подменяется в тестах.
	now func() time.Time
}

// NewReaper создаёт reaper брошенных корзин.
func NewReaper(
	orders repository.OrderRepository,
	engine InventoryEngine,
	notifier Notifier,
	idem IdempotencyGuard,
	outboxRepo outbox.OutboxRepository,
	cfg config.ReaperConfig,
) *Reaper {
	return &Reaper{
		orders:     orders,
		engine:     engine,
		notifier:   notifier,
		idem:       idem,
		outboxRepo: outboxRepo,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Run запускает цикл reaper до отмены контекста.
func (r *Reaper) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", r.cfg.Interval).
		Dur("abandoned_after", r.cfg.AbandonedAfter()).
		Msg("Reaper брошенных корзин запущен")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reaper остановлен")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick выполняет один проход reaper. Публичный для вызова из тестов
// и ручного запуска.
func (r *Reaper) Tick(ctx context.Context) {
	now := r.now()

	// Выбираем одним запросом всех кандидатов, включая тех, кому пока
	// положено только напоминание, и ветвимся по возрасту.
	reminderCutoff := now.Add(-(r.cfg.AbandonedAfter() - reminderLead))
	cancelCutoff := now.Add(-r.cfg.AbandonedAfter())

	orders, err := r.orders.ListAbandoned(ctx, reminderCutoff, r.cfg.BatchSize)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Ошибка выборки брошенных заказов")
	} else {
		for _, order := range orders {
			if order.CreatedAt.Before(cancelCutoff) {
				r.reapOrder(ctx, order)
			} else {
				r.remind(ctx, order)
			}
		}
	}

	r.purgeOutbox(ctx, now)
}

// reapOrder возвращает резервы заказа и отменяет его.
func (r *Reaper) reapOrder(ctx context.Context, order *domain.Order) {
	log := logger.FromContext(ctx).With().
		Str("order_id", order.ID).
		Str("status", string(order.Status)).
		Logger()

	// Возврат резервов: позиции без склада резерва не имеют. Ключ
	// идемпотентности общий с компенсацией — гонка с админской отменой
	// не приводит к двойному возврату.
	for _, item := range order.Items {
		if item.WarehouseID == nil || *item.WarehouseID == "" {
			continue
		}
		_, err := r.idem.ExecuteOnce(ctx, releaseKey(order.ID, item.ProductID), "release-inventory",
			func(ctx context.Context) (any, error) {
				return nil, r.engine.Release(ctx, item.ProductID, *item.WarehouseID, item.Quantity)
			})
		if err != nil {
			log.Error().Err(err).
				Str("product_id", item.ProductID).
				Str("warehouse_id", *item.WarehouseID).
				Msg("Ошибка возврата резерва брошенного заказа, пропускаем позицию")
		}
	}

	meta := order.Metadata
	meta.CancelReason = CancelReasonAbandonedCart
	upd := &repository.OrderUpdate{Metadata: &meta}

	rec, err := outbox.NewRecord("order", order.ID, "order.cancelled", kafka.TopicOrderEvents, meta, nil)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка создания outbox записи отмены")
		return
	}

	// Отмена best-effort: при сбое заказ доберётся на следующем тике.
	if err := r.orders.TransitionStatus(ctx, order.ID, order.Status, domain.OrderStatusCancelled, upd, rec); err != nil {
		log.Error().Err(err).Msg("Ошибка отмены брошенного заказа")
		return
	}

	metrics.AbandonedOrdersTotal.Inc()
	log.Info().Msg("Брошенный заказ отменён, резервы возвращены")
}

// remind отправляет письмо-напоминание, если оно ещё не уходило.
// Сбой напоминания никогда не блокирует последующую отмену.
func (r *Reaper) remind(ctx context.Context, order *domain.Order) {
	if !r.cfg.RemindersEnabled || order.Metadata.ReminderEmailSent {
		return
	}
	log := logger.FromContext(ctx)

	if err := r.notifier.SendAbandonedCartReminder(ctx, order); err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("Не удалось отправить напоминание о брошенной корзине")
		return
	}
	if err := r.orders.SetReminderSent(ctx, order.ID); err != nil {
		// Флаг не записался — возможен повтор письма на следующем тике.
		log.Warn().Err(err).Str("order_id", order.ID).Msg("Не удалось отметить отправку напоминания")
		return
	}

	log.Info().Str("order_id", order.ID).Msg("Отправлено напоминание о брошенной корзине")
}

// purgeOutbox удаляет обработанные outbox записи старше retention.
func (r *Reaper) purgeOutbox(ctx context.Context, now time.Time) {
	deleted, err := r.outboxRepo.DeleteProcessedBefore(ctx, now.Add(-outboxRetention))
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		logger.Ctx(ctx).Info().Int64("deleted", deleted).Msg("Очищены обработанные outbox записи")
	}
}
