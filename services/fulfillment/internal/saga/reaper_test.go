package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"example.com/fulfillment/pkg/config"
	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/repository"
	"example.com/fulfillment/services/fulfillment/internal/testutil"
)

var reaperNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestReaper() (*Reaper, *testutil.MockOrderRepository, *mockEngine, *mockNotifier, *mockOutboxRepo) {
	orders := new(testutil.MockOrderRepository)
	engine := new(mockEngine)
	notifier := new(mockNotifier)
	outboxRepo := new(mockOutboxRepo)

	cfg := config.ReaperConfig{
		Interval:              time.Minute,
		AbandonedAfterMinutes: 30,
		RemindersEnabled:      true,
		BatchSize:             50,
	}
	r := NewReaper(orders, engine, notifier, &passthroughIdem{}, outboxRepo, cfg)
	r.now = func() time.Time { return reaperNow }
	return r, orders, engine, notifier, outboxRepo
}

// abandonedOrder — заказ, застрявший в INVENTORY_RESERVED возрастом age.
func abandonedOrder(age time.Duration) *domain.Order {
	order := testOrder(domain.OrderStatusInventoryReserved)
	order.SetPaymentStatus(domain.PaymentStatusPending)
	order.CreatedAt = reaperNow.Add(-age)
	return order
}

func TestTick_CancelsAbandonedOrder(t *testing.T) {
	ctx := context.Background()
	r, orders, engine, notifier, outboxRepo := newTestReaper()

	order := abandonedOrder(45 * time.Minute)
	orders.On("ListAbandoned", mock.Anything, reaperNow.Add(-25*time.Minute), 50).Return([]*domain.Order{order}, nil)

	engine.On("Release", mock.Anything, "P1", "W1", int32(2)).Return(nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusInventoryReserved, domain.OrderStatusCancelled,
		mock.MatchedBy(func(upd *repository.OrderUpdate) bool {
			return upd != nil && upd.Metadata != nil && upd.Metadata.CancelReason == CancelReasonAbandonedCart
		}), mock.Anything).Return(nil)
	outboxRepo.On("DeleteProcessedBefore", mock.Anything, reaperNow.Add(-24*time.Hour)).Return(int64(0), nil)

	r.Tick(ctx)

	orders.AssertExpectations(t)
	engine.AssertExpectations(t)
	notifier.AssertNotCalled(t, "SendAbandonedCartReminder", mock.Anything, mock.Anything)
}

func TestTick_SendsReminderOnce(t *testing.T) {
	ctx := context.Background()
	r, orders, engine, notifier, outboxRepo := newTestReaper()

	// В окне напоминания (старше 25 минут, младше 30)
	order := abandonedOrder(27 * time.Minute)
	orders.On("ListAbandoned", mock.Anything, mock.Anything, 50).Return([]*domain.Order{order}, nil)

	notifier.On("SendAbandonedCartReminder", mock.Anything, order).Return(nil)
	orders.On("SetReminderSent", mock.Anything, "O1").Return(nil)
	outboxRepo.On("DeleteProcessedBefore", mock.Anything, mock.Anything).Return(int64(0), nil)

	r.Tick(ctx)

	notifier.AssertExpectations(t)
	orders.AssertExpectations(t)
	engine.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	orders.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTick_ReminderAlreadySent(t *testing.T) {
	ctx := context.Background()
	r, orders, _, notifier, outboxRepo := newTestReaper()

	order := abandonedOrder(27 * time.Minute)
	order.Metadata.ReminderEmailSent = true
	orders.On("ListAbandoned", mock.Anything, mock.Anything, 50).Return([]*domain.Order{order}, nil)
	outboxRepo.On("DeleteProcessedBefore", mock.Anything, mock.Anything).Return(int64(0), nil)

	r.Tick(ctx)

	notifier.AssertNotCalled(t, "SendAbandonedCartReminder", mock.Anything, mock.Anything)
	orders.AssertNotCalled(t, "SetReminderSent", mock.Anything, mock.Anything)
}

func TestTick_ReminderFailureDoesNotMarkSent(t *testing.T) {
	ctx := context.Background()
	r, orders, _, notifier, outboxRepo := newTestReaper()

	order := abandonedOrder(27 * time.Minute)
	orders.On("ListAbandoned", mock.Anything, mock.Anything, 50).Return([]*domain.Order{order}, nil)
	notifier.On("SendAbandonedCartReminder", mock.Anything, order).Return(assert.AnError)
	outboxRepo.On("DeleteProcessedBefore", mock.Anything, mock.Anything).Return(int64(0), nil)

	r.Tick(ctx)

	orders.AssertNotCalled(t, "SetReminderSent", mock.Anything, mock.Anything)
}

func TestTick_ReleaseFailureStillCancels(t *testing.T) {
	ctx := context.Background()
	r, orders, engine, _, outboxRepo := newTestReaper()

	order := abandonedOrder(time.Hour)
	orders.On("ListAbandoned", mock.Anything, mock.Anything, 50).Return([]*domain.Order{order}, nil)

	// Возврат резерва падает, отмена всё равно выполняется
	engine.On("Release", mock.Anything, "P1", "W1", int32(2)).Return(assert.AnError)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusInventoryReserved, domain.OrderStatusCancelled, mock.Anything, mock.Anything).Return(nil)
	outboxRepo.On("DeleteProcessedBefore", mock.Anything, mock.Anything).Return(int64(0), nil)

	r.Tick(ctx)

	orders.AssertExpectations(t)
}

func TestTick_PendingOrderWithoutWarehouses(t *testing.T) {
	ctx := context.Background()
	r, orders, engine, _, outboxRepo := newTestReaper()

	// PENDING заказ без складов: резервов нет, только отмена
	order := testOrder(domain.OrderStatusPending)
	order.CreatedAt = reaperNow.Add(-time.Hour)
	orders.On("ListAbandoned", mock.Anything, mock.Anything, 50).Return([]*domain.Order{order}, nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusPending, domain.OrderStatusCancelled, mock.Anything, mock.Anything).Return(nil)
	outboxRepo.On("DeleteProcessedBefore", mock.Anything, mock.Anything).Return(int64(0), nil)

	r.Tick(ctx)

	engine.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	orders.AssertExpectations(t)
}

func TestTick_ListFailureStillPurgesOutbox(t *testing.T) {
	ctx := context.Background()
	r, orders, _, _, outboxRepo := newTestReaper()

	orders.On("ListAbandoned", mock.Anything, mock.Anything, 50).Return(nil, assert.AnError)
	outboxRepo.On("DeleteProcessedBefore", mock.Anything, mock.Anything).Return(int64(3), nil)

	r.Tick(ctx)

	outboxRepo.AssertExpectations(t)
}
