// Package saga — общие моки для тестов оркестратора, компенсации и reaper.
package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/inventory"
	"example.com/fulfillment/services/fulfillment/internal/payment"
)

// mockEngine — мок InventoryEngine.
type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) ReserveItems(ctx context.Context, items []domain.OrderItem) ([]inventory.Reservation, error) {
	args := m.Called(ctx, items)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]inventory.Reservation), args.Error(1)
}

func (m *mockEngine) Release(ctx context.Context, productID, warehouseID string, qty int32) error {
	return m.Called(ctx, productID, warehouseID, qty).Error(0)
}

// mockPayments — мок PaymentClient.
type mockPayments struct {
	mock.Mock
}

func (m *mockPayments) GetIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Intent), args.Error(1)
}

func (m *mockPayments) Refund(ctx context.Context, intentID, reason string) (*payment.Refund, error) {
	args := m.Called(ctx, intentID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Refund), args.Error(1)
}

// mockNotifier — мок Notifier.
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendOrderConfirmation(ctx context.Context, order *domain.Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *mockNotifier) SendAbandonedCartReminder(ctx context.Context, order *domain.Order) error {
	return m.Called(ctx, order).Error(0)
}

// passthroughIdem выполняет fn немедленно, без Redis. Для тестов шагов
// достаточно: идемпотентность проверяется отдельно в пакете idempotency.
type passthroughIdem struct {
	// keys накапливает ключи вызовов для проверок.
	keys []string
}

func (p *passthroughIdem) ExecuteOnce(ctx context.Context, key, operation string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	p.keys = append(p.keys, key)
	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// mockOutboxRepo — мок outbox.OutboxRepository для reaper.
type mockOutboxRepo struct {
	mock.Mock
}

func (m *mockOutboxRepo) Create(ctx context.Context, record *outbox.Outbox) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockOutboxRepo) GetUnprocessed(ctx context.Context, limit int) ([]*outbox.Outbox, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Outbox), args.Error(1)
}

func (m *mockOutboxRepo) MarkProcessed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockOutboxRepo) MarkFailed(ctx context.Context, id string, failure error) error {
	return m.Called(ctx, id, failure).Error(0)
}

func (m *mockOutboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// ptr — указатель на значение, для опциональных полей заказа.
func ptr[T any](v T) *T {
	return &v
}
