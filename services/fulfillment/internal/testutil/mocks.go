// Package testutil содержит общие моки и утилиты для тестирования.
// Моки вынесены сюда для избежания дублирования (DRY).
// ВАЖНО: этот пакет НЕ должен импортировать saga (circular dependency).
package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/repository"
)

// =============================================================================
// MockOrderRepository — мок для repository.OrderRepository
// =============================================================================

// MockOrderRepository — мок OrderRepository для unit-тестов.
// Используется в saga, service и handler пакетах.
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(ctx context.Context, order *domain.Order, outboxRec *outbox.Outbox) error {
	return m.Called(ctx, order, outboxRec).Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) ListByCustomer(ctx context.Context, customerID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error) {
	args := m.Called(ctx, customerID, status, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*domain.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderRepository) ListAbandoned(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, upd *repository.OrderUpdate, outboxRec *outbox.Outbox) error {
	return m.Called(ctx, orderID, from, to, upd, outboxRec).Error(0)
}

func (m *MockOrderRepository) AssignWarehouses(ctx context.Context, orderID string, warehouses map[string]string, outboxRec *outbox.Outbox) error {
	return m.Called(ctx, orderID, warehouses, outboxRec).Error(0)
}

func (m *MockOrderRepository) SetPaymentInfo(ctx context.Context, orderID, paymentIntentID string, status domain.PaymentStatus, paymentMethod string) error {
	return m.Called(ctx, orderID, paymentIntentID, status, paymentMethod).Error(0)
}

func (m *MockOrderRepository) SetReminderSent(ctx context.Context, orderID string) error {
	return m.Called(ctx, orderID).Error(0)
}

// =============================================================================
// MockInventoryRepository — мок для repository.InventoryRepository
// =============================================================================

// MockInventoryRepository — мок InventoryRepository для unit-тестов движка остатков.
type MockInventoryRepository struct {
	mock.Mock
}

func (m *MockInventoryRepository) Get(ctx context.Context, productID, warehouseID string) (*domain.Inventory, error) {
	args := m.Called(ctx, productID, warehouseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Inventory), args.Error(1)
}

func (m *MockInventoryRepository) ListByProduct(ctx context.Context, productID string) ([]*domain.Inventory, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Inventory), args.Error(1)
}

func (m *MockInventoryRepository) Reserve(ctx context.Context, productID, warehouseID string, qty int32, expectedVersion int64) error {
	return m.Called(ctx, productID, warehouseID, qty, expectedVersion).Error(0)
}

func (m *MockInventoryRepository) Release(ctx context.Context, productID, warehouseID string, qty int32, expectedVersion int64) error {
	return m.Called(ctx, productID, warehouseID, qty, expectedVersion).Error(0)
}

func (m *MockInventoryRepository) ConfirmShipment(ctx context.Context, productID, warehouseID string, qty int32, expectedVersion int64) error {
	return m.Called(ctx, productID, warehouseID, qty, expectedVersion).Error(0)
}

func (m *MockInventoryRepository) Restock(ctx context.Context, productID, warehouseID string, qtyToAdd int32, expectedVersion int64) error {
	return m.Called(ctx, productID, warehouseID, qtyToAdd, expectedVersion).Error(0)
}

// =============================================================================
// MockProductRepository — мок для repository.ProductRepository
// =============================================================================

// MockProductRepository — мок ProductRepository для unit-тестов.
type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) GetByID(ctx context.Context, productID string) (*domain.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *MockProductRepository) GetActiveByIDs(ctx context.Context, productIDs []string) (map[string]*domain.Product, error) {
	args := m.Called(ctx, productIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*domain.Product), args.Error(1)
}
