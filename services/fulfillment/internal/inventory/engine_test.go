// Package inventory содержит unit тесты движка остатков.
package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/testutil"
)

func inv(productID, warehouseID string, quantity, reserved int32, version int64) *domain.Inventory {
	return &domain.Inventory{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    quantity,
		Reserved:    reserved,
		Version:     version,
	}
}

// =====================================
// Тесты ReserveItems
// =====================================

func TestReserveItems_FirstWarehouse(t *testing.T) {
	ctx := context.Background()
	invRepo := new(testutil.MockInventoryRepository)
	prodRepo := new(testutil.MockProductRepository)
	engine := NewEngine(invRepo, prodRepo)

	invRepo.On("ListByProduct", ctx, "P1").Return([]*domain.Inventory{
		inv("P1", "W1", 100, 0, 5),
		inv("P1", "W2", 50, 0, 1),
	}, nil)
	// Перед Reserve строка перечитывается ради свежей версии
	invRepo.On("Get", ctx, "P1", "W1").Return(inv("P1", "W1", 100, 0, 5), nil)
	invRepo.On("Reserve", ctx, "P1", "W1", int32(2), int64(5)).Return(nil)

	reservations, err := engine.ReserveItems(ctx, []domain.OrderItem{
		{ProductID: "P1", Quantity: 2},
	})

	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, "W1", reservations[0].WarehouseID)
	assert.Equal(t, int32(2), reservations[0].Quantity)
	invRepo.AssertExpectations(t)
}

func TestReserveItems_SkipsExhaustedWarehouse(t *testing.T) {
	ctx := context.Background()
	invRepo := new(testutil.MockInventoryRepository)
	prodRepo := new(testutil.MockProductRepository)
	engine := NewEngine(invRepo, prodRepo)

	// W1 не покрывает запрошенное количество, W2 покрывает
	invRepo.On("ListByProduct", ctx, "P1").Return([]*domain.Inventory{
		inv("P1", "W1", 5, 4, 2),
		inv("P1", "W2", 50, 0, 7),
	}, nil)
	invRepo.On("Get", ctx, "P1", "W2").Return(inv("P1", "W2", 50, 0, 7), nil)
	invRepo.On("Reserve", ctx, "P1", "W2", int32(3), int64(7)).Return(nil)

	reservations, err := engine.ReserveItems(ctx, []domain.OrderItem{
		{ProductID: "P1", Quantity: 3},
	})

	require.NoError(t, err)
	assert.Equal(t, "W2", reservations[0].WarehouseID)
	invRepo.AssertNotCalled(t, "Reserve", ctx, "P1", "W1", mock.Anything, mock.Anything)
}

func TestReserveItems_RetryOnConflict(t *testing.T) {
	ctx := context.Background()
	invRepo := new(testutil.MockInventoryRepository)
	prodRepo := new(testutil.MockProductRepository)
	engine := NewEngine(invRepo, prodRepo)

	invRepo.On("ListByProduct", ctx, "P1").Return([]*domain.Inventory{
		inv("P1", "W1", 100, 0, 5),
	}, nil)

	// Первая попытка проигрывает гонку, вторая с обновлённой версией успешна
	invRepo.On("Get", ctx, "P1", "W1").Return(inv("P1", "W1", 100, 1, 6), nil).Once()
	invRepo.On("Reserve", ctx, "P1", "W1", int32(2), int64(6)).Return(domain.ErrConcurrencyConflict).Once()
	invRepo.On("Get", ctx, "P1", "W1").Return(inv("P1", "W1", 100, 2, 7), nil).Once()
	invRepo.On("Reserve", ctx, "P1", "W1", int32(2), int64(7)).Return(nil).Once()

	reservations, err := engine.ReserveItems(ctx, []domain.OrderItem{
		{ProductID: "P1", Quantity: 2},
	})

	require.NoError(t, err)
	assert.Equal(t, "W1", reservations[0].WarehouseID)
	invRepo.AssertExpectations(t)
}

func TestReserveItems_InsufficientEverywhere(t *testing.T) {
	ctx := context.Background()
	invRepo := new(testutil.MockInventoryRepository)
	prodRepo := new(testutil.MockProductRepository)
	engine := NewEngine(invRepo, prodRepo)

	invRepo.On("ListByProduct", ctx, "P1").Return([]*domain.Inventory{
		inv("P1", "W1", 5, 5, 2),
		inv("P1", "W2", 1, 0, 1),
	}, nil)

	_, err := engine.ReserveItems(ctx, []domain.OrderItem{
		{ProductID: "P1", Quantity: 3},
	})

	assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
	invRepo.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReserveItems_RollbackOnPartialFailure(t *testing.T) {
	ctx := context.Background()
	invRepo := new(testutil.MockInventoryRepository)
	prodRepo := new(testutil.MockProductRepository)
	engine := NewEngine(invRepo, prodRepo)

	// Первая позиция резервируется успешно
	invRepo.On("ListByProduct", ctx, "P1").Return([]*domain.Inventory{
		inv("P1", "W1", 100, 0, 5),
	}, nil)
	invRepo.On("Get", ctx, "P1", "W1").Return(inv("P1", "W1", 100, 0, 5), nil).Once()
	invRepo.On("Reserve", ctx, "P1", "W1", int32(2), int64(5)).Return(nil)

	// Вторая позиция — нет стока нигде
	invRepo.On("ListByProduct", ctx, "P2").Return([]*domain.Inventory{}, nil)

	// Ожидаем откат резерва первой позиции
	invRepo.On("Get", ctx, "P1", "W1").Return(inv("P1", "W1", 100, 2, 6), nil).Once()
	invRepo.On("Release", ctx, "P1", "W1", int32(2), int64(6)).Return(nil)

	_, err := engine.ReserveItems(ctx, []domain.OrderItem{
		{ProductID: "P1", Quantity: 2},
		{ProductID: "P2", Quantity: 1},
	})

	assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
	invRepo.AssertExpectations(t)
}

// =====================================
// Тесты Release / ConfirmShipment / Restock
// =====================================

func TestRelease_RefreshesVersion(t *testing.T) {
	ctx := context.Background()
	invRepo := new(testutil.MockInventoryRepository)
	prodRepo := new(testutil.MockProductRepository)
	engine := NewEngine(invRepo, prodRepo)

	invRepo.On("Get", ctx, "P1", "W1").Return(inv("P1", "W1", 100, 2, 8), nil)
	invRepo.On("Release", ctx, "P1", "W1", int32(2), int64(8)).Return(nil)

	err := engine.Release(ctx, "P1", "W1", 2)

	require.NoError(t, err)
	invRepo.AssertExpectations(t)
}

func TestConfirmShipment(t *testing.T) {
	ctx := context.Background()
	invRepo := new(testutil.MockInventoryRepository)
	prodRepo := new(testutil.MockProductRepository)
	engine := NewEngine(invRepo, prodRepo)

	invRepo.On("Get", ctx, "P1", "W1").Return(inv("P1", "W1", 100, 2, 9), nil)
	invRepo.On("ConfirmShipment", ctx, "P1", "W1", int32(2), int64(9)).Return(nil)

	err := engine.ConfirmShipment(ctx, "P1", "W1", 2)

	require.NoError(t, err)
}

func TestRestock(t *testing.T) {
	ctx := context.Background()
	invRepo := new(testutil.MockInventoryRepository)
	prodRepo := new(testutil.MockProductRepository)
	engine := NewEngine(invRepo, prodRepo)

	invRepo.On("Get", ctx, "P1", "W1").Return(inv("P1", "W1", 10, 0, 3), nil)
	invRepo.On("Restock", ctx, "P1", "W1", int32(90), int64(3)).Return(nil)

	err := engine.Restock(ctx, "P1", "W1", 90)

	require.NoError(t, err)
}

// =====================================
// Тесты Availability
// =====================================

func TestAvailability(t *testing.T) {
	ctx := context.Background()
	invRepo := new(testutil.MockInventoryRepository)
	prodRepo := new(testutil.MockProductRepository)
	engine := NewEngine(invRepo, prodRepo)

	prodRepo.On("GetByID", ctx, "P1").Return(&domain.Product{ID: "P1", Name: "Ноутбук"}, nil)
	invRepo.On("ListByProduct", ctx, "P1").Return([]*domain.Inventory{
		inv("P1", "W1", 10, 2, 3),
		inv("P1", "W2", 5, 5, 1),
	}, nil)

	availability, err := engine.Availability(ctx, "P1")

	require.NoError(t, err)
	assert.Equal(t, "Ноутбук", availability.ProductName)
	assert.Equal(t, int32(8), availability.TotalAvailable)
	assert.Equal(t, int32(7), availability.TotalReserved)
	assert.True(t, availability.InStock)
	require.Len(t, availability.Warehouses, 2)
	assert.Equal(t, int32(0), availability.Warehouses[1].Available)
}

func TestAvailability_ProductNotFound(t *testing.T) {
	ctx := context.Background()
	invRepo := new(testutil.MockInventoryRepository)
	prodRepo := new(testutil.MockProductRepository)
	engine := NewEngine(invRepo, prodRepo)

	prodRepo.On("GetByID", ctx, "P-missing").Return(nil, domain.ErrProductNotFound)

	_, err := engine.Availability(ctx, "P-missing")

	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	invRepo.AssertNotCalled(t, "ListByProduct")
}
