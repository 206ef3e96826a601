// Package inventory реализует движок остатков: резервирование, возврат,
// отгрузку и пополнение с оптимистичной блокировкой по версии строки.
// Движок не держит блокировок между процессами — все конфликты решает
// conditional update в репозитории плюс повторы с backoff.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/repository"
)

const (
	// maxRetries — число повторов conditional update при конфликте версий.
	maxRetries = 3

	// retryBackoffBase — базовая задержка перед n-м повтором (100·n ms).
	retryBackoffBase = 100 * time.Millisecond
)

// Engine — движок остатков поверх InventoryRepository.
type Engine struct {
	inventoryRepo repository.InventoryRepository
	productRepo   repository.ProductRepository
}

// NewEngine создаёт движок остатков.
func NewEngine(inventoryRepo repository.InventoryRepository, productRepo repository.ProductRepository) *Engine {
	return &Engine{
		inventoryRepo: inventoryRepo,
		productRepo:   productRepo,
	}
}

// Reservation — результат резервирования одной позиции.
type Reservation struct {
	ProductID   string `json:"productId"`
	WarehouseID string `json:"warehouseId"`
	Quantity    int32  `json:"quantity"`
}

// ReserveItems резервирует все позиции заказа, подбирая склад для каждой.
//
// Для каждой позиции:
//  1. Перечисляем строки остатков товара по всем складам (детерминированный порядок).
//  2. Пропускаем склады с недостаточным available.
//  3. Для кандидата перечитываем строку ради свежей версии и пробуем Reserve;
//     при конфликте — до трёх повторов с backoff 100·n ms, затем следующий склад.
//  4. Ни один склад не подошёл — ErrInsufficientInventory.
//
// При ошибке на i-й позиции уже сделанные резервы возвращаются (rollback),
// чтобы неудачное резервирование не подъедало сток.
func (e *Engine) ReserveItems(ctx context.Context, items []domain.OrderItem) ([]Reservation, error) {
	log := logger.FromContext(ctx)

	reservations := make([]Reservation, 0, len(items))
	for i := range items {
		item := &items[i]

		warehouseID, err := e.reserveItem(ctx, item.ProductID, item.Quantity)
		if err != nil {
			log.Warn().
				Err(err).
				Str("product_id", item.ProductID).
				Int32("quantity", item.Quantity).
				Msg("Не удалось зарезервировать позицию, откатываем предыдущие резервы")

			e.rollbackReservations(ctx, reservations)
			return nil, err
		}

		reservations = append(reservations, Reservation{
			ProductID:   item.ProductID,
			WarehouseID: warehouseID,
			Quantity:    item.Quantity,
		})
	}

	return reservations, nil
}

// reserveItem подбирает склад и резервирует количество для одного товара.
func (e *Engine) reserveItem(ctx context.Context, productID string, qty int32) (string, error) {
	log := logger.FromContext(ctx)

	rows, err := e.inventoryRepo.ListByProduct(ctx, productID)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения остатков товара %s: %w", productID, err)
	}

	for _, row := range rows {
		// Снимок может быть несвежим, но склады без остатка
		// нет смысла даже пробовать.
		if !row.CanReserve(qty) {
			continue
		}

		if err := e.reserveWithRetry(ctx, productID, row.WarehouseID, qty); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) || errors.Is(err, domain.ErrInsufficientInventory) {
				// Горячий SKU или сток разобрали — пробуем следующий склад.
				continue
			}
			return "", err
		}

		log.Debug().
			Str("product_id", productID).
			Str("warehouse_id", row.WarehouseID).
			Int32("quantity", qty).
			Msg("Позиция зарезервирована")
		return row.WarehouseID, nil
	}

	return "", fmt.Errorf("%w: товар %s, запрошено %d", domain.ErrInsufficientInventory, productID, qty)
}

// reserveWithRetry выполняет Reserve с повторами при конфликте версий.
// Перед каждой попыткой строка перечитывается ради свежей версии.
func (e *Engine) reserveWithRetry(ctx context.Context, productID, warehouseID string, qty int32) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		row, err := e.inventoryRepo.Get(ctx, productID, warehouseID)
		if err != nil {
			return err
		}

		// Свежее чтение позволяет отличить конфликт от реальной нехватки.
		if !row.CanReserve(qty) {
			return fmt.Errorf("%w: склад %s, доступно %d", domain.ErrInsufficientInventory, warehouseID, row.Available())
		}

		err = e.inventoryRepo.Reserve(ctx, productID, warehouseID, qty, row.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}

		lastErr = err
		metrics.RecordInventoryConflict("reserve")

		if attempt < maxRetries {
			if err := sleepCtx(ctx, retryBackoffBase*time.Duration(attempt)); err != nil {
				return err
			}
		}
	}

	return lastErr
}

// rollbackReservations возвращает уже сделанные резервы после частичного сбоя.
// Ошибки отката логируются и не пробрасываются: позицию доберёт reaper.
func (e *Engine) rollbackReservations(ctx context.Context, reservations []Reservation) {
	log := logger.FromContext(ctx)

	for _, res := range reservations {
		if err := e.Release(ctx, res.ProductID, res.WarehouseID, res.Quantity); err != nil {
			log.Error().
				Err(err).
				Str("product_id", res.ProductID).
				Str("warehouse_id", res.WarehouseID).
				Msg("Ошибка отката резерва")
		}
	}
}

// Release возвращает резерв на склад с повторами при конфликте версий.
func (e *Engine) Release(ctx context.Context, productID, warehouseID string, qty int32) error {
	return e.mutateWithRetry(ctx, productID, warehouseID, "release", func(version int64) error {
		return e.inventoryRepo.Release(ctx, productID, warehouseID, qty, version)
	})
}

// ConfirmShipment списывает физический остаток при отгрузке заказа.
func (e *Engine) ConfirmShipment(ctx context.Context, productID, warehouseID string, qty int32) error {
	return e.mutateWithRetry(ctx, productID, warehouseID, "confirm_shipment", func(version int64) error {
		return e.inventoryRepo.ConfirmShipment(ctx, productID, warehouseID, qty, version)
	})
}

// Restock увеличивает физический остаток склада.
func (e *Engine) Restock(ctx context.Context, productID, warehouseID string, qtyToAdd int32) error {
	return e.mutateWithRetry(ctx, productID, warehouseID, "restock", func(version int64) error {
		return e.inventoryRepo.Restock(ctx, productID, warehouseID, qtyToAdd, version)
	})
}

// mutateWithRetry перечитывает версию строки и выполняет мутацию
// с повторами при конфликте.
func (e *Engine) mutateWithRetry(ctx context.Context, productID, warehouseID, operation string, mutate func(version int64) error) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		row, err := e.inventoryRepo.Get(ctx, productID, warehouseID)
		if err != nil {
			return err
		}

		err = mutate(row.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}

		lastErr = err
		metrics.RecordInventoryConflict(operation)

		if attempt < maxRetries {
			if err := sleepCtx(ctx, retryBackoffBase*time.Duration(attempt)); err != nil {
				return err
			}
		}
	}

	return lastErr
}

// Availability возвращает агрегированные остатки товара по всем складам.
func (e *Engine) Availability(ctx context.Context, productID string) (*domain.ProductAvailability, error) {
	product, err := e.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	rows, err := e.inventoryRepo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	availability := &domain.ProductAvailability{
		ProductID:   product.ID,
		ProductName: product.Name,
		Warehouses:  make([]domain.WarehouseAvailability, 0, len(rows)),
	}

	for _, row := range rows {
		availability.TotalAvailable += row.Available()
		availability.TotalReserved += row.Reserved
		availability.Warehouses = append(availability.Warehouses, domain.WarehouseAvailability{
			WarehouseID: row.WarehouseID,
			Available:   row.Available(),
			Reserved:    row.Reserved,
		})
	}

	availability.InStock = availability.TotalAvailable > 0
	return availability, nil
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
