package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// InventoryRepository определяет низкоуровневые операции над строками остатков.
// Все мутации — conditional update по версии строки; бизнес-логика повторов
// и выбора склада живёт уровнем выше, в inventory.Engine.
type InventoryRepository interface {
	// Get возвращает строку остатков по ключу (productId, warehouseId).
	Get(ctx context.Context, productID, warehouseID string) (*domain.Inventory, error)

	// ListByProduct возвращает строки остатков товара по всем складам
	// в детерминированном порядке (по warehouse_id).
	ListByProduct(ctx context.Context, productID string) ([]*domain.Inventory, error)

	// Reserve увеличивает reserved при условии version = expectedVersion
	// и available >= qty. При нарушении условия — ErrConcurrencyConflict.
	Reserve(ctx context.Context, productID, warehouseID string, qty int32, expectedVersion int64) error

	// Release уменьшает reserved при условии version = expectedVersion
	// и reserved >= qty.
	Release(ctx context.Context, productID, warehouseID string, qty int32, expectedVersion int64) error

	// ConfirmShipment списывает физический остаток: quantity -= qty,
	// reserved -= qty при условии reserved >= qty и version совпадает.
	ConfirmShipment(ctx context.Context, productID, warehouseID string, qty int32, expectedVersion int64) error

	// Restock увеличивает quantity при условии version = expectedVersion.
	Restock(ctx context.Context, productID, warehouseID string, qtyToAdd int32, expectedVersion int64) error
}

// InventoryModel — GORM модель для таблицы inventory.
// Reserved nullable: старые строки создавались без этой колонки,
// при чтении NULL трактуется как 0.
type InventoryModel struct {
	ProductID   string    `gorm:"column:product_id;type:varchar(36);primaryKey"`
	WarehouseID string    `gorm:"column:warehouse_id;type:varchar(36);primaryKey"`
	Quantity    int32     `gorm:"column:quantity;not null"`
	Reserved    *int32    `gorm:"column:reserved"`
	Version     int64     `gorm:"column:version;not null;default:0"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (InventoryModel) TableName() string {
	return "inventory"
}

// toDomain конвертирует GORM модель в доменную сущность.
// NULL reserved трактуется как 0 (совместимость со старой схемой).
func (m *InventoryModel) toDomain() *domain.Inventory {
	inv := &domain.Inventory{
		ProductID:   m.ProductID,
		WarehouseID: m.WarehouseID,
		Quantity:    m.Quantity,
		Version:     m.Version,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.Reserved != nil {
		inv.Reserved = *m.Reserved
	}
	return inv
}

// inventoryRepository — GORM реализация InventoryRepository.
type inventoryRepository struct {
	db *gorm.DB
}

// NewInventoryRepository создаёт новый репозиторий остатков.
func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

// Get возвращает строку остатков по ключу.
func (r *inventoryRepository) Get(ctx context.Context, productID, warehouseID string) (*domain.Inventory, error) {
	var model InventoryModel

	if err := r.db.WithContext(ctx).
		Where("product_id = ? AND warehouse_id = ?", productID, warehouseID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInventoryNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ListByProduct возвращает строки остатков товара по всем складам.
// Порядок по warehouse_id — детерминированный обход кандидатов
// при выборе склада для резервирования.
func (r *inventoryRepository) ListByProduct(ctx context.Context, productID string) ([]*domain.Inventory, error) {
	var models []InventoryModel

	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("warehouse_id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*domain.Inventory, len(models))
	for i := range models {
		result[i] = models[i].toDomain()
	}
	return result, nil
}

// Reserve увеличивает reserved через conditional update.
// Предикат version + available в одном UPDATE — это и есть
// оптимистичная блокировка: проигравший гонку меняет 0 строк.
func (r *inventoryRepository) Reserve(ctx context.Context, productID, warehouseID string, qty int32, expectedVersion int64) error {
	if qty <= 0 {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("product_id = ? AND warehouse_id = ? AND version = ? AND quantity - COALESCE(reserved, 0) >= ?",
			productID, warehouseID, expectedVersion, qty).
		Updates(map[string]any{
			"reserved":   gorm.Expr("COALESCE(reserved, 0) + ?", qty),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

// Release уменьшает reserved через conditional update.
func (r *inventoryRepository) Release(ctx context.Context, productID, warehouseID string, qty int32, expectedVersion int64) error {
	if qty <= 0 {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("product_id = ? AND warehouse_id = ? AND version = ? AND COALESCE(reserved, 0) >= ?",
			productID, warehouseID, expectedVersion, qty).
		Updates(map[string]any{
			"reserved":   gorm.Expr("COALESCE(reserved, 0) - ?", qty),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

// ConfirmShipment списывает физический остаток при отгрузке:
// товар покидает склад, резерв закрывается.
func (r *inventoryRepository) ConfirmShipment(ctx context.Context, productID, warehouseID string, qty int32, expectedVersion int64) error {
	if qty <= 0 {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("product_id = ? AND warehouse_id = ? AND version = ? AND COALESCE(reserved, 0) >= ? AND quantity >= ?",
			productID, warehouseID, expectedVersion, qty, qty).
		Updates(map[string]any{
			"quantity":   gorm.Expr("quantity - ?", qty),
			"reserved":   gorm.Expr("COALESCE(reserved, 0) - ?", qty),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

// Restock увеличивает физический остаток.
func (r *inventoryRepository) Restock(ctx context.Context, productID, warehouseID string, qtyToAdd int32, expectedVersion int64) error {
	if qtyToAdd <= 0 {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("product_id = ? AND warehouse_id = ? AND version = ?",
			productID, warehouseID, expectedVersion).
		Updates(map[string]any{
			"quantity":   gorm.Expr("quantity + ?", qtyToAdd),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}
