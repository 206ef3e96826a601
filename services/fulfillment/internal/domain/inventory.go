package domain

import "time"

// Inventory — строка остатков по паре (productId, warehouseId).
// version строго растёт на 1 при каждой успешной записи — это основа
// оптимистичной блокировки движка остатков.
type Inventory struct {
	ProductID   string    // ID товара
	WarehouseID string    // ID склада
	Quantity    int32     // Физически на складе (>= 0)
	Reserved    int32     // Зарезервировано под открытые заказы (>= 0, <= Quantity)
	Version     int64     // Версия строки для conditional update
	UpdatedAt   time.Time // Время последнего изменения
}

// Available возвращает доступный к резервированию остаток.
func (inv *Inventory) Available() int32 {
	return inv.Quantity - inv.Reserved
}

// CanReserve проверяет, покрывает ли доступный остаток запрошенное количество.
func (inv *Inventory) CanReserve(qty int32) bool {
	return qty > 0 && inv.Available() >= qty
}

// ProductAvailability — агрегированные остатки товара по всем складам.
// Отдаётся наружу через GET /inventory/{productId}.
type ProductAvailability struct {
	ProductID      string                  `json:"productId"`
	ProductName    string                  `json:"productName"`
	TotalAvailable int32                   `json:"totalAvailable"`
	TotalReserved  int32                   `json:"totalReserved"`
	Warehouses     []WarehouseAvailability `json:"warehouses"`
	InStock        bool                    `json:"inStock"`
}

// WarehouseAvailability — остатки товара на одном складе.
type WarehouseAvailability struct {
	WarehouseID string `json:"warehouseId"`
	Available   int32  `json:"available"`
	Reserved    int32  `json:"reserved"`
}
