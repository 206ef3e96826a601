// Package repository содержит реализацию доступа к данным fulfillment-сервиса.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// OrderUpdate — опциональные поля, обновляемые вместе со сменой статуса.
// nil-поля не трогаются.
type OrderUpdate struct {
	PaymentIntentID   *string
	PaymentStatus     *domain.PaymentStatus
	TrackingNumber    *string
	Carrier           *string
	EstimatedDelivery *time.Time
	Metadata          *domain.OrderMetadata
}

// OrderRepository определяет интерфейс для работы с заказами в БД.
type OrderRepository interface {
	// Create создаёт заказ с позициями и записью outbox в одной транзакции.
	// outboxRec может быть nil, если событие не нужно.
	Create(ctx context.Context, order *domain.Order, outboxRec *outbox.Outbox) error

	// GetByID возвращает заказ по ID с загруженными позициями.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// ListByCustomer возвращает заказы клиента с пагинацией.
	// status может быть nil для всех статусов.
	ListByCustomer(ctx context.Context, customerID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error)

	// ListAbandoned возвращает заказы-кандидаты на отмену reaper'ом:
	// статус PENDING или INVENTORY_RESERVED, платёж не прошёл,
	// созданы раньше cutoff.
	ListAbandoned(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error)

	// TransitionStatus атомарно переводит заказ from -> to с опциональными
	// полями и записью outbox. Условие WHERE status = from гарантирует,
	// что из двух гонящихся писателей выиграет один; проигравший получает
	// ErrConcurrencyConflict.
	TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, upd *OrderUpdate, outboxRec *outbox.Outbox) error

	// AssignWarehouses сохраняет warehouseId на позициях и переводит заказ
	// PENDING -> INVENTORY_RESERVED в одной транзакции.
	AssignWarehouses(ctx context.Context, orderID string, warehouses map[string]string, outboxRec *outbox.Outbox) error

	// SetPaymentInfo записывает платёжные реквизиты webhook-а на заказ
	// в статусе PENDING без интента, не меняя статус. Заказ не в PENDING
	// или уже с интентом даёт ErrConcurrencyConflict — это guard
	// от повторных webhook-ов.
	SetPaymentInfo(ctx context.Context, orderID, paymentIntentID string, status domain.PaymentStatus, paymentMethod string) error

	// SetReminderSent помечает заказ как получивший напоминание
	// о брошенной корзине.
	SetReminderSent(ctx context.Context, orderID string) error
}

// =============================================================================
// GORM модели
// =============================================================================

// OrderModel — GORM модель для таблицы orders.
// Отделена от доменной сущности для гибкости.
type OrderModel struct {
	ID                string           `gorm:"column:id;type:varchar(36);primaryKey"`
	CustomerID        string           `gorm:"column:customer_id;type:varchar(36);not null;index:idx_orders_customer,priority:1"`
	Status            string           `gorm:"column:status;type:varchar(20);not null;index:idx_orders_status,priority:1"`
	TotalAmount       int64            `gorm:"column:total_amount;not null"`
	ShippingAddress   []byte           `gorm:"column:shipping_address;type:json;not null"`
	PaymentIntentID   *string          `gorm:"column:payment_intent_id;type:varchar(64);index"`
	PaymentStatus     *string          `gorm:"column:payment_status;type:varchar(20)"`
	TrackingNumber    *string          `gorm:"column:tracking_number;type:varchar(32)"`
	Carrier           *string          `gorm:"column:carrier;type:varchar(16)"`
	EstimatedDelivery *time.Time       `gorm:"column:estimated_delivery"`
	Metadata          []byte           `gorm:"column:metadata;type:json"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime;index:idx_orders_customer,priority:2;index:idx_orders_status,priority:2"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	Items             []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel — GORM модель для таблицы order_items.
type OrderItemModel struct {
	ID           string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID      string    `gorm:"column:order_id;type:varchar(36);not null;index"`
	ProductID    string    `gorm:"column:product_id;type:varchar(36);not null"`
	ProductName  string    `gorm:"column:product_name;type:varchar(255);not null"`
	Quantity     int32     `gorm:"column:quantity;not null"`
	PricePerUnit int64     `gorm:"column:price_per_unit;not null"`
	TotalPrice   int64     `gorm:"column:total_price;not null"`
	WarehouseID  *string   `gorm:"column:warehouse_id;type:varchar(36)"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (OrderItemModel) TableName() string {
	return "order_items"
}

// toDomain конвертирует GORM модель заказа в доменную сущность.
func (m *OrderModel) toDomain() *domain.Order {
	order := &domain.Order{
		ID:                m.ID,
		CustomerID:        m.CustomerID,
		Status:            domain.OrderStatus(m.Status),
		TotalAmount:       m.TotalAmount,
		PaymentIntentID:   m.PaymentIntentID,
		TrackingNumber:    m.TrackingNumber,
		Carrier:           m.Carrier,
		EstimatedDelivery: m.EstimatedDelivery,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		Items:             make([]domain.OrderItem, len(m.Items)),
	}

	if m.PaymentStatus != nil {
		ps := domain.PaymentStatus(*m.PaymentStatus)
		order.PaymentStatus = &ps
	}

	if len(m.ShippingAddress) > 0 {
		_ = json.Unmarshal(m.ShippingAddress, &order.ShippingAddress)
	}
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &order.Metadata)
	}

	for i, item := range m.Items {
		order.Items[i] = *item.toDomain()
	}

	return order
}

// toDomain конвертирует GORM модель позиции в доменную сущность.
func (m *OrderItemModel) toDomain() *domain.OrderItem {
	return &domain.OrderItem{
		ID:           m.ID,
		OrderID:      m.OrderID,
		ProductID:    m.ProductID,
		ProductName:  m.ProductName,
		Quantity:     m.Quantity,
		PricePerUnit: m.PricePerUnit,
		TotalPrice:   m.TotalPrice,
		WarehouseID:  m.WarehouseID,
	}
}

// orderModelFromDomain конвертирует доменную сущность заказа в GORM модель.
func orderModelFromDomain(o *domain.Order) *OrderModel {
	model := &OrderModel{
		ID:                o.ID,
		CustomerID:        o.CustomerID,
		Status:            string(o.Status),
		TotalAmount:       o.TotalAmount,
		PaymentIntentID:   o.PaymentIntentID,
		TrackingNumber:    o.TrackingNumber,
		Carrier:           o.Carrier,
		EstimatedDelivery: o.EstimatedDelivery,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		Items:             make([]OrderItemModel, len(o.Items)),
	}

	if o.PaymentStatus != nil {
		ps := string(*o.PaymentStatus)
		model.PaymentStatus = &ps
	}

	model.ShippingAddress, _ = json.Marshal(o.ShippingAddress)
	model.Metadata, _ = json.Marshal(o.Metadata)

	for i, item := range o.Items {
		model.Items[i] = OrderItemModel{
			ID:           item.ID,
			OrderID:      item.OrderID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			Quantity:     item.Quantity,
			PricePerUnit: item.PricePerUnit,
			TotalPrice:   item.TotalPrice,
			WarehouseID:  item.WarehouseID,
		}
	}

	return model
}

// =============================================================================
// GORM реализация
// =============================================================================

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create создаёт заказ с позициями и записью outbox в одной транзакции.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order, outboxRec *outbox.Outbox) error {
	model := orderModelFromDomain(order)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Позиции GORM создаст автоматически через ассоциацию
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		if outboxRec != nil {
			if err := outbox.NewOutboxRepository(tx).Create(ctx, outboxRec); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateOperation
		}
		return err
	}

	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID возвращает заказ по ID с загруженными позициями.
func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ListByCustomer возвращает список заказов клиента с пагинацией.
// Опциональный фильтр по статусу, возвращает также общее количество записей.
func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error) {
	var models []OrderModel
	var totalCount int64

	query := r.db.WithContext(ctx).Model(&OrderModel{}).Where("customer_id = ?", customerID)

	if status != nil {
		query = query.Where("status = ?", string(*status))
	}

	if err := query.Count(&totalCount).Error; err != nil {
		return nil, 0, err
	}

	// Новые заказы первыми
	if err := query.
		Preload("Items").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = models[i].toDomain()
	}

	return orders, totalCount, nil
}

// ListAbandoned возвращает заказы-кандидаты на отмену reaper'ом.
// Заказ считается брошенным, если он висит в PENDING или INVENTORY_RESERVED
// без успешного платежа дольше таймаута.
func (r *orderRepository) ListAbandoned(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error) {
	var models []OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status IN ?", []string{
			string(domain.OrderStatusPending),
			string(domain.OrderStatusInventoryReserved),
		}).
		Where("payment_status IS NULL OR payment_status = ?", string(domain.PaymentStatusPending)).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = models[i].toDomain()
	}
	return orders, nil
}

// TransitionStatus атомарно переводит заказ from -> to.
// Условие WHERE status = from реализует наблюдай-потом-действуй:
// проигравший гонку писатель получает ErrConcurrencyConflict.
func (r *orderRepository) TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, upd *OrderUpdate, outboxRec *outbox.Outbox) error {
	if !from.CanTransitionTo(to) {
		return domain.ErrInvalidTransition
	}

	updates := map[string]any{
		"status":     string(to),
		"updated_at": time.Now(),
	}

	if upd != nil {
		if upd.PaymentIntentID != nil {
			updates["payment_intent_id"] = *upd.PaymentIntentID
		}
		if upd.PaymentStatus != nil {
			updates["payment_status"] = string(*upd.PaymentStatus)
		}
		if upd.TrackingNumber != nil {
			updates["tracking_number"] = *upd.TrackingNumber
		}
		if upd.Carrier != nil {
			updates["carrier"] = *upd.Carrier
		}
		if upd.EstimatedDelivery != nil {
			updates["estimated_delivery"] = *upd.EstimatedDelivery
		}
		if upd.Metadata != nil {
			data, err := json.Marshal(upd.Metadata)
			if err != nil {
				return err
			}
			updates["metadata"] = data
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&OrderModel{}).
			Where("id = ? AND status = ?", orderID, string(from)).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Либо заказ не существует, либо статус уже изменён конкурентом
			var count int64
			if err := tx.Model(&OrderModel{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrOrderNotFound
			}
			return domain.ErrConcurrencyConflict
		}

		if outboxRec != nil {
			if err := outbox.NewOutboxRepository(tx).Create(ctx, outboxRec); err != nil {
				return err
			}
		}
		return nil
	})
}

// AssignWarehouses сохраняет warehouseId на позициях и переводит заказ
// PENDING -> INVENTORY_RESERVED в одной транзакции.
// warehouses: productId -> warehouseId.
func (r *orderRepository) AssignWarehouses(ctx context.Context, orderID string, warehouses map[string]string, outboxRec *outbox.Outbox) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for productID, warehouseID := range warehouses {
			result := tx.Model(&OrderItemModel{}).
				Where("order_id = ? AND product_id = ?", orderID, productID).
				Update("warehouse_id", warehouseID)
			if result.Error != nil {
				return result.Error
			}
		}

		result := tx.Model(&OrderModel{}).
			Where("id = ? AND status = ?", orderID, string(domain.OrderStatusPending)).
			Updates(map[string]any{
				"status":     string(domain.OrderStatusInventoryReserved),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConcurrencyConflict
		}

		if outboxRec != nil {
			if err := outbox.NewOutboxRepository(tx).Create(ctx, outboxRec); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetPaymentInfo записывает платёжные реквизиты на PENDING заказ.
// Условие WHERE status = PENDING AND payment_intent_id IS NULL атомарно
// отсекает повторные webhook-и — в том числе дубликат, пришедший пока
// заказ ещё не покинул PENDING: проигравший получает
// ErrConcurrencyConflict (или ErrOrderNotFound, если заказа нет вовсе).
func (r *orderRepository) SetPaymentInfo(ctx context.Context, orderID, paymentIntentID string, status domain.PaymentStatus, paymentMethod string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.Where("id = ?", orderID).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}

		var meta domain.OrderMetadata
		if len(model.Metadata) > 0 {
			_ = json.Unmarshal(model.Metadata, &meta)
		}
		meta.PaymentMethod = paymentMethod

		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		result := tx.Model(&OrderModel{}).
			Where("id = ? AND status = ? AND payment_intent_id IS NULL", orderID, string(domain.OrderStatusPending)).
			Updates(map[string]any{
				"payment_intent_id": paymentIntentID,
				"payment_status":    string(status),
				"metadata":          data,
				"updated_at":        time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConcurrencyConflict
		}
		return nil
	})
}

// SetReminderSent помечает заказ как получивший напоминание о брошенной корзине.
// Метка живёт в JSON metadata, поэтому читаем, модифицируем и пишем поле целиком.
func (r *orderRepository) SetReminderSent(ctx context.Context, orderID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.Where("id = ?", orderID).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}

		var meta domain.OrderMetadata
		if len(model.Metadata) > 0 {
			_ = json.Unmarshal(model.Metadata, &meta)
		}
		meta.ReminderEmailSent = true

		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		return tx.Model(&OrderModel{}).
			Where("id = ?", orderID).
			Update("metadata", data).Error
	})
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
// MySQL возвращает ошибку с кодом 1062 при попытке вставить дубликат.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
