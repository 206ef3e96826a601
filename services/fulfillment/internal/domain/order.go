package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus — статус заказа в системе.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, ожидает оплаты.
	OrderStatusPending OrderStatus = "PENDING"

	// OrderStatusInventoryReserved — товар зарезервирован на складах.
	OrderStatusInventoryReserved OrderStatus = "INVENTORY_RESERVED"

	// OrderStatusPaymentConfirmed — оплата проверена у провайдера.
	OrderStatusPaymentConfirmed OrderStatus = "PAYMENT_CONFIRMED"

	// OrderStatusShippingAllocated — назначена доставка (терминальный успех).
	OrderStatusShippingAllocated OrderStatus = "SHIPPING_ALLOCATED"

	// OrderStatusCancelled — заказ отменён (терминальная неудача).
	// Из CANCELLED переходов нет.
	OrderStatusCancelled OrderStatus = "CANCELLED"

	// OrderStatusFailed — зарезервирован для фатальных внутренних сбоев.
	// На успешном пути никогда не выставляется.
	OrderStatusFailed OrderStatus = "FAILED"
)

// PaymentStatus — статус платежа, как его сообщает провайдер.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCanceled  PaymentStatus = "canceled"
)

// allowedTransitions описывает машину статусов заказа.
// Любой переход вне этой таблицы — ErrInvalidTransition.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:           {OrderStatusInventoryReserved, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusInventoryReserved: {OrderStatusPaymentConfirmed, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusPaymentConfirmed:  {OrderStatusShippingAllocated, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusShippingAllocated: {OrderStatusCancelled},
	OrderStatusCancelled:         {},
	OrderStatusFailed:            {},
}

// CanTransitionTo проверяет допустимость перехода из текущего статуса.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для терминальных статусов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusShippingAllocated || s == OrderStatusCancelled || s == OrderStatusFailed
}

// ShippingAddress — адрес доставки заказа.
type ShippingAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Validate проверяет обязательные поля адреса.
func (a *ShippingAddress) Validate() error {
	if strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.City) == "" ||
		strings.TrimSpace(a.PostalCode) == "" || strings.TrimSpace(a.Country) == "" {
		return fmt.Errorf("%w: адрес доставки заполнен не полностью", ErrValidation)
	}
	return nil
}

// OrderMetadata — типизированные расширения заказа.
// Хранится как JSON-колонка; известные ключи описаны явно.
type OrderMetadata struct {
	// CancelReason — машинно-читаемая причина отмены
	// (ABANDONED_CART, InsufficientInventory, fraud...).
	CancelReason string `json:"cancelReason,omitempty"`

	// ReminderEmailSent — напоминание о брошенной корзине уже отправлено.
	ReminderEmailSent bool `json:"reminderEmailSent,omitempty"`

	// PaymentMethod — способ оплаты из webhook события (card, sepa...).
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

// Order — заказ в системе.
// Доменная сущность без зависимостей от инфраструктуры (GORM, HTTP).
// Все суммы — в минимальных единицах валюты (центы).
type Order struct {
	ID                string          // Уникальный идентификатор заказа (UUID)
	CustomerID        string          // ID клиента, создавшего заказ
	Items             []OrderItem     // Позиции заказа
	TotalAmount       int64           // Сумма заказа = Σ TotalPrice позиций
	Status            OrderStatus     // Текущий статус заказа
	ShippingAddress   ShippingAddress // Адрес доставки
	PaymentIntentID   *string         // ID платёжного интента (nil до создания)
	PaymentStatus     *PaymentStatus  // Статус платежа от провайдера
	TrackingNumber    *string         // Трек-номер (после AllocateShipping)
	Carrier           *string         // Перевозчик (USPS / FedEx / UPS)
	EstimatedDelivery *time.Time      // Ожидаемая дата доставки
	Metadata          OrderMetadata   // Типизированные расширения
	CreatedAt         time.Time       // Дата создания заказа
	UpdatedAt         time.Time       // Дата последнего обновления
}

// OrderItem — позиция заказа.
type OrderItem struct {
	ID           string  // Уникальный идентификатор позиции (UUID)
	OrderID      string  // ID заказа, к которому относится позиция
	ProductID    string  // ID товара
	ProductName  string  // Название товара (денормализовано для истории)
	Quantity     int32   // Количество единиц товара (> 0)
	PricePerUnit int64   // Цена за единицу в минимальных единицах
	TotalPrice   int64   // Quantity * PricePerUnit
	WarehouseID  *string // Склад резервирования (после шага ReserveInventory)
}

// Validate проверяет корректность позиции заказа.
func (oi *OrderItem) Validate() error {
	if strings.TrimSpace(oi.ProductID) == "" {
		return fmt.Errorf("%w: пустой productId", ErrValidation)
	}
	if oi.Quantity <= 0 {
		return fmt.Errorf("%w: количество должно быть больше нуля", ErrValidation)
	}
	if oi.PricePerUnit <= 0 {
		return fmt.Errorf("%w: цена должна быть больше нуля", ErrValidation)
	}
	if oi.TotalPrice != int64(oi.Quantity)*oi.PricePerUnit {
		return fmt.Errorf("%w: totalPrice не равен quantity * pricePerUnit", ErrValidation)
	}
	return nil
}

// Validate проверяет корректность заказа и его инварианты сумм.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.CustomerID) == "" {
		return fmt.Errorf("%w: пустой customerId", ErrValidation)
	}

	if len(o.Items) == 0 {
		return fmt.Errorf("%w: заказ должен содержать хотя бы одну позицию", ErrValidation)
	}

	if err := o.ShippingAddress.Validate(); err != nil {
		return err
	}

	var total int64
	for i := range o.Items {
		if err := o.Items[i].Validate(); err != nil {
			return err
		}
		total += o.Items[i].TotalPrice
	}

	if o.TotalAmount != total {
		return fmt.Errorf("%w: totalAmount не равен сумме позиций", ErrValidation)
	}

	return nil
}

// CalculateTotals пересчитывает TotalPrice позиций и TotalAmount заказа.
// Вызывается при создании заказа до валидации.
func (o *Order) CalculateTotals() {
	var total int64
	for i := range o.Items {
		o.Items[i].TotalPrice = int64(o.Items[i].Quantity) * o.Items[i].PricePerUnit
		total += o.Items[i].TotalPrice
	}
	o.TotalAmount = total
}

// TransitionTo переводит заказ в следующий статус, проверяя машину статусов.
func (o *Order) TransitionTo(next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = time.Now()
	return nil
}

// SetPaymentStatus выставляет статус платежа.
func (o *Order) SetPaymentStatus(ps PaymentStatus) {
	o.PaymentStatus = &ps
	o.UpdatedAt = time.Now()
}

// AllWarehousesAssigned возвращает true, если у каждой позиции
// назначен склад (инвариант после шага резервирования).
func (o *Order) AllWarehousesAssigned() bool {
	for i := range o.Items {
		if o.Items[i].WarehouseID == nil || *o.Items[i].WarehouseID == "" {
			return false
		}
	}
	return true
}
