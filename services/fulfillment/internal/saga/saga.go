// Package saga реализует оркестратор fulfillment-саги заказа:
// Reserve → VerifyPayment → AllocateShipping → Notify, компенсацию
// завершённых шагов при сбое и reaper брошенных корзин.
//
// Каждый шаг безопасен к повторному вызову: перед действием проверяется
// precondition по текущему статусу заказа, побочные эффекты защищены
// идемпотентным ключом, а статус и бизнес-данные обновляются одним
// conditional update.
package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/inventory"
	"example.com/fulfillment/services/fulfillment/internal/payment"
)

// Имена шагов саги. Используются в идемпотентных ключах
// (order:{orderId}:{stepName}), метриках и логах.
const (
	StepReserveInventory = "reserve-inventory"
	StepVerifyPayment    = "payment-verification"
	StepAllocateShipping = "allocate-shipping"
	StepNotify           = "notify"
)

// StepAdminCancel — псевдо-шаг для отмены заказа администратором:
// путь отмены переиспользует компенсацию (refund + release + cancel).
const StepAdminCancel = "admin-cancel"

const (
	// CancelReasonAbandonedCart записывается в metadata заказа,
	// отменённого reaper-ом по тайм-ауту оплаты.
	CancelReasonAbandonedCart = "ABANDONED_CART"

	// CancelReasonAdmin записывается при ручной отмене администратором.
	CancelReasonAdmin = "ADMIN_CANCELLED"
)

// =============================================================================
// Интерфейсы зависимостей (локальные, для тестируемости)
// =============================================================================

// InventoryEngine — операции движка остатков, нужные саге.
type InventoryEngine interface {
	ReserveItems(ctx context.Context, items []domain.OrderItem) ([]inventory.Reservation, error)
	Release(ctx context.Context, productID, warehouseID string, qty int32) error
}

// PaymentClient — операции платёжного провайдера, нужные саге и компенсации.
// payment.Client реализует интерфейс целиком.
type PaymentClient interface {
	GetIntent(ctx context.Context, intentID string) (*payment.Intent, error)
	Refund(ctx context.Context, intentID, reason string) (*payment.Refund, error)
}

// IdempotencyGuard выполняет fn не более одного раза на ключ.
type IdempotencyGuard interface {
	ExecuteOnce(ctx context.Context, key, operation string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error)
}

// Notifier — адаптер уведомлений. Сбои уведомлений не валят сагу.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *domain.Order) error
	SendAbandonedCartReminder(ctx context.Context, order *domain.Order) error
}

// =============================================================================
// Типизированные выходы шагов
// =============================================================================

// ReserveOutput — выход шага резервирования.
type ReserveOutput struct {
	ReservedItems []inventory.Reservation `json:"reservedItems"`
}

// VerifyOutput — выход шага проверки платежа.
type VerifyOutput struct {
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
}

// ShippingOutput — выход шага назначения доставки.
type ShippingOutput struct {
	TrackingNumber    string    `json:"trackingNumber"`
	Carrier           string    `json:"carrier"`
	EstimatedDelivery time.Time `json:"estimatedDelivery"`
}

// =============================================================================
// Назначение доставки
// =============================================================================

// carrierOption — перевозчик и его префикс трек-номера.
type carrierOption struct {
	name string
	code string
}

var carrierOptions = []carrierOption{
	{name: "USPS", code: "US"},
	{name: "FedEx", code: "FE"},
	{name: "UPS", code: "UP"},
}

// allocateShipment выбирает перевозчика и чеканит трек-номер вида
// {CODE}{epoch-ms}{3 случайные цифры}, срок доставки — сегодня + 3..5 дней.
func allocateShipment(now time.Time) ShippingOutput {
	carrier := carrierOptions[rand.IntN(len(carrierOptions))]
	return ShippingOutput{
		TrackingNumber:    fmt.Sprintf("%s%d%03d", carrier.code, now.UnixMilli(), rand.IntN(1000)),
		Carrier:           carrier.name,
		EstimatedDelivery: now.AddDate(0, 0, 3+rand.IntN(3)),
	}
}

// stepKey строит идемпотентный ключ шага: order:{orderId}:{stepName}.
func stepKey(orderID, stepName string) string {
	return fmt.Sprintf("order:%s:%s", orderID, stepName)
}

// paymentKey строит ключ платёжной операции: payment:{orderId}:{intentId}.
// Дедуплицирует refund между компенсацией и повторным админским вызовом.
func paymentKey(orderID, intentID string) string {
	return fmt.Sprintf("payment:%s:%s", orderID, intentID)
}

// releaseKey строит ключ возврата резерва позиции:
// inventory:{orderId}:{productId}:release. Один ключ на позицию защищает
// от двойного декремента reserved при гонке компенсации с reaper.
func releaseKey(orderID, productID string) string {
	return fmt.Sprintf("inventory:%s:%s:release", orderID, productID)
}

// statusRank — позиция статуса на пути успеха. Используется для
// идемпотентного реплея: шаг, чей целевой статус уже достигнут, пропускается.
var statusRank = map[domain.OrderStatus]int{
	domain.OrderStatusPending:           0,
	domain.OrderStatusInventoryReserved: 1,
	domain.OrderStatusPaymentConfirmed:  2,
	domain.OrderStatusShippingAllocated: 3,
}
