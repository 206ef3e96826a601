// Package notification реализует адаптер уведомлений: публикацию
// событий в Kafka и фонового consumer-а, который превращает события
// в email сообщения.
//
// Публикация и доставка разнесены намеренно: сага и reaper не ждут
// SMTP — они кладут событие в топик, а доставкой занимается worker.
package notification

import (
	"time"
)

// Типы событий в топике уведомлений.
const (
	EventOrderConfirmation     = "notification.order_confirmation"
	EventAbandonedCartReminder = "notification.abandoned_cart_reminder"
)

// ItemSummary — позиция заказа в письме.
type ItemSummary struct {
	ProductName string `json:"productName"`
	Quantity    int32  `json:"quantity"`
}

// OrderConfirmationPayload — данные письма-подтверждения заказа.
type OrderConfirmationPayload struct {
	OrderID           string        `json:"orderId"`
	CustomerID        string        `json:"customerId"`
	TotalAmount       int64         `json:"totalAmount"`
	Items             []ItemSummary `json:"items"`
	TrackingNumber    string        `json:"trackingNumber,omitempty"`
	Carrier           string        `json:"carrier,omitempty"`
	EstimatedDelivery *time.Time    `json:"estimatedDelivery,omitempty"`
}

// CartReminderPayload — данные письма-напоминания о брошенной корзине.
type CartReminderPayload struct {
	OrderID     string `json:"orderId"`
	CustomerID  string `json:"customerId"`
	TotalAmount int64  `json:"totalAmount"`
	CheckoutURL string `json:"checkoutUrl"`
}

// EmailMessage — письмо, готовое к отправке.
type EmailMessage struct {
	RecipientID string // идентификатор клиента, резолвится в адрес отправителем
	Subject     string
	Body        string
}
