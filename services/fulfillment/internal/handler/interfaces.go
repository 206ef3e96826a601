// Package handler содержит HTTP обработчики REST API fulfillment-сервиса.
package handler

import (
	"context"

	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/payment"
	"example.com/fulfillment/services/fulfillment/internal/saga"
	"example.com/fulfillment/services/fulfillment/internal/service"
)

// Интерфейсы зависимостей handlers. Конкретные реализации живут в
// service, inventory и auth; интерфейсы здесь — для подмены в тестах.

// OrderService — операции с заказами.
type OrderService interface {
	Create(ctx context.Context, input service.CreateOrderInput) (*service.CreateOrderResult, error)
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error)
	AdminCancel(ctx context.Context, orderID, reason string) (saga.CompensationResult, error)
}

// WebhookProcessor — обработка декодированных платёжных событий.
type WebhookProcessor interface {
	ProcessEvent(ctx context.Context, event *payment.Event) error
}

// AvailabilityProvider — агрегированные остатки товара.
type AvailabilityProvider interface {
	Availability(ctx context.Context, productID string) (*domain.ProductAvailability, error)
}

// AuthService — вход и выход администратора.
type AuthService interface {
	Login(ctx context.Context, username, password string) (string, error)
	Logout(ctx context.Context, token string) error
}
