// Package service содержит бизнес-логику поверх репозиториев:
// создание заказов, обработку платёжных webhook-ов и админские операции.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/payment"
	"example.com/fulfillment/services/fulfillment/internal/repository"
	"example.com/fulfillment/services/fulfillment/internal/saga"
)

// paymentCurrency — валюта платёжных интентов.
const paymentCurrency = "usd"

// AvailabilityProvider — предварительная проверка стока перед созданием
// заказа. inventory.Engine реализует интерфейс.
type AvailabilityProvider interface {
	Availability(ctx context.Context, productID string) (*domain.ProductAvailability, error)
}

// IntentCreator — создание платёжного интента. payment.Client реализует
// интерфейс.
type IntentCreator interface {
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*payment.Intent, error)
}

// CreateOrderItemInput — позиция создаваемого заказа.
type CreateOrderItemInput struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int32  `json:"quantity" binding:"required,gt=0"`
}

// CreateOrderInput — запрос создания заказа.
type CreateOrderInput struct {
	CustomerID      string                 `json:"customerId" binding:"required"`
	Items           []CreateOrderItemInput `json:"items" binding:"required,min=1,dive"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress" binding:"required"`
}

// CreateOrderResult — ответ на создание заказа. clientSecret передаётся
// фронтенду для завершения оплаты у провайдера.
type CreateOrderResult struct {
	OrderID      string             `json:"orderId"`
	ClientSecret string             `json:"clientSecret"`
	TotalAmount  int64              `json:"totalAmount"`
	Status       domain.OrderStatus `json:"status"`
}

// OrderService — создание и чтение заказов плюс админская отмена.
type OrderService struct {
	orders       repository.OrderRepository
	products     repository.ProductRepository
	availability AvailabilityProvider
	payments     IntentCreator
	compensator  *saga.Compensator
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	availability AvailabilityProvider,
	payments IntentCreator,
	compensator *saga.Compensator,
) *OrderService {
	return &OrderService{
		orders:       orders,
		products:     products,
		availability: availability,
		payments:     payments,
		compensator:  compensator,
	}
}

// Create создаёт заказ в статусе PENDING: валидирует вход, проверяет сток,
// считает суммы по актуальным ценам каталога, чеканит платёжный интент
// и пишет заказ с событием order.created в одной транзакции.
//
// Проверка стока здесь только предварительная — настоящий резерв делает
// сага после оплаты. Окно между проверкой и резервом допустимо: сток
// может разойтись, тогда сага отменит заказ с возвратом денег.
func (s *OrderService) Create(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	productIDs := make([]string, 0, len(input.Items))
	for _, item := range input.Items {
		productIDs = append(productIDs, item.ProductID)
	}

	products, err := s.products.GetActiveByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:              uuid.NewString(),
		CustomerID:      input.CustomerID,
		Status:          domain.OrderStatusPending,
		ShippingAddress: input.ShippingAddress,
		Items:           make([]domain.OrderItem, 0, len(input.Items)),
	}

	for _, item := range input.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: товар %s", domain.ErrProductNotFound, item.ProductID)
		}

		avail, err := s.availability.Availability(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if avail.TotalAvailable < item.Quantity {
			return nil, fmt.Errorf("%w: товар %s, доступно %d, запрошено %d",
				domain.ErrInsufficientInventory, item.ProductID, avail.TotalAvailable, item.Quantity)
		}

		order.Items = append(order.Items, domain.OrderItem{
			ID:           uuid.NewString(),
			OrderID:      order.ID,
			ProductID:    product.ID,
			ProductName:  product.Name,
			Quantity:     item.Quantity,
			PricePerUnit: product.Price,
			TotalPrice:   int64(item.Quantity) * product.Price,
		})
	}

	order.CalculateTotals()
	if err := order.Validate(); err != nil {
		return nil, err
	}

	intent, err := s.payments.CreateIntent(ctx, order.TotalAmount, paymentCurrency, map[string]string{
		"orderId": order.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания платёжного интента: %w", err)
	}
	order.PaymentIntentID = &intent.ID
	order.SetPaymentStatus(domain.PaymentStatusPending)

	rec, err := outbox.NewRecord("order", order.ID, "order.created", kafka.TopicOrderEvents, CreateOrderResult{
		OrderID:     order.ID,
		TotalAmount: order.TotalAmount,
		Status:      order.Status,
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, order, rec); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("customer_id", order.CustomerID).
		Int64("total_amount", order.TotalAmount).
		Msg("Заказ создан")

	return &CreateOrderResult{
		OrderID:      order.ID,
		ClientSecret: intent.ClientSecret,
		TotalAmount:  order.TotalAmount,
		Status:       order.Status,
	}, nil
}

// Get возвращает заказ по ID.
func (s *OrderService) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// ListByCustomer возвращает заказы клиента с пагинацией.
func (s *OrderService) ListByCustomer(ctx context.Context, customerID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error) {
	return s.orders.ListByCustomer(ctx, customerID, status, offset, limit)
}

// AdminCancel отменяет заказ из любого нетерминального статуса силами
// компенсации: refund при оплаченном заказе, возврат резервов, отмена.
// reason — причина оператора, она попадает в metadata.cancelReason;
// пустая причина записывается как ADMIN_CANCELLED.
// Уже отменённый заказ — идемпотентный no-op.
func (s *OrderService) AdminCancel(ctx context.Context, orderID, reason string) (saga.CompensationResult, error) {
	// Существование заказа проверяем до компенсации, чтобы отдать 404.
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return saga.CompensationResult{}, err
	}

	result := s.compensator.Cancel(ctx, orderID, reason)
	return result, nil
}

// validateCreateInput проверяет запрос создания заказа.
func validateCreateInput(input CreateOrderInput) error {
	if input.CustomerID == "" {
		return fmt.Errorf("%w: пустой customerId", domain.ErrValidation)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: заказ без позиций", domain.ErrValidation)
	}
	for _, item := range input.Items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: позиция без productId", domain.ErrValidation)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: количество должно быть положительным", domain.ErrValidation)
		}
	}
	return input.ShippingAddress.Validate()
}
