package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/fulfillment/pkg/config"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// EventProducer — продюсер событий уведомлений. kafka.Producer
// реализует интерфейс.
type EventProducer interface {
	SendEvent(ctx context.Context, topic, eventType, orderID string, payload []byte) error
}

// Publisher публикует события уведомлений в Kafka. Реализует
// интерфейс Notifier саги и reaper-а.
type Publisher struct {
	producer EventProducer
	cfg      config.NotificationConfig
}

// NewPublisher создаёт публикатор уведомлений.
func NewPublisher(producer EventProducer, cfg config.NotificationConfig) *Publisher {
	return &Publisher{producer: producer, cfg: cfg}
}

// SendOrderConfirmation публикует событие подтверждения заказа.
func (p *Publisher) SendOrderConfirmation(ctx context.Context, order *domain.Order) error {
	payload := OrderConfirmationPayload{
		OrderID:           order.ID,
		CustomerID:        order.CustomerID,
		TotalAmount:       order.TotalAmount,
		Items:             itemSummaries(order),
		EstimatedDelivery: order.EstimatedDelivery,
	}
	if order.TrackingNumber != nil {
		payload.TrackingNumber = *order.TrackingNumber
	}
	if order.Carrier != nil {
		payload.Carrier = *order.Carrier
	}

	return p.publish(ctx, EventOrderConfirmation, order.ID, payload)
}

// SendAbandonedCartReminder публикует событие напоминания о корзине.
func (p *Publisher) SendAbandonedCartReminder(ctx context.Context, order *domain.Order) error {
	payload := CartReminderPayload{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		TotalAmount: order.TotalAmount,
		CheckoutURL: fmt.Sprintf("%s/orders/%s/checkout", p.cfg.FrontendBaseURL, order.ID),
	}
	return p.publish(ctx, EventAbandonedCartReminder, order.ID, payload)
}

func (p *Publisher) publish(ctx context.Context, eventType, orderID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации уведомления: %w", err)
	}

	if err := p.producer.SendEvent(ctx, kafka.TopicNotifications, eventType, orderID, data); err != nil {
		return fmt.Errorf("ошибка публикации уведомления: %w", err)
	}

	logger.Ctx(ctx).Debug().
		Str("order_id", orderID).
		Str("event_type", eventType).
		Msg("Уведомление опубликовано")
	return nil
}

// itemSummaries собирает краткое описание позиций для письма.
func itemSummaries(order *domain.Order) []ItemSummary {
	items := make([]ItemSummary, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, ItemSummary{ProductName: item.ProductName, Quantity: item.Quantity})
	}
	return items
}
