// Package notification содержит unit тесты публикатора и worker-а уведомлений.
package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment/pkg/config"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// mockProducer — мок EventProducer.
type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) SendEvent(ctx context.Context, topic, eventType, orderID string, payload []byte) error {
	return m.Called(ctx, topic, eventType, orderID, payload).Error(0)
}

// mockSender — мок EmailSender, запоминает отправленные письма.
type mockSender struct {
	sent []EmailMessage
	err  error
}

func (m *mockSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func notifCfg() config.NotificationConfig {
	return config.NotificationConfig{
		SenderAddress:   "orders@shop.example.com",
		FrontendBaseURL: "https://shop.example.com",
	}
}

func confirmedOrder() *domain.Order {
	tracking := "US1700000000000123"
	carrier := "USPS"
	delivery := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Order{
		ID:         "O1",
		CustomerID: "C1",
		Items: []domain.OrderItem{
			{ProductID: "P1", ProductName: "Ноутбук", Quantity: 2, PricePerUnit: 1999, TotalPrice: 3998},
		},
		TotalAmount:       3998,
		Status:            domain.OrderStatusShippingAllocated,
		TrackingNumber:    &tracking,
		Carrier:           &carrier,
		EstimatedDelivery: &delivery,
	}
}

func TestPublisher_SendOrderConfirmation(t *testing.T) {
	producer := new(mockProducer)
	pub := NewPublisher(producer, notifCfg())

	producer.On("SendEvent", mock.Anything, kafka.TopicNotifications, EventOrderConfirmation, "O1",
		mock.MatchedBy(func(payload []byte) bool {
			var p OrderConfirmationPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return false
			}
			return p.OrderID == "O1" && p.TotalAmount == 3998 && p.TrackingNumber == "US1700000000000123"
		})).Return(nil)

	err := pub.SendOrderConfirmation(context.Background(), confirmedOrder())

	require.NoError(t, err)
	producer.AssertExpectations(t)
}

func TestPublisher_SendAbandonedCartReminder(t *testing.T) {
	producer := new(mockProducer)
	pub := NewPublisher(producer, notifCfg())

	producer.On("SendEvent", mock.Anything, kafka.TopicNotifications, EventAbandonedCartReminder, "O1",
		mock.MatchedBy(func(payload []byte) bool {
			var p CartReminderPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return false
			}
			return p.CheckoutURL == "https://shop.example.com/orders/O1/checkout"
		})).Return(nil)

	order := confirmedOrder()
	order.Status = domain.OrderStatusInventoryReserved

	err := pub.SendAbandonedCartReminder(context.Background(), order)

	require.NoError(t, err)
	producer.AssertExpectations(t)
}

func TestWorker_HandleConfirmation(t *testing.T) {
	sender := &mockSender{}
	worker := NewWorker(nil, sender)

	payload, err := json.Marshal(OrderConfirmationPayload{
		OrderID:     "O1",
		CustomerID:  "C1",
		TotalAmount: 3998,
		Items:       []ItemSummary{{ProductName: "Ноутбук", Quantity: 2}},
	})
	require.NoError(t, err)

	err = worker.Handle(context.Background(), &kafka.Message{
		Value:   payload,
		Headers: map[string]string{kafka.HeaderEventType: EventOrderConfirmation},
	})

	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "C1", sender.sent[0].RecipientID)
	assert.Contains(t, sender.sent[0].Subject, "O1")
	assert.Contains(t, sender.sent[0].Body, "Ноутбук")
	assert.Contains(t, sender.sent[0].Body, "39.98")
}

func TestWorker_HandleReminder(t *testing.T) {
	sender := &mockSender{}
	worker := NewWorker(nil, sender)

	payload, err := json.Marshal(CartReminderPayload{
		OrderID:     "O1",
		CustomerID:  "C1",
		TotalAmount: 3998,
		CheckoutURL: "https://shop.example.com/orders/O1/checkout",
	})
	require.NoError(t, err)

	err = worker.Handle(context.Background(), &kafka.Message{
		Value:   payload,
		Headers: map[string]string{kafka.HeaderEventType: EventAbandonedCartReminder},
	})

	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Body, "checkout")
}

func TestWorker_UnknownEventSkipped(t *testing.T) {
	sender := &mockSender{}
	worker := NewWorker(nil, sender)

	err := worker.Handle(context.Background(), &kafka.Message{
		Value:   []byte(`{}`),
		Headers: map[string]string{kafka.HeaderEventType: "order.created"},
	})

	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestWorker_MalformedPayload(t *testing.T) {
	sender := &mockSender{}
	worker := NewWorker(nil, sender)

	err := worker.Handle(context.Background(), &kafka.Message{
		Value:   []byte(`{broken`),
		Headers: map[string]string{kafka.HeaderEventType: EventOrderConfirmation},
	})

	assert.Error(t, err)
}
