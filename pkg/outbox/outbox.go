// Package outbox реализует Outbox Pattern для гарантированной доставки
// событий заказа в Kafka. Бизнес-данные и запись в outbox пишутся в одной
// транзакции MySQL, отдельный OutboxWorker читает таблицу и отправляет
// события в Kafka (at-least-once).
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outbox — запись в таблице outbox для гарантированной доставки в Kafka.
type Outbox struct {
	ID            string            // UUID записи
	AggregateType string            // Тип агрегата (order / notification)
	AggregateID   string            // ID агрегата (order_id)
	EventType     string            // Тип события (order.created, order.cancelled...)
	Topic         string            // Kafka топик
	MessageKey    string            // Ключ сообщения (для партиционирования)
	Payload       []byte            // JSON payload
	Headers       map[string]string // Headers для Kafka (trace_id, correlation_id)
	CreatedAt     time.Time         // Время создания
	ProcessedAt   *time.Time        // Время обработки (nil = не обработана)
	RetryCount    int               // Количество попыток отправки
	LastError     *string           // Последняя ошибка
}

// NewRecord создаёт запись outbox с сериализованным payload.
// Ключом сообщения служит aggregateID, так все события одного заказа
// сохраняют порядок внутри партиции.
func NewRecord(aggregateType, aggregateID, eventType, topic string, payload any, headers map[string]string) (*Outbox, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации payload события %s: %w", eventType, err)
	}

	return &Outbox{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    aggregateID,
		Payload:       data,
		Headers:       headers,
	}, nil
}

// HeadersJSON возвращает headers в формате JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
