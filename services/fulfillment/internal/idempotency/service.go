// Package idempotency реализует at-most-once выполнение побочных операций.
// Записи живут в Redis с TTL; корректность конкурентного доступа строится
// на условной вставке SETNX, без распределённых блокировок.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// Статусы записи идемпотентности.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// keyPrefix — префикс ключей идемпотентности в Redis.
const keyPrefix = "idem:"

// Record — запись идемпотентности.
type Record struct {
	Operation string          `json:"operation"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Service гейтит выполнение операций по стабильному ключу.
type Service struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewService создаёт сервис идемпотентности.
// ttl — срок жизни записей (не меньше 24 часов, обычно 7 дней).
func NewService(rdb *redis.Client, ttl time.Duration) *Service {
	if ttl < 24*time.Hour {
		ttl = 24 * time.Hour
	}
	return &Service{rdb: rdb, ttl: ttl}
}

// ExecuteOnce выполняет fn не более одного раза для данного ключа.
//
// Семантика:
//  1. Если запись COMPLETED — возвращаем сохранённый результат без вызова fn.
//  2. Вставляем IN_PROGRESS через SETNX. Если запись уже есть:
//     COMPLETED — кэшированный результат; IN_PROGRESS — ErrConcurrentInProgress;
//     FAILED — перезаписываем и повторяем (failed-попытки ретраятся).
//  3. Вызываем fn. Успех — COMPLETED с сериализованным результатом,
//     ошибка — FAILED с текстом ошибки, ошибка пробрасывается.
//
// fn должна быть достаточно детерминированной: поздние вызовы получают
// результат первого выполнения.
func (s *Service) ExecuteOnce(ctx context.Context, key, op string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	log := logger.FromContext(ctx)
	redisKey := keyPrefix + key

	now := time.Now()
	inProgress := Record{
		Operation: op,
		Status:    StatusInProgress,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	payload, err := json.Marshal(inProgress)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации записи идемпотентности: %w", err)
	}

	// Условная вставка: успех означает, что мы первые.
	acquired, err := s.rdb.SetNX(ctx, redisKey, payload, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis setnx: %v", domain.ErrExternalService, err)
	}

	if !acquired {
		existing, err := s.get(ctx, redisKey)
		if err != nil {
			return nil, err
		}

		switch existing.Status {
		case StatusCompleted:
			log.Debug().
				Str("idempotency_key", key).
				Str("operation", op).
				Msg("Повторный вызов: возвращаем кэшированный результат")
			return existing.Result, nil

		case StatusInProgress:
			return nil, fmt.Errorf("%w: операция %s по ключу %s", domain.ErrConcurrentInProgress, existing.Operation, key)

		case StatusFailed:
			// Неудачная попытка ретраится: забираем ключ себе.
			// Между GET и SET есть окно гонки двух ретраев; обе стороны
			// выполнят fn, что допустимо — fn обязана быть повторяемой
			// до первого COMPLETED.
			if err := s.rdb.Set(ctx, redisKey, payload, s.ttl).Err(); err != nil {
				return nil, fmt.Errorf("%w: redis set: %v", domain.ErrExternalService, err)
			}

		default:
			return nil, fmt.Errorf("%w: неизвестный статус идемпотентности %q", domain.ErrFatalInternal, existing.Status)
		}
	}

	result, fnErr := s.invoke(ctx, fn)
	if fnErr != nil {
		s.finish(ctx, redisKey, Record{
			Operation: op,
			Status:    StatusFailed,
			Error:     fnErr.Error(),
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		})
		return nil, fnErr
	}

	serialized, err := json.Marshal(result)
	if err != nil {
		s.finish(ctx, redisKey, Record{
			Operation: op,
			Status:    StatusFailed,
			Error:     err.Error(),
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		})
		return nil, fmt.Errorf("ошибка сериализации результата операции %s: %w", op, err)
	}

	s.finish(ctx, redisKey, Record{
		Operation: op,
		Status:    StatusCompleted,
		Result:    serialized,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})

	return serialized, nil
}

// Get возвращает запись идемпотентности по ключу или nil, если её нет.
func (s *Service) Get(ctx context.Context, key string) (*Record, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: redis get: %v", domain.ErrExternalService, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации записи идемпотентности: %w", err)
	}
	return &rec, nil
}

// invoke вызывает fn, превращая панику в ошибку, чтобы запись
// гарантированно перешла в FAILED, а не зависла в IN_PROGRESS.
func (s *Service) invoke(ctx context.Context, fn func(ctx context.Context) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: паника в операции: %v", domain.ErrFatalInternal, r)
		}
	}()
	return fn(ctx)
}

// get читает существующую запись.
func (s *Service) get(ctx context.Context, redisKey string) (*Record, error) {
	data, err := s.rdb.Get(ctx, redisKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			// Запись истекла между SETNX и GET — крайне редкое окно,
			// трактуем как конкурентное выполнение.
			return nil, domain.ErrConcurrentInProgress
		}
		return nil, fmt.Errorf("%w: redis get: %v", domain.ErrExternalService, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации записи идемпотентности: %w", err)
	}
	return &rec, nil
}

// finish записывает терминальный статус. Ошибка записи логируется,
// но не пробрасывается: результат fn важнее судьбы кэша.
func (s *Service) finish(ctx context.Context, redisKey string, rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", redisKey).Msg("Ошибка сериализации записи идемпотентности")
		return
	}
	if err := s.rdb.Set(ctx, redisKey, payload, s.ttl).Err(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", redisKey).Msg("Ошибка записи статуса идемпотентности")
	}
}
