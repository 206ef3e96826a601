// Package circuitbreaker предоставляет Circuit Breaker для защиты от каскадных
// сбоев при вызовах внешних HTTP API (платёжный провайдер).
//
// Состояния Circuit Breaker:
//   - Closed: нормальная работа, запросы проходят
//   - Open: сервис недоступен, запросы отклоняются мгновенно (без ожидания timeout)
//   - Half-Open: пробный период, пропускаем часть запросов для проверки восстановления
//
// Использование:
//
//	cb := circuitbreaker.New("payment-provider")
//	result, err := circuitbreaker.Execute(ctx, cb, func() (*Intent, error) {
//	    return client.GetIntent(ctx, id)
//	})
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/fulfillment/pkg/logger"
)

// ErrUnavailable возвращается, когда breaker открыт и запрос отклонён
// без обращения к внешнему сервису.
var ErrUnavailable = errors.New("внешний сервис временно недоступен (circuit breaker open)")

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // Макс. запросов в Half-Open состоянии (по умолчанию 1)
	Interval     time.Duration // Интервал сброса счётчика в Closed (по умолчанию 60s)
	Timeout      time.Duration // Время в Open до перехода в Half-Open (по умолчанию 30s)
	FailureRatio float64       // Доля ошибок для перехода в Open (по умолчанию 0.5)
	MinRequests  uint32        // Мин. запросов для расчёта ratio (по умолчанию 5)

	// IsFailure определяет, учитывать ли ошибку в статистике breaker.
	// Бизнес-ошибки (карта отклонена, интент не найден) не должны открывать
	// breaker — учитываются только инфраструктурные сбои.
	// nil — любая ошибка считается сбоем.
	IsFailure func(err error) bool
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,                // В Half-Open пропускаем 1 запрос
		Interval:     60 * time.Second, // Сбрасываем счётчик каждые 60 секунд
		Timeout:      30 * time.Second, // Через 30 секунд пробуем восстановить связь
		FailureRatio: 0.5,              // Открываем при 50% ошибок
		MinRequests:  5,                // Минимум 5 запросов для принятия решения
	}
}

// Breaker — обёртка над gobreaker с логированием смены состояний.
type Breaker struct {
	cb        *gobreaker.CircuitBreaker[any]
	name      string
	isFailure func(err error) bool
}

// New создаёт новый Circuit Breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings создаёт Circuit Breaker с пользовательскими настройками.
func NewWithSettings(name string, s Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		// Открываем если доля ошибок >= FailureRatio и было >= MinRequests запросов.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},

		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — сервис недоступен")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — сервис восстановлен")
			}
		},
	})

	return &Breaker{cb: cb, name: name, isFailure: s.IsFailure}
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}

// Do выполняет fn через Circuit Breaker.
// Если breaker открыт — возвращает ErrUnavailable без вызова fn.
// Бизнес-ошибки (по IsFailure) возвращаются вызывающему, но не засчитываются
// как сбой breaker.
func (b *Breaker) Do(ctx context.Context, fn func() (any, error)) (any, error) {
	var businessErr error

	result, cbErr := b.cb.Execute(func() (any, error) {
		res, err := fn()
		if err != nil {
			if b.isFailure == nil || b.isFailure(err) {
				return nil, err
			}
			// Бизнес-ошибка: для breaker это успех, ошибку сохраняем.
			businessErr = err
			return res, nil
		}
		return res, nil
	})

	if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		logger.Ctx(ctx).Warn().
			Str("breaker", b.name).
			Msg("Запрос отклонён Circuit Breaker")
		return nil, ErrUnavailable
	}
	if cbErr != nil {
		return nil, cbErr
	}
	if businessErr != nil {
		return result, businessErr
	}

	return result, nil
}

// Execute выполняет типизированную функцию через Circuit Breaker.
// Generic-обёртка над Breaker.Do.
func Execute[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.Do(ctx, func() (any, error) {
		return fn()
	})

	var zero T
	if res == nil {
		return zero, err
	}

	typed, ok := res.(T)
	if !ok {
		return zero, err
	}
	return typed, err
}
