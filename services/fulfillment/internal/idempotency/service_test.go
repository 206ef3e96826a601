// Package idempotency содержит unit тесты сервиса идемпотентности.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// setupService поднимает miniredis и сервис идемпотентности поверх него.
func setupService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewService(rdb, 7*24*time.Hour), mr
}

func TestExecuteOnce_FirstCall(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	calls := 0
	result, err := svc.ExecuteOnce(ctx, "order:O1:payment-verification", "verify-payment", func(ctx context.Context) (any, error) {
		calls++
		return map[string]any{"paymentId": "pi_123", "amount": 3998}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.JSONEq(t, `{"paymentId":"pi_123","amount":3998}`, string(result))
}

func TestExecuteOnce_CachedReplay(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	calls := 0
	fn := func(ctx context.Context) (any, error) {
		calls++
		return "first-result", nil
	}

	first, err := svc.ExecuteOnce(ctx, "key-replay", "op", fn)
	require.NoError(t, err)

	// Повторный вызов не исполняет fn и возвращает тот же результат
	second, err := svc.ExecuteOnce(ctx, "key-replay", "op", fn)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, string(first), string(second))
}

func TestExecuteOnce_ConcurrentInProgress(t *testing.T) {
	svc, mr := setupService(t)
	ctx := context.Background()

	// Имитируем зависшую конкурентную операцию: запись IN_PROGRESS уже есть
	rec, err := json.Marshal(Record{
		Operation: "op",
		Status:    StatusInProgress,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mr.Set("idem:key-busy", string(rec)))

	_, err = svc.ExecuteOnce(ctx, "key-busy", "op", func(ctx context.Context) (any, error) {
		t.Fatal("fn не должна вызываться при IN_PROGRESS")
		return nil, nil
	})

	assert.ErrorIs(t, err, domain.ErrConcurrentInProgress)
}

func TestExecuteOnce_FailedRetryable(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	// Первая попытка падает
	attempt := 0
	_, err := svc.ExecuteOnce(ctx, "key-retry", "op", func(ctx context.Context) (any, error) {
		attempt++
		return nil, errors.New("временный сбой")
	})
	require.Error(t, err)

	// Вторая попытка по тому же ключу выполняется заново и успешна
	result, err := svc.ExecuteOnce(ctx, "key-retry", "op", func(ctx context.Context) (any, error) {
		attempt++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
	assert.JSONEq(t, `"ok"`, string(result))
}

func TestExecuteOnce_PanicMarksFailed(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.ExecuteOnce(ctx, "key-panic", "op", func(ctx context.Context) (any, error) {
		panic("что-то пошло не так")
	})
	require.ErrorIs(t, err, domain.ErrFatalInternal)

	// Ключ не завис в IN_PROGRESS — повторная попытка проходит
	result, err := svc.ExecuteOnce(ctx, "key-panic", "op", func(ctx context.Context) (any, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"recovered"`, string(result))
}

func TestExecuteOnce_ConcurrentCallers(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	// N конкурентных вызовов с одним ключом: fn выполняется ровно один раз,
	// остальные видят кэш или ErrConcurrentInProgress.
	var mu sync.Mutex
	calls := 0

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.ExecuteOnce(ctx, "key-race", "op", func(ctx context.Context) (any, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				return "winner", nil
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls, "fn должна выполниться ровно один раз")
	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrConcurrentInProgress)
		}
	}
}

func TestGet_MissingKey(t *testing.T) {
	svc, _ := setupService(t)

	rec, err := svc.Get(context.Background(), "no-such-key")

	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestExecuteOnce_TTLFloor(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// TTL меньше суток поднимается до минимума
	svc := NewService(rdb, time.Hour)

	_, err := svc.ExecuteOnce(context.Background(), "key-ttl", "op", func(ctx context.Context) (any, error) {
		return "x", nil
	})
	require.NoError(t, err)

	ttl := mr.TTL("idem:key-ttl")
	assert.GreaterOrEqual(t, ttl, 23*time.Hour)
}
