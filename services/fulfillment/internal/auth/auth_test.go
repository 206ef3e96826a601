// Package auth содержит unit тесты аутентификации администратора.
package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"example.com/fulfillment/pkg/config"
	"example.com/fulfillment/services/fulfillment/internal/domain"
)

const testPassword = "correct-horse-battery"

func setupAuth(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := config.AdminConfig{
		Username:     "admin",
		PasswordHash: string(hash),
		JWTSecret:    "jwt-test-secret",
		SessionTTL:   time.Hour,
	}
	return NewService(cfg, rdb), mr
}

func TestLogin_Success(t *testing.T) {
	svc, _ := setupAuth(t)
	ctx := context.Background()

	token, err := svc.Login(ctx, "admin", testPassword)

	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _ := setupAuth(t)

	_, err := svc.Login(context.Background(), "admin", "wrong")

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestLogin_UnknownUser(t *testing.T) {
	svc, _ := setupAuth(t)

	_, err := svc.Login(context.Background(), "root", testPassword)

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerify_RevokedSession(t *testing.T) {
	svc, _ := setupAuth(t)
	ctx := context.Background()

	token, err := svc.Login(ctx, "admin", testPassword)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, token))

	_, err = svc.Verify(ctx, token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerify_ExpiredSession(t *testing.T) {
	svc, mr := setupAuth(t)
	ctx := context.Background()

	token, err := svc.Login(ctx, "admin", testPassword)
	require.NoError(t, err)

	// Сессия истекает в Redis раньше, чем JWT
	mr.FastForward(2 * time.Hour)

	_, err = svc.Verify(ctx, token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerify_GarbageToken(t *testing.T) {
	svc, _ := setupAuth(t)

	_, err := svc.Verify(context.Background(), "not-a-jwt")

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := setupAuth(t)
	ctx := context.Background()

	router := gin.New()
	router.GET("/admin/ping", Middleware(svc), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(ContextKeyUsername)})
	})

	t.Run("без токена", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("с валидным токеном", func(t *testing.T) {
		token, err := svc.Login(ctx, "admin", testPassword)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "admin")
	})
}
