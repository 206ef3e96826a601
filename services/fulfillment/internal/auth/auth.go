// Package auth реализует аутентификацию администратора: проверку пароля
// по bcrypt-хэшу, выпуск HS256 JWT и сессии в Redis.
//
// Сессия хранится в Redis под ключом session:{jti}: токен действителен
// только пока жива его сессия, что даёт мгновенный отзыв при logout.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"example.com/fulfillment/pkg/config"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// sessionKeyPrefix — префикс ключей сессий в Redis.
const sessionKeyPrefix = "session:"

// Claims — полезная нагрузка админского JWT.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service — сервис аутентификации администратора.
type Service struct {
	cfg config.AdminConfig
	rdb *redis.Client
}

// NewService создаёт сервис аутентификации.
func NewService(cfg config.AdminConfig, rdb *redis.Client) *Service {
	return &Service{cfg: cfg, rdb: rdb}
}

// Login проверяет учётные данные и выпускает JWT с Redis-сессией.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if username != s.cfg.Username {
		return "", fmt.Errorf("%w: неверные учётные данные", domain.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("%w: неверные учётные данные", domain.ErrUnauthorized)
	}

	now := time.Now()
	jti := uuid.NewString()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.SessionTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}

	if err := s.rdb.Set(ctx, sessionKeyPrefix+jti, username, s.cfg.SessionTTL).Err(); err != nil {
		return "", fmt.Errorf("ошибка создания сессии: %w", err)
	}

	logger.Ctx(ctx).Info().Str("username", username).Msg("Администратор вошёл в систему")
	return token, nil
}

// Verify проверяет подпись токена и наличие живой сессии.
func (s *Service) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: невалидный токен", domain.ErrUnauthorized)
	}

	exists, err := s.rdb.Exists(ctx, sessionKeyPrefix+claims.ID).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки сессии: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: сессия отозвана или истекла", domain.ErrUnauthorized)
	}

	return claims, nil
}

// Logout отзывает сессию токена. Отзыв несуществующей сессии — no-op.
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return fmt.Errorf("%w: невалидный токен", domain.ErrUnauthorized)
	}

	if err := s.rdb.Del(ctx, sessionKeyPrefix+claims.ID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("ошибка отзыва сессии: %w", err)
	}
	return nil
}

// HashPassword строит bcrypt-хэш для ADMIN_PASSWORD_HASH.
// Используется утилитами провижининга, не рантаймом.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
