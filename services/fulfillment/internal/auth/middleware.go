package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyUsername — ключ имени администратора в контексте gin.
const ContextKeyUsername = "admin_username"

// Middleware возвращает gin middleware, требующий валидный админский
// Bearer токен с живой сессией.
func Middleware(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "требуется авторизация"})
			return
		}

		claims, err := svc.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "невалидный или отозванный токен"})
			return
		}

		c.Set(ContextKeyUsername, claims.Username)
		c.Next()
	}
}
