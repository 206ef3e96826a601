package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// AdminHandler обрабатывает админские операции: вход, выход,
// ручную отмену заказов.
type AdminHandler struct {
	auth   AuthService
	orders OrderService
}

// NewAdminHandler создаёт handler админских операций.
func NewAdminHandler(auth AuthService, orders OrderService) *AdminHandler {
	return &AdminHandler{auth: auth, orders: orders}
}

// loginRequest — запрос входа администратора.
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login обрабатывает POST /api/v1/admin/login.
func (h *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err), "Login")
		return
	}

	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		HandleError(c, err, "Login")
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Logout обрабатывает POST /api/v1/admin/logout: отзывает сессию токена.
func (h *AdminHandler) Logout(c *gin.Context) {
	token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !found || token == "" {
		HandleError(c, fmt.Errorf("%w: требуется токен", domain.ErrUnauthorized), "Logout")
		return
	}

	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		HandleError(c, err, "Logout")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// cancelRequest — тело ручной отмены. Причина опциональна:
// без неё запишется ADMIN_CANCELLED.
type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder обрабатывает POST /api/v1/admin/orders/:orderId/cancel.
// Отмена идёт через компенсацию: refund оплаченного, возврат резервов,
// перевод в CANCELLED с причиной оператора в metadata.cancelReason.
// Ответ degraded (success=false) при частичных сбоях.
func (h *AdminHandler) CancelOrder(c *gin.Context) {
	var req cancelRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err), "CancelOrder")
			return
		}
	}

	result, err := h.orders.AdminCancel(c.Request.Context(), c.Param("orderId"), req.Reason)
	if err != nil {
		HandleError(c, err, "CancelOrder")
		return
	}

	c.JSON(http.StatusOK, result)
}
