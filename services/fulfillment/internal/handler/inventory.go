package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// InventoryHandler обрабатывает запросы к остаткам товаров.
type InventoryHandler struct {
	availability AvailabilityProvider
}

// NewInventoryHandler создаёт handler остатков.
func NewInventoryHandler(availability AvailabilityProvider) *InventoryHandler {
	return &InventoryHandler{availability: availability}
}

// GetAvailability обрабатывает GET /api/v1/inventory/:productId.
// Возвращает агрегированные остатки по всем складам.
func (h *InventoryHandler) GetAvailability(c *gin.Context) {
	availability, err := h.availability.Availability(c.Request.Context(), c.Param("productId"))
	if err != nil {
		HandleError(c, err, "GetAvailability")
		return
	}

	c.JSON(http.StatusOK, availability)
}
