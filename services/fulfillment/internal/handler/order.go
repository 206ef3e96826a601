package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/service"
)

// OrderHandler обрабатывает запросы к заказам.
type OrderHandler struct {
	orders OrderService
}

// NewOrderHandler создаёт handler заказов.
func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// orderItemResponse — позиция заказа в ответе API.
type orderItemResponse struct {
	ProductID    string  `json:"productId"`
	ProductName  string  `json:"productName"`
	Quantity     int32   `json:"quantity"`
	PricePerUnit int64   `json:"pricePerUnit"`
	TotalPrice   int64   `json:"totalPrice"`
	WarehouseID  *string `json:"warehouseId,omitempty"`
}

// orderResponse — заказ в ответе API.
type orderResponse struct {
	OrderID           string                 `json:"orderId"`
	CustomerID        string                 `json:"customerId"`
	Items             []orderItemResponse    `json:"items"`
	TotalAmount       int64                  `json:"totalAmount"`
	Status            domain.OrderStatus     `json:"status"`
	ShippingAddress   domain.ShippingAddress `json:"shippingAddress"`
	PaymentStatus     *domain.PaymentStatus  `json:"paymentStatus,omitempty"`
	TrackingNumber    *string                `json:"trackingNumber,omitempty"`
	Carrier           *string                `json:"carrier,omitempty"`
	EstimatedDelivery *time.Time             `json:"estimatedDelivery,omitempty"`
	Metadata          domain.OrderMetadata   `json:"metadata"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

func toOrderResponse(order *domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			Quantity:     item.Quantity,
			PricePerUnit: item.PricePerUnit,
			TotalPrice:   item.TotalPrice,
			WarehouseID:  item.WarehouseID,
		})
	}

	return orderResponse{
		OrderID:           order.ID,
		CustomerID:        order.CustomerID,
		Items:             items,
		TotalAmount:       order.TotalAmount,
		Status:            order.Status,
		ShippingAddress:   order.ShippingAddress,
		PaymentStatus:     order.PaymentStatus,
		TrackingNumber:    order.TrackingNumber,
		Carrier:           order.Carrier,
		EstimatedDelivery: order.EstimatedDelivery,
		Metadata:          order.Metadata,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

// CreateOrder обрабатывает POST /api/v1/orders.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var input service.CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		HandleError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err), "CreateOrder")
		return
	}

	result, err := h.orders.Create(c.Request.Context(), input)
	if err != nil {
		HandleError(c, err, "CreateOrder")
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetOrder обрабатывает GET /api/v1/orders/:orderId.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		HandleError(c, err, "GetOrder")
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// ListOrders обрабатывает GET /api/v1/orders?customerId=...&status=...
// с пагинацией offset/limit.
func (h *OrderHandler) ListOrders(c *gin.Context) {
	customerID := c.Query("customerId")
	if customerID == "" {
		HandleError(c, fmt.Errorf("%w: требуется customerId", domain.ErrValidation), "ListOrders")
		return
	}

	var status *domain.OrderStatus
	if raw := c.Query("status"); raw != "" {
		s := domain.OrderStatus(raw)
		status = &s
	}

	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	orders, total, err := h.orders.ListByCustomer(c.Request.Context(), customerID, status, offset, limit)
	if err != nil {
		HandleError(c, err, "ListOrders")
		return
	}

	responses := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		responses = append(responses, toOrderResponse(order))
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": responses,
		"total":  total,
		"offset": offset,
		"limit":  limit,
	})
}
