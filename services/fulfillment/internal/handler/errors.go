package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/fulfillment/pkg/circuitbreaker"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/services/fulfillment/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleError преобразует доменную ошибку в HTTP ответ.
// Используется всеми handlers для единообразной обработки ошибок.
func HandleError(c *gin.Context, err error, method string) {
	log := logger.FromContext(c.Request.Context())

	var httpStatus int
	var errorCode string

	switch {
	case errors.Is(err, domain.ErrValidation):
		httpStatus = http.StatusBadRequest
		errorCode = "invalid_argument"
	case errors.Is(err, domain.ErrInsufficientInventory):
		httpStatus = http.StatusBadRequest
		errorCode = "insufficient_inventory"
	case errors.Is(err, domain.ErrSignatureInvalid):
		httpStatus = http.StatusBadRequest
		errorCode = "invalid_signature"
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrInventoryNotFound):
		httpStatus = http.StatusNotFound
		errorCode = "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		httpStatus = http.StatusUnauthorized
		errorCode = "unauthenticated"
	case errors.Is(err, domain.ErrDuplicateOperation),
		errors.Is(err, domain.ErrConcurrencyConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOrderCannotCancel):
		httpStatus = http.StatusConflict
		errorCode = "conflict"
	case errors.Is(err, domain.ErrConcurrentInProgress):
		httpStatus = http.StatusConflict
		errorCode = "operation_in_progress"
	case errors.Is(err, domain.ErrExternalService),
		errors.Is(err, circuitbreaker.ErrUnavailable):
		httpStatus = http.StatusServiceUnavailable
		errorCode = "service_unavailable"
	default:
		httpStatus = http.StatusInternalServerError
		errorCode = "internal_error"
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
	}

	if httpStatus != http.StatusInternalServerError {
		log.Warn().Err(err).Str("method", method).Int("status", httpStatus).Msg("Ошибка запроса")
	}

	c.JSON(httpStatus, ErrorResponse{
		Error:   errorCode,
		Message: err.Error(),
	})
}
