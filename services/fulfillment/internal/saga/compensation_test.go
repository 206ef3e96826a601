package saga

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"example.com/fulfillment/services/fulfillment/internal/domain"
	"example.com/fulfillment/services/fulfillment/internal/payment"
	"example.com/fulfillment/services/fulfillment/internal/repository"
	"example.com/fulfillment/services/fulfillment/internal/testutil"
)

func newTestCompensator() (*Compensator, *testutil.MockOrderRepository, *mockEngine, *mockPayments) {
	orders := new(testutil.MockOrderRepository)
	engine := new(mockEngine)
	payments := new(mockPayments)
	return NewCompensator(orders, engine, payments, &passthroughIdem{}), orders, engine, payments
}

func TestCompensate_PaymentConfirmed_RefundReleaseCancel(t *testing.T) {
	ctx := context.Background()
	comp, orders, engine, payments := newTestCompensator()

	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusPaymentConfirmed), nil)
	payments.On("Refund", mock.Anything, "pi_123", payment.RefundReasonRequestedByCustomer).Return(&payment.Refund{
		ID: "re_1", IntentID: "pi_123", Amount: 3998, Status: "succeeded",
	}, nil)
	engine.On("Release", mock.Anything, "P1", "W1", int32(2)).Return(nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusPaymentConfirmed, domain.OrderStatusCancelled,
		mock.MatchedBy(func(upd *repository.OrderUpdate) bool {
			return upd != nil &&
				upd.PaymentStatus != nil && *upd.PaymentStatus == domain.PaymentStatusRefunded &&
				upd.Metadata != nil && upd.Metadata.CancelReason == "SAGA_FAILED_ALLOCATE_SHIPPING"
		}), mock.Anything).Return(nil)

	result := comp.Compensate(ctx, "O1", StepAllocateShipping, assert.AnError)

	assert.True(t, result.Success)
	// Refund идёт первым: при падении процесса резервы ещё на месте
	assert.Equal(t, []string{
		CompensationPaymentRefunded,
		CompensationInventoryReleased,
		CompensationOrderCancelled,
	}, result.CompensatedSteps)
	orders.AssertExpectations(t)
	payments.AssertExpectations(t)
}

func TestCompensate_RefundFailureDoesNotBlockRelease(t *testing.T) {
	ctx := context.Background()
	comp, orders, engine, payments := newTestCompensator()

	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusPaymentConfirmed), nil)
	payments.On("Refund", mock.Anything, "pi_123", mock.Anything).Return(nil, assert.AnError)
	engine.On("Release", mock.Anything, "P1", "W1", int32(2)).Return(nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusPaymentConfirmed, domain.OrderStatusCancelled,
		mock.MatchedBy(func(upd *repository.OrderUpdate) bool {
			// Без refund paymentStatus не трогаем
			return upd != nil && upd.PaymentStatus == nil
		}), mock.Anything).Return(nil)

	result := comp.Compensate(ctx, "O1", StepAllocateShipping, assert.AnError)

	assert.False(t, result.Success)
	assert.Equal(t, []string{CompensationInventoryReleased, CompensationOrderCancelled}, result.CompensatedSteps)
	engine.AssertExpectations(t)
	orders.AssertExpectations(t)
}

func TestCompensate_InventoryReserved_NoRefund(t *testing.T) {
	ctx := context.Background()
	comp, orders, engine, payments := newTestCompensator()

	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusInventoryReserved), nil)
	engine.On("Release", mock.Anything, "P1", "W1", int32(2)).Return(nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusInventoryReserved, domain.OrderStatusCancelled, mock.Anything, mock.Anything).Return(nil)

	result := comp.Compensate(ctx, "O1", StepVerifyPayment, domain.ErrPaymentVerificationFailed)

	assert.True(t, result.Success)
	assert.Equal(t, []string{CompensationInventoryReleased, CompensationOrderCancelled}, result.CompensatedSteps)
	payments.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

func TestCompensate_Pending_OnlyCancel(t *testing.T) {
	ctx := context.Background()
	comp, orders, engine, payments := newTestCompensator()

	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusPending), nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusPending, domain.OrderStatusCancelled, mock.Anything, mock.Anything).Return(nil)

	result := comp.Compensate(ctx, "O1", StepReserveInventory, domain.ErrInsufficientInventory)

	assert.True(t, result.Success)
	assert.Equal(t, []string{CompensationOrderCancelled}, result.CompensatedSteps)
	engine.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	payments.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

func TestCompensate_AlreadyCancelled_NoOp(t *testing.T) {
	ctx := context.Background()
	comp, orders, engine, payments := newTestCompensator()

	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusCancelled), nil)

	result := comp.Compensate(ctx, "O1", StepVerifyPayment, assert.AnError)

	assert.True(t, result.Success)
	assert.Empty(t, result.CompensatedSteps)
	engine.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	payments.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
	orders.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCompensate_PartialReleaseFailure(t *testing.T) {
	ctx := context.Background()
	comp, orders, engine, _ := newTestCompensator()

	order := testOrder(domain.OrderStatusInventoryReserved)
	order.Items = append(order.Items, domain.OrderItem{
		ID: "I2", OrderID: "O1", ProductID: "P2", ProductName: "Мышь",
		Quantity: 1, PricePerUnit: 500, TotalPrice: 500, WarehouseID: ptr("W2"),
	})

	orders.On("GetByID", mock.Anything, "O1").Return(order, nil)
	engine.On("Release", mock.Anything, "P1", "W1", int32(2)).Return(assert.AnError)
	// Сбой по первой позиции не мешает второй
	engine.On("Release", mock.Anything, "P2", "W2", int32(1)).Return(nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusInventoryReserved, domain.OrderStatusCancelled, mock.Anything, mock.Anything).Return(nil)

	result := comp.Compensate(ctx, "O1", StepVerifyPayment, assert.AnError)

	assert.False(t, result.Success)
	assert.Contains(t, result.CompensatedSteps, CompensationOrderCancelled)
	assert.NotContains(t, result.CompensatedSteps, CompensationInventoryReleased)
	engine.AssertExpectations(t)
}

func TestCompensate_CancelRaceWithReaper(t *testing.T) {
	ctx := context.Background()
	comp, orders, engine, _ := newTestCompensator()

	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusInventoryReserved), nil).Once()
	engine.On("Release", mock.Anything, "P1", "W1", int32(2)).Return(nil)

	// Отмена проигрывает гонку: заказ уже отменил reaper
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusInventoryReserved, domain.OrderStatusCancelled, mock.Anything, mock.Anything).Return(domain.ErrConcurrencyConflict)
	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusCancelled), nil).Once()

	result := comp.Compensate(ctx, "O1", StepVerifyPayment, assert.AnError)

	assert.True(t, result.Success)
	assert.Contains(t, result.CompensatedSteps, CompensationOrderCancelled)
}

func TestCompensate_CancelReasonCarriesErrorKind(t *testing.T) {
	ctx := context.Background()
	comp, orders, _, _ := newTestCompensator()

	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusPending), nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusPending, domain.OrderStatusCancelled,
		mock.MatchedBy(func(upd *repository.OrderUpdate) bool {
			return upd.Metadata != nil &&
				upd.Metadata.CancelReason == "SAGA_FAILED_RESERVE_INVENTORY:InsufficientInventory"
		}), mock.Anything).Return(nil)

	cause := fmt.Errorf("резервирование: %w", domain.ErrInsufficientInventory)
	result := comp.Compensate(ctx, "O1", StepReserveInventory, cause)

	assert.True(t, result.Success)
	orders.AssertExpectations(t)
}

func TestCompensate_CancelReasonPaymentKind(t *testing.T) {
	ctx := context.Background()
	comp, orders, engine, _ := newTestCompensator()

	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusInventoryReserved), nil)
	engine.On("Release", mock.Anything, "P1", "W1", int32(2)).Return(nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusInventoryReserved, domain.OrderStatusCancelled,
		mock.MatchedBy(func(upd *repository.OrderUpdate) bool {
			return upd.Metadata != nil &&
				upd.Metadata.CancelReason == "SAGA_FAILED_PAYMENT_VERIFICATION:PaymentVerificationFailed"
		}), mock.Anything).Return(nil)

	result := comp.Compensate(ctx, "O1", StepVerifyPayment, domain.ErrPaymentVerificationFailed)

	assert.True(t, result.Success)
	orders.AssertExpectations(t)
}

func TestCancel_PersistsOperatorReason(t *testing.T) {
	ctx := context.Background()
	comp, orders, _, _ := newTestCompensator()

	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusPending), nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusPending, domain.OrderStatusCancelled,
		mock.MatchedBy(func(upd *repository.OrderUpdate) bool {
			return upd.Metadata != nil && upd.Metadata.CancelReason == "fraud"
		}), mock.Anything).Return(nil)

	result := comp.Cancel(ctx, "O1", "fraud")

	assert.True(t, result.Success)
	assert.Equal(t, []string{CompensationOrderCancelled}, result.CompensatedSteps)
	orders.AssertExpectations(t)
}

func TestCancel_EmptyReasonDefaultsToAdminCancelled(t *testing.T) {
	ctx := context.Background()
	comp, orders, _, _ := newTestCompensator()

	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusPending), nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusPending, domain.OrderStatusCancelled,
		mock.MatchedBy(func(upd *repository.OrderUpdate) bool {
			return upd.Metadata != nil && upd.Metadata.CancelReason == CancelReasonAdmin
		}), mock.Anything).Return(nil)

	result := comp.Cancel(ctx, "O1", "")

	assert.True(t, result.Success)
	orders.AssertExpectations(t)
}

func TestCompensate_IdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	orders := new(testutil.MockOrderRepository)
	engine := new(mockEngine)
	payments := new(mockPayments)
	idem := &passthroughIdem{}
	comp := NewCompensator(orders, engine, payments, idem)

	orders.On("GetByID", mock.Anything, "O1").Return(testOrder(domain.OrderStatusPaymentConfirmed), nil)
	payments.On("Refund", mock.Anything, "pi_123", payment.RefundReasonRequestedByCustomer).Return(&payment.Refund{
		ID: "re_1", IntentID: "pi_123", Amount: 3998, Status: "succeeded",
	}, nil)
	engine.On("Release", mock.Anything, "P1", "W1", int32(2)).Return(nil)
	orders.On("TransitionStatus", mock.Anything, "O1", domain.OrderStatusPaymentConfirmed, domain.OrderStatusCancelled,
		mock.Anything, mock.Anything).Return(nil)

	comp.Compensate(ctx, "O1", StepAllocateShipping, assert.AnError)

	// Refund и возврат резерва защищены ключами payment:... и inventory:...
	assert.Equal(t, []string{
		"payment:O1:pi_123",
		"inventory:O1:P1:release",
	}, idem.keys)
}
