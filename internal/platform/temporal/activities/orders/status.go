package orders

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/http/mapper"
	ordersapp "github.com/Apurer/order-autoadvance/internal/domains/orders/application"
	ordertypes "github.com/Apurer/order-autoadvance/internal/domains/orders/application/types"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	ordersports "github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

const (
	// ApplyStatusTransitionActivityName applies one conditional status write.
	ApplyStatusTransitionActivityName = "orders.activities.ApplyStatusTransition"
)

// Application error types surfaced to workflow callers. Each is non-retryable.
const (
	ErrTypeVersionConflict   = "VersionConflict"
	ErrTypeNotFound          = "NotFound"
	ErrTypeInvalidTransition = "InvalidTransition"
	ErrTypeInvalidInput      = "InvalidInput"
	ErrTypeNotEligible       = "NotEligible"
)

// NonRetryableErrorTypes lists the types a retry policy must not retry.
var NonRetryableErrorTypes = []string{
	ErrTypeVersionConflict,
	ErrTypeNotFound,
	ErrTypeInvalidTransition,
	ErrTypeInvalidInput,
	ErrTypeNotEligible,
}

// Activities groups activities that operate on the orders bounded context.
type Activities struct {
	service ordersports.Service
}

func NewActivities(service ordersports.Service) *Activities {
	return &Activities{service: service}
}

// ApplyStatusTransition runs the conditional update. Domain rejections become
// non-retryable application errors; conflicts carry the current order as details.
func (a *Activities) ApplyStatusTransition(ctx context.Context, input ordertypes.UpdateStatusInput) (*domain.Order, error) {
	logger := activity.GetLogger(ctx)
	if a == nil || a.service == nil {
		logger.Error("status transition activity not initialized", "orderId", input.ID)
		return nil, errors.New("status transition activity not initialized")
	}
	logger.Info("ApplyStatusTransition activity started", "orderId", input.ID, "status", input.Status, "expectedVersion", input.ExpectedVersion)
	order, err := a.service.UpdateStatus(ctx, input)
	if err != nil {
		logger.Warn("ApplyStatusTransition activity rejected", "orderId", input.ID, "error", err)
		return nil, toApplicationError(err)
	}
	logger.Info("ApplyStatusTransition activity completed", "orderId", order.ID, "version", order.Version)
	return order, nil
}

func toApplicationError(err error) error {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		if conflict.Current != nil {
			return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeVersionConflict, nil, mapper.FromDomainOrder(conflict.Current))
		}
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeVersionConflict, nil)
	case errors.Is(err, domain.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotFound, nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidTransition, nil)
	case errors.Is(err, domain.ErrNotEligible):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotEligible, nil)
	case errors.Is(err, ordersapp.ErrInvalidInput):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, nil)
	default:
		return err
	}
}
