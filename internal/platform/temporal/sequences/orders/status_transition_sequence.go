package orders

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	ordertypes "github.com/Apurer/order-autoadvance/internal/domains/orders/application/types"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	orderactivities "github.com/Apurer/order-autoadvance/internal/platform/temporal/activities/orders"
)

// RunStatusTransitionSequence executes the activity that applies a status transition.
// Store outages are retried; domain rejections end the sequence immediately.
func RunStatusTransitionSequence(ctx workflow.Context, input ordertypes.UpdateStatusInput) (*domain.Order, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("status transition sequence started", "orderId", input.ID, "status", input.Status)
	options := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        10 * time.Second,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: orderactivities.NonRetryableErrorTypes,
		},
	}

	var order domain.Order
	err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, options), orderactivities.ApplyStatusTransitionActivityName, input).Get(ctx, &order)
	if err != nil {
		logger.Warn("status transition sequence failed", "orderId", input.ID, "error", err)
		return nil, err
	}
	logger.Info("status transition sequence applied", "orderId", order.ID, "version", order.Version)
	return &order, nil
}
