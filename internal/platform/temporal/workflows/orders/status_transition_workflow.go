package orders

import (
	"go.temporal.io/sdk/workflow"

	ordertypes "github.com/Apurer/order-autoadvance/internal/domains/orders/application/types"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	ordersequences "github.com/Apurer/order-autoadvance/internal/platform/temporal/sequences/orders"
)

const (
	// StatusTransitionWorkflowName is the public identifier for registering the workflow.
	StatusTransitionWorkflowName = "orders.workflows.StatusTransition"
	// StatusTransitionTaskQueue is the queue consumed by the order worker.
	StatusTransitionTaskQueue = "ORDER_STATUS_TRANSITION"
)

// StatusTransitionWorkflowInput carries one conditional status change.
type StatusTransitionWorkflowInput struct {
	Command ordertypes.UpdateStatusInput
	TraceID string
}

// StatusTransitionWorkflow applies a status transition durably.
func StatusTransitionWorkflow(ctx workflow.Context, input StatusTransitionWorkflowInput) (*domain.Order, error) {
	logger := workflow.GetLogger(ctx)
	orderID := input.Command.ID
	logger.Info("StatusTransitionWorkflow started", withTraceID(input.TraceID, "orderId", orderID, "source", string(input.Command.Source))...)
	order, err := ordersequences.RunStatusTransitionSequence(ctx, input.Command)
	if err != nil {
		logger.Warn("StatusTransitionWorkflow failed", withTraceID(input.TraceID, "orderId", orderID, "error", err)...)
		return nil, err
	}
	logger.Info("StatusTransitionWorkflow completed", withTraceID(input.TraceID, "orderId", order.ID, "status", string(order.Status))...)
	return order, nil
}

func withTraceID(traceID string, keyvals ...interface{}) []interface{} {
	if traceID == "" {
		return keyvals
	}
	return append(keyvals, "traceId", traceID)
}
