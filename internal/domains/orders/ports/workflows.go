package ports

import (
	"context"

	ordertypes "github.com/Apurer/order-autoadvance/internal/domains/orders/application/types"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

// WorkflowOrchestrator runs status transitions, durably when a workflow engine is available.
type WorkflowOrchestrator interface {
	TransitionStatus(ctx context.Context, input ordertypes.UpdateStatusInput) (*domain.Order, error)
}
