package ports

import (
	"context"
	"time"

	ordertypes "github.com/Apurer/order-autoadvance/internal/domains/orders/application/types"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

// Service exposes order use cases to adapters.
type Service interface {
	PlaceOrder(ctx context.Context, input ordertypes.PlaceOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListActive(ctx context.Context) ([]*domain.Order, error)
	UpdateStatus(ctx context.Context, input ordertypes.UpdateStatusInput) (*domain.Order, error)
	RemoveOrder(ctx context.Context, id int64) error
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}
