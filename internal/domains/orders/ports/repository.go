package ports

import (
	"context"
	"time"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

// Repository persists orders for the order service.
type Repository interface {
	Create(ctx context.Context, order *domain.Order) (*domain.Order, error)
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	ListActive(ctx context.Context) ([]*domain.Order, error)
	// UpdateIfVersion stores order only when the persisted version still equals
	// expectedVersion. A mismatch returns a *domain.ConflictError.
	UpdateIfVersion(ctx context.Context, order *domain.Order, expectedVersion int64) (*domain.Order, error)
	Delete(ctx context.Context, id int64) error
	// PurgeTerminal deletes completed and cancelled orders last updated before cutoff.
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}
