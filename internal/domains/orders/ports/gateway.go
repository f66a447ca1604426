package ports

import (
	"context"
	"errors"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

// StatusUpdate is a conditional status write issued by a client of the order service.
type StatusUpdate struct {
	OrderID         int64
	Target          domain.Status
	ExpectedVersion int64
	Source          domain.Source
	// TransitionID is reused across retries as the idempotency key.
	TransitionID string
}

// OrderGateway is the remote order data service as seen by the auto-advance engine.
//
// UpdateOrderStatus errors must be classifiable with domain.Classify: a
// *domain.ConflictError for failed version preconditions, domain.ErrNotFound or
// domain.ErrInvalidTransition for permanent rejections, anything else is transient.
type OrderGateway interface {
	FetchActiveOrders(ctx context.Context) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, update StatusUpdate) (*domain.Order, error)
}

// ErrStreamUnauthorized is returned when the realtime endpoint rejects the client's
// credentials. Reconnecting will not help.
var ErrStreamUnauthorized = errors.New("realtime stream rejected credentials")

// EventStream opens realtime subscriptions to the order service.
type EventStream interface {
	Connect(ctx context.Context) (Subscription, error)
}

// Subscription is one live push-channel connection. Events is closed when the
// connection ends; Err then reports why.
type Subscription interface {
	Events() <-chan domain.Event
	Err() error
	Close() error
}
