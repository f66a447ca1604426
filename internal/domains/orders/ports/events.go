package ports

import (
	"context"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

// EventPublisher broadcasts order changes to realtime subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(ctx context.Context, event domain.Event) error

func (f EventPublisherFunc) Publish(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// EventRelay is the local fan-out fed by a cross-replica listener. DisconnectAll
// drops every subscriber so clients reconnect and resync after events were lost.
type EventRelay interface {
	EventPublisher
	DisconnectAll() int
}
