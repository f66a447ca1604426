package mapper

import (
	"fmt"
	"slices"
	"time"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

// Order is the wire representation shared by the HTTP API, the realtime stream and
// the engine's clients.
type Order struct {
	ID                  int64     `json:"id"`
	Number              string    `json:"number"`
	Status              string    `json:"status"`
	StatusEnteredAt     time.Time `json:"statusEnteredAt"`
	AutoAdvanceEligible bool      `json:"autoAdvanceEligible"`
	PauseReason         string    `json:"pauseReason,omitempty"`
	Version             int64     `json:"version"`
	Stations            []string  `json:"stations,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// OrderList wraps the active-orders response.
type OrderList struct {
	Orders []Order `json:"orders"`
}

// PlaceOrderRequest is the body of POST /v1/orders.
type PlaceOrderRequest struct {
	Number   string   `json:"number" binding:"required"`
	Stations []string `json:"stations,omitempty"`
}

// StatusUpdateRequest is the body of PATCH /v1/orders/:orderId/status.
type StatusUpdateRequest struct {
	Status          string `json:"status" binding:"required"`
	ExpectedVersion int64  `json:"expectedVersion" binding:"required,min=1"`
	Source          string `json:"source,omitempty"`
}

// Event is one realtime frame.
type Event struct {
	Type    string `json:"type"`
	Order   *Order `json:"order,omitempty"`
	OrderID int64  `json:"orderId,omitempty"`
}

// FromDomainOrder converts a domain order to the transport representation.
func FromDomainOrder(order *domain.Order) Order {
	if order == nil {
		return Order{}
	}
	return Order{
		ID:                  order.ID,
		Number:              order.Number,
		Status:              string(order.Status),
		StatusEnteredAt:     order.StatusEnteredAt,
		AutoAdvanceEligible: order.AutoAdvanceEligible,
		PauseReason:         order.PauseReason,
		Version:             order.Version,
		Stations:            slices.Clone(order.Stations),
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}
}

// FromDomainOrders converts a list for the active-orders response.
func FromDomainOrders(orders []*domain.Order) OrderList {
	list := OrderList{Orders: make([]Order, 0, len(orders))}
	for _, order := range orders {
		list.Orders = append(list.Orders, FromDomainOrder(order))
	}
	return list
}

// ToDomainOrder converts a transport order, canonicalising legacy status aliases.
func ToDomainOrder(order Order) (domain.Order, error) {
	status, err := domain.ParseStatus(order.Status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %d: %w", order.ID, err)
	}
	return domain.Order{
		ID:                  order.ID,
		Number:              order.Number,
		Status:              status,
		StatusEnteredAt:     order.StatusEnteredAt,
		AutoAdvanceEligible: order.AutoAdvanceEligible,
		PauseReason:         order.PauseReason,
		Version:             order.Version,
		Stations:            slices.Clone(order.Stations),
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}, nil
}

// ToDomainSource parses the optional source field, defaulting to auto.
func ToDomainSource(raw string) (domain.Source, error) {
	switch domain.Source(raw) {
	case "", domain.SourceAuto:
		return domain.SourceAuto, nil
	case domain.SourceManual:
		return domain.SourceManual, nil
	default:
		return "", fmt.Errorf("unknown transition source %q", raw)
	}
}

// FromDomainEvent converts a domain event into a realtime frame.
func FromDomainEvent(event domain.Event) Event {
	frame := Event{Type: string(event.Type), OrderID: event.OrderID}
	if event.Order != nil {
		order := FromDomainOrder(event.Order)
		frame.Order = &order
		frame.OrderID = order.ID
	}
	return frame
}

// ToDomainEvent validates and converts a realtime frame.
func ToDomainEvent(frame Event) (domain.Event, error) {
	switch domain.EventType(frame.Type) {
	case domain.EventOrderUpdated:
		if frame.Order == nil {
			return domain.Event{}, fmt.Errorf("%s frame without order", frame.Type)
		}
		order, err := ToDomainOrder(*frame.Order)
		if err != nil {
			return domain.Event{}, err
		}
		return domain.UpdatedEvent(order), nil
	case domain.EventOrderRemoved:
		id := frame.OrderID
		if id == 0 && frame.Order != nil {
			id = frame.Order.ID
		}
		if id == 0 {
			return domain.Event{}, fmt.Errorf("%s frame without order id", frame.Type)
		}
		return domain.RemovedEvent(id), nil
	default:
		return domain.Event{}, fmt.Errorf("unknown event type %q", frame.Type)
	}
}
