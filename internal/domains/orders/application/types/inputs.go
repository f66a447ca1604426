package types

import "github.com/Apurer/order-autoadvance/internal/domains/orders/domain"

// PlaceOrderInput captures a new order entering the kitchen queue.
type PlaceOrderInput struct {
	Number   string
	Stations []string
}

// UpdateStatusInput is a status change guarded by a version precondition.
type UpdateStatusInput struct {
	ID              int64
	Status          string
	ExpectedVersion int64
	Source          domain.Source
	IdempotencyKey  string
}
