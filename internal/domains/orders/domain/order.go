package domain

import (
	"slices"
	"strings"
	"time"
)

// Source identifies who requested a status change.
type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// PauseReasonManualOverride is recorded when staff take over an order's status.
const PauseReasonManualOverride = "manual override"

// Order models one customer order tracked through fulfillment.
type Order struct {
	ID                  int64
	Number              string
	Status              Status
	StatusEnteredAt     time.Time
	AutoAdvanceEligible bool
	PauseReason         string
	Version             int64
	Stations            []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewOrder validates and constructs a freshly received order.
func NewOrder(id int64, number string, stations []string, now time.Time) (*Order, error) {
	order := &Order{
		ID:                  id,
		Number:              strings.TrimSpace(number),
		Status:              StatusReceived,
		StatusEnteredAt:     now,
		AutoAdvanceEligible: true,
		Version:             1,
		Stations:            slices.Clone(stations),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// Validate enforces invariants on the aggregate.
func (o *Order) Validate() error {
	if o.Number == "" {
		return ErrInvalidNumber
	}
	if !o.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// Clone returns a deep copy.
func (o Order) Clone() Order {
	o.Stations = slices.Clone(o.Stations)
	return o
}

// Equal reports whether two records carry identical state.
func (o Order) Equal(other Order) bool {
	return o.ID == other.ID &&
		o.Number == other.Number &&
		o.Status == other.Status &&
		o.StatusEnteredAt.Equal(other.StatusEnteredAt) &&
		o.AutoAdvanceEligible == other.AutoAdvanceEligible &&
		o.PauseReason == other.PauseReason &&
		o.Version == other.Version &&
		slices.Equal(o.Stations, other.Stations)
}

// CanAutoAdvance reports whether the order is a candidate for unattended progression.
func (o Order) CanAutoAdvance() bool {
	return o.AutoAdvanceEligible && !o.Status.Terminal()
}

// Advance moves the order one step forward along the lifecycle on behalf of the
// auto-advance engine.
func (o *Order) Advance(target Status, now time.Time) error {
	if !o.AutoAdvanceEligible {
		return ErrNotEligible
	}
	next, ok := o.Status.Next()
	if !ok || next != target {
		return ErrInvalidTransition
	}
	o.enter(target, now)
	return nil
}

// Override applies a human status change. Auto-advance is disabled afterwards.
func (o *Order) Override(target Status, now time.Time) error {
	if !target.Valid() {
		return ErrInvalidStatus
	}
	if o.Status.Terminal() {
		return ErrInvalidTransition
	}
	o.enter(target, now)
	o.AutoAdvanceEligible = false
	o.PauseReason = PauseReasonManualOverride
	return nil
}

// Transition dispatches to Advance or Override depending on the requesting source.
func (o *Order) Transition(target Status, source Source, now time.Time) error {
	if source == SourceManual {
		return o.Override(target, now)
	}
	return o.Advance(target, now)
}

// enter records the new status and bumps the version. StatusEnteredAt never moves
// backward even when the caller's clock lags.
func (o *Order) enter(target Status, now time.Time) {
	if now.Before(o.StatusEnteredAt) {
		now = o.StatusEnteredAt
	}
	o.Status = target
	o.StatusEnteredAt = now
	o.Version++
	o.UpdatedAt = now
}
