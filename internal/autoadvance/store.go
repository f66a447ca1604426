package autoadvance

import (
	"slices"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

// UpsertResult reports what Store.Upsert did with an incoming record.
type UpsertResult int

const (
	Applied UpsertResult = iota
	Unchanged
	Stale
)

func (r UpsertResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Unchanged:
		return "unchanged"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// ChangeKind distinguishes store notifications.
type ChangeKind int

const (
	ChangeUpserted ChangeKind = iota
	ChangeRemoved
)

// Change describes one committed store mutation. Order is the zero value for removals.
type Change struct {
	Kind       ChangeKind
	OrderID    int64
	Order      domain.Order
	Optimistic bool
}

// Listener observes store mutations. Listeners run synchronously on the engine loop
// and must not block.
type Listener func(Change)

type storeEntry struct {
	order      domain.Order
	optimistic bool
	// previous is the record an optimistic update replaced.
	previous domain.Order
}

type listenerSlot struct {
	id int
	fn Listener
}

// Store is the engine's working set of orders. It is confined to the engine loop
// and therefore unsynchronised.
type Store struct {
	entries   map[int64]*storeEntry
	listeners []listenerSlot
	nextID    int
}

func NewStore() *Store {
	return &Store{entries: map[int64]*storeEntry{}}
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerSlot{id: id, fn: fn})
	return func() {
		s.listeners = slices.DeleteFunc(s.listeners, func(slot listenerSlot) bool { return slot.id == id })
	}
}

// Upsert applies server data when its version is not older than the local record.
// Server data always clears an optimistic marker.
func (s *Store) Upsert(order domain.Order) UpsertResult {
	current, ok := s.entries[order.ID]
	if ok {
		if order.Version < current.order.Version {
			return Stale
		}
		if !current.optimistic && order.Equal(current.order) {
			return Unchanged
		}
	}
	s.entries[order.ID] = &storeEntry{order: order.Clone()}
	s.notify(Change{Kind: ChangeUpserted, OrderID: order.ID, Order: order.Clone()})
	return Applied
}

// Remove evicts an order. It reports whether the order was present.
func (s *Store) Remove(id int64) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	s.notify(Change{Kind: ChangeRemoved, OrderID: id})
	return true
}

// ApplyOptimistic records next ahead of server confirmation, remembering the record it
// replaces. The order must already be present.
func (s *Store) ApplyOptimistic(next domain.Order) bool {
	current, ok := s.entries[next.ID]
	if !ok {
		return false
	}
	previous := current.order
	if current.optimistic {
		previous = current.previous
	}
	s.entries[next.ID] = &storeEntry{order: next.Clone(), optimistic: true, previous: previous}
	s.notify(Change{Kind: ChangeUpserted, OrderID: next.ID, Order: next.Clone(), Optimistic: true})
	return true
}

// Discard drops the optimistic record at optimisticVersion. The order reverts to
// replacement when given and not older than the pre-optimistic record, otherwise to
// that record; either way listeners see exactly one change. When the optimistic record
// was already superseded, replacement is upserted as ordinary server data.
func (s *Store) Discard(id int64, optimisticVersion int64, replacement *domain.Order) bool {
	current, ok := s.entries[id]
	if !ok {
		return false
	}
	if !current.optimistic || current.order.Version != optimisticVersion {
		if replacement != nil {
			s.Upsert(*replacement)
		}
		return false
	}
	restored := current.previous
	if replacement != nil && replacement.Version >= current.previous.Version {
		restored = replacement.Clone()
	}
	s.entries[id] = &storeEntry{order: restored}
	s.notify(Change{Kind: ChangeUpserted, OrderID: id, Order: restored.Clone()})
	return true
}

// Confirm clears the optimistic marker when the record is still at version.
func (s *Store) Confirm(id int64, version int64) bool {
	current, ok := s.entries[id]
	if !ok || !current.optimistic || current.order.Version != version {
		return false
	}
	current.optimistic = false
	current.previous = domain.Order{}
	s.notify(Change{Kind: ChangeUpserted, OrderID: id, Order: current.order.Clone()})
	return true
}

// Disable turns auto-advance off locally and records why.
func (s *Store) Disable(id int64, reason string) bool {
	current, ok := s.entries[id]
	if !ok {
		return false
	}
	if !current.order.AutoAdvanceEligible && current.order.PauseReason == reason {
		return false
	}
	current.order.AutoAdvanceEligible = false
	current.order.PauseReason = reason
	s.notify(Change{Kind: ChangeUpserted, OrderID: id, Order: current.order.Clone(), Optimistic: current.optimistic})
	return true
}

// Get returns a copy of the order.
func (s *Store) Get(id int64) (domain.Order, bool) {
	current, ok := s.entries[id]
	if !ok {
		return domain.Order{}, false
	}
	return current.order.Clone(), true
}

func (s *Store) IsOptimistic(id int64) bool {
	current, ok := s.entries[id]
	return ok && current.optimistic
}

func (s *Store) Len() int {
	return len(s.entries)
}

// IDs returns the tracked order ids in ascending order.
func (s *Store) IDs() []int64 {
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Snapshot returns copies of every order ordered by id.
func (s *Store) Snapshot() []domain.Order {
	ids := s.IDs()
	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, s.entries[id].order.Clone())
	}
	return orders
}

func (s *Store) notify(change Change) {
	for _, slot := range slices.Clone(s.listeners) {
		slot.fn(change)
	}
}
