package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

var _ ports.Repository = (*Repository)(nil)

// Repository is an in-memory order persistence adapter.
type Repository struct {
	mu     sync.RWMutex
	orders map[int64]*domain.Order
	nextID int64
}

func NewRepository() *Repository {
	return &Repository{orders: map[int64]*domain.Order{}}
}

func (r *Repository) Create(_ context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil {
		return nil, errors.New("order is nil")
	}
	clone := order.Clone()
	if err := clone.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if clone.ID == 0 {
		r.nextID++
		clone.ID = r.nextID
	} else if clone.ID > r.nextID {
		r.nextID = clone.ID
	}
	if clone.Version == 0 {
		clone.Version = 1
	}
	r.orders[clone.ID] = &clone
	out := clone.Clone()
	return &out, nil
}

func (r *Repository) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := order.Clone()
	return &clone, nil
}

func (r *Repository) ListActive(_ context.Context) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if order.Status.Terminal() {
			continue
		}
		clone := order.Clone()
		list = append(list, &clone)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *Repository) UpdateIfVersion(_ context.Context, order *domain.Order, expectedVersion int64) (*domain.Order, error) {
	if order == nil {
		return nil, errors.New("order is nil")
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.orders[order.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if existing.Version != expectedVersion {
		current := existing.Clone()
		return nil, &domain.ConflictError{ExpectedVersion: expectedVersion, Current: &current}
	}
	clone := order.Clone()
	r.orders[clone.ID] = &clone
	out := clone.Clone()
	return &out, nil
}

func (r *Repository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.orders, id)
	return nil
}

func (r *Repository) PurgeTerminal(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for id, order := range r.orders {
		if order.Status.Terminal() && order.UpdatedAt.Before(cutoff) {
			delete(r.orders, id)
			purged++
		}
	}
	return purged, nil
}
