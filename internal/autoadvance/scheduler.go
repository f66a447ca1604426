package autoadvance

import (
	"time"

	"github.com/facebookgo/clock"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

// ScheduledTransition is the pending auto-advance of one order. It fires only if the
// order is still at ScheduleVersion and From when the timer elapses.
type ScheduledTransition struct {
	OrderID         int64
	From            domain.Status
	Target          domain.Status
	FireAt          time.Time
	ScheduleVersion int64

	seq   uint64
	timer *clock.Timer
}

type schedulerHooks struct {
	// blocked reports orders that must not get a new schedule right now.
	blocked func(id int64) bool
	commit  func(id int64, target domain.Status, expectedVersion int64)
	// post queues fn on the loop from a timer goroutine.
	post func(fn func()) bool
	// soon runs fn later on the current loop turn.
	soon func(fn func())
	// staleFire is told about fires dropped for outdated data.
	staleFire func(st ScheduledTransition)
}

// Scheduler holds at most one ScheduledTransition per order and re-derives it from
// the store whenever the order changes.
type Scheduler struct {
	store   *Store
	clock   clock.Clock
	cfg     Config
	hooks   schedulerHooks
	pending map[int64]*ScheduledTransition
	seq     uint64
}

func newScheduler(store *Store, clk clock.Clock, cfg Config, hooks schedulerHooks) *Scheduler {
	return &Scheduler{
		store:   store,
		clock:   clk,
		cfg:     cfg,
		hooks:   hooks,
		pending: map[int64]*ScheduledTransition{},
	}
}

// Reconcile cancels, keeps or replaces the order's schedule to match the store.
func (s *Scheduler) Reconcile(id int64) {
	order, ok := s.store.Get(id)
	if !ok || !order.CanAutoAdvance() || s.hooks.blocked(id) {
		s.Cancel(id)
		return
	}
	target, ok := order.Status.Next()
	if !ok {
		s.Cancel(id)
		return
	}
	dwell, ok := s.cfg.dwellFor(order.Status)
	if !ok {
		s.Cancel(id)
		return
	}
	if current, exists := s.pending[id]; exists && current.ScheduleVersion == order.Version && current.Target == target {
		return
	}
	s.Cancel(id)

	s.seq++
	st := &ScheduledTransition{
		OrderID:         id,
		From:            order.Status,
		Target:          target,
		FireAt:          order.StatusEnteredAt.Add(dwell),
		ScheduleVersion: order.Version,
		seq:             s.seq,
	}
	s.pending[id] = st
	seq := st.seq
	delay := st.FireAt.Sub(s.clock.Now())
	if delay <= 0 {
		s.hooks.soon(func() { s.fire(id, seq) })
		return
	}
	st.timer = s.clock.AfterFunc(delay, func() {
		s.hooks.post(func() { s.fire(id, seq) })
	})
}

// ReconcileAll reconciles every tracked order and drops schedules for untracked ones.
func (s *Scheduler) ReconcileAll() {
	for id := range s.pending {
		if _, ok := s.store.Get(id); !ok {
			s.Cancel(id)
		}
	}
	for _, id := range s.store.IDs() {
		s.Reconcile(id)
	}
}

// Cancel drops the order's schedule. A callback already queued for it becomes a no-op.
func (s *Scheduler) Cancel(id int64) {
	st, ok := s.pending[id]
	if !ok {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(s.pending, id)
}

// CancelAll stops every timer.
func (s *Scheduler) CancelAll() {
	for id := range s.pending {
		s.Cancel(id)
	}
}

// Pending returns the order's live schedule.
func (s *Scheduler) Pending(id int64) (ScheduledTransition, bool) {
	st, ok := s.pending[id]
	if !ok {
		return ScheduledTransition{}, false
	}
	out := *st
	out.timer = nil
	return out, true
}

func (s *Scheduler) Len() int {
	return len(s.pending)
}

func (s *Scheduler) fire(id int64, seq uint64) {
	st, ok := s.pending[id]
	if !ok || st.seq != seq {
		return
	}
	delete(s.pending, id)

	order, ok := s.store.Get(id)
	if !ok || order.Version != st.ScheduleVersion || order.Status != st.From || !order.AutoAdvanceEligible {
		s.hooks.staleFire(*st)
		s.Reconcile(id)
		return
	}
	if s.hooks.blocked(id) {
		return
	}
	s.hooks.commit(id, st.Target, st.ScheduleVersion)
}
