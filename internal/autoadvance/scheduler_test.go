package autoadvance

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

type schedulerRig struct {
	clock    *clock.Mock
	store    *Store
	sched    *Scheduler
	blocked  map[int64]bool
	commits  []scheduledCommit
	stale    []ScheduledTransition
	deferred []func()
}

type scheduledCommit struct {
	id      int64
	target  domain.Status
	version int64
}

func newSchedulerRig(t *testing.T, cfg Config) *schedulerRig {
	t.Helper()
	rig := &schedulerRig{clock: clock.NewMock(), store: NewStore(), blocked: map[int64]bool{}}
	rig.sched = newScheduler(rig.store, rig.clock, cfg, schedulerHooks{
		blocked: func(id int64) bool { return rig.blocked[id] },
		commit: func(id int64, target domain.Status, version int64) {
			rig.commits = append(rig.commits, scheduledCommit{id: id, target: target, version: version})
		},
		post:      func(fn func()) bool { fn(); return true },
		soon:      func(fn func()) { rig.deferred = append(rig.deferred, fn) },
		staleFire: func(st ScheduledTransition) { rig.stale = append(rig.stale, st) },
	})
	return rig
}

func (r *schedulerRig) runDeferred() {
	for len(r.deferred) > 0 {
		fn := r.deferred[0]
		r.deferred = r.deferred[1:]
		fn()
	}
}

func (r *schedulerRig) order(id, version int64, status domain.Status, enteredAt time.Time) domain.Order {
	return domain.Order{ID: id, Number: "A", Status: status, StatusEnteredAt: enteredAt, AutoAdvanceEligible: true, Version: version}
}

func TestScheduler_StaleFireNeverCommits(t *testing.T) {
	rig := newSchedulerRig(t, testConfig(5*time.Second, 5*time.Second, 5*time.Second))
	start := rig.clock.Now()
	rig.store.Upsert(rig.order(1, 1, domain.StatusReceived, start))
	rig.sched.Reconcile(1)

	// The store moves on without the scheduler being told.
	rig.store.Upsert(rig.order(1, 2, domain.StatusReceived, start.Add(2*time.Second)))

	rig.clock.Add(5 * time.Second)
	assert.Empty(t, rig.commits)
	require.Len(t, rig.stale, 1)
	assert.Equal(t, int64(1), rig.stale[0].ScheduleVersion)

	pending, ok := rig.sched.Pending(1)
	require.True(t, ok)
	assert.Equal(t, int64(2), pending.ScheduleVersion)
	assert.Equal(t, start.Add(7*time.Second), pending.FireAt)

	rig.clock.Add(2 * time.Second)
	require.Len(t, rig.commits, 1)
	assert.Equal(t, scheduledCommit{id: 1, target: domain.StatusPreparing, version: 2}, rig.commits[0])
}

func TestScheduler_ReconcileKeepsOneSchedulePerOrder(t *testing.T) {
	rig := newSchedulerRig(t, testConfig(5*time.Second, 5*time.Second, 5*time.Second))
	now := rig.clock.Now()
	rig.store.Upsert(rig.order(1, 1, domain.StatusReceived, now))
	rig.sched.Reconcile(1)
	first, _ := rig.sched.Pending(1)

	rig.sched.Reconcile(1)
	again, _ := rig.sched.Pending(1)
	assert.Equal(t, first, again)

	rig.store.Upsert(rig.order(1, 2, domain.StatusPreparing, now))
	rig.sched.Reconcile(1)
	assert.Equal(t, 1, rig.sched.Len())
	replaced, _ := rig.sched.Pending(1)
	assert.Equal(t, domain.StatusReady, replaced.Target)

	rig.clock.Add(5 * time.Second)
	require.Len(t, rig.commits, 1)
	assert.Equal(t, int64(2), rig.commits[0].version)
}

func TestScheduler_OverdueFiresOnCurrentTurn(t *testing.T) {
	rig := newSchedulerRig(t, testConfig(5*time.Second, 0, 5*time.Second))
	rig.clock.Add(time.Minute)
	rig.store.Upsert(rig.order(1, 1, domain.StatusReceived, rig.clock.Now().Add(-10*time.Second)))
	rig.store.Upsert(rig.order(2, 1, domain.StatusPreparing, rig.clock.Now()))
	rig.sched.ReconcileAll()
	assert.Empty(t, rig.commits)
	require.Len(t, rig.deferred, 2)

	rig.runDeferred()
	require.Len(t, rig.commits, 2)
	assert.Equal(t, domain.StatusPreparing, rig.commits[0].target)
	assert.Equal(t, domain.StatusReady, rig.commits[1].target)
}

func TestScheduler_SkipsIneligibleTerminalAndBlocked(t *testing.T) {
	cfg := testConfig(5*time.Second, 5*time.Second, 5*time.Second)
	delete(cfg.Dwell, domain.StatusReady)
	rig := newSchedulerRig(t, cfg)
	now := rig.clock.Now()

	ineligible := rig.order(1, 1, domain.StatusReceived, now)
	ineligible.AutoAdvanceEligible = false
	rig.store.Upsert(ineligible)
	rig.store.Upsert(rig.order(2, 1, domain.StatusCompleted, now))
	rig.store.Upsert(rig.order(3, 1, domain.StatusReady, now))
	rig.store.Upsert(rig.order(4, 1, domain.StatusReceived, now))
	rig.blocked[4] = true

	rig.sched.ReconcileAll()
	assert.Zero(t, rig.sched.Len())
}

func TestScheduler_BlockedAtFireTimeDoesNotCommit(t *testing.T) {
	rig := newSchedulerRig(t, testConfig(5*time.Second, 5*time.Second, 5*time.Second))
	rig.store.Upsert(rig.order(1, 1, domain.StatusReceived, rig.clock.Now()))
	rig.sched.Reconcile(1)
	rig.blocked[1] = true

	rig.clock.Add(5 * time.Second)
	assert.Empty(t, rig.commits)
	assert.Empty(t, rig.stale)
	assert.Zero(t, rig.sched.Len())
}

func TestScheduler_CancelDisarmsTimer(t *testing.T) {
	rig := newSchedulerRig(t, testConfig(5*time.Second, 5*time.Second, 5*time.Second))
	rig.store.Upsert(rig.order(1, 1, domain.StatusReceived, rig.clock.Now()))
	rig.sched.Reconcile(1)
	rig.sched.Cancel(1)

	rig.clock.Add(time.Minute)
	assert.Empty(t, rig.commits)
	assert.Empty(t, rig.stale)
}
