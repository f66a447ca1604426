package autoadvance

import (
	"cmp"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/facebookgo/clock"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

// RetryEntry is a transition whose persistence failed transiently. The optimistic
// record stays in the store while the entry exists.
type RetryEntry struct {
	OrderID         int64
	Target          domain.Status
	ExpectedVersion int64
	Source          domain.Source
	// TransitionID is reused by every attempt as the idempotency key.
	TransitionID string
	Attempt      int
	NextRetryAt  time.Time

	inFlight bool
	backoff  *backoff.ExponentialBackOff
}

type retryHooks struct {
	post     func(fn func()) bool
	soon     func(fn func())
	dispatch func(entry RetryEntry)
}

// RetryQueue orders entries by NextRetryAt and keeps one timer armed for the earliest.
type RetryQueue struct {
	clock       clock.Clock
	base        time.Duration
	max         time.Duration
	maxAttempts int
	hooks       retryHooks

	entries map[int64]*RetryEntry
	timer   *clock.Timer
	armedAt time.Time
	gen     uint64
}

func newRetryQueue(clk clock.Clock, cfg Config, hooks retryHooks) *RetryQueue {
	return &RetryQueue{
		clock:       clk,
		base:        cfg.RetryBase,
		max:         cfg.RetryMax,
		maxAttempts: cfg.RetryMaxAttempts,
		hooks:       hooks,
		entries:     map[int64]*RetryEntry{},
	}
}

func (q *RetryQueue) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.base
	b.MaxInterval = q.max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Failed records a transient failure for entry's order and schedules the next attempt.
// It reports false once RetryMaxAttempts retries have failed; the entry is then removed.
func (q *RetryQueue) Failed(entry RetryEntry) bool {
	current, ok := q.entries[entry.OrderID]
	if !ok {
		current = &entry
		current.Attempt = 0
		current.backoff = q.newBackOff()
		q.entries[entry.OrderID] = current
	}
	current.inFlight = false
	if current.Attempt >= q.maxAttempts {
		q.Drop(entry.OrderID)
		return false
	}
	current.NextRetryAt = q.clock.Now().Add(current.backoff.NextBackOff())
	q.arm()
	return true
}

// Drop removes the order's entry.
func (q *RetryQueue) Drop(id int64) {
	if _, ok := q.entries[id]; !ok {
		return
	}
	delete(q.entries, id)
	q.arm()
}

func (q *RetryQueue) Has(id int64) bool {
	_, ok := q.entries[id]
	return ok
}

// Get returns a copy of the order's entry.
func (q *RetryQueue) Get(id int64) (RetryEntry, bool) {
	entry, ok := q.entries[id]
	if !ok {
		return RetryEntry{}, false
	}
	out := *entry
	out.backoff = nil
	return out, true
}

func (q *RetryQueue) Len() int {
	return len(q.entries)
}

// Stop disarms the timer.
func (q *RetryQueue) Stop() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.gen++
}

func (q *RetryQueue) arm() {
	var earliest time.Time
	for _, entry := range q.entries {
		if entry.inFlight {
			continue
		}
		if earliest.IsZero() || entry.NextRetryAt.Before(earliest) {
			earliest = entry.NextRetryAt
		}
	}
	if q.timer != nil && !earliest.IsZero() && earliest.Equal(q.armedAt) {
		return
	}
	q.Stop()
	if earliest.IsZero() {
		return
	}
	gen := q.gen
	q.armedAt = earliest
	delay := earliest.Sub(q.clock.Now())
	if delay <= 0 {
		q.hooks.soon(func() { q.onTimer(gen) })
		return
	}
	q.timer = q.clock.AfterFunc(delay, func() {
		q.hooks.post(func() { q.onTimer(gen) })
	})
}

func (q *RetryQueue) onTimer(gen uint64) {
	if gen != q.gen {
		return
	}
	q.timer = nil
	q.armedAt = time.Time{}
	now := q.clock.Now()
	var due []*RetryEntry
	for _, entry := range q.entries {
		if !entry.inFlight && !entry.NextRetryAt.After(now) {
			due = append(due, entry)
		}
	}
	slices.SortFunc(due, func(a, b *RetryEntry) int {
		if c := a.NextRetryAt.Compare(b.NextRetryAt); c != 0 {
			return c
		}
		return cmp.Compare(a.OrderID, b.OrderID)
	})
	for _, entry := range due {
		entry.inFlight = true
		entry.Attempt++
		out := *entry
		out.backoff = nil
		q.hooks.dispatch(out)
	}
	q.arm()
}
