// Package autoadvance moves active orders through their lifecycle without staff
// interaction while staying consistent with the order service's realtime stream.
//
// All engine state is owned by a single loop goroutine. Timers, realtime events and
// order-service responses are posted to the loop as closures, so the store, scheduler,
// committer and retry queue never need locks.
package autoadvance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

const tracerName = "github.com/Apurer/order-autoadvance/internal/autoadvance"

const opsBuffer = 256

var (
	ErrNotRunning     = errors.New("auto-advance engine is not running")
	ErrAlreadyStarted = errors.New("auto-advance engine already started")
	ErrUnknownOrder   = errors.New("order is not tracked by the engine")
)

// Engine is the process-scoped auto-advance service.
type Engine struct {
	cfg     Config
	gateway ports.OrderGateway
	stream  ports.EventStream
	clock   clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics engineMetrics

	ops      chan func()
	soon     []func()
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
	finalize sync.Once
	wg       sync.WaitGroup
	inflight atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc

	// Loop-confined state.
	store            *Store
	scheduler        *Scheduler
	retries          *RetryQueue
	committing       map[int64]ports.StatusUpdate
	paused           map[int64]string
	stale            map[int64]struct{}
	pendingOverride  map[int64]domain.Status
	overrideReissued map[int64]bool
	offlineAdvanced  map[int64]struct{}
	connected        bool
	synced           bool
	resyncing        bool
	resyncAgain      bool
	resyncTimer      *clock.Timer
	conditions       []Condition

	// Ids pushed over the stream while a fetch is in flight; the fetched set is
	// older than these.
	removedDuringResync  map[int64]struct{}
	upsertedDuringResync map[int64]struct{}
}

// Option configures the Engine.
type Option func(*Engine)

// WithClock injects the time source for dwell, retry and reconnect timers.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) {
		if clk != nil {
			e.clock = clk
		}
	}
}

// WithLogger injects a slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer injects a tracer implementation.
func WithTracer(tr trace.Tracer) Option {
	return func(e *Engine) {
		if tr != nil {
			e.tracer = tr
		}
	}
}

// WithMeter injects the meter used to create engine counters.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) {
		e.metrics = newEngineMetrics(m)
	}
}

// WithEventStream attaches the realtime push channel. Without one the engine resyncs
// once at start and relies on its own commits.
func WithEventStream(stream ports.EventStream) Option {
	return func(e *Engine) {
		e.stream = stream
	}
}

// New validates cfg and wires the engine's components.
func New(cfg Config, gateway ports.OrderGateway, opts ...Option) (*Engine, error) {
	if gateway == nil {
		return nil, errors.New("order gateway is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auto-advance config: %w", err)
	}
	e := &Engine{
		cfg:              cfg,
		gateway:          gateway,
		clock:            clock.New(),
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:           nooptrace.NewTracerProvider().Tracer(tracerName),
		ops:              make(chan func(), opsBuffer),
		done:             make(chan struct{}),
		ctx:              context.Background(),
		committing:       map[int64]ports.StatusUpdate{},
		paused:           map[int64]string{},
		stale:            map[int64]struct{}{},
		pendingOverride:  map[int64]domain.Status{},
		overrideReissued: map[int64]bool{},
		offlineAdvanced:  map[int64]struct{}{},

		removedDuringResync:  map[int64]struct{}{},
		upsertedDuringResync: map[int64]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.store = NewStore()
	e.scheduler = newScheduler(e.store, e.clock, cfg, schedulerHooks{
		blocked:   e.blocked,
		commit:    e.autoCommit,
		post:      e.post,
		soon:      e.runSoon,
		staleFire: e.onStaleFire,
	})
	e.retries = newRetryQueue(e.clock, cfg, retryHooks{
		post:     e.post,
		soon:     e.runSoon,
		dispatch: e.dispatchRetry,
	})
	e.store.Subscribe(e.onStoreChange)
	return e, nil
}

// Start launches the loop and, when configured, the realtime bridge. Cancelling ctx
// stops the engine.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.loop()
	if e.stream != nil {
		e.wg.Add(1)
		go e.runBridge(e.ctx)
	} else {
		e.post(e.onConnected)
	}
	go func() {
		select {
		case <-e.ctx.Done():
			e.Stop()
		case <-e.done:
		}
	}()
	e.logger.LogAttrs(ctx, slog.LevelInfo, "auto-advance engine started", slog.Bool("realtime", e.stream != nil))
	return nil
}

// Stop halts the loop, cancels outstanding requests and waits for them to return.
// Timers are disarmed; no callback runs afterwards.
func (e *Engine) Stop() {
	if !e.started.Load() {
		return
	}
	e.stopOnce.Do(func() {
		close(e.done)
		e.cancel()
	})
	e.wg.Wait()
	e.finalize.Do(func() {
		e.scheduler.CancelAll()
		e.retries.Stop()
		if e.resyncTimer != nil {
			e.resyncTimer.Stop()
		}
		e.logger.Info("auto-advance engine stopped")
	})
}

// Snapshot returns the current orders ordered by id.
func (e *Engine) Snapshot(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	if err := e.call(ctx, func() { orders = e.store.Snapshot() }); err != nil {
		return nil, err
	}
	return orders, nil
}

// Subscribe registers fn for every store change. fn runs on the engine loop and must
// not block. The returned function unsubscribes.
func (e *Engine) Subscribe(ctx context.Context, fn Listener) (func(), error) {
	var unsubscribe func()
	if err := e.call(ctx, func() { unsubscribe = e.store.Subscribe(fn) }); err != nil {
		return nil, err
	}
	return func() { e.post(unsubscribe) }, nil
}

// Track adds or refreshes an order from a local source such as a screen that just
// loaded it.
func (e *Engine) Track(ctx context.Context, order domain.Order) (UpsertResult, error) {
	if err := order.Validate(); err != nil {
		return Stale, err
	}
	var result UpsertResult
	if err := e.call(ctx, func() { result = e.upsert(order) }); err != nil {
		return Stale, err
	}
	return result, nil
}

// Forget removes an order from the working set, cancelling its schedule and retry.
func (e *Engine) Forget(ctx context.Context, id int64) error {
	return e.call(ctx, func() {
		e.noteDuringResync(id, true)
		e.store.Remove(id)
	})
}

// OverrideStatus applies a staff status change. Auto-advance stays disabled for the
// order for the rest of the engine's lifetime. Persistence happens in the background;
// failures surface as conditions.
func (e *Engine) OverrideStatus(ctx context.Context, id int64, status domain.Status) error {
	if !status.Valid() {
		return domain.ErrInvalidStatus
	}
	var result error
	if err := e.call(ctx, func() { result = e.override(id, status) }); err != nil {
		return err
	}
	return result
}

// Conditions returns the operator-visible problems raised so far, oldest first.
func (e *Engine) Conditions(ctx context.Context) ([]Condition, error) {
	var out []Condition
	if err := e.call(ctx, func() { out = append([]Condition(nil), e.conditions...) }); err != nil {
		return nil, err
	}
	return out, nil
}

// OrderState is the engine's full view of one order.
type OrderState struct {
	Order       domain.Order
	Optimistic  bool
	Scheduled   *ScheduledTransition
	Retry       *RetryEntry
	PauseReason string
	Committing  bool
}

// Inspect reports everything the engine holds for id.
func (e *Engine) Inspect(ctx context.Context, id int64) (OrderState, error) {
	var (
		state   OrderState
		tracked bool
	)
	err := e.call(ctx, func() {
		state.Order, tracked = e.store.Get(id)
		state.Optimistic = e.store.IsOptimistic(id)
		if st, ok := e.scheduler.Pending(id); ok {
			state.Scheduled = &st
		}
		if entry, ok := e.retries.Get(id); ok {
			state.Retry = &entry
		}
		state.PauseReason = e.paused[id]
		_, state.Committing = e.committing[id]
	})
	if err != nil {
		return OrderState{}, err
	}
	if !tracked && state.Scheduled == nil && state.Retry == nil {
		return state, ErrUnknownOrder
	}
	return state, nil
}

// Online reports whether the realtime stream is connected and resynced.
func (e *Engine) Online(ctx context.Context) (bool, error) {
	var online bool
	if err := e.call(ctx, func() { online = e.online() }); err != nil {
		return false, err
	}
	return online, nil
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case op := <-e.ops:
			op()
			e.drainSoon()
		}
	}
}

// post queues fn on the loop. It reports false once the engine is stopping.
func (e *Engine) post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.ops <- fn:
		return true
	case <-e.done:
		return false
	}
}

// runSoon defers fn to the end of the current loop turn.
func (e *Engine) runSoon(fn func()) {
	e.soon = append(e.soon, fn)
}

func (e *Engine) drainSoon() {
	for len(e.soon) > 0 {
		fn := e.soon[0]
		e.soon = e.soon[1:]
		fn()
	}
}

// goAsync runs work off the loop and applies the closure it returns on the loop.
func (e *Engine) goAsync(work func(ctx context.Context) func()) {
	e.inflight.Add(1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		apply := work(e.ctx)
		if apply != nil {
			e.post(apply)
		}
		e.inflight.Add(-1)
	}()
}

func (e *Engine) call(ctx context.Context, fn func()) error {
	if !e.started.Load() {
		return ErrNotRunning
	}
	finished := make(chan struct{})
	if !e.post(func() {
		fn()
		close(finished)
	}) {
		return ErrNotRunning
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrNotRunning
	}
}

func (e *Engine) online() bool {
	return e.connected && e.synced
}

// blocked gates new schedules: one transition per order at a time, overrides and
// permanent failures win for the session, and while offline each order gets at most
// one optimistic advance.
func (e *Engine) blocked(id int64) bool {
	if _, ok := e.paused[id]; ok {
		return true
	}
	if _, ok := e.committing[id]; ok {
		return true
	}
	if _, ok := e.stale[id]; ok {
		return true
	}
	if e.store.IsOptimistic(id) || e.retries.Has(id) {
		return true
	}
	if !e.online() {
		if _, ok := e.offlineAdvanced[id]; ok {
			return true
		}
	}
	return false
}

func (e *Engine) onStoreChange(change Change) {
	if change.Kind == ChangeRemoved {
		e.scheduler.Cancel(change.OrderID)
		e.retries.Drop(change.OrderID)
		delete(e.offlineAdvanced, change.OrderID)
		delete(e.pendingOverride, change.OrderID)
		delete(e.stale, change.OrderID)
		return
	}
	e.scheduler.Reconcile(change.OrderID)
}

// upsert applies server data and lifts the stale hold on success.
func (e *Engine) upsert(order domain.Order) UpsertResult {
	result := e.store.Upsert(order)
	switch result {
	case Stale:
		e.metrics.recordStaleUpsert(e.ctx)
		e.logger.LogAttrs(e.ctx, slog.LevelDebug, "ignored stale order record",
			slog.Int64("order.id", order.ID), slog.Int64("order.version", order.Version))
	case Applied:
		if _, held := e.stale[order.ID]; held {
			delete(e.stale, order.ID)
			e.scheduler.Reconcile(order.ID)
		}
	}
	return result
}

func (e *Engine) onStaleFire(st ScheduledTransition) {
	e.metrics.recordStaleSchedule(e.ctx)
	e.logger.LogAttrs(e.ctx, slog.LevelDebug, "dropped stale scheduled transition",
		slog.Int64("order.id", st.OrderID),
		slog.Int64("order.version.scheduled", st.ScheduleVersion),
		slog.String("order.status.target", string(st.Target)))
}

func (e *Engine) applyEvent(event domain.Event) {
	switch event.Type {
	case domain.EventOrderUpdated:
		if event.Order != nil {
			e.noteDuringResync(event.Order.ID, false)
			e.upsert(*event.Order)
		}
	case domain.EventOrderRemoved:
		e.noteDuringResync(event.OrderID, true)
		e.store.Remove(event.OrderID)
	}
}

func (e *Engine) noteDuringResync(id int64, removed bool) {
	if !e.resyncing {
		return
	}
	if removed {
		delete(e.upsertedDuringResync, id)
		e.removedDuringResync[id] = struct{}{}
		return
	}
	delete(e.removedDuringResync, id)
	e.upsertedDuringResync[id] = struct{}{}
}
