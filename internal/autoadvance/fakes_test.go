package autoadvance

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

var errUnavailable = errors.New("503 service unavailable")

// fakeGateway is an in-process order service with scriptable failures.
type fakeGateway struct {
	clock *clock.Mock

	mu        sync.Mutex
	orders    map[int64]domain.Order
	updates   []ports.StatusUpdate
	failures  map[int64][]error
	fetchErrs []error
	fetches   int
	hold      chan struct{}
	fetchHold chan struct{}
	fetchWait bool
}

func newFakeGateway(clk *clock.Mock) *fakeGateway {
	return &fakeGateway{clock: clk, orders: map[int64]domain.Order{}, failures: map[int64][]error{}}
}

func (g *fakeGateway) seed(t *testing.T, id int64, number string) domain.Order {
	t.Helper()
	order, err := domain.NewOrder(id, number, []string{"grill"}, g.clock.Now())
	require.NoError(t, err)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders[id] = order.Clone()
	return order.Clone()
}

// mutate changes the server copy as another client would.
func (g *fakeGateway) mutate(id int64, fn func(*domain.Order)) domain.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	order := g.orders[id].Clone()
	fn(&order)
	order.Version++
	g.orders[id] = order
	return order.Clone()
}

func (g *fakeGateway) fail(id int64, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[id] = append(g.failures[id], errs...)
}

func (g *fakeGateway) holdUpdates() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hold = make(chan struct{})
	return g.hold
}

// holdFetches makes the next FetchActiveOrders capture its result and then block
// until the returned channel is closed.
func (g *fakeGateway) holdFetches() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchHold = make(chan struct{})
	return g.fetchHold
}

func (g *fakeGateway) fetchWaiting() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetchWait
}

func (g *fakeGateway) remove(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.orders, id)
}

func (g *fakeGateway) server(id int64) domain.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orders[id].Clone()
}

func (g *fakeGateway) updatesFor(id int64) []ports.StatusUpdate {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []ports.StatusUpdate
	for _, update := range g.updates {
		if update.OrderID == id {
			out = append(out, update)
		}
	}
	return out
}

func (g *fakeGateway) FetchActiveOrders(ctx context.Context) ([]domain.Order, error) {
	g.mu.Lock()
	g.fetches++
	if len(g.fetchErrs) > 0 {
		err := g.fetchErrs[0]
		g.fetchErrs = g.fetchErrs[1:]
		g.mu.Unlock()
		return nil, err
	}
	var out []domain.Order
	for _, order := range g.orders {
		if !order.Status.Terminal() {
			out = append(out, order.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return int(a.ID - b.ID) })
	hold := g.fetchHold
	g.fetchHold = nil
	g.fetchWait = hold != nil
	g.mu.Unlock()

	if hold != nil {
		defer func() {
			g.mu.Lock()
			g.fetchWait = false
			g.mu.Unlock()
		}()
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (g *fakeGateway) UpdateOrderStatus(ctx context.Context, update ports.StatusUpdate) (*domain.Order, error) {
	g.mu.Lock()
	g.updates = append(g.updates, update)
	hold := g.hold
	g.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if errs := g.failures[update.OrderID]; len(errs) > 0 {
		g.failures[update.OrderID] = errs[1:]
		return nil, errs[0]
	}
	current, ok := g.orders[update.OrderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if current.Version != update.ExpectedVersion {
		c := current.Clone()
		return nil, &domain.ConflictError{ExpectedVersion: update.ExpectedVersion, Current: &c}
	}
	next := current.Clone()
	if err := next.Transition(update.Target, update.Source, g.clock.Now()); err != nil {
		return nil, err
	}
	g.orders[update.OrderID] = next
	out := next.Clone()
	return &out, nil
}

// fakeStream hands out subscriptions the test can feed and drop.
type fakeStream struct {
	mu       sync.Mutex
	connects int
	downErr  error
	current  *fakeSubscription
}

func (s *fakeStream) Connect(ctx context.Context) (ports.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.downErr != nil {
		return nil, s.downErr
	}
	s.current = &fakeSubscription{events: make(chan domain.Event, 16)}
	return s.current, nil
}

func (s *fakeStream) setDown(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downErr = err
}

func (s *fakeStream) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *fakeStream) subscription() *fakeSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

type fakeSubscription struct {
	events chan domain.Event
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func (s *fakeSubscription) Events() <-chan domain.Event { return s.events }

func (s *fakeSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSubscription) Close() error {
	s.drop(nil)
	return nil
}

func (s *fakeSubscription) drop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.events)
	})
}

type harness struct {
	t       *testing.T
	clock   *clock.Mock
	gateway *fakeGateway
	engine  *Engine
}

func testConfig(received, preparing, ready time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Dwell = map[domain.Status]time.Duration{
		domain.StatusReceived:  received,
		domain.StatusPreparing: preparing,
		domain.StatusReady:     ready,
	}
	cfg.RetryBase = time.Second
	cfg.RetryMax = 4 * time.Second
	cfg.RetryMaxAttempts = 3
	cfg.ReconnectBase = time.Second
	cfg.ReconnectMax = 4 * time.Second
	cfg.ResyncRetry = 2 * time.Second
	return cfg
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	mock := clock.NewMock()
	gateway := newFakeGateway(mock)
	engine, err := New(cfg, gateway, append([]Option{WithClock(mock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(engine.Stop)
	return &harness{t: t, clock: mock, gateway: gateway, engine: engine}
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.engine.Start(context.Background()))
	if h.engine.stream != nil {
		h.waitOnline()
	}
	h.settle()
}

func (h *harness) waitOnline() {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		online, err := h.engine.Online(context.Background())
		return err == nil && online
	}, 2*time.Second, time.Millisecond)
}

// push delivers event over the live subscription and waits for the store to reflect it.
func (h *harness) push(stream *fakeStream, event domain.Event) {
	h.t.Helper()
	stream.subscription().events <- event
	require.Eventually(h.t, func() bool {
		state, err := h.engine.Inspect(context.Background(), event.OrderID)
		if event.Type == domain.EventOrderRemoved {
			return errors.Is(err, ErrUnknownOrder)
		}
		return err == nil && state.Order.Version >= event.Order.Version
	}, 2*time.Second, time.Millisecond)
	h.settle()
}

// settle waits until the engine has no queued work and no outstanding request.
func (h *harness) settle() {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.engine.idle(context.Background())
	}, 2*time.Second, time.Millisecond)
}

// idle reports whether the engine has no outstanding request and no queued work.
func (e *Engine) idle(ctx context.Context) bool {
	quiet := false
	err := e.call(ctx, func() {
		quiet = len(e.soon) == 0 && len(e.ops) == 0 && e.inflight.Load() == 0
	})
	return err == nil && quiet
}

// advance moves the clock forward in one-second steps, settling after each.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	for elapsed := time.Duration(0); elapsed < d; elapsed += time.Second {
		h.clock.Add(time.Second)
		h.settle()
	}
}

func (h *harness) state(id int64) OrderState {
	h.t.Helper()
	state, err := h.engine.Inspect(context.Background(), id)
	require.NoError(h.t, err)
	return state
}

// recordStatuses captures every status the store shows for id.
func (h *harness) recordStatuses(id int64) func() []domain.Status {
	h.t.Helper()
	var (
		mu       sync.Mutex
		statuses []domain.Status
	)
	_, err := h.engine.Subscribe(context.Background(), func(change Change) {
		if change.OrderID != id || change.Kind != ChangeUpserted {
			return
		}
		mu.Lock()
		statuses = append(statuses, change.Order.Status)
		mu.Unlock()
	})
	require.NoError(h.t, err)
	return func() []domain.Status {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(statuses)
	}
}
