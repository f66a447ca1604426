package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ordermemory "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/memory"
	ordertypes "github.com/Apurer/order-autoadvance/internal/domains/orders/application/types"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func newTestService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()
	publisher := &recordingPublisher{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(ordermemory.NewRepository(),
		WithPublisher(publisher),
		WithClock(func() time.Time { return now }),
	)
	return svc, publisher
}

func TestPlaceOrder_PublishesReceivedOrder(t *testing.T) {
	svc, publisher := newTestService(t)

	order, err := svc.PlaceOrder(context.Background(), ordertypes.PlaceOrderInput{Number: "A-1", Stations: []string{"grill"}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReceived, order.Status)
	assert.True(t, order.AutoAdvanceEligible)
	require.Len(t, publisher.events, 1)
	assert.Equal(t, domain.EventOrderUpdated, publisher.events[0].Type)
}

func TestPlaceOrder_InvalidNumber(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.PlaceOrder(context.Background(), ordertypes.PlaceOrderInput{})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.ErrorIs(t, err, domain.ErrInvalidNumber)
}

func TestUpdateStatus_AutoAdvancesOneStep(t *testing.T) {
	svc, publisher := newTestService(t)
	ctx := context.Background()
	order, err := svc.PlaceOrder(ctx, ordertypes.PlaceOrderInput{Number: "A-1"})
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, ordertypes.UpdateStatusInput{
		ID: order.ID, Status: "preparing", ExpectedVersion: 1, Source: domain.SourceAuto,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPreparing, updated.Status)
	assert.Equal(t, int64(2), updated.Version)
	assert.Len(t, publisher.events, 2)
}

func TestUpdateStatus_VersionConflictCarriesCurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	order, err := svc.PlaceOrder(ctx, ordertypes.PlaceOrderInput{Number: "A-1"})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, ordertypes.UpdateStatusInput{ID: order.ID, Status: "preparing", ExpectedVersion: 1})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, ordertypes.UpdateStatusInput{ID: order.ID, Status: "preparing", ExpectedVersion: 1})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(2), conflict.Current.Version)
	assert.Equal(t, domain.FailureConflict, domain.Classify(err))
}

func TestUpdateStatus_ReplaysCommittedIdempotencyKey(t *testing.T) {
	publisher := &recordingPublisher{}
	svc := NewService(ordermemory.NewRepository(),
		WithPublisher(publisher),
		WithIdempotencyStore(ordermemory.NewIdempotencyStore()),
	)
	ctx := context.Background()
	order, err := svc.PlaceOrder(ctx, ordertypes.PlaceOrderInput{Number: "A-1"})
	require.NoError(t, err)
	input := ordertypes.UpdateStatusInput{
		ID: order.ID, Status: "preparing", ExpectedVersion: 1, Source: domain.SourceAuto, IdempotencyKey: "t-1",
	}

	first, err := svc.UpdateStatus(ctx, input)
	require.NoError(t, err)
	replayed, err := svc.UpdateStatus(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, first.Version, replayed.Version)
	assert.Equal(t, domain.StatusPreparing, replayed.Status)
	assert.Len(t, publisher.events, 2)

	input.Status = "ready"
	_, err = svc.UpdateStatus(ctx, input)
	require.ErrorIs(t, err, ports.ErrIdempotencyConflict)
	require.ErrorIs(t, err, ErrInvalidInput)

	fresh := ordertypes.UpdateStatusInput{
		ID: order.ID, Status: "preparing", ExpectedVersion: 1, Source: domain.SourceAuto, IdempotencyKey: "t-2",
	}
	_, err = svc.UpdateStatus(ctx, fresh)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestUpdateStatus_AutoSkipIsPermanent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	order, err := svc.PlaceOrder(ctx, ordertypes.PlaceOrderInput{Number: "A-1"})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, ordertypes.UpdateStatusInput{ID: order.ID, Status: "ready", ExpectedVersion: 1})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.FailurePermanent, domain.Classify(err))
}

func TestUpdateStatus_ManualOverrideDisablesAutoAdvance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	order, err := svc.PlaceOrder(ctx, ordertypes.PlaceOrderInput{Number: "A-1"})
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, ordertypes.UpdateStatusInput{
		ID: order.ID, Status: "staged", ExpectedVersion: 1, Source: domain.SourceManual,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, updated.Status)
	assert.False(t, updated.AutoAdvanceEligible)

	_, err = svc.UpdateStatus(ctx, ordertypes.UpdateStatusInput{ID: order.ID, Status: "completed", ExpectedVersion: 2})
	require.ErrorIs(t, err, domain.ErrNotEligible)
}

func TestUpdateStatus_UnknownOrder(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.UpdateStatus(context.Background(), ordertypes.UpdateStatusInput{ID: 99, Status: "preparing", ExpectedVersion: 1})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveOrder_PublishesRemoval(t *testing.T) {
	svc, publisher := newTestService(t)
	ctx := context.Background()
	order, err := svc.PlaceOrder(ctx, ordertypes.PlaceOrderInput{Number: "A-1"})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveOrder(ctx, order.ID))
	last := publisher.events[len(publisher.events)-1]
	assert.Equal(t, domain.EventOrderRemoved, last.Type)
	assert.Equal(t, order.ID, last.OrderID)
	require.ErrorIs(t, svc.RemoveOrder(ctx, order.ID), domain.ErrNotFound)
}

func TestPurgeTerminal_DropsExpiredIdempotencyKeys(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	keys := ordermemory.NewIdempotencyStore()
	keys.WithClock(func() time.Time { return now.Add(-48 * time.Hour) })
	ctx := context.Background()
	_, err := keys.Save(ctx, ports.IdempotencyRecord{Key: "old", RequestHash: "h", OrderID: 1, ResultVersion: 2})
	require.NoError(t, err)
	keys.WithClock(func() time.Time { return now })
	_, err = keys.Save(ctx, ports.IdempotencyRecord{Key: "new", RequestHash: "h", OrderID: 1, ResultVersion: 3})
	require.NoError(t, err)

	svc := NewService(ordermemory.NewRepository(),
		WithIdempotencyStore(keys),
		WithClock(func() time.Time { return now }),
	)
	_, err = svc.PurgeTerminal(ctx, 24*time.Hour)
	require.NoError(t, err)

	old, err := keys.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, old)
	kept, err := keys.Get(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestPurgeTerminal_RejectsNonPositiveRetention(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.PurgeTerminal(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidInput)
}

var _ ports.EventPublisher = (*recordingPublisher)(nil)
