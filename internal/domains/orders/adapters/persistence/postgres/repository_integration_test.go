//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
	"github.com/Apurer/order-autoadvance/internal/platform/migrations"
)

func setupOrdersPostgresContainer(t *testing.T) (*gorm.DB, string, func()) {
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("orders_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, migrations.Run(db))

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		pgContainer.Terminate(ctx)
	}
	return db, dsn, cleanup
}

func TestRepository_CreateAndListActive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, _, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, number := range []string{"A-1", "A-2"} {
		order, err := domain.NewOrder(0, number, []string{"grill", "fry"}, now)
		require.NoError(t, err)
		_, err = repo.Create(ctx, order)
		require.NoError(t, err)
	}

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "A-1", active[0].Number)
	assert.Equal(t, []string{"grill", "fry"}, active[0].Stations)
	assert.Equal(t, int64(1), active[0].Version)
}

func TestRepository_UpdateIfVersion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, _, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	repo := NewRepository(db)
	ctx := context.Background()
	order, err := domain.NewOrder(0, "A-1", nil, time.Now().UTC())
	require.NoError(t, err)
	saved, err := repo.Create(ctx, order)
	require.NoError(t, err)

	next := saved.Clone()
	require.NoError(t, next.Advance(domain.StatusPreparing, time.Now().UTC()))
	updated, err := repo.UpdateIfVersion(ctx, &next, saved.Version)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPreparing, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	stale := saved.Clone()
	require.NoError(t, stale.Override(domain.StatusCancelled, time.Now().UTC()))
	_, err = repo.UpdateIfVersion(ctx, &stale, saved.Version)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.NotNil(t, conflict.Current)
	assert.Equal(t, int64(2), conflict.Current.Version)
}

func TestRepository_DeleteAndPurge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, _, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	repo := NewRepository(db)
	ctx := context.Background()
	order, err := domain.NewOrder(0, "A-1", nil, time.Now().UTC())
	require.NoError(t, err)
	saved, err := repo.Create(ctx, order)
	require.NoError(t, err)

	done := saved.Clone()
	require.NoError(t, done.Override(domain.StatusCompleted, time.Now().UTC()))
	_, err = repo.UpdateIfVersion(ctx, &done, saved.Version)
	require.NoError(t, err)

	purged, err := repo.PurgeTerminal(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	assert.ErrorIs(t, repo.Delete(ctx, saved.ID), domain.ErrNotFound)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *capturePublisher) Publish(_ context.Context, event domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *capturePublisher) DisconnectAll() int { return 0 }

var _ ports.EventRelay = (*capturePublisher)(nil)

func TestIdempotencyStore_SaveAndConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, _, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()
	ctx := context.Background()
	store := NewIdempotencyStore(db)

	missing, err := store.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	record := ports.IdempotencyRecord{Key: "t-1", RequestHash: "h-1", OrderID: 5, ResultVersion: 2}
	saved, err := store.Save(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.ResultVersion)

	again, err := store.Save(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, saved.CreatedAt.Unix(), again.CreatedAt.Unix())

	record.RequestHash = "h-2"
	existing, err := store.Save(ctx, record)
	require.ErrorIs(t, err, ports.ErrIdempotencyConflict)
	assert.Equal(t, "h-1", existing.RequestHash)

	purged, err := store.PurgeBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestNotifier_RelaysThroughListener(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, dsn, cleanup := setupOrdersPostgresContainer(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &capturePublisher{}
	listener := NewListener(dsn, nil)
	go func() { _ = listener.Run(ctx, sink) }()

	notifier := NewNotifier(db)
	order := domain.Order{ID: 3, Number: "A-3", Status: domain.StatusReady, Version: 4, StatusEnteredAt: time.Now().UTC()}
	require.Eventually(t, func() bool {
		_ = notifier.Publish(ctx, domain.UpdatedEvent(order))
		return sink.count() > 0
	}, 10*time.Second, 200*time.Millisecond)

	sink.mu.Lock()
	got := sink.events[0]
	sink.mu.Unlock()
	assert.Equal(t, domain.EventOrderUpdated, got.Type)
	require.NotNil(t, got.Order)
	assert.Equal(t, int64(4), got.Order.Version)
}
