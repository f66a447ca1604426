package postgres

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/http/mapper"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

type recordingRelay struct {
	mu          sync.Mutex
	events      []domain.Event
	disconnects int
}

func (r *recordingRelay) Publish(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingRelay) DisconnectAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
	return 2
}

func TestListener_ReconnectDisconnectsSubscribers(t *testing.T) {
	l := &Listener{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	relay := &recordingRelay{}

	l.handle(context.Background(), relay, nil)

	assert.Equal(t, 1, relay.disconnects)
	assert.Empty(t, relay.events)
}

func TestListener_ForwardsNotifications(t *testing.T) {
	l := &Listener{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	relay := &recordingRelay{}
	payload, err := json.Marshal(mapper.FromDomainEvent(domain.RemovedEvent(7)))
	require.NoError(t, err)

	l.handle(context.Background(), relay, &pq.Notification{Channel: EventsChannel, Extra: string(payload)})
	l.handle(context.Background(), relay, &pq.Notification{Channel: EventsChannel, Extra: "{not json"})

	require.Len(t, relay.events, 1)
	assert.Equal(t, domain.EventOrderRemoved, relay.events[0].Type)
	assert.Equal(t, int64(7), relay.events[0].OrderID)
	assert.Zero(t, relay.disconnects)
}
