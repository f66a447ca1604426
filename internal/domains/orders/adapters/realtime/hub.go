// Package realtime fans order events out to websocket subscribers.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/http/mapper"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

var _ ports.EventRelay = (*Hub)(nil)

// Hub broadcasts events to every connected subscriber. A subscriber that falls
// behind is disconnected; clients recover by resyncing on reconnect.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

type subscriber struct {
	frames chan mapper.Event
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.frames) })
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: map[*subscriber]struct{}{}, logger: logger}
}

// Publish delivers event to all current subscribers without blocking.
func (h *Hub) Publish(_ context.Context, event domain.Event) error {
	frame := mapper.FromDomainEvent(event)
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.frames <- frame:
		default:
			h.logger.Warn("disconnecting slow realtime subscriber")
			delete(h.subs, sub)
			sub.close()
		}
	}
	return nil
}

// DisconnectAll closes every subscriber and reports how many were connected.
func (h *Hub) DisconnectAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.subs)
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.close()
	}
	return n
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() *subscriber {
	sub := &subscriber{frames: make(chan mapper.Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		sub.close()
	}
	h.mu.Unlock()
}

// Handler serves the websocket stream.
func (h *Hub) Handler() websocket.Handler {
	return func(conn *websocket.Conn) {
		defer conn.Close()
		sub := h.subscribe()
		defer h.unsubscribe(sub)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			var discard []byte
			for {
				if err := websocket.Message.Receive(conn, &discard); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case frame, ok := <-sub.frames:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := websocket.JSON.Send(conn, frame); err != nil {
					h.logger.Info("realtime subscriber write failed", slog.String("error", err.Error()))
					return
				}
			}
		}
	}
}
