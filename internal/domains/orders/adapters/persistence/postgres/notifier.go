package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/http/mapper"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

// EventsChannel is the LISTEN/NOTIFY channel carrying order events between replicas.
const EventsChannel = "order_events"

var _ ports.EventPublisher = (*Notifier)(nil)

// Notifier publishes order events with pg_notify so every API replica can relay them
// to its own websocket subscribers.
type Notifier struct {
	db *gorm.DB
}

func NewNotifier(db *gorm.DB) *Notifier {
	return &Notifier{db: db}
}

func (n *Notifier) Publish(ctx context.Context, event domain.Event) error {
	if n == nil || n.db == nil {
		return errors.New("postgres notifier not configured")
	}
	payload, err := json.Marshal(mapper.FromDomainEvent(event))
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}
	return n.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", EventsChannel, string(payload)).Error
}

// Listener relays NOTIFY payloads from EventsChannel into a local publisher.
type Listener struct {
	listener *pq.Listener
	logger   *slog.Logger
}

// NewListener opens a dedicated LISTEN connection for dsn.
func NewListener(dsn string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("order event listener connection problem", slog.Int("event", int(ev)), slog.String("error", err.Error()))
		}
	}
	return &Listener{
		listener: pq.NewListener(dsn, 10*time.Second, time.Minute, report),
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, forwarding decoded events to sink.
func (l *Listener) Run(ctx context.Context, sink ports.EventRelay) error {
	if err := l.listener.Listen(EventsChannel); err != nil {
		return fmt.Errorf("listen %s: %w", EventsChannel, err)
	}
	defer l.listener.Close()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case notification := <-l.listener.Notify:
			l.handle(ctx, sink, notification)
		case <-ping.C:
			go func() {
				_ = l.listener.Ping()
			}()
		}
	}
}

// handle treats a nil notification as a reconnect: anything sent meanwhile is lost,
// so subscribers are dropped and resync when they reconnect.
func (l *Listener) handle(ctx context.Context, sink ports.EventRelay, notification *pq.Notification) {
	if notification == nil {
		dropped := sink.DisconnectAll()
		l.logger.Warn("order event listener reconnected, disconnecting realtime subscribers",
			slog.Int("subscribers", dropped))
		return
	}
	l.forward(ctx, sink, notification.Extra)
}

func (l *Listener) forward(ctx context.Context, sink ports.EventPublisher, payload string) {
	var frame mapper.Event
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		l.logger.Warn("dropping undecodable order event", slog.String("error", err.Error()))
		return
	}
	event, err := mapper.ToDomainEvent(frame)
	if err != nil {
		l.logger.Warn("dropping invalid order event", slog.String("error", err.Error()))
		return
	}
	if err := sink.Publish(ctx, event); err != nil {
		l.logger.Warn("failed to relay order event", slog.Int64("order.id", event.OrderID), slog.String("error", err.Error()))
	}
}
