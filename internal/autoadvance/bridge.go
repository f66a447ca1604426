package autoadvance

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

// runBridge keeps the realtime subscription alive, reconnecting with exponential
// backoff until ctx ends or the endpoint rejects the engine's credentials.
func (e *Engine) runBridge(ctx context.Context) {
	defer e.wg.Done()
	reconnect := backoff.NewExponentialBackOff()
	reconnect.InitialInterval = e.cfg.ReconnectBase
	reconnect.MaxInterval = e.cfg.ReconnectMax
	reconnect.Multiplier = 2
	reconnect.RandomizationFactor = 0
	reconnect.MaxElapsedTime = 0
	reconnect.Reset()

	for {
		sub, err := e.stream.Connect(ctx)
		if err == nil {
			reconnect.Reset()
			if !e.post(e.onConnected) {
				_ = sub.Close()
				return
			}
			e.pump(ctx, sub)
			err = sub.Err()
			_ = sub.Close()
			if !e.post(func() { e.onDisconnected(err) }) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ports.ErrStreamUnauthorized) {
			e.post(func() {
				e.raise(Condition{Kind: ConditionStreamUnauthorized, Message: err.Error()})
				e.logger.LogAttrs(e.ctx, slog.LevelError, "realtime stream rejected credentials, not reconnecting",
					slog.String("error", err.Error()))
			})
			return
		}
		delay := reconnect.NextBackOff()
		attrs := []slog.Attr{slog.Duration("retry.in", delay)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		e.logger.LogAttrs(ctx, slog.LevelWarn, "realtime stream unavailable, reconnecting", attrs...)
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(delay):
		}
	}
}

func (e *Engine) pump(ctx context.Context, sub ports.Subscription) {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !e.post(func() { e.applyEvent(event) }) {
				return
			}
		}
	}
}

func (e *Engine) onConnected() {
	e.connected = true
	e.synced = false
	e.logger.LogAttrs(e.ctx, slog.LevelInfo, "order stream connected, resyncing")
	e.requestResync()
}

// onDisconnected keeps schedules running; the offline gate limits what they may do.
func (e *Engine) onDisconnected(err error) {
	e.connected = false
	e.synced = false
	attrs := []slog.Attr{slog.Int("orders.tracked", e.store.Len())}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	e.logger.LogAttrs(e.ctx, slog.LevelWarn, "order stream disconnected", attrs...)
}

// requestResync fetches the full active set. Requests made while one is running
// collapse into a single follow-up.
func (e *Engine) requestResync() {
	if e.resyncing {
		e.resyncAgain = true
		return
	}
	e.resyncing = true
	if e.resyncTimer != nil {
		e.resyncTimer.Stop()
		e.resyncTimer = nil
	}
	e.goAsync(func(ctx context.Context) func() {
		ctx, span := e.tracer.Start(ctx, "autoadvance.FetchActiveOrders")
		defer span.End()
		orders, err := e.gateway.FetchActiveOrders(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("orders.count", len(orders)))
		}
		return func() { e.applyResync(orders, err) }
	})
}

// applyResync makes the store match the server's active set.
// Orders the stream removed or pushed while the fetch was in flight keep their
// streamed state.
func (e *Engine) applyResync(orders []domain.Order, err error) {
	e.resyncing = false
	removed, upserted := e.removedDuringResync, e.upsertedDuringResync
	e.removedDuringResync = map[int64]struct{}{}
	e.upsertedDuringResync = map[int64]struct{}{}
	if err != nil {
		if e.ctx.Err() != nil {
			return
		}
		e.logger.LogAttrs(e.ctx, slog.LevelWarn, "order resync failed",
			slog.Duration("retry.in", e.cfg.ResyncRetry),
			slog.String("error", err.Error()))
		e.resyncAgain = false
		e.resyncTimer = e.clock.AfterFunc(e.cfg.ResyncRetry, func() {
			e.post(e.requestResync)
		})
		return
	}

	seen := make(map[int64]struct{}, len(orders))
	for _, order := range orders {
		seen[order.ID] = struct{}{}
		if _, gone := removed[order.ID]; gone {
			continue
		}
		e.upsert(order)
	}
	for _, id := range e.store.IDs() {
		_, ok := seen[id]
		_, pushed := upserted[id]
		if !ok && !pushed {
			e.store.Remove(id)
		}
	}
	clear(e.stale)
	if e.connected {
		e.synced = true
		clear(e.offlineAdvanced)
	}
	e.scheduler.ReconcileAll()
	e.logger.LogAttrs(e.ctx, slog.LevelInfo, "order resync applied",
		slog.Int("orders.active", len(orders)),
		slog.Bool("online", e.online()))

	if e.resyncAgain {
		e.resyncAgain = false
		e.requestResync()
	}
}
