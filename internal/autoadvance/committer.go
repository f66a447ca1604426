package autoadvance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

// autoCommit is the scheduler's commit hook.
func (e *Engine) autoCommit(id int64, target domain.Status, expectedVersion int64) {
	if !e.online() {
		e.offlineAdvanced[id] = struct{}{}
	}
	e.commit(id, target, expectedVersion, domain.SourceAuto)
}

// commit applies the transition optimistically and sends it to the order service.
// It reports false when the order is busy, gone, or no longer at expectedVersion.
func (e *Engine) commit(id int64, target domain.Status, expectedVersion int64, source domain.Source) bool {
	if _, busy := e.committing[id]; busy {
		return false
	}
	order, ok := e.store.Get(id)
	if !ok || order.Version != expectedVersion {
		return false
	}
	next := order.Clone()
	if err := next.Transition(target, source, e.clock.Now()); err != nil {
		e.logger.LogAttrs(e.ctx, slog.LevelWarn, "transition rejected locally",
			slog.Int64("order.id", id),
			slog.String("order.status", string(order.Status)),
			slog.String("order.status.target", string(target)),
			slog.String("error", err.Error()))
		return false
	}
	update := ports.StatusUpdate{
		OrderID:         id,
		Target:          target,
		ExpectedVersion: expectedVersion,
		Source:          source,
		TransitionID:    uuid.NewString(),
	}
	e.committing[id] = update
	e.store.ApplyOptimistic(next)
	e.send(update)
	return true
}

func (e *Engine) send(update ports.StatusUpdate) {
	e.committing[update.OrderID] = update
	e.goAsync(func(ctx context.Context) func() {
		ctx, span := e.tracer.Start(ctx, "autoadvance.UpdateOrderStatus", trace.WithAttributes(
			attribute.Int64("order.id", update.OrderID),
			attribute.String("order.status.target", string(update.Target)),
			attribute.Int64("order.version.expected", update.ExpectedVersion),
			attribute.String("order.transition.source", string(update.Source)),
			attribute.String("order.transition.id", update.TransitionID),
		))
		defer span.End()

		order, err := e.gateway.UpdateOrderStatus(ctx, update)
		if err != nil && domain.Classify(err) != domain.FailureConflict {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return func() { e.resolve(update, order, err) }
	})
}

// resolve applies the order service's answer to a commit.
func (e *Engine) resolve(update ports.StatusUpdate, result *domain.Order, err error) {
	id := update.OrderID
	delete(e.committing, id)
	if _, tracked := e.store.Get(id); !tracked {
		e.retries.Drop(id)
		delete(e.pendingOverride, id)
		return
	}
	optimisticVersion := update.ExpectedVersion + 1
	attrs := []slog.Attr{
		slog.Int64("order.id", id),
		slog.String("order.status.target", string(update.Target)),
		slog.Int64("order.version.expected", update.ExpectedVersion),
		slog.String("order.transition.source", string(update.Source)),
	}

	switch domain.Classify(err) {
	case domain.FailureNone:
		e.retries.Drop(id)
		if result != nil {
			e.upsert(*result)
		}
		e.store.Confirm(id, optimisticVersion)
		e.metrics.recordCommitted(e.ctx, update.Target, update.Source)
		e.logger.LogAttrs(e.ctx, slog.LevelInfo, "order transition committed", attrs...)
	case domain.FailureConflict:
		e.retries.Drop(id)
		e.metrics.recordConflict(e.ctx, update.Source)
		var (
			conflict *domain.ConflictError
			current  *domain.Order
		)
		if errors.As(err, &conflict) && conflict.Current != nil {
			c := conflict.Current.Clone()
			current = &c
		}
		if current == nil {
			e.stale[id] = struct{}{}
		}
		e.store.Discard(id, optimisticVersion, current)
		e.logger.LogAttrs(e.ctx, slog.LevelInfo, "order transition lost a version race", append(attrs, slog.Bool("current.known", current != nil))...)
		if current == nil {
			e.requestResync()
		}
		if update.Source == domain.SourceManual {
			e.reissueOverride(update, current)
		}
	case domain.FailureTransient:
		if errors.Is(err, context.Canceled) && e.ctx.Err() != nil {
			return
		}
		entry := RetryEntry{
			OrderID:         id,
			Target:          update.Target,
			ExpectedVersion: update.ExpectedVersion,
			Source:          update.Source,
			TransitionID:    update.TransitionID,
		}
		if !e.retries.Failed(entry) {
			e.failPermanently(update, fmt.Errorf("retries exhausted: %w", err))
			break
		}
		e.metrics.recordRetry(e.ctx)
		queued, _ := e.retries.Get(id)
		e.logger.LogAttrs(e.ctx, slog.LevelWarn, "order transition failed, retrying", append(attrs,
			slog.Int("attempt", queued.Attempt),
			slog.Time("retry.at", queued.NextRetryAt),
			slog.String("error", err.Error()))...)
	default:
		e.failPermanently(update, err)
	}
	e.afterResolve(id)
}

// failPermanently reverts the optimistic update and disables auto-advance for the
// order for the rest of the session.
func (e *Engine) failPermanently(update ports.StatusUpdate, err error) {
	id := update.OrderID
	reason := err.Error()
	e.retries.Drop(id)
	e.paused[id] = reason
	e.store.Discard(id, update.ExpectedVersion+1, nil)
	e.store.Disable(id, reason)

	kind := ConditionPermanentFailure
	if update.Source == domain.SourceManual {
		kind = ConditionOverrideRejected
	}
	e.raise(Condition{Kind: kind, OrderID: id, Target: string(update.Target), Message: reason})
	e.metrics.recordPermanentFailure(e.ctx)
	e.logger.LogAttrs(e.ctx, slog.LevelError, "order transition rejected permanently",
		slog.Int64("order.id", id),
		slog.String("order.status.target", string(update.Target)),
		slog.String("order.transition.source", string(update.Source)),
		slog.String("error", reason))
}

func (e *Engine) afterResolve(id int64) {
	if target, ok := e.pendingOverride[id]; ok {
		delete(e.pendingOverride, id)
		if err := e.override(id, target); err != nil {
			e.raise(Condition{Kind: ConditionOverrideRejected, OrderID: id, Target: string(target), Message: err.Error()})
		}
	}
	e.scheduler.Reconcile(id)
}

// dispatchRetry re-sends a queued transition with its original transition id, unless
// the order has moved on since the failure.
func (e *Engine) dispatchRetry(entry RetryEntry) {
	order, ok := e.store.Get(entry.OrderID)
	if !ok || !e.store.IsOptimistic(entry.OrderID) ||
		order.Version != entry.ExpectedVersion+1 || order.Status != entry.Target {
		e.retries.Drop(entry.OrderID)
		e.scheduler.Reconcile(entry.OrderID)
		return
	}
	e.send(ports.StatusUpdate{
		OrderID:         entry.OrderID,
		Target:          entry.Target,
		ExpectedVersion: entry.ExpectedVersion,
		Source:          entry.Source,
		TransitionID:    entry.TransitionID,
	})
}

// override applies a staff status change on top of whatever the engine is doing.
func (e *Engine) override(id int64, target domain.Status) error {
	order, ok := e.store.Get(id)
	if !ok {
		return ErrUnknownOrder
	}
	e.paused[id] = domain.PauseReasonManualOverride
	delete(e.overrideReissued, id)
	e.scheduler.Cancel(id)
	if _, busy := e.committing[id]; busy {
		e.pendingOverride[id] = target
		return nil
	}
	if e.retries.Has(id) {
		e.retries.Drop(id)
		e.store.Discard(id, order.Version, nil)
		order, _ = e.store.Get(id)
	}
	if order.Status.Terminal() {
		return fmt.Errorf("%w: order is already %s", domain.ErrInvalidTransition, order.Status)
	}
	if !e.commit(id, target, order.Version, domain.SourceManual) {
		return domain.ErrInvalidTransition
	}
	return nil
}

// reissueOverride retries a staff override once against the server's current version.
func (e *Engine) reissueOverride(update ports.StatusUpdate, current *domain.Order) {
	id := update.OrderID
	if current != nil && !e.overrideReissued[id] {
		e.overrideReissued[id] = true
		if e.commit(id, update.Target, current.Version, domain.SourceManual) {
			return
		}
	}
	e.raise(Condition{
		Kind:    ConditionOverrideRejected,
		OrderID: id,
		Target:  string(update.Target),
		Message: "override lost a version race with a concurrent change",
	})
}
