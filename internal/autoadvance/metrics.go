package autoadvance

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
)

type engineMetrics struct {
	committed         metric.Int64Counter
	staleSchedules    metric.Int64Counter
	conflicts         metric.Int64Counter
	retries           metric.Int64Counter
	permanentFailures metric.Int64Counter
	staleUpserts      metric.Int64Counter
}

func newEngineMetrics(m metric.Meter) engineMetrics {
	if m == nil {
		return engineMetrics{}
	}
	committed, _ := m.Int64Counter("autoadvance.transitions.committed", metric.WithDescription("Transitions confirmed by the order service"))
	stale, _ := m.Int64Counter("autoadvance.stale_schedules", metric.WithDescription("Scheduled transitions dropped for outdated data"))
	conflicts, _ := m.Int64Counter("autoadvance.conflicts", metric.WithDescription("Commits rejected by a version conflict"))
	retries, _ := m.Int64Counter("autoadvance.retries", metric.WithDescription("Transient persistence failures queued for retry"))
	permanent, _ := m.Int64Counter("autoadvance.permanent_failures", metric.WithDescription("Transitions rejected permanently"))
	staleUpserts, _ := m.Int64Counter("autoadvance.stale_upserts", metric.WithDescription("Incoming records older than the local copy"))
	return engineMetrics{
		committed:         committed,
		staleSchedules:    stale,
		conflicts:         conflicts,
		retries:           retries,
		permanentFailures: permanent,
		staleUpserts:      staleUpserts,
	}
}

func (m engineMetrics) recordCommitted(ctx context.Context, target domain.Status, source domain.Source) {
	addCounter(ctx, m.committed,
		attribute.String("order.status", string(target)),
		attribute.String("order.transition.source", string(source)))
}

func (m engineMetrics) recordStaleSchedule(ctx context.Context) {
	addCounter(ctx, m.staleSchedules)
}

func (m engineMetrics) recordConflict(ctx context.Context, source domain.Source) {
	addCounter(ctx, m.conflicts, attribute.String("order.transition.source", string(source)))
}

func (m engineMetrics) recordRetry(ctx context.Context) {
	addCounter(ctx, m.retries)
}

func (m engineMetrics) recordPermanentFailure(ctx context.Context) {
	addCounter(ctx, m.permanentFailures)
}

func (m engineMetrics) recordStaleUpsert(ctx context.Context) {
	addCounter(ctx, m.staleUpserts)
}

func addCounter(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
