package observability

import (
	"context"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	ordertypes "github.com/Apurer/order-autoadvance/internal/domains/orders/application/types"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

const tracerName = "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/observability/service"

// Service decorates the orders service with tracing, logging, and metrics.
type Service struct {
	inner   ports.Service
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics serviceMetrics
}

type Option func(*Service)

// WithLogger injects a slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTracer injects a tracer implementation.
func WithTracer(tr trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tr
	}
}

// WithMeter injects the meter used to create service metrics instruments.
func WithMeter(m metric.Meter) Option {
	return func(s *Service) {
		s.metrics = newServiceMetrics(m)
	}
}

// New wires a decorator around the core service.
func New(inner ports.Service, opts ...Option) ports.Service {
	s := &Service{
		inner:   inner,
		tracer:  nooptrace.NewTracerProvider().Tracer(tracerName),
		logger:  defaultLogger(),
		metrics: newServiceMetrics(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	if s.logger == nil {
		s.logger = defaultLogger()
	}
	return s
}

func (s *Service) PlaceOrder(ctx context.Context, input ordertypes.PlaceOrderInput) (*domain.Order, error) {
	ctx, span := s.startSpan(ctx, "OrderService.PlaceOrder", attribute.String("order.number", input.Number))
	defer span.End()

	s.logInfo(ctx, "placing order", slog.String("order.number", input.Number))
	result, err := s.inner.PlaceOrder(ctx, input)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to place order", slog.String("order.number", input.Number))
	}
	s.metrics.recordPlaced(ctx)
	s.logInfo(ctx, "order placed", slog.Int64("order.id", result.ID), slog.String("order.number", result.Number))
	return result, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	ctx, span := s.startSpan(ctx, "OrderService.GetOrder", attribute.Int64("order.id", id))
	defer span.End()

	result, err := s.inner.GetOrder(ctx, id)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to load order", slog.Int64("order.id", id))
	}
	return result, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*domain.Order, error) {
	ctx, span := s.startSpan(ctx, "OrderService.ListActive")
	defer span.End()

	result, err := s.inner.ListActive(ctx)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to list active orders")
	}
	span.SetAttributes(attribute.Int("order.result.count", len(result)))
	return result, nil
}

// UpdateStatus applies a conditional transition with instrumentation. Version conflicts
// are expected under concurrent clients and are logged at info level.
func (s *Service) UpdateStatus(ctx context.Context, input ordertypes.UpdateStatusInput) (*domain.Order, error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("order.id", input.ID),
		attribute.String("order.status.target", input.Status),
		attribute.Int64("order.version.expected", input.ExpectedVersion),
		attribute.String("order.transition.source", string(input.Source)),
	}
	ctx, span := s.startSpan(ctx, "OrderService.UpdateStatus", attrs...)
	defer span.End()

	result, err := s.inner.UpdateStatus(ctx, input)
	if err != nil {
		kind := domain.Classify(err)
		s.metrics.recordRejected(ctx, kind)
		if kind == domain.FailureConflict {
			span.SetAttributes(attribute.Bool("order.version.conflict", true))
			s.logInfo(ctx, "order status update conflicted",
				slog.Int64("order.id", input.ID),
				slog.Int64("order.version.expected", input.ExpectedVersion))
			return nil, err
		}
		return nil, s.handleError(ctx, span, err, "failed to update order status",
			slog.Int64("order.id", input.ID), slog.String("order.status.target", input.Status))
	}
	s.metrics.recordTransitioned(ctx, result.Status, input.Source)
	s.logInfo(ctx, "order status updated",
		slog.Int64("order.id", result.ID),
		slog.String("order.status", string(result.Status)),
		slog.Int64("order.version", result.Version),
		slog.String("order.transition.source", string(input.Source)))
	return result, nil
}

func (s *Service) RemoveOrder(ctx context.Context, id int64) error {
	ctx, span := s.startSpan(ctx, "OrderService.RemoveOrder", attribute.Int64("order.id", id))
	defer span.End()

	if err := s.inner.RemoveOrder(ctx, id); err != nil {
		return s.handleError(ctx, span, err, "failed to remove order", slog.Int64("order.id", id))
	}
	s.logInfo(ctx, "order removed", slog.Int64("order.id", id))
	return nil
}

func (s *Service) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := s.startSpan(ctx, "OrderService.PurgeTerminal", attribute.String("order.retention", olderThan.String()))
	defer span.End()

	purged, err := s.inner.PurgeTerminal(ctx, olderThan)
	if err != nil {
		return 0, s.handleError(ctx, span, err, "failed to purge terminal orders")
	}
	span.SetAttributes(attribute.Int64("order.purged.count", purged))
	s.logInfo(ctx, "purged terminal orders", slog.Int64("count", purged))
	return purged, nil
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *Service) logInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (s *Service) handleError(ctx context.Context, span trace.Span, err error, msg string, attrs ...slog.Attr) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	attrs = append(attrs, slog.String("error", err.Error()))
	s.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
	return err
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serviceMetrics struct {
	ordersPlaced       metric.Int64Counter
	ordersTransitioned metric.Int64Counter
	updatesRejected    metric.Int64Counter
}

func newServiceMetrics(m metric.Meter) serviceMetrics {
	if m == nil {
		return serviceMetrics{}
	}
	placed, _ := m.Int64Counter("orders.service.placed", metric.WithDescription("Number of orders placed"))
	transitioned, _ := m.Int64Counter("orders.service.transitioned", metric.WithDescription("Number of committed status transitions"))
	rejected, _ := m.Int64Counter("orders.service.rejected", metric.WithDescription("Number of rejected status updates"))
	return serviceMetrics{
		ordersPlaced:       placed,
		ordersTransitioned: transitioned,
		updatesRejected:    rejected,
	}
}

func (m serviceMetrics) recordPlaced(ctx context.Context) {
	addCounter(ctx, m.ordersPlaced, 1)
}

func (m serviceMetrics) recordTransitioned(ctx context.Context, status domain.Status, source domain.Source) {
	addCounter(ctx, m.ordersTransitioned, 1,
		attribute.String("order.status", string(status)),
		attribute.String("order.transition.source", string(source)))
}

func (m serviceMetrics) recordRejected(ctx context.Context, kind domain.FailureKind) {
	addCounter(ctx, m.updatesRejected, 1, attribute.String("order.failure", kind.String()))
}

func addCounter(ctx context.Context, counter metric.Int64Counter, value int64, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

var _ ports.Service = (*Service)(nil)
