package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	workerlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	ordermemory "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/memory"
	ordersobs "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/observability"
	orderpostgres "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/persistence/postgres"
	ordersapp "github.com/Apurer/order-autoadvance/internal/domains/orders/application"
	platformobservability "github.com/Apurer/order-autoadvance/internal/platform/observability"
	platformpostgres "github.com/Apurer/order-autoadvance/internal/platform/postgres"
	orderactivities "github.com/Apurer/order-autoadvance/internal/platform/temporal/activities/orders"
	orderworkflows "github.com/Apurer/order-autoadvance/internal/platform/temporal/workflows/orders"
)

func main() {
	ctx := context.Background()
	const serviceName = "orders-worker"
	instruments, shutdown, err := platformobservability.Init(ctx, serviceName)
	if err != nil {
		log.Fatalf("failed to initialize observability: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			instruments.Logger.Error("failed to shutdown observability", slog.String("error", err.Error()))
		}
	}()
	logger := instruments.Logger

	service, cleanupRepo := buildOrderService(ctx, logger)
	defer cleanupRepo()
	orderService := ordersobs.New(
		service,
		ordersobs.WithLogger(logger),
		ordersobs.WithTracer(instruments.Tracer("internal.orders.application")),
		ordersobs.WithMeter(instruments.Meter("internal.orders.application")),
	)
	activities := orderactivities.NewActivities(orderService)

	tracerOptions := temporalotel.TracerOptions{Tracer: instruments.Tracer("temporal-worker")}
	tracingInterceptor, err := temporalotel.NewTracingInterceptor(tracerOptions)
	if err != nil {
		logger.Error("failed to configure Temporal tracing interceptor", slog.String("error", err.Error()))
		os.Exit(1)
	}
	clientOptions := client.Options{
		HostPort:  envOrDefault("TEMPORAL_ADDRESS", client.DefaultHostPort),
		Namespace: envOrDefault("TEMPORAL_NAMESPACE", client.DefaultNamespace),
		Logger:    workerlog.NewStructuredLogger(logger),
	}
	clientOptions.Interceptors = append(clientOptions.Interceptors, tracingInterceptor)
	temporalClient, err := client.Dial(clientOptions)
	if err != nil {
		logger.Error("failed to create Temporal client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, orderworkflows.StatusTransitionTaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(orderworkflows.StatusTransitionWorkflow, workflow.RegisterOptions{Name: orderworkflows.StatusTransitionWorkflowName})
	w.RegisterActivityWithOptions(activities.ApplyStatusTransition, activity.RegisterOptions{Name: orderactivities.ApplyStatusTransitionActivityName})

	logger.Info("worker listening", slog.String("taskQueue", orderworkflows.StatusTransitionTaskQueue), slog.String("namespace", clientOptions.Namespace))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("Temporal worker exited with error", slog.String("error", err.Error()))
		return
	}
	logger.Info("Temporal worker stopped")
}

// buildOrderService publishes through NOTIFY when postgres is available so API
// replicas relay worker-applied transitions to their stream subscribers.
func buildOrderService(ctx context.Context, logger *slog.Logger) (*ordersapp.Service, func()) {
	db, cleanup := platformpostgres.ConnectFromEnv(ctx, logger)
	if db == nil {
		logger.Warn("worker running against an in-memory order repository; transitions will not reach the API")
		return ordersapp.NewService(ordermemory.NewRepository(),
			ordersapp.WithIdempotencyStore(ordermemory.NewIdempotencyStore()),
			ordersapp.WithLogger(logger),
		), cleanup
	}
	logger.Info("worker order repository configured with postgres")
	return ordersapp.NewService(
		orderpostgres.NewRepository(db),
		ordersapp.WithPublisher(orderpostgres.NewNotifier(db)),
		ordersapp.WithIdempotencyStore(orderpostgres.NewIdempotencyStore(db)),
		ordersapp.WithLogger(logger),
	), cleanup
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
