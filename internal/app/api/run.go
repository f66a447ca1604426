package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	workerlog "go.temporal.io/sdk/log"
	"golang.org/x/sync/errgroup"

	orderserver "github.com/Apurer/order-autoadvance/go"
	ordermemory "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/memory"
	ordersobs "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/observability"
	orderpostgres "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/persistence/postgres"
	orderrealtime "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/realtime"
	orderworkflows "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/workflows"
	ordersapp "github.com/Apurer/order-autoadvance/internal/domains/orders/application"
	orderports "github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
	"github.com/Apurer/order-autoadvance/internal/platform/migrations"
	platformobservability "github.com/Apurer/order-autoadvance/internal/platform/observability"
	platformpostgres "github.com/Apurer/order-autoadvance/internal/platform/postgres"
)

const serviceName = "orders-api"

// Run boots the order HTTP API with observability, persistence, the realtime hub and
// workflows wired. It returns when ctx is cancelled or the server fails.
func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	instruments, shutdown, err := platformobservability.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			instruments.Logger.Error("failed to shutdown observability", slog.String("error", err.Error()))
		}
	}()
	logger := instruments.Logger

	g, ctx := errgroup.WithContext(ctx)
	hub := orderrealtime.NewHub(logger)
	backend := buildOrderBackend(ctx, cfg, logger, hub)
	defer backend.cleanup()
	if backend.listener != nil {
		g.Go(func() error {
			if err := backend.listener.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("order event listener: %w", err)
			}
			return nil
		})
	}

	coreService := ordersapp.NewService(backend.repo,
		ordersapp.WithPublisher(backend.publisher),
		ordersapp.WithIdempotencyStore(backend.keys),
		ordersapp.WithLogger(logger),
	)
	orderService := ordersobs.New(
		coreService,
		ordersobs.WithLogger(logger),
		ordersobs.WithTracer(instruments.Tracer("internal.orders.application")),
		ordersobs.WithMeter(instruments.Meter("internal.orders.application")),
	)
	var workflows orderports.WorkflowOrchestrator = orderworkflows.NewInlineOrderWorkflows(orderService)
	if temporalClient, err := connectTemporalClient(cfg, instruments); err != nil {
		logger.Warn("Temporal workflows unavailable, running inline status transitions", slog.String("error", err.Error()))
	} else {
		defer temporalClient.Close()
		workflows = orderworkflows.NewTemporalOrderWorkflows(temporalClient)
		logger.Info("Temporal workflows enabled", slog.String("namespace", cfg.TemporalNamespace))
	}

	if cfg.OrderPurgeIntervalMinute > 0 {
		g.Go(func() error {
			runPurgeLoop(ctx, orderService, time.Duration(cfg.OrderPurgeIntervalMinute)*time.Minute, cfg.OrderRetention, logger)
			return nil
		})
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), otelgin.Middleware(serviceName))
	api := orderserver.NewOrderAPI(orderService, workflows, hub.Handler()).WithStreamToken(cfg.StreamToken)
	router := orderserver.NewRouterWithGinEngine(engine, orderserver.ApiHandleFunctions{OrderAPI: api})

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		logger.Info("order API listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("order API server exited", slog.String("addr", server.Addr), slog.String("error", err.Error()))
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type orderBackend struct {
	repo      orderports.Repository
	keys      orderports.IdempotencyStore
	publisher orderports.EventPublisher
	listener  *orderpostgres.Listener
	cleanup   func()
}

// buildOrderBackend prefers postgres, relaying events across replicas through
// LISTEN/NOTIFY, and falls back to memory with in-process fan-out.
func buildOrderBackend(ctx context.Context, cfg Config, logger *slog.Logger, hub *orderrealtime.Hub) orderBackend {
	memory := orderBackend{
		repo:      ordermemory.NewRepository(),
		keys:      ordermemory.NewIdempotencyStore(),
		publisher: hub,
		cleanup:   func() {},
	}
	if cfg.PostgresDSN == "" {
		logger.Warn("POSTGRES_DSN not set, falling back to in-memory order repository")
		return memory
	}
	db, cleanup := platformpostgres.ConnectDSN(ctx, cfg.PostgresDSN, logger)
	if db == nil {
		return memory
	}
	if err := migrations.Run(db); err != nil {
		logger.Warn("failed to migrate order schema, falling back to memory", slog.String("error", err.Error()))
		cleanup()
		return memory
	}
	logger.Info("order repository configured with postgres")
	return orderBackend{
		repo:      orderpostgres.NewRepository(db),
		keys:      orderpostgres.NewIdempotencyStore(db),
		publisher: orderpostgres.NewNotifier(db),
		listener:  orderpostgres.NewListener(cfg.PostgresDSN, logger),
		cleanup:   cleanup,
	}
}

func runPurgeLoop(ctx context.Context, service orderports.Service, interval, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := service.PurgeTerminal(ctx, retention)
			if err != nil {
				logger.Warn("terminal order purge failed", slog.String("error", err.Error()))
				continue
			}
			logger.Info("terminal orders purged", slog.Int64("count", purged))
		}
	}
}

func connectTemporalClient(cfg Config, instruments *platformobservability.Instruments) (client.Client, error) {
	if cfg.TemporalDisabled {
		return nil, errors.New("temporal disabled via TEMPORAL_DISABLED env")
	}
	tracerOptions := temporalotel.TracerOptions{}
	if instruments != nil {
		tracerOptions.Tracer = instruments.Tracer("temporal-client")
	}
	tracingInterceptor, err := temporalotel.NewTracingInterceptor(tracerOptions)
	if err != nil {
		return nil, err
	}
	options := client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    workerlog.NewStructuredLogger(effectiveLogger(instruments)),
	}
	options.Interceptors = append(options.Interceptors, tracingInterceptor)
	return client.Dial(options)
}

func effectiveLogger(instruments *platformobservability.Instruments) *slog.Logger {
	if instruments != nil && instruments.Logger != nil {
		return instruments.Logger
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
