// Package autoadvance boots the order auto-advance engine next to its board server.
package autoadvance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	orderserver "github.com/Apurer/order-autoadvance/go"
	engine "github.com/Apurer/order-autoadvance/internal/autoadvance"
	ordersclient "github.com/Apurer/order-autoadvance/internal/clients/http/orders"
	"github.com/Apurer/order-autoadvance/internal/clients/realtime"
	platformobservability "github.com/Apurer/order-autoadvance/internal/platform/observability"
)

const serviceName = "order-autoadvance"

// Run starts the engine and the board server and blocks until ctx is cancelled or
// either of them fails.
func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	engineCfg, err := cfg.Engine()
	if err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
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

	gateway, err := ordersclient.NewClient(cfg.OrderServiceURL, ordersclient.WithBearerToken(cfg.Token))
	if err != nil {
		return err
	}
	stream, err := realtime.NewStream(cfg.OrderStreamURL, realtime.WithBearerToken(cfg.Token), realtime.WithLogger(logger))
	if err != nil {
		return err
	}
	eng, err := engine.New(engineCfg, gateway,
		engine.WithEventStream(stream),
		engine.WithLogger(logger),
		engine.WithTracer(instruments.Tracer("internal.autoadvance")),
		engine.WithMeter(instruments.Meter("internal.autoadvance")),
	)
	if err != nil {
		return err
	}

	logger.Info("using order service",
		slog.String("order.service", cfg.OrderServiceURL),
		slog.String("order.stream", cfg.OrderStreamURL),
	)
	g, ctx := errgroup.WithContext(ctx)
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.BoardPort,
		Handler:           newBoardRouter(eng),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("board listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		eng.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newBoardRouter(board orderserver.BoardEngine) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName))
	return orderserver.NewBoardRouterWithGinEngine(router, orderserver.NewBoardAPI(board))
}
