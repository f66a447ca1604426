package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/Apurer/order-autoadvance/internal/app/api"
	orderpostgres "github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/persistence/postgres"
	ordersapp "github.com/Apurer/order-autoadvance/internal/domains/orders/application"
	platformpostgres "github.com/Apurer/order-autoadvance/internal/platform/postgres"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := api.LoadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	db, cleanup := platformpostgres.ConnectFromEnv(ctx, logger)
	defer cleanup()
	if db == nil {
		log.Fatal("POSTGRES_DSN not set or connection failed; cannot purge orders")
	}

	service := ordersapp.NewService(orderpostgres.NewRepository(db),
		ordersapp.WithIdempotencyStore(orderpostgres.NewIdempotencyStore(db)),
		ordersapp.WithLogger(logger),
	)
	retention := cfg.OrderRetention
	purged, err := service.PurgeTerminal(ctx, retention)
	if err != nil {
		log.Fatalf("failed to purge terminal orders: %v", err)
	}
	log.Printf("order purge completed: %d removed (retention %s)", purged, retention)
}
