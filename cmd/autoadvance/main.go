package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Apurer/order-autoadvance/internal/app/autoadvance"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := autoadvance.Run(ctx); err != nil {
		log.Fatalf("auto-advance exited: %v", err)
	}
}
