package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/S01-Issuer/claims-engine/app/api"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := api.Initialize(ctx)

	app.Start(ctx)
}
