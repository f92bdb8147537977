package types

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/pkg/cache"
	"github.com/S01-Issuer/claims-engine/pkg/claims"
	"github.com/S01-Issuer/claims-engine/pkg/config"
	"github.com/S01-Issuer/claims-engine/pkg/orderbook"
)

type App struct {
	// Static claims registry
	Registry *config.Registry

	// Claim aggregation
	Service *claims.Service

	// Claim submission; nil when no chain RPC is configured, in which
	// case the submit endpoint reports unavailable.
	Assembler *orderbook.Assembler

	// In-memory result cache, retained here so the sweeper can reach the
	// concrete type. Nil when the Redis store is in use.
	ResultCache *cache.TTL[*claims.AggregatedResult]

	// Cache sweeper
	Cron *cron.Cron

	// Zap Logger
	Logger *zap.Logger

	// HTTP Server
	Server *http.Server
}

// Start starts the application and blocks until the context is canceled.
func (a *App) Start(ctx context.Context) {
	if a.Cron != nil {
		a.Cron.Start()
	}

	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	a.Stop()
}

// Stop stops the application.
func (a *App) Stop() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
