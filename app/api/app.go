// Package api is the claims engine's HTTP service: wallet claim views,
// cache refresh, and claim-all submission.
package api

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/app/api/types"
	"github.com/S01-Issuer/claims-engine/pkg/cache"
	"github.com/S01-Issuer/claims-engine/pkg/cas"
	"github.com/S01-Issuer/claims-engine/pkg/claims"
	"github.com/S01-Issuer/claims-engine/pkg/config"
	"github.com/S01-Issuer/claims-engine/pkg/hypersync"
	"github.com/S01-Issuer/claims-engine/pkg/logging"
	"github.com/S01-Issuer/claims-engine/pkg/orderbook"
	"github.com/S01-Issuer/claims-engine/pkg/reconcile"
	redisconn "github.com/S01-Issuer/claims-engine/pkg/redis"
	"github.com/S01-Issuer/claims-engine/pkg/trades"
	"github.com/S01-Issuer/claims-engine/pkg/utils"
)

func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	registryPath := utils.Env("REGISTRY_PATH", "registry.yaml")
	registry, err := config.Load(registryPath)
	if err != nil {
		logger.Fatal("Unable to load claims registry", zap.Error(err))
	}
	logger.Info("Loaded claims registry",
		zap.Int("asset_groups", len(registry.Groups)),
		zap.Int("claim_sources", len(registry.AllSources())))

	signerKey := utils.Env("SIGNER_KEY", "")
	if signerKey == "" {
		logger.Fatal("SIGNER_KEY environment variable is required")
	}
	signer, err := claims.NewLocalSigner(signerKey)
	if err != nil {
		logger.Fatal("Unable to parse signing key", zap.Error(err))
	}

	gateway := cas.NewClient(logger, cas.Opts{})
	indexer := hypersync.NewClient(logger, hypersync.Opts{
		Endpoint: registry.Network.IndexerEndpoint,
	})
	reconciler := reconcile.New(indexer, registry.Orderbook(), registry.Topic(), logger)
	tradeSource := trades.NewClient(logger, trades.Opts{
		Endpoint: utils.Env("TRADES_ENDPOINT", "http://localhost:8081"),
	})

	resultTTL := utils.EnvDuration("RESULT_CACHE_TTL", claims.DefaultResultTTL)

	// The in-memory store is the default; Redis spans engine replicas.
	var resultStore cache.Store[*claims.AggregatedResult]
	var memoryCache *cache.TTL[*claims.AggregatedResult]
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		rdb, redisErr := redisconn.NewClient(ctx, logger)
		if redisErr != nil {
			logger.Fatal("Unable to connect to Redis", zap.Error(redisErr))
		}
		resultStore = cache.NewRedisTTL[*claims.AggregatedResult](rdb, resultTTL, "claims:wallet", logger)
	} else {
		memoryCache = cache.NewTTL[*claims.AggregatedResult](resultTTL)
		resultStore = memoryCache
	}

	service := claims.NewService(logger, claims.Opts{
		Registry:    registry,
		Gateway:     gateway,
		Reconciler:  reconciler,
		Trades:      tradeSource,
		Signer:      signer,
		ResultCache: resultStore,
		LoadTimeout: utils.EnvDuration("WALLET_LOAD_TIMEOUT", 60*time.Second),
	})

	var assembler *orderbook.Assembler
	if rpcURL := registry.Network.ChainRPC; rpcURL != "" {
		backend, dialErr := ethclient.DialContext(ctx, rpcURL)
		if dialErr != nil {
			logger.Fatal("Unable to connect to chain RPC", zap.Error(dialErr))
		}
		assembler, err = orderbook.New(backend, signer, logger)
		if err != nil {
			logger.Fatal("Unable to initialize transaction assembler", zap.Error(err))
		}
	} else {
		logger.Warn("No chain RPC configured, claim submission disabled")
	}

	app := &types.App{
		Registry:    registry,
		Service:     service,
		Assembler:   assembler,
		ResultCache: memoryCache,
		Logger:      logger,
	}

	if memoryCache != nil {
		c := cron.New()
		if _, cronErr := c.AddFunc("@every 1m", func() {
			if removed := memoryCache.Sweep(); removed > 0 {
				logger.Debug("Swept expired wallet cache entries", zap.Int("removed", removed))
			}
		}); cronErr != nil {
			logger.Fatal("Unable to schedule cache sweeper", zap.Error(cronErr))
		}
		app.Cron = c
	}

	if err := NewServer(app); err != nil {
		logger.Fatal("Unable to initialize server", zap.Error(err))
	}
	return app
}
