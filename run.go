package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/speedrun-hq/linkrunner/pkg/circuitbreaker"
	"github.com/speedrun-hq/linkrunner/pkg/clock"
	"github.com/speedrun-hq/linkrunner/pkg/config"
	"github.com/speedrun-hq/linkrunner/pkg/feecache"
	"github.com/speedrun-hq/linkrunner/pkg/feeclient"
	"github.com/speedrun-hq/linkrunner/pkg/health"
	"github.com/speedrun-hq/linkrunner/pkg/ledger"
	"github.com/speedrun-hq/linkrunner/pkg/ledger/evm"
	"github.com/speedrun-hq/linkrunner/pkg/ledger/mocks"
	"github.com/speedrun-hq/linkrunner/pkg/logger"
	"github.com/speedrun-hq/linkrunner/pkg/orchestrator"
	"github.com/speedrun-hq/linkrunner/pkg/ratelimit"
	"github.com/speedrun-hq/linkrunner/pkg/store"
	"github.com/speedrun-hq/linkrunner/pkg/store/boltdb"
	"github.com/speedrun-hq/linkrunner/pkg/store/memory"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator with its reconciler and health server",
		Long:  `Loads the configuration from the environment (and .env when present) and runs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.NewZeroLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level, cfg.LoggerConfig.JSON)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.System{}

	st, err := openStore(cfg.StorePath, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("Failed to close store: %v", err)
		}
	}()

	l, err := openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}

	var fetcher feecache.Fetcher = ledger.NewFeeFetcher(l)
	if cfg.FeeOracleURL != "" {
		fetcher = feeclient.New(cfg.FeeOracleURL, log)
	}
	fees := feecache.New(fetcher, cfg.FeeCacheTTL, clk)
	refresher := feecache.NewRefresher(fees, cfg.Assets, cfg.FeeRefreshInterval, log)

	limiterStore, closeLimiter, err := openLimiterStore(ctx, cfg.RedisAddr, log)
	if err != nil {
		return err
	}
	defer closeLimiter()
	limiter := ratelimit.NewLimiter(limiterStore, clk, cfg.RateLimits, log)
	sweeper := ratelimit.NewSweeper(limiter, cfg.RateLimitSweepInterval, log)

	breakers := circuitbreaker.NewGroup(circuitbreaker.Config{
		Enabled:       cfg.CircuitBreaker.Enabled,
		Threshold:     cfg.CircuitBreaker.Threshold,
		FailureWindow: cfg.CircuitBreaker.WindowDuration,
		ResetTimeout:  cfg.CircuitBreaker.ResetTimeout,
	}, clk, log)

	svc, err := orchestrator.NewService(orchestrator.Config{
		Orchestrator:  cfg.OrchestratorAddress,
		Treasury:      cfg.TreasuryAddress,
		CreateLinkFee: cfg.CreateLinkFee,
		TxTimeout:     cfg.TxTimeout,
		Assets:        cfg.Assets,
	}, orchestrator.Deps{
		Store:    st,
		Ledger:   l,
		Fees:     fees,
		Limiter:  limiter,
		Breakers: breakers,
		Clock:    clk,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	reconciler := orchestrator.NewReconciler(st, svc, cfg.ReconcileInterval, cfg.WorkerCount, log)

	ready := func(ctx context.Context) error {
		_, err := st.PendingActionIDs(ctx)
		return err
	}
	healthServer := health.NewServer(cfg.MetricsPort, breakers, fees, ready, cfg.MetricsAPIKey, log)

	refresher.Start(ctx)
	sweeper.Start(ctx)
	reconciler.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- healthServer.Start()
	}()

	log.Info("linkrunner started for %d assets, orchestrator %s", len(cfg.Assets), cfg.OrchestratorAddress)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Received termination signal, shutting down gracefully...")
	case runErr = <-serverErr:
		if runErr != nil {
			log.Error("Health server stopped: %v", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down health server: %v", err)
	}
	reconciler.Stop()
	sweeper.Stop()
	refresher.Stop()

	log.Info("Shutdown complete")
	return runErr
}

func openStore(path string, log logger.Logger) (store.Store, error) {
	if path == config.MemoryStorePath {
		log.Notice("STORE_PATH is %q, state is lost on restart", path)
		return memory.New(), nil
	}
	st, err := boltdb.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	return st, nil
}

// openLedger dials the EVM ledger, or falls back to the in-memory ledger without an RPC URL
func openLedger(ctx context.Context, cfg *config.Config, log logger.Logger) (ledger.Ledger, error) {
	if cfg.LedgerRPCURL == "" {
		log.Notice("LEDGER_RPC_URL not set, running against the in-memory ledger")
		l := mocks.NewLedger()
		for _, asset := range cfg.Assets {
			l.SetFee(asset, big.NewInt(0))
		}
		return l, nil
	}

	client, err := evm.Dial(ctx, evm.Config{
		RPCURL:        cfg.LedgerRPCURL,
		PrivateKey:    cfg.PrivateKey,
		GasMultiplier: cfg.GasMultiplier,
	}, log)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(client.Signer(), cfg.OrchestratorAddress) {
		return nil, fmt.Errorf("ORCHESTRATOR_PRIVATE_KEY signs as %s, not ORCHESTRATOR_ADDRESS %s", client.Signer(), cfg.OrchestratorAddress)
	}
	return client, nil
}

// openLimiterStore shares rate limit buckets through Redis when an address is configured
func openLimiterStore(ctx context.Context, addr string, log logger.Logger) (ratelimit.Store, func(), error) {
	if addr == "" {
		return ratelimit.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	log.Info("Rate limit buckets stored in redis at %s", addr)
	return ratelimit.NewRedisStore(client), func() {
		if err := client.Close(); err != nil {
			log.Error("Failed to close redis client: %v", err)
		}
	}, nil
}
