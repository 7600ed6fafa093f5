package config

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/speedrun-hq/linkrunner/pkg/logger"
	"github.com/speedrun-hq/linkrunner/pkg/ratelimit"
)

// Config holds the configuration for the linkrunner service
type Config struct {
	LedgerRPCURL           string
	PrivateKey             string
	OrchestratorAddress    string
	TreasuryAddress        string
	CreateLinkFee          *big.Int
	Assets                 []string
	FeeOracleURL           string
	FeeCacheTTL            time.Duration
	FeeRefreshInterval     time.Duration
	TxTimeout              time.Duration
	ReconcileInterval      time.Duration
	WorkerCount            int
	MetricsPort            string
	MetricsAPIKey          string
	StorePath              string
	RedisAddr              string
	RateLimitSweepInterval time.Duration
	RateLimits             ratelimit.Policy
	GasMultiplier          float64
	CircuitBreaker         CircuitBreakerConfig
	LoggerConfig           LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
	JSON     bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only
func FromEnv() (*Config, error) {
	rpcURL, err := GetEnvLedgerRPCURL()
	if err != nil {
		return nil, err
	}

	orchestrator, err := GetEnvOrchestratorAddress()
	if err != nil {
		return nil, err
	}

	treasury, err := GetEnvTreasuryAddress()
	if err != nil {
		return nil, err
	}

	createLinkFee, err := GetEnvCreateLinkFee()
	if err != nil {
		return nil, err
	}

	assets, err := GetEnvAssets()
	if err != nil {
		return nil, err
	}

	feeOracle, err := GetEnvFeeOracleURL()
	if err != nil {
		return nil, err
	}

	feeCacheTTL, err := GetEnvDuration("FEE_CACHE_TTL", DefaultFeeCacheTTL)
	if err != nil {
		return nil, err
	}

	feeRefresh, err := GetEnvDuration("FEE_REFRESH_INTERVAL", DefaultFeeRefreshInterval)
	if err != nil {
		return nil, err
	}

	txTimeout, err := GetEnvDuration("TX_TIMEOUT", DefaultTxTimeout)
	if err != nil {
		return nil, err
	}

	reconcileInterval, err := GetEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval)
	if err != nil {
		return nil, err
	}

	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	sweepInterval, err := GetEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", DefaultRateLimitSweepInterval)
	if err != nil {
		return nil, err
	}

	rateLimits, err := GetEnvRateLimits()
	if err != nil {
		return nil, err
	}

	gasMultiplier, err := GetEnvGasMultiplier()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	logJSON, err := GetEnvLogJSON()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LedgerRPCURL:           rpcURL,
		PrivateKey:             os.Getenv("ORCHESTRATOR_PRIVATE_KEY"),
		OrchestratorAddress:    orchestrator,
		TreasuryAddress:        treasury,
		CreateLinkFee:          createLinkFee,
		Assets:                 assets,
		FeeOracleURL:           feeOracle,
		FeeCacheTTL:            feeCacheTTL,
		FeeRefreshInterval:     feeRefresh,
		TxTimeout:              txTimeout,
		ReconcileInterval:      reconcileInterval,
		WorkerCount:            workerCount,
		MetricsPort:            metricsPort,
		MetricsAPIKey:          os.Getenv("METRICS_API_KEY"),
		StorePath:              GetEnvStorePath(),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RateLimitSweepInterval: sweepInterval,
		RateLimits:             rateLimits,
		GasMultiplier:          gasMultiplier,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
			JSON:     logJSON,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks settings that depend on each other
func validateConfig(cfg *Config) error {
	if cfg.LedgerRPCURL != "" && cfg.PrivateKey == "" {
		return fmt.Errorf("ORCHESTRATOR_PRIVATE_KEY environment variable is required with LEDGER_RPC_URL")
	}
	if cfg.CreateLinkFee.Sign() > 0 && cfg.TreasuryAddress == "" {
		return fmt.Errorf("TREASURY_ADDRESS environment variable is required when CREATE_LINK_FEE is set")
	}
	if cfg.FeeRefreshInterval >= cfg.FeeCacheTTL {
		return fmt.Errorf("FEE_REFRESH_INTERVAL (%s) must be shorter than FEE_CACHE_TTL (%s)", cfg.FeeRefreshInterval, cfg.FeeCacheTTL)
	}
	return nil
}
