package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/linkrunner/pkg/logger"
	"github.com/speedrun-hq/linkrunner/pkg/ratelimit"
)

const (
	// DefaultFeeCacheTTL is how long a fetched fee stays valid
	DefaultFeeCacheTTL = 60 * time.Second

	// DefaultFeeRefreshInterval defines how often configured assets are refreshed in the background
	DefaultFeeRefreshInterval = 30 * time.Second

	// DefaultTxTimeout bounds how long a started transaction may stay unresolved
	DefaultTxTimeout = 5 * time.Minute

	// DefaultReconcileInterval defines how often pending actions are queued for reconciliation
	DefaultReconcileInterval = 10 * time.Second

	// DefaultWorkerCount defines the default number of reconcile workers
	DefaultWorkerCount = 5

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultStorePath is the bbolt file; set STORE_PATH=memory to keep state in memory
	DefaultStorePath = "data/linkrunner.db"

	// DefaultRateLimitSweepInterval defines how often expired rate limit buckets are removed
	DefaultRateLimitSweepInterval = time.Minute

	// DefaultCreateLinkFee is charged on link creation, in base units of the asset
	DefaultCreateLinkFee = "0"

	// DefaultGasMultiplier is applied to the suggested gas price
	DefaultGasMultiplier = 1.1

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5 * time.Second

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15 * time.Second

	// DefaultLogLevel is used when LOG_LEVEL is unset
	DefaultLogLevel = "info"

	// MemoryStorePath selects the in-memory store
	MemoryStorePath = "memory"
)

// GetEnvLedgerRPCURL returns the ledger RPC endpoint. Empty runs against the in-memory ledger.
func GetEnvLedgerRPCURL() (string, error) {
	rpcURL := os.Getenv("LEDGER_RPC_URL")
	if rpcURL == "" {
		return "", nil
	}
	if _, err := url.ParseRequestURI(rpcURL); err != nil {
		return "", fmt.Errorf("invalid LEDGER_RPC_URL value: %s, must be a valid URL", rpcURL)
	}
	return rpcURL, nil
}

// GetEnvOrchestratorAddress returns the address the service signs as
func GetEnvOrchestratorAddress() (string, error) {
	return getEnvAddress("ORCHESTRATOR_ADDRESS", true)
}

// GetEnvTreasuryAddress returns the address receiving link creation fees
func GetEnvTreasuryAddress() (string, error) {
	return getEnvAddress("TREASURY_ADDRESS", false)
}

func getEnvAddress(name string, required bool) (string, error) {
	address := os.Getenv(name)
	if address == "" {
		if required {
			return "", fmt.Errorf("%s environment variable is required", name)
		}
		return "", nil
	}
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid Ethereum address", name, address)
	}
	return address, nil
}

// GetEnvCreateLinkFee returns the link creation fee in base units
func GetEnvCreateLinkFee() (*big.Int, error) {
	fee := os.Getenv("CREATE_LINK_FEE")
	if fee == "" {
		fee = DefaultCreateLinkFee
	}

	feeBig := new(big.Int)
	if _, ok := feeBig.SetString(fee, 10); !ok {
		return nil, fmt.Errorf("invalid CREATE_LINK_FEE value: %s, must be a valid integer string", fee)
	}
	if feeBig.Sign() < 0 {
		return nil, fmt.Errorf("CREATE_LINK_FEE must be greater than or equal to 0")
	}
	return feeBig, nil
}

// GetEnvAssets returns the comma separated list of accepted asset addresses
func GetEnvAssets() ([]string, error) {
	raw := os.Getenv("ASSETS")
	if raw == "" {
		return nil, fmt.Errorf("ASSETS environment variable is required")
	}

	var assets []string
	for _, asset := range strings.Split(raw, ",") {
		asset = strings.TrimSpace(asset)
		if asset == "" {
			continue
		}
		if !common.IsHexAddress(asset) {
			return nil, fmt.Errorf("invalid asset in ASSETS: %s, must be a valid Ethereum address", asset)
		}
		assets = append(assets, asset)
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("ASSETS must list at least one asset")
	}
	return assets, nil
}

// GetEnvFeeOracleURL returns the fee oracle endpoint. Empty reads fees from the ledger.
func GetEnvFeeOracleURL() (string, error) {
	oracle := os.Getenv("FEE_ORACLE_URL")
	if oracle == "" {
		return "", nil
	}
	if _, err := url.ParseRequestURI(oracle); err != nil {
		return "", fmt.Errorf("invalid FEE_ORACLE_URL value: %s, must be a valid URL", oracle)
	}
	return oracle, nil
}

// GetEnvWorkerCount returns the number of reconcile workers from environment variables
func GetEnvWorkerCount() (int, error) {
	workerCount := os.Getenv("WORKER_COUNT")
	if workerCount == "" {
		return DefaultWorkerCount, nil
	}

	count, err := strconv.Atoi(workerCount)
	if err != nil {
		return 0, fmt.Errorf("invalid WORKER_COUNT value: %s, must be an integer", workerCount)
	}
	if count <= 0 {
		return 0, fmt.Errorf("WORKER_COUNT must be greater than 0")
	}
	return count, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	port, err := strconv.Atoi(metricsPort)
	if err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("METRICS_PORT must be between 1 and 65535")
	}
	return metricsPort, nil
}

// GetEnvStorePath returns where state is kept
func GetEnvStorePath() string {
	path := os.Getenv("STORE_PATH")
	if path == "" {
		return DefaultStorePath
	}
	return path
}

// GetEnvDuration reads a Go duration string such as "30s", falling back to def.
// Non-positive values are rejected.
func GetEnvDuration(name string, def time.Duration) (time.Duration, error) {
	value := os.Getenv(name)
	if value == "" {
		return def, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", name, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return parsed, nil
}

// GetEnvRateLimits returns the default policy with RATE_LIMIT_<METHOD> overrides applied
func GetEnvRateLimits() (ratelimit.Policy, error) {
	policy := ratelimit.DefaultPolicy()
	for method := range policy {
		name := "RATE_LIMIT_" + strings.ToUpper(method)
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		if value == "off" {
			delete(policy, method)
			continue
		}
		rule, err := ratelimit.ParseRule(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value: %v", name, err)
		}
		policy[method] = rule
	}
	return policy, nil
}

// GetEnvGasMultiplier returns the gas price multiplier
func GetEnvGasMultiplier() (float64, error) {
	value := os.Getenv("GAS_MULTIPLIER")
	if value == "" {
		return DefaultGasMultiplier, nil
	}

	multiplier, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GAS_MULTIPLIER value: %s, must be a number", value)
	}
	if multiplier < 1 {
		return 0, fmt.Errorf("GAS_MULTIPLIER must be at least 1")
	}
	return multiplier, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvLogLevel returns the minimum level logged
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = DefaultLogLevel
	}
	parsed, err := logger.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %s, must be debug, info, notice or error", level)
	}
	return parsed, nil
}

// GetEnvLogColoring returns whether console output is colored
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", true)
}

// GetEnvLogJSON returns whether logs are written as JSON instead of console lines
func GetEnvLogJSON() (bool, error) {
	return getEnvBool("LOG_JSON", false)
}

func getEnvBool(name string, def bool) (bool, error) {
	value := os.Getenv(name)
	switch value {
	case "":
		return def, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", name, value)
}
