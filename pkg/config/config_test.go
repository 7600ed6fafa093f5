package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/linkrunner/pkg/logger"
	"github.com/speedrun-hq/linkrunner/pkg/ratelimit"
)

const (
	testOrchestrator = "0x00000000000000000000000000000000000000aa"
	testTreasury     = "0x00000000000000000000000000000000000000bb"
	testAsset        = "0x00000000000000000000000000000000000000cc"
)

func setRequired(t *testing.T) {
	t.Setenv("ORCHESTRATOR_ADDRESS", testOrchestrator)
	t.Setenv("ASSETS", testAsset)
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.LedgerRPCURL)
	assert.Equal(t, testOrchestrator, cfg.OrchestratorAddress)
	assert.Equal(t, []string{testAsset}, cfg.Assets)
	assert.Equal(t, int64(0), cfg.CreateLinkFee.Int64())
	assert.Equal(t, DefaultFeeCacheTTL, cfg.FeeCacheTTL)
	assert.Equal(t, DefaultTxTimeout, cfg.TxTimeout)
	assert.Equal(t, DefaultWorkerCount, cfg.WorkerCount)
	assert.Equal(t, DefaultMetricsPort, cfg.MetricsPort)
	assert.Equal(t, DefaultStorePath, cfg.StorePath)
	assert.Equal(t, ratelimit.DefaultPolicy(), cfg.RateLimits)
	assert.Equal(t, DefaultGasMultiplier, cfg.GasMultiplier)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, logger.InfoLevel, cfg.LoggerConfig.Level)
	assert.False(t, cfg.LoggerConfig.JSON)
}

func TestFromEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_RPC_URL", "http://localhost:8545")
	t.Setenv("ORCHESTRATOR_PRIVATE_KEY", "deadbeef")
	t.Setenv("TREASURY_ADDRESS", testTreasury)
	t.Setenv("CREATE_LINK_FEE", "250")
	t.Setenv("ASSETS", testAsset+", "+testTreasury)
	t.Setenv("TX_TIMEOUT", "90s")
	t.Setenv("WORKER_COUNT", "12")
	t.Setenv("RATE_LIMIT_CREATE_ACTION", "3/10s")
	t.Setenv("RATE_LIMIT_UPDATE_ACTION", "off")
	t.Setenv("CIRCUIT_BREAKER_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_JSON", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.LedgerRPCURL)
	assert.Equal(t, int64(250), cfg.CreateLinkFee.Int64())
	assert.Equal(t, []string{testAsset, testTreasury}, cfg.Assets)
	assert.Equal(t, 90*time.Second, cfg.TxTimeout)
	assert.Equal(t, 12, cfg.WorkerCount)
	assert.Equal(t, ratelimit.Rule{MaxRequests: 3, Window: 10 * time.Second}, cfg.RateLimits[ratelimit.MethodCreateAction])
	_, limited := cfg.RateLimits[ratelimit.MethodUpdateAction]
	assert.False(t, limited)
	assert.False(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, logger.DebugLevel, cfg.LoggerConfig.Level)
	assert.True(t, cfg.LoggerConfig.JSON)
}

func TestFromEnvInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"orchestrator address", "ORCHESTRATOR_ADDRESS", "not-an-address"},
		{"assets", "ASSETS", "0x1,usdc"},
		{"empty assets", "ASSETS", " , "},
		{"rpc url", "LEDGER_RPC_URL", "localhost"},
		{"negative fee", "CREATE_LINK_FEE", "-1"},
		{"fee not a number", "CREATE_LINK_FEE", "ten"},
		{"duration", "TX_TIMEOUT", "5"},
		{"zero duration", "RECONCILE_INTERVAL", "0s"},
		{"worker count", "WORKER_COUNT", "0"},
		{"metrics port", "METRICS_PORT", "70000"},
		{"rate limit", "RATE_LIMIT_PROCESS_ACTION", "10"},
		{"gas multiplier", "GAS_MULTIPLIER", "0.5"},
		{"breaker flag", "CIRCUIT_BREAKER_ENABLED", "yes"},
		{"log level", "LOG_LEVEL", "verbose"},
		{"rpc without key", "LEDGER_RPC_URL", "http://localhost:8545"},
		{"fee without treasury", "CREATE_LINK_FEE", "5"},
		{"refresh slower than ttl", "FEE_REFRESH_INTERVAL", "5m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestFromEnvMissingRequired(t *testing.T) {
	t.Setenv("ORCHESTRATOR_ADDRESS", "")
	t.Setenv("ASSETS", testAsset)
	_, err := FromEnv()
	assert.ErrorContains(t, err, "ORCHESTRATOR_ADDRESS")

	t.Setenv("ORCHESTRATOR_ADDRESS", testOrchestrator)
	t.Setenv("ASSETS", "")
	_, err = FromEnv()
	assert.ErrorContains(t, err, "ASSETS")
}
