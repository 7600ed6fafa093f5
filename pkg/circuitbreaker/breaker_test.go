package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/linkrunner/pkg/clock"
	"github.com/speedrun-hq/linkrunner/pkg/logger"
)

var testConfig = Config{
	Enabled:       true,
	Threshold:     3,
	FailureWindow: time.Minute,
	ResetTimeout:  5 * time.Minute,
}

func TestCircuitBreakerTrips(t *testing.T) {
	clk := clock.NewFake(uint64(time.Hour))
	cb := NewCircuitBreaker("usdc", testConfig, clk, &logger.EmptyLogger{})

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	clk.Advance(5*time.Minute + time.Second)
	assert.False(t, cb.IsOpen(), "closes after the reset timeout")
	assert.Equal(t, 0, cb.State().FailureCount)
}

func TestCircuitBreakerWindow(t *testing.T) {
	clk := clock.NewFake(uint64(time.Hour))
	cb := NewCircuitBreaker("usdc", testConfig, clk, &logger.EmptyLogger{})

	cb.RecordFailure()
	cb.RecordFailure()
	clk.Advance(2 * time.Minute)
	assert.False(t, cb.RecordFailure(), "old failures fall out of the window")
	assert.Equal(t, 1, cb.State().FailureCount)

	cb.RecordSuccess()
	assert.Equal(t, 0, cb.State().FailureCount)
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cfg := testConfig
	cfg.Enabled = false
	cb := NewCircuitBreaker("usdc", cfg, clock.NewFake(0), &logger.EmptyLogger{})
	for i := 0; i < 10; i++ {
		assert.False(t, cb.RecordFailure())
	}
	assert.False(t, cb.IsOpen())
}

func TestGroup(t *testing.T) {
	clk := clock.NewFake(uint64(time.Hour))
	g := NewGroup(testConfig, clk, &logger.EmptyLogger{})

	for i := 0; i < 3; i++ {
		g.Get("usdc").RecordFailure()
	}
	assert.True(t, g.Get("usdc").IsOpen())
	assert.False(t, g.Get("dai").IsOpen(), "breakers are independent")

	states := g.States()
	require.Len(t, states, 2)
	assert.Equal(t, "dai", states[0].Name)
	assert.Equal(t, "usdc", states[1].Name)
	assert.True(t, states[1].Open)
	assert.Equal(t, uint64(time.Hour), states[1].TrippedAt)

	assert.True(t, g.Reset("usdc"))
	assert.False(t, g.Get("usdc").IsOpen())
	assert.False(t, g.Reset("eth"))
}
