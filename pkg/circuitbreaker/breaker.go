package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"github.com/speedrun-hq/linkrunner/pkg/clock"
	"github.com/speedrun-hq/linkrunner/pkg/logger"
)

// Config is shared by every breaker in a Group
type Config struct {
	Enabled       bool
	Threshold     int
	FailureWindow time.Duration
	ResetTimeout  time.Duration
}

// CircuitBreaker trips after Threshold failures that each land within FailureWindow of the previous one.
// A tripped breaker closes again once ResetTimeout has passed.
type CircuitBreaker struct {
	name         string
	cfg          Config
	clock        clock.Clock
	logger       logger.Logger
	mu           sync.Mutex
	failureCount int
	lastFailure  uint64
	tripped      bool
	tripTime     uint64
}

// State is a snapshot for the status endpoint
type State struct {
	Name         string `json:"name"`
	Open         bool   `json:"open"`
	FailureCount int    `json:"failure_count"`
	TrippedAt    uint64 `json:"tripped_at,omitempty"`
}

func NewCircuitBreaker(name string, cfg Config, clk clock.Clock, log logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{name: name, cfg: cfg, clock: clk, logger: log}
}

// RecordFailure counts a failure and reports whether the breaker is now open
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.cfg.Enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock.NowNs()
	if cb.tripped {
		if !cb.resetDueLocked(now) {
			return true
		}
		cb.logger.Info("Circuit breaker %s: attempting to reset after timeout", cb.name)
		cb.tripped = false
		cb.failureCount = 0
	}

	if now-cb.lastFailure > uint64(cb.cfg.FailureWindow) {
		cb.failureCount = 0
	}
	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.cfg.Threshold {
		cb.tripped = true
		cb.tripTime = now
		cb.logger.Error("Circuit breaker %s tripped: %d failures in window", cb.name, cb.failureCount)
		return true
	}
	return false
}

// RecordSuccess clears the failure streak of a closed breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.tripped {
		cb.failureCount = 0
	}
}

// IsOpen is true while the breaker is tripped and the reset timeout has not passed
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.cfg.Enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.tripped && cb.resetDueLocked(cb.clock.NowNs()) {
		cb.tripped = false
		cb.failureCount = 0
	}
	return cb.tripped
}

// Reset closes the breaker manually
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tripped = false
	cb.failureCount = 0
}

func (cb *CircuitBreaker) State() State {
	open := cb.IsOpen()
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := State{Name: cb.name, Open: open, FailureCount: cb.failureCount}
	if open {
		s.TrippedAt = cb.tripTime
	}
	return s
}

func (cb *CircuitBreaker) resetDueLocked(now uint64) bool {
	return now-cb.tripTime > uint64(cb.cfg.ResetTimeout)
}

// Group lazily creates one breaker per key (an asset)
type Group struct {
	cfg      Config
	clock    clock.Clock
	logger   logger.Logger
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewGroup(cfg Config, clk clock.Clock, log logger.Logger) *Group {
	return &Group{cfg: cfg, clock: clk, logger: log, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for key, creating it on first use
func (g *Group) Get(key string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(key, g.cfg, g.clock, g.logger)
		g.breakers[key] = cb
	}
	return cb
}

// Reset closes the breaker for key; false when no breaker exists for it
func (g *Group) Reset(key string) bool {
	g.mu.Lock()
	cb, ok := g.breakers[key]
	g.mu.Unlock()
	if ok {
		cb.Reset()
	}
	return ok
}

// States lists every breaker sorted by name
func (g *Group) States() []State {
	g.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(g.breakers))
	for _, cb := range g.breakers {
		breakers = append(breakers, cb)
	}
	g.mu.Unlock()

	states := make([]State, 0, len(breakers))
	for _, cb := range breakers {
		states = append(states, cb.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}
