package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Method names guarded by the orchestrator
const (
	MethodCreateAction       = "create_action"
	MethodProcessAction      = "process_action"
	MethodUpdateAction       = "update_action"
	MethodTriggerTransaction = "trigger_transaction"
)

// Rule is the limit applied to one method
type Rule struct {
	MaxRequests uint32
	Window      time.Duration
}

func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.MaxRequests, r.Window)
}

// Policy maps method names to rules
type Policy map[string]Rule

// DefaultPolicy returns the built-in per-method limits
func DefaultPolicy() Policy {
	return Policy{
		MethodCreateAction:       {MaxRequests: 10, Window: time.Minute},
		MethodProcessAction:      {MaxRequests: 30, Window: time.Minute},
		MethodUpdateAction:       {MaxRequests: 60, Window: time.Minute},
		MethodTriggerTransaction: {MaxRequests: 30, Window: time.Minute},
	}
}

// ParseRule parses "max/window", e.g. "10/60s"
func ParseRule(s string) (Rule, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return Rule{}, fmt.Errorf("invalid rate limit rule %q, expected max/window", s)
	}
	max, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid rate limit max in %q: %v", s, err)
	}
	if max == 0 {
		return Rule{}, fmt.Errorf("rate limit max in %q must be greater than 0", s)
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil {
		return Rule{}, fmt.Errorf("invalid rate limit window in %q: %v", s, err)
	}
	if window < time.Second || window%time.Second != 0 {
		return Rule{}, fmt.Errorf("rate limit window in %q must be a whole number of seconds", s)
	}
	return Rule{MaxRequests: uint32(max), Window: window}, nil
}
