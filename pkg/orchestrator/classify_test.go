package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/speedrun-hq/linkrunner/pkg/ledger"
)

func TestClassifyLedgerError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"rejected", &ledger.RejectedError{Asset: "a", Method: "approve", Reason: "paused"}, "rejected"},
		{"rejected for funds", fmt.Errorf("submit: %w", &ledger.RejectedError{Reason: "insufficient funds"}), "insufficient_funds"},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), "network_error"},
		{"connection refused", errors.New("dial tcp: connection refused"), "network_error"},
		{"eof", errors.New("unexpected EOF"), "network_error"},
		{"gas", errors.New("gas required exceeds allowance (21000)"), "gas_error"},
		{"nonce", errors.New("nonce too low"), "nonce_error"},
		{"underpriced", errors.New("replacement transaction underpriced"), "nonce_error"},
		{"funds", errors.New("insufficient balance for transfer"), "insufficient_funds"},
		{"revert", errors.New("execution reverted: ERC20: transfer amount exceeds balance"), "contract_error"},
		{"other", errors.New("boom"), "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyLedgerError(tt.err))
		})
	}
}
