package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/speedrun-hq/linkrunner/pkg/ledger"
)

// ClassifyLedgerError labels a ledger failure for metrics and logs
func ClassifyLedgerError(err error) string {
	if ledger.IsRejected(err) {
		errStr := err.Error()
		if strings.Contains(errStr, "insufficient funds") || strings.Contains(errStr, "insufficient balance") {
			return "insufficient_funds"
		}
		return "rejected"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "network_error"
	}

	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return "network_error"
	}

	if strings.Contains(errStr, "gas required exceeds allowance") ||
		strings.Contains(errStr, "insufficient funds for gas") ||
		strings.Contains(errStr, "gas price too low") {
		return "gas_error"
	}

	if strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "replacement transaction underpriced") {
		return "nonce_error"
	}

	if strings.Contains(errStr, "insufficient balance") ||
		strings.Contains(errStr, "insufficient funds") {
		return "insufficient_funds"
	}

	if strings.Contains(errStr, "execution reverted") {
		return "contract_error"
	}

	return "unknown_error"
}
