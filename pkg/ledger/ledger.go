// Package ledger is the boundary to the asset ledgers transactions are executed on.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/speedrun-hq/linkrunner/pkg/models"
)

// Allowance is what spender may still move on behalf of owner
type Allowance struct {
	Amount *big.Int
	// ExpiresAt is an optional expiry in ns since epoch
	ExpiresAt *uint64
}

// Covers reports whether the allowance is unexpired at nowNs and at least amount
func (a Allowance) Covers(amount *big.Int, nowNs uint64) bool {
	if a.Amount == nil || amount == nil {
		return false
	}
	if a.ExpiresAt != nil && nowNs >= *a.ExpiresAt {
		return false
	}
	return a.Amount.Cmp(amount) >= 0
}

// Ledger is implemented by ledger clients. Submissions return the block the call landed in.
type Ledger interface {
	BalanceOf(ctx context.Context, asset, account string) (*big.Int, error)
	Allowance(ctx context.Context, asset, owner, spender string) (Allowance, error)

	Transfer(ctx context.Context, t models.Transfer) (uint64, error)
	Approve(ctx context.Context, a models.Approve) (uint64, error)
	DelegatedTransfer(ctx context.Context, d models.DelegatedTransfer) (uint64, error)

	// Fee returns the current network fee charged for a call on asset
	Fee(ctx context.Context, asset string) (*big.Int, error)
}

// RejectedError is returned when the ledger processed a call and refused it.
// Any other error from a Ledger is a transport or unknown failure.
type RejectedError struct {
	Asset  string
	Method string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger %s rejected %s: %s", e.Asset, e.Method, e.Reason)
}

// IsRejected reports whether err carries a ledger rejection
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// Submit dispatches a payload to the matching ledger call
func Submit(ctx context.Context, l Ledger, p models.Payload) (uint64, error) {
	switch p.Kind {
	case models.PayloadTransfer:
		return l.Transfer(ctx, *p.Transfer)
	case models.PayloadApprove:
		return l.Approve(ctx, *p.Approve)
	case models.PayloadDelegatedTransfer:
		return l.DelegatedTransfer(ctx, *p.DelegatedTransfer)
	}
	return 0, fmt.Errorf("unknown payload kind: %s", p.Kind)
}
