package evm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/linkrunner/pkg/clock"
	"github.com/speedrun-hq/linkrunner/pkg/logger"
)

// resync the local counter with the chain at least this often
const nonceSyncInterval = 5 * time.Minute

// NonceSource reads the next nonce the chain expects from an account
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type pendingTx struct {
	hash      common.Hash
	createdAt uint64
}

// NonceManager allocates nonces locally so concurrent submissions from one signer do not collide
type NonceManager struct {
	mu       sync.Mutex
	source   NonceSource
	account  common.Address
	clock    clock.Clock
	logger   logger.Logger
	current  uint64
	lastSync uint64
	synced   bool
	pending  map[uint64]*pendingTx
}

func NewNonceManager(source NonceSource, account common.Address, clk clock.Clock, log logger.Logger) *NonceManager {
	return &NonceManager{
		source:  source,
		account: account,
		clock:   clk,
		logger:  log,
		pending: make(map[uint64]*pendingTx),
	}
}

// Next reserves the next nonce, syncing with the chain when the local view is old
func (nm *NonceManager) Next(ctx context.Context) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	now := nm.clock.NowNs()
	if !nm.synced || now-nm.lastSync > uint64(nonceSyncInterval) {
		if err := nm.syncLocked(ctx, now); err != nil {
			return 0, err
		}
	}

	nonce := nm.current
	nm.current++
	return nonce, nil
}

// Sync pulls the pending nonce from the chain; the local counter only moves forward
func (nm *NonceManager) Sync(ctx context.Context) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.syncLocked(ctx, nm.clock.NowNs())
}

func (nm *NonceManager) syncLocked(ctx context.Context, now uint64) error {
	nonce, err := nm.source.PendingNonceAt(ctx, nm.account)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %w", err)
	}
	if nonce > nm.current {
		nm.logger.Debug("Updating nonce for %s: %d -> %d", nm.account.Hex(), nm.current, nonce)
		nm.current = nonce
	}
	nm.lastSync = now
	nm.synced = true
	return nil
}

// Track records a sent transaction until it is confirmed or failed
func (nm *NonceManager) Track(nonce uint64, hash common.Hash) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.pending[nonce] = &pendingTx{hash: hash, createdAt: nm.clock.NowNs()}
}

// Confirmed drops a mined transaction, reverted or not; either way the chain consumed the nonce
func (nm *NonceManager) Confirmed(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.pending, nonce)
}

// Failed releases a nonce that never reached the chain. It is handed out again
// when nothing was allocated after it; otherwise the next allocation resyncs.
func (nm *NonceManager) Failed(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pending, nonce)
	if nonce+1 == nm.current {
		nm.logger.Notice("Reusing nonce %d for %s after failed submission", nonce, nm.account.Hex())
		nm.current = nonce
		return
	}
	nm.synced = false
}

// Pending returns the number of tracked, unconfirmed transactions
func (nm *NonceManager) Pending() int {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return len(nm.pending)
}
