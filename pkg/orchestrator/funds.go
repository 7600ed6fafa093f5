package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/models"
)

// Lock order is action, then link, then pool. Nothing takes them in the other direction.

func linkLockKey(linkID string) string { return "link:" + linkID }
func poolLockKey(asset string) string  { return "pool:" + asset }

// isDeposit reports whether tx is a wallet transfer into the orchestrator's pooled account
func (s *Service) isDeposit(tx *models.Transaction) bool {
	return tx.Origin == models.OriginWallet &&
		tx.Payload.Kind == models.PayloadTransfer &&
		strings.EqualFold(tx.Payload.Transfer.To, s.cfg.Orchestrator)
}

// isPayout reports whether tx pays out of the orchestrator's pooled account
func (s *Service) isPayout(tx *models.Transaction) bool {
	return tx.Origin == models.OriginOrchestrator &&
		tx.Payload.Kind == models.PayloadTransfer &&
		strings.EqualFold(tx.Payload.Transfer.From, s.cfg.Orchestrator)
}

// ensurePool records the orchestrator's balance of asset as already accounted for the first time
// the asset is used, so funds held before any deposit are never credited to a link
func (s *Service) ensurePool(ctx context.Context, asset string) error {
	unlock := s.locks.Lock(poolLockKey(asset))
	defer unlock()

	_, err := s.store.GetPool(ctx, asset)
	if err == nil || !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	balance, err := s.ledger.BalanceOf(ctx, asset, s.cfg.Orchestrator)
	if err != nil {
		s.recordLedgerError(asset, err)
		return apperr.CallFailed(asset, err)
	}
	s.logger.Info("Opening pool for %s with %v already held", asset, balance)
	return s.store.PutPool(ctx, &models.Pool{Asset: asset, Accounted: balance, UpdatedAt: s.clock.NowNs()})
}

// depositVisible is the lock-free first look: is there enough unattributed balance for tx
func (s *Service) depositVisible(ctx context.Context, t *models.Transfer) (bool, error) {
	pool, err := s.store.GetPool(ctx, t.Asset)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	balance, err := s.ledger.BalanceOf(ctx, t.Asset, t.To)
	if err != nil {
		return false, err
	}
	return pool.Unattributed(balance).Cmp(t.Amount) >= 0, nil
}

// creditDeposit attributes the deposit to its link if the pool still holds enough unattributed
// balance. It re-reads the ledger under the pool lock; false means the transition must not happen.
// The caller holds the action lock.
func (s *Service) creditDeposit(ctx context.Context, linkID string, tx *models.Transaction) (bool, error) {
	t := tx.Payload.Transfer

	unlockLink := s.locks.Lock(linkLockKey(linkID))
	defer unlockLink()
	unlockPool := s.locks.Lock(poolLockKey(t.Asset))
	defer unlockPool()

	pool, err := s.store.GetPool(ctx, t.Asset)
	if err != nil {
		return false, err
	}
	balance, err := s.ledger.BalanceOf(ctx, t.Asset, s.cfg.Orchestrator)
	if err != nil {
		s.recordLedgerError(t.Asset, err)
		return false, nil
	}
	if pool.Unattributed(balance).Cmp(t.Amount) < 0 {
		return false, nil
	}

	funds, err := s.linkFunds(ctx, linkID, t.Asset)
	if err != nil {
		return false, err
	}
	now := s.clock.NowNs()
	pool.Accounted = new(big.Int).Add(pool.Accounted, t.Amount)
	pool.UpdatedAt = now
	if err := s.store.PutPool(ctx, pool); err != nil {
		return false, err
	}
	funds.Funded = new(big.Int).Add(funds.Funded, t.Amount)
	funds.UpdatedAt = now
	if err := s.store.PutLinkFunds(ctx, funds); err != nil {
		return false, err
	}
	s.logger.InfoWithAction(tx.ActionID, "Credited %v of %s to link %s", t.Amount, t.Asset, linkID)
	return true, nil
}

// resolvePayout settles or releases the link's reservation once a payout is terminal.
// A failed payout whose effect on the ledger is unknown keeps its reservation.
// The caller holds the action lock.
func (s *Service) resolvePayout(ctx context.Context, linkID string, tx *models.Transaction, release bool) error {
	t := tx.Payload.Transfer
	if tx.State == models.StateFail && !release {
		s.logger.NoticeWithAction(tx.ActionID, "Payout %s failed with an unknown ledger outcome, %v stays reserved on link %s", tx.ID, t.Amount, linkID)
		return nil
	}

	unlockLink := s.locks.Lock(linkLockKey(linkID))
	defer unlockLink()

	funds, err := s.linkFunds(ctx, linkID, t.Asset)
	if err != nil {
		return err
	}
	now := s.clock.NowNs()

	if tx.State == models.StateFail {
		funds.Release(t.Amount)
		funds.UpdatedAt = now
		return s.store.PutLinkFunds(ctx, funds)
	}

	unlockPool := s.locks.Lock(poolLockKey(t.Asset))
	defer unlockPool()
	pool, err := s.store.GetPool(ctx, t.Asset)
	if err != nil {
		return err
	}
	pool.Accounted = new(big.Int).Sub(pool.Accounted, t.Amount)
	if pool.Accounted.Sign() < 0 {
		pool.Accounted.SetInt64(0)
	}
	pool.UpdatedAt = now
	if err := s.store.PutPool(ctx, pool); err != nil {
		return err
	}
	funds.Settle(t.Amount)
	funds.UpdatedAt = now
	return s.store.PutLinkFunds(ctx, funds)
}

// reservePayout sets the payout amount aside on the link. The caller holds the link lock.
func (s *Service) reservePayout(ctx context.Context, req ActionRequest) (*models.LinkFunds, error) {
	funds, err := s.linkFunds(ctx, req.LinkID, req.Asset)
	if err != nil {
		return nil, err
	}
	if err := funds.Reserve(req.Amount); err != nil {
		return nil, apperr.Validation(req.LinkID, "insufficient link balance: %v", err)
	}
	funds.UpdatedAt = s.clock.NowNs()
	if err := s.store.PutLinkFunds(ctx, funds); err != nil {
		return nil, err
	}
	return funds, nil
}

// linkFunds loads the link's funds, starting from zero for a link that holds nothing yet.
// The link and asset must match.
func (s *Service) linkFunds(ctx context.Context, linkID, asset string) (*models.LinkFunds, error) {
	funds, err := s.store.GetLinkFunds(ctx, linkID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return models.NewLinkFunds(linkID, asset, s.clock.NowNs()), nil
	}
	if !strings.EqualFold(funds.Asset, asset) {
		return nil, apperr.Validation(linkID, "link holds %s, not %s", funds.Asset, asset)
	}
	return funds, nil
}
