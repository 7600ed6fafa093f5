package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/metrics"
	"github.com/speedrun-hq/linkrunner/pkg/models"
	"github.com/speedrun-hq/linkrunner/pkg/ratelimit"
)

// outcome is an observed transition for one transaction
type outcome struct {
	to      models.State
	blockID *uint64
	reason  string
	// release is set when the ledger refused a submission, so nothing moved
	release bool
}

// UpdateAction reconciles every unresolved transaction of the action and returns the rolled up view
func (s *Service) UpdateAction(ctx context.Context, caller, actionID string) (*ActionView, error) {
	if _, err := s.authorize(ctx, caller, ratelimit.MethodUpdateAction, actionID); err != nil {
		return nil, err
	}
	t, err := s.reconcile(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return s.view(t)
}

// ReconcileAction is the system path: it reconciles the action and then executes the
// orchestrator legs whose dependencies have all succeeded.
func (s *Service) ReconcileAction(ctx context.Context, actionID string) (*ActionView, error) {
	t, err := s.reconcile(ctx, actionID)
	if err != nil {
		return nil, err
	}

	for _, tx := range readyForExecution(t.txs) {
		if err := s.execute(ctx, actionID, tx.ID); err != nil {
			if apperr.KindOf(err) == apperr.KindCallFailed || apperr.KindOf(err) == apperr.KindValidation {
				s.logger.NoticeWithAction(actionID, "Execution of %s did not complete: %v", tx.ID, err)
				continue
			}
			return nil, err
		}
	}
	return s.GetAction(ctx, actionID)
}

func (s *Service) reconcile(ctx context.Context, actionID string) (*tree, error) {
	t, err := s.loadTree(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return s.reconcileTxs(ctx, actionID, t.txs)
}

// reconcileTxs checks txs against the ledger outside the action lock, then applies the
// observed transitions and rolls up under it
func (s *Service) reconcileTxs(ctx context.Context, actionID string, txs []*models.Transaction) (*tree, error) {
	now := s.clock.NowNs()
	outcomes := make([]*outcome, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentChecks)
	for i, tx := range txs {
		if tx.State.IsTerminal() {
			continue
		}
		i, tx := i, tx
		g.Go(func() error {
			o, err := s.check(gctx, tx, now)
			outcomes[i] = o
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	updates := make(map[string]*outcome)
	for i, o := range outcomes {
		if o != nil {
			updates[txs[i].ID] = o
		}
	}

	unlock := s.locks.Lock(actionID)
	defer unlock()
	return s.applyLocked(ctx, actionID, updates)
}

// check observes one transaction without writing anything. A nil outcome leaves it unchanged.
// Only a cancelled context is returned as an error. A ledger failure leaves the leg as it is for a
// later poll and counts against the asset's circuit breaker.
func (s *Service) check(ctx context.Context, tx *models.Transaction, now uint64) (*outcome, error) {
	asset := tx.Payload.Asset()
	breaker := s.breakers.Get(asset)

	// a wallet that never signs says nothing about the ledger's health, so timeouts skip the breaker
	if tx.TimedOut(now, uint64(s.cfg.TxTimeout)) {
		metrics.TransactionTimeouts.WithLabelValues(asset).Inc()
		return &outcome{to: models.StateFail, reason: fmt.Sprintf("timed out after %s", s.cfg.TxTimeout)}, nil
	}

	// orchestrator legs are resolved by their own submission, never by polling
	if tx.Origin == models.OriginOrchestrator {
		return nil, nil
	}
	if breaker.IsOpen() {
		return nil, nil
	}

	satisfied, err := s.observe(ctx, tx, now)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.recordLedgerError(asset, err)
		s.logger.NoticeWithAction(tx.ActionID, "Check of %s failed, leaving it %s: %v", tx.ID, tx.State, err)
		return nil, nil
	}
	breaker.RecordSuccess()
	if satisfied {
		return &outcome{to: models.StateSuccess}, nil
	}
	return nil, nil
}

// observe reports whether the effect of a wallet leg is visible on the ledger
func (s *Service) observe(ctx context.Context, tx *models.Transaction, now uint64) (bool, error) {
	switch tx.Payload.Kind {
	case models.PayloadTransfer:
		t := tx.Payload.Transfer
		// the pooled account already holds other links' funds, only the unattributed part counts
		if s.isDeposit(tx) {
			return s.depositVisible(ctx, t)
		}
		balance, err := s.ledger.BalanceOf(ctx, t.Asset, t.To)
		if err != nil {
			return false, err
		}
		return balance.Cmp(t.Amount) >= 0, nil
	case models.PayloadApprove:
		a := tx.Payload.Approve
		allowance, err := s.ledger.Allowance(ctx, a.Asset, a.Owner, a.Spender)
		if err != nil {
			return false, err
		}
		return allowance.Covers(a.Amount, now), nil
	case models.PayloadDelegatedTransfer:
		return false, errors.New("delegated transfers are executed, not observed")
	}
	return false, fmt.Errorf("unknown payload kind: %s", tx.Payload.Kind)
}

// applyLocked writes the transitions in updates to transactions that are still unresolved,
// then rolls the action up. Deposits are credited to their link before they may succeed and
// payouts settle their link's reservation once resolved. The caller holds the action lock.
func (s *Service) applyLocked(ctx context.Context, actionID string, updates map[string]*outcome) (*tree, error) {
	if len(updates) > 0 {
		ids := make([]string, 0, len(updates))
		for id := range updates {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		fresh, err := s.store.GetTransactions(ctx, ids)
		if err != nil {
			return nil, err
		}
		action, err := s.store.GetAction(ctx, actionID)
		if err != nil {
			return nil, err
		}

		now := s.clock.NowNs()
		var changed, payouts []*models.Transaction
		for _, tx := range fresh {
			o := updates[tx.ID]
			// another call resolved it while we were talking to the ledger
			if tx.State.IsTerminal() || tx.State == o.to {
				continue
			}
			if o.to == models.StateSuccess && s.isDeposit(tx) {
				credited, err := s.creditDeposit(ctx, action.LinkID, tx)
				if err != nil {
					return nil, err
				}
				if !credited {
					s.logger.DebugWithAction(actionID, "Deposit %s is not covered by unattributed funds yet", tx.ID)
					continue
				}
			}
			if err := tx.Advance(o.to, now); err != nil {
				s.logger.DebugWithAction(actionID, "Skipping transition of %s: %v", tx.ID, err)
				continue
			}
			if o.blockID != nil {
				block := *o.blockID
				tx.BlockID = &block
			}
			if o.reason != "" {
				tx.LastError = o.reason
			}
			changed = append(changed, tx)
			if tx.State.IsTerminal() && s.isPayout(tx) {
				payouts = append(payouts, tx)
			}

			metrics.TransactionsReconciled.WithLabelValues(string(tx.Origin), string(tx.State)).Inc()
			if tx.State == models.StateFail {
				s.logger.NoticeWithAction(actionID, "Transaction %s failed: %s", tx.ID, tx.LastError)
			} else {
				s.logger.DebugWithAction(actionID, "Transaction %s is now %s", tx.ID, tx.State)
			}
		}

		if len(changed) > 0 {
			if err := s.store.PutTransactions(ctx, changed); err != nil {
				return nil, err
			}
		}
		for _, tx := range payouts {
			if err := s.resolvePayout(ctx, action.LinkID, tx, updates[tx.ID].release); err != nil {
				return nil, err
			}
		}
	}
	return s.rollupLocked(ctx, actionID)
}

func (s *Service) recordLedgerError(asset string, err error) {
	errorType := ClassifyLedgerError(err)
	metrics.LedgerErrors.WithLabelValues(asset, errorType).Inc()
	if s.breakers.Get(asset).RecordFailure() {
		s.logger.Error("Circuit breaker open for %s after %s: %v", asset, errorType, err)
	}
}

// readyForExecution lists created orchestrator legs whose dependencies have all succeeded
func readyForExecution(txs []*models.Transaction) []*models.Transaction {
	states := make(map[string]models.State, len(txs))
	for _, tx := range txs {
		states[tx.ID] = tx.State
	}

	var ready []*models.Transaction
	for _, tx := range txs {
		if tx.Origin != models.OriginOrchestrator || tx.State != models.StateCreated {
			continue
		}
		ok := true
		for _, dep := range tx.Dependencies {
			if states[dep] != models.StateSuccess {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, tx)
		}
	}
	return ready
}
