package orchestrator

import (
	"context"
	"errors"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/ledger"
	"github.com/speedrun-hq/linkrunner/pkg/models"
	"github.com/speedrun-hq/linkrunner/pkg/planner"
	"github.com/speedrun-hq/linkrunner/pkg/ratelimit"
)

var errCircuitOpen = errors.New("circuit breaker is open")

// ProcessAction returns the remaining plan and marks the wallet legs of its first round as
// started, which arms their timeout
func (s *Service) ProcessAction(ctx context.Context, caller, actionID string) (*ActionView, error) {
	if _, err := s.authorize(ctx, caller, ratelimit.MethodProcessAction, actionID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(actionID)
	defer unlock()

	t, err := s.loadTree(ctx, actionID)
	if err != nil {
		return nil, err
	}
	rounds, err := planner.Rounds(t.txs)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]*outcome)
	if remaining := planner.Remaining(rounds); len(remaining) > 0 {
		for _, tx := range remaining[0] {
			if tx.Origin == models.OriginWallet && tx.State == models.StateCreated {
				updates[tx.ID] = &outcome{to: models.StateProcessing}
			}
		}
	}

	t, err = s.applyLocked(ctx, actionID, updates)
	if err != nil {
		return nil, err
	}
	return s.view(t)
}

// TriggerTransaction executes an orchestrator leg on behalf of the action's creator.
// A ledger failure is recorded on the transaction and returned as a CallFailed error.
func (s *Service) TriggerTransaction(ctx context.Context, caller, actionID, txID string) (*ActionView, error) {
	if _, err := s.authorize(ctx, caller, ratelimit.MethodTriggerTransaction, actionID); err != nil {
		return nil, err
	}
	if err := s.execute(ctx, actionID, txID); err != nil {
		return nil, err
	}
	return s.GetAction(ctx, actionID)
}

// execute submits an orchestrator leg once all of its dependencies have succeeded.
// Executing a leg that is already resolved is a no-op.
func (s *Service) execute(ctx context.Context, actionID, txID string) error {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.ActionID != actionID {
		return apperr.NotFound(txID, "transaction does not belong to action %s", actionID)
	}
	if tx.Origin != models.OriginOrchestrator {
		return apperr.Validation(txID, "transaction is submitted by the wallet, not the orchestrator")
	}
	if tx.State.IsTerminal() {
		return nil
	}
	if tx.State == models.StateProcessing {
		return apperr.Validation(txID, "transaction is already being executed")
	}

	if len(tx.Dependencies) > 0 {
		deps, err := s.store.GetTransactions(ctx, tx.Dependencies)
		if err != nil {
			return err
		}
		if _, err := s.reconcileTxs(ctx, actionID, deps); err != nil {
			return err
		}
		deps, err = s.store.GetTransactions(ctx, tx.Dependencies)
		if err != nil {
			return err
		}
		for _, dep := range deps {
			if dep.State != models.StateSuccess {
				return apperr.Validation(txID, "dependencies not satisfied: %s is %s", dep.ID, dep.State)
			}
		}
	}

	asset := tx.Payload.Asset()
	breaker := s.breakers.Get(asset)
	if breaker.IsOpen() {
		return apperr.CallFailed(asset, errCircuitOpen)
	}

	claimed, err := s.claim(ctx, actionID, txID)
	if err != nil {
		return err
	}
	if !claimed {
		return apperr.Validation(txID, "transaction is already being executed")
	}

	s.logger.InfoWithAction(actionID, "Executing %s %s on %s", tx.Payload.Kind, txID, asset)
	blockID, submitErr := ledger.Submit(ctx, s.ledger, tx.Payload)

	o := &outcome{to: models.StateSuccess, blockID: &blockID}
	if submitErr != nil {
		s.recordLedgerError(asset, submitErr)
		o = &outcome{
			to:      models.StateFail,
			reason:  apperr.CallFailed(txID, submitErr).Error(),
			release: ledger.IsRejected(submitErr),
		}
	} else {
		breaker.RecordSuccess()
	}

	// the verdict is recorded even if the caller went away meanwhile
	writeCtx := context.WithoutCancel(ctx)
	unlock := s.locks.Lock(actionID)
	_, err = s.applyLocked(writeCtx, actionID, map[string]*outcome{txID: o})
	unlock()
	if err != nil {
		return err
	}
	if submitErr != nil {
		return apperr.CallFailed(txID, submitErr)
	}
	return nil
}

// claim moves a created leg to Processing under the action lock; false if someone else did first
func (s *Service) claim(ctx context.Context, actionID, txID string) (bool, error) {
	unlock := s.locks.Lock(actionID)
	defer unlock()

	fresh, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return false, err
	}
	if fresh.State != models.StateCreated {
		return false, nil
	}
	if _, err := s.applyLocked(ctx, actionID, map[string]*outcome{txID: {to: models.StateProcessing}}); err != nil {
		return false, err
	}
	return true, nil
}
