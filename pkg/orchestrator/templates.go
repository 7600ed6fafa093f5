package orchestrator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/metrics"
	"github.com/speedrun-hq/linkrunner/pkg/models"
	"github.com/speedrun-hq/linkrunner/pkg/ratelimit"
)

// CreateAction validates req, prices it with the current ledger fee and stores the new action
// with its intents and transactions. The returned view carries the plan to submit.
func (s *Service) CreateAction(ctx context.Context, caller string, req ActionRequest) (*ActionView, error) {
	if caller == "" {
		return nil, apperr.Unauthorized("", "caller identity is required")
	}
	if err := s.limiter.Allow(ctx, caller, ratelimit.MethodCreateAction); err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if s.breakers.Get(req.Asset).IsOpen() {
		return nil, apperr.CallFailed(req.Asset, errCircuitOpen)
	}

	if err := s.checkLink(ctx, caller, req); err != nil {
		return nil, err
	}

	fees, err := s.fees.GetFees(ctx, []string{req.Asset})
	if err != nil {
		return nil, apperr.CallFailed(req.Asset, err)
	}
	ledgerFee, ok := fees[req.Asset]
	if !ok || ledgerFee == nil {
		return nil, apperr.CallFailed(req.Asset, fmt.Errorf("no fee for asset %s", req.Asset))
	}

	b := newBuilder(req.Kind, caller, req.LinkID, s.clock.NowNs())
	switch req.Kind {
	case models.ActionCreateLink:
		s.createLinkTemplate(b, req, ledgerFee)
	case models.ActionSend:
		b.transfer("deposit", req.Asset, req.Wallet, s.cfg.Orchestrator, new(big.Int).Add(req.Amount, ledgerFee), models.OriginWallet)
	case models.ActionReceive:
		b.transfer("claim", req.Asset, s.cfg.Orchestrator, req.Wallet, req.Amount, models.OriginOrchestrator)
	case models.ActionWithdraw:
		b.transfer("withdraw", req.Asset, s.cfg.Orchestrator, req.Wallet, req.Amount, models.OriginOrchestrator)
	}
	for _, tx := range b.txs {
		if err := tx.Payload.Validate(); err != nil {
			return nil, apperr.InvalidInput(tx.ID, "%v", err)
		}
	}

	// deposits are only recognised above the balance the pool held before they were asked for
	if req.Kind == models.ActionCreateLink || req.Kind == models.ActionSend {
		if err := s.ensurePool(ctx, req.Asset); err != nil {
			return nil, err
		}
	}

	// checked again together with the write so a link cannot be created twice
	// and its funds cannot be promised twice
	unlock := s.locks.Lock(linkLockKey(req.LinkID))
	defer unlock()
	if err := s.checkLink(ctx, caller, req); err != nil {
		return nil, err
	}
	if err := s.storeAction(ctx, b, req); err != nil {
		return nil, err
	}

	metrics.ActionsCreated.WithLabelValues(string(req.Kind)).Inc()
	s.logger.InfoWithAction(b.action.ID, "Created %s action on link %s with %d transactions", req.Kind, req.LinkID, len(b.txs))
	return s.view(&tree{action: b.action, intents: b.intents, txs: b.txs})
}

// storeAction writes the new action together with its effect on the link's funds.
// The caller holds the link lock.
func (s *Service) storeAction(ctx context.Context, b *builder, req ActionRequest) error {
	switch req.Kind {
	case models.ActionCreateLink:
		if err := s.store.PutLinkFunds(ctx, models.NewLinkFunds(req.LinkID, req.Asset, b.now)); err != nil {
			return err
		}
	case models.ActionSend:
		if _, err := s.linkFunds(ctx, req.LinkID, req.Asset); err != nil {
			return err
		}
	case models.ActionReceive, models.ActionWithdraw:
		funds, err := s.reservePayout(ctx, req)
		if err != nil {
			return err
		}
		if err := s.store.CreateAction(ctx, b.action, b.intents, b.txs); err != nil {
			funds.Release(req.Amount)
			if putErr := s.store.PutLinkFunds(ctx, funds); putErr != nil {
				s.logger.Error("Failed to release %v on link %s: %v", req.Amount, req.LinkID, putErr)
			}
			return err
		}
		return nil
	}
	return s.store.CreateAction(ctx, b.action, b.intents, b.txs)
}

// createLinkTemplate funds the link with amount plus the ledger fee of the later payout and,
// when a creation fee is configured, collects it through approve and delegated transfer
func (s *Service) createLinkTemplate(b *builder, req ActionRequest, ledgerFee *big.Int) {
	b.transfer("deposit", req.Asset, req.Wallet, s.cfg.Orchestrator, new(big.Int).Add(req.Amount, ledgerFee), models.OriginWallet)

	if s.cfg.CreateLinkFee == nil || s.cfg.CreateLinkFee.Sign() == 0 {
		return
	}
	fee := s.cfg.CreateLinkFee
	intent := b.intent("fee", models.IntentTransferFrom, req.Asset, req.Wallet, s.cfg.Treasury, fee)
	intent.Spender = s.cfg.Orchestrator

	// the delegated transfer pays its own ledger fee out of the allowance
	approve := b.tx(intent, models.NewApprovePayload(models.Approve{
		Asset:   req.Asset,
		Owner:   req.Wallet,
		Spender: s.cfg.Orchestrator,
		Amount:  new(big.Int).Add(fee, ledgerFee),
	}), models.OriginWallet, 0)
	b.tx(intent, models.NewDelegatedTransferPayload(models.DelegatedTransfer{
		Asset:   req.Asset,
		Owner:   req.Wallet,
		Spender: s.cfg.Orchestrator,
		To:      s.cfg.Treasury,
		Amount:  new(big.Int).Set(fee),
	}), models.OriginOrchestrator, 1, approve.ID)
}

// builder assembles an action tree with fresh ids
type builder struct {
	action  *models.Action
	intents []*models.Intent
	txs     []*models.Transaction
	now     uint64
}

func newBuilder(kind models.ActionKind, creator, linkID string, now uint64) *builder {
	return &builder{
		action: &models.Action{
			ID:        uuid.NewString(),
			Kind:      kind,
			State:     models.StateCreated,
			Creator:   creator,
			LinkID:    linkID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		now: now,
	}
}

func (b *builder) intent(label string, kind models.IntentKind, asset, from, to string, amount *big.Int) *models.Intent {
	in := &models.Intent{
		ID:        uuid.NewString(),
		ActionID:  b.action.ID,
		Label:     label,
		Kind:      kind,
		State:     models.StateCreated,
		Asset:     asset,
		From:      from,
		To:        to,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: b.now,
	}
	b.intents = append(b.intents, in)
	b.action.IntentIDs = append(b.action.IntentIDs, in.ID)
	return in
}

func (b *builder) tx(intent *models.Intent, payload models.Payload, origin models.Origin, group uint16, deps ...string) *models.Transaction {
	tx := &models.Transaction{
		ID:           uuid.NewString(),
		ActionID:     b.action.ID,
		IntentID:     intent.ID,
		State:        models.StateCreated,
		Payload:      payload,
		Dependencies: deps,
		Group:        group,
		Origin:       origin,
		CreatedAt:    b.now,
		UpdatedAt:    b.now,
	}
	b.txs = append(b.txs, tx)
	intent.TransactionIDs = append(intent.TransactionIDs, tx.ID)
	return tx
}

// transfer adds a direct transfer intent backed by a single transaction
func (b *builder) transfer(label, asset, from, to string, amount *big.Int, origin models.Origin) {
	intent := b.intent(label, models.IntentTransfer, asset, from, to, amount)
	b.tx(intent, models.NewTransferPayload(models.Transfer{
		Asset:  asset,
		From:   from,
		To:     to,
		Amount: new(big.Int).Set(amount),
	}), origin, 0)
}
