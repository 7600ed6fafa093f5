package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/ledger"
	"github.com/speedrun-hq/linkrunner/pkg/models"
	"github.com/speedrun-hq/linkrunner/pkg/ratelimit"
)

func (h *harness) balance(t *testing.T, account string) int64 {
	t.Helper()
	b, err := h.ledger.BalanceOf(context.Background(), assetAddr, account)
	require.NoError(t, err)
	return b.Int64()
}

func (h *harness) linkFunds(t *testing.T, linkID string) *models.LinkFunds {
	t.Helper()
	funds, err := h.store.GetLinkFunds(context.Background(), linkID)
	require.NoError(t, err)
	return funds
}

func receiveRequest(amount int64) ActionRequest {
	req := createLinkRequest()
	req.Kind = models.ActionReceive
	req.Wallet = bobWallet
	req.Amount = big.NewInt(amount)
	return req
}

func TestPooledBalanceDoesNotConfirmDeposit(t *testing.T) {
	h := newHarness(t, ratelimit.Policy{})
	ctx := context.Background()
	h.ledger.SetBalance(assetAddr, orchestratorAddr, big.NewInt(50_000))

	view, err := h.svc.CreateAction(ctx, alice, createLinkRequest())
	require.NoError(t, err)
	actionID := view.Action.ID

	view, err = h.svc.UpdateAction(ctx, alice, actionID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCreated, txOfKind(t, view, models.PayloadTransfer).State)

	view, err = h.svc.ReconcileAction(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCreated, txOfKind(t, view, models.PayloadTransfer).State)
	assert.Equal(t, int64(10_000), h.balance(t, aliceWallet), "the wallet never paid")
	assert.Equal(t, "0", h.linkFunds(t, "link-1").Funded.String())

	h.signWalletLegs(t, view)
	view, err = h.svc.ReconcileAction(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSuccess, view.Action.State)
	assert.Equal(t, "1010", h.linkFunds(t, "link-1").Funded.String())

	pool, err := h.store.GetPool(ctx, assetAddr)
	require.NoError(t, err)
	assert.Equal(t, "51010", pool.Accounted.String())
}

func TestUnattributedFundsAreCreditedOnce(t *testing.T) {
	h := newHarness(t, ratelimit.Policy{})
	ctx := context.Background()
	h.ledger.SetBalance(assetAddr, bobWallet, big.NewInt(10_000))

	aliceView, err := h.svc.CreateAction(ctx, alice, createLinkRequest())
	require.NoError(t, err)
	bobReq := createLinkRequest()
	bobReq.LinkID = "link-2"
	bobReq.Wallet = bobWallet
	bobView, err := h.svc.CreateAction(ctx, bob, bobReq)
	require.NoError(t, err)

	// one deposit lands, both are polled
	_, err = ledger.Submit(ctx, h.ledger, txOfKind(t, aliceView, models.PayloadTransfer).Payload)
	require.NoError(t, err)

	first, err := h.svc.ReconcileAction(ctx, aliceView.Action.ID)
	require.NoError(t, err)
	second, err := h.svc.ReconcileAction(ctx, bobView.Action.ID)
	require.NoError(t, err)

	credited := 0
	for _, v := range []*ActionView{first, second} {
		if txOfKind(t, v, models.PayloadTransfer).State == models.StateSuccess {
			credited++
		}
	}
	assert.Equal(t, 1, credited)

	total := new(big.Int).Add(h.linkFunds(t, "link-1").Funded, h.linkFunds(t, "link-2").Funded)
	assert.Equal(t, "1010", total.String(), "never more than what arrived")
}

func TestReceiveIsBoundedByLinkFunds(t *testing.T) {
	h := newHarness(t, ratelimit.Policy{})
	ctx := context.Background()
	activeLink(t, h)
	h.ledger.SetBalance(assetAddr, orchestratorAddr, big.NewInt(1_000_000))

	_, err := h.svc.CreateAction(ctx, bob, receiveRequest(900_000))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.ErrorContains(t, err, "insufficient link balance")

	first, err := h.svc.CreateAction(ctx, bob, receiveRequest(600))
	require.NoError(t, err)

	// the pending claim is already reserved
	_, err = h.svc.CreateAction(ctx, bob, receiveRequest(600))
	assert.ErrorContains(t, err, "insufficient link balance")

	second, err := h.svc.CreateAction(ctx, bob, receiveRequest(410))
	require.NoError(t, err)

	for _, id := range []string{first.Action.ID, second.Action.ID} {
		view, err := h.svc.ReconcileAction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StateSuccess, view.Action.State)
	}
	assert.Equal(t, int64(1_010), h.balance(t, bobWallet))

	funds := h.linkFunds(t, "link-1")
	assert.Equal(t, "1010", funds.Paid.String())
	assert.Equal(t, "0", funds.Available().String())

	_, err = h.svc.CreateAction(ctx, bob, receiveRequest(1))
	assert.ErrorContains(t, err, "insufficient link balance")

	withdraw := createLinkRequest()
	withdraw.Kind = models.ActionWithdraw
	withdraw.Amount = big.NewInt(1)
	_, err = h.svc.CreateAction(ctx, alice, withdraw)
	assert.ErrorContains(t, err, "insufficient link balance")
}

func TestFailedPayoutReservation(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantAvailable string
	}{
		{
			name:          "ledger refusal releases the funds",
			err:           &ledger.RejectedError{Asset: assetAddr, Method: "transfer", Reason: "insufficient funds"},
			wantAvailable: "1010",
		},
		{
			name:          "unknown outcome keeps them reserved",
			err:           errors.New("connection reset"),
			wantAvailable: "610",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ratelimit.Policy{})
			ctx := context.Background()
			activeLink(t, h)

			view, err := h.svc.CreateAction(ctx, bob, receiveRequest(400))
			require.NoError(t, err)

			h.ledger.FailWith("transfer", tt.err)
			view, err = h.svc.ReconcileAction(ctx, view.Action.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StateFail, view.Action.State)

			funds := h.linkFunds(t, "link-1")
			assert.Equal(t, tt.wantAvailable, funds.Available().String())
			assert.Equal(t, "0", funds.Paid.String())
		})
	}
}

func TestLinkAssetIsFixed(t *testing.T) {
	h := newHarness(t, ratelimit.Policy{})
	ctx := context.Background()
	activeLink(t, h)

	other := "0x00000000000000000000000000000000000000dd"
	h.ledger.SetFee(other, big.NewInt(10))
	send := createLinkRequest()
	send.Kind = models.ActionSend
	send.Asset = other
	_, err := h.svc.CreateAction(ctx, alice, send)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	receive := receiveRequest(10)
	receive.Asset = other
	_, err = h.svc.CreateAction(ctx, bob, receive)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
