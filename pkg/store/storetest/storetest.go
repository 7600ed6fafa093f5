// Package storetest holds behaviour checks shared by every Store implementation.
package storetest

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/models"
	"github.com/speedrun-hq/linkrunner/pkg/store"
)

// Fixture returns an action with one intent and two dependent transactions
func Fixture(actionID, linkID string) (*models.Action, []*models.Intent, []*models.Transaction) {
	action := &models.Action{
		ID:        actionID,
		Kind:      models.ActionCreateLink,
		State:     models.StateCreated,
		Creator:   "creator",
		LinkID:    linkID,
		IntentIDs: []string{actionID + "-intent"},
		CreatedAt: 10,
	}
	intent := &models.Intent{
		ID:             actionID + "-intent",
		ActionID:       actionID,
		Label:          "fee",
		Kind:           models.IntentTransferFrom,
		State:          models.StateCreated,
		Asset:          "asset",
		From:           "creator",
		To:             "treasury",
		Spender:        "orchestrator",
		Amount:         big.NewInt(1_000),
		TransactionIDs: []string{actionID + "-approve", actionID + "-pull"},
		CreatedAt:      10,
	}
	approve := &models.Transaction{
		ID:       actionID + "-approve",
		ActionID: actionID,
		IntentID: intent.ID,
		State:    models.StateCreated,
		Payload: models.NewApprovePayload(models.Approve{
			Asset: "asset", Owner: "creator", Spender: "orchestrator", Amount: big.NewInt(1_000),
		}),
		Origin:    models.OriginWallet,
		CreatedAt: 10,
	}
	pull := &models.Transaction{
		ID:           actionID + "-pull",
		ActionID:     actionID,
		IntentID:     intent.ID,
		State:        models.StateCreated,
		Dependencies: []string{approve.ID},
		Group:        1,
		Payload: models.NewDelegatedTransferPayload(models.DelegatedTransfer{
			Asset: "asset", Owner: "creator", Spender: "orchestrator", To: "treasury", Amount: big.NewInt(1_000),
		}),
		Origin:    models.OriginOrchestrator,
		CreatedAt: 10,
	}
	return action, []*models.Intent{intent}, []*models.Transaction{approve, pull}
}

// Run exercises s; newStore must return an empty store
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("create and read back", func(t *testing.T) {
		s := newStore(t)
		action, intents, txs := Fixture("a1", "link-1")
		require.NoError(t, s.CreateAction(ctx, action, intents, txs))

		gotAction, err := s.GetAction(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, action.ID, gotAction.ID)
		assert.Equal(t, action.IntentIDs, gotAction.IntentIDs)
		assert.Equal(t, models.ActionCreateLink, gotAction.Kind)

		gotIntents, err := s.GetIntents(ctx, action.IntentIDs)
		require.NoError(t, err)
		require.Len(t, gotIntents, 1)
		assert.Equal(t, 0, gotIntents[0].Amount.Cmp(big.NewInt(1_000)))
		assert.Equal(t, "orchestrator", gotIntents[0].Spender)

		gotTxs, err := s.GetTransactions(ctx, intents[0].TransactionIDs)
		require.NoError(t, err)
		require.Len(t, gotTxs, 2)
		assert.Equal(t, models.PayloadApprove, gotTxs[0].Payload.Kind)
		assert.Equal(t, models.PayloadDelegatedTransfer, gotTxs[1].Payload.Kind)
		assert.Equal(t, []string{"a1-approve"}, gotTxs[1].Dependencies)
		assert.Equal(t, uint16(1), gotTxs[1].Group)
		assert.Equal(t, 0, gotTxs[1].Payload.Amount().Cmp(big.NewInt(1_000)))
	})

	t.Run("create twice is rejected", func(t *testing.T) {
		s := newStore(t)
		action, intents, txs := Fixture("a1", "link-1")
		require.NoError(t, s.CreateAction(ctx, action, intents, txs))
		err := s.CreateAction(ctx, action, intents, txs)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("missing records", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetAction(ctx, "nope")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		_, err = s.GetIntents(ctx, []string{"nope"})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		_, err = s.GetTransaction(ctx, "nope")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("updates are persisted", func(t *testing.T) {
		s := newStore(t)
		action, intents, txs := Fixture("a1", "link-1")
		require.NoError(t, s.CreateAction(ctx, action, intents, txs))

		tx, err := s.GetTransaction(ctx, "a1-approve")
		require.NoError(t, err)
		require.NoError(t, tx.Advance(models.StateSuccess, 99))
		block := uint64(7)
		tx.BlockID = &block
		require.NoError(t, s.PutTransactions(ctx, []*models.Transaction{tx}))

		got, err := s.GetTransaction(ctx, "a1-approve")
		require.NoError(t, err)
		assert.Equal(t, models.StateSuccess, got.State)
		require.NotNil(t, got.StartedAt)
		assert.Equal(t, uint64(99), *got.StartedAt)
		require.NotNil(t, got.BlockID)
		assert.Equal(t, uint64(7), *got.BlockID)

		intents[0].State = models.StateProcessing
		require.NoError(t, s.PutIntents(ctx, intents))
		gotIntents, err := s.GetIntents(ctx, []string{intents[0].ID})
		require.NoError(t, err)
		assert.Equal(t, models.StateProcessing, gotIntents[0].State)
	})

	t.Run("returned values are copies", func(t *testing.T) {
		s := newStore(t)
		action, intents, txs := Fixture("a1", "link-1")
		require.NoError(t, s.CreateAction(ctx, action, intents, txs))

		got, err := s.GetAction(ctx, "a1")
		require.NoError(t, err)
		got.State = models.StateFail
		got.IntentIDs[0] = "changed"

		again, err := s.GetAction(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, models.StateCreated, again.State)
		assert.Equal(t, "a1-intent", again.IntentIDs[0])
	})

	t.Run("actions by link and pending", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"a1", "a2"} {
			action, intents, txs := Fixture(id, "link-1")
			require.NoError(t, s.CreateAction(ctx, action, intents, txs))
		}
		other, intents, txs := Fixture("a3", "link-2")
		require.NoError(t, s.CreateAction(ctx, other, intents, txs))

		byLink, err := s.ActionsByLink(ctx, "link-1")
		require.NoError(t, err)
		assert.Len(t, byLink, 2)

		none, err := s.ActionsByLink(ctx, "link-9")
		require.NoError(t, err)
		assert.Empty(t, none)

		done, err := s.GetAction(ctx, "a2")
		require.NoError(t, err)
		done.State = models.StateSuccess
		require.NoError(t, s.PutAction(ctx, done))

		pending, err := s.PendingActionIDs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a1", "a3"}, pending)
	})

	t.Run("pool and link funds", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetPool(ctx, "asset")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		_, err = s.GetLinkFunds(ctx, "link-1")
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		require.NoError(t, s.PutPool(ctx, &models.Pool{Asset: "asset", Accounted: big.NewInt(5_000), UpdatedAt: 3}))
		pool, err := s.GetPool(ctx, "asset")
		require.NoError(t, err)
		assert.Equal(t, "5000", pool.Accounted.String())

		funds := models.NewLinkFunds("link-1", "asset", 3)
		funds.Funded = big.NewInt(1_010)
		require.NoError(t, funds.Reserve(big.NewInt(400)))
		require.NoError(t, s.PutLinkFunds(ctx, funds))

		got, err := s.GetLinkFunds(ctx, "link-1")
		require.NoError(t, err)
		assert.Equal(t, "asset", got.Asset)
		assert.Equal(t, "1010", got.Funded.String())
		assert.Equal(t, "400", got.Reserved.String())
		assert.Equal(t, "610", got.Available().String())

		got.Funded.SetInt64(0)
		again, err := s.GetLinkFunds(ctx, "link-1")
		require.NoError(t, err)
		assert.Equal(t, "1010", again.Funded.String())
	})
}
