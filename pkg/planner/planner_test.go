package planner

import (
	"encoding/json"
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/contracts"
	"github.com/speedrun-hq/linkrunner/pkg/models"
)

const (
	testAsset        = "0x00000000000000000000000000000000000000aa"
	testWallet       = "0x1111111111111111111111111111111111111111"
	testLink         = "0x2222222222222222222222222222222222222222"
	testTreasury     = "0x3333333333333333333333333333333333333333"
	testOrchestrator = "0x4444444444444444444444444444444444444444"
)

func transferTx(id string, deps ...string) *models.Transaction {
	return &models.Transaction{
		ID:           id,
		State:        models.StateCreated,
		Origin:       models.OriginWallet,
		Group:        1,
		Dependencies: deps,
		Payload: models.NewTransferPayload(models.Transfer{
			Asset: testAsset, From: testWallet, To: testLink, Amount: big.NewInt(100),
		}),
	}
}

func approveTx(id string) *models.Transaction {
	return &models.Transaction{
		ID:     id,
		State:  models.StateCreated,
		Origin: models.OriginWallet,
		Group:  1,
		Payload: models.NewApprovePayload(models.Approve{
			Asset: testAsset, Owner: testWallet, Spender: testOrchestrator, Amount: big.NewInt(10),
		}),
	}
}

func delegatedTx(id, approveID string) *models.Transaction {
	return &models.Transaction{
		ID:           id,
		State:        models.StateCreated,
		Origin:       models.OriginOrchestrator,
		Group:        1,
		Dependencies: []string{approveID},
		Payload: models.NewDelegatedTransferPayload(models.DelegatedTransfer{
			Asset: testAsset, Owner: testWallet, Spender: testOrchestrator, To: testTreasury, Amount: big.NewInt(10),
		}),
	}
}

func correlationIDs(round []Request) []string {
	ids := make([]string, len(round))
	for i, r := range round {
		ids[i] = r.CorrelationID
	}
	return ids
}

func TestPlanEmpty(t *testing.T) {
	plan, err := New(testOrchestrator).Plan("action-1", "ctx", nil)
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestPlanSingleTransaction(t *testing.T) {
	plan, err := New(testOrchestrator).Plan("action-1", "ctx", []*models.Transaction{transferTx("t1")})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Len(t, plan[0], 1)

	req := plan[0][0]
	assert.Equal(t, MethodTransfer, req.Method)
	assert.Equal(t, testAsset, req.Target)
	assert.Equal(t, "t1", req.CorrelationID)

	want, err := contracts.PackERC20("transfer", common.HexToAddress(testLink), big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, want, []byte(req.Args))
}

func TestPlanSingleTransactionWithDanglingDependency(t *testing.T) {
	_, err := New(testOrchestrator).Plan("action-1", "ctx", []*models.Transaction{transferTx("t1", "missing")})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

// two wallet transfers plus an approve and the delegated transfer depending on it
func TestPlanTransferApproveTriggerScenario(t *testing.T) {
	txs := []*models.Transaction{
		delegatedTx("d1", "a1"),
		transferTx("t1"),
		approveTx("a1"),
		transferTx("t2"),
	}

	plan, err := New(testOrchestrator).Plan("action-1", "link-1", txs)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	assert.Equal(t, []string{"a1", "t1", "t2"}, correlationIDs(plan[0]))
	for _, req := range plan[0] {
		assert.Equal(t, testAsset, req.Target)
	}
	assert.Equal(t, MethodApprove, plan[0][0].Method)

	require.Len(t, plan[1], 1)
	trigger := plan[1][0]
	assert.Equal(t, MethodTrigger, trigger.Method)
	assert.Equal(t, testOrchestrator, trigger.Target)

	var args TriggerArgs
	require.NoError(t, json.Unmarshal(trigger.Args, &args))
	assert.Equal(t, TriggerArgs{ActionID: "action-1", ContextID: "link-1", TransactionID: "d1"}, args)
}

func TestPlanDeterministic(t *testing.T) {
	build := func() []*models.Transaction {
		return []*models.Transaction{
			transferTx("t1"),
			transferTx("t2", "t1"),
			transferTx("t3", "t1"),
			transferTx("t4", "t2", "t3"),
			approveTx("a1"),
			delegatedTx("d1", "a1"),
			transferTx("t5"),
		}
	}

	planner := New(testOrchestrator)
	want, err := planner.Plan("action-1", "ctx", build())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 25; i++ {
		txs := build()
		rng.Shuffle(len(txs), func(a, b int) { txs[a], txs[b] = txs[b], txs[a] })
		got, err := planner.Plan("action-1", "ctx", txs)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestRoundsRespectDependencies(t *testing.T) {
	txs := []*models.Transaction{
		transferTx("t1"),
		transferTx("t2", "t1"),
		transferTx("t3", "t2"),
		transferTx("t4", "t1", "t3"),
		transferTx("isolated"),
	}

	rounds, err := Rounds(txs)
	require.NoError(t, err)

	index := make(map[string]int)
	for i, round := range rounds {
		for _, tx := range round {
			index[tx.ID] = i
		}
	}
	for _, tx := range txs {
		for _, dep := range tx.Dependencies {
			assert.Greater(t, index[tx.ID], index[dep], "%s must come after %s", tx.ID, dep)
		}
	}
	assert.Equal(t, 0, index["isolated"])
	assert.Len(t, rounds, 4)
}

func TestRoundsErrors(t *testing.T) {
	tests := []struct {
		name string
		txs  []*models.Transaction
	}{
		{"cycle", []*models.Transaction{transferTx("t1", "t2"), transferTx("t2", "t1")}},
		{"self dependency", []*models.Transaction{transferTx("t1", "t1"), transferTx("t2")}},
		{"unknown dependency", []*models.Transaction{transferTx("t1"), transferTx("t2", "other-action-tx")}},
		{"duplicate id", []*models.Transaction{transferTx("t1"), transferTx("t1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Rounds(tt.txs)
			assert.True(t, errors.Is(err, apperr.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestPlanAfterPartialCompletion(t *testing.T) {
	t1, a1, d1 := transferTx("t1"), approveTx("a1"), delegatedTx("d1", "a1")
	planner := New(testOrchestrator)

	t1.State = models.StateSuccess
	a1.State = models.StateSuccess
	plan, err := planner.Plan("action-1", "ctx", []*models.Transaction{t1, a1, d1})
	require.NoError(t, err)
	require.Len(t, plan, 1, "fully successful first round is omitted")
	assert.Equal(t, []string{"d1"}, correlationIDs(plan[0]))

	// only the approve landed, so the transfer is re-offered alongside nothing else
	t1.State = models.StateProcessing
	plan, err = planner.Plan("action-1", "ctx", []*models.Transaction{t1, a1, d1})
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, []string{"t1"}, correlationIDs(plan[0]))
	assert.Equal(t, []string{"d1"}, correlationIDs(plan[1]))

	t1.State = models.StateSuccess
	d1.State = models.StateSuccess
	plan, err = planner.Plan("action-1", "ctx", []*models.Transaction{t1, a1, d1})
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestPlanDropsDependentsOfFailedLegs(t *testing.T) {
	planner := New(testOrchestrator)

	t.Run("failed approve takes its trigger and everything after it", func(t *testing.T) {
		t1, a1, d1 := transferTx("t1"), approveTx("a1"), delegatedTx("d1", "a1")
		e1 := transferTx("e1", "d1")
		a1.State = models.StateFail

		plan, err := planner.Plan("action-1", "ctx", []*models.Transaction{t1, a1, d1, e1})
		require.NoError(t, err)
		require.Len(t, plan, 1)
		assert.Equal(t, []string{"t1"}, correlationIDs(plan[0]))
	})

	t.Run("failed sibling leaves independent legs alone", func(t *testing.T) {
		t1, a1, d1 := transferTx("t1"), approveTx("a1"), delegatedTx("d1", "a1")
		t1.State = models.StateFail

		plan, err := planner.Plan("action-1", "ctx", []*models.Transaction{t1, a1, d1})
		require.NoError(t, err)
		require.Len(t, plan, 2)
		assert.Equal(t, []string{"a1"}, correlationIDs(plan[0]))
		assert.Equal(t, []string{"d1"}, correlationIDs(plan[1]))
	})

	t.Run("nothing runnable is left", func(t *testing.T) {
		a1, d1 := approveTx("a1"), delegatedTx("d1", "a1")
		a1.State = models.StateFail

		plan, err := planner.Plan("action-1", "ctx", []*models.Transaction{a1, d1})
		require.NoError(t, err)
		assert.Nil(t, plan)
	})
}

func TestPlanOrchestratorTransferIsTrigger(t *testing.T) {
	tx := transferTx("withdraw")
	tx.Origin = models.OriginOrchestrator

	plan, err := New(testOrchestrator).Plan("action-1", "ctx", []*models.Transaction{tx})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, MethodTrigger, plan[0][0].Method)
	assert.Equal(t, testOrchestrator, plan[0][0].Target)
}
