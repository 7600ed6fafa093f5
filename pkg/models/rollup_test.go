package models

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateState(t *testing.T) {
	tests := []struct {
		name     string
		children []State
		expected State
	}{
		{"no children", nil, StateCreated},
		{"all created", []State{StateCreated, StateCreated}, StateCreated},
		{"all success", []State{StateSuccess, StateSuccess, StateSuccess}, StateSuccess},
		{"one fail dominates", []State{StateSuccess, StateFail, StateProcessing}, StateFail},
		{"fail among created", []State{StateCreated, StateFail}, StateFail},
		{"mixed created and success", []State{StateCreated, StateSuccess}, StateProcessing},
		{"one processing", []State{StateProcessing}, StateProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AggregateState(tt.children))
		})
	}
}

func rollupFixture(states ...State) (Action, []Intent, []Transaction) {
	action := Action{ID: "action-1", Kind: ActionCreateLink, State: StateCreated}
	intents := []Intent{
		{ID: "intent-a", ActionID: action.ID, State: StateCreated},
		{ID: "intent-b", ActionID: action.ID, State: StateCreated},
	}
	action.IntentIDs = []string{"intent-a", "intent-b"}

	txs := make([]Transaction, len(states))
	for i, s := range states {
		intentID := "intent-a"
		if i%2 == 1 {
			intentID = "intent-b"
		}
		txs[i] = Transaction{ID: string(rune('a' + i)), ActionID: action.ID, IntentID: intentID, State: s}
	}
	return action, intents, txs
}

func TestRollup(t *testing.T) {
	t.Run("all success", func(t *testing.T) {
		action, intents, txs := rollupFixture(StateSuccess, StateSuccess, StateSuccess)
		gotAction, gotIntents := Rollup(action, intents, txs)
		assert.Equal(t, StateSuccess, gotAction.State)
		for _, in := range gotIntents {
			assert.Equal(t, StateSuccess, in.State)
		}
	})

	t.Run("fail in one intent fails the action", func(t *testing.T) {
		action, intents, txs := rollupFixture(StateSuccess, StateFail, StateProcessing)
		gotAction, gotIntents := Rollup(action, intents, txs)
		assert.Equal(t, StateFail, gotAction.State)
		assert.Equal(t, StateProcessing, gotIntents[0].State)
		assert.Equal(t, StateFail, gotIntents[1].State)
	})

	t.Run("stuck leg keeps action processing", func(t *testing.T) {
		action, intents, txs := rollupFixture(StateSuccess, StateSuccess, StateProcessing)
		gotAction, _ := Rollup(action, intents, txs)
		assert.Equal(t, StateProcessing, gotAction.State)
	})

	t.Run("inputs are not modified", func(t *testing.T) {
		action, intents, txs := rollupFixture(StateSuccess, StateSuccess)
		_, _ = Rollup(action, intents, txs)
		assert.Equal(t, StateCreated, action.State)
		assert.Equal(t, StateCreated, intents[0].State)
	})
}

func TestRollupIgnoresTransactionOrder(t *testing.T) {
	action, intents, txs := rollupFixture(StateSuccess, StateFail, StateCreated, StateProcessing, StateSuccess)
	wantAction, wantIntents := Rollup(action, intents, txs)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]Transaction(nil), txs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		gotAction, gotIntents := Rollup(action, intents, shuffled)
		require.Equal(t, wantAction.State, gotAction.State)
		for j := range gotIntents {
			require.Equal(t, wantIntents[j].State, gotIntents[j].State)
		}
	}
}

func TestRollupIdempotent(t *testing.T) {
	action, intents, txs := rollupFixture(StateSuccess, StateProcessing, StateCreated)
	once, onceIntents := Rollup(action, intents, txs)
	twice, twiceIntents := Rollup(once, onceIntents, txs)
	assert.Equal(t, once, twice)
	assert.Equal(t, onceIntents, twiceIntents)
}

func TestTransactionAdvance(t *testing.T) {
	tx := &Transaction{ID: "tx-1", State: StateCreated}

	require.NoError(t, tx.Advance(StateProcessing, 100))
	require.NotNil(t, tx.StartedAt)
	assert.Equal(t, uint64(100), *tx.StartedAt)

	require.NoError(t, tx.Advance(StateSuccess, 200))
	assert.Equal(t, uint64(100), *tx.StartedAt, "start timestamp is kept")
	assert.Equal(t, uint64(200), tx.UpdatedAt)

	assert.Error(t, tx.Advance(StateFail, 300), "terminal states are final")

	direct := &Transaction{ID: "tx-2", State: StateCreated}
	require.NoError(t, direct.Advance(StateSuccess, 50))
	assert.Equal(t, uint64(50), *direct.StartedAt)

	back := &Transaction{ID: "tx-3", State: StateProcessing}
	assert.Error(t, back.Advance(StateCreated, 1))
	assert.Error(t, back.Advance(StateProcessing, 1))
}

func TestTransactionTimedOut(t *testing.T) {
	start := uint64(1_000)
	timeout := uint64(500)

	tx := &Transaction{State: StateProcessing, StartedAt: &start}
	assert.False(t, tx.TimedOut(start+timeout, timeout))
	assert.True(t, tx.TimedOut(start+timeout+1, timeout))

	notStarted := &Transaction{State: StateCreated}
	assert.False(t, notStarted.TimedOut(1_000_000, timeout))

	done := &Transaction{State: StateSuccess, StartedAt: &start}
	assert.False(t, done.TimedOut(1_000_000, timeout))
}

func TestPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{
			name:    "valid transfer",
			payload: NewTransferPayload(Transfer{Asset: "a", From: "f", To: "t", Amount: big.NewInt(1)}),
		},
		{
			name:    "valid delegated transfer",
			payload: NewDelegatedTransferPayload(DelegatedTransfer{Asset: "a", Owner: "o", Spender: "s", To: "t", Amount: big.NewInt(5)}),
		},
		{
			name:    "zero amount",
			payload: NewApprovePayload(Approve{Asset: "a", Owner: "o", Spender: "s", Amount: big.NewInt(0)}),
			wantErr: true,
		},
		{
			name:    "missing amount",
			payload: NewApprovePayload(Approve{Asset: "a", Owner: "o", Spender: "s"}),
			wantErr: true,
		},
		{
			name:    "kind does not match body",
			payload: Payload{Kind: PayloadApprove, Transfer: &Transfer{Amount: big.NewInt(1)}},
			wantErr: true,
		},
		{
			name: "two bodies",
			payload: Payload{
				Kind:     PayloadTransfer,
				Transfer: &Transfer{Amount: big.NewInt(1)},
				Approve:  &Approve{Amount: big.NewInt(1)},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
