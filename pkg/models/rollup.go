package models

// AggregateState derives a parent state from its children:
// Fail if any child failed, Created or Success if all children agree on it, Processing otherwise.
// No children counts as Created.
func AggregateState(children []State) State {
	allCreated, allSuccess := true, true
	for _, s := range children {
		if s == StateFail {
			return StateFail
		}
		if s != StateCreated {
			allCreated = false
		}
		if s != StateSuccess {
			allSuccess = false
		}
	}
	switch {
	case allCreated:
		return StateCreated
	case allSuccess:
		return StateSuccess
	default:
		return StateProcessing
	}
}

// Rollup recomputes intent and action states from the given transactions.
// It is pure: inputs are not modified and the returned values must be persisted by the caller.
func Rollup(action Action, intents []Intent, txs []Transaction) (Action, []Intent) {
	byIntent := make(map[string][]State, len(intents))
	for _, tx := range txs {
		byIntent[tx.IntentID] = append(byIntent[tx.IntentID], tx.State)
	}

	rolled := make([]Intent, len(intents))
	intentStates := make([]State, len(intents))
	for i, intent := range intents {
		intent.State = AggregateState(byIntent[intent.ID])
		rolled[i] = intent
		intentStates[i] = intent.State
	}

	action.State = AggregateState(intentStates)
	return action, rolled
}
