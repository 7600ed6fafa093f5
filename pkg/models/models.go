package models

import (
	"fmt"
	"math/big"
)

// State is shared by actions, intents and transactions
type State string

const (
	StateCreated    State = "created"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateFail       State = "fail"
)

// IsTerminal returns true for Success and Fail
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFail
}

// ActionKind is the user-initiated operation an action represents
type ActionKind string

const (
	ActionCreateLink ActionKind = "create_link"
	ActionSend       ActionKind = "send"
	ActionReceive    ActionKind = "receive"
	ActionWithdraw   ActionKind = "withdraw"
)

// ParseActionKind validates a kind string
func ParseActionKind(s string) (ActionKind, error) {
	switch k := ActionKind(s); k {
	case ActionCreateLink, ActionSend, ActionReceive, ActionWithdraw:
		return k, nil
	}
	return "", fmt.Errorf("unknown action kind: %s", s)
}

// IntentKind selects how an intent moves funds
type IntentKind string

const (
	// IntentTransfer moves funds with a single transfer call
	IntentTransfer IntentKind = "transfer"
	// IntentTransferFrom has the owner approve the orchestrator, which then pulls the funds
	IntentTransferFrom IntentKind = "transfer_from"
)

// Origin says who submits a transaction to the ledger
type Origin string

const (
	OriginWallet       Origin = "wallet"
	OriginOrchestrator Origin = "orchestrator"
)

// Action is one user-initiated operation. State is only written by Rollup.
type Action struct {
	ID        string     `json:"id" cbor:"1,keyasint"`
	Kind      ActionKind `json:"kind" cbor:"2,keyasint"`
	State     State      `json:"state" cbor:"3,keyasint"`
	Creator   string     `json:"creator" cbor:"4,keyasint"`
	LinkID    string     `json:"link_id" cbor:"5,keyasint"`
	IntentIDs []string   `json:"intent_ids" cbor:"6,keyasint"`
	CreatedAt uint64     `json:"created_at" cbor:"7,keyasint"`
	UpdatedAt uint64     `json:"updated_at" cbor:"8,keyasint"`
}

// Intent is one logical transfer purpose within an action
type Intent struct {
	ID             string     `json:"id" cbor:"1,keyasint"`
	ActionID       string     `json:"action_id" cbor:"2,keyasint"`
	Label          string     `json:"label" cbor:"3,keyasint"`
	Kind           IntentKind `json:"kind" cbor:"4,keyasint"`
	State          State      `json:"state" cbor:"5,keyasint"`
	Dependencies   []string   `json:"dependencies,omitempty" cbor:"6,keyasint,omitempty"`
	Asset          string     `json:"asset" cbor:"7,keyasint"`
	From           string     `json:"from" cbor:"8,keyasint"`
	To             string     `json:"to" cbor:"9,keyasint"`
	Spender        string     `json:"spender,omitempty" cbor:"10,keyasint,omitempty"`
	Amount         *big.Int   `json:"amount" cbor:"11,keyasint"`
	TransactionIDs []string   `json:"transaction_ids" cbor:"12,keyasint"`
	CreatedAt      uint64     `json:"created_at" cbor:"13,keyasint"`
}

// Clone returns a copy that shares no slices with a
func (a *Action) Clone() *Action {
	c := *a
	c.IntentIDs = append([]string(nil), a.IntentIDs...)
	return &c
}

// Clone returns a copy that shares no slices or amounts with i
func (i *Intent) Clone() *Intent {
	c := *i
	c.Dependencies = append([]string(nil), i.Dependencies...)
	c.TransactionIDs = append([]string(nil), i.TransactionIDs...)
	if i.Amount != nil {
		c.Amount = new(big.Int).Set(i.Amount)
	}
	return &c
}
