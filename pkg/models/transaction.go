package models

import (
	"fmt"
	"math/big"
)

// PayloadKind tags which ledger call a transaction performs
type PayloadKind string

const (
	PayloadTransfer          PayloadKind = "transfer"
	PayloadApprove           PayloadKind = "approve"
	PayloadDelegatedTransfer PayloadKind = "delegated_transfer"
)

// Transfer moves Amount of Asset from From to To, signed by From
type Transfer struct {
	Asset  string   `json:"asset" cbor:"1,keyasint"`
	From   string   `json:"from" cbor:"2,keyasint"`
	To     string   `json:"to" cbor:"3,keyasint"`
	Amount *big.Int `json:"amount" cbor:"4,keyasint"`
}

// Approve lets Spender move up to Amount of Owner's Asset
type Approve struct {
	Asset   string   `json:"asset" cbor:"1,keyasint"`
	Owner   string   `json:"owner" cbor:"2,keyasint"`
	Spender string   `json:"spender" cbor:"3,keyasint"`
	Amount  *big.Int `json:"amount" cbor:"4,keyasint"`
}

// DelegatedTransfer is a transfer from Owner executed by Spender against an allowance
type DelegatedTransfer struct {
	Asset   string   `json:"asset" cbor:"1,keyasint"`
	Owner   string   `json:"owner" cbor:"2,keyasint"`
	Spender string   `json:"spender" cbor:"3,keyasint"`
	To      string   `json:"to" cbor:"4,keyasint"`
	Amount  *big.Int `json:"amount" cbor:"5,keyasint"`
}

// Payload is a tagged union: exactly the field named by Kind is set.
type Payload struct {
	Kind              PayloadKind        `json:"kind" cbor:"1,keyasint"`
	Transfer          *Transfer          `json:"transfer,omitempty" cbor:"2,keyasint,omitempty"`
	Approve           *Approve           `json:"approve,omitempty" cbor:"3,keyasint,omitempty"`
	DelegatedTransfer *DelegatedTransfer `json:"delegated_transfer,omitempty" cbor:"4,keyasint,omitempty"`
}

func NewTransferPayload(t Transfer) Payload {
	return Payload{Kind: PayloadTransfer, Transfer: &t}
}

func NewApprovePayload(a Approve) Payload {
	return Payload{Kind: PayloadApprove, Approve: &a}
}

func NewDelegatedTransferPayload(d DelegatedTransfer) Payload {
	return Payload{Kind: PayloadDelegatedTransfer, DelegatedTransfer: &d}
}

// Validate checks that the variant named by Kind is the only one set and carries a positive amount
func (p Payload) Validate() error {
	set := 0
	for _, ok := range []bool{p.Transfer != nil, p.Approve != nil, p.DelegatedTransfer != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("payload must carry exactly one variant, got %d", set)
	}

	var amount *big.Int
	switch p.Kind {
	case PayloadTransfer:
		if p.Transfer == nil {
			return fmt.Errorf("payload kind %s without transfer body", p.Kind)
		}
		amount = p.Transfer.Amount
	case PayloadApprove:
		if p.Approve == nil {
			return fmt.Errorf("payload kind %s without approve body", p.Kind)
		}
		amount = p.Approve.Amount
	case PayloadDelegatedTransfer:
		if p.DelegatedTransfer == nil {
			return fmt.Errorf("payload kind %s without delegated transfer body", p.Kind)
		}
		amount = p.DelegatedTransfer.Amount
	default:
		return fmt.Errorf("unknown payload kind: %s", p.Kind)
	}

	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("payload %s amount must be greater than 0", p.Kind)
	}
	return nil
}

// Asset returns the ledger the payload is addressed to
func (p Payload) Asset() string {
	switch p.Kind {
	case PayloadTransfer:
		return p.Transfer.Asset
	case PayloadApprove:
		return p.Approve.Asset
	case PayloadDelegatedTransfer:
		return p.DelegatedTransfer.Asset
	}
	return ""
}

// Amount returns the amount moved or approved
func (p Payload) Amount() *big.Int {
	switch p.Kind {
	case PayloadTransfer:
		return p.Transfer.Amount
	case PayloadApprove:
		return p.Approve.Amount
	case PayloadDelegatedTransfer:
		return p.DelegatedTransfer.Amount
	}
	return nil
}

// Transaction is one concrete ledger call. Only reconciliation changes its state.
type Transaction struct {
	ID           string   `json:"id" cbor:"1,keyasint"`
	ActionID     string   `json:"action_id" cbor:"2,keyasint"`
	IntentID     string   `json:"intent_id" cbor:"3,keyasint"`
	State        State    `json:"state" cbor:"4,keyasint"`
	Payload      Payload  `json:"payload" cbor:"5,keyasint"`
	Dependencies []string `json:"dependencies,omitempty" cbor:"6,keyasint,omitempty"`
	// Group is a round hint only; the planner orders by Dependencies
	Group     uint16  `json:"group" cbor:"7,keyasint"`
	Origin    Origin  `json:"origin" cbor:"8,keyasint"`
	CreatedAt uint64  `json:"created_at" cbor:"9,keyasint"`
	StartedAt *uint64 `json:"started_at,omitempty" cbor:"10,keyasint,omitempty"`
	UpdatedAt uint64  `json:"updated_at" cbor:"11,keyasint"`
	BlockID   *uint64 `json:"block_id,omitempty" cbor:"12,keyasint,omitempty"`
	LastError string  `json:"last_error,omitempty" cbor:"13,keyasint,omitempty"`
}

// Advance moves the transaction to the next state.
// Entering Processing stamps StartedAt; skipping Processing on the way to a terminal state stamps it too.
func (t *Transaction) Advance(to State, nowNs uint64) error {
	if t.State.IsTerminal() {
		return fmt.Errorf("transaction %s is already %s", t.ID, t.State)
	}

	switch to {
	case StateProcessing:
		if t.State != StateCreated {
			return fmt.Errorf("transaction %s cannot move from %s to %s", t.ID, t.State, to)
		}
	case StateSuccess, StateFail:
	default:
		return fmt.Errorf("transaction %s cannot move from %s to %s", t.ID, t.State, to)
	}

	if t.StartedAt == nil {
		started := nowNs
		t.StartedAt = &started
	}
	t.State = to
	t.UpdatedAt = nowNs
	return nil
}

// TimedOut reports whether a started, non-terminal transaction has run past timeoutNs
func (t *Transaction) TimedOut(nowNs, timeoutNs uint64) bool {
	if t.State.IsTerminal() || t.StartedAt == nil || nowNs < *t.StartedAt {
		return false
	}
	return nowNs-*t.StartedAt > timeoutNs
}

// Clone returns a deep enough copy to mutate state fields without touching the original
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.BlockID != nil {
		v := *t.BlockID
		c.BlockID = &v
	}
	return &c
}
