package models

import (
	"fmt"
	"math/big"
)

// Pool is the share of the orchestrator's balance of one asset that is already attributed to links.
// A deposit is only confirmed from balance above Accounted, so every unit is credited at most once.
type Pool struct {
	Asset     string   `json:"asset" cbor:"1,keyasint"`
	Accounted *big.Int `json:"accounted" cbor:"2,keyasint"`
	UpdatedAt uint64   `json:"updated_at" cbor:"3,keyasint"`
}

// Unattributed returns how much of balance is not yet credited to any link
func (p *Pool) Unattributed(balance *big.Int) *big.Int {
	return new(big.Int).Sub(balance, p.Accounted)
}

// Clone returns a copy that shares no amounts with p
func (p *Pool) Clone() *Pool {
	c := *p
	c.Accounted = cloneAmount(p.Accounted)
	return &c
}

// LinkFunds tracks what a link holds in the orchestrator's pool.
// Reserved covers payouts that were created but have not been resolved yet.
type LinkFunds struct {
	LinkID    string   `json:"link_id" cbor:"1,keyasint"`
	Asset     string   `json:"asset" cbor:"2,keyasint"`
	Funded    *big.Int `json:"funded" cbor:"3,keyasint"`
	Reserved  *big.Int `json:"reserved" cbor:"4,keyasint"`
	Paid      *big.Int `json:"paid" cbor:"5,keyasint"`
	UpdatedAt uint64   `json:"updated_at" cbor:"6,keyasint"`
}

func NewLinkFunds(linkID, asset string, nowNs uint64) *LinkFunds {
	return &LinkFunds{
		LinkID:    linkID,
		Asset:     asset,
		Funded:    big.NewInt(0),
		Reserved:  big.NewInt(0),
		Paid:      big.NewInt(0),
		UpdatedAt: nowNs,
	}
}

// Available is what can still be reserved for payouts
func (f *LinkFunds) Available() *big.Int {
	out := new(big.Int).Sub(f.Funded, f.Reserved)
	return out.Sub(out, f.Paid)
}

// Reserve sets amount aside for a payout; it fails when the link does not hold enough
func (f *LinkFunds) Reserve(amount *big.Int) error {
	if available := f.Available(); available.Cmp(amount) < 0 {
		return fmt.Errorf("link %s holds %v, %v requested", f.LinkID, available, amount)
	}
	f.Reserved = new(big.Int).Add(f.Reserved, amount)
	return nil
}

// Settle turns a reservation into a payout
func (f *LinkFunds) Settle(amount *big.Int) {
	f.Reserved = nonNegative(new(big.Int).Sub(f.Reserved, amount))
	f.Paid = new(big.Int).Add(f.Paid, amount)
}

// Release returns a reservation whose payout never happened
func (f *LinkFunds) Release(amount *big.Int) {
	f.Reserved = nonNegative(new(big.Int).Sub(f.Reserved, amount))
}

// Clone returns a copy that shares no amounts with f
func (f *LinkFunds) Clone() *LinkFunds {
	c := *f
	c.Funded = cloneAmount(f.Funded)
	c.Reserved = cloneAmount(f.Reserved)
	c.Paid = cloneAmount(f.Paid)
	return &c
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func nonNegative(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return v.SetInt64(0)
	}
	return v
}
