// Package mocks provides an in-memory ledger for tests and local runs.
package mocks

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/speedrun-hq/linkrunner/pkg/ledger"
	"github.com/speedrun-hq/linkrunner/pkg/models"
)

// Call records one submission made against the ledger
type Call struct {
	Method string
	Asset  string
	Amount *big.Int
}

// Ledger keeps balances and allowances per asset and applies submissions immediately
type Ledger struct {
	mu         sync.Mutex
	balances   map[string]map[string]*big.Int
	allowances map[string]map[string]ledger.Allowance
	fees       map[string]*big.Int
	block      uint64
	calls      []Call

	// errs makes the named method fail with the given error until cleared
	errs map[string]error
}

var _ ledger.Ledger = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[string]map[string]*big.Int),
		allowances: make(map[string]map[string]ledger.Allowance),
		fees:       make(map[string]*big.Int),
		block:      1000,
		errs:       make(map[string]error),
	}
}

// SetBalance overwrites an account balance
func (l *Ledger) SetBalance(asset, account string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceMap(asset)[account] = new(big.Int).Set(amount)
}

// SetAllowance overwrites an allowance, optionally with an expiry
func (l *Ledger) SetAllowance(asset, owner, spender string, amount *big.Int, expiresAt *uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowanceMap(asset)[owner+"/"+spender] = ledger.Allowance{Amount: new(big.Int).Set(amount), ExpiresAt: expiresAt}
}

// SetFee sets the fee reported for asset
func (l *Ledger) SetFee(asset string, fee *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fees[asset] = new(big.Int).Set(fee)
}

// FailWith makes every call to method return err; a nil err clears it
func (l *Ledger) FailWith(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.errs, method)
		return
	}
	l.errs[method] = err
}

// Calls returns the submissions made so far
func (l *Ledger) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

func (l *Ledger) BalanceOf(_ context.Context, asset, account string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.errs["balance_of"]; err != nil {
		return nil, err
	}
	return new(big.Int).Set(l.balance(asset, account)), nil
}

func (l *Ledger) Allowance(_ context.Context, asset, owner, spender string) (ledger.Allowance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.errs["allowance"]; err != nil {
		return ledger.Allowance{}, err
	}
	a, ok := l.allowanceMap(asset)[owner+"/"+spender]
	if !ok {
		return ledger.Allowance{Amount: big.NewInt(0)}, nil
	}
	return ledger.Allowance{Amount: new(big.Int).Set(a.Amount), ExpiresAt: a.ExpiresAt}, nil
}

func (l *Ledger) Transfer(_ context.Context, t models.Transfer) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("transfer", t.Asset, t.Amount); err != nil {
		return 0, err
	}
	if err := l.move(t.Asset, t.From, t.To, t.Amount, "transfer"); err != nil {
		return 0, err
	}
	return l.nextBlock(), nil
}

func (l *Ledger) Approve(_ context.Context, a models.Approve) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("approve", a.Asset, a.Amount); err != nil {
		return 0, err
	}
	l.allowanceMap(a.Asset)[a.Owner+"/"+a.Spender] = ledger.Allowance{Amount: new(big.Int).Set(a.Amount)}
	return l.nextBlock(), nil
}

func (l *Ledger) DelegatedTransfer(_ context.Context, d models.DelegatedTransfer) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.record("delegated_transfer", d.Asset, d.Amount); err != nil {
		return 0, err
	}

	key := d.Owner + "/" + d.Spender
	allowance, ok := l.allowanceMap(d.Asset)[key]
	if !ok || allowance.Amount.Cmp(d.Amount) < 0 {
		return 0, &ledger.RejectedError{Asset: d.Asset, Method: "delegated_transfer", Reason: "insufficient allowance"}
	}
	if err := l.move(d.Asset, d.Owner, d.To, d.Amount, "delegated_transfer"); err != nil {
		return 0, err
	}
	l.allowanceMap(d.Asset)[key] = ledger.Allowance{
		Amount:    new(big.Int).Sub(allowance.Amount, d.Amount),
		ExpiresAt: allowance.ExpiresAt,
	}
	return l.nextBlock(), nil
}

func (l *Ledger) Fee(_ context.Context, asset string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.errs["fee"]; err != nil {
		return nil, err
	}
	fee, ok := l.fees[asset]
	if !ok {
		return nil, fmt.Errorf("no fee configured for %s", asset)
	}
	return new(big.Int).Set(fee), nil
}

func (l *Ledger) record(method, asset string, amount *big.Int) error {
	if err := l.errs[method]; err != nil {
		return err
	}
	l.calls = append(l.calls, Call{Method: method, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

func (l *Ledger) move(asset, from, to string, amount *big.Int, method string) error {
	fromBalance := l.balance(asset, from)
	if fromBalance.Cmp(amount) < 0 {
		return &ledger.RejectedError{Asset: asset, Method: method, Reason: "insufficient funds"}
	}
	balances := l.balanceMap(asset)
	balances[from] = new(big.Int).Sub(fromBalance, amount)
	balances[to] = new(big.Int).Add(l.balance(asset, to), amount)
	return nil
}

func (l *Ledger) balance(asset, account string) *big.Int {
	if b, ok := l.balanceMap(asset)[account]; ok {
		return b
	}
	return big.NewInt(0)
}

func (l *Ledger) balanceMap(asset string) map[string]*big.Int {
	m, ok := l.balances[asset]
	if !ok {
		m = make(map[string]*big.Int)
		l.balances[asset] = m
	}
	return m
}

func (l *Ledger) allowanceMap(asset string) map[string]ledger.Allowance {
	m, ok := l.allowances[asset]
	if !ok {
		m = make(map[string]ledger.Allowance)
		l.allowances[asset] = m
	}
	return m
}

func (l *Ledger) nextBlock() uint64 {
	l.block++
	return l.block
}
