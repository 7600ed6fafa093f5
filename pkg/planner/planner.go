// Package planner turns the transactions of an action into ordered rounds of ledger requests.
package planner

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/contracts"
	"github.com/speedrun-hq/linkrunner/pkg/models"
)

// Method is the call a request asks its target to perform
type Method string

const (
	MethodTransfer Method = "transfer"
	MethodApprove  Method = "approve"
	MethodTrigger  Method = "trigger"
)

// Request describes one call the client submits. CorrelationID is the transaction id.
type Request struct {
	Target        string        `json:"target"`
	Method        Method        `json:"method"`
	Args          hexutil.Bytes `json:"args"`
	CorrelationID string        `json:"correlation_id"`
}

// TriggerArgs is the body of a trigger request addressed to the orchestrator
type TriggerArgs struct {
	ActionID      string `json:"action_id"`
	ContextID     string `json:"context_id"`
	TransactionID string `json:"transaction_id"`
}

// Planner builds round plans. Orchestrator is the address trigger requests are sent to.
type Planner struct {
	orchestrator string
}

func New(orchestrator string) *Planner {
	return &Planner{orchestrator: orchestrator}
}

// Plan returns the remaining rounds for txs, or nil when nothing is left to submit.
// Transactions already in a terminal state are left out, as is anything waiting on a failed one,
// and rounds that become empty are dropped.
func (p *Planner) Plan(actionID, contextID string, txs []*models.Transaction) ([][]Request, error) {
	if len(txs) == 0 {
		return nil, nil
	}

	var rounds [][]*models.Transaction
	if len(txs) == 1 {
		if len(txs[0].Dependencies) > 0 {
			return nil, apperr.InvalidInput(txs[0].ID, "depends on transactions outside the plan")
		}
		rounds = [][]*models.Transaction{{txs[0]}}
	} else {
		var err error
		rounds, err = Rounds(txs)
		if err != nil {
			return nil, err
		}
	}

	var plan [][]Request
	for _, round := range Remaining(rounds) {
		requests := make([]Request, 0, len(round))
		for _, tx := range round {
			req, err := p.request(actionID, contextID, tx)
			if err != nil {
				return nil, err
			}
			requests = append(requests, req)
		}
		plan = append(plan, requests)
	}
	return plan, nil
}

// Rounds partitions txs into dependency levels using Kahn's algorithm.
// Every transaction lands strictly after all of its dependencies; ids are sorted within a level.
func Rounds(txs []*models.Transaction) ([][]*models.Transaction, error) {
	byID := make(map[string]*models.Transaction, len(txs))
	for _, tx := range txs {
		if _, dup := byID[tx.ID]; dup {
			return nil, apperr.InvalidInput(tx.ID, "duplicate transaction id")
		}
		byID[tx.ID] = tx
	}

	inDegree := make(map[string]int, len(txs))
	dependents := make(map[string][]string, len(txs))
	for _, tx := range txs {
		seen := make(map[string]bool, len(tx.Dependencies))
		for _, dep := range tx.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, ok := byID[dep]; !ok {
				return nil, apperr.InvalidInput(tx.ID, "depends on unknown transaction %s", dep)
			}
			if dep == tx.ID {
				return nil, apperr.InvalidInput(tx.ID, "depends on itself")
			}
			inDegree[tx.ID]++
			dependents[dep] = append(dependents[dep], tx.ID)
		}
	}

	var level []string
	for _, tx := range txs {
		if inDegree[tx.ID] == 0 {
			level = append(level, tx.ID)
		}
	}

	var rounds [][]*models.Transaction
	placed := 0
	for len(level) > 0 {
		sort.Strings(level)
		round := make([]*models.Transaction, len(level))
		var next []string
		for i, id := range level {
			round[i] = byID[id]
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		rounds = append(rounds, round)
		placed += len(round)
		level = next
	}

	if placed != len(txs) {
		return nil, apperr.InvalidInput("", "dependency cycle among %d transactions", len(txs)-placed)
	}
	return rounds, nil
}

// Remaining drops terminal transactions and the rounds left empty by that. A transaction that
// depends, directly or not, on a failed one can never run, so it is dropped too.
func Remaining(rounds [][]*models.Transaction) [][]*models.Transaction {
	// rounds are in dependency order, so a dependency is always decided before its dependents
	blocked := make(map[string]bool)
	var out [][]*models.Transaction
	for _, round := range rounds {
		var open []*models.Transaction
		for _, tx := range round {
			if tx.State == models.StateFail {
				blocked[tx.ID] = true
				continue
			}
			if dependsOnAny(tx, blocked) {
				blocked[tx.ID] = true
				continue
			}
			if !tx.State.IsTerminal() {
				open = append(open, tx)
			}
		}
		if len(open) > 0 {
			out = append(out, open)
		}
	}
	return out
}

func dependsOnAny(tx *models.Transaction, ids map[string]bool) bool {
	for _, dep := range tx.Dependencies {
		if ids[dep] {
			return true
		}
	}
	return false
}

func (p *Planner) request(actionID, contextID string, tx *models.Transaction) (Request, error) {
	if tx.Origin == models.OriginOrchestrator || tx.Payload.Kind == models.PayloadDelegatedTransfer {
		args, err := json.Marshal(TriggerArgs{ActionID: actionID, ContextID: contextID, TransactionID: tx.ID})
		if err != nil {
			return Request{}, err
		}
		return Request{Target: p.orchestrator, Method: MethodTrigger, Args: args, CorrelationID: tx.ID}, nil
	}

	switch tx.Payload.Kind {
	case models.PayloadTransfer:
		t := tx.Payload.Transfer
		data, err := contracts.PackERC20("transfer", common.HexToAddress(t.To), t.Amount)
		if err != nil {
			return Request{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		return Request{Target: t.Asset, Method: MethodTransfer, Args: data, CorrelationID: tx.ID}, nil
	case models.PayloadApprove:
		a := tx.Payload.Approve
		data, err := contracts.PackERC20("approve", common.HexToAddress(a.Spender), a.Amount)
		if err != nil {
			return Request{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		return Request{Target: a.Asset, Method: MethodApprove, Args: data, CorrelationID: tx.ID}, nil
	}
	return Request{}, apperr.InvalidInput(tx.ID, "unsupported payload kind %q", tx.Payload.Kind)
}
