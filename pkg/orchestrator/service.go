// Package orchestrator drives actions to completion: it builds their transactions, executes the
// orchestrator's own legs, reconciles wallet legs against the ledger and rolls state up.
package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/circuitbreaker"
	"github.com/speedrun-hq/linkrunner/pkg/clock"
	"github.com/speedrun-hq/linkrunner/pkg/ledger"
	"github.com/speedrun-hq/linkrunner/pkg/logger"
	"github.com/speedrun-hq/linkrunner/pkg/metrics"
	"github.com/speedrun-hq/linkrunner/pkg/models"
	"github.com/speedrun-hq/linkrunner/pkg/planner"
	"github.com/speedrun-hq/linkrunner/pkg/ratelimit"
	"github.com/speedrun-hq/linkrunner/pkg/store"
)

const (
	DefaultTxTimeout = 5 * time.Minute

	defaultConcurrentChecks = 8
)

// FeeSource supplies current network fees per asset
type FeeSource interface {
	GetFees(ctx context.Context, assets []string) (map[string]*big.Int, error)
}

// Config holds the orchestrator settings
type Config struct {
	// Orchestrator is the address the service signs as; it also holds link funds
	Orchestrator string
	// Treasury receives the link creation fee
	Treasury string
	// CreateLinkFee is charged on link creation; nil or zero disables the fee leg
	CreateLinkFee *big.Int
	// TxTimeout bounds how long a started transaction may stay unresolved
	TxTimeout time.Duration
	// Assets restricts the accepted assets; empty accepts any
	Assets []string
	// MaxConcurrentChecks bounds parallel ledger checks per reconciliation
	MaxConcurrentChecks int
}

// Deps are the collaborators the service is built on
type Deps struct {
	Store    store.Store
	Ledger   ledger.Ledger
	Fees     FeeSource
	Limiter  *ratelimit.Limiter
	Breakers *circuitbreaker.Group
	Clock    clock.Clock
	Logger   logger.Logger
}

// Service implements the action operations. It is safe for concurrent use.
type Service struct {
	cfg      Config
	store    store.Store
	ledger   ledger.Ledger
	fees     FeeSource
	limiter  *ratelimit.Limiter
	breakers *circuitbreaker.Group
	planner  *planner.Planner
	clock    clock.Clock
	logger   logger.Logger
	locks    *keyedMutex
}

// tree is an action with all of its children, freshly read
type tree struct {
	action  *models.Action
	intents []*models.Intent
	txs     []*models.Transaction
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if !common.IsHexAddress(cfg.Orchestrator) {
		return nil, fmt.Errorf("invalid orchestrator address: %q", cfg.Orchestrator)
	}
	if cfg.CreateLinkFee != nil && cfg.CreateLinkFee.Sign() > 0 && !common.IsHexAddress(cfg.Treasury) {
		return nil, fmt.Errorf("invalid treasury address: %q", cfg.Treasury)
	}
	if cfg.CreateLinkFee != nil && cfg.CreateLinkFee.Sign() < 0 {
		return nil, fmt.Errorf("create link fee must not be negative")
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = DefaultTxTimeout
	}
	if cfg.MaxConcurrentChecks <= 0 {
		cfg.MaxConcurrentChecks = defaultConcurrentChecks
	}
	if deps.Store == nil || deps.Ledger == nil || deps.Fees == nil || deps.Limiter == nil || deps.Breakers == nil {
		return nil, fmt.Errorf("store, ledger, fees, limiter and breakers are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = &logger.EmptyLogger{}
	}

	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		ledger:   deps.Ledger,
		fees:     deps.Fees,
		limiter:  deps.Limiter,
		breakers: deps.Breakers,
		planner:  planner.New(cfg.Orchestrator),
		clock:    deps.Clock,
		logger:   deps.Logger,
		locks:    newKeyedMutex(),
	}, nil
}

// GetAction returns the action with its children and remaining plan. It changes nothing.
func (s *Service) GetAction(ctx context.Context, actionID string) (*ActionView, error) {
	t, err := s.loadTree(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return s.view(t)
}

// authorize applies the rate limit for method and then requires caller to be the action's creator
func (s *Service) authorize(ctx context.Context, caller, method, actionID string) (*models.Action, error) {
	if caller == "" {
		return nil, apperr.Unauthorized(actionID, "caller identity is required")
	}
	if err := s.limiter.Allow(ctx, caller, method); err != nil {
		return nil, err
	}
	action, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action.Creator != caller {
		return nil, apperr.Unauthorized(actionID, "only the creator of the action may %s", method)
	}
	return action, nil
}

func (s *Service) loadTree(ctx context.Context, actionID string) (*tree, error) {
	action, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	intents, err := s.store.GetIntents(ctx, action.IntentIDs)
	if err != nil {
		return nil, err
	}
	var txIDs []string
	for _, intent := range intents {
		txIDs = append(txIDs, intent.TransactionIDs...)
	}
	txs, err := s.store.GetTransactions(ctx, txIDs)
	if err != nil {
		return nil, err
	}
	return &tree{action: action, intents: intents, txs: txs}, nil
}

func (s *Service) view(t *tree) (*ActionView, error) {
	plan, err := s.planner.Plan(t.action.ID, t.action.LinkID, t.txs)
	if err != nil {
		return nil, err
	}
	metrics.PlanRounds.Observe(float64(len(plan)))
	return &ActionView{Action: t.action, Intents: t.intents, Transactions: t.txs, Plan: plan}, nil
}

// rollupLocked recomputes intent and action state from freshly read transactions and
// writes whatever changed. The caller holds the action lock.
func (s *Service) rollupLocked(ctx context.Context, actionID string) (*tree, error) {
	t, err := s.loadTree(ctx, actionID)
	if err != nil {
		return nil, err
	}

	intents := make([]models.Intent, len(t.intents))
	for i, in := range t.intents {
		intents[i] = *in
	}
	txs := make([]models.Transaction, len(t.txs))
	for i, tx := range t.txs {
		txs[i] = *tx
	}
	action, rolled := models.Rollup(*t.action, intents, txs)

	var changed []*models.Intent
	for i := range rolled {
		if rolled[i].State != t.intents[i].State {
			in := rolled[i]
			t.intents[i] = &in
			changed = append(changed, &in)
		}
	}
	if len(changed) > 0 {
		if err := s.store.PutIntents(ctx, changed); err != nil {
			return nil, err
		}
	}

	if action.State != t.action.State {
		previous := t.action.State
		action.UpdatedAt = s.clock.NowNs()
		if err := s.store.PutAction(ctx, &action); err != nil {
			return nil, err
		}
		t.action = &action
		s.logger.InfoWithAction(action.ID, "Action moved from %s to %s", previous, action.State)
		if action.State.IsTerminal() {
			metrics.ActionsCompleted.WithLabelValues(string(action.Kind), string(action.State)).Inc()
		}
	}
	return t, nil
}
