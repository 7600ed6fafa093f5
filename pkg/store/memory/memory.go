// Package memory is an in-process Store, used by tests and single-instance deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/models"
	"github.com/speedrun-hq/linkrunner/pkg/store"
)

type Store struct {
	mu           sync.RWMutex
	actions      map[string]*models.Action
	intents      map[string]*models.Intent
	transactions map[string]*models.Transaction
	byLink       map[string][]string
	pools        map[string]*models.Pool
	funds        map[string]*models.LinkFunds
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		actions:      make(map[string]*models.Action),
		intents:      make(map[string]*models.Intent),
		transactions: make(map[string]*models.Transaction),
		byLink:       make(map[string][]string),
		pools:        make(map[string]*models.Pool),
		funds:        make(map[string]*models.LinkFunds),
	}
}

func (s *Store) GetAction(_ context.Context, id string) (*models.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, apperr.NotFound(id, "action not found")
	}
	return a.Clone(), nil
}

func (s *Store) PutAction(_ context.Context, action *models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putAction(action)
	return nil
}

func (s *Store) putAction(action *models.Action) {
	if _, exists := s.actions[action.ID]; !exists && action.LinkID != "" {
		s.byLink[action.LinkID] = append(s.byLink[action.LinkID], action.ID)
	}
	s.actions[action.ID] = action.Clone()
}

func (s *Store) GetIntents(_ context.Context, ids []string) ([]*models.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Intent, 0, len(ids))
	for _, id := range ids {
		in, ok := s.intents[id]
		if !ok {
			return nil, apperr.NotFound(id, "intent not found")
		}
		out = append(out, in.Clone())
	}
	return out, nil
}

func (s *Store) PutIntents(_ context.Context, intents []*models.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range intents {
		s.intents[in.ID] = in.Clone()
	}
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, apperr.NotFound(id, "transaction not found")
	}
	return tx.Clone(), nil
}

func (s *Store) GetTransactions(_ context.Context, ids []string) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, ok := s.transactions[id]
		if !ok {
			return nil, apperr.NotFound(id, "transaction not found")
		}
		out = append(out, tx.Clone())
	}
	return out, nil
}

func (s *Store) PutTransactions(_ context.Context, txs []*models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		s.transactions[tx.ID] = tx.Clone()
	}
	return nil
}

func (s *Store) CreateAction(_ context.Context, action *models.Action, intents []*models.Intent, txs []*models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[action.ID]; exists {
		return apperr.Validation(action.ID, "action already exists")
	}
	for _, in := range intents {
		s.intents[in.ID] = in.Clone()
	}
	for _, tx := range txs {
		s.transactions[tx.ID] = tx.Clone()
	}
	s.putAction(action)
	return nil
}

func (s *Store) ActionsByLink(_ context.Context, linkID string) ([]*models.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byLink[linkID]
	out := make([]*models.Action, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.actions[id].Clone())
	}
	return out, nil
}

func (s *Store) PendingActionIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, a := range s.actions {
		if !a.State.IsTerminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) GetPool(_ context.Context, asset string) (*models.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[asset]
	if !ok {
		return nil, apperr.NotFound(asset, "pool not found")
	}
	return p.Clone(), nil
}

func (s *Store) PutPool(_ context.Context, pool *models.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool.Asset] = pool.Clone()
	return nil
}

func (s *Store) GetLinkFunds(_ context.Context, linkID string) (*models.LinkFunds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.funds[linkID]
	if !ok {
		return nil, apperr.NotFound(linkID, "link funds not found")
	}
	return f.Clone(), nil
}

func (s *Store) PutLinkFunds(_ context.Context, funds *models.LinkFunds) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funds[funds.LinkID] = funds.Clone()
	return nil
}

func (s *Store) Close() error {
	return nil
}
