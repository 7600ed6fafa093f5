// Package store defines persistence for actions, intents and transactions.
package store

import (
	"context"

	"github.com/speedrun-hq/linkrunner/pkg/models"
)

// Store is owned by the orchestrator; nothing else writes these records.
// Getters return apperr NotFound errors for unknown ids. Returned values are copies.
type Store interface {
	GetAction(ctx context.Context, id string) (*models.Action, error)
	PutAction(ctx context.Context, action *models.Action) error

	GetIntents(ctx context.Context, ids []string) ([]*models.Intent, error)
	PutIntents(ctx context.Context, intents []*models.Intent) error

	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetTransactions(ctx context.Context, ids []string) ([]*models.Transaction, error)
	PutTransactions(ctx context.Context, txs []*models.Transaction) error

	// CreateAction stores a new action with its intents and transactions as one unit
	CreateAction(ctx context.Context, action *models.Action, intents []*models.Intent, txs []*models.Transaction) error
	// ActionsByLink lists the actions recorded for a link
	ActionsByLink(ctx context.Context, linkID string) ([]*models.Action, error)
	// PendingActionIDs lists actions that are not in a terminal state
	PendingActionIDs(ctx context.Context) ([]string, error)

	GetPool(ctx context.Context, asset string) (*models.Pool, error)
	PutPool(ctx context.Context, pool *models.Pool) error

	GetLinkFunds(ctx context.Context, linkID string) (*models.LinkFunds, error)
	PutLinkFunds(ctx context.Context, funds *models.LinkFunds) error

	Close() error
}
