// Package boltdb persists actions, intents, transactions and link funds in a bbolt file, cbor encoded.
package boltdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/speedrun-hq/linkrunner/pkg/apperr"
	"github.com/speedrun-hq/linkrunner/pkg/models"
	"github.com/speedrun-hq/linkrunner/pkg/store"
)

var (
	bucketActions      = []byte("actions")
	bucketIntents      = []byte("intents")
	bucketTransactions = []byte("transactions")
	// link id -> nested bucket of action ids
	bucketLinks = []byte("links")
	bucketPools = []byte("pools")
	bucketFunds = []byte("funds")
)

type Store struct {
	db *bolt.DB
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) the database file at dbFile
func New(dbFile string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbFile), 0700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: 3 * time.Second}) // -rw-------
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt DB %s: %w", dbFile, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketActions, bucketIntents, bucketTransactions, bucketLinks, bucketPools, bucketFunds} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) GetAction(_ context.Context, id string) (*models.Action, error) {
	var action models.Action
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketActions), id, "action", &action)
	})
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (s *Store) PutAction(_ context.Context, action *models.Action) error {
	return s.update(func(tx *bolt.Tx) error {
		return putAction(tx, action)
	})
}

func (s *Store) GetIntents(_ context.Context, ids []string) ([]*models.Intent, error) {
	out := make([]*models.Intent, 0, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIntents)
		for _, id := range ids {
			var in models.Intent
			if err := get(b, id, "intent", &in); err != nil {
				return err
			}
			out = append(out, &in)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) PutIntents(_ context.Context, intents []*models.Intent) error {
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIntents)
		for _, in := range intents {
			if err := put(b, in.ID, in); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	txs, err := s.GetTransactions(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

func (s *Store) GetTransactions(_ context.Context, ids []string) ([]*models.Transaction, error) {
	out := make([]*models.Transaction, 0, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		for _, id := range ids {
			var t models.Transaction
			if err := get(b, id, "transaction", &t); err != nil {
				return err
			}
			out = append(out, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) PutTransactions(_ context.Context, txs []*models.Transaction) error {
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		for _, t := range txs {
			if err := put(b, t.ID, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CreateAction(_ context.Context, action *models.Action, intents []*models.Intent, txs []*models.Transaction) error {
	return s.update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketActions).Get([]byte(action.ID)) != nil {
			return apperr.Validation(action.ID, "action already exists")
		}
		ib := tx.Bucket(bucketIntents)
		for _, in := range intents {
			if err := put(ib, in.ID, in); err != nil {
				return err
			}
		}
		tb := tx.Bucket(bucketTransactions)
		for _, t := range txs {
			if err := put(tb, t.ID, t); err != nil {
				return err
			}
		}
		return putAction(tx, action)
	})
}

func (s *Store) ActionsByLink(_ context.Context, linkID string) ([]*models.Action, error) {
	var out []*models.Action
	err := s.db.View(func(tx *bolt.Tx) error {
		lb := tx.Bucket(bucketLinks).Bucket([]byte(linkID))
		if lb == nil {
			return nil
		}
		ab := tx.Bucket(bucketActions)
		return lb.ForEach(func(k, _ []byte) error {
			var action models.Action
			if err := get(ab, string(k), "action", &action); err != nil {
				return err
			}
			out = append(out, &action)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) PendingActionIDs(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).ForEach(func(k, v []byte) error {
			var action models.Action
			if err := cbor.Unmarshal(v, &action); err != nil {
				return fmt.Errorf("failed to deserialize action %s: %w", k, err)
			}
			if !action.State.IsTerminal() {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) GetPool(_ context.Context, asset string) (*models.Pool, error) {
	var pool models.Pool
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketPools), asset, "pool", &pool)
	})
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *Store) PutPool(_ context.Context, pool *models.Pool) error {
	return s.update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketPools), pool.Asset, pool)
	})
}

func (s *Store) GetLinkFunds(_ context.Context, linkID string) (*models.LinkFunds, error) {
	var funds models.LinkFunds
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketFunds), linkID, "link funds", &funds)
	})
	if err != nil {
		return nil, err
	}
	return &funds, nil
}

func (s *Store) PutLinkFunds(_ context.Context, funds *models.LinkFunds) error {
	return s.update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketFunds), funds.LinkID, funds)
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	if err := s.db.Update(fn); err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return err
		}
		return fmt.Errorf("bolt db write failed, %w", err)
	}
	return nil
}

func putAction(tx *bolt.Tx, action *models.Action) error {
	if err := put(tx.Bucket(bucketActions), action.ID, action); err != nil {
		return err
	}
	if action.LinkID == "" {
		return nil
	}
	lb, err := tx.Bucket(bucketLinks).CreateBucketIfNotExists([]byte(action.LinkID))
	if err != nil {
		return fmt.Errorf("failed to create link bucket %s: %w", action.LinkID, err)
	}
	return lb.Put([]byte(action.ID), []byte{})
}

func get(b *bolt.Bucket, id, entity string, v any) error {
	data := b.Get([]byte(id))
	if data == nil {
		return apperr.NotFound(id, "%s not found", entity)
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to deserialize %s %s: %w", entity, id, err)
	}
	return nil
}

func put(b *bolt.Bucket, id string, v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", id, err)
	}
	return b.Put([]byte(id), data)
}
