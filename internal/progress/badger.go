package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
)

const badgerKeyPrefix = "progress:"

// BadgerStore keeps checkpoints in an embedded BadgerDB, for workers without a
// database or Redis nearby.
type BadgerStore struct {
	db  *badger.DB
	key []byte
}

// NewBadgerStore uses an already opened database.
func NewBadgerStore(db *badger.DB, key string) *BadgerStore {
	return &BadgerStore{db: db, key: []byte(badgerKeyPrefix + key)}
}

// OpenBadger opens (or creates) a database directory with badger's own logging off.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return db, nil
}

func (s *BadgerStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, data)
	})
	if err != nil {
		return appErrors.NewPersistenceError("save", fmt.Errorf("badger set %s: %w", s.key, err))
	}
	return nil
}

func (s *BadgerStore) Load(ctx context.Context) (*Snapshot, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewPersistenceError("load", fmt.Errorf("badger get %s: %w", s.key, err))
	}
	return decode(data)
}
