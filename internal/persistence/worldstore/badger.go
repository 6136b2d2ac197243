package worldstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v3"

	"worldhost.ai/internal/sim/worldinfo"
)

const badgerKeyPrefix = "world:"

// BadgerStore keeps encoded records in a badger database under world:<name>.
type BadgerStore struct {
	db *badger.DB
	mu sync.Mutex
}

func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("worldstore: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerInMemory is used by tests and dry runs.
func OpenBadgerInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("worldstore: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(name string) []byte { return []byte(badgerKeyPrefix + name) }

func (s *BadgerStore) Load(name string) (*worldinfo.Record, bool, error) {
	if err := worldinfo.ValidateName(name); err != nil {
		return nil, false, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("worldstore: badger read %q: %w", name, err)
	}
	rec, err := Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("worldstore: %q: %w", name, err)
	}
	if rec.Name != name {
		return nil, false, fmt.Errorf("worldstore: %q: %w: stored under name %q", name, ErrCorrupt, rec.Name)
	}
	return rec, true, nil
}

func (s *BadgerStore) Save(rec *worldinfo.Record, creator string) error {
	if rec == nil {
		return errors.New("worldstore: nil record")
	}
	if err := worldinfo.ValidateName(rec.Name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := stampCreator(rec, creator, s.Load)
	if err != nil {
		return err
	}
	b, err := Encode(out)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(rec.Name), b)
	}); err != nil {
		return fmt.Errorf("worldstore: badger write %q: %w", rec.Name, err)
	}
	return nil
}

func (s *BadgerStore) List() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), badgerKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
