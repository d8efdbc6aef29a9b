package keyValStore

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/dgraph-io/badger/v4"
	"github.com/i5heu/ouroboros-pods/pkg/monitor"
	"github.com/sirupsen/logrus"
)

var ErrKeyNotFound = errors.New("key not found")

type StoreConfig struct {
	Paths            []string // absolute path at the moment only first path is supported
	MinimumFreeSpace int      // in GB
	SyncWrites       bool
	InMemory         bool
	Logger           *logrus.Logger
	Metrics          *monitor.Metrics
}

type KeyValStore struct {
	config   StoreConfig
	badgerDB *badger.DB
	log      *logrus.Logger
	metrics  *monitor.Metrics
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	config.Metrics = monitor.OrNew(config.Metrics)

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		err := config.checkConfig()
		if err != nil {
			return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
		}
		opts = badger.DefaultOptions(config.Paths[0])
		opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	}
	opts.Logger = nil
	opts.SyncWrites = config.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger: %w", err)
	}

	k := &KeyValStore{
		config:   config,
		badgerDB: db,
		log:      config.Logger,
		metrics:  config.Metrics,
	}

	if !config.InMemory {
		if err := k.displayDiskUsage(config.Paths); err != nil {
			db.Close()
			return nil, err
		}
	}

	return k, nil
}

func (k *KeyValStore) Write(key []byte, content []byte) error {
	k.metrics.KVWrites.Inc()

	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, content)
	})
	if err != nil {
		return fmt.Errorf("error writing key %s: %w", key, err)
	}
	return nil
}

// Batch collects writes and deletes that are applied in one transaction.
type Batch struct {
	sets    [][2][]byte
	deletes [][]byte
}

func (b *Batch) Set(key, value []byte) {
	b.sets = append(b.sets, [2][]byte{key, value})
}

func (b *Batch) Delete(key []byte) {
	b.deletes = append(b.deletes, key)
}

func (b *Batch) Len() int {
	return len(b.sets) + len(b.deletes)
}

// CommitBatch applies all operations of the batch or none of them.
func (k *KeyValStore) CommitBatch(b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		for _, key := range b.deletes {
			k.metrics.KVWrites.Inc()
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, kv := range b.sets {
			k.metrics.KVWrites.Inc()
			if err := txn.Set(kv[0], kv[1]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		k.log.WithError(err).WithField("operations", b.Len()).Error("Error writing batch")
		return fmt.Errorf("error writing batch: %w", err)
	}
	return nil
}

func (k *KeyValStore) BatchCheckKeyExistence(keys [][]byte) (map[string]bool, error) {
	existsMap := make(map[string]bool)

	err := k.badgerDB.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			k.metrics.KVReads.Inc()
			_, err := txn.Get(key)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					existsMap[string(key)] = false
				} else {
					return err // return an error for issues other than "key not found"
				}
			} else {
				existsMap[string(key)] = true
			}
		}
		return nil
	})

	return existsMap, err
}

func (k *KeyValStore) Exists(key []byte) (bool, error) {
	existsMap, err := k.BatchCheckKeyExistence([][]byte{key})
	if err != nil {
		return false, err
	}
	return existsMap[string(key)], nil
}

func (k *KeyValStore) Read(key []byte) ([]byte, error) {
	k.metrics.KVReads.Inc()
	var value []byte
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("error reading key %s: %w", key, ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading key %s: %w", key, err)
	}
	return value, nil
}

func (k *KeyValStore) Delete(key []byte) error {
	b := &Batch{}
	b.Delete(key)
	return k.CommitBatch(b)
}

// will return all keys and values with the given prefix, in key order
func (k *KeyValStore) GetItemsWithPrefix(prefix []byte) ([][][]byte, error) {
	var keysAndValues [][][]byte
	k.metrics.KVReads.Inc()
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			keysAndValues = append(keysAndValues, [][]byte{key, v})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error iterating prefix %s: %w", prefix, err)
	}
	return keysAndValues, nil
}

func (k *KeyValStore) Close() error {
	if err := k.Clean(); err != nil {
		k.log.WithError(err).Warn("Error cleaning db before close")
	}
	return k.badgerDB.Close()
}

func (k *KeyValStore) Clean() error {
	if k.config.InMemory {
		return nil
	}

	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	// flatten the db
	err = k.badgerDB.Flatten(runtime.NumCPU()) // The parameter is the number of concurrent compactions
	if err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}
	k.log.Debug("DB Flattened")

	// clean badgerDB
	err = k.badgerDB.RunValueLogGC(0.1)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}
