// Component A: Backend store.
//
// Persistent key/value backend with atomic batch writes, lexicographic
// iteration, and a bounded in-memory object cache (spec §4.A). Backed by
// badger, with an hashicorp/golang-lru object cache.
package core

import (
	"bytes"
	"sync"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const defaultObjectCacheSize = 8192

// BackendStore is the persistent KV backend for the root delta (spec §4.A).
// Keys and values are opaque byte strings. Safe for concurrent use.
type BackendStore struct {
	db    *badger.DB
	cache *lru.Cache[string, []byte]
	log   logrus.FieldLogger

	mu      sync.Mutex
	batchTx *badger.Txn // non-nil between start_batch/end_batch
}

// OpenBackendStore opens (creating if absent) a badger-backed store rooted
// at path.
func OpenBackendStore(path string, log logrus.FieldLogger) (*BackendStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, ErrBackendIO(err)
	}
	cache, err := lru.New[string, []byte](defaultObjectCacheSize)
	if err != nil {
		return nil, ErrBackendIO(err)
	}
	return &BackendStore{db: db, cache: cache, log: log}, nil
}

func (b *BackendStore) Close() error {
	return b.db.Close()
}

func (b *BackendStore) txn() *badger.Txn {
	if b.batchTx != nil {
		return b.batchTx
	}
	return nil
}

// Get returns the value for k, and whether it was present.
func (b *BackendStore) Get(k []byte) ([]byte, bool, error) {
	if v, ok := b.cache.Get(string(k)); ok {
		return v, true, nil
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, ErrBackendIO(err)
	}
	if out == nil {
		return nil, false, nil
	}
	b.cache.Add(string(k), out)
	return out, true, nil
}

// Put writes k=v, either inside the active batch or as its own transaction.
func (b *BackendStore) Put(k, v []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.batchTx != nil {
		if err := b.batchTx.Set(k, v); err != nil {
			return ErrBackendIO(err)
		}
		b.cache.Add(string(k), v)
		return nil
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
	if err != nil {
		return ErrBackendIO(err)
	}
	b.cache.Add(string(k), v)
	return nil
}

// Erase removes k.
func (b *BackendStore) Erase(k []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Remove(string(k))
	if b.batchTx != nil {
		if err := b.batchTx.Delete(k); err != nil {
			return ErrBackendIO(err)
		}
		return nil
	}
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.Delete(k) }); err != nil {
		return ErrBackendIO(err)
	}
	return nil
}

// Find reports whether k exists.
func (b *BackendStore) Find(k []byte) (bool, error) {
	_, ok, err := b.Get(k)
	return ok, err
}

// StartBatch begins an atomic group of writes; must be paired with EndBatch.
func (b *BackendStore) StartBatch() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.batchTx != nil {
		return ErrInternalConsistency("batch already in progress")
	}
	b.batchTx = b.db.NewTransaction(true)
	return nil
}

// EndBatch commits the active batch.
func (b *BackendStore) EndBatch() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.batchTx == nil {
		return ErrInternalConsistency("no batch in progress")
	}
	err := b.batchTx.Commit()
	b.batchTx = nil
	if err != nil {
		return ErrBackendIO(err)
	}
	return nil
}

// Flush forces pending writes to stable storage.
func (b *BackendStore) Flush() error {
	return b.db.Sync()
}

// Size reports the logical key count. Used to populate persisted metadata.
func (b *BackendStore) Size() (int64, error) {
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, ErrBackendIO(err)
	}
	return n, nil
}

// BackendIterator yields entries in lexicographic key order (spec §4.A).
type BackendIterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	reverse bool
}

// LowerBound returns an iterator positioned at the first key >= k.
func (b *BackendStore) LowerBound(k []byte) (*BackendIterator, error) {
	txn := b.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	it.Seek(k)
	return &BackendIterator{txn: txn, it: it}, nil
}

// Iterate returns a forward iterator over the whole keyspace, or a reverse
// one if reverse is true.
func (b *BackendStore) Iterate(reverse bool) (*BackendIterator, error) {
	txn := b.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	it.Rewind()
	return &BackendIterator{txn: txn, it: it, reverse: reverse}, nil
}

func (it *BackendIterator) Valid() bool { return it.it.Valid() }
func (it *BackendIterator) Next()       { it.it.Next() }
func (it *BackendIterator) Key() []byte { return it.it.Item().KeyCopy(nil) }
func (it *BackendIterator) Value() ([]byte, error) {
	var out []byte
	err := it.it.Item().Value(func(v []byte) error {
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}
func (it *BackendIterator) Close() {
	it.it.Close()
	it.txn.Discard()
}

// metadata accessors, persisted under SpaceMetadata.

func (b *BackendStore) GetMetadata(key string) ([]byte, bool, error) {
	return b.Get(SpaceMetadata.key([]byte(key)))
}

func (b *BackendStore) SetMetadata(key string, value []byte) error {
	return b.Put(SpaceMetadata.key([]byte(key)), value)
}

// SpacedGet/SpacedPut/SpacedErase operate within a given ObjectSpace,
// matching the object-operation contract of state nodes (spec §3).
func (b *BackendStore) SpacedGet(space ObjectSpace, key []byte) ([]byte, bool, error) {
	return b.Get(space.key(key))
}
func (b *BackendStore) SpacedPut(space ObjectSpace, key, value []byte) error {
	return b.Put(space.key(key), value)
}
func (b *BackendStore) SpacedErase(space ObjectSpace, key []byte) error {
	return b.Erase(space.key(key))
}

// bytesHavePrefix is a small helper kept local to avoid importing strings
// for a single comparison.
func bytesHavePrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && bytes.Equal(b[:len(prefix)], prefix)
}
