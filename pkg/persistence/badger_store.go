// BadgerStore is an alternative to the gob snapshot file in snapshot.go:
// instead of one whole-state file, each store's metadata and each of its
// entries live as individually addressable key/value pairs in an embedded
// BadgerDB. Save writes every store's metadata and entries in one write
// batch; there is no per-Set/DelKey write path. Selected via
// --persist-backend=badger; snapshot.go's
// single-file format remains the default. Keys carry a single-byte prefix
// (store-meta vs entry) so each record class can be scanned independently.
package persistence

import (
	"bytes"
	"encoding/gob"

	"github.com/dgraph-io/badger/v4"

	"github.com/vectorkv/vectorkv/pkg/schema"
	"github.com/vectorkv/vectorkv/pkg/store"
)

const (
	prefixStoreMeta byte = 0x01
	prefixEntry     byte = 0x02
)

// BadgerOptions configures BadgerStore's embedded database.
type BadgerOptions struct {
	// DataDir is the directory BadgerDB keeps its SST/value-log files in.
	DataDir string

	// SyncWrites forces an fsync after every transaction commit.
	SyncWrites bool
}

// BadgerStore is an alternative backend with the same Save/LoadInto shape as
// the snapshot functions, opened once per process and kept open for the
// process lifetime.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (creating if absent) a BadgerDB at opts.DataDir.
func OpenBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir).
		WithLogger(nil).
		WithSyncWrites(opts.SyncWrites).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, schema.NewError(schema.TagPersistenceWriteFailed, "open badger store at %s: %v", opts.DataDir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database handle.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

type storeMeta struct {
	Dimension       int
	PredicateFields []string
	NonLinear       []store.NonLinearConfig
}

func storeMetaKey(name string) []byte {
	return append([]byte{prefixStoreMeta}, []byte(name)...)
}

func entryKey(name, vectorKey string) []byte {
	key := make([]byte, 0, 1+len(name)+1+len(vectorKey))
	key = append(key, prefixEntry)
	key = append(key, []byte(name)...)
	key = append(key, 0x00)
	key = append(key, []byte(vectorKey)...)
	return key
}

func entryPrefix(name string) []byte {
	key := make([]byte, 0, 1+len(name)+1)
	key = append(key, prefixEntry)
	key = append(key, []byte(name)...)
	return append(key, 0x00)
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes every registered store's metadata and entries as individual
// keys in one Badger write batch.
func (b *BadgerStore) Save(h *store.Handler) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, name := range h.Names() {
		s, err := h.Get(name)
		if err != nil {
			continue
		}
		meta, err := encodeGob(storeMeta{
			Dimension:       s.Dimension(),
			PredicateFields: s.PredicateFields(),
			NonLinear:       s.SnapshotNonLinearConfigs(),
		})
		if err != nil {
			return schema.NewError(schema.TagPersistenceWriteFailed, "encode store %q metadata: %v", name, err)
		}
		if err := wb.Set(storeMetaKey(name), meta); err != nil {
			return schema.NewError(schema.TagPersistenceWriteFailed, "write store %q metadata: %v", name, err)
		}

		keys, values := s.SnapshotEntries()
		for vecKey, vec := range keys {
			entry, err := encodeGob(entryRecord{Vector: vec, Value: values[vecKey]})
			if err != nil {
				return schema.NewError(schema.TagPersistenceWriteFailed, "encode %q entry: %v", name, err)
			}
			if err := wb.Set(entryKey(name, vecKey), entry); err != nil {
				return schema.NewError(schema.TagPersistenceWriteFailed, "write %q entry: %v", name, err)
			}
		}
	}
	if err := wb.Flush(); err != nil {
		return schema.NewError(schema.TagPersistenceWriteFailed, "flush badger write batch: %v", err)
	}
	return nil
}

type entryRecord struct {
	Vector schema.Vector
	Value  schema.StoreValue
}

// LoadInto rebuilds every store found in the database into h. It reports
// (false, nil) when the database holds no store-meta keys yet, matching
// snapshot.LoadInto's first-run contract.
func (b *BadgerStore) LoadInto(h *store.Handler) (bool, error) {
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixStoreMeta}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte{prefixStoreMeta}); it.ValidForPrefix([]byte{prefixStoreMeta}); it.Next() {
			found = true
			name := string(it.Item().Key()[1:])
			var meta storeMeta
			if err := it.Item().Value(func(val []byte) error {
				return gob.NewDecoder(bytes.NewReader(val)).Decode(&meta)
			}); err != nil {
				return schema.NewError(schema.TagPersistenceLoadFailed, "decode store %q metadata: %v", name, err)
			}

			keys := make(map[string]schema.Vector)
			values := make(map[string]schema.StoreValue)
			if err := b.loadEntries(txn, name, keys, values); err != nil {
				return err
			}

			s := store.New(name, meta.Dimension)
			s.Restore(keys, values, meta.PredicateFields, meta.NonLinear)
			h.Register(s)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (b *BadgerStore) loadEntries(txn *badger.Txn, name string, keys map[string]schema.Vector, values map[string]schema.StoreValue) error {
	prefix := entryPrefix(name)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		vecKey := string(it.Item().Key()[len(prefix):])
		var rec entryRecord
		if err := it.Item().Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&rec)
		}); err != nil {
			return schema.NewError(schema.TagPersistenceLoadFailed, "decode %q entry: %v", name, err)
		}
		keys[vecKey] = rec.Vector
		values[vecKey] = rec.Value
	}
	return nil
}
