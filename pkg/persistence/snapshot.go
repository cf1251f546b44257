// Package persistence saves and loads the store handler's full state to a
// single binary file: a magic/version-stamped header followed by a
// gob-encoded body (gob stays dense for []float32-heavy payloads), written
// to a sibling temp file, fsync'd and renamed so a crashed save never
// corrupts the previous snapshot. A blake2b-256 digest over the body guards
// against torn or bit-rotted files at load time.
package persistence

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/vectorkv/vectorkv/pkg/schema"
	"github.com/vectorkv/vectorkv/pkg/store"
)

// Magic identifies a vectorkv snapshot file.
var Magic = [8]byte{'V', 'K', 'V', 'S', 'N', 'A', 'P', '1'}

// Version is the 5-byte version stamped into every snapshot's header.
type Version struct {
	Major uint8
	Minor uint16
	Patch uint16
}

// CurrentVersion is embedded into every snapshot this package writes.
// Loaders reject any file whose Major differs.
var CurrentVersion = Version{Major: 1, Minor: 0, Patch: 0}

const headerSize = 8 + 5 + 16 + blake2b.Size256

// StoreSnapshot is one store's persisted state: its entries and the
// configuration needed to reconstruct (not replay) its indexes.
type StoreSnapshot struct {
	Dimension       int
	Keys            map[string]schema.Vector
	Values          map[string]schema.StoreValue
	PredicateFields []string
	NonLinear       []store.NonLinearConfig
}

// Snapshot is the full persisted state of a store handler.
type Snapshot struct {
	Stores map[string]StoreSnapshot
}

// Capture reads every store currently registered in h into a Snapshot.
func Capture(h *store.Handler) Snapshot {
	snap := Snapshot{Stores: make(map[string]StoreSnapshot)}
	for _, name := range h.Names() {
		s, err := h.Get(name)
		if err != nil {
			continue // dropped between Names() and Get(); skip it
		}
		keys, values := s.SnapshotEntries()
		snap.Stores[name] = StoreSnapshot{
			Dimension:       s.Dimension(),
			Keys:            keys,
			Values:          values,
			PredicateFields: s.PredicateFields(),
			NonLinear:       s.SnapshotNonLinearConfigs(),
		}
	}
	return snap
}

// Restore rebuilds every store in snap into h via Handler.Register, with
// non-linear indexes reconstructed from entries rather than deserialised.
func Restore(h *store.Handler, snap Snapshot) {
	for name, ss := range snap.Stores {
		s := store.New(name, ss.Dimension)
		s.Restore(ss.Keys, ss.Values, ss.PredicateFields, ss.NonLinear)
		h.Register(s)
	}
}

// Save atomically writes h's current state to path: encode to a sibling
// "<path>.tmp", fsync, then rename over path.
func Save(path string, h *store.Handler) error {
	snap := Capture(h)

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(snap); err != nil {
		return schema.NewError(schema.TagPersistenceWriteFailed, "encode snapshot: %v", err)
	}
	sum := blake2b.Sum256(body.Bytes())

	header := make([]byte, headerSize)
	copy(header[0:8], Magic[:])
	header[8] = CurrentVersion.Major
	binary.LittleEndian.PutUint16(header[9:11], CurrentVersion.Minor)
	binary.LittleEndian.PutUint16(header[11:13], CurrentVersion.Patch)
	// header[13:29] is the 16-byte reserved region, left zeroed.
	copy(header[29:29+blake2b.Size256], sum[:])

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return schema.NewError(schema.TagPersistenceWriteFailed, "create snapshot directory: %v", err)
		}
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return schema.NewError(schema.TagPersistenceWriteFailed, "create temp file: %v", err)
	}
	if _, err := f.Write(header); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return schema.NewError(schema.TagPersistenceWriteFailed, "write header: %v", err)
	}
	if _, err := f.Write(body.Bytes()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return schema.NewError(schema.TagPersistenceWriteFailed, "write body: %v", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return schema.NewError(schema.TagPersistenceWriteFailed, "sync: %v", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return schema.NewError(schema.TagPersistenceWriteFailed, "close: %v", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return schema.NewError(schema.TagPersistenceWriteFailed, "rename: %v", err)
	}
	return nil
}

// Load reads and validates the snapshot at path, failing with
// PersistenceVersionMismatch if its major version doesn't match
// CurrentVersion, or PersistenceLoadFailed for any other corruption.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, schema.NewError(schema.TagPersistenceLoadFailed, "read snapshot: %v", err)
	}
	if len(data) < headerSize {
		return Snapshot{}, schema.NewError(schema.TagPersistenceLoadFailed, "truncated snapshot header")
	}
	if !bytes.Equal(data[0:8], Magic[:]) {
		return Snapshot{}, schema.NewError(schema.TagPersistenceLoadFailed, "bad magic")
	}
	major := data[8]
	if major != CurrentVersion.Major {
		return Snapshot{}, schema.NewError(schema.TagPersistenceVersionMismatch, "snapshot major version %d, want %d", major, CurrentVersion.Major)
	}

	var wantSum [blake2b.Size256]byte
	copy(wantSum[:], data[29:29+blake2b.Size256])
	body := data[headerSize:]
	gotSum := blake2b.Sum256(body)
	if !bytes.Equal(wantSum[:], gotSum[:]) {
		return Snapshot{}, schema.NewError(schema.TagPersistenceLoadFailed, "checksum mismatch")
	}

	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&snap); err != nil {
		return Snapshot{}, schema.NewError(schema.TagPersistenceLoadFailed, "decode snapshot: %v", err)
	}
	return snap, nil
}

// LoadInto loads the snapshot at path and restores it into h. If the file
// does not exist, it returns (false, nil) so callers can start empty
// without treating a first-run as an error.
func LoadInto(path string, h *store.Handler) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	snap, err := Load(path)
	if err != nil {
		return false, err
	}
	Restore(h, snap)
	return true, nil
}
