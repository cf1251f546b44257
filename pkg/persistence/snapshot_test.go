package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vectorkv/vectorkv/pkg/kernel"
	"github.com/vectorkv/vectorkv/pkg/schema"
	"github.com/vectorkv/vectorkv/pkg/store"
)

func populated(t *testing.T) *store.Handler {
	t.Helper()
	h := store.NewHandler()
	s, err := h.Create("widgets", 3)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Set(
		map[string]schema.StoreValue{
			schema.Vector{1, 0, 0}.Key(): {"color": schema.NewRawString("red")},
			schema.Vector{0, 1, 0}.Key(): {"color": schema.NewRawString("blue")},
		},
		map[string]schema.Vector{
			schema.Vector{1, 0, 0}.Key(): {1, 0, 0},
			schema.Vector{0, 1, 0}.Key(): {0, 1, 0},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	s.CreatePredIndex([]string{"color"})
	if err := s.CreateNonLinearIndex(store.NonLinearConfig{Algorithm: schema.AlgoKDTree, Kind: kernel.Euclidean}); err != nil {
		t.Fatal(err)
	}
	return h
}

func TestSaveLoadRoundTrip(t *testing.T) {
	h := populated(t)
	path := filepath.Join(t.TempDir(), "snap.bin")

	if err := Save(path, h); err != nil {
		t.Fatal(err)
	}

	h2 := store.NewHandler()
	ok, err := LoadInto(path, h2)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected LoadInto to report the file existed")
	}

	s2, err := h2.Get("widgets")
	if err != nil {
		t.Fatal(err)
	}
	if s2.Len() != 2 {
		t.Fatalf("restored store has %d entries, want 2", s2.Len())
	}
	if got := s2.PredicateFields(); len(got) != 1 || got[0] != "color" {
		t.Fatalf("restored predicate fields = %v, want [color]", got)
	}
	if got := s2.SnapshotNonLinearConfigs(); len(got) != 1 || got[0].Algorithm != schema.AlgoKDTree {
		t.Fatalf("restored non-linear configs = %v, want one kd-tree config", got)
	}

	hits, err := s2.GetSimN(schema.Vector{1, 0, 0}, 1, kernel.Euclidean, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || !hits[0].Key.Equal(schema.Vector{1, 0, 0}) {
		t.Fatalf("GetSimN after restore = %v, want the [1,0,0] vector first", hits)
	}
}

func TestLoadIntoMissingFileReturnsFalse(t *testing.T) {
	h := store.NewHandler()
	ok, err := LoadInto(filepath.Join(t.TempDir(), "absent.bin"), h)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected LoadInto to report no file found")
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := writeRaw(path, make([]byte, headerSize+8)); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a file with no valid magic")
	}
}

func TestLoadRejectsVersionMismatch(t *testing.T) {
	h := populated(t)
	path := filepath.Join(t.TempDir(), "snap.bin")
	if err := Save(path, h); err != nil {
		t.Fatal(err)
	}

	data := readRaw(t, path)
	data[8] = CurrentVersion.Major + 1
	if err := writeRaw(path, data); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected a version mismatch error")
	}
	serr, ok := err.(*schema.Error)
	if !ok || serr.Tag != schema.TagPersistenceVersionMismatch {
		t.Fatalf("err = %v, want TagPersistenceVersionMismatch", err)
	}
}

func TestSnapshotterSavesPeriodically(t *testing.T) {
	h := populated(t)
	path := filepath.Join(t.TempDir(), "snap.bin")

	s := NewSnapshotter(path, h, 15*time.Millisecond)
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := Load(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("snapshotter never produced a loadable snapshot")
}
