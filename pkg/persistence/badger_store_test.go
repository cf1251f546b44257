package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorkv/vectorkv/pkg/schema"
	"github.com/vectorkv/vectorkv/pkg/store"
)

func TestBadgerStoreSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	bs, err := OpenBadgerStore(BadgerOptions{DataDir: dir})
	require.NoError(t, err)
	defer bs.Close()

	h := populated(t)
	require.NoError(t, bs.Save(h))

	h2 := store.NewHandler()
	ok, err := bs.LoadInto(h2)
	require.NoError(t, err)
	assert.True(t, ok)

	s2, err := h2.Get("widgets")
	require.NoError(t, err)
	assert.Equal(t, 2, s2.Len())
	assert.ElementsMatch(t, []string{"color"}, s2.PredicateFields())

	hits := s2.GetKey([]schema.Vector{{1, 0, 0}})
	assert.Len(t, hits, 1)
}

func TestBadgerStoreLoadIntoEmptyDatabaseReportsNoData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger-empty")
	bs, err := OpenBadgerStore(BadgerOptions{DataDir: dir})
	require.NoError(t, err)
	defer bs.Close()

	ok, err := bs.LoadInto(store.NewHandler())
	require.NoError(t, err)
	assert.False(t, ok)
}
