package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MoneroOcean/ergo/internal/crypto"
	"github.com/MoneroOcean/ergo/pkg/db"
	"github.com/MoneroOcean/ergo/pkg/db/pebble"
)

func testStore(t *testing.T, keep int) (*VersionedStore, db.KVStore) {
	t.Helper()
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	s, err := Open(kv, keep)
	require.NoError(t, err)
	return s, kv
}

func version(seed string) crypto.Hash {
	return crypto.HashData([]byte(seed))
}

func TestOpenRejectsBadRetention(t *testing.T) {
	kv, err := pebble.NewKVStore()
	require.NoError(t, err)
	defer kv.Close()

	_, err = Open(kv, 0)
	assert.Error(t, err)
}

func TestUpdateAndGet(t *testing.T) {
	s, _ := testStore(t, 10)

	err := s.Update(version("v1"), nil, []KV{
		{K: []byte("a"), V: []byte("1")},
		{K: []byte("b"), V: []byte("2")},
	})
	require.NoError(t, err)

	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = s.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	last, ok := s.LastVersion()
	require.True(t, ok)
	assert.Equal(t, version("v1"), last)
	assert.True(t, s.Contains(version("v1")))
	assert.False(t, s.Contains(version("v2")))
}

func TestUpdateRejectsDuplicateVersion(t *testing.T) {
	s, _ := testStore(t, 10)

	require.NoError(t, s.Update(version("v1"), nil, []KV{{K: []byte("a"), V: []byte("1")}}))
	err := s.Update(version("v1"), nil, []KV{{K: []byte("b"), V: []byte("2")}})
	assert.ErrorIs(t, err, ErrVersionExists)
}

func TestRollbackRestoresPriorState(t *testing.T) {
	s, _ := testStore(t, 10)

	require.NoError(t, s.Update(version("v1"), nil, []KV{
		{K: []byte("a"), V: []byte("1")},
		{K: []byte("b"), V: []byte("2")},
	}))
	require.NoError(t, s.Update(version("v2"), [][]byte{[]byte("b")}, []KV{
		{K: []byte("a"), V: []byte("3")},
		{K: []byte("c"), V: []byte("4")},
	}))

	require.NoError(t, s.Rollback(version("v1")))

	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	v, err = s.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
	_, err = s.Get([]byte("c"))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []crypto.Hash{version("v1")}, s.Versions())
}

// Rollback across several versions must land on the value the target version
// saw, even for keys rewritten by every intermediate version.
func TestRollbackAcrossRewrites(t *testing.T) {
	s, _ := testStore(t, 10)

	for i := 1; i <= 4; i++ {
		val := fmt.Appendf(nil, "value-%d", i)
		require.NoError(t, s.Update(version(fmt.Sprintf("v%d", i)), nil, []KV{{K: []byte("k"), V: val}}))
	}

	require.NoError(t, s.Rollback(version("v2")))
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value-2"), v)
}

func TestRollbackUnknownVersion(t *testing.T) {
	s, _ := testStore(t, 10)
	require.NoError(t, s.Update(version("v1"), nil, []KV{{K: []byte("a"), V: []byte("1")}}))

	err := s.Rollback(version("never"))
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestRetentionPrunesOldVersions(t *testing.T) {
	s, _ := testStore(t, 3)

	for i := 1; i <= 5; i++ {
		val := fmt.Appendf(nil, "value-%d", i)
		require.NoError(t, s.Update(version(fmt.Sprintf("v%d", i)), nil, []KV{{K: []byte("k"), V: val}}))
	}

	assert.Equal(t, []crypto.Hash{version("v3"), version("v4"), version("v5")}, s.Versions())

	err := s.Rollback(version("v1"))
	assert.ErrorIs(t, err, ErrVersionNotFound)

	// Pruning forfeits history, not current data
	require.NoError(t, s.Rollback(version("v3")))
	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value-3"), v)
}

func TestReopenRecoversVersionList(t *testing.T) {
	s, kv := testStore(t, 10)

	require.NoError(t, s.Update(version("v1"), nil, []KV{{K: []byte("a"), V: []byte("1")}}))
	require.NoError(t, s.Update(version("v2"), nil, []KV{{K: []byte("a"), V: []byte("2")}}))

	reopened, err := Open(kv, 10)
	require.NoError(t, err)
	assert.Equal(t, []crypto.Hash{version("v1"), version("v2")}, reopened.Versions())

	// Rollback still works through the reopened handle
	require.NoError(t, reopened.Rollback(version("v1")))
	v, err := reopened.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	// New versions continue the journal sequence
	require.NoError(t, reopened.Update(version("v3"), nil, []KV{{K: []byte("a"), V: []byte("3")}}))
	again, err := Open(kv, 10)
	require.NoError(t, err)
	assert.Equal(t, []crypto.Hash{version("v1"), version("v3")}, again.Versions())
}

func TestInsertWinsOverRemove(t *testing.T) {
	s, _ := testStore(t, 10)

	require.NoError(t, s.Update(version("v1"), nil, []KV{{K: []byte("a"), V: []byte("old")}}))
	require.NoError(t, s.Update(version("v2"),
		[][]byte{[]byte("a")},
		[]KV{{K: []byte("a"), V: []byte("new")}},
	))

	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)

	require.NoError(t, s.Rollback(version("v1")))
	v, err = s.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), v)
}
