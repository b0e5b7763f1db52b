package pebble

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MoneroOcean/ergo/pkg/db"
)

func TestKVStore(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store db.KVStore)
	}{
		{
			name: "basic_put_get",
			fn:   testBasicPutGet,
		},
		{
			name: "delete_operations",
			fn:   testDelete,
		},
		{
			name: "batch_commit",
			fn:   testBatchCommit,
		},
		{
			name: "iterator_range",
			fn:   testIteratorRange,
		},
		{
			name: "store_closure",
			fn:   testStoreClosure,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewKVStore()
			require.NoError(t, err)
			defer store.Close()

			tc.fn(t, store)
		})
	}
}

func testBasicPutGet(t *testing.T, store db.KVStore) {
	key := []byte("test-key")
	value := []byte("test-value")

	err := store.Put(key, value)
	require.NoError(t, err)

	retrieved, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, value, retrieved)

	_, err = store.Get([]byte("non-existent"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func testDelete(t *testing.T, store db.KVStore) {
	key := []byte("delete-test")
	value := []byte("to-be-deleted")

	err := store.Put(key, value)
	require.NoError(t, err)

	err = store.Delete(key)
	require.NoError(t, err)

	_, err = store.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Delete of a non-existent key should not error
	err = store.Delete([]byte("non-existent"))
	assert.NoError(t, err)
}

func testBatchCommit(t *testing.T, store db.KVStore) {
	err := store.Put([]byte("pre-existing"), []byte("old"))
	require.NoError(t, err)

	batch := store.NewBatch()
	require.NoError(t, batch.Put([]byte("batch-key-1"), []byte("v1")))
	require.NoError(t, batch.Put([]byte("batch-key-2"), []byte("v2")))
	require.NoError(t, batch.Delete([]byte("pre-existing")))

	// Nothing visible before commit
	_, err = store.Get([]byte("batch-key-1"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, batch.Commit())
	require.NoError(t, batch.Close())

	v, err := store.Get([]byte("batch-key-1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	_, err = store.Get([]byte("pre-existing"))
	assert.ErrorIs(t, err, ErrNotFound)

	// Reusing a committed batch fails
	err = batch.Put([]byte("late"), []byte("x"))
	assert.ErrorIs(t, err, ErrBatchDone)
}

func testIteratorRange(t *testing.T, store db.KVStore) {
	for i := 0; i < 5; i++ {
		key := fmt.Appendf(nil, "key-%d", i)
		value := fmt.Appendf(nil, "value-%d", i)
		require.NoError(t, store.Put(key, value))
	}

	it, err := store.NewIterator([]byte("key-1"), []byte("key-4"))
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
		v, err := it.Value()
		require.NoError(t, err)
		assert.NotEmpty(t, v)
	}
	// End bound is exclusive
	assert.Equal(t, []string{"key-1", "key-2", "key-3"}, keys)
	assert.False(t, it.Valid())
}

func testStoreClosure(t *testing.T, store db.KVStore) {
	err := store.Close()
	require.NoError(t, err)

	_, err = store.Get([]byte("key"))
	assert.ErrorIs(t, err, ErrClosed)

	err = store.Put([]byte("key"), []byte("value"))
	assert.ErrorIs(t, err, ErrClosed)

	err = store.Delete([]byte("key"))
	assert.ErrorIs(t, err, ErrClosed)

	// Double close should not error
	err = store.Close()
	assert.NoError(t, err)
}
