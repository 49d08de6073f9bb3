package badgerdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer-network/go-dsu/db"
)

var ns = []byte("records")

func openTestDB(t *testing.T) *DB {
	bdb, err := NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })
	return bdb
}

func TestSetGetDelete(t *testing.T) {
	bdb := openTestDB(t)
	assert.Equal(t, "badgerdb", bdb.Type())

	require.NoError(t, bdb.Set(ns, []byte("a"), []byte("1")))
	v, ok, err := bdb.Get(ns, []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	ok, err = bdb.Exist(ns, []byte("b"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, bdb.Delete(ns, []byte("a")))
	_, ok, err = bdb.Get(ns, []byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransactionAndBulk(t *testing.T) {
	bdb := openTestDB(t)

	tx := bdb.NewTx()
	require.NoError(t, tx.Set(ns, []byte("a"), []byte("1")))
	require.NoError(t, tx.Set(ns, []byte("b"), []byte("2")))
	tx.Discard()
	ok, err := bdb.Exist(ns, []byte("a"))
	require.NoError(t, err)
	assert.False(t, ok, "discarded writes are dropped")

	tx = bdb.NewTx()
	require.NoError(t, tx.Set(ns, []byte("a"), []byte("1")))
	require.NoError(t, tx.Commit())

	bulk := bdb.NewBulk()
	require.NoError(t, bulk.Set(ns, []byte("c"), []byte("3")))
	require.NoError(t, bulk.Delete(ns, []byte("a")))
	require.NoError(t, bulk.Flush())

	ok, err = bdb.Exist(ns, []byte("c"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = bdb.Exist(ns, []byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIteratorDirections(t *testing.T) {
	bdb := openTestDB(t)
	for _, k := range []string{"1", "2", "3"} {
		require.NoError(t, bdb.Set(ns, []byte(k), []byte(k)))
	}
	require.NoError(t, bdb.Set([]byte("other"), []byte("x"), []byte("x")))

	collect := func(iter db.Iterator) []string {
		defer iter.Close()
		var out []string
		for ; iter.Valid(); iter.Next() {
			v, err := iter.Value()
			require.NoError(t, err)
			out = append(out, string(v))
		}
		return out
	}

	start, end := db.NamespaceRange(ns)
	assert.Equal(t, []string{"1", "2", "3"}, collect(bdb.Iterator(start, end)))
	assert.Equal(t, []string{"3", "2", "1"}, collect(bdb.Iterator(end, start)))
}
