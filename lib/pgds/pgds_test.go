//go:build pgds

package pgds

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/stretchr/testify/require"
)

// newTestDatastore connects to the database in AACHAN_TEST_PG_DSN, using a
// table of its own that is dropped when the test ends.
func newTestDatastore(t *testing.T) *Datastore {
	dsn := os.Getenv("AACHAN_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("AACHAN_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	table := "itest_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	d, err := New(ctx, dsn, table)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = d.pool.Exec(context.Background(), `DROP TABLE `+d.table)
		_ = d.Close()
	})
	return d
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	d := newTestDatastore(t)
	k := ds.NewKey("/channels/A1")

	_, err := d.Get(ctx, k)
	require.ErrorIs(t, err, ds.ErrNotFound)
	_, err = d.GetSize(ctx, k)
	require.ErrorIs(t, err, ds.ErrNotFound)

	require.NoError(t, d.Put(ctx, k, []byte("one")))
	require.NoError(t, d.Put(ctx, k, []byte("three")))
	v, err := d.Get(ctx, k)
	require.NoError(t, err)
	require.Equal(t, "three", string(v))
	size, err := d.GetSize(ctx, k)
	require.NoError(t, err)
	require.Equal(t, 5, size)

	has, err := d.Has(ctx, k)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, d.Delete(ctx, k))
	has, err = d.Has(ctx, k)
	require.NoError(t, err)
	require.False(t, has)
}

func TestQueryPrefix(t *testing.T) {
	ctx := context.Background()
	d := newTestDatastore(t)

	for _, k := range []string{"/pending/A1/u1", "/pending/A1/u2", "/pending/A10/u3", "/channels/A1"} {
		require.NoError(t, d.Put(ctx, ds.NewKey(k), []byte(k)))
	}

	res, err := d.Query(ctx, query.Query{Prefix: "/pending/A1"})
	require.NoError(t, err)
	entries, err := res.Rest()
	require.NoError(t, err)

	var keys []string
	for _, e := range entries {
		keys = append(keys, e.Key)
		require.Equal(t, e.Key, string(e.Value))
	}
	require.ElementsMatch(t, []string{"/pending/A1/u1", "/pending/A1/u2"}, keys)

	res, err = d.Query(ctx, query.Query{Prefix: "/pending", KeysOnly: true})
	require.NoError(t, err)
	entries, err = res.Rest()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Nil(t, entries[0].Value)
}

func TestBatchCommit(t *testing.T) {
	ctx := context.Background()
	d := newTestDatastore(t)
	require.NoError(t, d.Put(ctx, ds.NewKey("/old"), []byte("x")))

	b, err := d.Batch(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, ds.NewKey("/a"), []byte("1")))
	require.NoError(t, b.Put(ctx, ds.NewKey("/b"), []byte("2")))
	require.NoError(t, b.Delete(ctx, ds.NewKey("/old")))

	// nothing is visible before the commit
	has, err := d.Has(ctx, ds.NewKey("/a"))
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, b.Commit(ctx))
	v, err := d.Get(ctx, ds.NewKey("/b"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
	has, err = d.Has(ctx, ds.NewKey("/old"))
	require.NoError(t, err)
	require.False(t, has)
}
