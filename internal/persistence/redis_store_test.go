package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/agentkit/internal/memory"
)

func newTestRedisStore(t *testing.T, collection string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "test", collection)
	require.NoError(t, err)
	return store, srv
}

func TestRedisStore_Contract(t *testing.T) {
	t.Parallel()

	store, _ := newTestRedisStore(t, "")
	testStoreContract(t, store)
}

func TestRedisStore_MetadataRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestRedisStore(t, "")
	testMetadataRoundTrip(t, store)
}

func TestRedisStore_KeyLayout(t *testing.T) {
	t.Parallel()

	store, srv := newTestRedisStore(t, "notes")
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, memory.Item{ID: "a", Text: "hello", Embedding: []float64{1}}))

	assert.True(t, srv.Exists("test:notes:item:a"))
	assert.Equal(t, "hello", srv.HGet("test:notes:item:a", "text"))
	members, err := srv.ZMembers("test:notes:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)

	require.NoError(t, store.Delete(ctx, "a"))
	assert.False(t, srv.Exists("test:notes:item:a"))
}

func TestRedisStore_ListSkipsDanglingIndexEntries(t *testing.T) {
	t.Parallel()

	store, srv := newTestRedisStore(t, "")
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, memory.Item{ID: "a", Text: "kept", Embedding: []float64{1}}))
	require.NoError(t, store.Upsert(ctx, memory.Item{ID: "b", Text: "lost", Embedding: []float64{1}}))
	srv.Del("test:" + DefaultCollection + ":item:b")

	items, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
}

func TestRedisStore_RequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewRedisStore(nil, "", "")
	assert.Error(t, err)
}

func TestOpenRedisStore(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	ctx := context.Background()

	store, err := OpenRedisStore(ctx, srv.Addr(), "", 0, "", "")
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, memory.Item{ID: "x", Text: "y", Embedding: []float64{1}}))
	assert.True(t, srv.Exists(defaultRedisPrefix+":"+DefaultCollection+":item:x"))
	require.NoError(t, store.Close())

	addr := srv.Addr()
	srv.Close()
	_, err = OpenRedisStore(ctx, addr, "", 0, "", "")
	assert.Error(t, err)
}
