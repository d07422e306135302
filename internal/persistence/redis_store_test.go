package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestRedisAppendLatest(t *testing.T) {
	exerciseAppendLatest(t, NewRedisAuditStore(newTestRedisClient(t), "siirto:test:"))
}

func TestRedisConflict(t *testing.T) {
	exerciseConflict(t, NewRedisAuditStore(newTestRedisClient(t), "siirto:test:"))
}

func TestRedisQuery(t *testing.T) {
	exerciseQuery(t, NewRedisAuditStore(newTestRedisClient(t), "siirto:test:"))
}

func TestRedisTenants(t *testing.T) {
	exerciseTenants(t, NewRedisTenantStores(newTestRedisClient(t), "siirto:test:"))
}

func TestRedisDefaultPrefix(t *testing.T) {
	client := newTestRedisClient(t)
	store := NewRedisAuditStore(client, "")

	id := mustAppend(t, store, testEntry("m1", "order", "o1", "", "paid", "alice", 0), 0)

	// Keys land under the default prefix.
	n, err := client.Exists(context.Background(), "siirto:head:m1:order:o1").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	head, err := client.Get(context.Background(), "siirto:head:m1:order:o1").Int64()
	require.NoError(t, err)
	require.Equal(t, id, head)
}

func TestRedisTenantKeysAreDisjoint(t *testing.T) {
	ctx := context.Background()
	client := newTestRedisClient(t)
	stores := NewRedisTenantStores(client, "siirto:")

	require.NoError(t, stores.Provision(ctx, "acme"))
	acme, err := stores.ForTenant(ctx, "acme")
	require.NoError(t, err)

	mustAppend(t, acme, testEntry("m1", "order", "o1", "", "paid", "alice", 0), 0)

	keys, err := client.Keys(ctx, "siirto:acme:*").Result()
	require.NoError(t, err)
	require.NotEmpty(t, keys)

	// Nothing leaked into the shared namespace's entity keys.
	shared, err := client.Exists(ctx, "siirto:head:m1:order:o1").Result()
	require.NoError(t, err)
	require.EqualValues(t, 0, shared)
}
