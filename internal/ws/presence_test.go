package ws

import (
	"context"
	"testing"

	sharedredis "persona-ritual/backend/shared/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presenceBackends(t *testing.T) map[string]PresenceStore {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return map[string]PresenceStore{
		"memory": NewMemoryPresence(),
		"redis":  NewRedisPresence(sharedredis.Wrap(rdb, "test")),
	}
}

func TestPresenceBindAndRooms(t *testing.T) {
	for name, store := range presenceBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Ping(ctx))

			user, err := store.UserFor(ctx, "conn-a")
			require.NoError(t, err)
			assert.Empty(t, user)

			require.NoError(t, store.Bind(ctx, "conn-a", "user-1"))
			require.NoError(t, store.Bind(ctx, "conn-b", "user-1"))

			user, err = store.UserFor(ctx, "conn-a")
			require.NoError(t, err)
			assert.Equal(t, "user-1", user)

			room := SessionRoom("s1")
			require.NoError(t, store.Join(ctx, "conn-b", room))
			require.NoError(t, store.Join(ctx, "conn-a", room))
			require.NoError(t, store.Join(ctx, "conn-a", room))
			require.NoError(t, store.Join(ctx, "conn-a", SessionRoom("s2")))

			members, err := store.Members(ctx, room)
			require.NoError(t, err)
			assert.Equal(t, []string{"conn-a", "conn-b"}, members)

			require.NoError(t, store.Remove(ctx, "conn-a"))

			members, err = store.Members(ctx, room)
			require.NoError(t, err)
			assert.Equal(t, []string{"conn-b"}, members)

			members, err = store.Members(ctx, SessionRoom("s2"))
			require.NoError(t, err)
			assert.Empty(t, members)

			user, err = store.UserFor(ctx, "conn-a")
			require.NoError(t, err)
			assert.Empty(t, user)

			require.NoError(t, store.Remove(ctx, "never-connected"))
		})
	}
}

func TestRedisPresenceNamespacesKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewRedisPresence(sharedredis.Wrap(rdb, "ritual:"))
	require.NoError(t, store.Bind(context.Background(), "conn-a", "user-1"))

	got, err := mr.Get("ritual:presence:conn:conn-a:user")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got)
	assert.Zero(t, mr.TTL("ritual:presence:conn:conn-a:user"))
}
