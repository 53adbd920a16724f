package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"github.com/sweetpotato0/ai-concierge/message"
	"github.com/sweetpotato0/ai-concierge/session"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStoreSaveLoad(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStoreFromClient(client, "test:thread:", 0)
	ctx := context.Background()

	st := session.NewState("t1")
	st.UserQuery = "turn on the lights"
	st.LatestAgent = "control"
	st.AddMessage(message.NewMessage(message.RoleUser, "turn on the lights"))

	require.NoError(t, store.Save(ctx, st))

	loaded, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "turn on the lights", loaded.UserQuery)
	assert.Equal(t, "control", loaded.LatestAgent)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, message.RoleUser, loaded.Messages[0].Role)
	assert.NotNil(t, loaded.Data)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids)
}

func TestRedisStoreMissingThread(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStoreFromClient(client, "test:thread:", 0)

	_, err := store.Load(context.Background(), "nope")
	assert.True(t, errors.Is(err, errorspkg.ErrNotFound))

	err = store.Delete(context.Background(), "nope")
	assert.True(t, errors.Is(err, errorspkg.ErrNotFound))
}

func TestRedisStoreTTLPrunesIndex(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStoreFromClient(client, "test:thread:", time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, session.NewState("t1")))
	mr.FastForward(2 * time.Minute)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisLockerLockUnlock(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, "test:", 5*time.Second)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:t1"), "Lock key should be set in Redis")

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:t1"), "Lock key should be removed after unlock")
}

func TestRedisLockerContention(t *testing.T) {
	_, client := newTestRedis(t)
	locker1 := NewRedisLocker(client, "test:", 5*time.Second)
	locker2 := NewRedisLocker(client, "test:", 5*time.Second)
	ctx := context.Background()

	unlock1, err := locker1.Lock(ctx, "t1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = locker2.Lock(waitCtx, "t1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock1(ctx))

	unlock2, err := locker2.Lock(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}
