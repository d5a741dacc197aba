package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisLockerReleasesKey(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewRedisLocker(client, time.Second, 100*time.Millisecond)
	key := SlotKey(uuid.New())

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))
}

func TestRedisLockerPropagatesCallbackError(t *testing.T) {
	client, _ := setupTestRedis(t)
	locker := NewRedisLocker(client, time.Second, 100*time.Millisecond)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRedisLockerTimesOutWhenHeld(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewRedisLocker(client, time.Second, 60*time.Millisecond)
	key := StaffKey(uuid.New())
	require.NoError(t, mr.Set(key, "someone-else"))

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		t.Fatal("callback must not run without the lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	val, _ := mr.Get(key)
	assert.Equal(t, "someone-else", val, "foreign lock must not be released")
}

func TestRedisLockerSerialisesContenders(t *testing.T) {
	client, _ := setupTestRedis(t)
	locker := NewRedisLocker(client, 2*time.Second, 2*time.Second)
	key := SlotKey(uuid.New())

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestLocalLockerSerialises(t *testing.T) {
	locker := NewLocalLocker()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
				c := counter
				time.Sleep(time.Microsecond)
				counter = c + 1
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
