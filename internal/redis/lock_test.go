package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr(), "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_ReleasesAfterRun(t *testing.T) {
	mr, client := newMiniredis(t)
	locker := NewRedisLocker(client, 5*time.Second)

	ran := false
	err := locker.WithLock(context.Background(), "clinic:schedule", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:clinic:schedule"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:clinic:schedule"))
}

func TestRedisLocker_HeldKeyFailsFast(t *testing.T) {
	mr, client := newMiniredis(t)
	locker := NewRedisLocker(client, 5*time.Second)

	require.NoError(t, mr.Set("lock:clinic:schedule", "someone-else"))

	err := locker.WithLock(context.Background(), "clinic:schedule", func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// a foreign token is never deleted by our release
	val, _ := mr.Get("lock:clinic:schedule")
	assert.Equal(t, "someone-else", val)
}

func TestRedisLocker_PropagatesCallbackError(t *testing.T) {
	_, client := newMiniredis(t)
	locker := NewRedisLocker(client, time.Second)

	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestLocalLocker_Serializes(t *testing.T) {
	locker := NewLocalLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), "clinic:schedule", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	locker := NewLocalLocker()
	release := make(chan struct{})
	held := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, "k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	close(release)
}
