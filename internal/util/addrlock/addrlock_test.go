package addrlock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sesame/internal/util/addrlock"
)

func TestLock_SerialisesSameKey(t *testing.T) {
	l := addrlock.New()
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "alice.1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen)
	require.Zero(t, l.Len(), "idle keys are dropped")
}

func TestLock_DifferentKeysDoNotBlock(t *testing.T) {
	l := addrlock.New()
	unlockA, err := l.Lock(context.Background(), "alice.1")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "bob.1")
	require.NoError(t, err)
	unlockB()
}

func TestLock_HonoursCancellation(t *testing.T) {
	l := addrlock.New()
	unlock, err := l.Lock(context.Background(), "alice.1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "alice.1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, l.Len())

	unlock()
	unlock() // second call is a no-op
	require.Zero(t, l.Len())

	unlock, err = l.Lock(context.Background(), "alice.1")
	require.NoError(t, err)
	unlock()
}
