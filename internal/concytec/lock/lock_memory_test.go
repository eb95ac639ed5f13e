package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "concytec/pkg/domain"
	dErrors "concytec/pkg/domain-errors"
)

func TestShardedSerializesSameKey(t *testing.T) {
	locker := NewSharded()
	key := ItemKey(id.NewItemID())

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestShardedOppositeOrderDoesNotDeadlock(t *testing.T) {
	locker := NewSharded(WithWaitTimeout(2 * time.Second))
	a, b := ItemKey(id.NewItemID()), ItemKey(id.NewItemID())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys := []string{a, b}
			if i%2 == 1 {
				keys = []string{b, a}
			}
			release, err := locker.Acquire(context.Background(), keys...)
			if assert.NoError(t, err) {
				release()
			}
		}()
	}
	wg.Wait()
}

func TestShardedTimesOut(t *testing.T) {
	locker := NewSharded(WithWaitTimeout(20 * time.Millisecond))
	key := EPersonKey(id.NewEPersonID())

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer release()

	// not reentrant
	_, err = locker.Acquire(context.Background(), key)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestShardedHonoursCancelledContext(t *testing.T) {
	locker := NewSharded()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := locker.Acquire(ctx, ItemKey(id.NewItemID()))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestShardedReleaseFreesEveryKey(t *testing.T) {
	locker := NewSharded(WithWaitTimeout(20 * time.Millisecond))
	keys := []string{ItemKey(id.NewItemID()), ItemKey(id.NewItemID()), ItemKey(id.NewItemID())}

	release, err := locker.Acquire(context.Background(), keys...)
	require.NoError(t, err)
	release()

	for _, key := range keys {
		r, err := locker.Acquire(context.Background(), key)
		require.NoError(t, err)
		r()
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, normalize([]string{"b", "a", "b"}))
}
