package lock

import (
	"context"
	"slices"
	"time"

	"concytec/internal/platform/metrics"
	dErrors "concytec/pkg/domain-errors"
)

// numShards trades memory for contention; unrelated keys sharing a shard
// only serialize, never deadlock, because shards are taken in order.
const numShards = 128

const defaultWaitTimeout = 5 * time.Second

// Sharded is an in-process Locker built from channel semaphores, so waiting
// honours context cancellation.
type Sharded struct {
	shards  [numShards]chan struct{}
	timeout time.Duration
	metrics *metrics.Metrics
}

type ShardedOption func(*Sharded)

func WithWaitTimeout(d time.Duration) ShardedOption {
	return func(s *Sharded) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithShardedMetrics(m *metrics.Metrics) ShardedOption {
	return func(s *Sharded) {
		s.metrics = m
	}
}

func NewSharded(opts ...ShardedOption) *Sharded {
	s := &Sharded{timeout: defaultWaitTimeout}
	for i := range s.shards {
		s.shards[i] = make(chan struct{}, 1)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sharded) Acquire(ctx context.Context, keys ...string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "lock aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveLockWait(start)
		}
	}()

	shards := make([]int, 0, len(keys))
	for _, key := range normalize(keys) {
		shards = append(shards, int(hashKey(key)%numShards))
	}
	slices.Sort(shards)
	shards = slices.Compact(shards)

	held := make([]int, 0, len(shards))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-s.shards[held[i]]
		}
	}
	for _, shard := range shards {
		select {
		case s.shards[shard] <- struct{}{}:
			held = append(held, shard)
		case <-ctx.Done():
			release()
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "timed out waiting for item lock")
		}
	}
	return release, nil
}

// hashKey uses FNV-1a for better hash distribution than simple multiply-add.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
