package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"concytec/internal/platform/metrics"
	dErrors "concytec/pkg/domain-errors"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX PX leases, shared by every replica.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type RedisOption func(*Redis)

// WithLease sets the lease TTL, the maximum wait and the retry backoff.
func WithLease(ttl, wait, backoff time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
		if wait > 0 {
			r.wait = wait
		}
		if backoff > 0 {
			r.backoff = backoff
		}
	}
}

func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		r.logger = logger
	}
}

func WithRedisMetrics(m *metrics.Metrics) RedisOption {
	return func(r *Redis) {
		r.metrics = m
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		prefix:  "concytec:lock:",
		ttl:     30 * time.Second,
		wait:    defaultWaitTimeout,
		backoff: 25 * time.Millisecond,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.wait)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ObserveLockWait(start)
		}
	}()

	token := uuid.NewString()
	var held []string
	release := func() {
		// Release must outlive the acquiring context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := releaseScript.Run(releaseCtx, r.client, []string{held[i]}, token).Err(); err != nil {
				r.logger.Warn("failed to release item lock", "key", held[i], "error", err)
			}
		}
	}

	for _, key := range normalize(keys) {
		full := r.prefix + key
		if err := r.acquireOne(ctx, full, token); err != nil {
			release()
			return nil, err
		}
		held = append(held, full)
	}
	return release, nil
}

func (r *Redis) acquireOne(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.backoff)
	defer ticker.Stop()
	for {
		err := r.client.SetArgs(ctx, key, token, redis.SetArgs{Mode: "NX", TTL: r.ttl}).Err()
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "timed out waiting for item lock")
			}
			return dErrors.Wrap(fmt.Errorf("acquire %s: %w", key, err), dErrors.CodeUnavailable, "item lock unavailable")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "timed out waiting for item lock")
		}
	}
}
