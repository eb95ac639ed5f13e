package index

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	id "concytec/pkg/domain"
)

const defaultRedisPrefix = "concytec:index"

// Redis stores each relation field as an ordered list under
// <prefix>:<item>:<field>, plus a set of field names per item.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) fieldKey(itemID id.ItemID, field string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, itemID, field)
}

func (r *Redis) fieldsKey(itemID id.ItemID) string {
	return fmt.Sprintf("%s:%s:fields", r.prefix, itemID)
}

// Reindex replaces each pushed field atomically.
func (r *Redis) Reindex(ctx context.Context, itemID id.ItemID, fields map[string][]string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for field, values := range fields {
			key := r.fieldKey(itemID, field)
			pipe.Del(ctx, key)
			if len(values) == 0 {
				pipe.SRem(ctx, r.fieldsKey(itemID), field)
				continue
			}
			args := make([]any, len(values))
			for i, v := range values {
				args[i] = v
			}
			pipe.RPush(ctx, key, args...)
			pipe.SAdd(ctx, r.fieldsKey(itemID), field)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reindex item %s: %w", itemID, err)
	}
	return nil
}

// Field returns the indexed values of field for item.
func (r *Redis) Field(ctx context.Context, itemID id.ItemID, field string) ([]string, error) {
	values, err := r.client.LRange(ctx, r.fieldKey(itemID, field), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read index field: %w", err)
	}
	return values, nil
}

// Purge drops every indexed field of item.
func (r *Redis) Purge(ctx context.Context, itemID id.ItemID) error {
	fields, err := r.client.SMembers(ctx, r.fieldsKey(itemID)).Result()
	if err != nil {
		return fmt.Errorf("list index fields: %w", err)
	}
	keys := []string{r.fieldsKey(itemID)}
	for _, f := range fields {
		keys = append(keys, r.fieldKey(itemID, f))
	}
	return r.client.Del(ctx, keys...).Err()
}
