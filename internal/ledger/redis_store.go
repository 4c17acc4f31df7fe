package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one set per channel ({prefix}:channel:<id>) plus an index
// set ({prefix}:channels) listing every channel that has marks.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore parses a redis:// URL. prefix defaults to "signal-trader:ledger".
func NewRedisStore(url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if prefix == "" {
		prefix = "signal-trader:ledger"
	}
	return &RedisStore{client: redis.NewClient(opts), prefix: prefix}, nil
}

func (r *RedisStore) indexKey() string { return r.prefix + ":channels" }

func (r *RedisStore) channelKey(channel int64) string {
	return r.prefix + ":channel:" + strconv.FormatInt(channel, 10)
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Load(ctx context.Context) (State, error) {
	channels, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", r.indexKey(), err)
	}
	s := make(State)
	for _, raw := range channels {
		ch, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		ids, err := r.client.SMembers(ctx, r.channelKey(ch)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis smembers channel %d: %w", ch, err)
		}
		for _, v := range ids {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			s.Add(ch, id)
		}
	}
	return s, nil
}

// Save replaces every channel set in one MULTI/EXEC.
func (r *RedisStore) Save(ctx context.Context, s State) error {
	old, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("redis smembers %s: %w", r.indexKey(), err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, raw := range old {
			pipe.Del(ctx, r.prefix+":channel:"+strings.TrimSpace(raw))
		}
		pipe.Del(ctx, r.indexKey())
		for ch, ids := range s.Sorted() {
			if len(ids) == 0 {
				continue
			}
			members := make([]any, len(ids))
			for i, id := range ids {
				members[i] = id
			}
			pipe.SAdd(ctx, r.channelKey(ch), members...)
			pipe.SAdd(ctx, r.indexKey(), ch)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save ledger: %w", err)
	}
	return nil
}

func (r *RedisStore) Append(ctx context.Context, channel, id int64) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.channelKey(channel), id)
		pipe.SAdd(ctx, r.indexKey(), channel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append %d/%d: %w", channel, id, err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, channel, id int64) error {
	if err := r.client.SRem(ctx, r.channelKey(channel), id).Err(); err != nil {
		return fmt.Errorf("redis remove %d/%d: %w", channel, id, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
