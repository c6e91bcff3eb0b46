package gojob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jobredis "github.com/goliatone/go-job/queue/adapters/redis"
	redis "github.com/redis/go-redis/v9"
)

const DefaultQueueName = "orderhub"

// RedisCommands is the subset of redis.UniversalClient the job storage needs.
type RedisCommands interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	RPop(ctx context.Context, key string) *redis.StringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisClient implements the go-job redis storage client on go-redis. Missing
// keys and empty lists read as zero values, as the storage expects.
type RedisClient struct {
	commands RedisCommands
}

func NewRedisClient(commands RedisCommands) (*RedisClient, error) {
	if commands == nil {
		return nil, fmt.Errorf("gojob: redis client is required")
	}
	return &RedisClient{commands: commands}, nil
}

func (c *RedisClient) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return c.commands.HSet(ctx, key, values).Err()
}

func (c *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.commands.HGetAll(ctx, key).Result()
}

func (c *RedisClient) HGet(ctx context.Context, key, field string) (string, error) {
	return orEmpty(c.commands.HGet(ctx, key, field).Result())
}

func (c *RedisClient) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return c.commands.HDel(ctx, key, fields...).Err()
}

func (c *RedisClient) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, len(values))
	for i, value := range values {
		args[i] = value
	}
	return c.commands.LPush(ctx, key, args...).Err()
}

func (c *RedisClient) RPop(ctx context.Context, key string) (string, error) {
	return orEmpty(c.commands.RPop(ctx, key).Result())
}

func (c *RedisClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.commands.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *RedisClient) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, member := range members {
		args[i] = member
	}
	return c.commands.ZRem(ctx, key, args...).Err()
}

// ZRangeByScore returns members scored at or below max, lowest first.
func (c *RedisClient) ZRangeByScore(ctx context.Context, key string, max float64, limit int64) ([]jobredis.ZItem, error) {
	opt := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatFloat(max, 'f', -1, 64)}
	if limit > 0 {
		opt.Count = limit
	}
	members, err := c.commands.ZRangeByScoreWithScores(ctx, key, opt).Result()
	if err != nil {
		return nil, err
	}
	items := make([]jobredis.ZItem, 0, len(members))
	for _, member := range members {
		items = append(items, jobredis.ZItem{Member: fmt.Sprint(member.Member), Score: member.Score})
	}
	return items, nil
}

// Eval reports a nil script reply as a nil result.
func (c *RedisClient) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	result, err := c.commands.Eval(ctx, script, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return result, err
}

func (c *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.commands.Expire(ctx, key, ttl).Err()
}

func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.commands.Del(ctx, keys...).Err()
}

func orEmpty(value string, err error) (string, error) {
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

// NewRedisQueue returns a job queue stored in redis under queueName.
func NewRedisQueue(commands RedisCommands, queueName string, visibility time.Duration) (*jobredis.Adapter, error) {
	client, err := NewRedisClient(commands)
	if err != nil {
		return nil, err
	}
	queueName = strings.TrimSpace(queueName)
	if queueName == "" {
		queueName = DefaultQueueName
	}
	opts := []jobredis.Option{jobredis.WithQueueName(queueName)}
	if visibility > 0 {
		opts = append(opts, jobredis.WithVisibilityTimeout(visibility))
	}
	return jobredis.NewAdapter(jobredis.NewStorage(client, opts...)), nil
}

// NewRedisQueueFromURL parses url and connects lazily. Callers close the
// returned client.
func NewRedisQueueFromURL(url, queueName string, visibility time.Duration) (*jobredis.Adapter, *redis.Client, error) {
	options, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, nil, fmt.Errorf("gojob: parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	adapter, err := NewRedisQueue(client, queueName, visibility)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return adapter, client, nil
}

var _ jobredis.Client = (*RedisClient)(nil)
