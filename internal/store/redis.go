package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis 是基于 go-redis 的 Store 实现，生产环境使用。
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis { return &Redis{client: client} }

// Dial 解析 REDIS_URL 并确认连接可用。
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) SAdd(ctx context.Context, key, member string) error {
	return r.client.SAdd(ctx, key, member).Err()
}

func (r *Redis) SRem(ctx context.Context, key, member string) error {
	return r.client.SRem(ctx, key, member).Err()
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *Redis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.client.SIsMember(ctx, key, member).Result()
}

func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	return r.client.HSet(ctx, key, field, value).Err()
}

func (r *Redis) HDel(ctx context.Context, key, field string) error {
	return r.client.HDel(ctx, key, field).Err()
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) LPush(ctx context.Context, key string, values ...string) error {
	return r.client.LPush(ctx, key, toArgs(values)...).Err()
}

func (r *Redis) RPush(ctx context.Context, key string, values ...string) error {
	return r.client.RPush(ctx, key, toArgs(values)...).Err()
}

func (r *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *Redis) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.client.LTrim(ctx, key, start, stop).Err()
}

func (r *Redis) LLen(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, key).Result()
}

// Drain 在 MULTI/EXEC 中执行 LRANGE + DEL，并发的 Drain 不会拿到同一元素。
func (r *Redis) Drain(ctx context.Context, key string) ([]string, error) {
	var items *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items.Val(), nil
}

func (r *Redis) Publish(ctx context.Context, channel, payload string) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

func (r *Redis) PSubscribe(ctx context.Context, patterns ...string) (Subscription, error) {
	ps := r.client.PSubscribe(ctx, patterns...)
	// 等待订阅确认，避免订阅建立前发布的消息丢失。
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("psubscribe: %w", err)
	}
	sub := &redisSubscription{
		ps:      ps,
		out:     make(chan Message, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	out       chan Message
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// pump 把 go-redis 的消息转发到 out；Close 之后不再阻塞在发送上。
func (s *redisSubscription) pump() {
	defer close(s.stopped)
	defer close(s.out)
	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.out <- Message{Pattern: m.Pattern, Channel: m.Channel, Payload: m.Payload}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.ps.Close()
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
