// Package store 定义跨进程协调层（KV + set + hash + list + pub/sub）的契约。
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 表示 key 不存在或已过期。
var ErrNotFound = errors.New("store: key not found")

// Message 是模式订阅收到的一条消息。
type Message struct {
	Pattern string
	Channel string
	Payload string
}

// Subscription 是一次模式订阅，Close 后 Messages 通道会被关闭。
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Store 是所有进程共享的协调存储。实现必须是并发安全的。
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key, field string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	LPush(ctx context.Context, key string, values ...string) error
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)
	// Drain 原子地取出列表中的全部元素并删除该列表。
	Drain(ctx context.Context, key string) ([]string, error)

	Publish(ctx context.Context, channel, payload string) error
	PSubscribe(ctx context.Context, patterns ...string) (Subscription, error)
}
