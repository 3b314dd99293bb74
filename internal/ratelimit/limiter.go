// Package ratelimit 实现按用户的令牌桶，限制 websocket 入站帧速率。
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultCapacity = 5
	DefaultRate     = 5
)

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

// Limiter 只在本进程内生效，同一用户连到不同进程时各自计数。
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	rate     int
	now      func() time.Time
}

// New 创建限流器，capacity 或 rate 非正时使用默认值。
func New(capacity, rate int) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if rate <= 0 {
		rate = DefaultRate
	}
	return &Limiter{
		buckets:  make(map[string]*bucket),
		capacity: capacity,
		rate:     rate,
		now:      time.Now,
	}
}

// WithClock 替换时钟，测试用。
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow 消耗一个令牌。按整秒补充，只有真正补充了令牌才推进 lastRefill，
// 所以不足一秒的零头不会丢失。
func (l *Limiter) Allow(userID string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[userID] = b
	}
	b.lastSeen = now

	elapsed := now.Sub(b.lastRefill).Milliseconds()
	if add := int(elapsed/1000) * l.rate; add > 0 {
		b.tokens = min(l.capacity, b.tokens+add)
		b.lastRefill = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Sweep 删除超过 idle 未使用的桶，返回删除数量。
func (l *Limiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
			n++
		}
	}
	return n
}

// Len 返回当前桶数量。
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RunSweeper 每 interval 清理一次空闲桶，直到 ctx 取消。
func (l *Limiter) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(idle)
		}
	}
}
