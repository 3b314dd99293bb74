package store

import (
	"context"
	"sync"
	"time"
)

// Memory 是单进程内的 Store 实现，用于本地开发（STORE_BACKEND=memory）和测试。
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	kv     map[string]memValue
	sets   map[string]map[string]struct{}
	hashes map[string]map[string]string
	lists  map[string][]string
	subs   map[*memSubscription]struct{}
}

type memValue struct {
	value     string
	expiresAt time.Time
}

func NewMemory() *Memory { return NewMemoryWithClock(time.Now) }

// NewMemoryWithClock 允许测试注入时钟以验证过期行为。
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		now:    now,
		kv:     make(map[string]memValue),
		sets:   make(map[string]map[string]struct{}),
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
		subs:   make(map[*memSubscription]struct{}),
	}
}

func (m *Memory) getLocked(key string) (string, bool) {
	v, ok := m.kv[key]
	if !ok {
		return "", false
	}
	if !v.expiresAt.IsZero() && !m.now().Before(v.expiresAt) {
		delete(m.kv, key)
		return "", false
	}
	return v.value, true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.getLocked(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

func (m *Memory) setLocked(key, value string, ttl time.Duration) {
	v := memValue{value: value}
	if ttl > 0 {
		v.expiresAt = m.now().Add(ttl)
	}
	m.kv[key] = v
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.getLocked(key); ok {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.kv, k)
		delete(m.sets, k)
		delete(m.hashes, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *Memory) SAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sets[key]
	if s == nil {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	s[member] = struct{}{}
	return nil
}

func (m *Memory) SRem(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sets[key]
	delete(s, member)
	if len(s) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *Memory) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *Memory) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hashes[key]
	if h == nil {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *Memory) HDel(_ context.Context, key, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hashes[key]
	delete(h, field)
	if len(h) == 0 {
		delete(m.hashes, key)
	}
	return nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	m.lists[key] = list
	return nil
}

func (m *Memory) RPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], values...)
	return nil
}

func (m *Memory) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	lo, hi, ok := listBounds(int64(len(list)), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, list[lo:hi+1])
	return out, nil
}

func (m *Memory) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	lo, hi, ok := listBounds(int64(len(list)), start, stop)
	if !ok {
		delete(m.lists, key)
		return nil
	}
	m.lists[key] = append([]string(nil), list[lo:hi+1]...)
	return nil
}

func (m *Memory) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *Memory) Drain(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	delete(m.lists, key)
	if list == nil {
		return []string{}, nil
	}
	return list, nil
}

func (m *Memory) Publish(_ context.Context, channel, payload string) error {
	m.mu.Lock()
	subs := make([]*memSubscription, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	for _, s := range subs {
		s.deliver(channel, payload)
	}
	return nil
}

func (m *Memory) PSubscribe(_ context.Context, patterns ...string) (Subscription, error) {
	s := &memSubscription{owner: m, patterns: patterns, out: make(chan Message, 1024)}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	return s, nil
}

type memSubscription struct {
	owner    *Memory
	patterns []string
	mu       sync.Mutex
	closed   bool
	out      chan Message
}

func (s *memSubscription) deliver(channel, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, p := range s.patterns {
		if matchPattern(p, channel) {
			select {
			case s.out <- Message{Pattern: p, Channel: channel, Payload: payload}:
			default:
			}
		}
	}
}

func (s *memSubscription) Messages() <-chan Message { return s.out }

func (s *memSubscription) Close() error {
	s.owner.mu.Lock()
	delete(s.owner.subs, s)
	s.owner.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}

// matchPattern 按 Redis PSUBSCRIBE 的规则匹配 * 与 ?，两者都可以匹配 '/'。
// 不支持字符类和转义。
func matchPattern(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '*':
		for i := 0; i <= len(s); i++ {
			if matchPattern(pattern[1:], s[i:]) {
				return true
			}
		}
		return false
	case '?':
		return s != "" && matchPattern(pattern[1:], s[1:])
	}
	return s != "" && s[0] == pattern[0] && matchPattern(pattern[1:], s[1:])
}

// listBounds 按 Redis LRANGE 的语义把（可为负数的）下标换算成闭区间。
func listBounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return 0, 0, false
	}
	return start, stop, true
}
