package ws

import (
	"sync"

	"github.com/chintondutta/drawsync/internal/fanout"
	"github.com/chintondutta/drawsync/internal/metrics"

	"github.com/google/uuid"
)

type SessionID string

type entry struct {
	userID string
	conn   *Conn
	rooms  []uint
}

// Registry 记录本进程持有的连接：每个用户最多一条被路由的连接，后注册的替换先注册的。
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*entry
	current  map[string]SessionID
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[SessionID]*entry), current: make(map[string]SessionID)}
}

func (r *Registry) Register(userID string, conn *Conn) SessionID {
	id := SessionID(uuid.NewString())
	r.mu.Lock()
	r.sessions[id] = &entry{userID: userID, conn: conn}
	r.current[userID] = id
	r.mu.Unlock()
	metrics.WsConnections.Inc()
	return id
}

// Unregister 移除会话，返回它是否仍是该用户当前被路由的会话。
func (r *Registry) Unregister(id SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	metrics.WsConnections.Dec()
	if r.current[e.userID] != id {
		return false
	}
	delete(r.current, e.userID)
	return true
}

func (r *Registry) Lookup(userID string) (fanout.Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.current[userID]
	if !ok {
		return nil, false
	}
	return r.sessions[id].conn, true
}

func (r *Registry) JoinRoom(id SessionID, roomID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.rooms = append(e.rooms, roomID)
	}
}

func (r *Registry) Rooms(id SessionID) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return append([]uint(nil), e.rooms...)
	}
	return nil
}

// Len 返回本进程的会话数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll 关闭所有连接，停服时使用。
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.sessions {
		e.conn.Close()
	}
}
