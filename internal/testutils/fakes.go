// Package testutils 提供测试用的内存替身。
package testutils

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chintondutta/drawsync/internal/canvas"
	"github.com/chintondutta/drawsync/internal/chat"
	"github.com/chintondutta/drawsync/internal/models"
)

var ErrInjected = errors.New("testutils: injected failure")

// Directory 是内存中的房间成员关系与显示名。
type Directory struct {
	mu      sync.Mutex
	members map[uint]map[string]bool
	names   map[string]string
}

func NewDirectory() *Directory {
	return &Directory{members: make(map[uint]map[string]bool), names: make(map[string]string)}
}

func (d *Directory) Add(roomID uint, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[roomID] == nil {
		d.members[roomID] = make(map[string]bool)
	}
	d.members[roomID][userID] = true
}

func (d *Directory) Remove(roomID uint, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members[roomID], userID)
}

func (d *Directory) SetName(userID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[userID] = name
}

func (d *Directory) IsMember(_ context.Context, roomID uint, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.members[roomID][userID], nil
}

// Memberships 返回用户所在的房间，slug 为 "room-<id>"。
func (d *Directory) Memberships(_ context.Context, userID string) ([]models.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var rooms []models.Room
	for id, m := range d.members {
		if m[userID] {
			rooms = append(rooms, models.Room{ID: id, Slug: fmt.Sprintf("room-%d", id)})
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

// Exists 只认设置过名字的用户。
func (d *Directory) Exists(_ context.Context, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.names[userID]
	return ok, nil
}

// DisplayName 没有设置名字时返回用户 id。
func (d *Directory) DisplayName(_ context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.names[userID]; ok {
		return n, nil
	}
	return userID, nil
}

// ChatArchive 按房间保存聊天记录，按追加顺序存储。
type ChatArchive struct {
	mu    sync.Mutex
	rooms map[uint][]chat.Message
	Names interface {
		DisplayName(ctx context.Context, userID string) (string, error)
	}
	Fail bool
}

func NewChatArchive() *ChatArchive {
	return &ChatArchive{rooms: make(map[uint][]chat.Message)}
}

func (a *ChatArchive) AppendChat(ctx context.Context, roomID uint, userID, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Fail {
		return ErrInjected
	}
	name := userID
	if a.Names != nil {
		name, _ = a.Names.DisplayName(ctx, userID)
	}
	a.rooms[roomID] = append(a.rooms[roomID], chat.Message{UserID: userID, UserName: name, Message: text})
	return nil
}

func (a *ChatArchive) RecentChats(_ context.Context, roomID uint, limit int) ([]chat.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Fail {
		return nil, ErrInjected
	}
	all := a.rooms[roomID]
	out := make([]chat.Message, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// CanvasArchive 是内存中的画布快照存储。
type CanvasArchive struct {
	mu       sync.Mutex
	rooms    map[uint][]canvas.Element
	saves    int
	FailSave bool
}

func NewCanvasArchive() *CanvasArchive {
	return &CanvasArchive{rooms: make(map[uint][]canvas.Element)}
}

func (a *CanvasArchive) LoadDrawing(_ context.Context, roomID uint) ([]canvas.Element, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]canvas.Element(nil), a.rooms[roomID]...), nil
}

func (a *CanvasArchive) SaveDrawing(_ context.Context, roomID uint, elements []canvas.Element) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailSave {
		return ErrInjected
	}
	a.saves++
	a.rooms[roomID] = append([]canvas.Element(nil), elements...)
	return nil
}

func (a *CanvasArchive) Saves() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}

func (a *CanvasArchive) SetFailSave(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.FailSave = v
}

// Broadcast 是一次 ToRoom 调用的记录。
type Broadcast struct {
	RoomID  uint
	Frame   any
	Exclude []string
}

// Recorder 记录所有 ToRoom 调用，不做投递。
type Recorder struct {
	mu    sync.Mutex
	calls []Broadcast
}

func (r *Recorder) ToRoom(_ context.Context, roomID uint, frame any, exclude ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Broadcast{RoomID: roomID, Frame: frame, Exclude: exclude})
	return nil
}

func (r *Recorder) Calls() []Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Broadcast(nil), r.calls...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
