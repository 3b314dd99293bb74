// Package presence 维护房间的在线集合、在线条目与光标。
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/chintondutta/drawsync/internal/protocol"
	"github.com/chintondutta/drawsync/internal/store"
)

const CursorTTL = 60 * time.Second

// ErrNotMember 表示用户不是房间的持久成员。
var ErrNotMember = errors.New("presence: user is not a member of the room")

// Directory 查询持久化的房间成员关系。
type Directory interface {
	IsMember(ctx context.Context, roomID uint, userID string) (bool, error)
}

// Broadcaster 把帧投递给房间内的在线成员。
type Broadcaster interface {
	ToRoom(ctx context.Context, roomID uint, frame any, exclude ...string) error
}

// Entry 是在线哈希中一个用户的条目，LastActive 为毫秒时间戳。
type Entry struct {
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	LastActive int64  `json:"lastActive"`
}

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type PresenceFrame struct {
	Type   string  `json:"type"`
	RoomID uint    `json:"roomId"`
	Users  []Entry `json:"users"`
}

type CursorFrame struct {
	Type   string  `json:"type"`
	RoomID uint    `json:"roomId"`
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type cursorEvent struct {
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type Tracker struct {
	store store.Store
	dir   Directory
	out   Broadcaster
	now   func() time.Time
}

func NewTracker(st store.Store, dir Directory, out Broadcaster) *Tracker {
	return &Tracker{store: st, dir: dir, out: out, now: time.Now}
}

// Join 把用户加入在线集合并写入在线条目。
func (t *Tracker) Join(ctx context.Context, roomID uint, userID, displayName string) error {
	if err := t.store.SAdd(ctx, store.RoomUsersKey(roomID), userID); err != nil {
		return fmt.Errorf("add presence member: %w", err)
	}
	return t.put(ctx, roomID, Entry{UserID: userID, UserName: displayName, LastActive: t.now().UnixMilli()})
}

// Leave 移除用户的在线状态与光标。房间因此变空时清理房间的全部临时状态
// （待写入的画布队列除外），并返回 true。
func (t *Tracker) Leave(ctx context.Context, roomID uint, userID string) (bool, error) {
	if err := t.store.SRem(ctx, store.RoomUsersKey(roomID), userID); err != nil {
		return false, fmt.Errorf("remove presence member: %w", err)
	}
	if err := t.store.HDel(ctx, store.PresenceKey(roomID), userID); err != nil {
		return false, fmt.Errorf("remove presence entry: %w", err)
	}
	if err := t.store.Del(ctx, store.CursorKey(roomID, userID)); err != nil {
		return false, fmt.Errorf("remove cursor: %w", err)
	}

	remaining, err := t.Members(ctx, roomID)
	if err != nil {
		return false, err
	}
	if len(remaining) > 0 {
		return false, nil
	}
	err = t.store.Del(ctx,
		store.RoomUsersKey(roomID),
		store.PresenceKey(roomID),
		store.ChatKey(roomID),
		store.CanvasSnapshotKey(roomID),
	)
	if err != nil {
		return true, fmt.Errorf("clear room state: %w", err)
	}
	return true, nil
}

func (t *Tracker) Members(ctx context.Context, roomID uint) ([]string, error) {
	members, err := t.store.SMembers(ctx, store.RoomUsersKey(roomID))
	if err != nil {
		return nil, fmt.Errorf("list presence members: %w", err)
	}
	return members, nil
}

// TouchPresence 以最后写入为准更新在线条目，并广播完整的在线列表。
func (t *Tracker) TouchPresence(ctx context.Context, roomID uint, userID, displayName string) error {
	if err := t.requireMember(ctx, roomID, userID); err != nil {
		return err
	}
	if err := t.put(ctx, roomID, Entry{UserID: userID, UserName: displayName, LastActive: t.now().UnixMilli()}); err != nil {
		return err
	}
	return t.PublishPresence(ctx, roomID)
}

// TouchCursor 用最新的显示名刷新在线条目（不广播在线列表），记录光标位置
// （60 秒过期），并推送给房间内除自己以外的在线成员。
func (t *Tracker) TouchCursor(ctx context.Context, roomID uint, userID, displayName string, x, y float64) error {
	if err := t.requireMember(ctx, roomID, userID); err != nil {
		return err
	}
	if err := t.put(ctx, roomID, Entry{UserID: userID, UserName: displayName, LastActive: t.now().UnixMilli()}); err != nil {
		return err
	}

	pos, _ := json.Marshal(Cursor{X: x, Y: y})
	if err := t.store.Set(ctx, store.CursorKey(roomID, userID), string(pos), CursorTTL); err != nil {
		return fmt.Errorf("store cursor: %w", err)
	}
	ev, _ := json.Marshal(cursorEvent{UserID: userID, X: x, Y: y})
	if err := t.store.Publish(ctx, store.CursorChannel(roomID), string(ev)); err != nil {
		return fmt.Errorf("publish cursor: %w", err)
	}
	frame := CursorFrame{Type: protocol.TypeCursorUpdate, RoomID: roomID, UserID: userID, X: x, Y: y}
	return t.out.ToRoom(ctx, roomID, frame, userID)
}

// PublishPresence 在 presence 频道上发布房间 id，并向所有在线成员推送完整列表。
func (t *Tracker) PublishPresence(ctx context.Context, roomID uint) error {
	if err := t.store.Publish(ctx, store.PresenceKey(roomID), strconv.FormatUint(uint64(roomID), 10)); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	users, err := t.List(ctx, roomID)
	if err != nil {
		return err
	}
	return t.out.ToRoom(ctx, roomID, PresenceFrame{Type: protocol.TypePresenceUpdate, RoomID: roomID, Users: users})
}

// List 返回按用户 id 排序的在线条目，解析失败的条目被跳过。
func (t *Tracker) List(ctx context.Context, roomID uint) ([]Entry, error) {
	all, err := t.store.HGetAll(ctx, store.PresenceKey(roomID))
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}
	users := make([]Entry, 0, len(all))
	for uid, raw := range all {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		e.UserID = uid
		users = append(users, e)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

// Cursors 返回给定用户中仍有有效光标的位置。
func (t *Tracker) Cursors(ctx context.Context, roomID uint, userIDs []string) (map[string]Cursor, error) {
	out := make(map[string]Cursor, len(userIDs))
	for _, uid := range userIDs {
		raw, err := t.store.Get(ctx, store.CursorKey(roomID, uid))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read cursor: %w", err)
		}
		var c Cursor
		if json.Unmarshal([]byte(raw), &c) == nil {
			out[uid] = c
		}
	}
	return out, nil
}

func (t *Tracker) requireMember(ctx context.Context, roomID uint, userID string) error {
	ok, err := t.dir.IsMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func (t *Tracker) put(ctx context.Context, roomID uint, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := t.store.HSet(ctx, store.PresenceKey(roomID), e.UserID, string(b)); err != nil {
		return fmt.Errorf("write presence entry: %w", err)
	}
	return nil
}
