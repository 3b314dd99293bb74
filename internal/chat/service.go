// Package chat 负责聊天消息的发送与最近历史的缓存。
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chintondutta/drawsync/internal/metrics"
	"github.com/chintondutta/drawsync/internal/protocol"
	"github.com/chintondutta/drawsync/internal/store"

	"github.com/rs/zerolog/log"
)

// HistoryLimit 是缓存与回放的最大条数。
const HistoryLimit = 50

var ErrNotMember = errors.New("chat: user is not a member of the room")

type Message struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Message  string `json:"message"`
}

// Archive 是聊天记录的持久化存储。RecentChats 按时间倒序返回。
type Archive interface {
	AppendChat(ctx context.Context, roomID uint, userID, text string) error
	RecentChats(ctx context.Context, roomID uint, limit int) ([]Message, error)
}

type Directory interface {
	IsMember(ctx context.Context, roomID uint, userID string) (bool, error)
}

type Names interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

type Broadcaster interface {
	ToRoom(ctx context.Context, roomID uint, frame any, exclude ...string) error
}

type MessageFrame struct {
	Type     string `json:"type"`
	RoomID   uint   `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Message  string `json:"message"`
}

type HistoryFrame struct {
	Type     string    `json:"type"`
	RoomID   uint      `json:"roomId"`
	Messages []Message `json:"messages"`
}

type Service struct {
	store   store.Store
	archive Archive
	dir     Directory
	names   Names
	out     Broadcaster
}

func NewService(st store.Store, archive Archive, dir Directory, names Names, out Broadcaster) *Service {
	return &Service{store: st, archive: archive, dir: dir, names: names, out: out}
}

// Send 持久化一条消息，写入最近历史缓存，并推送给房间内所有在线成员（包括发送者）。
func (s *Service) Send(ctx context.Context, roomID uint, userID, text string) error {
	ok, err := s.dir.IsMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return ErrNotMember
	}
	name, err := s.names.DisplayName(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve display name: %w", err)
	}
	if err := s.archive.AppendChat(ctx, roomID, userID, text); err != nil {
		return fmt.Errorf("persist chat: %w", err)
	}

	msg := Message{UserID: userID, UserName: name, Message: text}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := store.ChatKey(roomID)
	if err := s.store.LPush(ctx, key, string(b)); err != nil {
		return fmt.Errorf("cache chat: %w", err)
	}
	if err := s.store.LTrim(ctx, key, 0, HistoryLimit-1); err != nil {
		return fmt.Errorf("trim chat cache: %w", err)
	}
	if err := s.store.Publish(ctx, key, string(b)); err != nil {
		return fmt.Errorf("publish chat: %w", err)
	}
	metrics.WsMessagesTotal.Inc()

	frame := MessageFrame{Type: protocol.TypeMessage, RoomID: roomID, UserID: userID, UserName: name, Message: text}
	return s.out.ToRoom(ctx, roomID, frame)
}

// History 返回最多 HistoryLimit 条最近消息，最新的在前。缓存为空时从持久化
// 存储加载并回填缓存。
func (s *Service) History(ctx context.Context, roomID uint) ([]Message, error) {
	key := store.ChatKey(roomID)
	raw, err := s.store.LRange(ctx, key, 0, HistoryLimit-1)
	if err != nil {
		return nil, fmt.Errorf("read chat cache: %w", err)
	}
	if len(raw) > 0 {
		out := make([]Message, 0, len(raw))
		for _, item := range raw {
			var m Message
			if err := json.Unmarshal([]byte(item), &m); err != nil {
				log.Warn().Uint("room_id", roomID).Msg("skip corrupt chat cache entry")
				continue
			}
			out = append(out, m)
		}
		return out, nil
	}

	recent, err := s.archive.RecentChats(ctx, roomID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load chats: %w", err)
	}
	if len(recent) > HistoryLimit {
		recent = recent[:HistoryLimit]
	}
	if len(recent) == 0 {
		return []Message{}, nil
	}

	// LPUSH 逐个插到表头，所以从最旧的开始推，缓存仍是最新在前。
	values := make([]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		b, err := json.Marshal(recent[i])
		if err != nil {
			return nil, err
		}
		values = append(values, string(b))
	}
	if err := s.store.LPush(ctx, key, values...); err != nil {
		log.Warn().Err(err).Uint("room_id", roomID).Msg("repopulate chat cache")
		return recent, nil
	}
	if err := s.store.LTrim(ctx, key, 0, HistoryLimit-1); err != nil {
		log.Warn().Err(err).Uint("room_id", roomID).Msg("trim chat cache")
	}
	return recent, nil
}
