package service

import (
	"context"

	"github.com/chintondutta/drawsync/internal/chat"
	"github.com/chintondutta/drawsync/internal/models"

	"gorm.io/gorm"
)

// MessageService 是聊天记录的持久化存储。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

func (s *MessageService) AppendChat(ctx context.Context, roomID uint, userID, text string) error {
	return s.db.WithContext(ctx).Create(&models.Chat{RoomID: roomID, UserID: userID, Message: text}).Error
}

// RecentChats 返回房间最近的 limit 条消息，最新的在前。
func (s *MessageService) RecentChats(ctx context.Context, roomID uint, limit int) ([]chat.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = chat.HistoryLimit
	}
	var rows []models.Chat
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	names, err := s.resolveNames(ctx, rows)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, chat.Message{UserID: r.UserID, UserName: names[r.UserID], Message: r.Message})
	}
	return out, nil
}

// resolveNames 批量获取消息涉及的用户名。
func (s *MessageService) resolveNames(ctx context.Context, rows []models.Chat) (map[string]string, error) {
	seen := make(map[string]struct{}, len(rows))
	userIDs := make([]string, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.UserID]; ok {
			continue
		}
		seen[r.UserID] = struct{}{}
		userIDs = append(userIDs, r.UserID)
	}

	names := make(map[string]string, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.WithContext(ctx).Select("id", "name").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			names[u.ID] = u.Name
		}
	}
	return names, nil
}
