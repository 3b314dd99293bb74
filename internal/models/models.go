package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:128;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate 为没有 id 的用户生成 uuid。
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

type Room struct {
	ID        uint   `gorm:"primaryKey"`
	Slug      string `gorm:"uniqueIndex;size:128;not null"`
	AdminID   string `gorm:"size:36;not null"`
	CreatedAt time.Time
}

// RoomMember 是持久化的房间成员关系，只用于授权，不代表在线。
type RoomMember struct {
	ID        uint   `gorm:"primaryKey"`
	RoomID    uint   `gorm:"uniqueIndex:idx_room_member;not null"`
	UserID    string `gorm:"uniqueIndex:idx_room_member;index;size:36;not null"`
	CreatedAt time.Time
}

type Chat struct {
	ID        uint   `gorm:"primaryKey"`
	RoomID    uint   `gorm:"index:idx_chat_room_id;not null"`
	UserID    string `gorm:"index;size:36;not null"`
	Message   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// RoomDrawing 保存房间画布的规范快照，Data 是元素数组的 JSON。
type RoomDrawing struct {
	ID        uint   `gorm:"primaryKey"`
	RoomID    uint   `gorm:"uniqueIndex;not null"`
	Data      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}
