package service

import (
	"context"
	"errors"

	"github.com/chintondutta/drawsync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoomService 封装房间与持久成员关系的查询。
type RoomService struct {
	db *gorm.DB
}

func NewRoomService(db *gorm.DB) *RoomService {
	return &RoomService{db: db}
}

// Create 创建房间，并把创建者加入成员。
func (s *RoomService) Create(ctx context.Context, slug, adminID string) (*models.Room, error) {
	room := models.Room{Slug: slug, AdminID: adminID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		return tx.Create(&models.RoomMember{RoomID: room.ID, UserID: adminID}).Error
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// AddMember 幂等地加入成员。
func (s *RoomService) AddMember(ctx context.Context, roomID uint, userID string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.RoomMember{RoomID: roomID, UserID: userID}).Error
}

// Get 查询房间，不存在时返回 ErrRoomNotFound。
func (s *RoomService) Get(ctx context.Context, roomID uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// Memberships 返回用户加入的全部房间，按 id 升序。
func (s *RoomService) Memberships(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Order("rooms.id asc").
		Find(&rooms).Error
	return rooms, err
}

func (s *RoomService) IsMember(ctx context.Context, roomID uint, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}
