package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chintondutta/drawsync/internal/canvas"
	"github.com/chintondutta/drawsync/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DrawingService 保存每个房间的规范画布快照。
type DrawingService struct {
	db *gorm.DB
}

func NewDrawingService(db *gorm.DB) *DrawingService {
	return &DrawingService{db: db}
}

// LoadDrawing 返回房间的画布元素，没有记录时返回空切片。
func (s *DrawingService) LoadDrawing(ctx context.Context, roomID uint) ([]canvas.Element, error) {
	var row models.RoomDrawing
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []canvas.Element{}, nil
	}
	if err != nil {
		return nil, err
	}
	elements, err := canvas.Decode(row.Data)
	if err != nil {
		return nil, fmt.Errorf("decode drawing for room %d: %w", roomID, err)
	}
	return elements, nil
}

// SaveDrawing 按 room_id upsert 快照。
func (s *DrawingService) SaveDrawing(ctx context.Context, roomID uint, elements []canvas.Element) error {
	if elements == nil {
		elements = []canvas.Element{}
	}
	b, err := json.Marshal(elements)
	if err != nil {
		return err
	}
	row := models.RoomDrawing{RoomID: roomID, Data: string(b)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
}
