package service

import (
	"context"

	"github.com/chintondutta/drawsync/internal/models"
)

// Directory 把房间成员关系与用户显示名合并成连接层需要的一个查询入口。
type Directory struct {
	rooms *RoomService
	users *UserService
}

func NewDirectory(rooms *RoomService, users *UserService) *Directory {
	return &Directory{rooms: rooms, users: users}
}

func (d *Directory) Memberships(ctx context.Context, userID string) ([]models.Room, error) {
	return d.rooms.Memberships(ctx, userID)
}

func (d *Directory) DisplayName(ctx context.Context, userID string) (string, error) {
	return d.users.DisplayName(ctx, userID)
}
