package service

import (
	"context"
	"errors"
	"time"

	"github.com/chintondutta/drawsync/internal/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
)

const (
	nameCacheSize = 4096
	nameCacheTTL  = 5 * time.Minute
)

// UserService 封装用户查询，显示名带有短期缓存。
type UserService struct {
	db    *gorm.DB
	names *expirable.LRU[string, string]
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db, names: expirable.NewLRU[string, string](nameCacheSize, nil, nameCacheTTL)}
}

// Create 新建用户，测试和开发命令使用。
func (s *UserService) Create(ctx context.Context, name string) (*models.User, error) {
	user := models.User{Name: name}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Lookup 按 id 查询用户。
func (s *UserService) Lookup(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	s.names.Add(user.ID, user.Name)
	return &user, nil
}

// DisplayName 返回用户的显示名。
func (s *UserService) DisplayName(ctx context.Context, userID string) (string, error) {
	if name, ok := s.names.Get(userID); ok {
		return name, nil
	}
	user, err := s.Lookup(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Name, nil
}

// Exists 供身份校验使用：token 合法但用户已不存在时返回 false。
func (s *UserService) Exists(ctx context.Context, userID string) (bool, error) {
	if _, ok := s.names.Get(userID); ok {
		return true, nil
	}
	_, err := s.Lookup(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}
