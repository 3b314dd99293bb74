package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/chintondutta/drawsync/internal/auth"
	"github.com/chintondutta/drawsync/internal/canvas"
	"github.com/chintondutta/drawsync/internal/chat"
	"github.com/chintondutta/drawsync/internal/models"
	"github.com/chintondutta/drawsync/internal/presence"
	"github.com/chintondutta/drawsync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Rooms 是 handler 需要的房间查询。
type Rooms interface {
	Get(ctx context.Context, roomID uint) (*models.Room, error)
	IsMember(ctx context.Context, roomID uint, userID string) (bool, error)
	Memberships(ctx context.Context, userID string) ([]models.Room, error)
}

// Handler 提供只读的房间状态接口，数据来自协调存储中的实时状态。
type Handler struct {
	rooms    Rooms
	presence *presence.Tracker
	canvas   *canvas.Engine
	chat     *chat.Service
	timeout  time.Duration
}

func NewHandler(rooms Rooms, tracker *presence.Tracker, engine *canvas.Engine, chatSvc *chat.Service, timeout time.Duration) *Handler {
	return &Handler{rooms: rooms, presence: tracker, canvas: engine, chat: chatSvc, timeout: timeout}
}

// roomFor 解析路径中的房间 id 并确认调用者是成员，失败时已写出响应。
func (h *Handler) roomFor(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return 0, false
	}
	roomID := uint(id)
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if _, err := h.rooms.Get(ctx, roomID); err != nil {
		if errors.Is(err, service.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return 0, false
		}
		log.Error().Err(err).Uint("room_id", roomID).Msg("get room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return 0, false
	}
	userID := auth.GetUserID(c)
	ok, err := h.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Str("user_id", userID).Msg("check membership")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return 0, false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
		return 0, false
	}
	return roomID, true
}

// ListRooms 返回调用者加入的房间。
func (h *Handler) ListRooms(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	rooms, err := h.rooms.Memberships(ctx, auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	out := make([]gin.H, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, gin.H{"id": r.ID, "slug": r.Slug, "adminId": r.AdminID})
	}
	c.JSON(http.StatusOK, out)
}

// Presence 返回房间的在线列表与有效光标。
func (h *Handler) Presence(c *gin.Context) {
	roomID, ok := h.roomFor(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	users, err := h.presence.List(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("list presence")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.UserID)
	}
	cursors, err := h.presence.Cursors(ctx, roomID, ids)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("list cursors")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "users": users, "cursors": cursors})
}

// Canvas 返回房间当前的画布快照，以及尚未落盘的修改数量。
func (h *Handler) Canvas(c *gin.Context) {
	roomID, ok := h.roomFor(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	elements, err := h.canvas.Snapshot(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("load canvas")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load canvas"})
		return
	}
	pending, err := h.canvas.Pending(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Uint("room_id", roomID).Msg("count pending canvas diffs")
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "elements": elements, "pending": pending})
}

// Messages 返回房间最近的聊天记录，最新的在前。
func (h *Handler) Messages(c *gin.Context) {
	roomID, ok := h.roomFor(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	msgs, err := h.chat.History(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "messages": msgs})
}
