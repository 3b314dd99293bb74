package store

import (
	"fmt"
	"strconv"
	"strings"
)

// 频道与 key 的命名需要与其他语言实现的进程保持一致，不要随意修改。
const (
	PatternDeliver  = "ws:deliver:*"
	PatternCanvas   = "canvas:room:*"
	PatternChat     = "chat:room:*"
	PatternCursor   = "cursor:room:*"
	PatternPresence = "presence:room:*"
)

func RoomUsersKey(roomID uint) string { return fmt.Sprintf("room:%d:users", roomID) }

func PresenceKey(roomID uint) string { return fmt.Sprintf("presence:room:%d", roomID) }

func CursorKey(roomID uint, userID string) string {
	return fmt.Sprintf("cursor:room:%d:user:%s", roomID, userID)
}

func CursorChannel(roomID uint) string { return fmt.Sprintf("cursor:room:%d", roomID) }

func ChatKey(roomID uint) string { return fmt.Sprintf("chat:room:%d", roomID) }

func CanvasQueueKey(roomID uint) string { return fmt.Sprintf("canvas:queue:room:%d", roomID) }

func CanvasChannel(roomID uint) string { return fmt.Sprintf("canvas:room:%d", roomID) }

func CanvasSnapshotKey(roomID uint) string { return fmt.Sprintf("canvas:snapshot:room:%d", roomID) }

func CanvasFlushKey(roomID uint) string { return fmt.Sprintf("canvas:flush:room:%d", roomID) }

func DeliverChannel(userID string) string { return "ws:deliver:" + userID }

// RoomIDFromChannel 解析 "<kind>:room:<id>" 形式频道中的房间 id。
func RoomIDFromChannel(channel string) (uint, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) < 3 || parts[1] != "room" {
		return 0, false
	}
	id, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// UserIDFromDeliverChannel 解析 "ws:deliver:<userId>" 中的用户 id。
func UserIDFromDeliverChannel(channel string) (string, bool) {
	userID, ok := strings.CutPrefix(channel, "ws:deliver:")
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}
