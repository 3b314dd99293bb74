// Package protocol 定义 websocket 上的入站与出站帧。
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/chintondutta/drawsync/internal/canvas"
)

// 入站与出站的 type 取值。
const (
	TypeMessage        = "message"
	TypeCanvasDiff     = "canvas-diff"
	TypeCursorUpdate   = "cursor-update"
	TypeJoined         = "joined"
	TypeUserJoined     = "user-joined"
	TypeUserLeft       = "user-left"
	TypeChatHistory    = "chat-history"
	TypeCanvasHistory  = "canvas-History"
	TypeCanvasSync     = "canvas-sync"
	TypePresenceUpdate = "presence-update"
	TypeError          = "error"
)

// 返回给客户端的错误文本。
const (
	MsgTokenExpired     = "Token expired"
	MsgTokenInvalid     = "Invalid token"
	MsgTokenUnknown     = "Unknown token error"
	MsgAuthFailed       = "Authentication failed"
	MsgJoinFailed       = "Failed to join rooms"
	MsgInvalidJSON      = "Invalid JSON"
	MsgRateLimited      = "Rate Limit exceeded. Slow Down."
	MsgInvalidFormat    = "Invalid message format"
	MsgUnauthorizedRoom = "Unauthorized room access."
	MsgNotMember        = "You're not part of this room"
	MsgNoLongerMember   = "You're no longer part of this room"
	MsgInternal         = "Internal server error"
)

var (
	ErrInvalidJSON   = errors.New("protocol: invalid json")
	ErrInvalidFormat = errors.New("protocol: invalid message format")
)

// Frame 是封闭的入站帧集合，只有本包内的类型实现它。
type Frame interface {
	Room() uint
	frame()
}

type ChatFrame struct {
	RoomID uint
	Text   string
}

type CanvasDiffFrame struct {
	RoomID uint
	Diff   canvas.Diff
}

type CursorFrame struct {
	RoomID uint
	X, Y   float64
}

func (f ChatFrame) Room() uint       { return f.RoomID }
func (f CanvasDiffFrame) Room() uint { return f.RoomID }
func (f CursorFrame) Room() uint     { return f.RoomID }

func (ChatFrame) frame()       {}
func (CanvasDiffFrame) frame() {}
func (CursorFrame) frame()     {}

// CheckJSON 只校验 data 是否为 JSON 对象，限流之前调用。
func CheckJSON(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrInvalidJSON
	}
	return fields, nil
}

// Parse 按 type 和必填字段对帧分类。
func Parse(data []byte) (Frame, error) {
	fields, err := CheckJSON(data)
	if err != nil {
		return nil, err
	}
	return Classify(fields)
}

// Classify 对已解析的 JSON 对象分类，缺字段或类型不符时返回 ErrInvalidFormat。
func Classify(fields map[string]json.RawMessage) (Frame, error) {
	var typ string
	if !decode(fields, "type", &typ) {
		return nil, ErrInvalidFormat
	}
	var roomID uint
	if !decode(fields, "roomId", &roomID) || roomID == 0 {
		return nil, ErrInvalidFormat
	}

	switch typ {
	case TypeMessage:
		var text string
		if !decode(fields, "text", &text) {
			return nil, ErrInvalidFormat
		}
		return ChatFrame{RoomID: roomID, Text: text}, nil
	case TypeCanvasDiff:
		var diff canvas.Diff
		if !decode(fields, "diff", &diff) || diff.ID == "" || !diff.Action.Valid() {
			return nil, ErrInvalidFormat
		}
		return CanvasDiffFrame{RoomID: roomID, Diff: diff}, nil
	case TypeCursorUpdate:
		var x, y float64
		if !decode(fields, "x", &x) || !decode(fields, "y", &y) {
			return nil, ErrInvalidFormat
		}
		return CursorFrame{RoomID: roomID, X: x, Y: y}, nil
	}
	return nil, ErrInvalidFormat
}

func decode(fields map[string]json.RawMessage, key string, dst any) bool {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// Notice 用于 joined、user-joined 和 user-left。
type Notice struct {
	Type    string `json:"type"`
	RoomID  uint   `json:"roomId"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Error(msg string) ErrorFrame { return ErrorFrame{Type: TypeError, Message: msg} }
