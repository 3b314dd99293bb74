package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/chintondutta/drawsync/internal/auth"
	"github.com/chintondutta/drawsync/internal/canvas"
	"github.com/chintondutta/drawsync/internal/chat"
	"github.com/chintondutta/drawsync/internal/metrics"
	"github.com/chintondutta/drawsync/internal/presence"
	"github.com/chintondutta/drawsync/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session 是一条已鉴权连接的生命周期：加入房间、顺序处理入站帧、断开清理。
type Session struct {
	hub    *Hub
	conn   *Conn
	id     SessionID
	userID string
	ctx    context.Context
	log    zerolog.Logger
}

func newSession(h *Hub, wsConn *websocket.Conn) *Session {
	return &Session{hub: h, conn: newConn(wsConn)}
}

func (s *Session) run(ctx context.Context, token string) {
	s.ctx = ctx
	go s.conn.writePump()

	authCtx, cancel := s.op()
	userID, err := s.hub.Verifier.VerifyBearerToken(authCtx, token)
	cancel()
	if err != nil {
		log.Info().Err(err).Msg("websocket authentication failed")
		s.sendError(authMessage(err))
		s.conn.Close()
		return
	}
	s.userID = userID
	s.log = log.With().Str("user_id", userID).Logger()

	// 先注册，之后其他成员发来的投递才能路由到本连接。
	s.id = s.hub.Registry.Register(userID, s.conn)
	s.log = s.log.With().Str("session_id", string(s.id)).Logger()
	defer s.leave()

	s.join()
	s.conn.readLoop(s.handle)
}

// op 返回单次存储操作使用的带超时 context。
func (s *Session) op() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.hub.StoreTimeout)
}

func (s *Session) join() {
	ctx, cancel := s.op()
	defer cancel()

	name := s.displayName(ctx)
	rooms, err := s.hub.Directory.Memberships(ctx, s.userID)
	if err != nil {
		s.log.Error().Err(err).Msg("load memberships")
		s.sendError(protocol.MsgJoinFailed)
		return
	}

	var joined []uint
	for _, room := range rooms {
		if err := s.joinRoom(room.ID, room.Slug, name); err != nil {
			s.log.Error().Err(err).Uint("room_id", room.ID).Msg("join room")
			s.sendError(protocol.MsgJoinFailed)
			break
		}
		joined = append(joined, room.ID)
	}
	for _, roomID := range joined {
		ctx, cancel := s.op()
		if err := s.hub.Presence.PublishPresence(ctx, roomID); err != nil {
			s.log.Warn().Err(err).Uint("room_id", roomID).Msg("publish presence")
		}
		cancel()
	}
}

// displayName 解析当前用户的显示名，失败时为 "Unknown"。
func (s *Session) displayName(ctx context.Context) string {
	name, err := s.hub.Directory.DisplayName(ctx, s.userID)
	if err != nil {
		s.log.Warn().Err(err).Msg("resolve display name")
		return "Unknown"
	}
	return name
}

func (s *Session) joinRoom(roomID uint, slug, name string) error {
	ctx, cancel := s.op()
	defer cancel()

	if err := s.hub.Presence.Join(ctx, roomID, s.userID, name); err != nil {
		return err
	}
	s.hub.Registry.JoinRoom(s.id, roomID)

	s.conn.SendJSON(protocol.Notice{
		Type:    protocol.TypeJoined,
		RoomID:  roomID,
		Message: "You joined room: " + slug,
	})
	notice := protocol.Notice{
		Type:    protocol.TypeUserJoined,
		RoomID:  roomID,
		UserID:  s.userID,
		Message: fmt.Sprintf("User %s joined room: %s", s.userID, slug),
	}
	if err := s.hub.Out.ToRoom(ctx, roomID, notice, s.userID); err != nil {
		return err
	}

	history, err := s.hub.Chat.History(ctx, roomID)
	if err != nil {
		return err
	}
	s.conn.SendJSON(chat.HistoryFrame{Type: protocol.TypeChatHistory, RoomID: roomID, Messages: history})

	snapshot, err := s.hub.Canvas.Snapshot(ctx, roomID)
	if err != nil {
		return err
	}
	s.conn.SendJSON(canvas.HistoryFrame{Type: protocol.TypeCanvasHistory, RoomID: roomID, CanvasData: snapshot})
	return nil
}

// handle 处理一帧：JSON 校验、限流、分类，然后交给唯一的处理函数。
// 所有失败都只回一个错误帧，连接保持打开。
func (s *Session) handle(data []byte) {
	fields, err := protocol.CheckJSON(data)
	if err != nil {
		metrics.WsFramesTotal.WithLabelValues("invalid-json").Inc()
		s.sendError(protocol.MsgInvalidJSON)
		return
	}
	if !s.hub.Limiter.Allow(s.userID) {
		metrics.WsRateLimitedTotal.Inc()
		s.sendError(protocol.MsgRateLimited)
		return
	}
	frame, err := protocol.Classify(fields)
	if err != nil {
		metrics.WsFramesTotal.WithLabelValues("invalid-format").Inc()
		s.sendError(protocol.MsgInvalidFormat)
		return
	}

	ctx, cancel := s.op()
	defer cancel()

	switch f := frame.(type) {
	case protocol.ChatFrame:
		metrics.WsFramesTotal.WithLabelValues(protocol.TypeMessage).Inc()
		err = s.hub.Chat.Send(ctx, f.RoomID, s.userID, f.Text)
	case protocol.CanvasDiffFrame:
		metrics.WsFramesTotal.WithLabelValues(protocol.TypeCanvasDiff).Inc()
		_, err = s.hub.Canvas.SubmitDiff(ctx, f.RoomID, s.userID, f.Diff)
	case protocol.CursorFrame:
		metrics.WsFramesTotal.WithLabelValues(protocol.TypeCursorUpdate).Inc()
		err = s.hub.Presence.TouchCursor(ctx, f.RoomID, s.userID, s.displayName(ctx), f.X, f.Y)
	}
	if err != nil {
		msg := handlerMessage(err)
		if msg == protocol.MsgInternal {
			s.log.Error().Err(err).Uint("room_id", frame.Room()).Msg("handle frame")
		}
		s.sendError(msg)
	}
}

// leave 先注销（立即停止路由），再清理各房间的在线状态。
func (s *Session) leave() {
	rooms := s.hub.Registry.Rooms(s.id)
	current := s.hub.Registry.Unregister(s.id)
	s.conn.Close()
	if !current {
		// 同一用户已有更新的连接，在线状态归它所有。
		return
	}

	base := context.WithoutCancel(s.ctx)
	for _, roomID := range rooms {
		ctx, cancel := context.WithTimeout(base, s.hub.StoreTimeout)
		s.leaveRoom(ctx, roomID)
		cancel()
	}
}

func (s *Session) leaveRoom(ctx context.Context, roomID uint) {
	empty, err := s.hub.Presence.Leave(ctx, roomID, s.userID)
	if err != nil {
		s.log.Error().Err(err).Uint("room_id", roomID).Msg("leave room")
		return
	}
	if empty {
		s.log.Debug().Uint("room_id", roomID).Msg("room empty, cleared ephemeral state")
		return
	}
	notice := protocol.Notice{
		Type:    protocol.TypeUserLeft,
		RoomID:  roomID,
		UserID:  s.userID,
		Message: fmt.Sprintf("User %s has left the room", s.userID),
	}
	if err := s.hub.Out.ToRoom(ctx, roomID, notice); err != nil {
		s.log.Warn().Err(err).Uint("room_id", roomID).Msg("announce leave")
	}
	if err := s.hub.Presence.PublishPresence(ctx, roomID); err != nil {
		s.log.Warn().Err(err).Uint("room_id", roomID).Msg("publish presence")
	}
}

func (s *Session) sendError(msg string) {
	s.conn.SendJSON(protocol.Error(msg))
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return protocol.MsgTokenExpired
	case errors.Is(err, auth.ErrTokenInvalid):
		return protocol.MsgTokenInvalid
	case errors.Is(err, auth.ErrTokenMissing), errors.Is(err, auth.ErrUnknownUser):
		return protocol.MsgAuthFailed
	}
	return protocol.MsgTokenUnknown
}

func handlerMessage(err error) string {
	switch {
	case errors.Is(err, canvas.ErrNotPresent):
		return protocol.MsgUnauthorizedRoom
	case errors.Is(err, presence.ErrNotMember):
		return protocol.MsgNotMember
	case errors.Is(err, chat.ErrNotMember):
		return protocol.MsgNoLongerMember
	}
	return protocol.MsgInternal
}
