package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/chintondutta/drawsync/internal/auth"
	"github.com/chintondutta/drawsync/internal/canvas"
	"github.com/chintondutta/drawsync/internal/chat"
	"github.com/chintondutta/drawsync/internal/models"
	"github.com/chintondutta/drawsync/internal/mw"
	"github.com/chintondutta/drawsync/internal/presence"
	"github.com/chintondutta/drawsync/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Verifier 校验连接携带的 bearer token。
type Verifier interface {
	VerifyBearerToken(ctx context.Context, token string) (string, error)
}

// Directory 提供持久化的成员关系和显示名。
type Directory interface {
	Memberships(ctx context.Context, userID string) ([]models.Room, error)
	DisplayName(ctx context.Context, userID string) (string, error)
}

type Broadcaster interface {
	ToRoom(ctx context.Context, roomID uint, frame any, exclude ...string) error
}

// Deps 是 Hub 依赖的各个组件，均在 main 中构造后注入。
type Deps struct {
	Verifier       Verifier
	Directory      Directory
	Registry       *Registry
	Presence       *presence.Tracker
	Chat           *chat.Service
	Canvas         *canvas.Engine
	Out            Broadcaster
	Limiter        *ratelimit.Limiter
	StoreTimeout   time.Duration
	AllowedOrigins []string
}

// Hub 负责握手、鉴权，并为每条连接运行一个 Session。
type Hub struct {
	Deps
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

func NewHub(d Deps) *Hub {
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = 2 * time.Second
	}
	h := &Hub{Deps: d}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return mw.OriginAllowed(h.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// Serve 是 /ws 的处理函数，阻塞直到连接关闭。
func (h *Hub) Serve(c *gin.Context) {
	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	h.wg.Add(1)
	defer h.wg.Done()

	s := newSession(h, wsConn)
	s.run(c.Request.Context(), auth.TokenFromRequest(c.Request))
}

// Shutdown 关闭本进程所有连接并等待会话清理完成，或直到 ctx 到期。
func (h *Hub) Shutdown(ctx context.Context) error {
	h.Registry.CloseAll()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
