package server

import (
	"net/http"

	"github.com/chintondutta/drawsync/internal/auth"
	"github.com/chintondutta/drawsync/internal/config"
	"github.com/chintondutta/drawsync/internal/metrics"
	"github.com/chintondutta/drawsync/internal/mw"
	"github.com/chintondutta/drawsync/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 统一初始化 Gin 中间件、只读 REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, h *Handler, hub *ws.Hub, verifier *auth.Verifier, rl *mw.RL) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 握手与 REST 接口按 IP+路由限速。
	limited := r.Group("")
	limited.Use(rl.Middleware())
	limited.GET("/ws", hub.Serve)

	api := limited.Group("/api/v1")
	api.Use(auth.AuthMiddleware(verifier))
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:id/presence", h.Presence)
	api.GET("/rooms/:id/canvas", h.Canvas)
	api.GET("/rooms/:id/messages", h.Messages)
	return r
}
