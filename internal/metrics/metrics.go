package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drawsync_ws_connections",
		Help: "Current number of websocket connections hosted by this process",
	})
	WsFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drawsync_ws_frames_total",
		Help: "Inbound websocket frames by classified type",
	}, []string{"type"})
	WsRateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drawsync_ws_rate_limited_total",
		Help: "Inbound frames rejected by the per-user rate limiter",
	})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drawsync_chat_messages_total",
		Help: "Total number of chat messages sent",
	})
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drawsync_fanout_deliveries_total",
		Help: "Per-user envelopes handled by the local router, by result",
	}, []string{"result"})
	RoomEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drawsync_room_events_total",
		Help: "Room-scoped pub/sub events observed by this process",
	}, []string{"kind"})
	CanvasFlushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drawsync_canvas_flushes_total",
		Help: "Canvas queue flushes that wrote a snapshot",
	})
	CanvasFlushedElements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drawsync_canvas_flushed_elements_total",
		Help: "Canvas elements merged by flushes",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsFramesTotal, WsRateLimitedTotal, WsMessagesTotal,
		DeliveriesTotal, RoomEventsTotal, CanvasFlushesTotal, CanvasFlushedElements,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
