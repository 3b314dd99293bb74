package fanout

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chintondutta/drawsync/internal/metrics"
	"github.com/chintondutta/drawsync/internal/store"

	"github.com/rs/zerolog/log"
)

// Sender 是本进程持有的一条连接。
type Sender interface {
	Send(payload []byte) bool
}

// Registry 按用户查找本进程内的连接。
type Registry interface {
	Lookup(userID string) (Sender, bool)
}

// FlushTrigger 接收画布更新信号。
type FlushTrigger interface {
	Trigger(ctx context.Context, roomID uint)
}

// Router 每个进程一个，订阅投递信封与房间频道。
type Router struct {
	store    store.Store
	registry Registry
	flusher  FlushTrigger
	backoff  time.Duration

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRouter(st store.Store, registry Registry, flusher FlushTrigger) *Router {
	return &Router{
		store:    st,
		registry: registry,
		flusher:  flusher,
		backoff:  time.Second,
		ready:    make(chan struct{}),
	}
}

// Ready 在第一次订阅成功后关闭。
func (r *Router) Ready() <-chan struct{} { return r.ready }

// Run 阻塞直到 ctx 取消；订阅断开时按退避时间重新订阅。
func (r *Router) Run(ctx context.Context) error {
	for {
		sub, err := r.store.PSubscribe(ctx,
			store.PatternDeliver, store.PatternCanvas, store.PatternChat,
			store.PatternCursor, store.PatternPresence,
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("fanout subscribe")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.backoff):
				continue
			}
		}
		r.readyOnce.Do(func() { close(r.ready) })
		r.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Msg("fanout subscription closed, resubscribing")
	}
}

func (r *Router) consume(ctx context.Context, sub store.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Messages():
			if !ok {
				return
			}
			r.Handle(ctx, m)
		}
	}
}

// Handle 处理一条订阅消息。
func (r *Router) Handle(ctx context.Context, m store.Message) {
	switch m.Pattern {
	case store.PatternDeliver:
		r.deliver(m)
	case store.PatternCanvas:
		roomID, ok := store.RoomIDFromChannel(m.Channel)
		if !ok {
			return
		}
		metrics.RoomEventsTotal.WithLabelValues("canvas").Inc()
		r.flusher.Trigger(ctx, roomID)
	case store.PatternChat, store.PatternCursor, store.PatternPresence:
		// 收件人已经由发布端按用户信封寻址，这里只做统计。
		kind, _, _ := strings.Cut(m.Channel, ":")
		metrics.RoomEventsTotal.WithLabelValues(kind).Inc()
	}
}

func (r *Router) deliver(m store.Message) {
	userID, ok := store.UserIDFromDeliverChannel(m.Channel)
	if !ok {
		return
	}
	conn, ok := r.registry.Lookup(userID)
	if !ok {
		metrics.DeliveriesTotal.WithLabelValues("absent").Inc()
		return
	}
	if !conn.Send([]byte(m.Payload)) {
		metrics.DeliveriesTotal.WithLabelValues("dropped").Inc()
		return
	}
	metrics.DeliveriesTotal.WithLabelValues("delivered").Inc()
}
