package canvas

import (
	"context"
	"sync"
	"time"

	"github.com/chintondutta/drawsync/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const flushClaimTTL = 10 * time.Second

type flushState struct {
	dirty bool
}

// Flusher 按房间调度 flush：同一进程内每个房间最多一个 flush 在运行，运行期间
// 到达的触发只会让它再跑一轮；跨进程通过协调存储中的短期认领 key 互斥。
type Flusher struct {
	engine  *Engine
	store   store.Store
	delay   time.Duration
	timeout time.Duration

	mu    sync.Mutex
	rooms map[uint]*flushState
	wg    sync.WaitGroup
}

// NewFlusher 创建调度器。delay 为去抖窗口，timeout 为每轮存储操作的超时。
func NewFlusher(engine *Engine, st store.Store, delay, timeout time.Duration) *Flusher {
	return &Flusher{
		engine:  engine,
		store:   st,
		delay:   delay,
		timeout: timeout,
		rooms:   make(map[uint]*flushState),
	}
}

// Trigger 请求对房间做一次 flush，可重复调用。
func (f *Flusher) Trigger(ctx context.Context, roomID uint) {
	f.mu.Lock()
	if st, ok := f.rooms[roomID]; ok {
		st.dirty = true
		f.mu.Unlock()
		return
	}
	f.rooms[roomID] = &flushState{}
	f.wg.Add(1)
	f.mu.Unlock()

	go f.run(ctx, roomID)
}

// Wait 等待所有进行中的 flush 结束。
func (f *Flusher) Wait() { f.wg.Wait() }

func (f *Flusher) run(ctx context.Context, roomID uint) {
	defer f.wg.Done()
	for {
		if f.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(f.delay):
			}
		}
		again := f.flushClaimed(ctx, roomID)

		f.mu.Lock()
		st := f.rooms[roomID]
		if (st.dirty || again) && ctx.Err() == nil {
			st.dirty = false
			f.mu.Unlock()
			continue
		}
		delete(f.rooms, roomID)
		f.mu.Unlock()
		return
	}
}

// flushClaimed 在持有认领 key 时清空队列，返回释放后队列中是否又有新元素。
func (f *Flusher) flushClaimed(ctx context.Context, roomID uint) bool {
	opCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	token := uuid.NewString()
	claimKey := store.CanvasFlushKey(roomID)
	ok, err := f.store.SetNX(opCtx, claimKey, token, flushClaimTTL)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("claim canvas flush")
		return false
	}
	if !ok {
		// 其他进程正在 flush，它释放认领后会检查队列。
		return false
	}

	failed := false
	for {
		n, err := f.engine.Flush(opCtx, roomID)
		if err != nil {
			log.Error().Err(err).Uint("room_id", roomID).Msg("flush canvas queue")
			failed = true
			break
		}
		if n == 0 {
			break
		}
	}

	if owner, err := f.store.Get(opCtx, claimKey); err == nil && owner == token {
		if err := f.store.Del(opCtx, claimKey); err != nil {
			log.Warn().Err(err).Uint("room_id", roomID).Msg("release canvas flush claim")
		}
	}
	if failed {
		// 失败的元素已放回队列，等下一次触发再试。
		return false
	}
	pending, err := f.engine.Pending(opCtx, roomID)
	return err == nil && pending > 0
}
