package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chintondutta/drawsync/internal/metrics"
	"github.com/chintondutta/drawsync/internal/store"

	"github.com/rs/zerolog/log"
)

const (
	SnapshotTTL = 5 * time.Minute
	// updateToken 只是触发信号，接收方必须重新读取队列。
	updateToken = "update"
)

// ErrNotPresent 表示用户当前不在该房间的在线集合中。
var ErrNotPresent = errors.New("canvas: user not present in room")

// Archive 是画布快照的持久化存储。
type Archive interface {
	LoadDrawing(ctx context.Context, roomID uint) ([]Element, error)
	SaveDrawing(ctx context.Context, roomID uint, elements []Element) error
}

// Broadcaster 把帧投递给房间内所有在线成员。
type Broadcaster interface {
	ToRoom(ctx context.Context, roomID uint, frame any, exclude ...string) error
}

// SyncFrame 携带合并后的完整快照。
type SyncFrame struct {
	Type   string    `json:"type"`
	RoomID uint      `json:"roomId"`
	Data   []Element `json:"data"`
}

// HistoryFrame 是加入房间时下发的画布快照。
type HistoryFrame struct {
	Type       string    `json:"type"`
	RoomID     uint      `json:"roomId"`
	CanvasData []Element `json:"canvasData"`
}

type Engine struct {
	store   store.Store
	archive Archive
	out     Broadcaster
	now     func() time.Time
}

func NewEngine(st store.Store, archive Archive, out Broadcaster) *Engine {
	return &Engine{store: st, archive: archive, out: out, now: time.Now}
}

// SubmitDiff 校验并入队一次画布修改。重复或过期的修改、以及缺字段的创建
// 会被静默丢弃，此时返回 false 和 nil。
func (e *Engine) SubmitDiff(ctx context.Context, roomID uint, userID string, diff Diff) (bool, error) {
	present, err := e.store.SIsMember(ctx, store.RoomUsersKey(roomID), userID)
	if err != nil {
		return false, fmt.Errorf("check presence: %w", err)
	}
	if !present {
		return false, ErrNotPresent
	}

	current, err := e.Snapshot(ctx, roomID)
	if err != nil {
		return false, err
	}
	var existing *Element
	for i := range current {
		if current[i].ID == diff.ID {
			existing = &current[i]
			break
		}
	}

	candidate, ok := Merge(existing, diff.patch(), e.now())
	if !ok {
		return false, nil
	}
	if existing != nil && !Newer(candidate, *existing) {
		return false, nil
	}

	b, err := json.Marshal(candidate)
	if err != nil {
		return false, err
	}
	if err := e.store.RPush(ctx, store.CanvasQueueKey(roomID), string(b)); err != nil {
		return false, fmt.Errorf("enqueue diff: %w", err)
	}
	if err := e.store.Publish(ctx, store.CanvasChannel(roomID), updateToken); err != nil {
		return false, fmt.Errorf("publish canvas trigger: %w", err)
	}
	return true, nil
}

// Snapshot 返回房间当前的画布元素：优先读缓存，未命中时回源持久化存储并回填缓存。
func (e *Engine) Snapshot(ctx context.Context, roomID uint) ([]Element, error) {
	raw, err := e.store.Get(ctx, store.CanvasSnapshotKey(roomID))
	switch {
	case err == nil:
		if elements, err := Decode(raw); err == nil {
			return elements, nil
		}
		log.Warn().Uint("room_id", roomID).Msg("corrupt canvas snapshot cache, reloading")
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("read canvas snapshot: %w", err)
	}

	elements, err := e.archive.LoadDrawing(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load drawing: %w", err)
	}
	if elements == nil {
		elements = []Element{}
	}
	if err := e.cache(ctx, roomID, elements); err != nil {
		log.Warn().Err(err).Uint("room_id", roomID).Msg("cache canvas snapshot")
	}
	return elements, nil
}

// Flush 取出待写入队列并合并进持久化快照，返回处理的候选元素数量。
// 队列为空时不做任何写入。
func (e *Engine) Flush(ctx context.Context, roomID uint) (int, error) {
	queueKey := store.CanvasQueueKey(roomID)
	raw, err := e.store.Drain(ctx, queueKey)
	if err != nil {
		return 0, fmt.Errorf("drain canvas queue: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}

	queued := make([]Element, 0, len(raw))
	for _, item := range raw {
		var el Element
		if err := json.Unmarshal([]byte(item), &el); err != nil || el.ID == "" {
			log.Warn().Uint("room_id", roomID).Str("item", item).Msg("drop unparsable canvas queue item")
			continue
		}
		queued = append(queued, el)
	}

	merged, err := e.persist(ctx, roomID, queued)
	if err != nil {
		// 放回队列，下次 flush 时会按版本重新比较，顺序无关紧要。
		if rerr := e.store.RPush(ctx, queueKey, raw...); rerr != nil {
			log.Error().Err(rerr).Uint("room_id", roomID).Int("items", len(raw)).Msg("requeue canvas items")
		}
		return 0, err
	}

	metrics.CanvasFlushesTotal.Inc()
	metrics.CanvasFlushedElements.Add(float64(len(queued)))

	frame := SyncFrame{Type: "canvas-sync", RoomID: roomID, Data: merged}
	if err := e.out.ToRoom(ctx, roomID, frame); err != nil {
		log.Warn().Err(err).Uint("room_id", roomID).Msg("fan out canvas-sync")
	}
	return len(queued), nil
}

func (e *Engine) persist(ctx context.Context, roomID uint, queued []Element) ([]Element, error) {
	canonical, err := e.archive.LoadDrawing(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load drawing: %w", err)
	}
	merged := Apply(canonical, queued)
	if err := e.archive.SaveDrawing(ctx, roomID, merged); err != nil {
		return nil, fmt.Errorf("save drawing: %w", err)
	}
	if err := e.cache(ctx, roomID, merged); err != nil {
		log.Warn().Err(err).Uint("room_id", roomID).Msg("cache canvas snapshot")
	}
	return merged, nil
}

func (e *Engine) cache(ctx context.Context, roomID uint, elements []Element) error {
	b, err := json.Marshal(elements)
	if err != nil {
		return err
	}
	return e.store.Set(ctx, store.CanvasSnapshotKey(roomID), string(b), SnapshotTTL)
}

// Pending 返回尚未落盘的候选元素数量。
func (e *Engine) Pending(ctx context.Context, roomID uint) (int64, error) {
	return e.store.LLen(ctx, store.CanvasQueueKey(roomID))
}
