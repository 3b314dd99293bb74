// Package fanout 在共享 pub/sub 总线与本进程的连接之间转发事件：发布端按用户
// 生成投递信封，每个进程只把信封写给自己持有的连接。
package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chintondutta/drawsync/internal/store"
)

type Publisher struct {
	store store.Store
}

func NewPublisher(st store.Store) *Publisher { return &Publisher{store: st} }

// ToUsers 把 frame 序列化一次，并向每个用户的 ws:deliver 频道发布。
func (p *Publisher) ToUsers(ctx context.Context, userIDs []string, frame any) error {
	if len(userIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	for _, uid := range userIDs {
		if err := p.store.Publish(ctx, store.DeliverChannel(uid), string(payload)); err != nil {
			return fmt.Errorf("publish to %s: %w", uid, err)
		}
	}
	return nil
}

// ToRoom 向房间在线集合中的每个成员投递 frame，exclude 中的用户除外。
func (p *Publisher) ToRoom(ctx context.Context, roomID uint, frame any, exclude ...string) error {
	members, err := p.store.SMembers(ctx, store.RoomUsersKey(roomID))
	if err != nil {
		return fmt.Errorf("list room members: %w", err)
	}
	recipients := members[:0]
	for _, uid := range members {
		if !contains(exclude, uid) {
			recipients = append(recipients, uid)
		}
	}
	return p.ToUsers(ctx, recipients, frame)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
