package chat_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/chintondutta/drawsync/internal/chat"
	"github.com/chintondutta/drawsync/internal/store"
	"github.com/chintondutta/drawsync/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const room = uint(11)

type fixture struct {
	svc     *chat.Service
	store   *store.Memory
	dir     *testutils.Directory
	archive *testutils.ChatArchive
	out     *testutils.Recorder
}

func newFixture() fixture {
	f := fixture{
		store:   store.NewMemory(),
		dir:     testutils.NewDirectory(),
		archive: testutils.NewChatArchive(),
		out:     &testutils.Recorder{},
	}
	f.archive.Names = f.dir
	f.svc = chat.NewService(f.store, f.archive, f.dir, f.dir, f.out)
	return f
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.dir.Add(room, "alice")
	f.dir.SetName("alice", "Alice")

	require.NoError(t, f.svc.Send(ctx, room, "alice", "hello"))

	calls := f.out.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Exclude, "sender receives its own message")
	assert.Equal(t, chat.MessageFrame{Type: "message", RoomID: room, UserID: "alice", UserName: "Alice", Message: "hello"}, calls[0].Frame)

	cached, err := f.store.LRange(ctx, store.ChatKey(room), 0, -1)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.JSONEq(t, `{"userId":"alice","userName":"Alice","message":"hello"}`, cached[0])

	durable, _ := f.archive.RecentChats(ctx, room, 10)
	assert.Len(t, durable, 1)
}

func TestSend_NotMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	err := f.svc.Send(ctx, room, "bob", "hi")
	assert.ErrorIs(t, err, chat.ErrNotMember)
	assert.Empty(t, f.out.Calls())
	n, _ := f.store.LLen(ctx, store.ChatKey(room))
	assert.Zero(t, n)
}

func TestSend_PersistFailureDeliversNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.dir.Add(room, "alice")
	f.archive.Fail = true

	require.Error(t, f.svc.Send(ctx, room, "alice", "hi"))
	assert.Empty(t, f.out.Calls())
}

func TestHistory_CappedNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.dir.Add(room, "alice")

	for i := 0; i < chat.HistoryLimit+10; i++ {
		require.NoError(t, f.svc.Send(ctx, room, "alice", fmt.Sprintf("m%d", i)))
	}
	got, err := f.svc.History(ctx, room)
	require.NoError(t, err)
	require.Len(t, got, chat.HistoryLimit)
	assert.Equal(t, "m59", got[0].Message)
	assert.Equal(t, "m10", got[len(got)-1].Message)
}

func TestHistory_FallsBackToArchiveAndRepopulates(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.archive.AppendChat(ctx, room, "alice", fmt.Sprintf("m%d", i)))
	}

	got, err := f.svc.History(ctx, room)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].Message)

	cached, err := f.store.LRange(ctx, store.ChatKey(room), 0, -1)
	require.NoError(t, err)
	require.Len(t, cached, 3)
	assert.Contains(t, cached[0], `"m2"`)
	assert.Contains(t, cached[2], `"m0"`)

	// 第二次读取命中缓存，结果一致。
	f.archive.Fail = true
	again, err := f.svc.History(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestHistory_Empty(t *testing.T) {
	f := newFixture()
	got, err := f.svc.History(context.Background(), room)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
