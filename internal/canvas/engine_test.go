package canvas_test

import (
	"context"
	"testing"
	"time"

	"github.com/chintondutta/drawsync/internal/canvas"
	"github.com/chintondutta/drawsync/internal/store"
	"github.com/chintondutta/drawsync/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const room = uint(7)

type fixture struct {
	store   *store.Memory
	archive *testutils.CanvasArchive
	out     *testutils.Recorder
	engine  *canvas.Engine
}

func newFixture(t *testing.T, present ...string) fixture {
	t.Helper()
	f := fixture{
		store:   store.NewMemory(),
		archive: testutils.NewCanvasArchive(),
		out:     &testutils.Recorder{},
	}
	f.engine = canvas.NewEngine(f.store, f.archive, f.out)
	for _, uid := range present {
		require.NoError(t, f.store.SAdd(context.Background(), store.RoomUsersKey(room), uid))
	}
	return f
}

func ptr[T any](v T) *T { return &v }

func addDiff(id string, version, nonce int64) canvas.Diff {
	return canvas.Diff{ID: id, Action: canvas.ActionAdd, Data: canvas.Patch{
		ID: ptr(id), Type: ptr(canvas.TypeRectangle), X: ptr(10.0), Y: ptr(20.0),
		Version: ptr(version), VersionNonce: ptr(nonce),
	}}
}

func updateDiff(id string, version, nonce int64, color string) canvas.Diff {
	return canvas.Diff{ID: id, Action: canvas.ActionUpdate, Data: canvas.Patch{
		Color: ptr(color), Version: ptr(version), VersionNonce: ptr(nonce),
	}}
}

func TestEngine_ConflictScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	ok, err := f.engine.SubmitDiff(ctx, room, "alice", addDiff("e1", 1, 10))
	require.NoError(t, err)
	require.True(t, ok)
	n, err := f.engine.Flush(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 同版本更小 nonce：静默丢弃。
	ok, err = f.engine.SubmitDiff(ctx, room, "alice", updateDiff("e1", 1, 5, "#f00"))
	require.NoError(t, err)
	assert.False(t, ok)
	pending, _ := f.engine.Pending(ctx, room)
	assert.Zero(t, pending)

	ok, err = f.engine.SubmitDiff(ctx, room, "alice", updateDiff("e1", 2, 1, "#fff"))
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.engine.Flush(ctx, room)
	require.NoError(t, err)

	saved, _ := f.archive.LoadDrawing(ctx, room)
	require.Len(t, saved, 1)
	assert.Equal(t, "#fff", saved[0].Color)
	assert.Equal(t, int64(2), saved[0].Version)
	assert.Equal(t, 10.0, saved[0].X)

	calls := f.out.Calls()
	require.Len(t, calls, 2)
	sync, ok := calls[1].Frame.(canvas.SyncFrame)
	require.True(t, ok)
	assert.Equal(t, "canvas-sync", sync.Type)
	assert.Equal(t, saved, sync.Data)
}

func TestEngine_SubmitRequiresPresence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	_, err := f.engine.SubmitDiff(ctx, room, "mallory", addDiff("e1", 1, 1))
	assert.ErrorIs(t, err, canvas.ErrNotPresent)
	pending, _ := f.engine.Pending(ctx, room)
	assert.Zero(t, pending)
}

func TestEngine_IncompleteCreationDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	d := addDiff("e1", 1, 1)
	d.Data.VersionNonce = nil
	ok, err := f.engine.SubmitDiff(ctx, room, "alice", d)
	require.NoError(t, err)
	assert.False(t, ok)
	pending, _ := f.engine.Pending(ctx, room)
	assert.Zero(t, pending)
}

func TestEngine_SubmitPublishesTrigger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")
	sub, err := f.store.PSubscribe(ctx, store.PatternCanvas)
	require.NoError(t, err)
	defer sub.Close()

	_, err = f.engine.SubmitDiff(ctx, room, "alice", addDiff("e1", 1, 1))
	require.NoError(t, err)
	select {
	case m := <-sub.Messages():
		assert.Equal(t, store.CanvasChannel(room), m.Channel)
	case <-time.After(time.Second):
		t.Fatal("no canvas trigger published")
	}
}

func TestEngine_FlushEmptyQueueIsNoop(t *testing.T) {
	f := newFixture(t)
	n, err := f.engine.Flush(context.Background(), room)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.archive.Saves())
	assert.Empty(t, f.out.Calls())
}

func TestEngine_FlushRechecksOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	// 两个候选都基于同一个旧快照入队，后入队的较旧。
	require.NoError(t, f.store.RPush(ctx, store.CanvasQueueKey(room),
		`{"id":"e1","type":"line","version":3,"versionNonce":1,"color":"#new"}`,
		`{"id":"e1","type":"line","version":2,"versionNonce":9,"color":"#old"}`,
		`not json`,
	))
	n, err := f.engine.Flush(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	saved, _ := f.archive.LoadDrawing(ctx, room)
	require.Len(t, saved, 1)
	assert.Equal(t, "#new", saved[0].Color)
}

func TestEngine_DeleteRemovesElement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	_, err := f.engine.SubmitDiff(ctx, room, "alice", addDiff("e1", 1, 1))
	require.NoError(t, err)
	_, err = f.engine.SubmitDiff(ctx, room, "alice", addDiff("e2", 1, 1))
	require.NoError(t, err)
	_, err = f.engine.Flush(ctx, room)
	require.NoError(t, err)

	del := canvas.Diff{ID: "e1", Action: canvas.ActionDelete, Data: canvas.Patch{Version: ptr(int64(2))}}
	ok, err := f.engine.SubmitDiff(ctx, room, "alice", del)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.engine.Flush(ctx, room)
	require.NoError(t, err)

	snap, err := f.engine.Snapshot(ctx, room)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "e2", snap[0].ID)
}

func TestEngine_DeleteNotUndoneByOlderUpdateInSameBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")

	_, err := f.engine.SubmitDiff(ctx, room, "alice", addDiff("e1", 1, 1))
	require.NoError(t, err)
	_, err = f.engine.Flush(ctx, room)
	require.NoError(t, err)

	// 两个修改都对照同一个快照校验，较新的删除先入队。
	del := canvas.Diff{ID: "e1", Action: canvas.ActionDelete, Data: canvas.Patch{Version: ptr(int64(3))}}
	ok, err := f.engine.SubmitDiff(ctx, room, "alice", del)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.engine.SubmitDiff(ctx, room, "alice", updateDiff("e1", 2, 1, "#f00"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.engine.Flush(ctx, room)
	require.NoError(t, err)

	snap, err := f.engine.Snapshot(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, snap)
	saved, _ := f.archive.LoadDrawing(ctx, room)
	assert.Empty(t, saved)
}

func TestEngine_FlushFailureRequeues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")
	_, err := f.engine.SubmitDiff(ctx, room, "alice", addDiff("e1", 1, 1))
	require.NoError(t, err)

	f.archive.SetFailSave(true)
	_, err = f.engine.Flush(ctx, room)
	require.Error(t, err)
	pending, _ := f.engine.Pending(ctx, room)
	assert.Equal(t, int64(1), pending)

	f.archive.SetFailSave(false)
	n, err := f.engine.Flush(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEngine_SnapshotFallsBackToArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.archive.SaveDrawing(ctx, room, []canvas.Element{{ID: "x", Type: canvas.TypeText, Version: 4}}))

	snap, err := f.engine.Snapshot(ctx, room)
	require.NoError(t, err)
	require.Len(t, snap, 1)

	cached, err := f.store.Get(ctx, store.CanvasSnapshotKey(room))
	require.NoError(t, err)
	assert.Contains(t, cached, `"id":"x"`)

	require.NoError(t, f.store.Set(ctx, store.CanvasSnapshotKey(room), "garbage", time.Minute))
	snap, err = f.engine.Snapshot(ctx, room)
	require.NoError(t, err)
	assert.Len(t, snap, 1)
}

func TestFlusher_DrainsQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")
	fl := canvas.NewFlusher(f.engine, f.store, 0, time.Second)

	for i := int64(1); i <= 3; i++ {
		_, err := f.engine.SubmitDiff(ctx, room, "alice", addDiff("e"+string(rune('0'+i)), 1, i))
		require.NoError(t, err)
		fl.Trigger(ctx, room)
	}
	fl.Wait()

	saved, _ := f.archive.LoadDrawing(ctx, room)
	assert.Len(t, saved, 3)
	_, err := f.store.Get(ctx, store.CanvasFlushKey(room))
	assert.ErrorIs(t, err, store.ErrNotFound, "claim must be released")
}

func TestFlusher_RespectsForeignClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "alice")
	fl := canvas.NewFlusher(f.engine, f.store, 0, time.Second)

	ok, err := f.store.SetNX(ctx, store.CanvasFlushKey(room), "other-process", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.engine.SubmitDiff(ctx, room, "alice", addDiff("e1", 1, 1))
	require.NoError(t, err)
	fl.Trigger(ctx, room)
	fl.Wait()

	assert.Zero(t, f.archive.Saves())
	pending, _ := f.engine.Pending(ctx, room)
	assert.Equal(t, int64(1), pending)
}
