package canvas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

var fixedNow = time.UnixMilli(1_700_000_000_000)

func TestNewer(t *testing.T) {
	tests := []struct {
		name string
		a, b Element
		want bool
	}{
		{"higher version", Element{Version: 2, VersionNonce: 1}, Element{Version: 1, VersionNonce: 99}, true},
		{"lower version", Element{Version: 1, VersionNonce: 99}, Element{Version: 2, VersionNonce: 1}, false},
		{"same version higher nonce", Element{Version: 1, VersionNonce: 10}, Element{Version: 1, VersionNonce: 5}, true},
		{"identical", Element{Version: 1, VersionNonce: 5}, Element{Version: 1, VersionNonce: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Newer(tt.a, tt.b); got != tt.want {
				t.Errorf("Newer() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMerge_Create(t *testing.T) {
	el, ok := Merge(nil, Patch{
		ID: ptr("e1"), Type: ptr(TypeRectangle), X: ptr(10.0),
		Version: ptr(int64(1)), VersionNonce: ptr(int64(10)),
	}, fixedNow)
	require.True(t, ok)
	assert.Equal(t, "e1", el.ID)
	assert.Equal(t, "#000000", el.Color)
	assert.Equal(t, 10.0, el.X)
	assert.Equal(t, fixedNow.UnixMilli(), el.UpdatedAt)
}

func TestMerge_IncompleteCreation(t *testing.T) {
	base := Patch{ID: ptr("e1"), Type: ptr(TypeEllipse), Version: ptr(int64(1)), VersionNonce: ptr(int64(1))}
	missing := []func(p *Patch){
		func(p *Patch) { p.ID = nil },
		func(p *Patch) { p.Type = nil },
		func(p *Patch) { p.Version = nil },
		func(p *Patch) { p.VersionNonce = nil },
		func(p *Patch) { p.Type = ptr(Type("hexagon")) },
	}
	for i, drop := range missing {
		p := base
		drop(&p)
		if _, ok := Merge(nil, p, fixedNow); ok {
			t.Errorf("case %d: Merge() accepted an incomplete creation", i)
		}
	}
}

func TestMerge_OverlayKeepsAbsentFields(t *testing.T) {
	existing := Element{ID: "e1", Type: TypeText, X: 1, Y: 2, Color: "#123", Text: "hi", Version: 1, VersionNonce: 3, UpdatedAt: 5}
	el, ok := Merge(&existing, Patch{Color: ptr("#fff"), Version: ptr(int64(2)), UpdatedAt: ptr(int64(42))}, fixedNow)
	require.True(t, ok)
	assert.Equal(t, "#fff", el.Color)
	assert.Equal(t, "hi", el.Text)
	assert.Equal(t, 1.0, el.X)
	assert.Equal(t, int64(2), el.Version)
	assert.Equal(t, int64(3), el.VersionNonce)
	assert.Equal(t, int64(42), el.UpdatedAt)
	assert.Equal(t, "#123", existing.Color, "existing element must not be mutated")
}

func TestDiffPatch(t *testing.T) {
	p := Diff{ID: "e9", Action: ActionDelete}.patch()
	require.NotNil(t, p.ID)
	assert.Equal(t, "e9", *p.ID)
	require.NotNil(t, p.Deleted)
	assert.True(t, *p.Deleted)

	p = Diff{ID: "e9", Action: ActionUpdate, Data: Patch{ID: ptr("inner")}}.patch()
	assert.Equal(t, "inner", *p.ID)
	assert.False(t, *p.Deleted)
}

func TestApply(t *testing.T) {
	snapshot := []Element{
		{ID: "a", Type: TypeLine, Version: 1},
		{ID: "b", Type: TypeLine, Version: 1},
	}
	queued := []Element{
		{ID: "b", Type: TypeLine, Version: 2, Color: "#f00"},
		{ID: "c", Type: TypeArrow, Version: 1},
		{ID: "a", Type: TypeLine, Version: 2, Deleted: true},
		{ID: "b", Type: TypeLine, Version: 1, VersionNonce: 50, Color: "#stale"},
	}
	got := Apply(snapshot, queued)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "#f00", got[0].Color)
	assert.Equal(t, "c", got[1].ID)
}

func TestApply_DeleteThenRecreate(t *testing.T) {
	got := Apply(
		[]Element{{ID: "a", Version: 1}, {ID: "b", Version: 1}},
		[]Element{{ID: "a", Version: 2, Deleted: true}, {ID: "a", Version: 3}},
	)
	require.Len(t, got, 2)
	ids := []string{got[0].ID, got[1].ID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestApply_NeverNil(t *testing.T) {
	got := Apply(nil, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDecode(t *testing.T) {
	got, err := Decode(`[{"id":"a","type":"line"},{"id":"","type":"line"},{"id":"c"}]`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	_, err = Decode(`{`)
	assert.Error(t, err)
}

func TestApply_TombstoneBeatsOlderCandidate(t *testing.T) {
	snapshot := []Element{{ID: "e1", Type: TypeLine, Version: 1}}
	queued := []Element{
		{ID: "e1", Type: TypeLine, Version: 3, Deleted: true},
		{ID: "e1", Type: TypeLine, Version: 2, Color: "#f00"},
		{ID: "e2", Type: TypeLine, Version: 1, Deleted: true},
	}
	got := Apply(snapshot, queued)
	if len(got) != 0 {
		t.Errorf("Apply() = %v, want empty", got)
	}

	// 更新的版本可以在同一批次里重新创建已删除的元素。
	queued = append(queued, Element{ID: "e1", Type: TypeLine, Version: 4})
	got = Apply(snapshot, queued)
	if len(got) != 1 || got[0].Version != 4 {
		t.Errorf("Apply() = %v, want e1 at version 4", got)
	}
}
