// Package canvas 实现画布元素的冲突合并、待写入队列与批量落盘。
package canvas

import (
	"encoding/json"
	"time"
)

type Type string

const (
	TypeRectangle Type = "rectangle"
	TypeEllipse   Type = "ellipse"
	TypeText      Type = "text"
	TypeArrow     Type = "arrow"
	TypeLine      Type = "line"
)

func (t Type) Valid() bool {
	switch t {
	case TypeRectangle, TypeEllipse, TypeText, TypeArrow, TypeLine:
		return true
	}
	return false
}

type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	return a == ActionAdd || a == ActionUpdate || a == ActionDelete
}

// Element 是画布上的一个图形。同一 id 以 (Version, VersionNonce) 更大者为准。
type Element struct {
	ID           string  `json:"id"`
	Type         Type    `json:"type"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	Color        string  `json:"color"`
	Angle        float64 `json:"angle"`
	Text         string  `json:"text,omitempty"`
	Seed         int64   `json:"seed"`
	Version      int64   `json:"version"`
	VersionNonce int64   `json:"versionNonce"`
	UpdatedAt    int64   `json:"updatedAt"`
	Deleted      bool    `json:"deleted,omitempty"`
}

// Patch 是客户端发来的部分字段，nil 表示该字段未出现。
type Patch struct {
	ID           *string  `json:"id,omitempty"`
	Type         *Type    `json:"type,omitempty"`
	X            *float64 `json:"x,omitempty"`
	Y            *float64 `json:"y,omitempty"`
	Width        *float64 `json:"width,omitempty"`
	Height       *float64 `json:"height,omitempty"`
	Color        *string  `json:"color,omitempty"`
	Angle        *float64 `json:"angle,omitempty"`
	Text         *string  `json:"text,omitempty"`
	Seed         *int64   `json:"seed,omitempty"`
	Version      *int64   `json:"version,omitempty"`
	VersionNonce *int64   `json:"versionNonce,omitempty"`
	UpdatedAt    *int64   `json:"updatedAt,omitempty"`
	Deleted      *bool    `json:"deleted,omitempty"`
}

// Diff 是 canvas-diff 帧中的 diff 字段。
type Diff struct {
	ID     string `json:"id"`
	Action Action `json:"action"`
	Data   Patch  `json:"data"`
}

// patch 返回合并用的补丁：补齐 id，并按 action 设置删除标记。
func (d Diff) patch() Patch {
	p := d.Data
	if (p.ID == nil || *p.ID == "") && d.ID != "" {
		id := d.ID
		p.ID = &id
	}
	deleted := d.Action == ActionDelete
	p.Deleted = &deleted
	return p
}

// Newer 判断 a 是否严格优先于 b。
func Newer(a, b Element) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return a.VersionNonce > b.VersionNonce
}

// Merge 把补丁叠加到已有元素上得到候选元素。没有已有元素时，补丁至少要带
// id、合法的 type、version、versionNonce，否则返回 false。
func Merge(existing *Element, p Patch, now time.Time) (Element, bool) {
	if p.Type != nil && !p.Type.Valid() {
		return Element{}, false
	}
	var el Element
	if existing == nil {
		if p.ID == nil || *p.ID == "" || p.Type == nil || p.Version == nil || p.VersionNonce == nil {
			return Element{}, false
		}
		el = Element{ID: *p.ID, Color: "#000000"}
	} else {
		el = *existing
	}

	if p.Type != nil {
		el.Type = *p.Type
	}
	if p.X != nil {
		el.X = *p.X
	}
	if p.Y != nil {
		el.Y = *p.Y
	}
	if p.Width != nil {
		el.Width = *p.Width
	}
	if p.Height != nil {
		el.Height = *p.Height
	}
	if p.Color != nil {
		el.Color = *p.Color
	}
	if p.Angle != nil {
		el.Angle = *p.Angle
	}
	if p.Text != nil {
		el.Text = *p.Text
	}
	if p.Seed != nil {
		el.Seed = *p.Seed
	}
	if p.Version != nil {
		el.Version = *p.Version
	}
	if p.VersionNonce != nil {
		el.VersionNonce = *p.VersionNonce
	}
	if p.Deleted != nil {
		el.Deleted = *p.Deleted
	}
	if p.UpdatedAt != nil {
		el.UpdatedAt = *p.UpdatedAt
	} else {
		el.UpdatedAt = now.UnixMilli()
	}
	return el, true
}

// Apply 按顺序把队列中的候选元素合并进快照：删除的按 id 移除，其余按 id 覆盖
// 或追加。候选元素不比现有元素新时忽略。删除在本批次内保留为墓碑参与比较，
// 结果中不含墓碑。返回的切片不为 nil。
func Apply(snapshot []Element, queued []Element) []Element {
	byID := make(map[string]Element, len(snapshot)+len(queued))
	order := make([]string, 0, len(snapshot)+len(queued))
	put := func(el Element) {
		if _, ok := byID[el.ID]; !ok {
			order = append(order, el.ID)
		}
		byID[el.ID] = el
	}
	for _, el := range snapshot {
		if el.ID == "" || el.Deleted {
			continue
		}
		put(el)
	}
	for _, el := range queued {
		if cur, ok := byID[el.ID]; ok && !Newer(el, cur) {
			continue
		}
		put(el)
	}

	out := make([]Element, 0, len(byID))
	seen := make(map[string]bool, len(byID))
	for _, id := range order {
		el, ok := byID[id]
		if !ok || el.Deleted || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, el)
	}
	return out
}

// Decode 解析存储中的元素数组，过滤掉缺少 id 或 type 的条目。
func Decode(raw string) ([]Element, error) {
	var elements []Element
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return nil, err
	}
	out := elements[:0]
	for _, el := range elements {
		if el.ID != "" && el.Type != "" {
			out = append(out, el)
		}
	}
	if out == nil {
		out = []Element{}
	}
	return out, nil
}
