package sensor

import (
	"sync/atomic"

	"headtrack-x/wire"
)

// Cell 是传感器状态的单槽“最新值”容器：写入覆盖旧值，读取从不阻塞。
// 读者总能看到最近一次写入，或在首次写入前看到零值。
type Cell struct {
	orientation atomic.Pointer[wire.OrientationSample]
	buttons     atomic.Pointer[wire.ButtonState]
	updates     atomic.Uint64
}

// NewCell 创建空的传感器状态容器。
func NewCell() *Cell { return &Cell{} }

// StoreOrientation 覆盖最新姿态样本（由传感器协作方按其自身节奏调用）。
func (c *Cell) StoreOrientation(s wire.OrientationSample) {
	c.orientation.Store(&s)
	c.updates.Add(1)
}

// StoreButtons 覆盖最新按键状态。
func (c *Cell) StoreButtons(b wire.ButtonState) {
	c.buttons.Store(&b)
}

// LatestOrientation 返回最新姿态样本，尚无样本时返回零值。
func (c *Cell) LatestOrientation() wire.OrientationSample {
	if p := c.orientation.Load(); p != nil {
		return *p
	}
	return wire.OrientationSample{}
}

// LatestButtons 返回最新按键状态；ok=false 表示从未写入过（按键变体未启用）。
func (c *Cell) LatestButtons() (wire.ButtonState, bool) {
	if p := c.buttons.Load(); p != nil {
		return *p, true
	}
	return wire.ButtonState{}, false
}

// Updates 返回累计写入的姿态样本数量。
func (c *Cell) Updates() uint64 { return c.updates.Load() }
