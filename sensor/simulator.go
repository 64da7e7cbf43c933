package sensor

import (
	"context"
	"math"
	"time"

	"headtrack-x/wire"
)

// Simulator 以固定节奏向 Cell 写入合成的头部运动（正弦摆动），用于无传感器硬件时的联调。
type Simulator struct {
	Cell         *Cell
	Rate         time.Duration
	AmplitudeDeg float64
	Period       time.Duration

	now func() time.Time
}

// NewSimulator 创建合成传感器源。
// 参数：
// - cell: 写入目标
// - rate: 采样间隔（与协议发送周期无关）
// - amplitudeDeg: 俯仰/横滚摆幅（度）
// - period: 摆动周期
func NewSimulator(cell *Cell, rate time.Duration, amplitudeDeg float64, period time.Duration) *Simulator {
	if rate <= 0 {
		rate = 10 * time.Millisecond
	}
	if period <= 0 {
		period = 4 * time.Second
	}
	return &Simulator{Cell: cell, Rate: rate, AmplitudeDeg: amplitudeDeg, Period: period, now: time.Now}
}

// Run 持续写入样本直到 ctx 取消。
func (s *Simulator) Run(ctx context.Context) {
	t := time.NewTicker(s.Rate)
	defer t.Stop()
	start := s.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Cell.StoreOrientation(s.SampleAt(s.now().Sub(start)))
		}
	}
}

// SampleAt 计算 elapsed 时刻的合成样本：角度为正弦，角速度为其导数（rad/s）。
func (s *Simulator) SampleAt(elapsed time.Duration) wire.OrientationSample {
	w := 2 * math.Pi / s.Period.Seconds()
	phase := w * elapsed.Seconds()
	amp := s.AmplitudeDeg
	ampRad := amp * math.Pi / 180
	return wire.OrientationSample{
		PitchDeg:      float32(amp * math.Sin(phase)),
		RollDeg:       float32(amp / 2 * math.Cos(phase)),
		PitchVelocity: float32(ampRad * w * math.Cos(phase)),
		RollVelocity:  float32(-ampRad / 2 * w * math.Sin(phase)),
		YawVelocity:   float32(ampRad * w * math.Sin(2*phase)),
		Timestamp:     s.now(),
	}
}
