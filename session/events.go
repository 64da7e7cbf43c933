package session

import (
	htlog "headtrack-x/log"
	"headtrack-x/wire"
)

// Events 是核心向 UI/振动协作方暴露的回调。
// 回调在各自的工作 goroutine 中同步调用，实现方不应长时间阻塞。
type Events interface {
	OnStatusChanged(text string)
	OnCommandReceived(cmd wire.VibrationCommand)
	OnTargetDiscovered(ep wire.Endpoint)
}

// MultiEvents 按顺序把事件分发给多个订阅方。
type MultiEvents []Events

func (m MultiEvents) OnStatusChanged(text string) {
	for _, e := range m {
		e.OnStatusChanged(text)
	}
}

func (m MultiEvents) OnCommandReceived(cmd wire.VibrationCommand) {
	for _, e := range m {
		e.OnCommandReceived(cmd)
	}
}

func (m MultiEvents) OnTargetDiscovered(ep wire.Endpoint) {
	for _, e := range m {
		e.OnTargetDiscovered(ep)
	}
}

// LogEvents 把事件写入日志（无界面运行时的默认订阅方）。
type LogEvents struct{}

func (LogEvents) OnStatusChanged(text string) {
	htlog.With(map[string]any{"status": "session_status"}).Info(text)
}

func (LogEvents) OnCommandReceived(cmd wire.VibrationCommand) {
	htlog.With(map[string]any{
		"issuer":              cmd.Issuer,
		"intensity":           cmd.Intensity,
		"intensity_defaulted": cmd.IntensityDefaulted,
		"duration_ms":         cmd.DurationMs,
		"status":              "vibrate",
	}).Info("振动指令")
}

func (LogEvents) OnTargetDiscovered(ep wire.Endpoint) {
	htlog.With(map[string]any{"target": ep.String(), "status": "target_discovered"}).Info("发现接收端")
}

type nopEvents struct{}

func (nopEvents) OnStatusChanged(string) {}
func (nopEvents) OnCommandReceived(wire.VibrationCommand) {}
func (nopEvents) OnTargetDiscovered(wire.Endpoint) {}
