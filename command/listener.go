package command

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	hterrors "headtrack-x/errors"
	htlog "headtrack-x/log"
	"headtrack-x/metrics"
	"headtrack-x/status"
	"headtrack-x/transport"
	"headtrack-x/wire"
)

// Stats 是命令监听的计数快照。
type Stats struct {
	Received   uint64
	Accepted   uint64
	Rejected   uint64
	RecvErrors uint64
}

type Option func(*Listener)

func WithMetrics(m *metrics.Metrics) Option { return func(l *Listener) { l.metrics = m } }

// Listener 接收振动指令数据报：每个数据报独立解码校验，通过后回调一次 onCommand。
// 单个数据报的错误只记录日志，不影响后续接收。
type Listener struct {
	codec     wire.Codec
	onCommand func(wire.VibrationCommand)
	metrics   *metrics.Metrics

	mu   sync.Mutex
	recv *transport.Receiver

	accepted   atomic.Uint64
	rejected   atomic.Uint64
	received   atomic.Uint64
	recvErrors atomic.Uint64
}

// NewListener 创建命令监听器（处于 Stopped 状态）。
func NewListener(codec wire.Codec, onCommand func(wire.VibrationCommand), opts ...Option) *Listener {
	l := &Listener{codec: codec, onCommand: onCommand}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start 绑定 UDP 端口并启动接收循环。
// 参数：
// - port: 监听端口（0 表示由系统分配，见 Addr）
// 返回：
// - error: 绑定失败（BindFailed）或已在运行（Conflict）
func (l *Listener) Start(port uint16) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recv != nil {
		return hterrors.New(hterrors.CodeConflict, "command listener already running")
	}
	conn, err := transport.ListenUDP(context.Background(), port)
	if err != nil {
		return err
	}
	l.recv = transport.NewReceiver("command", conn, l.handle)
	l.recv.Start()
	htlog.With(map[string]any{"addr": conn.LocalAddr().String(), "status": "listen_ok"}).Info("振动指令监听已启动")
	return nil
}

// Stop 关闭 socket 并等待接收循环退出（幂等）。
// 等待期间不持有锁，回调中读取 State/Stats 不会死锁。
func (l *Listener) Stop() {
	l.mu.Lock()
	r := l.recv
	l.recv = nil
	l.mu.Unlock()
	if r == nil {
		return
	}
	r.Stop()
	st := r.Stats()
	l.received.Add(st.Received)
	l.recvErrors.Add(st.Errors)
	htlog.With(map[string]any{"accepted": l.accepted.Load(), "rejected": l.rejected.Load(), "status": "listen_stop"}).Info("振动指令监听已停止")
}

func (l *Listener) State() status.LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recv != nil && l.recv.Running() {
		return status.LoopRunning
	}
	return status.LoopStopped
}

// Addr 返回本地绑定地址；未运行时返回 nil。
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recv == nil {
		return nil
	}
	return l.recv.Addr()
}

// Stats 返回累计计数（跨多次 Start/Stop）。
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	st := Stats{
		Accepted:   l.accepted.Load(),
		Rejected:   l.rejected.Load(),
		Received:   l.received.Load(),
		RecvErrors: l.recvErrors.Load(),
	}
	if l.recv != nil {
		rs := l.recv.Stats()
		st.Received += rs.Received
		st.RecvErrors += rs.Errors
	}
	l.mu.Unlock()
	return st
}

func (l *Listener) handle(payload []byte, from net.Addr) {
	cmd, err := l.codec.DecodeCommand(payload)
	if err != nil {
		l.rejected.Add(1)
		l.metrics.CommandRejected()
		if hterrors.IsDecodeFailure(err) {
			l.metrics.DecodeFailure("command")
		}
		htlog.With(map[string]any{"from": from.String(), "code": hterrors.Code(err), "status": "command_rejected"}).WithError(err).Warn("丢弃非法振动指令")
		return
	}
	l.accepted.Add(1)
	l.metrics.CommandAccepted()
	fields := map[string]any{"issuer": cmd.Issuer, "intensity": cmd.Intensity, "duration": cmd.Duration().String(), "status": "command_ok"}
	if cmd.IntensityDefaulted {
		fields["intensity_defaulted"] = true
	}
	htlog.With(fields).Debug("收到振动指令")
	if l.onCommand != nil {
		l.onCommand(cmd)
	}
}
