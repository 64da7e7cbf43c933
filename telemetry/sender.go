package telemetry

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	hterrors "headtrack-x/errors"
	htlog "headtrack-x/log"
	"headtrack-x/metrics"
	"headtrack-x/status"
	"headtrack-x/transport"
	"headtrack-x/wire"
)

// DefaultInterval 约等于 20Hz。
const DefaultInterval = 50 * time.Millisecond

// SampleSource 是传感器协作方：读取永不阻塞，尚无数据时返回零值。
type SampleSource interface {
	LatestOrientation() wire.OrientationSample
	LatestButtons() (wire.ButtonState, bool)
}

// IdentityProvider 提供写入遥测元数据的设备身份。
type IdentityProvider interface {
	LocalIdentity() wire.DeviceIdentity
}

// Stats 是发送循环的计数快照。
type Stats struct {
	Sent      uint64
	Errors    uint64
	BytesSent uint64
	LastSend  time.Time
}

type Option func(*Sender)

// WithInterval 设置发送周期（<=0 时使用默认值）。
func WithInterval(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithButtons 开启按键字段（按键手柄形态）。
func WithButtons(on bool) Option { return func(s *Sender) { s.buttons = on } }

// WithInversion 设置初始反转配置。
func WithInversion(inv wire.InversionConfig) Option {
	return func(s *Sender) { s.SetInversion(inv) }
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Sender) { s.metrics = m } }

type target struct {
	ep   wire.Endpoint
	addr *net.UDPAddr
}

// Sender 以固定周期把最新姿态编码为遥测数据报发送到当前目标。
// 目标与每个反转开关都是独立原子值，运行中修改时每个字段只会读到旧值或新值。
type Sender struct {
	codec    wire.Codec
	source   SampleSource
	identity IdentityProvider
	interval time.Duration
	buttons  bool
	metrics  *metrics.Metrics

	target    atomic.Pointer[target]
	invPitch  atomic.Bool
	invYaw    atomic.Bool
	invRoll   atomic.Bool
	running   atomic.Bool
	sent      atomic.Uint64
	errs      atomic.Uint64
	bytesSent atomic.Uint64
	lastSend  atomic.Int64

	mu     sync.Mutex
	conn   net.PacketConn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender 创建遥测发送器（处于 Stopped 状态）。
// 参数：
// - codec: 报文编解码器
// - source: 传感器最新值
// - identity: 设备身份
// - opts: 可选项
func NewSender(codec wire.Codec, source SampleSource, identity IdentityProvider, opts ...Option) *Sender {
	s := &Sender{
		codec:    codec,
		source:   source,
		identity: identity,
		interval: DefaultInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start 接管 conn 并启动发送循环。
// 参数：
// - conn: 发送 socket（Stop 时由 Sender 关闭）
// - t: 初始目标
// 返回：
// - error: 目标非法（InvalidConfig）或已在运行（Conflict）
func (s *Sender) Start(conn net.PacketConn, t wire.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return hterrors.New(hterrors.CodeConflict, "telemetry sender already running")
	}
	if conn == nil {
		return hterrors.New(hterrors.CodeInvalidConfig, "nil socket")
	}
	if err := s.SetTarget(t); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.loop(ctx, conn, s.done)

	htlog.With(map[string]any{"target": t.String(), "interval_ms": s.interval.Milliseconds(), "status": "sender_start"}).Info("遥测发送已启动")
	return nil
}

// Stop 停止发送循环并关闭 socket（幂等）。返回后不会再有数据报发出。
func (s *Sender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return
	}
	s.cancel()
	<-s.done
	_ = s.conn.Close()
	s.conn = nil
	s.running.Store(false)
	htlog.With(map[string]any{"sent": s.sent.Load(), "errors": s.errs.Load(), "status": "sender_stop"}).Info("遥测发送已停止")
}

// SetTarget 原子替换发送目标，可在运行中调用。
func (s *Sender) SetTarget(ep wire.Endpoint) error {
	if ep.Host == "" || ep.Port == 0 {
		return hterrors.New(hterrors.CodeInvalidConfig, "target host and port are required")
	}
	addr, err := transport.ResolveUDP(ep.Host, ep.Port)
	if err != nil {
		return err
	}
	s.target.Store(&target{ep: ep, addr: addr})
	return nil
}

// Target 返回当前目标（未设置时为零值）。
func (s *Sender) Target() wire.Endpoint {
	if t := s.target.Load(); t != nil {
		return t.ep
	}
	return wire.Endpoint{}
}

// SetInversion 更新反转开关，可在运行中调用。
func (s *Sender) SetInversion(inv wire.InversionConfig) {
	s.invPitch.Store(inv.InvertPitch)
	s.invYaw.Store(inv.InvertYaw)
	s.invRoll.Store(inv.InvertRoll)
}

func (s *Sender) Inversion() wire.InversionConfig {
	return wire.InversionConfig{
		InvertPitch: s.invPitch.Load(),
		InvertYaw:   s.invYaw.Load(),
		InvertRoll:  s.invRoll.Load(),
	}
}

func (s *Sender) State() status.LoopState {
	if s.running.Load() {
		return status.LoopRunning
	}
	return status.LoopStopped
}

func (s *Sender) Stats() Stats {
	st := Stats{Sent: s.sent.Load(), Errors: s.errs.Load(), BytesSent: s.bytesSent.Load()}
	if ns := s.lastSend.Load(); ns > 0 {
		st.LastSend = time.Unix(0, ns)
	}
	return st
}

// loop 立即发送第一帧，随后按墙钟周期发送；传感器无新数据时重发上一帧。
func (s *Sender) loop(ctx context.Context, conn net.PacketConn, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.sendOnce(conn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sendOnce(conn)
		}
	}
}

func (s *Sender) sendOnce(conn net.PacketConn) {
	tgt := s.target.Load()
	if tgt == nil {
		return
	}
	sample := s.source.LatestOrientation()
	var btn *wire.ButtonState
	if s.buttons {
		b, _ := s.source.LatestButtons()
		btn = &b
	}
	var id wire.DeviceIdentity
	if s.identity != nil {
		id = s.identity.LocalIdentity()
	}
	payload := s.codec.EncodeTelemetry(sample, btn, s.Inversion(), id)

	n, err := conn.WriteTo(payload, tgt.addr)
	if err != nil {
		c := s.errs.Add(1)
		s.metrics.SendError()
		// 目标不可达时每 tick 都会失败，只记录第一次与之后每 100 次。
		if c == 1 || c%100 == 0 {
			htlog.With(map[string]any{"target": tgt.ep.String(), "errors": c, "status": "send_error"}).WithError(err).Warn("遥测发送失败")
		}
		return
	}
	s.sent.Add(1)
	s.bytesSent.Add(uint64(n))
	s.lastSend.Store(time.Now().UnixNano())
	s.metrics.FrameSent()
}
