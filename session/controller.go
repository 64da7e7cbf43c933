package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"headtrack-x/command"
	"headtrack-x/discovery"
	hterrors "headtrack-x/errors"
	htlog "headtrack-x/log"
	"headtrack-x/metrics"
	"headtrack-x/netinfo"
	"headtrack-x/status"
	"headtrack-x/telemetry"
	"headtrack-x/transport"
	"headtrack-x/wire"
)

// Deps 是控制器在整个生命周期内复用的协作方与进程级参数。
type Deps struct {
	Codec     wire.Codec
	Source    telemetry.SampleSource
	Identity  telemetry.IdentityProvider
	Addresses netinfo.AddressProvider
	Events    Events
	Metrics   *metrics.Metrics

	// DiscoveryPort 是发现广播的目的端口（默认 20500）。
	DiscoveryPort uint16
	// AnnounceDestination 非空时替代子网广播地址。
	AnnounceDestination net.IP
	IPTTL               int
	// LossPct > 0 时发送 socket 按比例随机丢包。
	LossPct int
	// Defaults 在第一次 StartTracking 之前供 FindReceiver 使用。
	Defaults Options
}

// Snapshot 是会话状态与计数的只读视图（HTTP 状态接口使用）。
type Snapshot struct {
	State          status.SessionState  `json:"state"`
	SessionID      string               `json:"session_id,omitempty"`
	Uptime         string               `json:"uptime,omitempty"`
	Target         string               `json:"target,omitempty"`
	KnownTarget    string               `json:"known_target,omitempty"`
	Inversion      wire.InversionConfig `json:"inversion"`
	Sender         status.LoopState     `json:"sender"`
	CommandLoop    status.LoopState     `json:"command_listener"`
	DiscoveryLoop  status.LoopState     `json:"discovery_listener"`
	Telemetry      telemetry.Stats      `json:"telemetry"`
	Commands       command.Stats        `json:"commands"`
	DiscoveryStats discovery.Stats      `json:"discovery"`
}

// Controller 组合遥测发送、指令监听、发现监听与广播，负责它们的启动与停止。
// 生命周期：Idle → Starting → Tracking → Stopping → Idle；启动失败回到 Idle。
// 事件回调运行在工作 goroutine 中，回调内不得同步调用 StopTracking。
type Controller struct {
	deps Deps

	// lifecycle 串行化 StartTracking/StopTracking。
	lifecycle sync.Mutex

	mu          sync.RWMutex
	state       status.SessionState
	sessionID   string
	startedAt   time.Time
	opts        Options
	sender      *telemetry.Sender
	cmd         *command.Listener
	disc        *discovery.Listener
	annCancel   context.CancelFunc
	annDone     chan struct{}
	startCancel context.CancelFunc
	known       *wire.Endpoint
	waiters     map[chan wire.Endpoint]struct{}
}

// New 创建处于 Idle 状态的控制器。
func New(d Deps) *Controller {
	if d.Events == nil {
		d.Events = nopEvents{}
	}
	if d.DiscoveryPort == 0 {
		d.DiscoveryPort = discovery.DefaultPort
	}
	return &Controller{
		deps:    d,
		state:   status.SessionIdle,
		opts:    d.Defaults,
		waiters: make(map[chan wire.Endpoint]struct{}),
	}
}

func (c *Controller) State() status.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s status.SessionState) {
	c.mu.Lock()
	c.transitionLocked(s)
	c.mu.Unlock()
	c.deps.Metrics.SetSessionState(s)
}

// transitionLocked 切换会话状态；非法迁移说明生命周期串行化被破坏，记录后仍以新状态为准。
// 调用方需持有 mu。
func (c *Controller) transitionLocked(to status.SessionState) {
	if !status.CanTransition(c.state, to) {
		htlog.With(map[string]any{"from": c.state.String(), "to": to.String(), "status": "bad_transition"}).Error("非法的会话状态迁移")
	}
	c.state = to
}

// StartTracking 按 opts 启动一次会话。
// 已在 Starting/Tracking 时直接返回 nil。任一步失败都会按获取顺序的逆序释放已获取的资源，
// 状态回到 Idle，并返回 InvalidConfig 或 BindFailed。
// 参数：
// - ctx: 仅约束启动过程（包括阻塞发现），不影响会话本身的生命周期
// - opts: 会话参数
func (c *Controller) StartTracking(ctx context.Context, opts Options) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if st := c.State(); st == status.SessionTracking || st == status.SessionStarting {
		return nil
	}
	if err := opts.Validate(); err != nil {
		c.deps.Events.OnStatusChanged("Start failed: " + err.Error())
		return err
	}
	if opts.SendInterval == 0 {
		opts.SendInterval = telemetry.DefaultInterval
	}

	sctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.transitionLocked(status.SessionStarting)
	c.startCancel = cancel
	c.mu.Unlock()
	c.deps.Metrics.SetSessionState(status.SessionStarting)
	c.deps.Events.OnStatusChanged("Starting")

	err := c.start(sctx, opts)
	cancel()
	c.mu.Lock()
	c.startCancel = nil
	c.mu.Unlock()

	if err != nil {
		c.setState(status.SessionIdle)
		htlog.With(map[string]any{"code": hterrors.Code(err), "status": "start_failed"}).WithError(err).Warn("会话启动失败")
		c.deps.Events.OnStatusChanged("Start failed: " + err.Error())
		return err
	}
	return nil
}

func (c *Controller) start(ctx context.Context, opts Options) (err error) {
	var undo []func()
	defer func() {
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
	}()

	// 上一次会话的监听器不再展示在快照中。
	c.mu.Lock()
	c.cmd, c.disc = nil, nil
	c.mu.Unlock()

	target, err := c.resolveTarget(ctx, opts)
	if err != nil {
		return err
	}

	conn, err := transport.DialUDP(ctx)
	if err != nil {
		return err
	}
	var pc net.PacketConn = conn
	if c.deps.LossPct > 0 {
		pc = transport.NewLossyConn(conn, c.deps.LossPct)
	}
	sender := telemetry.NewSender(c.deps.Codec, c.deps.Source, c.deps.Identity,
		telemetry.WithInterval(opts.SendInterval),
		telemetry.WithButtons(opts.Buttons),
		telemetry.WithInversion(opts.Inversion),
		telemetry.WithMetrics(c.deps.Metrics),
	)
	if err = sender.Start(pc, target); err != nil {
		_ = pc.Close()
		return err
	}
	c.mu.Lock()
	c.sender = sender
	c.opts = opts
	c.mu.Unlock()
	undo = append(undo, sender.Stop)

	if opts.EnableCommands {
		l := command.NewListener(c.deps.Codec, c.deps.Events.OnCommandReceived, command.WithMetrics(c.deps.Metrics))
		if err = l.Start(opts.ListenPort); err != nil {
			return err
		}
		c.mu.Lock()
		c.cmd = l
		c.mu.Unlock()
		undo = append(undo, l.Stop)
	}

	if opts.EnableDiscoveryListen {
		dl := discovery.NewListener(c.deps.Codec)
		dl.Metrics = c.deps.Metrics
		if err = dl.Start(opts.DiscoveryListenPort, c.applyDiscovered); err != nil {
			return err
		}
		c.mu.Lock()
		c.disc = dl
		c.mu.Unlock()
		undo = append(undo, dl.Stop)
	}

	switch opts.AnnounceMode {
	case status.AnnounceOnce:
		if aerr := c.announcer(opts).Announce(ctx); aerr != nil {
			htlog.With(map[string]any{"status": "announce_error"}).WithError(aerr).Warn("发现广播发送失败")
		}
	case status.AnnounceContinuous:
		actx, acancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		ann := c.announcer(opts)
		go func() {
			defer close(done)
			if rerr := ann.Run(actx, opts.AnnounceInterval); rerr != nil {
				htlog.With(map[string]any{"status": "announce_error"}).WithError(rerr).Warn("持续广播退出")
			}
		}()
		c.mu.Lock()
		c.annCancel, c.annDone = acancel, done
		c.mu.Unlock()
	}

	id := uuid.NewString()
	c.mu.Lock()
	c.sessionID = id
	c.startedAt = time.Now()
	c.transitionLocked(status.SessionTracking)
	c.mu.Unlock()
	c.deps.Metrics.SetSessionState(status.SessionTracking)
	c.deps.Metrics.SessionStarted()

	htlog.With(map[string]any{
		"session_id": id,
		"target":     target.String(),
		"commands":   opts.EnableCommands,
		"discovery":  opts.EnableDiscoveryListen,
		"announce":   string(opts.AnnounceMode),
		"status":     "tracking",
	}).Info("会话已启动")
	c.deps.Events.OnStatusChanged("Streaming to " + target.String())
	return nil
}

// resolveTarget 依次使用：显式配置 → 已知目标（发现或手动设置）→ 阻塞发现。
func (c *Controller) resolveTarget(ctx context.Context, opts Options) (wire.Endpoint, error) {
	if opts.TargetHost != "" {
		return wire.Endpoint{Host: opts.TargetHost, Port: opts.TargetPort}, nil
	}
	c.mu.RLock()
	known := c.known
	c.mu.RUnlock()
	if known != nil {
		return *known, nil
	}
	if opts.ResolveTimeout <= 0 {
		return wire.Endpoint{}, hterrors.New(hterrors.CodeInvalidConfig, "no target host configured and no receiver discovered")
	}

	rctx, cancel := context.WithTimeout(ctx, opts.ResolveTimeout)
	defer cancel()
	c.deps.Events.OnStatusChanged("Searching for receiver...")
	ep, err := discovery.Resolve(rctx, c.announcer(opts), c.discoveryListenPort(opts))
	if err != nil {
		return wire.Endpoint{}, err
	}
	c.applyDiscovered(wire.DiscoveryResponse{ReceiverIP: ep.Host, ExpectedPort: ep.Port})
	return ep, nil
}

// StopTracking 停止会话（Idle 时为空操作）。
// 顺序：广播 → 发送 → 指令监听 → 发现监听。进行中的启动会被取消。
func (c *Controller) StopTracking() {
	c.mu.RLock()
	abort := c.startCancel
	c.mu.RUnlock()
	if abort != nil {
		abort()
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.State() != status.SessionTracking {
		return
	}
	c.setState(status.SessionStopping)
	c.deps.Events.OnStatusChanged("Stopping")

	c.mu.RLock()
	annCancel, annDone := c.annCancel, c.annDone
	sender, cmd, disc := c.sender, c.cmd, c.disc
	id, startedAt := c.sessionID, c.startedAt
	c.mu.RUnlock()

	if annCancel != nil {
		annCancel()
		<-annDone
	}
	sender.Stop()
	if cmd != nil {
		cmd.Stop()
	}
	if disc != nil {
		disc.Stop()
	}

	c.mu.Lock()
	c.annCancel, c.annDone = nil, nil
	c.cmd, c.disc = nil, nil
	c.sessionID = ""
	c.transitionLocked(status.SessionIdle)
	c.mu.Unlock()
	c.deps.Metrics.SetSessionState(status.SessionIdle)

	st := sender.Stats()
	htlog.With(map[string]any{
		"session_id": id,
		"uptime":     time.Since(startedAt).Round(time.Second).String(),
		"frames":     st.Sent,
		"bytes":      humanize.Bytes(st.BytesSent),
		"errors":     st.Errors,
		"status":     "idle",
	}).Info("会话已停止")
	c.deps.Events.OnStatusChanged("Idle")
}

// SetTarget 手动设置目标；会话运行中立即生效，否则作为下一次启动的已知目标。
func (c *Controller) SetTarget(ep wire.Endpoint) error {
	if ep.Host == "" || ep.Port == 0 {
		return hterrors.New(hterrors.CodeInvalidConfig, "target host and port are required")
	}
	c.mu.Lock()
	c.known = &ep
	sender := c.sender
	running := c.state == status.SessionTracking
	c.mu.Unlock()
	if running && sender != nil {
		return sender.SetTarget(ep)
	}
	return nil
}

// SetInversion 更新反转配置，运行中立即生效。
func (c *Controller) SetInversion(inv wire.InversionConfig) {
	c.mu.Lock()
	c.opts.Inversion = inv
	sender := c.sender
	c.mu.Unlock()
	if sender != nil {
		sender.SetInversion(inv)
	}
}

// FindReceiver 手动触发一次查找：广播并等待第一个应答。
// 会话的发现监听在运行时复用它接收应答，否则临时绑定监听端口。
func (c *Controller) FindReceiver(ctx context.Context) (wire.Endpoint, error) {
	c.mu.RLock()
	opts := c.opts
	disc := c.disc
	c.mu.RUnlock()
	ann := c.announcer(opts)

	if disc == nil || disc.State() != status.LoopRunning {
		ep, err := discovery.Resolve(ctx, ann, c.discoveryListenPort(opts))
		if err != nil {
			return wire.Endpoint{}, err
		}
		c.applyDiscovered(wire.DiscoveryResponse{ReceiverIP: ep.Host, ExpectedPort: ep.Port})
		return ep, nil
	}

	ch := make(chan wire.Endpoint, 1)
	c.mu.Lock()
	c.waiters[ch] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, ch)
		c.mu.Unlock()
	}()

	t := time.NewTicker(discovery.ResolveRetry)
	defer t.Stop()
	for {
		if err := ann.Announce(ctx); err != nil {
			htlog.With(map[string]any{"status": "announce_error"}).WithError(err).Warn("发现广播发送失败")
		}
		select {
		case ep := <-ch:
			return ep, nil
		case <-ctx.Done():
			return wire.Endpoint{}, hterrors.Wrap(hterrors.CodeInvalidConfig, "no receiver answered discovery", ctx.Err())
		case <-t.C:
		}
	}
}

// applyDiscovered 处理一个合法发现应答：总是覆盖已知目标，目标变化时才触发事件。
func (c *Controller) applyDiscovered(r wire.DiscoveryResponse) {
	ep := r.Endpoint()
	// 先解析再记录，无法解析的应答不能成为下一次启动的已知目标。
	if _, err := transport.ResolveUDP(ep.Host, ep.Port); err != nil {
		htlog.With(map[string]any{"target": ep.String(), "status": "retarget_failed"}).WithError(err).Warn("忽略无法解析的发现应答")
		return
	}
	c.mu.Lock()
	changed := c.known == nil || *c.known != ep
	c.known = &ep
	sender := c.sender
	running := c.state == status.SessionTracking || c.state == status.SessionStarting
	for ch := range c.waiters {
		select {
		case ch <- ep:
		default:
		}
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	if running && sender != nil {
		if err := sender.SetTarget(ep); err != nil {
			htlog.With(map[string]any{"target": ep.String(), "status": "retarget_failed"}).WithError(err).Warn("无法切换到发现的接收端")
			return
		}
	}
	c.deps.Events.OnTargetDiscovered(ep)
	c.deps.Events.OnStatusChanged("Receiver discovered at " + ep.String())
}

// Snapshot 返回当前状态与计数。
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		State:         c.state,
		SessionID:     c.sessionID,
		Inversion:     c.opts.Inversion,
		Sender:        status.LoopStopped,
		CommandLoop:   status.LoopStopped,
		DiscoveryLoop: status.LoopStopped,
	}
	if c.state == status.SessionTracking {
		s.Uptime = time.Since(c.startedAt).Round(time.Second).String()
	}
	if c.known != nil {
		s.KnownTarget = c.known.String()
	}
	if c.sender != nil {
		s.Sender = c.sender.State()
		s.Telemetry = c.sender.Stats()
		s.Inversion = c.sender.Inversion()
		if t := c.sender.Target(); !t.IsZero() {
			s.Target = t.String()
		}
	}
	if c.cmd != nil {
		s.CommandLoop = c.cmd.State()
		s.Commands = c.cmd.Stats()
	}
	if c.disc != nil {
		s.DiscoveryLoop = c.disc.State()
		s.DiscoveryStats = c.disc.Stats()
	}
	return s
}

func (c *Controller) announcer(opts Options) *discovery.Announcer {
	return &discovery.Announcer{
		Codec:       c.deps.Codec,
		Addresses:   c.deps.Addresses,
		Port:        c.deps.DiscoveryPort,
		ListenPort:  opts.ListenPort,
		IPTTL:       c.deps.IPTTL,
		Destination: c.deps.AnnounceDestination,
		Metrics:     c.deps.Metrics,
	}
}

func (c *Controller) discoveryListenPort(opts Options) uint16 {
	if opts.DiscoveryListenPort != 0 {
		return opts.DiscoveryListenPort
	}
	return discovery.DefaultPort
}
