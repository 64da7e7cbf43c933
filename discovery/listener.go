package discovery

import (
	"context"
	"errors"
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

// DefaultPort 是发现广播与应答使用的端口。
const DefaultPort uint16 = 20500

type Stats struct {
	Responses  uint64
	Ignored    uint64
	Malformed  uint64
	RecvErrors uint64
}

// Listener 监听接收端的发现应答，生命周期与命令监听一致。
// 前缀不匹配的数据报（包括本机自己的广播回环）静默丢弃。
type Listener struct {
	Codec   wire.Codec
	Metrics *metrics.Metrics

	mu   sync.Mutex
	recv *transport.Receiver
	on   func(wire.DiscoveryResponse)

	responses  atomic.Uint64
	ignored    atomic.Uint64
	malformed  atomic.Uint64
	recvErrors atomic.Uint64
}

func NewListener(codec wire.Codec) *Listener { return &Listener{Codec: codec} }

// Start 以共享方式绑定端口并开始接收应答。
// 参数：
// - port: 监听端口（0 表示由系统分配）
// - onResponse: 每个合法应答回调一次
func (l *Listener) Start(port uint16, onResponse func(wire.DiscoveryResponse)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recv != nil {
		return hterrors.New(hterrors.CodeConflict, "discovery listener already running")
	}
	conn, err := transport.ListenShared(context.Background(), port)
	if err != nil {
		return err
	}
	l.on = onResponse
	l.recv = transport.NewReceiver("discovery", conn, l.handle)
	l.recv.Start()
	htlog.With(map[string]any{"addr": conn.LocalAddr().String(), "status": "listen_ok"}).Info("发现应答监听已启动")
	return nil
}

// Stop 关闭监听（幂等）。
func (l *Listener) Stop() {
	l.mu.Lock()
	r := l.recv
	l.recv = nil
	l.mu.Unlock()
	if r == nil {
		return
	}
	r.Stop()
	l.recvErrors.Add(r.Stats().Errors)
	htlog.With(map[string]any{"responses": l.responses.Load(), "status": "listen_stop"}).Info("发现应答监听已停止")
}

func (l *Listener) State() status.LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recv != nil && l.recv.Running() {
		return status.LoopRunning
	}
	return status.LoopStopped
}

func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recv == nil {
		return nil
	}
	return l.recv.Addr()
}

func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Stats{
		Responses:  l.responses.Load(),
		Ignored:    l.ignored.Load(),
		Malformed:  l.malformed.Load(),
		RecvErrors: l.recvErrors.Load(),
	}
	if l.recv != nil {
		st.RecvErrors += l.recv.Stats().Errors
	}
	return st
}

func (l *Listener) handle(payload []byte, from net.Addr) {
	resp, err := l.Codec.DecodeDiscoveryResponse(payload)
	if err != nil {
		if errors.Is(err, hterrors.ErrPrefixMismatch) {
			l.ignored.Add(1)
			return
		}
		l.malformed.Add(1)
		l.Metrics.Response(false)
		if hterrors.IsDecodeFailure(err) {
			l.Metrics.DecodeFailure("discovery")
		}
		htlog.With(map[string]any{"from": from.String(), "code": hterrors.Code(err), "status": "response_rejected"}).WithError(err).Warn("丢弃非法发现应答")
		return
	}
	l.responses.Add(1)
	l.Metrics.Response(true)
	htlog.With(map[string]any{"from": from.String(), "receiver": resp.Endpoint().String(), "status": "response_ok"}).Info("收到发现应答")
	if l.on != nil {
		l.on(resp)
	}
}
