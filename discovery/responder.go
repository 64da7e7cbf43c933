package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	hterrors "headtrack-x/errors"
	htlog "headtrack-x/log"
	"headtrack-x/transport"
	"headtrack-x/wire"
)

// Responder 运行在接收端：监听设备广播，并把本机地址与期望的遥测端口回复给设备。
// 应答发往广播中的 device_ip（无法解析时使用数据报来源地址）的 ReplyPort。
type Responder struct {
	Codec wire.Codec
	// ReceiverIP 写入 receiver_ip。
	ReceiverIP string
	// ExpectedPort 写入 expected_port，即接收端监听遥测的端口。
	ExpectedPort uint16
	// ReplyPort 为 0 时使用监听端口本身。
	ReplyPort uint16
	// OnAnnouncement 在每个合法广播到达时回调（可为 nil）。
	OnAnnouncement func(wire.DiscoveryAnnouncement, net.Addr)

	mu      sync.Mutex
	conn    *net.UDPConn
	recv    *transport.Receiver
	port    uint16
	replied atomic.Uint64
}

// Start 以共享方式绑定发现端口并开始应答。
func (r *Responder) Start(port uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recv != nil {
		return hterrors.New(hterrors.CodeConflict, "responder already running")
	}
	if r.ReceiverIP == "" || r.ExpectedPort == 0 {
		return hterrors.New(hterrors.CodeInvalidConfig, "receiver ip and expected port are required")
	}
	conn, err := transport.ListenShared(context.Background(), port)
	if err != nil {
		return err
	}
	r.conn = conn
	r.port = uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	r.recv = transport.NewReceiver("responder", conn, r.handle)
	r.recv.Start()
	htlog.With(map[string]any{"addr": conn.LocalAddr().String(), "receiver": r.ReceiverIP, "expected_port": r.ExpectedPort, "status": "listen_ok"}).Info("发现应答器已启动")
	return nil
}

// Stop 关闭应答器（幂等）。
func (r *Responder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recv == nil {
		return
	}
	r.recv.Stop()
	r.recv = nil
	r.conn = nil
}

// Port 返回实际绑定的端口（未运行时为 0）。
func (r *Responder) Port() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recv == nil {
		return 0
	}
	return r.port
}

// Replied 返回已发送的应答数。
func (r *Responder) Replied() uint64 { return r.replied.Load() }

func (r *Responder) handle(payload []byte, from net.Addr) {
	a, err := wire.DecodeDiscoveryAnnouncement(r.Codec.Issuer, payload)
	if err != nil {
		if !errors.Is(err, hterrors.ErrPrefixMismatch) && !errors.Is(err, hterrors.ErrMalformedFrame) {
			htlog.With(map[string]any{"from": from.String(), "status": "announce_rejected"}).WithError(err).Warn("丢弃非法发现广播")
		}
		return
	}
	if r.OnAnnouncement != nil {
		r.OnAnnouncement(a, from)
	}

	ip := net.ParseIP(a.LocalIP)
	if ip == nil {
		if ua, ok := from.(*net.UDPAddr); ok {
			ip = ua.IP
		}
	}
	if ip == nil {
		return
	}
	port := r.ReplyPort
	if port == 0 {
		port = r.port
	}
	dst := &net.UDPAddr{IP: ip, Port: int(port)}
	resp := wire.EncodeDiscoveryResponse(r.Codec.ResponsePrefix, wire.DiscoveryResponse{ReceiverIP: r.ReceiverIP, ExpectedPort: r.ExpectedPort})
	if _, err := r.conn.WriteTo(resp, dst); err != nil {
		htlog.With(map[string]any{"to": dst.String(), "status": "reply_error"}).WithError(err).Warn("发现应答发送失败")
		return
	}
	r.replied.Add(1)
	htlog.With(map[string]any{"to": dst.String(), "device": a.LocalIP, "status": "reply_ok"}).Info("已应答设备发现广播")
}
