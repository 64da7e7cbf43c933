package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	hterrors "headtrack-x/errors"
	htlog "headtrack-x/log"
)

// Handler 处理一个完整数据报。payload 指向池化缓冲区，返回后即失效，不得持有。
type Handler func(payload []byte, from net.Addr)

// ReceiverStats 是接收循环的计数快照。
type ReceiverStats struct {
	Received uint64
	Errors   uint64
}

// Receiver 是命令监听与发现监听共用的 UDP 接收循环。
// 停止时先清除 running 标记再关闭 socket，阻塞中的读取因此返回；
// 此后出现的读取错误视为关闭竞态并被静默丢弃。
type Receiver struct {
	name    string
	conn    net.PacketConn
	handler Handler

	running  atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}

	received atomic.Uint64
	errs     atomic.Uint64
}

// NewReceiver 创建接收循环（尚未启动）。
// 参数：
// - name: 日志中的组件名
// - conn: 已绑定的 socket（由 Receiver 接管并负责关闭）
// - h: 数据报处理函数
func NewReceiver(name string, conn net.PacketConn, h Handler) *Receiver {
	return &Receiver{name: name, conn: conn, handler: h, done: make(chan struct{})}
}

// Start 启动接收 goroutine（重复调用无效）。
func (r *Receiver) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.running.Store(true)
	go r.loop()
}

// Stop 停止接收并关闭 socket，等待接收 goroutine 退出（幂等）。
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() {
		r.running.Store(false)
		_ = r.conn.Close()
		if r.started.Load() {
			<-r.done
		}
	})
}

// Running 返回接收循环是否在运行。
func (r *Receiver) Running() bool { return r.running.Load() }

// Addr 返回本地绑定地址。
func (r *Receiver) Addr() net.Addr { return r.conn.LocalAddr() }

// Stats 返回计数快照。
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{Received: r.received.Load(), Errors: r.errs.Load()}
}

func (r *Receiver) loop() {
	defer close(r.done)
	buf := getBuf()
	defer putBuf(buf)

	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			cerr := ClassifyReadError(err, r.running.Load())
			if errors.Is(cerr, hterrors.ErrShutdownRace) {
				return
			}
			r.errs.Add(1)
			if errors.Is(err, net.ErrClosed) {
				htlog.With(map[string]any{"component": r.name, "status": "socket_closed"}).WithError(err).Warn("接收 socket 被意外关闭")
				r.running.Store(false)
				return
			}
			htlog.With(map[string]any{"component": r.name, "status": "recv_error"}).WithError(err).Warn("接收失败，继续等待")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		r.received.Add(1)
		if r.handler != nil {
			r.handler(buf[:n], from)
		}
	}
}

// ClassifyReadError 将读取错误区分为关闭竞态（停止后发生）与真实传输错误。
func ClassifyReadError(err error, running bool) error {
	if err == nil {
		return nil
	}
	if !running {
		return hterrors.Wrap(hterrors.CodeShutdownRace, "read after stop", err)
	}
	return hterrors.Wrap(hterrors.CodeTransport, "udp read failed", err)
}
