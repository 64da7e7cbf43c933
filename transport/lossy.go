package transport

import (
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// LossyConn 按百分比随机丢弃发送的数据报，用于模拟不稳定网络。
// 被丢弃的写入对调用方表现为成功。
type LossyConn struct {
	net.PacketConn

	dropPct int
	mu      sync.Mutex
	rnd     *rand.Rand
	dropped atomic.Uint64
}

// NewLossyConn 包装 conn；dropPct 会被限制在 0..100。
func NewLossyConn(conn net.PacketConn, dropPct int) *LossyConn {
	if dropPct < 0 {
		dropPct = 0
	}
	if dropPct > 100 {
		dropPct = 100
	}
	return &LossyConn{
		PacketConn: conn,
		dropPct:    dropPct,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WriteTo 实现 net.PacketConn。
func (c *LossyConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	if c.drop() {
		c.dropped.Add(1)
		return len(b), nil
	}
	return c.PacketConn.WriteTo(b, addr)
}

// Dropped 返回累计丢弃数。
func (c *LossyConn) Dropped() uint64 { return c.dropped.Load() }

func (c *LossyConn) drop() bool {
	if c.dropPct == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rnd.Intn(100) < c.dropPct
}
