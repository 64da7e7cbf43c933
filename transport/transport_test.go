package transport

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	hterrors "headtrack-x/errors"
)

func send(t *testing.T, to net.Addr, payload string) {
	t.Helper()
	c, err := net.Dial("udp4", to.String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}
}

// TestReceiverDeliversAndStops 验证数据报被交付，Stop 后 goroutine 退出且不计错误。
func TestReceiverDeliversAndStops(t *testing.T) {
	conn, err := ListenUDP(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan string, 4)
	r := NewReceiver("test", conn, func(p []byte, _ net.Addr) { got <- string(p) })
	r.Start()

	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: conn.LocalAddr().(*net.UDPAddr).Port}
	send(t, addr, "hello")
	select {
	case s := <-got:
		if s != "hello" {
			t.Fatalf("payload=%q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for datagram")
	}

	r.Stop()
	r.Stop()
	if r.Running() {
		t.Fatal("still running")
	}
	if st := r.Stats(); st.Received != 1 || st.Errors != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

// TestStopWithoutStart 验证未启动时 Stop 不阻塞。
func TestStopWithoutStart(t *testing.T) {
	conn, err := ListenUDP(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReceiver("idle", conn, nil)
	done := make(chan struct{})
	go func() { r.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop blocked")
	}
}

// TestListenSharedAndExclusive 验证共享端口可被重复绑定，独占绑定在端口占用时失败。
func TestListenSharedAndExclusive(t *testing.T) {
	c1, err := ListenShared(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	port := uint16(c1.LocalAddr().(*net.UDPAddr).Port)
	c2, err := ListenShared(context.Background(), port)
	if err != nil {
		t.Fatalf("shared rebind: %v", err)
	}
	_ = c2.Close()

	busy, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	_, err = ListenUDP(context.Background(), uint16(busy.LocalAddr().(*net.UDPAddr).Port))
	if !errors.Is(err, hterrors.ErrBindFailed) {
		t.Fatalf("expected bind failure, got %v", err)
	}
}

func TestClassifyReadError(t *testing.T) {
	base := errors.New("boom")
	if !errors.Is(ClassifyReadError(base, false), hterrors.ErrShutdownRace) {
		t.Fatal("expected shutdown race")
	}
	if !errors.Is(ClassifyReadError(base, true), hterrors.ErrTransport) {
		t.Fatal("expected transport error")
	}
	if ClassifyReadError(nil, true) != nil {
		t.Fatal("nil should stay nil")
	}
}

type countingConn struct {
	net.PacketConn
	writes atomic.Int64
}

func (c *countingConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	c.writes.Add(1)
	return len(b), nil
}

// TestLossyConn 验证 0% 与 100% 的边界，以及中间比例大致成立。
func TestLossyConn(t *testing.T) {
	for _, tc := range []struct {
		pct      int
		min, max int64
	}{
		{0, 1000, 1000},
		{100, 0, 0},
		{50, 300, 700},
	} {
		inner := &countingConn{}
		lc := NewLossyConn(inner, tc.pct)
		for i := 0; i < 1000; i++ {
			if n, err := lc.WriteTo([]byte("x"), nil); err != nil || n != 1 {
				t.Fatalf("write n=%d err=%v", n, err)
			}
		}
		w := inner.writes.Load()
		if w < tc.min || w > tc.max {
			t.Fatalf("pct=%d writes=%d", tc.pct, w)
		}
		if uint64(w)+lc.Dropped() != 1000 {
			t.Fatalf("pct=%d writes+dropped=%d", tc.pct, uint64(w)+lc.Dropped())
		}
	}
}
