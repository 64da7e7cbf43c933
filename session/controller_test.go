package session

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"headtrack-x/command"
	"headtrack-x/discovery"
	hterrors "headtrack-x/errors"
	"headtrack-x/netinfo"
	"headtrack-x/sensor"
	"headtrack-x/status"
	"headtrack-x/wire"
)

type recorder struct {
	mu         sync.Mutex
	statuses   []string
	commands   []wire.VibrationCommand
	discovered []wire.Endpoint
}

func (r *recorder) OnStatusChanged(text string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, text)
	r.mu.Unlock()
}

func (r *recorder) OnCommandReceived(cmd wire.VibrationCommand) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()
}

func (r *recorder) OnTargetDiscovered(ep wire.Endpoint) {
	r.mu.Lock()
	r.discovered = append(r.discovered, ep)
	r.mu.Unlock()
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands), len(r.discovered)
}

func (r *recorder) lastStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	return uint16(c.LocalAddr().(*net.UDPAddr).Port)
}

func sinkConn(t *testing.T) (*net.UDPConn, uint16) {
	t.Helper()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, uint16(c.LocalAddr().(*net.UDPAddr).Port)
}

func readFrame(t *testing.T, c *net.UDPConn) string {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, _, err := c.ReadFrom(buf)
	if err != nil {
		t.Fatalf("no telemetry: %v", err)
	}
	return string(buf[:n])
}

func sendUDP(t *testing.T, port uint16, payload string) {
	t.Helper()
	c, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newController(ev Events) *Controller {
	return New(Deps{
		Codec:               wire.DefaultCodec(),
		Source:              sensor.NewCell(),
		Identity:            netinfo.NewIdentity("test", nil, time.Minute),
		Addresses:           netinfo.StaticProvider{Addr: netinfo.LocalAddress{IP: net.IPv4(127, 0, 0, 1).To4()}},
		Events:              ev,
		AnnounceDestination: net.IPv4(127, 0, 0, 1),
	})
}

// TestStartStopLifecycle 验证完整会话：遥测发出、指令回调、重复启动/停止为空操作、停止后端口释放。
func TestStartStopLifecycle(t *testing.T) {
	rx, port := sinkConn(t)
	ev := &recorder{}
	c := newController(ev)
	listen := freeUDPPort(t)
	opts := Options{
		TargetHost:     "127.0.0.1",
		TargetPort:     port,
		ListenPort:     listen,
		SendInterval:   10 * time.Millisecond,
		EnableCommands: true,
	}
	if err := c.StartTracking(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	if c.State() != status.SessionTracking {
		t.Fatalf("state=%s", c.State())
	}
	id := c.Snapshot().SessionID
	if id == "" {
		t.Fatal("missing session id")
	}
	if err := c.StartTracking(context.Background(), opts); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if c.Snapshot().SessionID != id {
		t.Fatal("second start replaced session")
	}

	if f := readFrame(t, rx); !strings.HasPrefix(f, "$NITHphoneWrapper-v0.2.0|OPR|") || !strings.Contains(f, "dev=test") {
		t.Fatalf("frame=%q", f)
	}
	if !strings.HasPrefix(ev.lastStatus(), "Streaming to 127.0.0.1:") {
		t.Fatalf("status=%q", ev.lastStatus())
	}

	sendUDP(t, listen, "$PC-1|COM|vibration_intensity=90&vibration_duration=250^")
	waitFor(t, func() bool { n, _ := ev.counts(); return n == 1 })

	snap := c.Snapshot()
	if snap.Sender != status.LoopRunning || snap.CommandLoop != status.LoopRunning || snap.Commands.Accepted != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}

	c.StopTracking()
	c.StopTracking()
	if c.State() != status.SessionIdle || ev.lastStatus() != "Idle" {
		t.Fatalf("state=%s status=%q", c.State(), ev.lastStatus())
	}
	snap = c.Snapshot()
	if snap.Sender != status.LoopStopped || snap.CommandLoop != status.LoopStopped || snap.SessionID != "" {
		t.Fatalf("snapshot after stop=%+v", snap)
	}

	l, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: int(listen)})
	if err != nil {
		t.Fatalf("listen port still held: %v", err)
	}
	_ = l.Close()
}

func TestStartInvalidConfig(t *testing.T) {
	c := newController(nil)
	cases := []Options{
		{TargetHost: "127.0.0.1"},
		{TargetHost: "bad host", TargetPort: 1},
		{TargetHost: "127.0.0.1", TargetPort: 1, EnableCommands: true},
		{TargetHost: "127.0.0.1", TargetPort: 1, AnnounceMode: status.AnnounceContinuous},
		{},
	}
	for i, o := range cases {
		if err := c.StartTracking(context.Background(), o); !errors.Is(err, hterrors.ErrInvalidConfig) {
			t.Fatalf("case %d: expected invalid config, got %v", i, err)
		}
		if c.State() != status.SessionIdle {
			t.Fatalf("case %d: state=%s", i, c.State())
		}
	}
}

// TestStartUnwindsOnBindFailure 验证指令端口被占用时已启动的发送器被回收。
func TestStartUnwindsOnBindFailure(t *testing.T) {
	rx, port := sinkConn(t)
	busy, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	ev := &recorder{}
	c := newController(ev)
	err = c.StartTracking(context.Background(), Options{
		TargetHost:     "127.0.0.1",
		TargetPort:     port,
		ListenPort:     uint16(busy.LocalAddr().(*net.UDPAddr).Port),
		SendInterval:   5 * time.Millisecond,
		EnableCommands: true,
	})
	if !errors.Is(err, hterrors.ErrBindFailed) {
		t.Fatalf("expected bind failure, got %v", err)
	}
	if c.State() != status.SessionIdle || c.Snapshot().Sender != status.LoopStopped {
		t.Fatalf("not unwound: %+v", c.Snapshot())
	}
	if !strings.HasPrefix(ev.lastStatus(), "Start failed") {
		t.Fatalf("status=%q", ev.lastStatus())
	}

	// 排空回收前可能已发出的帧，之后不应再有数据。
	buf := make([]byte, 1024)
	_ = rx.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	for {
		if _, _, err := rx.ReadFrom(buf); err != nil {
			break
		}
	}
	_ = rx.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, _, err := rx.ReadFrom(buf); err == nil {
		t.Fatal("telemetry still flowing after failed start")
	}
}

// TestDiscoveryRetargets 验证发现应答覆盖目标，重复应答不重复触发事件。
func TestDiscoveryRetargets(t *testing.T) {
	_, port1 := sinkConn(t)
	rx2, port2 := sinkConn(t)
	ev := &recorder{}
	c := newController(ev)
	discPort := freeUDPPort(t)
	if err := c.StartTracking(context.Background(), Options{
		TargetHost:            "127.0.0.1",
		TargetPort:            port1,
		SendInterval:          10 * time.Millisecond,
		EnableDiscoveryListen: true,
		DiscoveryListenPort:   discPort,
	}); err != nil {
		t.Fatal(err)
	}
	defer c.StopTracking()

	resp := string(wire.EncodeDiscoveryResponse("NITHreceiver", wire.DiscoveryResponse{ReceiverIP: "127.0.0.1", ExpectedPort: port2}))
	sendUDP(t, discPort, "someone-else|receiver_ip=1.1.1.1&expected_port=1")
	sendUDP(t, discPort, resp)
	sendUDP(t, discPort, resp)
	waitFor(t, func() bool { return c.Snapshot().DiscoveryStats.Responses == 2 })

	if _, n := ev.counts(); n != 1 {
		t.Fatalf("discovered events=%d", n)
	}
	_ = readFrame(t, rx2)
	if want := (wire.Endpoint{Host: "127.0.0.1", Port: port2}).String(); c.Snapshot().Target != want {
		t.Fatalf("target=%s want %s", c.Snapshot().Target, want)
	}
}

// TestStartResolvesViaDiscovery 验证未配置目标时通过发现握手获得目标。
func TestStartResolvesViaDiscovery(t *testing.T) {
	rx, port := sinkConn(t)
	discListen := freeUDPPort(t)
	r := &discovery.Responder{
		Codec:        wire.DefaultCodec(),
		ReceiverIP:   "127.0.0.1",
		ExpectedPort: port,
		ReplyPort:    discListen,
	}
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	ev := &recorder{}
	c := New(Deps{
		Codec:               wire.DefaultCodec(),
		Source:              sensor.NewCell(),
		Addresses:           netinfo.StaticProvider{Addr: netinfo.LocalAddress{IP: net.IPv4(127, 0, 0, 1).To4()}},
		Events:              ev,
		DiscoveryPort:       r.Port(),
		AnnounceDestination: net.IPv4(127, 0, 0, 1),
	})
	err := c.StartTracking(context.Background(), Options{
		SendInterval:        10 * time.Millisecond,
		DiscoveryListenPort: discListen,
		ResolveTimeout:      3 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.StopTracking()
	_ = readFrame(t, rx)
	if _, n := ev.counts(); n != 1 {
		t.Fatalf("discovered events=%d", n)
	}
}

// TestStopAbortsPendingStart 验证阻塞发现期间调用 StopTracking 会取消启动。
func TestStopAbortsPendingStart(t *testing.T) {
	c := New(Deps{
		Codec:               wire.DefaultCodec(),
		Source:              sensor.NewCell(),
		DiscoveryPort:       freeUDPPort(t),
		AnnounceDestination: net.IPv4(127, 0, 0, 1),
	})
	listen := freeUDPPort(t)
	errc := make(chan error, 1)
	go func() {
		errc <- c.StartTracking(context.Background(), Options{
			DiscoveryListenPort: listen,
			ResolveTimeout:      30 * time.Second,
		})
	}()
	waitFor(t, func() bool { return c.State() == status.SessionStarting })
	c.StopTracking()
	select {
	case err := <-errc:
		if !errors.Is(err, hterrors.ErrInvalidConfig) {
			t.Fatalf("expected aborted start, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("start not aborted")
	}
	if c.State() != status.SessionIdle {
		t.Fatalf("state=%s", c.State())
	}
}

// TestSetTargetAndInversionWhileIdle 验证空闲时设置的目标在下一次启动时使用。
func TestSetTargetAndInversionWhileIdle(t *testing.T) {
	rx, port := sinkConn(t)
	c := newController(nil)
	if err := c.SetTarget(wire.Endpoint{Host: "127.0.0.1"}); !errors.Is(err, hterrors.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if err := c.SetTarget(wire.Endpoint{Host: "127.0.0.1", Port: port}); err != nil {
		t.Fatal(err)
	}
	if err := c.StartTracking(context.Background(), Options{SendInterval: 10 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	defer c.StopTracking()
	c.SetInversion(wire.InversionConfig{InvertRoll: true})
	_ = readFrame(t, rx)
	if !c.Snapshot().Inversion.InvertRoll {
		t.Fatal("inversion not applied")
	}
}

func startResponder(t *testing.T, expected, replyPort uint16, seen *atomic.Int64) *discovery.Responder {
	t.Helper()
	r := &discovery.Responder{
		Codec:        wire.DefaultCodec(),
		ReceiverIP:   "127.0.0.1",
		ExpectedPort: expected,
		ReplyPort:    replyPort,
		OnAnnouncement: func(wire.DiscoveryAnnouncement, net.Addr) {
			if seen != nil {
				seen.Add(1)
			}
		},
	}
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Stop)
	return r
}

func discoveringController(ev Events, discPort uint16, defaults Options) *Controller {
	return New(Deps{
		Codec:               wire.DefaultCodec(),
		Source:              sensor.NewCell(),
		Addresses:           netinfo.StaticProvider{Addr: netinfo.LocalAddress{IP: net.IPv4(127, 0, 0, 1).To4()}},
		Events:              ev,
		DiscoveryPort:       discPort,
		AnnounceDestination: net.IPv4(127, 0, 0, 1),
		Defaults:            defaults,
	})
}

// TestContinuousAnnounceAndFindReceiver 验证持续广播驱动重定向、运行中手动查找复用发现监听、停止后不再广播。
func TestContinuousAnnounceAndFindReceiver(t *testing.T) {
	_, port1 := sinkConn(t)
	rx2, port2 := sinkConn(t)
	discListen := freeUDPPort(t)
	var seen atomic.Int64
	r := startResponder(t, port2, discListen, &seen)

	ev := &recorder{}
	c := discoveringController(ev, r.Port(), Options{})
	if err := c.StartTracking(context.Background(), Options{
		TargetHost:            "127.0.0.1",
		TargetPort:            port1,
		SendInterval:          10 * time.Millisecond,
		EnableDiscoveryListen: true,
		DiscoveryListenPort:   discListen,
		AnnounceMode:          status.AnnounceContinuous,
		AnnounceInterval:      20 * time.Millisecond,
	}); err != nil {
		t.Fatal(err)
	}

	want := wire.Endpoint{Host: "127.0.0.1", Port: port2}
	waitFor(t, func() bool { return seen.Load() >= 3 && c.Snapshot().Target == want.String() })
	_ = readFrame(t, rx2)
	if _, n := ev.counts(); n != 1 {
		t.Fatalf("discovered events=%d", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ep, err := c.FindReceiver(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ep != want {
		t.Fatalf("found=%s want %s", ep, want)
	}

	c.StopTracking()
	time.Sleep(50 * time.Millisecond)
	n := seen.Load()
	time.Sleep(150 * time.Millisecond)
	if seen.Load() != n {
		t.Fatalf("announcements after stop: %d -> %d", n, seen.Load())
	}
}

// TestAnnounceOnceDiscoversTarget 验证单次广播模式下应答到达后目标被更新。
func TestAnnounceOnceDiscoversTarget(t *testing.T) {
	_, port1 := sinkConn(t)
	_, port2 := sinkConn(t)
	discListen := freeUDPPort(t)
	var seen atomic.Int64
	r := startResponder(t, port2, discListen, &seen)

	ev := &recorder{}
	c := discoveringController(ev, r.Port(), Options{})
	if err := c.StartTracking(context.Background(), Options{
		TargetHost:            "127.0.0.1",
		TargetPort:            port1,
		SendInterval:          10 * time.Millisecond,
		EnableDiscoveryListen: true,
		DiscoveryListenPort:   discListen,
		AnnounceMode:          status.AnnounceOnce,
	}); err != nil {
		t.Fatal(err)
	}
	defer c.StopTracking()

	want := (wire.Endpoint{Host: "127.0.0.1", Port: port2}).String()
	waitFor(t, func() bool { return c.Snapshot().Target == want })
	time.Sleep(100 * time.Millisecond)
	if seen.Load() != 1 {
		t.Fatalf("announcements=%d", seen.Load())
	}
}

// TestFindReceiverWhileIdle 验证空闲时手动查找临时绑定监听端口，结果成为下一次启动的目标。
func TestFindReceiverWhileIdle(t *testing.T) {
	rx, port := sinkConn(t)
	discListen := freeUDPPort(t)
	r := startResponder(t, port, discListen, nil)

	ev := &recorder{}
	c := discoveringController(ev, r.Port(), Options{DiscoveryListenPort: discListen})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ep, err := c.FindReceiver(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := wire.Endpoint{Host: "127.0.0.1", Port: port}
	if ep != want || c.Snapshot().KnownTarget != want.String() {
		t.Fatalf("found=%s known=%s", ep, c.Snapshot().KnownTarget)
	}
	if c.State() != status.SessionIdle {
		t.Fatalf("state=%s", c.State())
	}

	if err := c.StartTracking(context.Background(), Options{SendInterval: 10 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	defer c.StopTracking()
	_ = readFrame(t, rx)
}

// TestSnapshotDropsPreviousListeners 验证新会话不再展示上一次会话的监听统计。
func TestSnapshotDropsPreviousListeners(t *testing.T) {
	_, port := sinkConn(t)
	ev := &recorder{}
	c := newController(ev)
	listen := freeUDPPort(t)
	if err := c.StartTracking(context.Background(), Options{
		TargetHost:     "127.0.0.1",
		TargetPort:     port,
		ListenPort:     listen,
		SendInterval:   10 * time.Millisecond,
		EnableCommands: true,
	}); err != nil {
		t.Fatal(err)
	}
	sendUDP(t, listen, "$PC-1|COM|vibration_duration=20^")
	waitFor(t, func() bool { n, _ := ev.counts(); return n == 1 })
	c.StopTracking()

	if err := c.StartTracking(context.Background(), Options{
		TargetHost:   "127.0.0.1",
		TargetPort:   port,
		SendInterval: 10 * time.Millisecond,
	}); err != nil {
		t.Fatal(err)
	}
	defer c.StopTracking()
	snap := c.Snapshot()
	if snap.Commands != (command.Stats{}) || snap.CommandLoop != status.LoopStopped {
		t.Fatalf("stale command stats: %+v", snap)
	}
}

// TestUnresolvableDiscoveryIgnored 验证无法解析的应答不会成为已知目标。
func TestUnresolvableDiscoveryIgnored(t *testing.T) {
	ev := &recorder{}
	c := newController(ev)
	c.applyDiscovered(wire.DiscoveryResponse{ReceiverIP: "::1", ExpectedPort: 20103})
	if c.Snapshot().KnownTarget != "" {
		t.Fatalf("known=%s", c.Snapshot().KnownTarget)
	}
	if _, n := ev.counts(); n != 0 {
		t.Fatalf("discovered events=%d", n)
	}
	if err := c.StartTracking(context.Background(), Options{SendInterval: 10 * time.Millisecond}); !errors.Is(err, hterrors.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}
