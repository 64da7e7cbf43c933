package command

import (
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	hterrors "headtrack-x/errors"
	"headtrack-x/metrics"
	"headtrack-x/status"
	"headtrack-x/wire"
)

func sendTo(t *testing.T, addr net.Addr, payload string) {
	t.Helper()
	port := addr.(*net.UDPAddr).Port
	c, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}
}

func TestListenerAcceptsAndRejects(t *testing.T) {
	got := make(chan wire.VibrationCommand, 8)
	l := NewListener(wire.DefaultCodec(), func(c wire.VibrationCommand) { got <- c })
	if err := l.Start(0); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()
	if l.State() != status.LoopRunning {
		t.Fatalf("state=%s", l.State())
	}

	sendTo(t, l.Addr(), "garbage")
	sendTo(t, l.Addr(), "$PC-1|COM|vibration_intensity=200^")
	sendTo(t, l.Addr(), "$PC-1|OPR|vibration_duration=10^")
	sendTo(t, l.Addr(), "$PC-1|COM|vibration_intensity=200&vibration_duration=300^")

	select {
	case c := <-got:
		if c.Intensity != 200 || c.DurationMs != 300 || c.IntensityDefaulted {
			t.Fatalf("cmd=%+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no command delivered")
	}

	sendTo(t, l.Addr(), "$PC-1|COM|vibration_duration=50^")
	select {
	case c := <-got:
		if c.Intensity != 128 || !c.IntensityDefaulted {
			t.Fatalf("cmd=%+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no defaulted command delivered")
	}

	st := l.Stats()
	if st.Accepted != 2 || st.Rejected != 3 {
		t.Fatalf("stats=%+v", st)
	}
}

// TestListenerStopIsClean 验证 Stop 后接收错误被吞掉、状态回到 Stopped，且可以重新启动。
func TestListenerStopIsClean(t *testing.T) {
	l := NewListener(wire.DefaultCodec(), nil)
	if err := l.Start(0); err != nil {
		t.Fatal(err)
	}
	port := uint16(l.Addr().(*net.UDPAddr).Port)
	l.Stop()
	l.Stop()
	if l.State() != status.LoopStopped || l.Addr() != nil {
		t.Fatalf("state=%s", l.State())
	}
	if st := l.Stats(); st.RecvErrors != 0 {
		t.Fatalf("shutdown produced errors: %+v", st)
	}
	if err := l.Start(port); err != nil {
		t.Fatalf("restart on same port: %v", err)
	}
	l.Stop()
}

func TestListenerBindConflict(t *testing.T) {
	l := NewListener(wire.DefaultCodec(), nil)
	if err := l.Start(0); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()
	if err := l.Start(0); !errors.Is(err, hterrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestListenerBindFailed(t *testing.T) {
	busy, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	l := NewListener(wire.DefaultCodec(), nil)
	if err := l.Start(uint16(busy.LocalAddr().(*net.UDPAddr).Port)); !errors.Is(err, hterrors.ErrBindFailed) {
		t.Fatalf("expected bind failure, got %v", err)
	}
	if l.State() != status.LoopStopped {
		t.Fatalf("state=%s", l.State())
	}
}

// TestListenerCountsDecodeFailures 验证非法指令计入 decode_failures 与 rejected 指标。
func TestListenerCountsDecodeFailures(t *testing.T) {
	m := metrics.New()
	got := make(chan wire.VibrationCommand, 1)
	l := NewListener(wire.DefaultCodec(), func(c wire.VibrationCommand) { got <- c }, WithMetrics(m))
	if err := l.Start(0); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()

	sendTo(t, l.Addr(), "garbage")
	sendTo(t, l.Addr(), "$PC-1|COM|vibration_duration=0^")
	sendTo(t, l.Addr(), "$PC-1|COM|vibration_duration=40^")
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no command delivered")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`headtrack_decode_failures_total{component="command"} 2`,
		`headtrack_command_received_total{result="rejected"} 2`,
		`headtrack_command_received_total{result="accepted"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in:\n%s", want, body)
		}
	}
}
