package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"headtrack-x/status"
)

const namespace = "headtrack"

// Metrics 汇总遥测/命令/发现/会话的 Prometheus 指标。
// 所有记录方法对 nil 接收者安全，组件未注入指标时可直接调用。
type Metrics struct {
	registry *prometheus.Registry

	framesSent     prometheus.Counter
	sendErrors     prometheus.Counter
	commands       *prometheus.CounterVec
	announcements  *prometheus.CounterVec
	responses      *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	sessionState   *prometheus.GaugeVec
	sessionStarts  prometheus.Counter
}

// New 创建独立注册表下的指标集合（包含 Go 运行时与进程指标）。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "frames_sent_total",
			Help:      "Telemetry frames written to the socket",
		}),
		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "send_errors_total",
			Help:      "Telemetry frames that failed to send",
		}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "received_total",
			Help:      "Vibration command datagrams by result",
		}, []string{"result"}),
		announcements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "announcements_total",
			Help:      "Discovery announcements by result",
		}, []string{"result"}),
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "responses_total",
			Help:      "Discovery responses by result",
		}, []string{"result"}),
		decodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound datagrams dropped by decode failure code",
		}, []string{"component"}),
		sessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		sessionStarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "starts_total",
			Help:      "Successful StartTracking calls",
		}),
	}
	m.SetSessionState(status.SessionIdle)
	return m
}

// Handler 返回 /metrics 的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) FrameSent() {
	if m != nil {
		m.framesSent.Inc()
	}
}

func (m *Metrics) SendError() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

// CommandAccepted / CommandRejected 记录命令监听结果。
func (m *Metrics) CommandAccepted() {
	if m != nil {
		m.commands.WithLabelValues("accepted").Inc()
	}
}

func (m *Metrics) CommandRejected() {
	if m != nil {
		m.commands.WithLabelValues("rejected").Inc()
	}
}

func (m *Metrics) Announced(ok bool) {
	if m != nil {
		m.announcements.WithLabelValues(result(ok)).Inc()
	}
}

func (m *Metrics) Response(ok bool) {
	if m != nil {
		m.responses.WithLabelValues(result(ok)).Inc()
	}
}

func (m *Metrics) DecodeFailure(component string) {
	if m != nil {
		m.decodeFailures.WithLabelValues(component).Inc()
	}
}

// SetSessionState 将当前状态置 1，其余状态置 0。
func (m *Metrics) SetSessionState(s status.SessionState) {
	if m == nil {
		return
	}
	for _, st := range []status.SessionState{status.SessionIdle, status.SessionStarting, status.SessionTracking, status.SessionStopping} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.sessionState.WithLabelValues(string(st)).Set(v)
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessionStarts.Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
