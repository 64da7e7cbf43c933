package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"headtrack-x/config"
	hterrors "headtrack-x/errors"
	htlog "headtrack-x/log"
	"headtrack-x/session"
	"headtrack-x/wire"
)

// Tracker 是 HTTP 接口依赖的会话能力（由 session.Controller 实现）。
type Tracker interface {
	StartTracking(ctx context.Context, opts session.Options) error
	StopTracking()
	FindReceiver(ctx context.Context) (wire.Endpoint, error)
	SetTarget(ep wire.Endpoint) error
	SetInversion(inv wire.InversionConfig)
	Snapshot() session.Snapshot
}

// DefaultFindTimeout 是 /discovery/announce 等待应答的默认时长。
const DefaultFindTimeout = 5 * time.Second

// ButtonSink 接收外部注入的按键状态（由 sensor.Cell 实现）。
type ButtonSink interface {
	StoreButtons(b wire.ButtonState)
}

type Option func(*handler)

// WithButtonInput 开启 PUT /buttons，无硬件按键时用于驱动按键变体的遥测字段。
func WithButtonInput(sink ButtonSink) Option { return func(h *handler) { h.buttons = sink } }

type handler struct {
	tracker     Tracker
	buttons     ButtonSink
	defaults    session.Options
	findTimeout time.Duration
}

// NewRouter 创建本地控制接口的路由。
// 参数：
// - t: 会话控制器
// - defaults: /tracking/start 未提供参数时使用的会话参数
// - metrics: /metrics 处理器（可为 nil）
// - opts: 可选路由
func NewRouter(t Tracker, defaults session.Options, metrics http.Handler, opts ...Option) http.Handler {
	h := &handler{tracker: t, defaults: defaults, findTimeout: DefaultFindTimeout}
	for _, o := range opts {
		o(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/status", h.status)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Route("/tracking", func(r chi.Router) {
		r.Post("/start", h.start)
		r.Post("/stop", h.stop)
	})
	r.Put("/target", h.setTarget)
	r.Put("/inversion", h.setInversion)
	if h.buttons != nil {
		r.Put("/buttons", h.setButtons)
	}
	r.Post("/discovery/announce", h.announce)
	return r
}

type startRequest struct {
	Target string `json:"target"`
}

type targetRequest struct {
	Target string `json:"target"`
}

type inversionRequest struct {
	InvertPitch bool `json:"invert_pitch"`
	InvertYaw   bool `json:"invert_yaw"`
	InvertRoll  bool `json:"invert_roll"`
}

type buttonsRequest struct {
	Button1 bool `json:"button1"`
	Button2 bool `json:"button2"`
}

type errorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Snapshot())
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	opts := h.defaults
	var req startRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, hterrors.Wrap(hterrors.CodeInvalidConfig, "bad request body", err))
		return
	}
	if req.Target != "" {
		host, port, err := config.ParseEndpoint(req.Target)
		if err != nil {
			writeError(w, hterrors.Wrap(hterrors.CodeInvalidConfig, "bad target", err))
			return
		}
		opts.TargetHost, opts.TargetPort = host, uint16(port)
	}
	if err := h.tracker.StartTracking(r.Context(), opts); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.Snapshot())
}

func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	h.tracker.StopTracking()
	writeJSON(w, http.StatusOK, h.tracker.Snapshot())
}

func (h *handler) setTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, hterrors.Wrap(hterrors.CodeInvalidConfig, "bad request body", err))
		return
	}
	host, port, err := config.ParseEndpoint(req.Target)
	if err != nil {
		writeError(w, hterrors.Wrap(hterrors.CodeInvalidConfig, "bad target", err))
		return
	}
	if err := h.tracker.SetTarget(wire.Endpoint{Host: host, Port: uint16(port)}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.Snapshot())
}

func (h *handler) setInversion(w http.ResponseWriter, r *http.Request) {
	var req inversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, hterrors.Wrap(hterrors.CodeInvalidConfig, "bad request body", err))
		return
	}
	h.tracker.SetInversion(wire.InversionConfig{InvertPitch: req.InvertPitch, InvertYaw: req.InvertYaw, InvertRoll: req.InvertRoll})
	writeJSON(w, http.StatusOK, h.tracker.Snapshot())
}

func (h *handler) setButtons(w http.ResponseWriter, r *http.Request) {
	var req buttonsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, hterrors.Wrap(hterrors.CodeInvalidConfig, "bad request body", err))
		return
	}
	h.buttons.StoreButtons(wire.ButtonState{Button1: req.Button1, Button2: req.Button2})
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) announce(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.findTimeout)
	defer cancel()
	ep, err := h.tracker.FindReceiver(ctx)
	if err != nil {
		if ctx.Err() != nil {
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Code: hterrors.Code(err), Error: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"target": ep.String()})
}

// decodeOptional 允许空请求体。
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeError(w http.ResponseWriter, err error) {
	code := hterrors.Code(err)
	st := http.StatusInternalServerError
	switch code {
	case hterrors.CodeInvalidConfig:
		st = http.StatusBadRequest
	case hterrors.CodeBindFailed, hterrors.CodeConflict:
		st = http.StatusConflict
	}
	writeJSON(w, st, errorResponse{Code: code, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		htlog.With(map[string]any{
			"method":     r.Method,
			"path":       r.URL.Path,
			"code":       ww.Status(),
			"cost_ms":    time.Since(start).Milliseconds(),
			"request_id": middleware.GetReqID(r.Context()),
			"status":     "http_request",
		}).Debug("http 请求")
	})
}

// Server 包装 http.Server，监听失败在 Start 中同步返回。
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// NewServer 创建控制接口服务。
func NewServer(addr string, h http.Handler) *Server {
	return &Server{srv: &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}}
}

// Start 监听并在后台提供服务。
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return hterrors.Wrap(hterrors.CodeBindFailed, "http listen failed", err)
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			htlog.With(map[string]any{"addr": s.srv.Addr, "status": "http_error"}).WithError(err).Error("http 服务异常退出")
		}
	}()
	htlog.With(map[string]any{"addr": ln.Addr().String(), "status": "listen_ok"}).Info("控制接口已启动")
	return nil
}

// Addr 返回实际监听地址。
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown 优雅关闭。
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
