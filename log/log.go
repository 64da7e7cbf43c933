package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"headtrack-x/config"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var base = logrus.New()

// Init 按配置重置全局 Logger。可重复调用（测试与子命令各自初始化）。
// 参数：
// - cfg: 日志配置；output 取 console/file/both/discard
// 返回：
// - error: 文件目录无法创建或 output 非法
func Init(cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	w, err := openOutput(cfg)
	if err != nil {
		return err
	}
	base.SetLevel(level)
	base.SetFormatter(newFormatter(cfg.Format))
	base.SetOutput(w)
	base.ReplaceHooks(make(logrus.LevelHooks))
	base.AddHook(callerHook{})
	return nil
}

func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{TimestampFormat: timestampLayout}
	}
	return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampLayout}
}

func openOutput(cfg config.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "console":
		return os.Stdout, nil
	case "discard":
		return io.Discard, nil
	case "file", "both":
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, err
		}
		rot := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    max(1, int(cfg.MaxSize.Int64()>>20)),
			MaxAge:     max(1, cfg.MaxAge),
			MaxBackups: 3,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		if strings.EqualFold(cfg.Output, "both") {
			return io.MultiWriter(os.Stdout, rot), nil
		}
		return rot, nil
	default:
		return nil, fmt.Errorf("unknown logging.output: %q", cfg.Output)
	}
}

// L 返回全局 Logger。
func L() *logrus.Logger { return base }

// With 创建带字段的日志 Entry。
func With(fields logrus.Fields) *logrus.Entry { return base.WithFields(fields) }

// callerHook 为每条日志补齐 func 与 ts_ms 字段（已显式设置时保留）。
type callerHook struct{}

func (callerHook) Levels() []logrus.Level { return logrus.AllLevels }

func (callerHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["func"]; !ok {
		if fn := callerName(); fn != "" {
			e.Data["func"] = fn
		}
	}
	if _, ok := e.Data["ts_ms"]; !ok {
		e.Data["ts_ms"] = e.Time.UnixMilli()
	}
	return nil
}

// callerName 跳过 logrus 与本包的栈帧，返回业务调用方函数名。
func callerName() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !strings.Contains(f.Function, "sirupsen/logrus") && !strings.HasPrefix(f.Function, "headtrack-x/log.call") {
			return f.Function
		}
		if !more {
			return ""
		}
	}
}
