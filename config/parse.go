package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"headtrack-x/status"
)

// 协议默认端口。
const (
	DefaultDiscoveryPort = 20500
	DefaultCommandPort   = 21103
	DefaultTargetPort    = 20103
)

// ValidatePort 校验端口号在 1~65535 之间。
func ValidatePort(p int) error {
	if p <= 0 || p > 65535 {
		return fmt.Errorf("port out of range: %d", p)
	}
	return nil
}

// ParseEndpoint 解析 "host:port" 形式的地址。
// 参数：
// - s: 地址文本
// 返回：
// - host: 主机（IP 或域名）
// - port: 端口
// - error: 解析失败原因
func ParseEndpoint(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return "", 0, fmt.Errorf("invalid endpoint: %q", s)
	}
	if strings.TrimSpace(host) == "" {
		return "", 0, fmt.Errorf("invalid endpoint host: %q", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid endpoint port: %q", portStr)
	}
	if err := ValidatePort(port); err != nil {
		return "", 0, err
	}
	return host, port, nil
}

type ByteSize int64

// Int64 返回字节数的 int64 表达。
func (b ByteSize) Int64() int64 { return int64(b) }

// UnmarshalYAML 支持从 YAML 中解析 ByteSize（如 100MB、2GB、1024B）。
// 参数：
// - value: YAML 节点
// 返回：
// - error: 解析失败原因
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*b = 0
		return nil
	}
	v := strings.TrimSpace(value.Value)
	if v == "" {
		*b = 0
		return nil
	}
	n, err := parseByteSize(v)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// parseByteSize 解析形如 "100MB"/"1.5GB" 的字节数文本。
func parseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		mult = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		mult = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		mult = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	return int64(f * float64(mult)), nil
}

// DefaultConfig 返回一份可用的默认配置（用于未提供配置文件或作为缺省值合并）。
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TargetPort:     DefaultTargetPort,
			ListenPort:     DefaultCommandPort,
			SendInterval:   50 * time.Millisecond,
			EnableCommands: true,
		},
		Protocol: ProtocolConfig{
			Issuer:           "NITHphoneWrapper",
			Version:          "v0.2.0",
			AnnounceVersion:  "1.0",
			ResponsePrefix:   "NITHreceiver",
			DefaultIntensity: 128,
		},
		Discovery: DiscoveryConfig{
			Port:             DefaultDiscoveryPort,
			ListenPort:       DefaultDiscoveryPort,
			EnableListener:   true,
			AnnounceMode:     status.AnnounceOff,
			AnnounceInterval: 2 * time.Second,
			ResolveTimeout:   0,
			IPTTL:            0,
		},
		Identity: IdentityConfig{
			RefreshInterval: 5 * time.Second,
		},
		Simulator: SimulatorConfig{
			Enabled:      false,
			Rate:         10 * time.Millisecond,
			AmplitudeDeg: 30,
			Period:       4 * time.Second,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8620",
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "tcp://127.0.0.1:1883",
			ClientID:    "headtrack-x",
			TopicPrefix: "headtrack",
			QoS:         0,
			Timeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "console",
			FilePath: "/var/log/headtrack-x.log",
			MaxSize:  ByteSize(20 * 1024 * 1024),
			MaxAge:   7,
			Compress: true,
		},
	}
}
