package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"headtrack-x/status"
)

// Load 从 YAML 文件读取并解析配置，并做基础校验与默认值补齐。
// 参数：
// - path: 配置文件路径
// 返回：
// - Config: 合并默认值后的配置
// - error: 读取/解析/校验失败原因
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg = applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 校验配置字段合法性（端口范围、周期、日志输出等）。
// 说明：
// - session.target_host 允许为空（由发现流程补齐目标）
// 参数：
// - cfg: 待校验配置
// 返回：
// - error: 校验失败原因
func Validate(cfg Config) error {
	if err := ValidatePort(cfg.Session.TargetPort); err != nil {
		return fmt.Errorf("invalid session.target_port: %w", err)
	}
	if err := ValidatePort(cfg.Session.ListenPort); err != nil {
		return fmt.Errorf("invalid session.listen_port: %w", err)
	}
	if h := strings.TrimSpace(cfg.Session.TargetHost); h != "" && strings.ContainsAny(h, " |&^$") {
		return fmt.Errorf("invalid session.target_host: %q", h)
	}
	if cfg.Session.SendInterval <= 0 {
		return fmt.Errorf("invalid session.send_interval: %s", cfg.Session.SendInterval)
	}
	if cfg.Session.LossPct < 0 || cfg.Session.LossPct > 100 {
		return fmt.Errorf("invalid session.loss_pct: %d", cfg.Session.LossPct)
	}
	if strings.TrimSpace(cfg.Protocol.Issuer) == "" || strings.ContainsAny(cfg.Protocol.Issuer, "|&^$") {
		return fmt.Errorf("invalid protocol.issuer: %q", cfg.Protocol.Issuer)
	}
	if strings.TrimSpace(cfg.Protocol.ResponsePrefix) == "" || strings.Contains(cfg.Protocol.ResponsePrefix, "|") {
		return fmt.Errorf("invalid protocol.response_prefix: %q", cfg.Protocol.ResponsePrefix)
	}
	if cfg.Protocol.DefaultIntensity < 1 || cfg.Protocol.DefaultIntensity > 255 {
		return fmt.Errorf("invalid protocol.default_intensity: %d", cfg.Protocol.DefaultIntensity)
	}
	if err := ValidatePort(cfg.Discovery.Port); err != nil {
		return fmt.Errorf("invalid discovery.port: %w", err)
	}
	if err := ValidatePort(cfg.Discovery.ListenPort); err != nil {
		return fmt.Errorf("invalid discovery.listen_port: %w", err)
	}
	if _, err := status.ParseAnnounceMode(string(cfg.Discovery.AnnounceMode)); err != nil {
		return fmt.Errorf("invalid discovery.announce_mode: %w", err)
	}
	if cfg.Discovery.AnnounceMode == status.AnnounceContinuous && cfg.Discovery.AnnounceInterval <= 0 {
		return fmt.Errorf("invalid discovery.announce_interval: %s", cfg.Discovery.AnnounceInterval)
	}
	if cfg.Discovery.IPTTL < 0 || cfg.Discovery.IPTTL > 255 {
		return fmt.Errorf("invalid discovery.ipttl: %d", cfg.Discovery.IPTTL)
	}
	if ip := strings.TrimSpace(cfg.Identity.StaticIP); ip != "" && net.ParseIP(ip) == nil {
		return fmt.Errorf("invalid identity.static_ip: %q", ip)
	}
	if cfg.Simulator.Enabled && cfg.Simulator.Rate <= 0 {
		return fmt.Errorf("invalid simulator.rate: %s", cfg.Simulator.Rate)
	}
	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return fmt.Errorf("http.addr is required when http.enabled=true")
	}
	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enabled=true")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("invalid mqtt.qos: %d", cfg.MQTT.QoS)
		}
	}
	if cfg.Logging.Output == "file" && cfg.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when output=file")
	}
	return nil
}

// applyDefaults 为 YAML 中显式置空的字段回填默认值。
func applyDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = def.Logging.Output
	}
	if cfg.Protocol.Version == "" {
		cfg.Protocol.Version = def.Protocol.Version
	}
	if cfg.Protocol.AnnounceVersion == "" {
		cfg.Protocol.AnnounceVersion = def.Protocol.AnnounceVersion
	}
	if cfg.Discovery.AnnounceMode == "" {
		cfg.Discovery.AnnounceMode = status.AnnounceOff
	}
	if cfg.Identity.RefreshInterval <= 0 {
		cfg.Identity.RefreshInterval = def.Identity.RefreshInterval
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}
	if cfg.MQTT.Timeout <= 0 {
		cfg.MQTT.Timeout = def.MQTT.Timeout
	}
	return cfg
}
