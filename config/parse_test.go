package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"headtrack-x/status"
)

// TestParseEndpoint 验证 host:port 解析行为。
func TestParseEndpoint(t *testing.T) {
	h, p, err := ParseEndpoint("192.168.1.50:20103")
	if err != nil {
		t.Fatal(err)
	}
	if h != "192.168.1.50" || p != 20103 {
		t.Fatalf("bad endpoint: %s %d", h, p)
	}
	for _, bad := range []string{"bad", ":20103", "host:0", "host:70000", "host:x"} {
		if _, _, err := ParseEndpoint(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

// TestByteSizeUnmarshal 验证 ByteSize 支持从 YAML 文本解析（如 100MB）。
func TestByteSizeUnmarshal(t *testing.T) {
	var cfg struct {
		Size ByteSize `yaml:"size"`
	}
	if err := yaml.Unmarshal([]byte("size: 100MB\n"), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Size.Int64() != 100*1024*1024 {
		t.Fatalf("got=%d", cfg.Size.Int64())
	}
}

// TestDefaultConfigValid 验证默认配置可直接通过校验，且默认端口与协议一致。
func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Discovery.Port != 20500 || cfg.Session.ListenPort != 21103 || cfg.Session.TargetPort != 20103 {
		t.Fatalf("unexpected default ports: %+v %+v", cfg.Discovery, cfg.Session)
	}
	if cfg.Session.SendInterval != 50*time.Millisecond {
		t.Fatalf("send_interval=%s", cfg.Session.SendInterval)
	}
}

// TestLoadMergesDefaults 验证 YAML 仅覆盖显式给出的字段。
func TestLoadMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
session:
  target_host: 192.168.1.50
  send_interval: 25ms
  invert_pitch: true
discovery:
  announce_mode: continuous
  announce_interval: 1s
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.TargetHost != "192.168.1.50" || !cfg.Session.InvertPitch {
		t.Fatalf("session not applied: %+v", cfg.Session)
	}
	if cfg.Session.SendInterval != 25*time.Millisecond {
		t.Fatalf("send_interval=%s", cfg.Session.SendInterval)
	}
	if cfg.Session.TargetPort != DefaultTargetPort || cfg.Session.ListenPort != DefaultCommandPort {
		t.Fatalf("defaults lost: %+v", cfg.Session)
	}
	if cfg.Discovery.AnnounceMode != status.AnnounceContinuous || cfg.Discovery.AnnounceInterval != time.Second {
		t.Fatalf("discovery not applied: %+v", cfg.Discovery)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Output != "console" {
		t.Fatalf("logging=%+v", cfg.Logging)
	}
}

// TestValidateRejects 验证非法字段会被拒绝。
func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"target_port":       func(c *Config) { c.Session.TargetPort = 0 },
		"listen_port":       func(c *Config) { c.Session.ListenPort = 70000 },
		"target_host":       func(c *Config) { c.Session.TargetHost = "a|b" },
		"send_interval":     func(c *Config) { c.Session.SendInterval = 0 },
		"issuer":            func(c *Config) { c.Protocol.Issuer = "" },
		"default_intensity": func(c *Config) { c.Protocol.DefaultIntensity = 300 },
		"announce_interval": func(c *Config) {
			c.Discovery.AnnounceMode = status.AnnounceContinuous
			c.Discovery.AnnounceInterval = 0
		},
		"static_ip": func(c *Config) { c.Identity.StaticIP = "not-an-ip" },
		"mqtt_qos": func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.QoS = 3
		},
		"log_file": func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.FilePath = ""
		},
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
