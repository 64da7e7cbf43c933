package config

import (
	"time"

	"headtrack-x/status"
)

type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Identity  IdentityConfig  `yaml:"identity"`
	Simulator SimulatorConfig `yaml:"simulator"`
	HTTP      HTTPConfig      `yaml:"http"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type SessionConfig struct {
	TargetHost     string        `yaml:"target_host"`
	TargetPort     int           `yaml:"target_port"`
	ListenPort     int           `yaml:"listen_port"`
	SendInterval   time.Duration `yaml:"send_interval"`
	InvertPitch    bool          `yaml:"invert_pitch"`
	InvertYaw      bool          `yaml:"invert_yaw"`
	InvertRoll     bool          `yaml:"invert_roll"`
	Buttons        bool          `yaml:"buttons"`
	EnableCommands bool          `yaml:"enable_commands"`
	AutoStart      bool          `yaml:"auto_start"`
	LossPct        int           `yaml:"loss_pct"`
}

type ProtocolConfig struct {
	Issuer           string `yaml:"issuer"`
	Version          string `yaml:"version"`
	AnnounceVersion  string `yaml:"announce_version"`
	ResponsePrefix   string `yaml:"response_prefix"`
	DefaultIntensity int    `yaml:"default_intensity"`
}

type DiscoveryConfig struct {
	Port             int                 `yaml:"port"`
	ListenPort       int                 `yaml:"listen_port"`
	EnableListener   bool                `yaml:"enable_listener"`
	AnnounceMode     status.AnnounceMode `yaml:"announce_mode"`
	AnnounceInterval time.Duration       `yaml:"announce_interval"`
	ResolveTimeout   time.Duration       `yaml:"resolve_timeout"`
	IPTTL            int                 `yaml:"ipttl"`
}

type IdentityConfig struct {
	DeviceLabel     string        `yaml:"device_label"`
	Interface       string        `yaml:"interface"`
	StaticIP        string        `yaml:"static_ip"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type SimulatorConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Rate         time.Duration `yaml:"rate"`
	AmplitudeDeg float64       `yaml:"amplitude_deg"`
	Period       time.Duration `yaml:"period"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         int           `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level    string   `yaml:"level"`
	Format   string   `yaml:"format"`
	Output   string   `yaml:"output"`
	FilePath string   `yaml:"file_path"`
	MaxSize  ByteSize `yaml:"max_size"`
	MaxAge   int      `yaml:"max_age"`
	Compress bool     `yaml:"compress"`
}
