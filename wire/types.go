package wire

import (
	"net"
	"strconv"
	"time"
)

// Endpoint 是一个已解析的 UDP 目标（按值比较）。
type Endpoint struct {
	Host string
	Port uint16
}

// String 返回 host:port 形式（IPv6 自动加方括号）。
func (e Endpoint) String() string { return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port))) }

// IsZero 判断是否为未配置的目标。
func (e Endpoint) IsZero() bool { return e.Host == "" && e.Port == 0 }

// OrientationSample 是传感器协作方产出的最新姿态。
// 角度单位为度，角速度单位为 rad/s。
type OrientationSample struct {
	PitchDeg      float32
	RollDeg       float32
	YawVelocity   float32
	PitchVelocity float32
	RollVelocity  float32
	Timestamp     time.Time
}

type ButtonState struct {
	Button1 bool
	Button2 bool
}

// InversionConfig 仅在编码时生效，不修改原始样本。
type InversionConfig struct {
	InvertPitch bool
	InvertYaw   bool
	InvertRoll  bool
}

type DeviceIdentity struct {
	DeviceLabel string
	LocalIP     string
}

type DiscoveryAnnouncement struct {
	Issuer     string
	Version    string
	LocalIP    string
	ListenPort uint16
}

type DiscoveryResponse struct {
	ReceiverIP   string
	ExpectedPort uint16
}

// Endpoint 将发现响应转换为遥测目标。
func (r DiscoveryResponse) Endpoint() Endpoint {
	return Endpoint{Host: r.ReceiverIP, Port: r.ExpectedPort}
}

// VibrationCommand 是一次经过校验的触觉反馈指令。
// IntensityDefaulted 表示报文中的强度缺失或越界，已回退为默认强度。
type VibrationCommand struct {
	Issuer             string
	Intensity          uint8
	DurationMs         uint32
	IntensityDefaulted bool
}

// Duration 返回振动时长。
func (c VibrationCommand) Duration() time.Duration {
	return time.Duration(c.DurationMs) * time.Millisecond
}

// 指令取值范围。
const (
	MinIntensity  = 1
	MaxIntensity  = 255
	MinDurationMs = 1
	MaxDurationMs = 10000
)

// 报文类型。
const (
	TypeTelemetry = "OPR"
	TypeCommand   = "COM"
	TypeDiscovery = "DIS"
)

// Codec 持有报文头部的发行方/版本信息；编解码本身无状态、无 I/O。
type Codec struct {
	Issuer           string
	Version          string
	AnnounceVersion  string
	ResponsePrefix   string
	DefaultIntensity uint8
}

// DefaultCodec 返回与现网接收端兼容的默认编解码参数。
func DefaultCodec() Codec {
	return Codec{
		Issuer:           "NITHphoneWrapper",
		Version:          "v0.2.0",
		AnnounceVersion:  "1.0",
		ResponsePrefix:   "NITHreceiver",
		DefaultIntensity: 128,
	}
}
