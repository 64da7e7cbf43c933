package session

import (
	"strings"
	"time"

	"headtrack-x/config"
	hterrors "headtrack-x/errors"
	"headtrack-x/status"
	"headtrack-x/wire"
)

// Options 描述一次跟踪会话的参数。
type Options struct {
	// TargetHost 为空时依次使用已发现的目标、阻塞发现（ResolveTimeout>0）。
	TargetHost string
	TargetPort uint16
	// ListenPort 是振动指令端口，同时写入发现广播的 device_port。
	ListenPort   uint16
	SendInterval time.Duration
	Inversion    wire.InversionConfig
	Buttons      bool

	EnableCommands        bool
	EnableDiscoveryListen bool
	DiscoveryListenPort   uint16
	AnnounceMode          status.AnnounceMode
	AnnounceInterval      time.Duration
	ResolveTimeout        time.Duration
}

// OptionsFromConfig 从已校验的配置构造会话参数。
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		TargetHost:   strings.TrimSpace(cfg.Session.TargetHost),
		TargetPort:   uint16(cfg.Session.TargetPort),
		ListenPort:   uint16(cfg.Session.ListenPort),
		SendInterval: cfg.Session.SendInterval,
		Inversion: wire.InversionConfig{
			InvertPitch: cfg.Session.InvertPitch,
			InvertYaw:   cfg.Session.InvertYaw,
			InvertRoll:  cfg.Session.InvertRoll,
		},
		Buttons:               cfg.Session.Buttons,
		EnableCommands:        cfg.Session.EnableCommands,
		EnableDiscoveryListen: cfg.Discovery.EnableListener,
		DiscoveryListenPort:   uint16(cfg.Discovery.ListenPort),
		AnnounceMode:          cfg.Discovery.AnnounceMode,
		AnnounceInterval:      cfg.Discovery.AnnounceInterval,
		ResolveTimeout:        cfg.Discovery.ResolveTimeout,
	}
}

// Validate 检查会话参数，失败时返回 InvalidConfig。
func (o Options) Validate() error {
	if o.TargetHost != "" {
		if strings.ContainsAny(o.TargetHost, " |&^$") {
			return hterrors.New(hterrors.CodeInvalidConfig, "malformed target host: "+o.TargetHost)
		}
		if o.TargetPort == 0 {
			return hterrors.New(hterrors.CodeInvalidConfig, "target port is required")
		}
	}
	if o.EnableCommands && o.ListenPort == 0 {
		return hterrors.New(hterrors.CodeInvalidConfig, "listen port is required when commands are enabled")
	}
	if o.EnableDiscoveryListen && o.DiscoveryListenPort == 0 {
		return hterrors.New(hterrors.CodeInvalidConfig, "discovery listen port is required")
	}
	if o.SendInterval < 0 {
		return hterrors.New(hterrors.CodeInvalidConfig, "send interval must not be negative")
	}
	switch o.AnnounceMode {
	case "", status.AnnounceOff, status.AnnounceOnce:
	case status.AnnounceContinuous:
		if o.AnnounceInterval <= 0 {
			return hterrors.New(hterrors.CodeInvalidConfig, "announce interval must be > 0 in continuous mode")
		}
	default:
		return hterrors.New(hterrors.CodeInvalidConfig, "unknown announce mode: "+string(o.AnnounceMode))
	}
	return nil
}
