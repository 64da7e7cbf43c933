package main

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	mqttbridge "headtrack-x/bridge/mqtt"
	"headtrack-x/config"
	"headtrack-x/httpapi"
	htlog "headtrack-x/log"
	"headtrack-x/metrics"
	"headtrack-x/netinfo"
	"headtrack-x/ports"
	"headtrack-x/sensor"
	"headtrack-x/session"
)

type runFlags struct {
	target   string
	lossPct  int
	simulate bool
	start    bool
}

func runCmd(configPath *string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "启动守护进程（遥测发送/指令监听/发现）",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := applyRunFlags(&cfg, f, cmd.Flags().Changed); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runDaemon(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&f.target, "target", "", "接收端地址 host:port（覆盖 session.target_host/target_port，并立即开始跟踪）")
	cmd.Flags().IntVar(&f.lossPct, "loss-pct", 0, "发送侧随机丢包百分比（0-100，用于弱网测试）")
	cmd.Flags().BoolVar(&f.simulate, "simulate", false, "使用合成姿态数据（覆盖 simulator.enabled）")
	cmd.Flags().BoolVar(&f.start, "start", false, "启动后立即开始跟踪（覆盖 session.auto_start）")
	return cmd
}

// applyRunFlags 把命令行覆盖项合并进配置并重新校验。
func applyRunFlags(cfg *config.Config, f runFlags, changed func(string) bool) error {
	if f.target != "" {
		host, port, err := config.ParseEndpoint(f.target)
		if err != nil {
			return err
		}
		cfg.Session.TargetHost, cfg.Session.TargetPort = host, port
		cfg.Session.AutoStart = true
	}
	if changed("loss-pct") {
		cfg.Session.LossPct = f.lossPct
	}
	if changed("simulate") {
		cfg.Simulator.Enabled = f.simulate
	}
	if changed("start") {
		cfg.Session.AutoStart = f.start
	}
	return config.Validate(*cfg)
}

// buildAddresses 根据 identity 配置选择本机地址来源。
func buildAddresses(cfg config.IdentityConfig) (netinfo.AddressProvider, error) {
	if ip := strings.TrimSpace(cfg.StaticIP); ip != "" {
		return netinfo.NewStaticProvider(ip, "")
	}
	return netinfo.InterfaceProvider{Name: cfg.Interface}, nil
}

func runDaemon(ctx context.Context, cfg config.Config) error {
	reqs := []ports.Requirement{}
	if cfg.Session.EnableCommands {
		reqs = append(reqs, ports.Requirement{Name: "command", Network: ports.UDP, Port: cfg.Session.ListenPort})
	}
	if cfg.HTTP.Enabled {
		reqs = append(reqs, ports.Requirement{Name: "http", Network: ports.TCP, Port: ports.PortOf(cfg.HTTP.Addr)})
	}
	if err := ports.Preflight(reqs); err != nil {
		htlog.With(map[string]any{"status": "port_conflict"}).WithError(err).Error("端口占用检测失败")
		return err
	}

	addresses, err := buildAddresses(cfg.Identity)
	if err != nil {
		return err
	}
	identity := netinfo.NewIdentity(netinfo.SanitizeLabel(cfg.Identity.DeviceLabel), addresses, cfg.Identity.RefreshInterval)

	cell := sensor.NewCell()
	if cfg.Simulator.Enabled {
		sim := sensor.NewSimulator(cell, cfg.Simulator.Rate, cfg.Simulator.AmplitudeDeg, cfg.Simulator.Period)
		go sim.Run(ctx)
		htlog.With(map[string]any{"rate": cfg.Simulator.Rate.String(), "status": "simulator_on"}).Info("使用合成姿态数据")
	}

	m := metrics.New()
	events := session.MultiEvents{session.LogEvents{}}
	if cfg.MQTT.Enabled {
		pub, err := mqttbridge.Dial(cfg.MQTT)
		if err != nil {
			return err
		}
		defer pub.Close()
		events = append(events, pub)
	}

	codec := codecFromConfig(cfg.Protocol)
	opts := session.OptionsFromConfig(cfg)
	ctrl := session.New(session.Deps{
		Codec:         codec,
		Source:        cell,
		Identity:      identity,
		Addresses:     addresses,
		Events:        events,
		Metrics:       m,
		DiscoveryPort: uint16(cfg.Discovery.Port),
		IPTTL:         cfg.Discovery.IPTTL,
		LossPct:       cfg.Session.LossPct,
		Defaults:      opts,
	})

	if cfg.HTTP.Enabled {
		srv := httpapi.NewServer(cfg.HTTP.Addr, httpapi.NewRouter(ctrl, opts, m.Handler(), httpapi.WithButtonInput(cell)))
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if cfg.Session.AutoStart {
		if err := ctrl.StartTracking(ctx, opts); err != nil {
			return fmt.Errorf("start tracking: %w", err)
		}
	}

	htlog.With(map[string]any{"version": Version, "status": "ready"}).Info("headtrackd 已就绪")
	<-ctx.Done()
	ctrl.StopTracking()
	return nil
}

// localIP 返回本机局域网地址文本，失败时退回 127.0.0.1。
func localIP(addresses netinfo.AddressProvider) string {
	if a, err := addresses.LocalAddress(); err == nil {
		return a.IP.String()
	}
	return net.IPv4(127, 0, 0, 1).String()
}
