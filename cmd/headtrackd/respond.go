package main

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/spf13/cobra"

	"headtrack-x/discovery"
	htlog "headtrack-x/log"
	"headtrack-x/transport"
	"headtrack-x/wire"
)

// respondCmd 在接收端一侧运行：应答设备发现广播，并打印收到的遥测帧。
func respondCmd(configPath *string) *cobra.Command {
	var (
		port      uint16
		ip        string
		discPort  uint16
		replyPort uint16
		quiet     bool
	)
	cmd := &cobra.Command{
		Use:   "respond",
		Short: "接收端联调：应答发现广播并打印遥测",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			codec := codecFromConfig(cfg.Protocol)
			if ip == "" {
				addresses, err := buildAddresses(cfg.Identity)
				if err != nil {
					return err
				}
				ip = localIP(addresses)
			}
			if discPort == 0 {
				discPort = uint16(cfg.Discovery.Port)
			}
			if replyPort == 0 {
				replyPort = uint16(cfg.Discovery.ListenPort)
			}

			r := &discovery.Responder{Codec: codec, ReceiverIP: ip, ExpectedPort: port, ReplyPort: replyPort}
			if err := r.Start(discPort); err != nil {
				return err
			}
			defer r.Stop()

			conn, err := transport.ListenUDP(cmd.Context(), port)
			if err != nil {
				return err
			}
			p := &framePrinter{out: cmd.OutOrStdout(), quiet: quiet}
			rx := transport.NewReceiver("telemetry", conn, p.handle)
			rx.Start()
			defer rx.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "responding as %s, telemetry on :%d, discovery on :%d\n", ip, port, discPort)
			ctx, cancel := signalContext()
			defer cancel()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().Uint16VarP(&port, "port", "p", 20103, "接收遥测的端口（写入 expected_port）")
	cmd.Flags().StringVar(&ip, "ip", "", "写入 receiver_ip 的地址（默认自动探测）")
	cmd.Flags().Uint16Var(&discPort, "disc-port", 0, "监听发现广播的端口（默认 discovery.port）")
	cmd.Flags().Uint16Var(&replyPort, "reply-port", 0, "应答发往设备的端口（默认 discovery.listen_port）")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "不打印每一帧遥测")
	return cmd
}

type framePrinter struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
	count uint64
}

func (p *framePrinter) handle(payload []byte, from net.Addr) {
	f, err := wire.DecodeTelemetry(payload)
	if err != nil {
		htlog.With(map[string]any{"from": from.String(), "status": "frame_rejected"}).WithError(err).Warn("丢弃非法遥测帧")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	if p.quiet {
		return
	}
	s := f.Sample
	fmt.Fprintf(p.out, "#%d %s pitch=%.2f roll=%.2f yaw_vel=%.4f pitch_vel=%.4f roll_vel=%.4f",
		p.count, f.Identity.DeviceLabel, s.PitchDeg, s.RollDeg, s.YawVelocity, s.PitchVelocity, s.RollVelocity)
	if f.Buttons != nil {
		fmt.Fprintf(p.out, " b1=%t b2=%t", f.Buttons.Button1, f.Buttons.Button2)
	}
	fmt.Fprintln(p.out)
}
