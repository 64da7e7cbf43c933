package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"headtrack-x/config"
	"headtrack-x/transport"
)

// sendCommandCmd 从接收端向设备发送一条振动指令（不做范围校验，便于测试拒绝逻辑）。
func sendCommandCmd(configPath *string) *cobra.Command {
	var (
		to        string
		issuer    string
		version   string
		intensity int
		duration  int
	)
	cmd := &cobra.Command{
		Use:   "send-command",
		Short: "向设备发送测试振动指令",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			host, port, err := config.ParseEndpoint(to)
			if err != nil {
				return err
			}
			addr, err := transport.ResolveUDP(host, uint16(port))
			if err != nil {
				return err
			}
			payload := codecFromConfig(cfg.Protocol).EncodeCommand(issuer, version, intensity, duration)

			conn, err := transport.DialUDP(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			if _, err := conn.WriteTo(payload, addr); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %q to %s\n", payload, addr)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "设备地址 host:port")
	cmd.Flags().StringVar(&issuer, "issuer", "NITHreceiver", "报文发行方")
	cmd.Flags().StringVar(&version, "version", "1.0", "报文版本号")
	cmd.Flags().IntVar(&intensity, "intensity", 200, "振动强度（1-255）")
	cmd.Flags().IntVar(&duration, "duration", 300, "振动时长毫秒（1-10000）")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
