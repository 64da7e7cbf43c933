package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"headtrack-x/discovery"
	"headtrack-x/netinfo"
)

func discoverCmd(configPath *string) *cobra.Command {
	var (
		timeout time.Duration
		once    bool
		dest    string
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "发送发现广播并等待接收端应答",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			addresses, err := buildAddresses(cfg.Identity)
			if err != nil {
				return err
			}
			a := &discovery.Announcer{
				Codec:      codecFromConfig(cfg.Protocol),
				Addresses:  addresses,
				Port:       uint16(cfg.Discovery.Port),
				ListenPort: uint16(cfg.Session.ListenPort),
				IPTTL:      cfg.Discovery.IPTTL,
			}
			if dest != "" {
				ip := net.ParseIP(dest)
				if ip == nil {
					return fmt.Errorf("invalid --dest: %q", dest)
				}
				a.Destination = ip
			}
			printAnnounceTarget(cmd, addresses, a)

			ctx, cancel := signalContext()
			defer cancel()
			if once {
				return a.Announce(ctx)
			}
			rctx, rcancel := context.WithTimeout(ctx, timeout)
			defer rcancel()
			ep, err := discovery.Resolve(rctx, a, uint16(cfg.Discovery.ListenPort))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "receiver: %s\n", ep)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "等待应答的超时时间")
	cmd.Flags().BoolVar(&once, "once", false, "只发送一次广播，不等待应答")
	cmd.Flags().StringVar(&dest, "dest", "", "覆盖广播目的地址（默认按本机子网计算）")
	return cmd
}

func printAnnounceTarget(cmd *cobra.Command, addresses netinfo.AddressProvider, a *discovery.Announcer) {
	dst := a.Destination
	if dst == nil {
		if la, err := addresses.LocalAddress(); err == nil {
			dst = discovery.BroadcastAddress(la.IP, la.Mask)
		} else {
			dst = net.IPv4bcast
		}
	}
	port := a.Port
	if port == 0 {
		port = discovery.DefaultPort
	}
	fmt.Fprintf(cmd.OutOrStdout(), "announce: %s:%d (device_ip=%s)\n", dst, port, localIP(addresses))
}
