package discovery

import (
	"context"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"headtrack-x/config"
	hterrors "headtrack-x/errors"
	htlog "headtrack-x/log"
	"headtrack-x/metrics"
	"headtrack-x/netinfo"
	"headtrack-x/transport"
	"headtrack-x/wire"
)

// Announcer 向子网广播设备存在报文：<issuer>-<ver>|device_ip=X&device_port=P。
// 与 Listener 相互独立：可以只广播不监听，反之亦然。
type Announcer struct {
	Codec     wire.Codec
	Addresses netinfo.AddressProvider
	// Port 是接收端监听广播的端口。
	Port uint16
	// ListenPort 写入 device_port，告知接收端本机的指令端口；为 0 时使用默认指令端口。
	ListenPort uint16
	// IPTTL > 0 时设置发送 socket 的 IP TTL。
	IPTTL int
	// Destination 非空时替代计算出的广播地址（点对点或测试场景）。
	Destination net.IP
	Metrics     *metrics.Metrics
}

// Announce 使用一个临时 socket 发送一次广播后关闭。
func (a *Announcer) Announce(ctx context.Context) error {
	conn, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return a.send(conn)
}

// Run 用同一个 socket 立即广播并按 interval 周期重复，直到 ctx 结束。
// 单次发送失败只记录日志，不终止循环。
func (a *Announcer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return hterrors.New(hterrors.CodeInvalidConfig, "announce interval must be > 0")
	}
	conn, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := a.send(conn); err != nil {
			htlog.With(map[string]any{"status": "announce_error"}).WithError(err).Warn("发现广播发送失败")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (a *Announcer) open(ctx context.Context) (*net.UDPConn, error) {
	conn, err := transport.DialUDP(ctx)
	if err != nil {
		return nil, err
	}
	if a.IPTTL > 0 {
		if err := ipv4.NewPacketConn(conn).SetTTL(a.IPTTL); err != nil {
			htlog.With(map[string]any{"ttl": a.IPTTL, "status": "ttl_error"}).WithError(err).Warn("设置 IP TTL 失败")
		}
	}
	return conn, nil
}

func (a *Announcer) send(conn net.PacketConn) error {
	payload, dst := a.build()
	_, err := conn.WriteTo(payload, dst)
	a.Metrics.Announced(err == nil)
	if err != nil {
		return hterrors.Wrap(hterrors.CodeTransport, "announce send failed", err)
	}
	htlog.With(map[string]any{"to": dst.String(), "status": "announce_ok"}).Debug("已发送发现广播")
	return nil
}

// build 每次发送前重新解析本机地址，网络切换后广播地址随之更新。
func (a *Announcer) build() ([]byte, *net.UDPAddr) {
	localIP := netinfo.UnavailableIP
	var bcast net.IP
	if a.Addresses != nil {
		if la, err := a.Addresses.LocalAddress(); err == nil {
			localIP = la.IP.String()
			bcast = BroadcastAddress(la.IP, la.Mask)
		}
	}
	if bcast == nil {
		bcast = net.IPv4bcast
	}
	if a.Destination != nil {
		bcast = a.Destination
	}
	port := a.Port
	if port == 0 {
		port = DefaultPort
	}
	devicePort := a.ListenPort
	if devicePort == 0 {
		devicePort = uint16(config.DefaultCommandPort)
	}
	return a.Codec.EncodeDiscoveryAnnouncement(localIP, devicePort), &net.UDPAddr{IP: bcast, Port: int(port)}
}
