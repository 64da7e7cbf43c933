package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	hterrors "headtrack-x/errors"
)

// ListenUDP 在 0.0.0.0:port 上独占绑定 UDP socket（允许发送广播）。
// port 为 0 时由系统分配。
// 参数：
// - ctx: 上下文
// - port: 监听端口
// 返回：
// - *net.UDPConn: 已绑定的 socket
// - error: 端口被占用等绑定失败（CodeBindFailed）
func ListenUDP(ctx context.Context, port uint16) (*net.UDPConn, error) {
	return listen(ctx, port, broadcastControl)
}

// ListenShared 与 ListenUDP 相同，但额外开启 SO_REUSEADDR，
// 允许发现端口被同机的多个进程（例如接收端应答工具）同时绑定。
func ListenShared(ctx context.Context, port uint16) (*net.UDPConn, error) {
	return listen(ctx, port, reuseControl)
}

func listen(ctx context.Context, port uint16, control func(string, string, syscall.RawConn) error) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: control}
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, hterrors.Wrap(hterrors.CodeBindFailed, fmt.Sprintf("udp bind %d failed", port), err)
	}
	return pc.(*net.UDPConn), nil
}

// DialUDP 打开一个未连接的临时 UDP socket（系统分配端口），用于发送。
func DialUDP(ctx context.Context) (*net.UDPConn, error) {
	return ListenUDP(ctx, 0)
}

// ResolveUDP 将 host:port 解析为 UDP 地址。
func ResolveUDP(host string, port uint16) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, hterrors.Wrap(hterrors.CodeInvalidConfig, fmt.Sprintf("resolve %s failed", host), err)
	}
	return addr, nil
}
