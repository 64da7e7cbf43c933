package ports

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	hterrors "headtrack-x/errors"
)

type Network string

const (
	UDP Network = "udp"
	TCP Network = "tcp"
)

// Requirement 描述一个启动前需要确认可用的端口。
type Requirement struct {
	Name    string
	Network Network
	Port    int
}

// CheckTCPPortAvailable 检测 TCP 端口是否可用（通过尝试监听并立即关闭）。
// 参数：
// - port: 端口号
// 返回：
// - error: 端口不可用或监听失败原因
func CheckTCPPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return err
	}
	_ = ln.Close()
	return nil
}

// CheckUDPPortAvailable 检测 UDP 端口是否可用（通过尝试绑定并立即关闭）。
// 参数：
// - port: 端口号
// 返回：
// - error: 端口不可用或绑定失败原因
func CheckUDPPortAvailable(port int) error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	c, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	_ = c.SetDeadline(time.Now())
	_ = c.Close()
	return nil
}

// Preflight 逐个检查端口，汇总所有不可用的端口后一次返回（BindFailed）。
// 端口为 0 的项跳过。
func Preflight(reqs []Requirement) error {
	var errs []error
	var names []string
	for _, r := range reqs {
		if r.Port == 0 {
			continue
		}
		var err error
		switch r.Network {
		case TCP:
			err = CheckTCPPortAvailable(r.Port)
		default:
			err = CheckUDPPortAvailable(r.Port)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s/%d: %w", r.Name, r.networkName(), r.Port, err))
			names = append(names, r.Name)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return hterrors.Wrap(hterrors.CodeBindFailed, "ports unavailable: "+strings.Join(names, ","), errors.Join(errs...))
}

func (r Requirement) networkName() string {
	if r.Network == "" {
		return string(UDP)
	}
	return string(r.Network)
}

// PortOf 从 host:port 文本中取端口，失败返回 0。
func PortOf(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
