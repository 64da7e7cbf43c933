package netinfo

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"headtrack-x/wire"
)

// UnavailableIP 是无法获取本机地址时写入遥测元数据的占位文本。
const UnavailableIP = "Not Available"

// LocalAddress 描述本机在局域网中的 IPv4 地址及子网掩码（Mask 可能为空）。
type LocalAddress struct {
	IP   net.IP
	Mask net.IPMask
}

// AddressProvider 是平台提供的“本机局域网地址”能力。
// 核心逻辑只依赖该接口，不区分热点/WiFi 等具体网络形态。
type AddressProvider interface {
	LocalAddress() (LocalAddress, error)
}

var ErrNoAddress = errors.New("no usable ipv4 address")

// InterfaceProvider 通过枚举网卡获取第一个可用的非回环 IPv4 地址。
// Name 非空时只检查该网卡。
type InterfaceProvider struct {
	Name string

	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

// LocalAddress 实现 AddressProvider。
func (p InterfaceProvider) LocalAddress() (LocalAddress, error) {
	list := p.interfaces
	if list == nil {
		list = net.Interfaces
	}
	addrsOf := p.addrs
	if addrsOf == nil {
		addrsOf = func(i net.Interface) ([]net.Addr, error) { return i.Addrs() }
	}

	ifaces, err := list()
	if err != nil {
		return LocalAddress{}, fmt.Errorf("list interfaces: %w", err)
	}
	for _, ifc := range ifaces {
		if p.Name != "" && ifc.Name != p.Name {
			continue
		}
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := addrsOf(ifc)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipn.IP.To4()
			if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			mask := ipn.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}
			return LocalAddress{IP: ip4, Mask: mask}, nil
		}
	}
	return LocalAddress{}, ErrNoAddress
}

// StaticProvider 返回固定地址（配置 identity.static_ip 或测试时使用）。
type StaticProvider struct {
	Addr LocalAddress
}

// LocalAddress 实现 AddressProvider。
func (p StaticProvider) LocalAddress() (LocalAddress, error) {
	if p.Addr.IP == nil {
		return LocalAddress{}, ErrNoAddress
	}
	return p.Addr, nil
}

// NewStaticProvider 由文本地址创建 StaticProvider；mask 为空表示未知掩码。
func NewStaticProvider(ip, mask string) (StaticProvider, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip)).To4()
	if parsed == nil {
		return StaticProvider{}, fmt.Errorf("invalid ipv4: %q", ip)
	}
	var m net.IPMask
	if strings.TrimSpace(mask) != "" {
		mip := net.ParseIP(strings.TrimSpace(mask)).To4()
		if mip == nil {
			return StaticProvider{}, fmt.Errorf("invalid mask: %q", mask)
		}
		m = net.IPMask(mip)
	}
	return StaticProvider{Addr: LocalAddress{IP: parsed, Mask: m}}, nil
}

// Identity 解析并缓存 DeviceIdentity，缓存过期后在下一次读取时刷新。
type Identity struct {
	label     string
	addresses AddressProvider
	ttl       time.Duration

	mu      sync.Mutex
	cached  wire.DeviceIdentity
	expires time.Time
	now     func() time.Time
}

// NewIdentity 创建设备身份解析器。
// 参数：
// - label: 设备标签（为空时使用主机名）
// - addresses: 本机地址能力
// - ttl: 缓存有效期（<=0 表示每次读取都重新解析）
func NewIdentity(label string, addresses AddressProvider, ttl time.Duration) *Identity {
	if strings.TrimSpace(label) == "" {
		label = DefaultLabel()
	}
	return &Identity{label: label, addresses: addresses, ttl: ttl, now: time.Now}
}

// LocalIdentity 返回设备标签与本机地址（仅作为元数据，不参与路由）。
func (i *Identity) LocalIdentity() wire.DeviceIdentity {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.now()
	if i.cached.LocalIP != "" && now.Before(i.expires) {
		return i.cached
	}
	ip := UnavailableIP
	if i.addresses != nil {
		if a, err := i.addresses.LocalAddress(); err == nil {
			ip = a.IP.String()
		}
	}
	i.cached = wire.DeviceIdentity{DeviceLabel: i.label, LocalIP: ip}
	i.expires = now.Add(i.ttl)
	return i.cached
}

// DefaultLabel 返回默认设备标签（主机名，协议分隔符替换为 '_'）。
func DefaultLabel() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "headtrack"
	}
	return SanitizeLabel(h)
}

// SanitizeLabel 替换会破坏报文分段的字符。
func SanitizeLabel(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '|', '&', '^', '$', '=', ' ':
			return '_'
		}
		return r
	}, s)
}
