package discovery

import "net"

// BroadcastAddress 计算子网定向广播地址：(ip & mask) | ^mask。
// 掩码缺失时按 /24 推算；ip 不是 IPv4 时退回有限广播 255.255.255.255。
func BroadcastAddress(ip net.IP, mask net.IPMask) net.IP {
	ip4 := ip.To4()
	if ip4 == nil || ip4.IsUnspecified() {
		return net.IPv4bcast.To4()
	}
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len || isZeroMask(mask) {
		mask = net.CIDRMask(24, 32)
	}
	out := make(net.IP, net.IPv4len)
	for i := range out {
		out[i] = ip4[i]&mask[i] | ^mask[i]
	}
	return out
}

func isZeroMask(m net.IPMask) bool {
	for _, b := range m {
		if b != 0 {
			return false
		}
	}
	return true
}
