package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseLeadingInt 解析字段开头的十进制整数，忽略其后紧邻的非数字字符（如 "20103abc"）。
// 开头没有任何数字时直接失败，不做截断猜测。
// 参数：
// - s: 字段值
// 返回：
// - int64: 解析结果
// - error: 无数字或溢出时返回错误
func ParseLeadingInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start {
		return 0, fmt.Errorf("no digits in %q", s)
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return n, nil
}

// parsePort 解析端口字段（1~65535）。
func parsePort(s string) (uint16, error) {
	n, err := ParseLeadingInt(s)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port out of range: %d", n)
	}
	return uint16(n), nil
}

// parseParams 解析 k=v&k=v 形式的参数串；键统一转小写，缺少 '=' 的片段被忽略。
func parseParams(s string) map[string]string {
	out := make(map[string]string)
	for _, kv := range strings.Split(s, "&") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

// formatFixed 以固定小数位输出浮点数，小数点恒为 '.'，不受区域设置影响。
// 舍入规则与现网发送端一致：先取 float64 的最短十进制表示，再按四舍五入（远离零）截断，
// 因此 0.125 输出 0.13 而不是银行家舍入的 0.12。
func formatFixed(dst []byte, v float32, prec int) []byte {
	d := float64(v)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return strconv.AppendFloat(dst, d, 'f', prec, 64)
	}
	intPart, frac, _ := strings.Cut(strconv.FormatFloat(math.Abs(d), 'f', -1, 64), ".")
	digits := intPart + frac
	if len(frac) > prec {
		up := frac[prec] >= '5'
		digits = intPart + frac[:prec]
		if up {
			digits = incDecimal(digits)
		}
	} else {
		digits += strings.Repeat("0", prec-len(frac))
	}
	if math.Signbit(d) {
		dst = append(dst, '-')
	}
	split := len(digits) - prec
	dst = append(dst, digits[:split]...)
	if prec > 0 {
		dst = append(dst, '.')
		dst = append(dst, digits[split:]...)
	}
	return dst
}

// incDecimal 对十进制数字串加一（处理进位）。
func incDecimal(s string) string {
	b := []byte(s)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '9' {
			b[i]++
			return string(b)
		}
		b[i] = '0'
	}
	return "1" + string(b)
}

// splitHeader 将 "issuer-version" 拆分为两段（以最后一个 '-' 为界）。
func splitHeader(h string) (issuer, version string) {
	h = strings.TrimSpace(h)
	i := strings.LastIndexByte(h, '-')
	if i < 0 {
		return h, ""
	}
	return h[:i], h[i+1:]
}
