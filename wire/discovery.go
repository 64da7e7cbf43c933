package wire

import (
	"fmt"
	"strconv"
	"strings"

	hterrors "headtrack-x/errors"
)

// 发现报文字段名。
const (
	FieldDeviceIP     = "device_ip"
	FieldDevicePort   = "device_port"
	FieldReceiverIP   = "receiver_ip"
	FieldExpectedPort = "expected_port"
)

// EncodeDiscoveryAnnouncement 编码设备端的存在广播。
// 格式：<issuer>-<ver>|device_ip=S&device_port=P
func EncodeDiscoveryAnnouncement(a DiscoveryAnnouncement) []byte {
	b := make([]byte, 0, 96)
	b = append(b, a.Issuer...)
	b = append(b, '-')
	b = append(b, a.Version...)
	b = append(b, '|')
	b = append(b, FieldDeviceIP+"="...)
	b = append(b, a.LocalIP...)
	b = append(b, "&"+FieldDevicePort+"="...)
	b = strconv.AppendUint(b, uint64(a.ListenPort), 10)
	return b
}

// DecodeDiscoveryAnnouncement 解析存在广播（接收端应答器使用）。
// 参数：
// - issuer: 期望的发行方名（为空则不校验）
// - b: 原始数据报
// 返回：
// - DiscoveryAnnouncement: 解析结果
// - error: 发行方不匹配返回 PrefixMismatch；字段缺失返回 IncompleteResponse
func DecodeDiscoveryAnnouncement(issuer string, b []byte) (DiscoveryAnnouncement, error) {
	s := strings.TrimSpace(string(b))
	head, params, ok := strings.Cut(s, "|")
	if !ok {
		return DiscoveryAnnouncement{}, hterrors.Wrap(hterrors.CodeMalformedFrame, "missing |", fmt.Errorf("got=%q", truncate(s, 64)))
	}
	var a DiscoveryAnnouncement
	a.Issuer, a.Version = splitHeader(head)
	if issuer != "" && a.Issuer != issuer {
		return DiscoveryAnnouncement{}, hterrors.Wrap(hterrors.CodePrefixMismatch, "unexpected issuer", fmt.Errorf("issuer=%q", a.Issuer))
	}
	kv := parseParams(params)
	a.LocalIP = kv[FieldDeviceIP]
	raw, ok := kv[FieldDevicePort]
	if a.LocalIP == "" || !ok {
		return DiscoveryAnnouncement{}, hterrors.New(hterrors.CodeIncompleteResponse, "announcement missing device_ip/device_port")
	}
	port, err := parsePort(raw)
	if err != nil {
		return DiscoveryAnnouncement{}, hterrors.Wrap(hterrors.CodeIncompleteResponse, "bad device_port", err)
	}
	a.ListenPort = port
	return a, nil
}

// EncodeDiscoveryResponse 编码接收端的发现应答。
// 格式：<prefix>|receiver_ip=S&expected_port=P
func EncodeDiscoveryResponse(prefix string, r DiscoveryResponse) []byte {
	b := make([]byte, 0, 80)
	b = append(b, prefix...)
	b = append(b, '|')
	b = append(b, FieldReceiverIP+"="...)
	b = append(b, r.ReceiverIP...)
	b = append(b, "&"+FieldExpectedPort+"="...)
	b = strconv.AppendUint(b, uint64(r.ExpectedPort), 10)
	return b
}

// DecodeDiscoveryResponse 解析发现应答。
// 参数：
// - prefix: 期望的应答前缀（如 NITHreceiver）
// - b: 原始数据报
// 返回：
// - DiscoveryResponse: 解析结果
// - error: 前缀不匹配返回 PrefixMismatch（调用方应静默丢弃）；字段缺失/非法返回 IncompleteResponse
func DecodeDiscoveryResponse(prefix string, b []byte) (DiscoveryResponse, error) {
	s := strings.TrimSpace(string(b))
	if !strings.HasPrefix(s, prefix+"|") {
		return DiscoveryResponse{}, hterrors.New(hterrors.CodePrefixMismatch, "unexpected prefix")
	}
	kv := parseParams(s[len(prefix)+1:])
	ip := kv[FieldReceiverIP]
	raw, ok := kv[FieldExpectedPort]
	if ip == "" || !ok {
		return DiscoveryResponse{}, hterrors.New(hterrors.CodeIncompleteResponse, "response missing receiver_ip/expected_port")
	}
	port, err := parsePort(raw)
	if err != nil {
		return DiscoveryResponse{}, hterrors.Wrap(hterrors.CodeIncompleteResponse, "bad expected_port", err)
	}
	return DiscoveryResponse{ReceiverIP: ip, ExpectedPort: port}, nil
}

// EncodeDiscoveryAnnouncement 使用编解码器的发行方与广播版本号编码存在广播。
func (c Codec) EncodeDiscoveryAnnouncement(localIP string, listenPort uint16) []byte {
	return EncodeDiscoveryAnnouncement(DiscoveryAnnouncement{
		Issuer:     c.Issuer,
		Version:    c.AnnounceVersion,
		LocalIP:    localIP,
		ListenPort: listenPort,
	})
}

// DecodeDiscoveryResponse 使用编解码器配置的前缀解析发现应答。
func (c Codec) DecodeDiscoveryResponse(b []byte) (DiscoveryResponse, error) {
	return DecodeDiscoveryResponse(c.ResponsePrefix, b)
}
