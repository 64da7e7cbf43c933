package wire

import (
	"fmt"
	"strconv"
	"strings"

	hterrors "headtrack-x/errors"
)

// 遥测字段名。
const (
	FieldHeadPosPitch = "head_pos_pitch"
	FieldHeadPosRoll  = "head_pos_roll"
	FieldHeadVelYaw   = "head_vel_yaw"
	FieldHeadVelPitch = "head_vel_pitch"
	FieldHeadVelRoll  = "head_vel_roll"
	FieldDevice       = "dev"
	FieldPhoneIP      = "phone_ip"
	FieldButton1      = "button1"
	FieldButton2      = "button2"
)

// EncodeTelemetry 编码一帧姿态遥测。
// 格式：$<issuer>-<ver>|OPR|head_pos_pitch=F&head_pos_roll=F&head_vel_yaw=F&head_vel_pitch=F&head_vel_roll=F^dev=S&phone_ip=S[&button1=B&button2=B]
// 规则：
// - 俯仰角与偏航角速度按反转配置取反；横滚仅在 InvertRoll 时取反，其余轴原样输出
// - 位置字段保留 2 位小数，速度字段保留 4 位小数
// - buttons 为 nil 时不输出按键字段
// 参数：
// - s: 最新姿态样本
// - buttons: 按键状态（可为 nil）
// - inv: 反转配置
// - id: 设备身份元数据
func (c Codec) EncodeTelemetry(s OrientationSample, buttons *ButtonState, inv InversionConfig, id DeviceIdentity) []byte {
	pitch := s.PitchDeg
	if inv.InvertPitch {
		pitch = -pitch
	}
	yaw := s.YawVelocity
	if inv.InvertYaw {
		yaw = -yaw
	}
	roll := s.RollDeg
	if inv.InvertRoll {
		roll = -roll
	}

	b := make([]byte, 0, 192)
	b = append(b, '$')
	b = append(b, c.Issuer...)
	b = append(b, '-')
	b = append(b, c.Version...)
	b = append(b, '|')
	b = append(b, TypeTelemetry...)
	b = append(b, '|')
	b = appendFloatField(b, FieldHeadPosPitch, pitch, 2)
	b = append(b, '&')
	b = appendFloatField(b, FieldHeadPosRoll, roll, 2)
	b = append(b, '&')
	b = appendFloatField(b, FieldHeadVelYaw, yaw, 4)
	b = append(b, '&')
	b = appendFloatField(b, FieldHeadVelPitch, s.PitchVelocity, 4)
	b = append(b, '&')
	b = appendFloatField(b, FieldHeadVelRoll, s.RollVelocity, 4)
	b = append(b, '^')
	b = append(b, FieldDevice+"="...)
	b = append(b, id.DeviceLabel...)
	b = append(b, "&"+FieldPhoneIP+"="...)
	b = append(b, id.LocalIP...)
	if buttons != nil {
		b = append(b, "&"+FieldButton1+"="...)
		b = strconv.AppendBool(b, buttons.Button1)
		b = append(b, "&"+FieldButton2+"="...)
		b = strconv.AppendBool(b, buttons.Button2)
	}
	return b
}

func appendFloatField(b []byte, key string, v float32, prec int) []byte {
	b = append(b, key...)
	b = append(b, '=')
	return formatFixed(b, v, prec)
}

// TelemetryFrame 是接收端视角下解析出的一帧遥测。
type TelemetryFrame struct {
	Issuer   string
	Version  string
	Sample   OrientationSample
	Identity DeviceIdentity
	Buttons  *ButtonState
}

// DecodeTelemetry 解析遥测帧（接收端模拟器与测试使用）。
// 返回：
// - TelemetryFrame: 解析结果（Sample.Timestamp 为空）
// - error: 帧格式错误返回 MalformedFrame；类型不为 OPR 返回 WrongType
func DecodeTelemetry(b []byte) (TelemetryFrame, error) {
	s := strings.TrimSpace(string(b))
	if !strings.HasPrefix(s, "$") {
		return TelemetryFrame{}, hterrors.Wrap(hterrors.CodeMalformedFrame, "missing $", fmt.Errorf("got=%q", s))
	}
	body, meta, ok := strings.Cut(s[1:], "^")
	if !ok {
		return TelemetryFrame{}, hterrors.Wrap(hterrors.CodeMalformedFrame, "missing ^", fmt.Errorf("got=%q", s))
	}
	parts := strings.Split(body, "|")
	if len(parts) < 3 {
		return TelemetryFrame{}, hterrors.New(hterrors.CodeMalformedFrame, "missing parts")
	}
	if !strings.EqualFold(strings.TrimSpace(parts[1]), TypeTelemetry) {
		return TelemetryFrame{}, hterrors.Wrap(hterrors.CodeWrongType, "not OPR", fmt.Errorf("type=%q", parts[1]))
	}

	var f TelemetryFrame
	f.Issuer, f.Version = splitHeader(parts[0])
	params := parseParams(parts[2])
	fields := []struct {
		key string
		dst *float32
	}{
		{FieldHeadPosPitch, &f.Sample.PitchDeg},
		{FieldHeadPosRoll, &f.Sample.RollDeg},
		{FieldHeadVelYaw, &f.Sample.YawVelocity},
		{FieldHeadVelPitch, &f.Sample.PitchVelocity},
		{FieldHeadVelRoll, &f.Sample.RollVelocity},
	}
	for _, fd := range fields {
		raw, ok := params[fd.key]
		if !ok {
			return TelemetryFrame{}, hterrors.Wrap(hterrors.CodeMalformedFrame, "missing field", fmt.Errorf("key=%s", fd.key))
		}
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return TelemetryFrame{}, hterrors.Wrap(hterrors.CodeMalformedFrame, "bad float field", err)
		}
		*fd.dst = float32(v)
	}

	m := parseParams(meta)
	f.Identity = DeviceIdentity{DeviceLabel: m[FieldDevice], LocalIP: m[FieldPhoneIP]}
	b1, ok1 := m[FieldButton1]
	b2, ok2 := m[FieldButton2]
	if ok1 || ok2 {
		f.Buttons = &ButtonState{
			Button1: strings.EqualFold(b1, "true"),
			Button2: strings.EqualFold(b2, "true"),
		}
	}
	return f, nil
}
