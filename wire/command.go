package wire

import (
	"fmt"
	"strings"

	hterrors "headtrack-x/errors"
)

// 指令字段名。
const (
	FieldVibrationIntensity = "vibration_intensity"
	FieldVibrationDuration  = "vibration_duration"
)

// DecodeCommand 解析并校验一条振动指令。
// 格式：$<issuer>-<ver>|COM|vibration_intensity=1..255&vibration_duration=1..10000^
// 规则：
// - 不以 '$' 开头或不以 '^' 结尾、'|' 分段少于 3 段：MalformedFrame
// - 类型段（大小写不敏感）不是 COM：WrongType
// - 键大小写不敏感，未知键忽略
// - 强度缺失/无法解析/越界：回退为 DefaultIntensity，不影响时长校验
// - 时长缺失/无法解析/越界：InvalidCommand，整条指令作废
// 参数：
// - b: 原始数据报
// 返回：
// - VibrationCommand: 校验后的指令
// - error: 见上
func (c Codec) DecodeCommand(b []byte) (VibrationCommand, error) {
	s := strings.TrimSpace(string(b))
	if len(s) < 2 || !strings.HasPrefix(s, "$") || !strings.HasSuffix(s, "^") {
		return VibrationCommand{}, hterrors.Wrap(hterrors.CodeMalformedFrame, "missing $ or ^", fmt.Errorf("got=%q", truncate(s, 64)))
	}
	parts := strings.Split(s[1:len(s)-1], "|")
	if len(parts) < 3 {
		return VibrationCommand{}, hterrors.Wrap(hterrors.CodeMalformedFrame, "missing parts", fmt.Errorf("parts=%d", len(parts)))
	}
	if !strings.EqualFold(strings.TrimSpace(parts[1]), TypeCommand) {
		return VibrationCommand{}, hterrors.Wrap(hterrors.CodeWrongType, "not COM", fmt.Errorf("type=%q", parts[1]))
	}

	cmd := VibrationCommand{
		Issuer:             strings.TrimSpace(parts[0]),
		Intensity:          c.defaultIntensity(),
		IntensityDefaulted: true,
	}
	params := parseParams(parts[2])

	if raw, ok := params[FieldVibrationIntensity]; ok {
		if n, err := ParseLeadingInt(raw); err == nil && n >= MinIntensity && n <= MaxIntensity {
			cmd.Intensity = uint8(n)
			cmd.IntensityDefaulted = false
		}
	}

	raw, ok := params[FieldVibrationDuration]
	if !ok {
		return VibrationCommand{}, hterrors.New(hterrors.CodeInvalidCommand, "missing vibration_duration")
	}
	n, err := ParseLeadingInt(raw)
	if err != nil {
		return VibrationCommand{}, hterrors.Wrap(hterrors.CodeInvalidCommand, "bad vibration_duration", err)
	}
	if n < MinDurationMs || n > MaxDurationMs {
		return VibrationCommand{}, hterrors.Wrap(hterrors.CodeInvalidCommand, "vibration_duration out of range", fmt.Errorf("duration=%d", n))
	}
	cmd.DurationMs = uint32(n)
	return cmd, nil
}

// EncodeCommand 编码一条振动指令（接收端工具使用）。
// 不做范围校验，便于构造越界报文测试设备端的拒绝逻辑。
func (c Codec) EncodeCommand(issuer, version string, intensity, durationMs int) []byte {
	return []byte(fmt.Sprintf("$%s-%s|%s|%s=%d&%s=%d^",
		issuer, version, TypeCommand,
		FieldVibrationIntensity, intensity,
		FieldVibrationDuration, durationMs))
}

func (c Codec) defaultIntensity() uint8 {
	if c.DefaultIntensity == 0 {
		return DefaultCodec().DefaultIntensity
	}
	return c.DefaultIntensity
}

// truncate 截断过长的报文，避免日志被异常数据报撑爆。
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
