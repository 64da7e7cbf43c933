package status

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type SessionState string

const (
	SessionIdle     SessionState = "Idle"
	SessionStarting SessionState = "Starting"
	SessionTracking SessionState = "Tracking"
	SessionStopping SessionState = "Stopping"
)

// String 返回会话状态文本。
func (s SessionState) String() string { return string(s) }

// ParseSessionState 将文本解析为 SessionState。
// 参数：
// - v: 状态文本（Idle/Starting/Tracking/Stopping）
// 返回：
// - SessionState: 解析结果
// - error: 未知状态时返回错误
func ParseSessionState(v string) (SessionState, error) {
	switch strings.TrimSpace(v) {
	case string(SessionIdle):
		return SessionIdle, nil
	case string(SessionStarting):
		return SessionStarting, nil
	case string(SessionTracking):
		return SessionTracking, nil
	case string(SessionStopping):
		return SessionStopping, nil
	default:
		return "", fmt.Errorf("unknown SessionState: %q", v)
	}
}

// CanTransition 判断会话状态机是否允许 from -> to。
// 合法路径：Idle -> Starting -> Tracking -> Stopping -> Idle，另允许 Starting -> Idle（启动失败回滚）。
func CanTransition(from, to SessionState) bool {
	switch from {
	case SessionIdle:
		return to == SessionStarting
	case SessionStarting:
		return to == SessionTracking || to == SessionIdle
	case SessionTracking:
		return to == SessionStopping
	case SessionStopping:
		return to == SessionIdle
	default:
		return false
	}
}

// MarshalJSON 将 SessionState 编码为 JSON 字符串。
func (s SessionState) MarshalJSON() ([]byte, error) { return json.Marshal(string(s)) }

// UnmarshalJSON 从 JSON 字符串解码为 SessionState。
func (s *SessionState) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseSessionState(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type LoopState string

const (
	LoopStopped LoopState = "Stopped"
	LoopRunning LoopState = "Running"
)

// String 返回工作循环状态文本。
func (s LoopState) String() string { return string(s) }

// ParseLoopState 将文本解析为 LoopState。
// 参数：
// - v: 状态文本（Stopped/Running）
// 返回：
// - LoopState: 解析结果
// - error: 未知状态时返回错误
func ParseLoopState(v string) (LoopState, error) {
	switch strings.TrimSpace(v) {
	case string(LoopStopped):
		return LoopStopped, nil
	case string(LoopRunning):
		return LoopRunning, nil
	default:
		return "", fmt.Errorf("unknown LoopState: %q", v)
	}
}

// MarshalJSON 将 LoopState 编码为 JSON 字符串。
func (s LoopState) MarshalJSON() ([]byte, error) { return json.Marshal(string(s)) }

// UnmarshalJSON 从 JSON 字符串解码为 LoopState。
func (s *LoopState) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseLoopState(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type AnnounceMode string

const (
	AnnounceOff        AnnounceMode = "off"
	AnnounceOnce       AnnounceMode = "once"
	AnnounceContinuous AnnounceMode = "continuous"
)

// String 返回广播模式文本。
func (m AnnounceMode) String() string { return string(m) }

// ParseAnnounceMode 将文本解析为 AnnounceMode（大小写不敏感，空串视为 off）。
func ParseAnnounceMode(v string) (AnnounceMode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", string(AnnounceOff):
		return AnnounceOff, nil
	case string(AnnounceOnce):
		return AnnounceOnce, nil
	case string(AnnounceContinuous):
		return AnnounceContinuous, nil
	default:
		return "", fmt.Errorf("unknown AnnounceMode: %q", v)
	}
}

// UnmarshalYAML 允许在 YAML 中直接书写 announce_mode: continuous。
func (m *AnnounceMode) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*m = AnnounceOff
		return nil
	}
	parsed, err := ParseAnnounceMode(value.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
