package errors

import (
	"errors"
	"fmt"
)

type CodeError struct {
	Code    int
	Message string
	Err     error
}

// Error 返回带错误码的可读文本（用于日志与状态回调）。
func (e *CodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%d %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap 返回底层错误，便于 errors.Is/errors.As 继续判断。
func (e *CodeError) Unwrap() error { return e.Err }

// Is 按错误码匹配，使 errors.Is(err, ErrMalformedFrame) 这类判断不依赖消息文本。
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return t.Code == e.Code
}

// New 构造一个仅包含错误码与消息的 CodeError。
// 参数：
// - code: 错误码
// - msg: 错误描述
func New(code int, msg string) *CodeError { return &CodeError{Code: code, Message: msg} }

// Wrap 将底层错误包装为带错误码的 CodeError。
// 参数：
// - code: 错误码
// - msg: 错误描述
// - err: 底层错误（可为 nil）
func Wrap(code int, msg string, err error) *CodeError {
	if err == nil {
		return &CodeError{Code: code, Message: msg}
	}
	return &CodeError{Code: code, Message: msg, Err: err}
}

// WithMessage 为错误追加上下文消息。
// 规则：
// - 若 err 为 CodeError，则保留 code，仅替换 message 并保留底层 err
// - 否则使用 fmt.Errorf("%s: %w", ...) 保留可追溯性
func WithMessage(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return &CodeError{Code: ce.Code, Message: msg, Err: ce.Err}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Code 提取错误码。
// 返回：
// - 0: err 为 nil
// - CodeError: 返回其中的 Code
// - 其它错误: 默认返回 CodeInternal
func Code(err error) int {
	if err == nil {
		return 0
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

const (
	CodeInternal           = 500
	CodeInvalidConfig      = 501
	CodeMalformedFrame     = 502
	CodeWrongType          = 503
	CodeIncompleteResponse = 504
	CodePrefixMismatch     = 505
	CodeInvalidCommand     = 506
	CodeTransport          = 507
	CodeShutdownRace       = 508
	CodeBindFailed         = 509
	CodeConflict           = 510
)

// 哨兵错误，仅用于 errors.Is 比较（按 Code 匹配）。
var (
	ErrInvalidConfig      = New(CodeInvalidConfig, "invalid config")
	ErrMalformedFrame     = New(CodeMalformedFrame, "malformed frame")
	ErrWrongType          = New(CodeWrongType, "wrong message type")
	ErrIncompleteResponse = New(CodeIncompleteResponse, "incomplete response")
	ErrPrefixMismatch     = New(CodePrefixMismatch, "prefix mismatch")
	ErrInvalidCommand     = New(CodeInvalidCommand, "invalid command")
	ErrTransport          = New(CodeTransport, "transport error")
	ErrShutdownRace       = New(CodeShutdownRace, "receive after shutdown")
	ErrBindFailed         = New(CodeBindFailed, "bind failed")
	ErrConflict           = New(CodeConflict, "conflict")
)

// IsDecodeFailure 判断是否为单个数据报的解码失败（本地记录并丢弃，不向上传播）。
func IsDecodeFailure(err error) bool {
	switch Code(err) {
	case CodeMalformedFrame, CodeWrongType, CodeIncompleteResponse, CodePrefixMismatch, CodeInvalidCommand:
		return true
	default:
		return false
	}
}
