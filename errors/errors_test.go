package errors

import (
	"errors"
	"fmt"
	"testing"
)

// TestCodeAndWrap 验证 Wrap/Code/errors.Is 的基础行为。
func TestCodeAndWrap(t *testing.T) {
	base := errors.New("x")
	e := Wrap(CodeConflict, "conflict", base)
	if Code(e) != CodeConflict {
		t.Fatalf("code=%d", Code(e))
	}
	if !errors.Is(e, base) {
		t.Fatalf("unwrap failed")
	}
}

// TestWithMessageAndCodeFallback 验证 WithMessage 及默认错误码回退。
func TestWithMessageAndCodeFallback(t *testing.T) {
	base := errors.New("x")
	w := WithMessage(base, "ctx")
	if w == nil {
		t.Fatalf("expected error")
	}
	if Code(base) != CodeInternal {
		t.Fatalf("expected default code")
	}
	if Code(nil) != 0 {
		t.Fatalf("expected code 0 for nil")
	}
	if WithMessage(nil, "ctx") != nil {
		t.Fatalf("expected nil")
	}
}

// TestSentinelMatchByCode 验证哨兵错误按错误码匹配，且可穿透 fmt.Errorf 包装。
func TestSentinelMatchByCode(t *testing.T) {
	e := Wrap(CodeMalformedFrame, "missing $ or ^", fmt.Errorf("got=%q", "x"))
	if !errors.Is(e, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame match")
	}
	if errors.Is(e, ErrWrongType) {
		t.Fatalf("unexpected ErrWrongType match")
	}
	wrapped := fmt.Errorf("datagram: %w", e)
	if !errors.Is(wrapped, ErrMalformedFrame) {
		t.Fatalf("expected match through fmt wrap")
	}
	if Code(WithMessage(e, "ctx")) != CodeMalformedFrame {
		t.Fatalf("code lost")
	}
}

// TestIsDecodeFailure 验证解码类错误的分类。
func TestIsDecodeFailure(t *testing.T) {
	for _, err := range []error{ErrMalformedFrame, ErrWrongType, ErrIncompleteResponse, ErrPrefixMismatch, ErrInvalidCommand} {
		if !IsDecodeFailure(err) {
			t.Fatalf("expected decode failure: %v", err)
		}
	}
	for _, err := range []error{nil, ErrInvalidConfig, ErrTransport, errors.New("x")} {
		if IsDecodeFailure(err) {
			t.Fatalf("unexpected decode failure: %v", err)
		}
	}
}
