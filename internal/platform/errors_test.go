package platform

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestCodeOf(t *testing.T) {
	direct := Errorf(CodeDeviceBusy, "デバイスが使用中です")
	if CodeOf(direct) != CodeDeviceBusy {
		t.Errorf("Expected device_busy, got %s", CodeOf(direct))
	}

	// %wでラップされても分類は取り出せる
	wrapped := fmt.Errorf("セッション開始に失敗: %w", direct)
	if CodeOf(wrapped) != CodeDeviceBusy {
		t.Errorf("Expected device_busy through wrapping, got %s", CodeOf(wrapped))
	}

	// MediaErrorでないエラーはunknown
	if CodeOf(errors.New("plain error")) != CodeUnknown {
		t.Errorf("Expected unknown for plain error, got %s", CodeOf(errors.New("plain error")))
	}
	if CodeOf(nil) != CodeUnknown {
		t.Errorf("Expected unknown for nil, got %s", CodeOf(nil))
	}
}

func TestMediaError_Unwrap(t *testing.T) {
	cause := os.ErrPermission
	err := NewError(CodePermissionDenied, "カメラを開けません", cause)

	if !errors.Is(err, os.ErrPermission) {
		t.Error("Expected errors.Is to reach the cause")
	}

	// ネストしたMediaErrorは外側の分類が優先される
	outer := NewError(CodeDevices, "プローブに失敗", err)
	if CodeOf(outer) != CodeDevices {
		t.Errorf("Expected outer classification, got %s", CodeOf(outer))
	}
	if !errors.Is(outer, os.ErrPermission) {
		t.Error("Expected errors.Is to reach the cause through nesting")
	}
}

func TestMediaError_Message(t *testing.T) {
	withCause := NewError(CodeStreamFailed, "取得に失敗", errors.New("timeout"))
	if withCause.Error() != "stream_failed: 取得に失敗: timeout" {
		t.Errorf("Unexpected message: %s", withCause.Error())
	}

	withoutCause := Errorf(CodeInvalidConfig, "値が不正です: %d", 42)
	if withoutCause.Error() != "invalid_config: 値が不正です: 42" {
		t.Errorf("Unexpected message: %s", withoutCause.Error())
	}
}
