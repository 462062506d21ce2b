package platform

import (
	"errors"
	"fmt"
)

// Code はメディア操作のエラー分類を表す
type Code string

const (
	// CodePermissionDenied はカメラ・マイクの権限拒否を表す
	CodePermissionDenied Code = "permission_denied"
	// CodeDeviceNotFound は指定デバイスが見つからないことを表す
	CodeDeviceNotFound Code = "device_not_found"
	// CodeDeviceBusy はデバイスが他プロセスに使用中であることを表す
	CodeDeviceBusy Code = "device_busy"
	// CodeOverconstrained は要求した制約を満たせないことを表す
	CodeOverconstrained Code = "overconstrained"
	// CodeConstraint はライブ制約の適用失敗を表す
	CodeConstraint Code = "constraint_error"
	// CodeStreamFailed はストリーム取得・操作の失敗を表す
	CodeStreamFailed Code = "stream_failed"
	// CodeCaptureFailed はフレームキャプチャの失敗を表す
	CodeCaptureFailed Code = "capture_failed"
	// CodeInvalidConfig は設定値の検証失敗を表す
	CodeInvalidConfig Code = "invalid_config"
	// CodeVideoSinkNotSet はシンクサーフェス未設定・フレーム未到達を表す
	CodeVideoSinkNotSet Code = "video_sink_not_set"
	// CodeDevices はデバイス列挙・プローブの失敗を表す
	CodeDevices Code = "devices_error"
	// CodeUnknown は分類できない失敗を表す
	CodeUnknown Code = "unknown"
)

// MediaError はエラーコードと元のエラーを保持する
// 全ての公開操作はこの型でエラーを返す
type MediaError struct {
	Code    Code   // エラー分類
	Message string // 呼び出し側向けの説明
	Cause   error  // プラットフォーム由来の元エラー（デバッグ用）
}

// Error は文字列表現を返す
func (e *MediaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap は元のエラーを返す
func (e *MediaError) Unwrap() error {
	return e.Cause
}

// NewError は新しいMediaErrorを作成する
func NewError(code Code, message string, cause error) *MediaError {
	return &MediaError{Code: code, Message: message, Cause: cause}
}

// Errorf はフォーマット付きでMediaErrorを作成する
func Errorf(code Code, format string, args ...interface{}) *MediaError {
	return &MediaError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf はエラーからエラーコードを取り出す
// MediaErrorでない場合はCodeUnknownを返す
func CodeOf(err error) Code {
	var me *MediaError
	if errors.As(err, &me) {
		return me.Code
	}
	return CodeUnknown
}

// ErrPermissionQueryUnsupported は権限クエリが環境でサポートされないことを表す
// 呼び出し側はこのエラーを「prompt」状態に落として継続する
var ErrPermissionQueryUnsupported = errors.New("権限クエリはこの環境でサポートされていません")
