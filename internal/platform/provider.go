package platform

import (
	"context"
	"image"
)

// DeviceKind はデバイスの種別を表す
type DeviceKind string

const (
	// KindVideoInput は映像入力デバイスを表す
	KindVideoInput DeviceKind = "videoinput"
	// KindAudioInput は音声入力デバイスを表す
	KindAudioInput DeviceKind = "audioinput"
)

// DeviceDescriptor は列挙されたデバイスの読み取り専用情報
// 再列挙のたびにコレクション全体が置き換えられる
type DeviceDescriptor struct {
	DeviceID string     // デバイスの一意識別子（例: /dev/video0）
	Label    string     // デバイスの表示名
	Kind     DeviceKind // デバイス種別
}

// PermissionKind は権限の種別を表す
type PermissionKind string

const (
	// PermissionCamera はカメラ権限を表す
	PermissionCamera PermissionKind = "camera"
	// PermissionMicrophone はマイク権限を表す
	PermissionMicrophone PermissionKind = "microphone"
)

// PermissionValue は権限の状態を表す
type PermissionValue string

const (
	// PermissionGranted は権限が許可済みであることを表す
	PermissionGranted PermissionValue = "granted"
	// PermissionDenied は権限が拒否済みであることを表す
	PermissionDenied PermissionValue = "denied"
	// PermissionPrompt は権限が未決定であることを表す
	PermissionPrompt PermissionValue = "prompt"
)

// Resolution はラベル付きの解像度を表す不変値
// 要求にも、実際に確立された解像度の記録にも使われる
type Resolution struct {
	Label  string `json:"label" yaml:"label"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
}

// FocusMode はフォーカスモードを表す
type FocusMode string

const (
	// FocusModeAuto は自動フォーカスを表す
	FocusModeAuto FocusMode = "auto"
	// FocusModeManual は手動フォーカスを表す
	FocusModeManual FocusMode = "manual"
	// FocusModeContinuous は連続自動フォーカスを表す
	FocusModeContinuous FocusMode = "continuous"
)

// MediaConstraints はストリーム取得時の制約を表す
type MediaConstraints struct {
	DeviceID  string // 空の場合はデフォルトデバイス
	Width     int    // 要求する幅（0は未指定）
	Height    int    // 要求する高さ（0は未指定）
	Exact     bool   // trueなら完全一致、falseなら近似（ideal相当）
	FrameRate int    // 要求するフレームレート（0は未指定）
	Audio     bool   // 音声トラックも取得するか
}

// ConstraintPatch はアクティブなトラックへのライブ制約変更を表す
// nilフィールドは変更なしを意味する
type ConstraintPatch struct {
	Zoom      *float64
	Torch     *bool
	FocusMode *FocusMode
}

// TrackCapabilities はトラックの能力範囲を表す
type TrackCapabilities struct {
	MinWidth     int
	MaxWidth     int
	MinHeight    int
	MaxHeight    int
	MinFrameRate float64 // 0は情報なし
	MaxFrameRate float64 // 0は情報なし
	HasZoom      bool
	HasTorch     bool
	HasFocus     bool
	MinZoom      float64
	MaxZoom      float64
	FocusModes   []FocusMode
}

// TrackSettings はトラックの現在の設定値を表す
type TrackSettings struct {
	DeviceID  string
	Width     int
	Height    int
	FrameRate float64
	Zoom      float64
	Torch     bool
	FocusMode FocusMode
}

// Track はストリーム内の単一トラックを表す
type Track interface {
	// Kind はトラック種別を返す
	Kind() DeviceKind

	// Settings は現在の設定値を返す
	Settings() TrackSettings

	// Capabilities はトラックの能力範囲を返す
	Capabilities() TrackCapabilities

	// ApplyConstraints はライブ制約を適用する
	ApplyConstraints(ctx context.Context, patch ConstraintPatch) error

	// GrabFrame は現在のフレームを取得する
	GrabFrame(ctx context.Context) (*image.RGBA, error)

	// Stop はトラックを停止しリソースを解放する
	Stop()
}

// Stream はアクティブなメディアストリームを表す
type Stream interface {
	// ID はストリームの一意識別子を返す
	ID() string

	// VideoTrack は映像トラックを返す（存在しない場合はnil）
	VideoTrack() Track

	// Tracks は全トラックを返す
	Tracks() []Track

	// Stop は全トラックを停止する
	Stop()
}

// BitmapOptions はビットマップ作成時のオプションを表す
type BitmapOptions struct {
	Crop   *image.Rectangle // nilの場合はソース全体
	Width  int              // 出力幅（0はクロップ領域の幅）
	Height int              // 出力高さ（0はクロップ領域の高さ）
}

// Bitmap は呼び出し側が所有する転送可能ビットマップを表す
// 使用後は必ずReleaseを呼ぶこと（ネイティブリソースリーク防止）
type Bitmap interface {
	// Width は幅を返す
	Width() int

	// Height は高さを返す
	Height() int

	// Pixels はピクセルデータを返す（Release後はnil）
	Pixels() *image.RGBA

	// Release はリソースを解放する（二重呼び出しは無害）
	Release()
}

// Provider はホスト環境のメディア・権限・描画能力への統一アクセス口
// 本番実装はV4L2Provider、テスト用実装はFakeProvider
type Provider interface {
	// EnumerateDevices は入力デバイスを列挙する
	EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error)

	// QueryPermission は権限状態を問い合わせる
	// サポートされない種別にはErrPermissionQueryUnsupportedを返す
	QueryPermission(ctx context.Context, kind PermissionKind) (PermissionValue, error)

	// GetUserMedia は制約に従ってストリームを取得する
	GetUserMedia(ctx context.Context, constraints MediaConstraints) (Stream, error)

	// NewSurface は新しいオフスクリーン描画サーフェスを作成する
	NewSurface() Surface

	// NewBitmap はソース画像から転送可能ビットマップを作成する
	NewBitmap(src *image.RGBA, opts BitmapOptions) (Bitmap, error)

	// CreateObjectURL はバイナリデータへの参照URLを作成する
	CreateObjectURL(data []byte, mimeType string) (string, error)

	// RevokeObjectURL は参照URLを無効化しリソースを解放する
	RevokeObjectURL(url string)

	// OnDeviceChange はデバイス構成変更の通知を購読する
	// 返り値の関数で購読を解除する
	OnDeviceChange(fn func()) (unsubscribe func())
}
