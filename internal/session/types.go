package session

import (
	"hitomi/internal/platform"
)

// Status はセッションの動作状態を表す
type Status string

const (
	// StatusIdle はセッションが停止中であることを表す
	StatusIdle Status = "idle"
	// StatusInitializing はストリーム取得中であることを表す
	StatusInitializing Status = "initializing"
	// StatusReady はストリームが確立しキャプチャ可能であることを表す
	StatusReady Status = "ready"
	// StatusError はセッションでエラーが発生したことを表す
	StatusError Status = "error"
)

// State はセッション状態のスナップショットを表す
// 遷移のたびに全体が置き換えられるため、観測側は常に一貫した値を見る
type State struct {
	Status           Status                                            `json:"status"`
	ActiveResolution *platform.Resolution                              `json:"active_resolution,omitempty"`
	Permissions      map[platform.PermissionKind]platform.PermissionValue `json:"permissions"`
	Zoom             *float64                                          `json:"zoom,omitempty"`
	FocusMode        *platform.FocusMode                               `json:"focus_mode,omitempty"`
	TorchEnabled     *bool                                             `json:"torch_enabled,omitempty"`
	Err              *platform.MediaError                              `json:"error,omitempty"`
}

// clone はコピーを返す（マップも複製する）
func (s State) clone() State {
	out := s
	out.Permissions = make(map[platform.PermissionKind]platform.PermissionValue, len(s.Permissions))
	for k, v := range s.Permissions {
		out.Permissions[k] = v
	}
	if s.ActiveResolution != nil {
		r := *s.ActiveResolution
		out.ActiveResolution = &r
	}
	if s.Zoom != nil {
		z := *s.Zoom
		out.Zoom = &z
	}
	if s.FocusMode != nil {
		f := *s.FocusMode
		out.FocusMode = &f
	}
	if s.TorchEnabled != nil {
		t := *s.TorchEnabled
		out.TorchEnabled = &t
	}
	return out
}

// Config はセッションの設定とコールバックを表す
// 各コールバック種別につきハンドラは最大1つ
// コールバックはセッションのロックを保持したまま呼ばれるため、
// コールバック内からControllerのメソッドを同期的に呼び出さないこと
type Config struct {
	DeviceID    string
	Resolutions []platform.Resolution // 優先順（先頭が最優先）
	Sink        *platform.VideoSink   // ホストが供給するシンクサーフェス
	FrameRate   int

	// 部分上書きを可能にするためポインタで保持する（nilは変更なし）
	EnableAudio  *bool
	EnableMirror *bool

	OnStateChange      func(State)
	OnStreamStart      func()
	OnStreamStop       func()
	OnError            func(error)
	OnDeviceChange     func([]platform.DeviceDescriptor)
	OnPermissionChange func(map[platform.PermissionKind]platform.PermissionValue)
}

// merge は部分設定を既存設定へ上書きする
// ゼロ値（nil）のフィールドは既存値を保持する
func (c Config) merge(incoming Config) Config {
	out := c

	if incoming.DeviceID != "" {
		out.DeviceID = incoming.DeviceID
	}
	if incoming.Resolutions != nil {
		out.Resolutions = incoming.Resolutions
	}
	if incoming.Sink != nil {
		out.Sink = incoming.Sink
	}
	if incoming.FrameRate != 0 {
		out.FrameRate = incoming.FrameRate
	}
	if incoming.EnableAudio != nil {
		out.EnableAudio = incoming.EnableAudio
	}
	if incoming.EnableMirror != nil {
		out.EnableMirror = incoming.EnableMirror
	}
	if incoming.OnStateChange != nil {
		out.OnStateChange = incoming.OnStateChange
	}
	if incoming.OnStreamStart != nil {
		out.OnStreamStart = incoming.OnStreamStart
	}
	if incoming.OnStreamStop != nil {
		out.OnStreamStop = incoming.OnStreamStop
	}
	if incoming.OnError != nil {
		out.OnError = incoming.OnError
	}
	if incoming.OnDeviceChange != nil {
		out.OnDeviceChange = incoming.OnDeviceChange
	}
	if incoming.OnPermissionChange != nil {
		out.OnPermissionChange = incoming.OnPermissionChange
	}

	return out
}

// audioEnabled は音声取得の有効状態を返す（既定: 無効）
func (c Config) audioEnabled() bool {
	return c.EnableAudio != nil && *c.EnableAudio
}

// mirrorEnabled はミラーリングの有効状態を返す（既定: 無効）
func (c Config) mirrorEnabled() bool {
	return c.EnableMirror != nil && *c.EnableMirror
}

// Bool は*boolフィールド設定用のヘルパー
func Bool(v bool) *bool {
	return &v
}
