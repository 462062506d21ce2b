// Package device 入力デバイスの列挙・権限管理・能力プローブを担う
//
// # 責務
// - 映像入力デバイスの列挙
// - カメラ・マイク権限の確認と要求
// - 一時ストリームによるデバイス能力のプローブ
//
// # 仕様
// - 権限クエリが非サポートの種別は「prompt」へ縮退する（失敗にしない）
// - 権限要求で開いた一時ストリームは成否に関わらず必ず停止する
// - プローブで開いたストリームは成功・失敗の両経路でクローズする
package device

import (
	"context"
	"fmt"

	"hitomi/internal/platform"
)

// CapabilityDescriptor はプローブで得たデバイスの能力情報
// プローブごとに新規作成され、コアではキャッシュしない
type CapabilityDescriptor struct {
	DeviceID     string               `json:"device_id"`
	Label        string               `json:"label"`
	MinWidth     int                  `json:"min_width"`
	MaxWidth     int                  `json:"max_width"`
	MinHeight    int                  `json:"min_height"`
	MaxHeight    int                  `json:"max_height"`
	MinFrameRate float64              `json:"min_frame_rate,omitempty"`
	MaxFrameRate float64              `json:"max_frame_rate,omitempty"`
	HasZoom      bool                 `json:"has_zoom"`
	HasTorch     bool                 `json:"has_torch"`
	HasFocus     bool                 `json:"has_focus"`
	MinZoom      float64              `json:"min_zoom,omitempty"`
	MaxZoom      float64              `json:"max_zoom,omitempty"`
	FocusModes   []platform.FocusMode `json:"focus_modes,omitempty"`
}

// RequestOptions は権限要求の対象を指定する
type RequestOptions struct {
	Video bool
	Audio bool
}

// Manager はデバイス列挙・権限・プローブを担う
type Manager struct {
	provider platform.Provider
}

// NewManager は新しいManagerを作成する
func NewManager(provider platform.Provider) *Manager {
	return &Manager{provider: provider}
}

// ListVideoDevices は映像入力デバイスのみを列挙する
func (m *Manager) ListVideoDevices(ctx context.Context) ([]platform.DeviceDescriptor, error) {
	devices, err := m.provider.EnumerateDevices(ctx)
	if err != nil {
		return nil, platform.NewError(platform.CodeDevices, "デバイスの列挙に失敗", err)
	}

	videos := make([]platform.DeviceDescriptor, 0, len(devices))
	for _, d := range devices {
		if d.Kind == platform.KindVideoInput {
			videos = append(videos, d)
		}
	}

	return videos, nil
}

// CheckPermissions はカメラ・マイク権限を種別ごとに独立して確認する
// クエリが失敗またはサポートされない種別は「prompt」へ縮退する
func (m *Manager) CheckPermissions(ctx context.Context) map[platform.PermissionKind]platform.PermissionValue {
	result := make(map[platform.PermissionKind]platform.PermissionValue, 2)

	for _, kind := range []platform.PermissionKind{platform.PermissionCamera, platform.PermissionMicrophone} {
		value, err := m.provider.QueryPermission(ctx, kind)
		if err != nil {
			// クエリ非サポート環境ではprompt扱いで継続する
			result[kind] = platform.PermissionPrompt
			continue
		}
		result[kind] = value
	}

	return result
}

// RequestPermissions は権限プロンプトを出すためだけに一時ストリームを開く
// ストリームは成否に関わらず直ちに停止し、最新の権限状態を返す
func (m *Manager) RequestPermissions(ctx context.Context, opts RequestOptions) map[platform.PermissionKind]platform.PermissionValue {
	if !opts.Video && !opts.Audio {
		opts.Video = true
	}

	constraints := platform.MediaConstraints{Audio: opts.Audio}
	if stream, err := m.provider.GetUserMedia(ctx, constraints); err == nil {
		// 副作用としてストリームを残さない
		stream.Stop()
	}
	// 取得失敗（権限拒否など）は権限状態の再確認へそのまま進む

	return m.CheckPermissions(ctx)
}

// ProbeCapabilities はデバイスを一時的に開いて能力範囲を読み取る
// プローブ用ストリームは成功・失敗どちらの経路でも必ずクローズする
func (m *Manager) ProbeCapabilities(ctx context.Context, deviceID string) (*CapabilityDescriptor, error) {
	stream, err := m.provider.GetUserMedia(ctx, platform.MediaConstraints{DeviceID: deviceID})
	if err != nil {
		return nil, platform.NewError(platform.CodeDevices,
			fmt.Sprintf("デバイス %s のプローブに失敗", deviceID), err)
	}
	defer stream.Stop()

	track := stream.VideoTrack()
	if track == nil {
		return nil, platform.Errorf(platform.CodeDevices,
			"デバイス %s に映像トラックがありません", deviceID)
	}

	caps := track.Capabilities()
	settings := track.Settings()

	label := deviceID
	if devices, err := m.provider.EnumerateDevices(ctx); err == nil {
		for _, d := range devices {
			if d.DeviceID == settings.DeviceID {
				label = d.Label
				break
			}
		}
	}

	return &CapabilityDescriptor{
		DeviceID:     settings.DeviceID,
		Label:        label,
		MinWidth:     caps.MinWidth,
		MaxWidth:     caps.MaxWidth,
		MinHeight:    caps.MinHeight,
		MaxHeight:    caps.MaxHeight,
		MinFrameRate: caps.MinFrameRate,
		MaxFrameRate: caps.MaxFrameRate,
		HasZoom:      caps.HasZoom,
		HasTorch:     caps.HasTorch,
		HasFocus:     caps.HasFocus,
		MinZoom:      caps.MinZoom,
		MaxZoom:      caps.MaxZoom,
		FocusModes:   caps.FocusModes,
	}, nil
}
