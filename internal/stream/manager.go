// Package stream メディアストリームの取得と単一アクティブストリームの管理を担う
//
// # 責務
// - 優先順リストに従った解像度フォールバック付きストリーム取得
// - アクティブストリームの追跡と解放
// - ズーム・トーチ・フォーカスのライブ制約適用
//
// # 仕様
// - 解像度リストは優先順に完全一致で試行し、最初の成功で打ち切る
// - 全候補が失敗した場合は最後に観測したエラーを返す
// - リストが空の場合は1280x720を近似指定で1回だけ試行する
// - Releaseは冪等（アクティブストリームがなければ何もしない）
package stream

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"hitomi/internal/platform"
)

// DefaultResolution は解像度未指定時の既定値
var DefaultResolution = platform.Resolution{Label: "HD", Width: 1280, Height: 720}

// AcquireConfig はストリーム取得時の設定を表す
type AcquireConfig struct {
	DeviceID    string                // 空はデフォルトデバイス
	Resolutions []platform.Resolution // 優先順（先頭が最優先）、空はデフォルト解像度
	FrameRate   int
	Audio       bool
}

// Manager は単一アクティブストリームを管理する
type Manager struct {
	provider platform.Provider

	mu     sync.Mutex
	active platform.Stream
}

// NewManager は新しいManagerを作成する
func NewManager(provider platform.Provider) *Manager {
	return &Manager{provider: provider}
}

// Acquire は優先順に解像度を試行してストリームを取得する
// 成功した候補の解像度（元のラベル付き）をストリームと共に返す
func (m *Manager) Acquire(ctx context.Context, cfg AcquireConfig) (platform.Stream, platform.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 取得は常に単一アクティブストリームを前提とする
	if m.active != nil {
		m.active.Stop()
		m.active = nil
	}

	if len(cfg.Resolutions) == 0 {
		// 解像度未指定: 既定解像度を近似指定で1回だけ試行する
		s, err := m.provider.GetUserMedia(ctx, platform.MediaConstraints{
			DeviceID:  cfg.DeviceID,
			Width:     DefaultResolution.Width,
			Height:    DefaultResolution.Height,
			Exact:     false,
			FrameRate: cfg.FrameRate,
			Audio:     cfg.Audio,
		})
		if err != nil {
			return nil, platform.Resolution{}, mapAcquireError(err)
		}

		used := DefaultResolution
		if track := s.VideoTrack(); track != nil {
			// 実際に確立された寸法を記録する
			settings := track.Settings()
			used.Width = settings.Width
			used.Height = settings.Height
		}

		m.active = s
		return s, used, nil
	}

	// 優先順に完全一致で試行し、最初の成功で打ち切る
	var lastErr error
	for _, candidate := range cfg.Resolutions {
		s, err := m.provider.GetUserMedia(ctx, platform.MediaConstraints{
			DeviceID:  cfg.DeviceID,
			Width:     candidate.Width,
			Height:    candidate.Height,
			Exact:     true,
			FrameRate: cfg.FrameRate,
			Audio:     cfg.Audio,
		})
		if err != nil {
			// 候補の失敗は握りつぶして次の候補へ
			lastErr = err
			continue
		}

		m.active = s
		return s, candidate, nil
	}

	// 全候補が失敗: 最後に観測したエラーを返す
	return nil, platform.Resolution{}, mapAcquireError(lastErr)
}

// Release はアクティブストリームの全トラックを停止して参照をクリアする
// アクティブストリームがない場合は何もしない
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return
	}
	m.active.Stop()
	m.active = nil
}

// Active は現在のアクティブストリームを返す（なければnil）
func (m *Manager) Active() platform.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// ApplyLiveConstraint はアクティブな映像トラックへ制約パッチを適用する
// 制約超過はConstraintError、その他の失敗はStreamFailedへ分類する
func (m *Manager) ApplyLiveConstraint(ctx context.Context, patch platform.ConstraintPatch) error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active == nil {
		return platform.Errorf(platform.CodeStreamFailed, "アクティブなストリームがありません")
	}

	track := active.VideoTrack()
	if track == nil {
		return platform.Errorf(platform.CodeStreamFailed, "アクティブな映像トラックがありません")
	}

	if err := track.ApplyConstraints(ctx, patch); err != nil {
		if platform.CodeOf(err) == platform.CodeOverconstrained {
			return platform.NewError(platform.CodeConstraint, "制約を満たせませんでした", err)
		}
		var me *platform.MediaError
		if errors.As(err, &me) {
			return me
		}
		return platform.NewError(platform.CodeStreamFailed, "制約の適用に失敗", err)
	}

	return nil
}

// mapAcquireError は取得失敗をエラー分類へ変換する
// プラットフォームが分類済みのエラーはそのまま通す
func mapAcquireError(err error) error {
	if err == nil {
		return platform.Errorf(platform.CodeStreamFailed, "ストリームの取得に失敗")
	}

	var me *platform.MediaError
	if errors.As(err, &me) {
		return me
	}

	msg := err.Error()
	switch {
	case os.IsPermission(err) || strings.Contains(msg, "Permission denied") || strings.Contains(msg, "NotAllowed"):
		return platform.NewError(platform.CodePermissionDenied, "カメラへのアクセスが拒否されました", err)
	case os.IsNotExist(err) || strings.Contains(msg, "NotFound") || strings.Contains(msg, "No such"):
		return platform.NewError(platform.CodeDeviceNotFound, "デバイスが見つかりません", err)
	case strings.Contains(msg, "busy") || strings.Contains(msg, "NotReadable"):
		return platform.NewError(platform.CodeDeviceBusy, "デバイスが使用中です", err)
	case strings.Contains(msg, "Overconstrained"):
		return platform.NewError(platform.CodeOverconstrained, "要求した制約を満たせません", err)
	default:
		return platform.NewError(platform.CodeStreamFailed, "ストリームの取得に失敗", err)
	}
}
