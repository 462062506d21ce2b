// Package session カメラセッションのライフサイクル管理を担う
//
// # 責務
// - idle → initializing → ready の状態機械によるセッション制御
// - デバイス・ストリーム・キャプチャの統合とコールバック配信
// - ズーム・トーチ・フォーカスのライブ調整と状態への反映
//
// # 仕様
// - 状態は遷移のたびに全体を置き換える（部分的な別名参照を作らない）
// - 取得・キャプチャの失敗はエラーを返しつつOnErrorと状態にも反映する
// - デバイス変更通知による再列挙の失敗はOnErrorのみで報告する
// - セッション状態の変更はミューテックスで直列化し、並行するStartの
//   ストリーム接続が交錯しないことを保証する
package session

import (
	"context"
	"errors"
	"sync"

	"hitomi/internal/capture"
	"hitomi/internal/device"
	"hitomi/internal/platform"
	"hitomi/internal/stream"
)

// Controller はカメラセッション全体を統括する
type Controller struct {
	provider platform.Provider
	devices  *device.Manager
	streams  *stream.Manager
	engine   *capture.Engine

	// セッション状態の変更を直列化する（仕様の単一実行ガード）
	mu          sync.Mutex
	cfg         Config
	state       State
	unsubscribe func()
	disposed    bool
}

// New は新しいControllerを作成する
// デバイス変更の購読は構築時に1回だけ登録される
func New(provider platform.Provider, cfg Config) *Controller {
	c := &Controller{
		provider: provider,
		devices:  device.NewManager(provider),
		streams:  stream.NewManager(provider),
		engine:   capture.NewEngine(provider),
		cfg:      cfg,
		state: State{
			Status:      StatusIdle,
			Permissions: make(map[platform.PermissionKind]platform.PermissionValue),
		},
	}

	c.unsubscribe = provider.OnDeviceChange(c.handleDeviceChange)

	return c
}

// Start はセッションを開始する
// 渡された設定は既存設定へ部分マージされる
func (c *Controller) Start(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return platform.Errorf(platform.CodeInvalidConfig, "セッションは破棄済みです")
	}

	c.cfg = c.cfg.merge(cfg)

	if c.cfg.Sink == nil {
		return c.failLocked(platform.Errorf(platform.CodeVideoSinkNotSet,
			"シンクサーフェスが設定されていません"))
	}

	c.transitionLocked(func(s *State) {
		s.Status = StatusInitializing
		s.Err = nil
	})

	s, used, err := c.streams.Acquire(ctx, stream.AcquireConfig{
		DeviceID:    c.cfg.DeviceID,
		Resolutions: c.cfg.Resolutions,
		FrameRate:   c.cfg.FrameRate,
		Audio:       c.cfg.audioEnabled(),
	})
	if err != nil {
		return c.failLocked(err)
	}

	if err := c.cfg.Sink.Attach(ctx, s); err != nil {
		c.streams.Release()
		return c.failLocked(platform.NewError(platform.CodeStreamFailed,
			"シンクへのストリーム接続に失敗", err))
	}

	c.cfg.Sink.SetMirrorHint(c.cfg.mirrorEnabled())

	c.transitionLocked(func(st *State) {
		st.Status = StatusReady
		st.ActiveResolution = &used
		st.Err = nil
	})

	if c.cfg.OnStreamStart != nil {
		c.cfg.OnStreamStart()
	}

	return nil
}

// Stop はセッションを停止する（ベストエフォート、常に成功する）
func (c *Controller) Stop(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// stopLocked は実際の停止処理を行う（ロック済み前提）
func (c *Controller) stopLocked() {
	c.streams.Release()
	if c.cfg.Sink != nil {
		c.cfg.Sink.Detach()
	}

	c.transitionLocked(func(s *State) {
		s.Status = StatusIdle
		s.ActiveResolution = nil
		s.Zoom = nil
		s.FocusMode = nil
		s.TorchEnabled = nil
		s.Err = nil
	})

	if c.cfg.OnStreamStop != nil {
		c.cfg.OnStreamStop()
	}
}

// CaptureImage はライブフレームを圧縮画像としてキャプチャする
// ミラー指定が省略された場合はセッションのミラー設定が使われる
func (c *Controller) CaptureImage(ctx context.Context, req capture.Request) (*capture.ImageResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sink, err := c.readySinkLocked()
	if err != nil {
		return nil, err
	}

	result, err := c.engine.CaptureImage(ctx, sink, c.resolveMirrorLocked(req))
	if err != nil {
		return nil, c.failLocked(err)
	}
	return result, nil
}

// CaptureImageData はライブフレームを生ピクセルバッファとしてキャプチャする
func (c *Controller) CaptureImageData(ctx context.Context, req capture.Request) (*capture.PixelResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sink, err := c.readySinkLocked()
	if err != nil {
		return nil, err
	}

	result, err := c.engine.CaptureImageData(ctx, sink, c.resolveMirrorLocked(req))
	if err != nil {
		return nil, c.failLocked(err)
	}
	return result, nil
}

// CaptureImageBitmap はライブフレームを転送可能ビットマップとしてキャプチャする
// 結果のビットマップは呼び出し側が明示的にReleaseすること
func (c *Controller) CaptureImageBitmap(ctx context.Context, req capture.Request) (*capture.BitmapResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sink, err := c.readySinkLocked()
	if err != nil {
		return nil, err
	}

	result, err := c.engine.CaptureImageBitmap(ctx, sink, c.resolveMirrorLocked(req))
	if err != nil {
		return nil, c.failLocked(err)
	}
	return result, nil
}

// SetZoom はズーム値を適用して状態へ反映する
// 1.0未満の値はプラットフォーム呼び出し前にInvalidConfigで拒否する
func (c *Controller) SetZoom(ctx context.Context, zoom float64) error {
	if zoom < 1.0 {
		return platform.Errorf(platform.CodeInvalidConfig,
			"ズーム値は1.0以上であること: %v", zoom)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.streams.ApplyLiveConstraint(ctx, platform.ConstraintPatch{Zoom: &zoom}); err != nil {
		c.notifyErrorLocked(err)
		return err
	}

	c.transitionLocked(func(s *State) {
		s.Zoom = &zoom
	})
	return nil
}

// SetTorch はトーチの点灯状態を適用して状態へ反映する
func (c *Controller) SetTorch(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.streams.ApplyLiveConstraint(ctx, platform.ConstraintPatch{Torch: &enabled}); err != nil {
		c.notifyErrorLocked(err)
		return err
	}

	c.transitionLocked(func(s *State) {
		s.TorchEnabled = &enabled
	})
	return nil
}

// SetFocusMode はフォーカスモードを適用して状態へ反映する
func (c *Controller) SetFocusMode(ctx context.Context, mode platform.FocusMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.streams.ApplyLiveConstraint(ctx, platform.ConstraintPatch{FocusMode: &mode}); err != nil {
		c.notifyErrorLocked(err)
		return err
	}

	c.transitionLocked(func(s *State) {
		s.FocusMode = &mode
	})
	return nil
}

// ListVideoDevices は映像入力デバイスを列挙する
func (c *Controller) ListVideoDevices(ctx context.Context) ([]platform.DeviceDescriptor, error) {
	return c.devices.ListVideoDevices(ctx)
}

// ProbeCapabilities はデバイスの能力範囲をプローブする
func (c *Controller) ProbeCapabilities(ctx context.Context, deviceID string) (*device.CapabilityDescriptor, error) {
	return c.devices.ProbeCapabilities(ctx, deviceID)
}

// CheckPermissions は権限状態を確認して状態へ反映する
func (c *Controller) CheckPermissions(ctx context.Context) map[platform.PermissionKind]platform.PermissionValue {
	permissions := c.devices.CheckPermissions(ctx)
	c.updatePermissions(permissions)
	return permissions
}

// RequestPermissions は権限プロンプトを発火し、最新の権限状態を返す
func (c *Controller) RequestPermissions(ctx context.Context, opts device.RequestOptions) map[platform.PermissionKind]platform.PermissionValue {
	permissions := c.devices.RequestPermissions(ctx, opts)
	c.updatePermissions(permissions)
	return permissions
}

// GetState は現在の状態のスナップショットを返す
func (c *Controller) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// GetCurrentResolution は確立済みの解像度を返す（未確立ならnil）
func (c *Controller) GetCurrentResolution() *platform.Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.ActiveResolution == nil {
		return nil
	}
	r := *c.state.ActiveResolution
	return &r
}

// Dispose はセッションを停止し全リソースを解放する（冪等）
func (c *Controller) Dispose(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}

	c.stopLocked()
	c.engine.Dispose()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.disposed = true
}

// handleDeviceChange はデバイス構成変更の通知を処理する
// この経路には呼び出し元がいないため、列挙失敗はOnErrorのみで報告する
func (c *Controller) handleDeviceChange() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	onError := c.cfg.OnError
	onDeviceChange := c.cfg.OnDeviceChange
	c.mu.Unlock()

	devices, err := c.devices.ListVideoDevices(context.Background())
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}

	if onDeviceChange != nil {
		onDeviceChange(devices)
	}
}

// readySinkLocked はキャプチャ可能なシンクを返す（ロック済み前提）
func (c *Controller) readySinkLocked() (*platform.VideoSink, error) {
	if c.disposed {
		return nil, platform.Errorf(platform.CodeCaptureFailed, "セッションは破棄済みです")
	}
	if c.cfg.Sink == nil || !c.cfg.Sink.Attached() {
		return nil, platform.Errorf(platform.CodeVideoSinkNotSet,
			"シンクサーフェスにストリームが接続されていません")
	}
	return c.cfg.Sink, nil
}

// resolveMirrorLocked は要求のミラー指定を解決する（ロック済み前提）
// 要求で明示されない場合はセッションのミラー設定を既定値とする
func (c *Controller) resolveMirrorLocked(req capture.Request) capture.Request {
	if req.Mirror == nil {
		mirror := c.cfg.mirrorEnabled()
		req.Mirror = &mirror
	}
	return req
}

// transitionLocked は状態全体を置き換えて変更を通知する（ロック済み前提）
func (c *Controller) transitionLocked(mutate func(*State)) {
	next := c.state.clone()
	mutate(&next)
	c.state = next

	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(next.clone())
	}
}

// failLocked はエラーを状態へ反映しOnErrorへ通知してから返す（ロック済み前提）
func (c *Controller) failLocked(err error) error {
	var me *platform.MediaError
	if !errors.As(err, &me) {
		me = platform.NewError(platform.CodeUnknown, "不明なエラー", err)
	}

	c.transitionLocked(func(s *State) {
		s.Status = StatusError
		s.Err = me
	})

	c.notifyErrorLocked(me)
	return me
}

// notifyErrorLocked はOnErrorコールバックへ通知する（ロック済み前提）
func (c *Controller) notifyErrorLocked(err error) {
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}

// updatePermissions は権限マップを状態へ反映し、変化時に通知する
func (c *Controller) updatePermissions(permissions map[platform.PermissionKind]platform.PermissionValue) {
	c.mu.Lock()

	changed := len(permissions) != len(c.state.Permissions)
	if !changed {
		for k, v := range permissions {
			if c.state.Permissions[k] != v {
				changed = true
				break
			}
		}
	}

	if changed {
		c.transitionLocked(func(s *State) {
			s.Permissions = permissions
		})
	}

	onPermissionChange := c.cfg.OnPermissionChange
	c.mu.Unlock()

	if changed && onPermissionChange != nil {
		onPermissionChange(permissions)
	}
}
