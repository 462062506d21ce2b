package platform

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
)

// FakeProvider はテスト用の決定的なProvider実装
// デバイス構成・対応解像度・権限状態・失敗の注入を制御でき、
// 呼び出し回数とオープン中リソースを記録する
type FakeProvider struct {
	mu sync.Mutex

	devices     []DeviceDescriptor
	permissions map[PermissionKind]PermissionValue
	unsupported map[PermissionKind]bool

	// 完全一致制約で受理する解像度の集合
	supported []Resolution

	// 失敗注入
	enumerateErr    error
	getUserMediaErr error
	applyErr        error

	// 記録
	getUserMediaCalls int
	applyCalls        int
	openStreams       int
	liveBitmaps       int

	// オブジェクトURL
	urls map[string][]byte

	// デバイス変更購読
	subscribers map[int]func()
	nextSubID   int
}

// NewFakeProvider はデフォルト構成のFakeProviderを作成する
// デフォルト: カメラ1台、カメラ権限granted、640x480/1280x720/1920x1080対応
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		devices: []DeviceDescriptor{
			{DeviceID: "fake-video-0", Label: "フェイクカメラ 1", Kind: KindVideoInput},
			{DeviceID: "fake-audio-0", Label: "フェイクマイク 1", Kind: KindAudioInput},
		},
		permissions: map[PermissionKind]PermissionValue{
			PermissionCamera:     PermissionGranted,
			PermissionMicrophone: PermissionPrompt,
		},
		unsupported: make(map[PermissionKind]bool),
		supported: []Resolution{
			{Width: 640, Height: 480},
			{Width: 1280, Height: 720},
			{Width: 1920, Height: 1080},
		},
		urls:        make(map[string][]byte),
		subscribers: make(map[int]func()),
	}
}

// EnumerateDevices はフェイクデバイス一覧を返す
func (p *FakeProvider) EnumerateDevices(_ context.Context) ([]DeviceDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enumerateErr != nil {
		return nil, p.enumerateErr
	}

	// コピーを返す
	out := make([]DeviceDescriptor, len(p.devices))
	copy(out, p.devices)
	return out, nil
}

// QueryPermission はフェイク権限状態を返す
func (p *FakeProvider) QueryPermission(_ context.Context, kind PermissionKind) (PermissionValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unsupported[kind] {
		return PermissionPrompt, ErrPermissionQueryUnsupported
	}

	value, exists := p.permissions[kind]
	if !exists {
		return PermissionPrompt, nil
	}
	return value, nil
}

// GetUserMedia は制約を検証してフェイクストリームを返す
// 完全一致制約は対応解像度の集合に含まれる場合のみ受理する
func (p *FakeProvider) GetUserMedia(_ context.Context, constraints MediaConstraints) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.getUserMediaCalls++

	if p.getUserMediaErr != nil {
		return nil, p.getUserMediaErr
	}

	if p.permissions[PermissionCamera] == PermissionDenied {
		return nil, Errorf(CodePermissionDenied, "カメラ権限が拒否されています")
	}

	if constraints.DeviceID != "" && !p.hasDeviceLocked(constraints.DeviceID) {
		return nil, Errorf(CodeDeviceNotFound, "デバイスが見つかりません: %s", constraints.DeviceID)
	}

	width, height := constraints.Width, constraints.Height
	if constraints.Exact {
		if !p.supportsLocked(width, height) {
			return nil, Errorf(CodeOverconstrained, "解像度 %dx%d は利用できません", width, height)
		}
	} else {
		// ideal指定: 最も近い対応解像度へ縮退する
		width, height = p.nearestLocked(width, height)
	}

	deviceID := constraints.DeviceID
	if deviceID == "" {
		deviceID = "fake-video-0"
	}

	track := &fakeTrack{
		provider: p,
		settings: TrackSettings{
			DeviceID:  deviceID,
			Width:     width,
			Height:    height,
			FrameRate: 30,
			Zoom:      1.0,
			FocusMode: FocusModeContinuous,
		},
	}

	tracks := []Track{track}
	if constraints.Audio {
		tracks = append(tracks, &fakeTrack{provider: p, audio: true})
	}

	p.openStreams += len(tracks)

	return &fakeStream{id: uuid.New().String(), tracks: tracks}, nil
}

// NewSurface は新しい描画サーフェスを作成する
func (p *FakeProvider) NewSurface() Surface {
	return NewSurface()
}

// NewBitmap はソース画像からビットマップを作成し、生存数を記録する
func (p *FakeProvider) NewBitmap(src *image.RGBA, opts BitmapOptions) (Bitmap, error) {
	inner, err := NewBitmapFromImage(src, opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.liveBitmaps++
	p.mu.Unlock()

	return &countedBitmap{Bitmap: inner, provider: p}, nil
}

// CreateObjectURL はデータをメモリに保持してフェイクURLを返す
func (p *FakeProvider) CreateObjectURL(data []byte, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	url := "fake://" + uuid.New().String()
	stored := make([]byte, len(data))
	copy(stored, data)
	p.urls[url] = stored
	return url, nil
}

// RevokeObjectURL は参照URLを無効化する
func (p *FakeProvider) RevokeObjectURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.urls, url)
}

// OnDeviceChange はデバイス構成変更の通知を購読する
func (p *FakeProvider) OnDeviceChange(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers, id)
	}
}

// --- テスト制御用メソッド ---

// SetDevices はデバイス一覧を置き換える
func (p *FakeProvider) SetDevices(devices []DeviceDescriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = devices
}

// AddDevice はテスト用にデバイスを追加する
func (p *FakeProvider) AddDevice(device DeviceDescriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = append(p.devices, device)
}

// SetPermission は権限状態を設定する
func (p *FakeProvider) SetPermission(kind PermissionKind, value PermissionValue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permissions[kind] = value
}

// SetPermissionQueryUnsupported は権限クエリの非サポートを設定する
func (p *FakeProvider) SetPermissionQueryUnsupported(kind PermissionKind, unsupported bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsupported[kind] = unsupported
}

// SetSupportedResolutions は完全一致で受理する解像度集合を設定する
func (p *FakeProvider) SetSupportedResolutions(resolutions []Resolution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.supported = resolutions
}

// SetEnumerateError は列挙失敗を注入する
func (p *FakeProvider) SetEnumerateError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enumerateErr = err
}

// SetGetUserMediaError はストリーム取得失敗を注入する
func (p *FakeProvider) SetGetUserMediaError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getUserMediaErr = err
}

// SetApplyConstraintsError はライブ制約適用の失敗を注入する
func (p *FakeProvider) SetApplyConstraintsError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyErr = err
}

// GetUserMediaCalls はGetUserMediaの呼び出し回数を返す
func (p *FakeProvider) GetUserMediaCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getUserMediaCalls
}

// ApplyConstraintsCalls はApplyConstraintsの呼び出し回数を返す
func (p *FakeProvider) ApplyConstraintsCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applyCalls
}

// OpenStreams は現在オープン中のトラック数を返す（リーク検出用）
func (p *FakeProvider) OpenStreams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openStreams
}

// LiveBitmaps は未解放のビットマップ数を返す（リーク検出用）
func (p *FakeProvider) LiveBitmaps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveBitmaps
}

// ObjectURLCount は有効なオブジェクトURL数を返す
func (p *FakeProvider) ObjectURLCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.urls)
}

// FireDeviceChange はデバイス変更通知を発火する
func (p *FakeProvider) FireDeviceChange() {
	p.mu.Lock()
	fns := make([]func(), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// hasDeviceLocked はデバイスIDの存在をチェックする（ロック済み前提）
func (p *FakeProvider) hasDeviceLocked(deviceID string) bool {
	for _, d := range p.devices {
		if d.DeviceID == deviceID {
			return true
		}
	}
	return false
}

// supportsLocked は解像度が対応集合に含まれるかチェックする（ロック済み前提）
func (p *FakeProvider) supportsLocked(width, height int) bool {
	for _, r := range p.supported {
		if r.Width == width && r.Height == height {
			return true
		}
	}
	return false
}

// nearestLocked は要求に最も近い対応解像度を返す（ロック済み前提）
func (p *FakeProvider) nearestLocked(width, height int) (int, int) {
	if len(p.supported) == 0 {
		return width, height
	}

	best := p.supported[0]
	bestDiff := -1
	for _, r := range p.supported {
		diff := abs(r.Width-width) + abs(r.Height-height)
		if bestDiff < 0 || diff < bestDiff {
			best = r
			bestDiff = diff
		}
	}
	return best.Width, best.Height
}

// abs は絶対値を返す
func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// fakeStream はテスト用のStream実装
type fakeStream struct {
	id      string
	tracks  []Track
	mu      sync.Mutex
	stopped bool
}

// ID はストリームの一意識別子を返す
func (s *fakeStream) ID() string {
	return s.id
}

// VideoTrack は映像トラックを返す
func (s *fakeStream) VideoTrack() Track {
	for _, t := range s.tracks {
		if t.Kind() == KindVideoInput {
			return t
		}
	}
	return nil
}

// Tracks は全トラックを返す
func (s *fakeStream) Tracks() []Track {
	return s.tracks
}

// Stop は全トラックを停止する
func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true

	for _, t := range s.tracks {
		t.Stop()
	}
}

// fakeTrack はテスト用のTrack実装
// フレームは座標から決定的に生成されるグラデーション画像
type fakeTrack struct {
	provider *FakeProvider
	audio    bool
	mu       sync.Mutex
	settings TrackSettings
	stopped  bool
}

// Kind はトラック種別を返す
func (t *fakeTrack) Kind() DeviceKind {
	if t.audio {
		return KindAudioInput
	}
	return KindVideoInput
}

// Settings は現在の設定値を返す
func (t *fakeTrack) Settings() TrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// Capabilities はトラックの能力範囲を返す
func (t *fakeTrack) Capabilities() TrackCapabilities {
	return TrackCapabilities{
		MinWidth:     160,
		MaxWidth:     1920,
		MinHeight:    120,
		MaxHeight:    1080,
		MinFrameRate: 5,
		MaxFrameRate: 60,
		HasZoom:      true,
		HasTorch:     true,
		HasFocus:     true,
		MinZoom:      1.0,
		MaxZoom:      8.0,
		FocusModes:   []FocusMode{FocusModeAuto, FocusModeManual, FocusModeContinuous},
	}
}

// ApplyConstraints はライブ制約を内部設定へ適用する
func (t *fakeTrack) ApplyConstraints(_ context.Context, patch ConstraintPatch) error {
	t.provider.mu.Lock()
	t.provider.applyCalls++
	applyErr := t.provider.applyErr
	t.provider.mu.Unlock()

	if applyErr != nil {
		return applyErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return Errorf(CodeStreamFailed, "トラックは停止済みです")
	}

	caps := t.Capabilities()
	if patch.Zoom != nil {
		if *patch.Zoom < caps.MinZoom || *patch.Zoom > caps.MaxZoom {
			return Errorf(CodeOverconstrained, "ズーム値が範囲外です: %v", *patch.Zoom)
		}
		t.settings.Zoom = *patch.Zoom
	}
	if patch.Torch != nil {
		t.settings.Torch = *patch.Torch
	}
	if patch.FocusMode != nil {
		t.settings.FocusMode = *patch.FocusMode
	}

	return nil
}

// GrabFrame は決定的なグラデーションフレームを生成する
func (t *fakeTrack) GrabFrame(_ context.Context) (*image.RGBA, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return nil, Errorf(CodeStreamFailed, "トラックは停止済みです")
	}
	if t.audio {
		return nil, fmt.Errorf("音声トラックからはフレームを取得できません")
	}

	img := image.NewRGBA(image.Rect(0, 0, t.settings.Width, t.settings.Height))
	for y := 0; y < t.settings.Height; y++ {
		for x := 0; x < t.settings.Width; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] = uint8(x % 256)
			img.Pix[i+1] = uint8(y % 256)
			img.Pix[i+2] = uint8((x + y) % 256)
			img.Pix[i+3] = 255
		}
	}

	return img, nil
}

// Stop はトラックを停止する
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true

	t.provider.mu.Lock()
	t.provider.openStreams--
	t.provider.mu.Unlock()
}

// countedBitmap は解放を記録するBitmapラッパー
type countedBitmap struct {
	Bitmap
	provider *FakeProvider
	mu       sync.Mutex
	released bool
}

// Release はリソースを解放し生存数を減らす（二重呼び出しは無害）
func (b *countedBitmap) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return
	}
	b.released = true

	b.Bitmap.Release()

	b.provider.mu.Lock()
	b.provider.liveBitmaps--
	b.provider.mu.Unlock()
}
