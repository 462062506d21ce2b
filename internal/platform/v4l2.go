package platform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// V4L2Provider はLinux V4L2デバイスを駆動するProviderの本番実装
// デバイス名取得にv4l2-ctl、フレーム取得にffmpegを使用する
type V4L2Provider struct {
	mu sync.Mutex

	// デバイス変更監視用
	subscribers  map[int]func()
	nextSubID    int
	knownDevices []string
	scanInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	scanning     bool

	// オブジェクトURL用（file://パスへのマッピング）
	urls map[string]string
}

// NewV4L2Provider は新しいV4L2Providerを作成する
func NewV4L2Provider() *V4L2Provider {
	return &V4L2Provider{
		subscribers:  make(map[int]func()),
		urls:         make(map[string]string),
		scanInterval: 30 * time.Second, // 30秒間隔で自動スキャン
	}
}

// EnumerateDevices は/dev/video*をスキャンして入力デバイスを列挙する
func (p *V4L2Provider) EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	paths, err := scanVideoNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	devices := make([]DeviceDescriptor, 0, len(paths))
	for _, path := range paths {
		devices = append(devices, DeviceDescriptor{
			DeviceID: path,
			Label:    v4l2DeviceName(path),
			Kind:     KindVideoInput,
		})
	}

	return devices, nil
}

// QueryPermission は権限状態を問い合わせる
// V4L2環境での権限はデバイスノードへのアクセス可否で判定する
// マイク権限のクエリはサポートしない
func (p *V4L2Provider) QueryPermission(ctx context.Context, kind PermissionKind) (PermissionValue, error) {
	if kind != PermissionCamera {
		return PermissionPrompt, ErrPermissionQueryUnsupported
	}

	paths, err := scanVideoNodes(ctx)
	if err != nil || len(paths) == 0 {
		return PermissionPrompt, ErrPermissionQueryUnsupported
	}

	for _, path := range paths {
		if isNodeReadable(path) {
			return PermissionGranted, nil
		}
	}

	return PermissionDenied, nil
}

// GetUserMedia は制約に従ってストリームを取得する
func (p *V4L2Provider) GetUserMedia(ctx context.Context, constraints MediaConstraints) (Stream, error) {
	device := constraints.DeviceID
	if device == "" {
		// デフォルトデバイスを選択
		paths, err := scanVideoNodes(ctx)
		if err != nil || len(paths) == 0 {
			return nil, NewError(CodeDeviceNotFound, "利用可能なカメラデバイスがありません", err)
		}
		device = paths[0]
	}

	if _, err := os.Stat(device); os.IsNotExist(err) {
		return nil, NewError(CodeDeviceNotFound, fmt.Sprintf("デバイスが見つかりません: %s", device), err)
	}

	if !isNodeReadable(device) {
		return nil, Errorf(CodePermissionDenied, "デバイスへのアクセスが拒否されました: %s", device)
	}

	width := constraints.Width
	height := constraints.Height
	if width == 0 || height == 0 {
		width, height = 1280, 720
	}

	fps := constraints.FrameRate
	if fps == 0 {
		fps = 15
	}

	track := &v4l2Track{
		device: device,
		settings: TrackSettings{
			DeviceID:  device,
			Width:     width,
			Height:    height,
			FrameRate: float64(fps),
			Zoom:      1.0,
			FocusMode: FocusModeContinuous,
		},
	}

	// テストキャプチャで制約の充足を確認する
	if _, err := track.GrabFrame(ctx); err != nil {
		if constraints.Exact {
			return nil, NewError(CodeOverconstrained,
				fmt.Sprintf("解像度 %dx%d はデバイス %s で利用できません", width, height, device), err)
		}
		// ideal指定: デバイスのデフォルト解像度へ縮退して再試行
		track.settings.Width, track.settings.Height = 640, 480
		if _, err := track.GrabFrame(ctx); err != nil {
			return nil, classifyDeviceError(device, err)
		}
	}

	return &v4l2Stream{
		id:     uuid.New().String(),
		tracks: []Track{track},
	}, nil
}

// NewSurface は新しい描画サーフェスを作成する
func (p *V4L2Provider) NewSurface() Surface {
	return NewSurface()
}

// NewBitmap はソース画像から転送可能ビットマップを作成する
func (p *V4L2Provider) NewBitmap(src *image.RGBA, opts BitmapOptions) (Bitmap, error) {
	return NewBitmapFromImage(src, opts)
}

// CreateObjectURL はデータを一時ファイルに書き出してfile://URLを返す
func (p *V4L2Provider) CreateObjectURL(data []byte, mimeType string) (string, error) {
	ext := ".bin"
	switch mimeType {
	case MimeJPEG:
		ext = ".jpg"
	case MimePNG:
		ext = ".png"
	}

	f, err := os.CreateTemp("", "capture-*"+ext)
	if err != nil {
		return "", fmt.Errorf("一時ファイルの作成に失敗: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("一時ファイルへの書き込みに失敗: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("一時ファイルのクローズに失敗: %w", err)
	}

	url := "file://" + f.Name()

	p.mu.Lock()
	p.urls[url] = f.Name()
	p.mu.Unlock()

	return url, nil
}

// RevokeObjectURL は参照URLを無効化し一時ファイルを削除する
func (p *V4L2Provider) RevokeObjectURL(url string) {
	p.mu.Lock()
	path, exists := p.urls[url]
	delete(p.urls, url)
	p.mu.Unlock()

	if exists {
		_ = os.Remove(path)
	}
}

// OnDeviceChange はデバイス構成変更の通知を購読する
// 最初の購読で背景スキャンを開始し、変更検出時に全購読者へ通知する
func (p *V4L2Provider) OnDeviceChange(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = fn

	if !p.scanning {
		p.scanning = true
		p.stopCh = make(chan struct{})
		if paths, err := scanVideoNodes(context.Background()); err == nil {
			p.knownDevices = paths
		}
		p.wg.Add(1)
		go p.backgroundScan(p.stopCh)
	}

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		delete(p.subscribers, id)
		if len(p.subscribers) == 0 && p.scanning {
			close(p.stopCh)
			p.scanning = false
		}
	}
}

// backgroundScan は定期的にデバイス構成を確認し、変更時に通知する
func (p *V4L2Provider) backgroundScan(stopCh chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			paths, err := scanVideoNodes(context.Background())
			if err != nil {
				continue
			}

			p.mu.Lock()
			changed := !equalStringSlices(paths, p.knownDevices)
			p.knownDevices = paths
			var fns []func()
			if changed {
				for _, fn := range p.subscribers {
					fns = append(fns, fn)
				}
			}
			p.mu.Unlock()

			// ロック外で通知する
			for _, fn := range fns {
				fn()
			}
		}
	}
}

// v4l2Stream はV4L2デバイスのStream実装
type v4l2Stream struct {
	id      string
	tracks  []Track
	mu      sync.Mutex
	stopped bool
}

// ID はストリームの一意識別子を返す
func (s *v4l2Stream) ID() string {
	return s.id
}

// VideoTrack は映像トラックを返す
func (s *v4l2Stream) VideoTrack() Track {
	for _, t := range s.tracks {
		if t.Kind() == KindVideoInput {
			return t
		}
	}
	return nil
}

// Tracks は全トラックを返す
func (s *v4l2Stream) Tracks() []Track {
	return s.tracks
}

// Stop は全トラックを停止する
func (s *v4l2Stream) Stop() {
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

// v4l2Track はV4L2デバイスのTrack実装
// フレーム取得はffmpegの単一フレームキャプチャで行う
type v4l2Track struct {
	device   string
	mu       sync.Mutex
	settings TrackSettings
	stopped  bool
}

// Kind はトラック種別を返す
func (t *v4l2Track) Kind() DeviceKind {
	return KindVideoInput
}

// Settings は現在の設定値を返す
func (t *v4l2Track) Settings() TrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// Capabilities はトラックの能力範囲を返す
// v4l2-ctlのコントロール一覧からズーム・フォーカス対応を判定する
func (t *v4l2Track) Capabilities() TrackCapabilities {
	caps := TrackCapabilities{
		MinWidth:     160,
		MaxWidth:     1920,
		MinHeight:    120,
		MaxHeight:    1080,
		MinFrameRate: 5,
		MaxFrameRate: 30,
		FocusModes:   []FocusMode{FocusModeAuto, FocusModeContinuous},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", t.device, "--list-ctrls")
	output, err := cmd.Output()
	if err != nil {
		return caps
	}

	text := string(output)
	if min, max, ok := parseCtrlRange(text, "zoom_absolute"); ok {
		caps.HasZoom = true
		caps.MinZoom = min
		caps.MaxZoom = max
	}
	caps.HasFocus = strings.Contains(text, "focus_automatic_continuous") ||
		strings.Contains(text, "focus_auto")
	caps.HasTorch = strings.Contains(text, "led1_mode")

	return caps
}

// ApplyConstraints はライブ制約をv4l2コントロールへ適用する
func (t *v4l2Track) ApplyConstraints(ctx context.Context, patch ConstraintPatch) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return Errorf(CodeStreamFailed, "トラックは停止済みです")
	}

	if patch.Zoom != nil {
		caps := t.Capabilities()
		if caps.HasZoom && (*patch.Zoom < caps.MinZoom || *patch.Zoom > caps.MaxZoom) {
			return Errorf(CodeOverconstrained, "ズーム値が範囲外です: %v", *patch.Zoom)
		}
		if err := t.setControl(ctx, "zoom_absolute", strconv.Itoa(int(*patch.Zoom))); err != nil {
			return err
		}
		t.settings.Zoom = *patch.Zoom
	}

	if patch.Torch != nil {
		value := "0"
		if *patch.Torch {
			value = "1"
		}
		if err := t.setControl(ctx, "led1_mode", value); err != nil {
			return err
		}
		t.settings.Torch = *patch.Torch
	}

	if patch.FocusMode != nil {
		value := "0"
		if *patch.FocusMode == FocusModeContinuous || *patch.FocusMode == FocusModeAuto {
			value = "1"
		}
		if err := t.setControl(ctx, "focus_automatic_continuous", value); err != nil {
			return err
		}
		t.settings.FocusMode = *patch.FocusMode
	}

	return nil
}

// setControl はv4l2-ctlでコントロールを設定する
func (t *v4l2Track) setControl(ctx context.Context, control, value string) error {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", t.device,
		"--set-ctrl", fmt.Sprintf("%s=%s", control, value))
	if err := cmd.Run(); err != nil {
		return NewError(CodeConstraint, fmt.Sprintf("コントロール %s の設定に失敗", control), err)
	}
	return nil
}

// GrabFrame はffmpegで1フレームをキャプチャしてデコードする
func (t *v4l2Track) GrabFrame(ctx context.Context) (*image.RGBA, error) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil, Errorf(CodeStreamFailed, "トラックは停止済みです")
	}
	device := t.device
	width, height := t.settings.Width, t.settings.Height
	t.mu.Unlock()

	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", device,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("フレームキャプチャに失敗: %w (stderr: %s)", err, stderr.String())
	}

	img, err := jpeg.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}

	// RGBAへ変換（ピクセルパイプラインの共通フォーマット）
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)

	return rgba, nil
}

// Stop はトラックを停止する
func (t *v4l2Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// scanVideoNodes は/dev/video*をデバイス番号順に列挙する
func scanVideoNodes(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractNodeNumber(matches[i]) < extractNodeNumber(matches[j])
	})

	var devices []string
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if isVideoNode(match) {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// isVideoNode はパスがV4L2デバイスノードかチェックする
func isVideoNode(path string) bool {
	matched, _ := regexp.MatchString(`^/dev/video\d+$`, path)
	if !matched {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// isNodeReadable はデバイスノードの読み取り権限をチェックする
func isNodeReadable(path string) bool {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// v4l2DeviceName はv4l2-ctlで実際のデバイス名を取得する
func v4l2DeviceName(device string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info")
	output, err := cmd.Output()
	if err == nil {
		// "Card type" の行からカメラ名を抽出
		for _, line := range strings.Split(string(output), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "Card type") {
				parts := strings.SplitN(line, ":", 2)
				if len(parts) == 2 {
					if name := strings.TrimSpace(parts[1]); name != "" {
						return name
					}
				}
			}
		}
	}

	// フォールバック: デバイス番号から生成
	return fmt.Sprintf("カメラ %d", extractNodeNumber(device))
}

// extractNodeNumber はデバイスパスから番号を抽出する
func extractNodeNumber(device string) int {
	re := regexp.MustCompile(`video(\d+)`)
	matches := re.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}
	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}

// parseCtrlRange はv4l2-ctl出力からコントロールのmin/maxを抽出する
func parseCtrlRange(output, control string) (min, max float64, ok bool) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, control) {
			continue
		}
		re := regexp.MustCompile(`min=(-?\d+).*max=(-?\d+)`)
		m := re.FindStringSubmatch(line)
		if len(m) == 3 {
			minV, err1 := strconv.ParseFloat(m[1], 64)
			maxV, err2 := strconv.ParseFloat(m[2], 64)
			if err1 == nil && err2 == nil {
				return minV, maxV, true
			}
		}
	}
	return 0, 0, false
}

// classifyDeviceError はOSレベルのエラーをエラー分類へ変換する
func classifyDeviceError(device string, err error) *MediaError {
	msg := err.Error()
	switch {
	case os.IsPermission(err) || strings.Contains(msg, "Permission denied"):
		return NewError(CodePermissionDenied, fmt.Sprintf("デバイスへのアクセスが拒否されました: %s", device), err)
	case os.IsNotExist(err) || strings.Contains(msg, "No such"):
		return NewError(CodeDeviceNotFound, fmt.Sprintf("デバイスが見つかりません: %s", device), err)
	case strings.Contains(msg, "busy") || strings.Contains(msg, "Device or resource busy"):
		return NewError(CodeDeviceBusy, fmt.Sprintf("デバイスが使用中です: %s", device), err)
	default:
		return NewError(CodeStreamFailed, fmt.Sprintf("ストリームの取得に失敗: %s", device), err)
	}
}

// equalStringSlices は2つの文字列スライスが等しいかチェックする
func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
