package platform

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"
)

// VideoSink はホストが供給するシンクサーフェスを表す
// アタッチされたストリームから最新フレームを保持し、キャプチャ側へ供給する
type VideoSink struct {
	mu         sync.RWMutex
	stream     Stream
	frame      *image.RGBA
	mirrorHint bool

	// フレーム取得ループ用
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewVideoSink は新しいVideoSinkを作成する
func NewVideoSink() *VideoSink {
	return &VideoSink{
		interval: 200 * time.Millisecond,
	}
}

// SetPollInterval はフレーム取得間隔を設定する（アタッチ前に呼ぶこと）
func (v *VideoSink) SetPollInterval(interval time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.interval = interval
}

// Attach はストリームをシンクに接続する
// 最初のフレームを同期的に取得してから背景ループを開始するため、
// 成功後は直ちにHasFrameがtrueになる
func (v *VideoSink) Attach(ctx context.Context, stream Stream) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.stream != nil {
		// 既存の接続を先に解除する
		v.detachLocked()
	}

	track := stream.VideoTrack()
	if track == nil {
		return fmt.Errorf("ストリームに映像トラックがありません")
	}

	// 初回フレームを同期取得
	frame, err := track.GrabFrame(ctx)
	if err != nil {
		return fmt.Errorf("初回フレームの取得に失敗: %w", err)
	}

	v.stream = stream
	v.frame = frame
	v.stopCh = make(chan struct{})

	v.wg.Add(1)
	go v.pollFrames(track, v.stopCh, v.interval)

	return nil
}

// Detach はストリームとの接続を解除し、保持フレームを破棄する
// 未接続の場合は何もしない
func (v *VideoSink) Detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.detachLocked()
}

// detachLocked は実際の解除処理を行う（ロック済み前提）
func (v *VideoSink) detachLocked() {
	if v.stream == nil {
		return
	}
	close(v.stopCh)
	v.stream = nil
	v.frame = nil
}

// CurrentFrame は最新フレームを返す
func (v *VideoSink) CurrentFrame() (*image.RGBA, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.frame == nil {
		return nil, false
	}
	return v.frame, true
}

// HasFrame は少なくとも1フレームがデコード済みかを返す
func (v *VideoSink) HasFrame() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.frame != nil
}

// Attached はストリームが接続されているかを返す
func (v *VideoSink) Attached() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stream != nil
}

// SetMirrorHint は表示用のミラーリング指定を設定する
func (v *VideoSink) SetMirrorHint(mirror bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mirrorHint = mirror
}

// MirrorHint は表示用のミラーリング指定を返す
func (v *VideoSink) MirrorHint() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mirrorHint
}

// pollFrames はトラックから定期的にフレームを取得する
func (v *VideoSink) pollFrames(track Track, stopCh chan struct{}, interval time.Duration) {
	defer v.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval*4)
			frame, err := track.GrabFrame(ctx)
			cancel()
			if err != nil {
				// 一時的な取得失敗は無視し、最後の有効フレームを保持する
				continue
			}

			v.mu.Lock()
			// 停止後の遅延フレームは破棄する
			select {
			case <-stopCh:
				v.mu.Unlock()
				return
			default:
			}
			v.frame = frame
			v.mu.Unlock()
		}
	}
}
