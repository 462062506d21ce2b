// Package capture ライブフレームから静止画を生成するキャプチャパイプラインを担う
//
// # 責務
// - 圧縮画像・生ピクセルバッファ・転送可能ビットマップの3形式への変換
// - クロップ → ミラー → スケールの固定順での変換合成
// - ピクセルバッファと描画サーフェスのプーリングによる割り当て抑制
//
// # 仕様
// - スケールは[0.1, 2.0]へクランプし、出力寸法はfloor(ソース寸法×スケール)
// - 生ピクセルバッファは寸法が変わらない限り同じ参照を再利用する
// - ミラー専用サーフェスは初回使用時に遅延作成し、以後寸法キャッシュする
// - Dispose後のキャプチャは失敗する（暗黙の再割り当てはしない）
package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"sync"
	"time"

	"hitomi/internal/platform"
)

// スケールのクランプ範囲
const (
	MinScale = 0.1
	MaxScale = 2.0
)

// DefaultQuality は圧縮画像の既定品質
const DefaultQuality = 0.92

// CropRegion はソースフレーム内の切り出し領域を表す
type CropRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Request は1回のキャプチャ要求を表す（保持されない）
type Request struct {
	Scale         float64     // [0.1, 2.0]、0は1.0扱い
	Mirror        *bool       // nilはセッション既定値に従う
	Crop          *CropRegion // nilはフレーム全体
	ImageType     string      // 圧縮形式（既定: image/jpeg）
	Quality       float64     // [0, 1]（既定: 0.92）
	IncludeBase64 bool        // Base64テキストも含めるか
}

// ImageResult は圧縮画像形式のキャプチャ結果
type ImageResult struct {
	Blob      []byte    `json:"-"`
	URL       string    `json:"url"`    // 破棄可能なプレビューハンドル
	Base64    string    `json:"base64,omitempty"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	MimeType  string    `json:"mime_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PixelResult は生ピクセル形式のキャプチャ結果
// Pixelsはプールされた長寿命バッファへの参照であり、
// 次の同寸法キャプチャで内容が上書きされる
type PixelResult struct {
	Pixels    []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// BitmapResult は転送可能ビットマップ形式のキャプチャ結果
// Bitmapは呼び出し側所有であり、明示的にReleaseすること
type BitmapResult struct {
	Bitmap    platform.Bitmap
	Width     int
	Height    int
	Timestamp time.Time
}

// Engine はキャプチャパイプラインを実装する
// 描画サーフェスとピクセルバッファを専有し、セッション間で共有してはならない
type Engine struct {
	provider platform.Provider

	mu      sync.Mutex
	surface platform.Surface // 主描画サーフェス

	// ミラー付きビットマップ経路専用（遅延作成・寸法キャッシュ）
	mirrorSurface platform.Surface

	// プールされたピクセルバッファ
	pool  []byte
	poolW int
	poolH int

	disposed bool
}

// NewEngine は新しいEngineを作成する
func NewEngine(provider platform.Provider) *Engine {
	return &Engine{
		provider: provider,
		surface:  provider.NewSurface(),
	}
}

// CaptureImageData はフレームを描画して生ピクセルバッファへ読み出す
// 最も低遅延の経路であり、フレーム毎のリアルタイムループ向け
// 寸法が変わらない限りバッファは同一参照を再利用する
func (e *Engine) CaptureImageData(_ context.Context, sink *platform.VideoSink, req Request) (*PixelResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	frame, crop, outW, outH, err := e.prepare(sink, req)
	if err != nil {
		return nil, err
	}

	e.surface.Resize(outW, outH)
	e.surface.Draw(frame, crop, mirrorOf(req))

	need := outW * outH * 4
	if e.poolW != outW || e.poolH != outH || len(e.pool) < need {
		// 寸法変更時のみ再割り当てする
		e.pool = make([]byte, need)
		e.poolW = outW
		e.poolH = outH
	}
	e.surface.ReadPixels(e.pool)

	return &PixelResult{
		Pixels:    e.pool,
		Width:     outW,
		Height:    outH,
		Timestamp: time.Now(),
	}, nil
}

// CaptureImage はフレームを描画して圧縮画像へエンコードする
// 最も遅い経路（ネットワーク・保存用途向け）
// Base64エンコードが失敗した場合は作成済みプレビューハンドルを破棄する
func (e *Engine) CaptureImage(_ context.Context, sink *platform.VideoSink, req Request) (*ImageResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	frame, crop, outW, outH, err := e.prepare(sink, req)
	if err != nil {
		return nil, err
	}

	e.surface.Resize(outW, outH)
	e.surface.Draw(frame, crop, mirrorOf(req))

	mimeType := req.ImageType
	if mimeType == "" {
		mimeType = platform.MimeJPEG
	}
	quality := req.Quality
	if quality == 0 {
		quality = DefaultQuality
	}

	blob, err := e.surface.Encode(mimeType, quality)
	if err != nil {
		return nil, platform.NewError(platform.CodeCaptureFailed, "画像のエンコードに失敗", err)
	}

	url, err := e.provider.CreateObjectURL(blob, mimeType)
	if err != nil {
		return nil, platform.NewError(platform.CodeCaptureFailed, "プレビューURLの作成に失敗", err)
	}

	result := &ImageResult{
		Blob:      blob,
		URL:       url,
		Width:     outW,
		Height:    outH,
		MimeType:  mimeType,
		Timestamp: time.Now(),
	}

	if req.IncludeBase64 {
		encoded, err := encodeBase64(blob)
		if err != nil {
			// ハンドル作成後の失敗: プレビューハンドルを残さない
			e.provider.RevokeObjectURL(url)
			return nil, platform.NewError(platform.CodeCaptureFailed, "Base64エンコードに失敗", err)
		}
		result.Base64 = encoded
	}

	return result, nil
}

// CaptureImageBitmap はフレームから転送可能ビットマップを作成する
// ミラー不要の場合はソースから直接作成する（中間サーフェスなしの最速経路）
// ミラー要求時のみ専用サーフェス経由で描画する
func (e *Engine) CaptureImageBitmap(_ context.Context, sink *platform.VideoSink, req Request) (*BitmapResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	frame, crop, outW, outH, err := e.prepare(sink, req)
	if err != nil {
		return nil, err
	}

	var bitmap platform.Bitmap
	if !mirrorOf(req) {
		// ネイティブのリサイズ・クロップで直接作成
		bitmap, err = e.provider.NewBitmap(frame, platform.BitmapOptions{
			Crop:   &crop,
			Width:  outW,
			Height: outH,
		})
		if err != nil {
			return nil, platform.NewError(platform.CodeCaptureFailed, "ビットマップの作成に失敗", err)
		}
	} else {
		// ミラー経路: 遅延作成した専用サーフェスを経由する
		if e.mirrorSurface == nil {
			e.mirrorSurface = e.provider.NewSurface()
		}
		e.mirrorSurface.Resize(outW, outH)
		e.mirrorSurface.Draw(frame, crop, true)

		bitmap, err = e.provider.NewBitmap(e.mirrorSurface.Snapshot(), platform.BitmapOptions{})
		if err != nil {
			return nil, platform.NewError(platform.CodeCaptureFailed, "ビットマップの作成に失敗", err)
		}
	}

	return &BitmapResult{
		Bitmap:    bitmap,
		Width:     outW,
		Height:    outH,
		Timestamp: time.Now(),
	}, nil
}

// Dispose は所有サーフェスとプールバッファを解放する
// 以後のキャプチャ呼び出しは失敗する（暗黙の再割り当てはしない）
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return
	}
	e.disposed = true

	if e.surface != nil {
		e.surface.Release()
		e.surface = nil
	}
	if e.mirrorSurface != nil {
		e.mirrorSurface.Release()
		e.mirrorSurface = nil
	}
	e.pool = nil
	e.poolW = 0
	e.poolH = 0
}

// prepare は共通の前提条件検証と寸法計算を行う（ロック済み前提）
func (e *Engine) prepare(sink *platform.VideoSink, req Request) (*image.RGBA, image.Rectangle, int, int, error) {
	if e.disposed {
		return nil, image.Rectangle{}, 0, 0,
			platform.Errorf(platform.CodeCaptureFailed, "キャプチャエンジンは破棄済みです")
	}

	if sink == nil {
		return nil, image.Rectangle{}, 0, 0,
			platform.Errorf(platform.CodeVideoSinkNotSet, "シンクサーフェスが設定されていません")
	}

	frame, ok := sink.CurrentFrame()
	if !ok {
		return nil, image.Rectangle{}, 0, 0,
			platform.Errorf(platform.CodeVideoSinkNotSet, "フレームがまだデコードされていません")
	}

	crop := frame.Bounds()
	if req.Crop != nil {
		crop = image.Rect(req.Crop.X, req.Crop.Y,
			req.Crop.X+req.Crop.Width, req.Crop.Y+req.Crop.Height).Intersect(frame.Bounds())
		if crop.Empty() {
			return nil, image.Rectangle{}, 0, 0,
				platform.Errorf(platform.CodeInvalidConfig, "クロップ領域がフレーム範囲外です")
		}
	}

	scale := clampScale(req.Scale)
	outW := int(float64(crop.Dx()) * scale)
	outH := int(float64(crop.Dy()) * scale)
	if outW < 1 || outH < 1 {
		return nil, image.Rectangle{}, 0, 0,
			platform.Errorf(platform.CodeInvalidConfig, "出力寸法が小さすぎます: %dx%d", outW, outH)
	}

	return frame, crop, outW, outH, nil
}

// clampScale はスケールを[MinScale, MaxScale]へクランプする
func clampScale(scale float64) float64 {
	if scale == 0 {
		return 1.0
	}
	if scale < MinScale {
		return MinScale
	}
	if scale > MaxScale {
		return MaxScale
	}
	return scale
}

// mirrorOf は要求のミラー指定を解決する（nilはミラーなし）
func mirrorOf(req Request) bool {
	return req.Mirror != nil && *req.Mirror
}

// encodeBase64 はバイナリをBase64テキストへ変換する
func encodeBase64(blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", fmt.Errorf("エンコード対象が空です")
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}
