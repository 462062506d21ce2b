package platform

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

// MIMEタイプ定数
const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
)

// Surface はオフスクリーン描画サーフェスを表す
// 1つのCaptureEngineに専有され、セッション間で共有してはならない
type Surface interface {
	// Resize はサーフェスを指定サイズに変更する
	// 同一サイズの場合はバッファを再利用する
	Resize(width, height int)

	// Size は現在のサイズを返す
	Size() (width, height int)

	// Draw はソース画像のクロップ領域をサーフェス全体へ描画する
	// 変換はクロップ → ミラー → スケールの固定順で合成される
	Draw(src *image.RGBA, crop image.Rectangle, mirror bool)

	// ReadPixels はRGBAピクセルをdstへ読み出す
	// dstは width*height*4 バイト以上であること
	ReadPixels(dst []byte)

	// Snapshot は現在の内容のコピーを返す
	Snapshot() *image.RGBA

	// Encode は内容を圧縮画像にエンコードする
	// qualityは[0,1]（JPEGのみ有効）
	Encode(mimeType string, quality float64) ([]byte, error)

	// Release はバッファを解放する
	Release()
}

// rgbaSurface はSurfaceのメモリ上の実装
type rgbaSurface struct {
	img *image.RGBA
}

// NewSurface は新しい描画サーフェスを作成する
func NewSurface() Surface {
	return &rgbaSurface{}
}

// Resize はサーフェスを指定サイズに変更する
func (s *rgbaSurface) Resize(width, height int) {
	if s.img != nil {
		b := s.img.Bounds()
		if b.Dx() == width && b.Dy() == height {
			return // サイズ不変の場合は再割り当てしない
		}
	}
	s.img = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Size は現在のサイズを返す
func (s *rgbaSurface) Size() (int, int) {
	if s.img == nil {
		return 0, 0
	}
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

// Draw はソース画像のクロップ領域をサーフェス全体へ描画する
// 最近傍サンプリングでスケールし、ミラー時はサンプル位置を水平反転する
func (s *rgbaSurface) Draw(src *image.RGBA, crop image.Rectangle, mirror bool) {
	if s.img == nil || src == nil {
		return
	}

	crop = crop.Intersect(src.Bounds())
	if crop.Empty() {
		return
	}

	outBounds := s.img.Bounds()
	outW, outH := outBounds.Dx(), outBounds.Dy()
	cropW, cropH := crop.Dx(), crop.Dy()

	for y := 0; y < outH; y++ {
		sy := crop.Min.Y + y*cropH/outH
		dstRow := s.img.Pix[y*s.img.Stride:]
		for x := 0; x < outW; x++ {
			sx := x * cropW / outW
			if mirror {
				sx = cropW - 1 - sx
			}
			sx += crop.Min.X

			si := src.PixOffset(sx, sy)
			di := x * 4
			copy(dstRow[di:di+4], src.Pix[si:si+4])
		}
	}
}

// ReadPixels はRGBAピクセルをdstへ読み出す
func (s *rgbaSurface) ReadPixels(dst []byte) {
	if s.img == nil {
		return
	}
	b := s.img.Bounds()
	rowBytes := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		copy(dst[y*rowBytes:(y+1)*rowBytes], s.img.Pix[y*s.img.Stride:y*s.img.Stride+rowBytes])
	}
}

// Snapshot は現在の内容のコピーを返す
func (s *rgbaSurface) Snapshot() *image.RGBA {
	if s.img == nil {
		return nil
	}
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

// Encode は内容を圧縮画像にエンコードする
func (s *rgbaSurface) Encode(mimeType string, quality float64) ([]byte, error) {
	if s.img == nil {
		return nil, fmt.Errorf("サーフェスが空です")
	}

	// qualityを[0,1]へクランプ
	if quality < 0 {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}

	var buf bytes.Buffer
	switch mimeType {
	case MimePNG:
		if err := png.Encode(&buf, s.img); err != nil {
			return nil, fmt.Errorf("PNGエンコードに失敗: %w", err)
		}
	case MimeJPEG, "":
		opts := &jpeg.Options{Quality: int(quality * 100)}
		if opts.Quality < 1 {
			opts.Quality = 1
		}
		if err := jpeg.Encode(&buf, s.img, opts); err != nil {
			return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
		}
	default:
		return nil, fmt.Errorf("サポートされていないMIMEタイプ: %s", mimeType)
	}

	return buf.Bytes(), nil
}

// Release はバッファを解放する
func (s *rgbaSurface) Release() {
	s.img = nil
}

// memoryBitmap はBitmapのメモリ上の実装
type memoryBitmap struct {
	img *image.RGBA
}

// NewBitmapFromImage はソース画像からビットマップを作成する
// クロップとリサイズをネイティブに適用する（中間サーフェス不要の高速経路）
func NewBitmapFromImage(src *image.RGBA, opts BitmapOptions) (Bitmap, error) {
	if src == nil {
		return nil, fmt.Errorf("ソース画像がnilです")
	}

	crop := src.Bounds()
	if opts.Crop != nil {
		crop = opts.Crop.Intersect(src.Bounds())
		if crop.Empty() {
			return nil, fmt.Errorf("クロップ領域がソース範囲外です")
		}
	}

	outW := opts.Width
	outH := opts.Height
	if outW <= 0 {
		outW = crop.Dx()
	}
	if outH <= 0 {
		outH = crop.Dy()
	}

	// リサイズ付きコピーを作成
	s := &rgbaSurface{}
	s.Resize(outW, outH)
	s.Draw(src, crop, false)

	return &memoryBitmap{img: s.img}, nil
}

// Width は幅を返す
func (b *memoryBitmap) Width() int {
	if b.img == nil {
		return 0
	}
	return b.img.Bounds().Dx()
}

// Height は高さを返す
func (b *memoryBitmap) Height() int {
	if b.img == nil {
		return 0
	}
	return b.img.Bounds().Dy()
}

// Pixels はピクセルデータを返す
func (b *memoryBitmap) Pixels() *image.RGBA {
	return b.img
}

// Release はリソースを解放する
func (b *memoryBitmap) Release() {
	b.img = nil
}
