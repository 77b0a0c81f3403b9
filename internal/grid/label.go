package grid

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	labelColor       = color.RGBA{R: 0, G: 255, B: 0, A: 255} // 通常のオーバーレイ
	placeholderColor = color.RGBA{R: 255, G: 0, B: 0, A: 255} // プレースホルダー
)

// labeler はフレームに文字を描画する
// font.Face は並行利用できないため mu で保護する
type labeler struct {
	mu   sync.Mutex
	face font.Face
}

func newLabeler(size float64) *labeler {
	return &labeler{face: loadFace(size)}
}

// loadFace はGoフォントを読み込む。失敗した場合は固定幅のビットマップフォントを使う
func loadFace(size float64) font.Face {
	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		log.Warn().Err(err).Msg("フォントの読み込みに失敗したため basicfont を使用します")
		return basicfont.Face7x13
	}

	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		log.Warn().Err(err).Msg("フォントフェイスの作成に失敗したため basicfont を使用します")
		return basicfont.Face7x13
	}
	return face
}

// draw は (x, y) をベースラインの左端として text を描画する
// 座標は dst.Bounds().Min からの相対位置
func (l *labeler) draw(dst draw.Image, text string, x, y int, c color.Color) {
	l.mu.Lock()
	defer l.mu.Unlock()

	origin := dst.Bounds().Min
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: l.face,
		Dot:  fixed.P(origin.X+x, origin.Y+y),
	}
	d.DrawString(text)
}
