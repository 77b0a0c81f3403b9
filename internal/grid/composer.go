// Package grid は各カメラの最新フレームを1枚のグリッド画像に合成する
//
// 合成は取得のたびに FrameStore のスナップショットから作り直し、結果はキャッシュしない。
// 基準解像度は設定順で最初にフレームを持つカメラの解像度で、
// 他のフレームはその解像度にリサイズされる。
package grid

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/rs/zerolog/log"
	xdraw "golang.org/x/image/draw"

	"nvrwall/internal/camera"
)

const (
	// DefaultWidth はフレームが1枚もない場合のセル幅
	DefaultWidth = 640
	// DefaultHeight はフレームが1枚もない場合のセル高さ
	DefaultHeight = 360

	defaultFontSize = 24
)

// Snapshotter はFrameStoreのスナップショットを提供する
type Snapshotter interface {
	Snapshot() []camera.Entry
}

// Compositor はグリッド画像を合成する
type Compositor struct {
	store         Snapshotter
	defaultWidth  int
	defaultHeight int
	labels        *labeler
}

// Option はCompositorの設定を変更する
type Option func(*Compositor)

// WithDefaultSize はフレームがない場合のセルサイズを設定する
func WithDefaultSize(width, height int) Option {
	return func(c *Compositor) {
		if width > 0 && height > 0 {
			c.defaultWidth = width
			c.defaultHeight = height
		}
	}
}

// WithFontSize はオーバーレイ文字のサイズを設定する
func WithFontSize(size float64) Option {
	return func(c *Compositor) {
		if size > 0 {
			c.labels = newLabeler(size)
		}
	}
}

// NewCompositor は新しいCompositorを作成する
func NewCompositor(store Snapshotter, opts ...Option) *Compositor {
	c := &Compositor{
		store:         store,
		defaultWidth:  DefaultWidth,
		defaultHeight: DefaultHeight,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.labels == nil {
		c.labels = newLabeler(defaultFontSize)
	}

	return c
}

// Compose は現在のスナップショットからグリッド画像を作成する
// 常に画像を返し、失敗したカメラのセルはプレースホルダーになる
func (c *Compositor) Compose() *image.RGBA {
	entries := c.store.Snapshot()

	width, height := c.targetSize(entries)
	layout := calculateLayout(len(entries), width, height)

	out := image.NewRGBA(layout.Bounds())
	draw.Draw(out, out.Bounds(), image.Black, image.Point{}, draw.Src)

	for i, entry := range entries {
		cell := out.SubImage(layout.Cell(i)).(*image.RGBA)
		c.renderCell(cell, entry)
	}

	return out
}

// targetSize は設定順で最初にフレームを持つカメラの解像度を返す
func (c *Compositor) targetSize(entries []camera.Entry) (int, int) {
	for _, entry := range entries {
		if !hasFrame(entry) {
			continue
		}
		bounds := entry.Frame.Bounds()
		return bounds.Dx(), bounds.Dy()
	}
	return c.defaultWidth, c.defaultHeight
}

// renderCell は1カメラ分のセルを描画する
// 描画中に問題が起きた場合はそのセルだけプレースホルダーに置き換える
func (c *Compositor) renderCell(cell *image.RGBA, entry camera.Entry) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Int("channel", int(entry.Channel)).
				Interface("panic", r).
				Msg("フレームの描画に失敗したためプレースホルダーを表示します")
			c.drawPlaceholder(cell, entry)
		}
	}()

	if !hasFrame(entry) {
		c.drawPlaceholder(cell, entry)
		return
	}

	src := entry.Frame
	srcBounds := src.Bounds()
	dstBounds := cell.Bounds()

	if srcBounds.Dx() == dstBounds.Dx() && srcBounds.Dy() == dstBounds.Dy() {
		draw.Draw(cell, dstBounds, src, srcBounds.Min, draw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(cell, dstBounds, src, srcBounds, draw.Src, nil)
	}

	// 保存されたフレーム自体には描画しない
	c.labels.draw(cell, fmt.Sprintf("%s (%s)", entry.Channel, entry.Status), 10, 30, labelColor)
}

// drawPlaceholder は黒背景に赤文字でチャンネルと状態を描画する
func (c *Compositor) drawPlaceholder(cell *image.RGBA, entry camera.Entry) {
	draw.Draw(cell, cell.Bounds(), image.Black, image.Point{}, draw.Src)
	c.labels.draw(cell, PlaceholderText(entry), 40, cell.Bounds().Dy()/2, placeholderColor)
}

// PlaceholderText はプレースホルダーに表示する文字列（例: CH2 - failed to open）
func PlaceholderText(entry camera.Entry) string {
	return fmt.Sprintf("%s - %s", entry.Channel, entry.Status)
}

// hasFrame はnilポインタを含むフレームも安全に判定する
func hasFrame(entry camera.Entry) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return entry.HasFrame()
}
