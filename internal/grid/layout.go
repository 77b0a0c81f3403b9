package grid

import (
	"image"
	"math"
)

// Layout はグリッドの行列数とセルサイズ
type Layout struct {
	Cols       int
	Rows       int
	CellWidth  int
	CellHeight int
}

// calculateLayout はカメラ台数に基づいてレイアウトを計算する
func calculateLayout(count, cellWidth, cellHeight int) Layout {
	var cols, rows int

	switch {
	case count <= 1:
		cols, rows = 1, 1
	case count == 2:
		cols, rows = 2, 1
	case count <= 4:
		cols, rows = 2, 2 // 3台の場合も2x2で1つ空き
	default:
		cols = int(math.Ceil(math.Sqrt(float64(count))))
		rows = (count + cols - 1) / cols
	}

	return Layout{
		Cols:       cols,
		Rows:       rows,
		CellWidth:  cellWidth,
		CellHeight: cellHeight,
	}
}

// Bounds は合成画像全体の範囲
func (l Layout) Bounds() image.Rectangle {
	return image.Rect(0, 0, l.Cols*l.CellWidth, l.Rows*l.CellHeight)
}

// Cell は index 番目（行優先）のセルの範囲
func (l Layout) Cell(index int) image.Rectangle {
	row := index / l.Cols
	col := index % l.Cols

	x := col * l.CellWidth
	y := row * l.CellHeight
	return image.Rect(x, y, x+l.CellWidth, y+l.CellHeight)
}
