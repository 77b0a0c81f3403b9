package camera

import (
	"context"
	"errors"
)

// FrameSource は1台のカメラからデコード済みフレームを取り出すインターフェース
// 実装は並行呼び出しを考慮しなくてよい（所有するワーカーのみが呼び出す）
type FrameSource interface {
	// Open はストリームへ接続する
	Open(ctx context.Context) error

	// Read は次のフレームを1枚返す
	// ストリーム終端・デコード失敗・空フレームの場合はエラーを返す
	Read() (Frame, error)

	// Close は接続を解放する。Open に失敗した後に呼んでもよい
	Close() error
}

// SourceFactory は接続URLからFrameSourceを作成する
type SourceFactory func(url string) FrameSource

// ErrEndOfStream はストリームが終端に達したことを表す
var ErrEndOfStream = errors.New("ストリームが終了しました")
