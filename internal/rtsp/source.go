// Package rtsp はOpenCV(gocv)を使ってRTSPストリームからフレームを取得する
//
// camera.FrameSource の本番実装。ビルドにはOpenCVが必要なため、
// camera パッケージとは分離している。
package rtsp

import (
	"context"
	"fmt"
	"strings"

	"gocv.io/x/gocv"

	"nvrwall/internal/camera"
)

// Source はgocv.VideoCaptureをラップしたFrameSource
type Source struct {
	url     string
	capture *gocv.VideoCapture
	mat     *gocv.Mat
}

// NewSource は新しいSourceを作成する（接続はOpenで行う）
func NewSource(url string) camera.FrameSource {
	return &Source{url: url}
}

// Factory はcamera.SourceFactoryとして使える
func Factory(url string) camera.FrameSource {
	return NewSource(url)
}

// Open はRTSPストリームを開く
func (s *Source) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// gocvのエラーには認証情報を含むURLがそのまま入るため、ここでは使わない
	capture, err := gocv.OpenVideoCaptureWithAPI(s.url, gocv.VideoCaptureFFmpeg)
	if err != nil {
		return fmt.Errorf("ストリームのオープンに失敗: %s", redact(s.url))
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return fmt.Errorf("ストリームを開けません: %s", redact(s.url))
	}

	mat := gocv.NewMat()
	s.capture = capture
	s.mat = &mat
	return nil
}

// Read は次のフレームをデコードして返す
// 返すフレームは新しく確保した画像で、以後このSourceからは変更されない
func (s *Source) Read() (camera.Frame, error) {
	if s.capture == nil {
		return nil, fmt.Errorf("ストリームが開かれていません")
	}

	if ok := s.capture.Read(s.mat); !ok {
		return nil, camera.ErrEndOfStream
	}
	if s.mat.Empty() {
		return nil, fmt.Errorf("空のフレームを受信しました")
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("フレームの変換に失敗: %w", err)
	}
	return img, nil
}

// Close はストリームとバッファを解放する
func (s *Source) Close() error {
	var err error
	if s.capture != nil {
		err = s.capture.Close()
		s.capture = nil
	}
	if s.mat != nil {
		_ = s.mat.Close()
		s.mat = nil
	}
	return err
}

// redact はログ出力用にURLからパスワードを取り除く
func redact(url string) string {
	const key = "password="
	start := strings.Index(url, key)
	if start < 0 {
		return url
	}
	start += len(key)
	end := strings.IndexByte(url[start:], '&')
	if end < 0 {
		return url[:start] + "***"
	}
	return url[:start] + "***" + url[start+end:]
}
