// Package stream は合成画像をJPEGに変換し、MJPEGストリームのチャンクとして提供する
//
// Encoder はプル型のイテレータで、Next を呼ぶたびに1チャンクを返す。
// 2回目以降の Next は前回の送出から一定間隔待ってから合成を行うため、
// 利用側の読み出し速度に関わらず送出レートは約14fpsに制限される。
package stream

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultQuality はJPEG品質
	DefaultQuality = 80

	// DefaultInterval はチャンク間の待機時間（約14fps）
	DefaultInterval = 70 * time.Millisecond
)

// Composer は合成画像を提供する
type Composer interface {
	Compose() *image.RGBA
}

// EncodeFunc は画像をエンコードして w に書き込む
type EncodeFunc func(w io.Writer, img image.Image) error

// JPEGEncoder は指定品質のJPEGエンコーダーを返す
func JPEGEncoder(quality int) EncodeFunc {
	opts := &jpeg.Options{Quality: quality}
	return func(w io.Writer, img image.Image) error {
		return jpeg.Encode(w, img, opts)
	}
}

// Clock は待機に使う時計
// github.com/benbjohnson/clock の Clock はこれを満たす
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Recorder はストリームの動作を外部（メトリクス等）へ通知する
type Recorder interface {
	ChunkEmitted(size int)
	EncodeFailed()
	ComposeObserved(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ChunkEmitted(int)              {}
func (nopRecorder) EncodeFailed()                 {}
func (nopRecorder) ComposeObserved(time.Duration) {}

// Encoder は1つのストリーム（1クライアント）分のチャンク生成器
// 並行利用はできない
type Encoder struct {
	composer Composer
	encode   EncodeFunc
	interval time.Duration
	clock    Clock
	recorder Recorder

	emitted bool
	buf     bytes.Buffer
}

// Option はEncoderの設定を変更する
type Option func(*Encoder)

// WithEncodeFunc はエンコード関数を設定する
func WithEncodeFunc(fn EncodeFunc) Option {
	return func(e *Encoder) {
		if fn != nil {
			e.encode = fn
		}
	}
}

// WithQuality はJPEG品質を設定する
func WithQuality(quality int) Option {
	return func(e *Encoder) {
		if quality > 0 && quality <= 100 {
			e.encode = JPEGEncoder(quality)
		}
	}
}

// WithInterval はチャンク間の待機時間を設定する
func WithInterval(d time.Duration) Option {
	return func(e *Encoder) {
		if d >= 0 {
			e.interval = d
		}
	}
}

// WithClock は待機に使う時計を設定する
func WithClock(c Clock) Option {
	return func(e *Encoder) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithRecorder は通知先を設定する
func WithRecorder(r Recorder) Option {
	return func(e *Encoder) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewEncoder は新しいEncoderを作成する
func NewEncoder(composer Composer, opts ...Option) *Encoder {
	e := &Encoder{
		composer: composer,
		encode:   JPEGEncoder(DefaultQuality),
		interval: DefaultInterval,
		clock:    clock.New(),
		recorder: nopRecorder{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Next は次のチャンクを返す
// 前回チャンクを返していれば interval だけ待ってから合成する。
// エンコードに失敗した合成画像は捨て、待たずに作り直す。
// エラーを返すのは ctx が終了した場合のみ
func (e *Encoder) Next(ctx context.Context) ([]byte, error) {
	if e.emitted && e.interval > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.clock.After(e.interval):
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := e.clock.Now()
		img := e.composer.Compose()
		e.recorder.ComposeObserved(e.clock.Now().Sub(start))

		e.buf.Reset()
		if err := e.encode(&e.buf, img); err != nil {
			e.recorder.EncodeFailed()
			log.Debug().Err(err).Msg("JPEGエンコードに失敗したためフレームをスキップします")
			continue
		}

		chunk := FrameChunk(e.buf.Bytes())
		e.emitted = true
		e.recorder.ChunkEmitted(len(chunk))
		return chunk, nil
	}
}

// Stream は ctx が終了するか書き込みに失敗するまでチャンクを w に書き込む
// flush はチャンク毎に呼ばれる（nil可）
func (e *Encoder) Stream(ctx context.Context, w io.Writer, flush func()) error {
	for {
		chunk, err := e.Next(ctx)
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
	}
}
