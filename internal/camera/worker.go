package camera

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBackoff は再接続までの待機時間
const DefaultBackoff = 2 * time.Second

// Worker は1チャンネル分のフレーム取得ループを実行する
type Worker struct {
	channel  Channel
	url      string
	factory  SourceFactory
	store    *FrameStore
	backoff  time.Duration
	clock    clock.Clock
	observer Observer
	logger   zerolog.Logger
}

// WorkerOption はWorkerの設定を変更する
type WorkerOption func(*Worker)

// WithBackoff は再接続の待機時間を設定する
func WithBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.backoff = d
	}
}

// WithClock は待機に使う時計を設定する
func WithClock(c clock.Clock) WorkerOption {
	return func(w *Worker) {
		w.clock = c
	}
}

// WithObserver はフレーム受信・状態変化の通知先を設定する
func WithObserver(o Observer) WorkerOption {
	return func(w *Worker) {
		if o != nil {
			w.observer = o
		}
	}
}

// NewWorker は新しいWorkerを作成する
func NewWorker(ch Channel, url string, factory SourceFactory, store *FrameStore, opts ...WorkerOption) *Worker {
	w := &Worker{
		channel:  ch,
		url:      url,
		factory:  factory,
		store:    store,
		backoff:  DefaultBackoff,
		clock:    clock.New(),
		observer: nopObserver{},
		logger:   log.With().Str("component", "camera").Int("channel", int(ch)).Logger(),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Channel は担当チャンネルを返す
func (w *Worker) Channel() Channel {
	return w.channel
}

// Run はコンテキストがキャンセルされるまで接続・受信・再接続を繰り返す
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Msg("カメラワーカーを開始しました")
	defer w.logger.Info().Msg("カメラワーカーを停止しました")

	for ctx.Err() == nil {
		w.session(ctx)

		if !w.wait(ctx) {
			return
		}
	}
}

// session は1回分の接続から切断までを処理する
func (w *Worker) session(ctx context.Context) {
	w.setStatus(StatusConnecting)

	source := w.factory(w.url)
	if err := source.Open(ctx); err != nil {
		w.setStatus(StatusFailedToOpen)
		w.logger.Warn().Err(err).Dur("backoff", w.backoff).Msg("ストリームを開けませんでした")
		_ = source.Close()
		return
	}
	defer func() {
		_ = source.Close()
	}()

	w.setStatus(StatusOnline)
	w.logger.Info().Msg("ストリームに接続しました")

	for ctx.Err() == nil {
		frame, err := source.Read()
		if err != nil || frame == nil {
			w.setStatus(StatusLostSignal)
			w.logger.Warn().Err(err).Dur("backoff", w.backoff).Msg("信号が途絶えました")
			return
		}

		// 前回のフレームは置き換えるだけで、信号断の際も消去しない
		if err := w.store.Publish(w.channel, frame); err != nil {
			w.logger.Error().Err(err).Msg("フレームの保存に失敗")
			return
		}
		w.observer.FrameReceived(w.channel)
	}
}

// wait は再接続までの待機を行う。キャンセルされた場合は false を返す
func (w *Worker) wait(ctx context.Context) bool {
	if w.backoff <= 0 {
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-w.clock.After(w.backoff):
		return true
	}
}

func (w *Worker) setStatus(status Status) {
	if err := w.store.PublishStatus(w.channel, status); err != nil {
		w.logger.Error().Err(err).Msg("状態の保存に失敗")
		return
	}
	w.observer.StatusChanged(w.channel, status)
}
