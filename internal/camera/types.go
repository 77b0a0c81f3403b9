package camera

import (
	"errors"
	"image"
	"strconv"
)

// Channel はカメラのチャンネル番号（1始まり）
type Channel int

// String はオーバーレイ表示用のラベル（例: CH2）を返す
func (c Channel) String() string {
	return "CH" + strconv.Itoa(int(c))
}

// Status はカメラの接続状態を表す
type Status string

const (
	StatusIdle         Status = "idle"           // ワーカー未起動
	StatusConnecting   Status = "connecting"     // 接続試行中
	StatusOnline       Status = "online"         // フレーム受信中
	StatusLostSignal   Status = "lost signal"    // 受信中に信号が途絶えた
	StatusFailedToOpen Status = "failed to open" // ストリームを開けなかった
)

// Frame はデコード済みの1フレーム
// FrameStore に格納された後は変更してはならない
type Frame = image.Image

// Entry はチャンネル毎の最新フレームと状態
type Entry struct {
	Channel Channel
	Frame   Frame // 一度もフレームを受信していない場合は nil
	Status  Status
}

// HasFrame はフレームを保持しているかを返す
func (e Entry) HasFrame() bool {
	if e.Frame == nil {
		return false
	}
	return !e.Frame.Bounds().Empty()
}

// ErrUnknownChannel は設定されていないチャンネルが指定された場合のエラー
var ErrUnknownChannel = errors.New("未登録のチャンネルです")

// Observer はワーカーの動作を外部（メトリクス等）へ通知する
type Observer interface {
	FrameReceived(ch Channel)
	StatusChanged(ch Channel, status Status)
}

type nopObserver struct{}

func (nopObserver) FrameReceived(Channel)         {}
func (nopObserver) StatusChanged(Channel, Status) {}
