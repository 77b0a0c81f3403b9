package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Source は1チャンネル分の接続設定
type Source struct {
	Channel Channel
	URL     string
}

// Manager はワーカー群とFrameStoreを管理する
type Manager struct {
	sources []Source
	store   *FrameStore
	factory SourceFactory
	opts    []WorkerOption

	mu       sync.Mutex
	current  *workerSet // 起動中のワーカー群（停止中は nil）
	draining *workerSet // 最後に停止したワーカー群

	running atomic.Int32
}

// workerSet は1回の Start で起動したワーカー群
type workerSet struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager は新しいManagerを作成する
// FrameStoreは sources のチャンネル順で作成される
func NewManager(sources []Source, factory SourceFactory, opts ...WorkerOption) (*Manager, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("カメラが1台も設定されていません")
	}

	seen := make(map[Channel]bool, len(sources))
	channels := make([]Channel, 0, len(sources))
	for _, src := range sources {
		if src.Channel <= 0 {
			return nil, fmt.Errorf("無効なチャンネル番号: %d", src.Channel)
		}
		if seen[src.Channel] {
			return nil, fmt.Errorf("チャンネル %d が重複しています", src.Channel)
		}
		seen[src.Channel] = true
		channels = append(channels, src.Channel)
	}

	return &Manager{
		sources: sources,
		store:   NewFrameStore(channels),
		factory: factory,
		opts:    opts,
	}, nil
}

// Store は管理しているFrameStoreを返す
func (m *Manager) Store() *FrameStore {
	return m.store
}

// Channels は設定順のチャンネル一覧を返す
func (m *Manager) Channels() []Channel {
	return m.store.Channels()
}

// Start は全チャンネルのワーカーを起動する
// 既に起動済みの場合は何もしない。並行に呼び出しても安全
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return
	}

	workerCtx, cancel := context.WithCancel(ctx)
	set := &workerSet{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// 前回のワーカー群が終了していなければ、終了を待ってから起動する
	prev := m.draining
	m.draining = nil
	if prev != nil {
		select {
		case <-prev.done:
			prev = nil
		default:
		}
	}

	var wg sync.WaitGroup
	for _, src := range m.sources {
		worker := NewWorker(src.Channel, src.URL, m.factory, m.store, m.opts...)

		wg.Add(1)
		if prev == nil {
			m.running.Add(1)
		}
		go func() {
			defer wg.Done()
			if prev != nil {
				select {
				case <-prev.done:
				case <-workerCtx.Done():
					return
				}
				m.running.Add(1)
			}
			defer m.running.Add(-1)
			worker.Run(workerCtx)
		}()
	}
	go func() {
		wg.Wait()
		close(set.done)
	}()

	m.current = set
	log.Info().Int("cameras", len(m.sources)).Msg("カメラワーカーを起動しました")
}

// Stop は全ワーカーを停止し、終了を待つ
// ctx が先に終了した場合もワーカー群は停止済みとして扱い、次の Start で新しいワーカー群が起動する
// 終了待ちのワーカーは Read から戻った時点で終了し、新しいワーカー群はそれまで接続しない
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	set := m.current
	m.current = nil
	if set != nil {
		m.draining = set
	}
	m.mu.Unlock()

	if set == nil {
		return nil
	}

	set.cancel()

	select {
	case <-set.done:
	case <-ctx.Done():
		return fmt.Errorf("ワーカーの停止待ちが中断されました: %w", ctx.Err())
	}

	log.Info().Msg("カメラワーカーを停止しました")
	return nil
}

// Running は動作中のワーカー数を返す
func (m *Manager) Running() int {
	return int(m.running.Load())
}

// Started はワーカー群が起動済みかを返す
func (m *Manager) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// CameraInfo はAPI向けのカメラ状態
type CameraInfo struct {
	Channel  Channel `json:"channel"`
	Status   Status  `json:"status"`
	HasFrame bool    `json:"has_frame"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
}

// Statuses は全チャンネルの現在の状態を返す
func (m *Manager) Statuses() []CameraInfo {
	snapshot := m.store.Snapshot()
	infos := make([]CameraInfo, 0, len(snapshot))

	for _, entry := range snapshot {
		info := CameraInfo{
			Channel: entry.Channel,
			Status:  entry.Status,
		}
		if entry.HasFrame() {
			bounds := entry.Frame.Bounds()
			info.HasFrame = true
			info.Width = bounds.Dx()
			info.Height = bounds.Dy()
		}
		infos = append(infos, info)
	}

	return infos
}
