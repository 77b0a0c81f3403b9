// Package cameratest はcameraパッケージを使うテスト向けのモックを提供する
package cameratest

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"nvrwall/internal/camera"
)

// MockSource はテスト用のFrameSource実装
// Frames に積んだ順にフレームを返し、尽きると camera.ErrEndOfStream を返す
type MockSource struct {
	mu sync.Mutex

	url       string
	frames    []camera.Frame
	failOpen  bool
	loop      bool
	opened    bool
	closed    bool
	openCount int
	readCount int

	// block が設定されている場合、Read はチャネルが閉じられるまでブロックする
	block chan struct{}
}

// NewMockSource は新しいMockSourceを作成する
func NewMockSource(url string, frames ...camera.Frame) *MockSource {
	return &MockSource{
		url:    url,
		frames: frames,
	}
}

// Open はモック接続を開く
func (m *MockSource) Open(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.openCount++
	if m.failOpen {
		return fmt.Errorf("モック: %s を開けません", m.url)
	}
	m.opened = true
	m.closed = false
	return nil
}

// Read は次のフレームを返す
func (m *MockSource) Read() (camera.Frame, error) {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.opened || m.closed {
		return nil, fmt.Errorf("モック: 接続されていません")
	}
	if len(m.frames) == 0 {
		return nil, camera.ErrEndOfStream
	}

	frame := m.frames[m.readCount%len(m.frames)]
	m.readCount++
	if !m.loop && m.readCount >= len(m.frames) {
		// 最後のフレームを返した後は終端扱い
		m.frames = m.frames[:0]
		m.readCount = 0
	}
	return frame, nil
}

// Close はモック接続を閉じる
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.opened = false
	return nil
}

// SetFailOpen はテスト用にOpen失敗を設定する
func (m *MockSource) SetFailOpen(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpen = fail
}

// SetLoop はフレームを繰り返し返すかを設定する
func (m *MockSource) SetLoop(loop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loop = loop
}

// SetBlock はReadをブロックさせるチャネルを設定する
func (m *MockSource) SetBlock(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = ch
}

// OpenCount はOpenが呼ばれた回数を返す
func (m *MockSource) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCount
}

// Closed はCloseされた状態かを返す
func (m *MockSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockSourceFactory はURL毎に同じMockSourceを返すファクトリー
// 作成回数とアクティブなソース数を数える
type MockSourceFactory struct {
	mu      sync.Mutex
	sources map[string]*MockSource
	created atomic.Int64
}

// NewMockSourceFactory は新しいMockSourceFactoryを作成する
func NewMockSourceFactory() *MockSourceFactory {
	return &MockSourceFactory{
		sources: make(map[string]*MockSource),
	}
}

// Add はURLに対応するMockSourceを登録する
func (f *MockSourceFactory) Add(url string, source *MockSource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[url] = source
}

// Get は登録済みのMockSourceを返す
func (f *MockSourceFactory) Get(url string) (*MockSource, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[url]
	return source, ok
}

// Create はSourceFactoryとして使う
// 未登録のURLには開けないソースを返す
func (f *MockSourceFactory) Create(url string) camera.FrameSource {
	f.created.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	source, ok := f.sources[url]
	if !ok {
		source = NewMockSource(url)
		source.failOpen = true
		f.sources[url] = source
	}
	return source
}

// Created はCreateが呼ばれた回数を返す
func (f *MockSourceFactory) Created() int64 {
	return f.created.Load()
}

// SolidFrame はテスト用の単色フレームを作成する
func SolidFrame(width, height int, r, g, b uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
		img.Pix[i+3] = 0xff
	}
	return img
}

// WaitForStatus は指定チャンネルが状態に達するまで待つ
func WaitForStatus(ctx context.Context, m *camera.Manager, ch camera.Channel, status camera.Status) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		entry, ok := m.Store().Get(ch)
		if !ok {
			return camera.ErrUnknownChannel
		}
		if entry.Status == status {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("チャンネル %d が %q になりませんでした (現在: %q): %w", ch, status, entry.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}
