package camera_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"nvrwall/internal/camera"
	"nvrwall/internal/camera/cameratest"
)

func testSources(n int) []camera.Source {
	sources := make([]camera.Source, 0, n)
	for i := 1; i <= n; i++ {
		sources = append(sources, camera.Source{
			Channel: camera.Channel(i),
			URL:     fmt.Sprintf("rtsp://nvr/channel=%d", i),
		})
	}
	return sources
}

func TestNewManager_Validation(t *testing.T) {
	factory := cameratest.NewMockSourceFactory()

	testCases := []struct {
		name      string
		sources   []camera.Source
		expectErr bool
	}{
		{"正常な設定", testSources(4), false},
		{"カメラなし", nil, true},
		{"無効なチャンネル", []camera.Source{{Channel: 0, URL: "rtsp://x"}}, true},
		{"重複チャンネル", []camera.Source{{Channel: 1, URL: "a"}, {Channel: 1, URL: "b"}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := camera.NewManager(tc.sources, factory.Create)
			if tc.expectErr && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestManager_InitialStatuses(t *testing.T) {
	manager, err := camera.NewManager(testSources(4), cameratest.NewMockSourceFactory().Create)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	statuses := manager.Statuses()
	if len(statuses) != 4 {
		t.Fatalf("Expected 4 cameras, got %d", len(statuses))
	}
	for _, info := range statuses {
		if info.Status != camera.StatusIdle || info.HasFrame {
			t.Errorf("Expected idle camera without frame, got %+v", info)
		}
	}
	if manager.Running() != 0 {
		t.Errorf("Expected no running workers before Start, got %d", manager.Running())
	}
}

func TestManager_StartIsIdempotent(t *testing.T) {
	sources := testSources(4)
	factory := cameratest.NewMockSourceFactory()
	block := make(chan struct{})
	for _, src := range sources {
		source := cameratest.NewMockSource(src.URL, cameratest.SolidFrame(2, 2, 0, 0, 0))
		source.SetBlock(block)
		factory.Add(src.URL, source)
	}

	manager, err := camera.NewManager(sources, factory.Create, camera.WithBackoff(time.Hour))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx := context.Background()

	// 複数のゴルーチンから同時に起動
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.Start(ctx)
		}()
	}
	wg.Wait()
	manager.Start(ctx)

	for _, src := range sources {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := cameratest.WaitForStatus(waitCtx, manager, src.Channel, camera.StatusOnline); err != nil {
			cancel()
			t.Fatalf("WaitForStatus failed: %v", err)
		}
		cancel()
	}

	if got := manager.Running(); got != len(sources) {
		t.Errorf("Expected %d running workers, got %d", len(sources), got)
	}
	if got := factory.Created(); got != int64(len(sources)) {
		t.Errorf("Expected exactly one source per camera (%d), got %d", len(sources), got)
	}
	for _, src := range sources {
		source, _ := factory.Get(src.URL)
		if source.OpenCount() != 1 {
			t.Errorf("Expected channel %d to be opened once, got %d", src.Channel, source.OpenCount())
		}
	}

	close(block)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := manager.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if manager.Running() != 0 {
		t.Errorf("Expected no running workers after Stop, got %d", manager.Running())
	}
}

func TestManager_RestartAfterStop(t *testing.T) {
	sources := testSources(2)
	factory := cameratest.NewMockSourceFactory()

	manager, err := camera.NewManager(sources, factory.Create, camera.WithBackoff(time.Hour))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx := context.Background()
	manager.Start(ctx)
	if !manager.Started() {
		t.Fatal("Expected manager to be started")
	}

	if err := manager.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if manager.Started() {
		t.Fatal("Expected manager to be stopped")
	}

	// 停止中のStopはエラーにならない
	if err := manager.Stop(ctx); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}

	manager.Start(ctx)
	waitUntil(t, 2*time.Second, func() bool {
		return manager.Running() == len(sources)
	})
	_ = manager.Stop(ctx)
}

func TestManager_FailedCameraDoesNotAffectOthers(t *testing.T) {
	sources := testSources(4)
	factory := cameratest.NewMockSourceFactory()
	for _, src := range sources {
		if src.Channel == 2 {
			// 未登録のURLは開けないソースになる
			continue
		}
		source := cameratest.NewMockSource(src.URL, cameratest.SolidFrame(4, 4, 0, 255, 0))
		source.SetLoop(true)
		factory.Add(src.URL, source)
	}

	manager, err := camera.NewManager(sources, factory.Create, camera.WithBackoff(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Start(ctx)
	defer func() { _ = manager.Stop(context.Background()) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := cameratest.WaitForStatus(waitCtx, manager, 2, camera.StatusFailedToOpen); err != nil {
		t.Fatalf("Expected channel 2 to fail: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		for _, info := range manager.Statuses() {
			if info.Channel != 2 && !info.HasFrame {
				return false
			}
		}
		return true
	})

	for _, info := range manager.Statuses() {
		if info.Channel == 2 && info.HasFrame {
			t.Error("Channel 2 should not have a frame")
		}
		if info.Channel != 2 && (info.Width != 4 || info.Height != 4) {
			t.Errorf("Channel %d: expected 4x4 frame, got %dx%d", info.Channel, info.Width, info.Height)
		}
	}
}

func TestManager_RestartAfterStopTimeout(t *testing.T) {
	sources := testSources(1)
	factory := cameratest.NewMockSourceFactory()
	block := make(chan struct{})
	source := cameratest.NewMockSource(sources[0].URL, cameratest.SolidFrame(2, 2, 0, 0, 0))
	source.SetBlock(block)
	factory.Add(sources[0].URL, source)

	manager, err := camera.NewManager(sources, factory.Create, camera.WithBackoff(time.Hour))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	ctx := context.Background()
	manager.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := cameratest.WaitForStatus(waitCtx, manager, 1, camera.StatusOnline); err != nil {
		t.Fatalf("WaitForStatus failed: %v", err)
	}

	// Read でブロック中のワーカーは待ち時間内に終了しない
	stopCtx, stopCancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer stopCancel()
	if err := manager.Stop(stopCtx); err == nil {
		t.Fatal("Expected Stop to time out while a worker is blocked")
	}
	if manager.Started() {
		t.Error("Expected manager to be stopped after timed out Stop")
	}

	manager.Start(ctx)
	if !manager.Started() {
		t.Fatal("Expected manager to start again")
	}

	// 前のワーカーが Read から戻るまで新しいワーカーは接続しない
	time.Sleep(50 * time.Millisecond)
	if got := source.OpenCount(); got != 1 {
		t.Errorf("Expected new worker to wait for the draining one, open count %d", got)
	}
	if got := manager.Running(); got != 1 {
		t.Errorf("Expected only the draining worker to be running, got %d", got)
	}

	close(block)
	waitUntil(t, 2*time.Second, func() bool {
		return manager.Running() == 1 && source.OpenCount() == 2
	})

	if err := manager.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
