package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"sync"
	"testing"
	"time"
)

// fakeClock は After を呼ぶと即座に時刻を進める時計
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type countingComposer struct {
	mu    sync.Mutex
	calls int
	size  image.Rectangle
}

func (c *countingComposer) Compose() *image.RGBA {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return image.NewRGBA(c.size)
}

func (c *countingComposer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type countingRecorder struct {
	chunks   int
	failures int
}

func (r *countingRecorder) ChunkEmitted(int)              { r.chunks++ }
func (r *countingRecorder) EncodeFailed()                 { r.failures++ }
func (r *countingRecorder) ComposeObserved(time.Duration) {}

func TestEncoder_ChunkFormat(t *testing.T) {
	composer := &countingComposer{size: image.Rect(0, 0, 32, 18)}
	encoder := NewEncoder(composer, WithClock(newFakeClock()))

	chunk, err := encoder.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	header := "--frame\r\nContent-Type: image/jpeg\r\n\r\n"
	if !bytes.HasPrefix(chunk, []byte(header)) {
		t.Fatalf("Unexpected chunk header: %q", chunk[:min(len(chunk), len(header))])
	}
	if !bytes.HasSuffix(chunk, []byte("\r\n")) {
		t.Fatal("Expected chunk to end with CRLF")
	}

	body := chunk[len(header) : len(chunk)-2]
	img, err := jpeg.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Chunk body is not a JPEG: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 18 {
		t.Errorf("Unexpected decoded size %v", img.Bounds())
	}
}

func TestEncoder_MultipartCompatible(t *testing.T) {
	composer := &countingComposer{size: image.Rect(0, 0, 16, 16)}
	encoder := NewEncoder(composer, WithClock(newFakeClock()))

	var stream bytes.Buffer
	for i := 0; i < 3; i++ {
		chunk, err := encoder.Next(context.Background())
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		stream.Write(chunk)
	}
	stream.WriteString("--frame--\r\n")

	reader := multipart.NewReader(&stream, Boundary)
	parts := 0
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("NextPart failed: %v", err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("Unexpected part content type %q", ct)
		}
		if _, err := jpeg.Decode(part); err != nil {
			t.Errorf("Part %d is not a JPEG: %v", parts, err)
		}
		parts++
	}

	if parts != 3 {
		t.Errorf("Expected 3 parts, got %d", parts)
	}
}

func TestEncoder_ThrottleBoundsChunkCount(t *testing.T) {
	testCases := []struct {
		name     string
		duration time.Duration
		interval time.Duration
	}{
		{"1秒・70ms", time.Second, 70 * time.Millisecond},
		{"5秒・70ms", 5 * time.Second, 70 * time.Millisecond},
		{"2秒・100ms", 2 * time.Second, 100 * time.Millisecond},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clk := newFakeClock()
			composer := &countingComposer{size: image.Rect(0, 0, 8, 8)}
			encoder := NewEncoder(composer, WithClock(clk), WithInterval(tc.interval))

			start := clk.Now()
			chunks := 0
			for {
				if _, err := encoder.Next(context.Background()); err != nil {
					t.Fatalf("Next failed: %v", err)
				}
				if clk.Now().Sub(start) > tc.duration {
					break
				}
				chunks++
			}

			expected := int(tc.duration / tc.interval)
			if chunks < expected-1 || chunks > expected+1 {
				t.Errorf("Expected about %d chunks, got %d", expected, chunks)
			}
		})
	}
}

func TestEncoder_EncodeFailureSkipsChunk(t *testing.T) {
	clk := newFakeClock()
	composer := &countingComposer{size: image.Rect(0, 0, 8, 8)}
	recorder := &countingRecorder{}

	failures := 2
	encode := func(w io.Writer, img image.Image) error {
		if failures > 0 {
			failures--
			return errors.New("encoder error")
		}
		return jpeg.Encode(w, img, nil)
	}

	encoder := NewEncoder(composer,
		WithClock(clk),
		WithEncodeFunc(encode),
		WithRecorder(recorder),
	)

	start := clk.Now()
	chunk, err := encoder.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(chunk) == 0 {
		t.Fatal("Expected a chunk after retries")
	}

	if composer.Calls() != 3 {
		t.Errorf("Expected 3 compose calls, got %d", composer.Calls())
	}
	if recorder.failures != 2 || recorder.chunks != 1 {
		t.Errorf("Unexpected recorder counts: %+v", recorder)
	}

	// 失敗時の再試行では待機しない
	if elapsed := clk.Now().Sub(start); elapsed != 0 {
		t.Errorf("Expected no throttle wait during retries, waited %v", elapsed)
	}
}

func TestEncoder_StopsOnContextCancel(t *testing.T) {
	composer := &countingComposer{size: image.Rect(0, 0, 8, 8)}
	encoder := NewEncoder(composer, WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())

	if _, err := encoder.Next(ctx); err != nil {
		t.Fatalf("First Next failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := encoder.Next(ctx)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
}

type failingWriter struct {
	writes int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > 2 {
		return 0, io.ErrClosedPipe
	}
	return len(p), nil
}

func TestEncoder_StreamStopsOnWriteError(t *testing.T) {
	composer := &countingComposer{size: image.Rect(0, 0, 8, 8)}
	encoder := NewEncoder(composer, WithClock(newFakeClock()))

	flushes := 0
	err := encoder.Stream(context.Background(), &failingWriter{}, func() { flushes++ })
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Expected write error, got %v", err)
	}
	if flushes != 2 {
		t.Errorf("Expected 2 flushes, got %d", flushes)
	}
}
