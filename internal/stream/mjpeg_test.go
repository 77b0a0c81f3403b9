package stream

import (
	"bytes"
	"testing"
)

func TestFrameChunk(t *testing.T) {
	testCases := []struct {
		name     string
		jpeg     []byte
		expected string
	}{
		{"通常", []byte("JPEG"), "--frame\r\nContent-Type: image/jpeg\r\n\r\nJPEG\r\n"},
		{"空", nil, "--frame\r\nContent-Type: image/jpeg\r\n\r\n\r\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			chunk := FrameChunk(tc.jpeg)
			if string(chunk) != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, chunk)
			}
		})
	}

	// 呼び出し元のバッファを共有しない
	src := []byte("ABCD")
	chunk := FrameChunk(src)
	src[0] = 'X'
	if !bytes.Contains(chunk, []byte("ABCD")) {
		t.Error("Chunk must not alias the input slice")
	}
}
