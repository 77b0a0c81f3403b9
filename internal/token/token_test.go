package token

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestCreate(t *testing.T) {
	m := New()

	first, err := m.Create("lobby tv", 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := m.Create("office", 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if len(first.Value) != 64 {
		t.Errorf("Expected 64-char token, got %d chars", len(first.Value))
	}
	if first.Value == second.Value {
		t.Error("Expected unique token values")
	}
	if first.ID != 1 || second.ID != 2 {
		t.Errorf("Expected IDs 1 and 2, got %d and %d", first.ID, second.ID)
	}
	if first.ExpiresAt != nil {
		t.Error("Expected no expiry when validFor is zero")
	}
}

func TestValidate(t *testing.T) {
	mock := clock.NewMock()
	m := New(WithClock(mock))

	permanent, _ := m.Create("permanent", 0)
	shortLived, _ := m.Create("short", 24*time.Hour)
	revoked, _ := m.Create("revoked", 0)
	if err := m.Revoke(revoked.Value); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	mock.Add(48 * time.Hour)

	testCases := []struct {
		name    string
		value   string
		wantID  int64
		wantErr error
	}{
		{"無期限トークン", permanent.Value, permanent.ID, nil},
		{"期限切れ", shortLived.Value, 0, ErrExpired},
		{"失効済み", revoked.Value, 0, ErrRevoked},
		{"存在しない", "unknown", 0, ErrNotFound},
		{"空文字", "", 0, ErrNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := m.Validate(tc.value)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Expected error %v, got %v", tc.wantErr, err)
			}
			if id != tc.wantID {
				t.Errorf("Expected ID %d, got %d", tc.wantID, id)
			}
		})
	}
}

func TestRevokeID(t *testing.T) {
	m := New()
	tok, _ := m.Create("tv", 0)

	if err := m.RevokeID(tok.ID); err != nil {
		t.Fatalf("RevokeID failed: %v", err)
	}
	if _, err := m.Validate(tok.Value); !errors.Is(err, ErrRevoked) {
		t.Errorf("Expected ErrRevoked, got %v", err)
	}
	if err := m.RevokeID(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := m.Revoke("unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	mock := clock.NewMock()
	m := New(WithClock(mock))

	old, _ := m.Create("old", time.Hour)
	mock.Add(2 * time.Hour)
	fresh, _ := m.Create("fresh", 0)

	if err := m.LogAccess(fresh.ID, "/wall", "10.0.0.2", "browser"); err != nil {
		t.Fatalf("LogAccess failed: %v", err)
	}

	infos, err := m.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 tokens, got %d", len(infos))
	}

	// 新しい順
	if infos[0].ID != fresh.ID || infos[1].ID != old.ID {
		t.Fatalf("Unexpected order: %d, %d", infos[0].ID, infos[1].ID)
	}
	if infos[0].Expired {
		t.Error("Fresh token should not be expired")
	}
	if !infos[1].Expired {
		t.Error("Old token should be expired")
	}
	if infos[0].LastAccessAt == nil || infos[0].LastUsedAt == nil {
		t.Error("Expected access times on fresh token")
	}
	if infos[1].LastAccessAt != nil {
		t.Error("Old token was never accessed")
	}
}

func TestLogAccess(t *testing.T) {
	m := New(WithMaxAccessLogs(3))
	tok, _ := m.Create("tv", 0)

	paths := []string{"/wall", "/stream", "/snapshot.jpg", "/stream"}
	for _, p := range paths {
		if err := m.LogAccess(tok.ID, p, "127.0.0.1", "test-agent"); err != nil {
			t.Fatalf("LogAccess failed: %v", err)
		}
	}

	logs, err := m.AccessLog(0)
	if err != nil {
		t.Fatalf("AccessLog failed: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("Expected 3 retained logs, got %d", len(logs))
	}
	if logs[0].Path != "/stream" || logs[2].Path != "/stream" {
		t.Errorf("Unexpected log order: %+v", logs)
	}
	if logs[0].ID == "" || logs[0].ID == logs[1].ID {
		t.Error("Expected unique access IDs")
	}

	if got, _ := m.AccessLog(1); len(got) != 1 {
		t.Errorf("Expected 1 log with limit, got %d", len(got))
	}

	if err := m.LogAccess(42, "/wall", "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New()
	tok, _ := m.Create("tv", 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Create("viewer", 0)
			_, _ = m.Validate(tok.Value)
			_ = m.LogAccess(tok.ID, "/stream", "127.0.0.1", "agent")
			_, _ = m.List()
		}()
	}
	wg.Wait()

	infos, err := m.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 21 {
		t.Errorf("Expected 21 tokens, got %d", len(infos))
	}
}
