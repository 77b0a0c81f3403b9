package token

import (
	"sync"
	"time"
)

// Store はトークンとアクセスログの保存先
type Store interface {
	// Insert はトークンを保存し、採番したIDを返す
	Insert(tok Token) (int64, error)
	// ByValue はトークン文字列で検索する。存在しない場合は ErrNotFound
	ByValue(value string) (*Token, error)
	// SetRevoked は失効フラグを立てる。存在しない場合は ErrNotFound
	SetRevoked(id int64) error
	// Tokens は全トークンを返す（順序は問わない）
	Tokens() ([]Token, error)
	// AddAccess はアクセスを記録して最終利用日時を更新し、
	// 新しい順に maxLogs 件を超えた古いログを削除する
	AddAccess(a Access, maxLogs int) error
	// Accesses は新しい順に最大 limit 件を返す（0以下で全件）
	Accesses(limit int) ([]Access, error)
	// LastAccess はトークンID毎の最新アクセス日時を返す
	LastAccess() (map[int64]time.Time, error)
	Close() error
}

// MemoryStore はメモリ上のStore
// プロセス再起動で内容は失われる
type MemoryStore struct {
	mu      sync.RWMutex
	byValue map[string]*Token
	byID    map[int64]*Token
	nextID  int64
	logs    []Access
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore は空のMemoryStoreを作成する
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byValue: make(map[string]*Token),
		byID:    make(map[int64]*Token),
	}
}

func (s *MemoryStore) Insert(tok Token) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	tok.ID = s.nextID
	s.byValue[tok.Value] = &tok
	s.byID[tok.ID] = &tok
	return tok.ID, nil
}

func (s *MemoryStore) ByValue(value string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.byValue[value]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *tok
	return &copied, nil
}

func (s *MemoryStore) SetRevoked(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (s *MemoryStore) Tokens() ([]Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]Token, 0, len(s.byID))
	for _, tok := range s.byID {
		tokens = append(tokens, *tok)
	}
	return tokens, nil
}

func (s *MemoryStore) AddAccess(a Access, maxLogs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byID[a.TokenID]
	if !ok {
		return ErrNotFound
	}
	used := a.CreatedAt
	tok.LastUsedAt = &used

	s.logs = append(s.logs, a)
	if over := len(s.logs) - maxLogs; maxLogs > 0 && over > 0 {
		s.logs = append(s.logs[:0:0], s.logs[over:]...)
	}
	return nil
}

func (s *MemoryStore) Accesses(limit int) ([]Access, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.logs)
	if limit > 0 && limit < n {
		n = limit
	}

	result := make([]Access, 0, n)
	for i := len(s.logs) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.logs[i])
	}
	return result, nil
}

func (s *MemoryStore) LastAccess() (map[int64]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := make(map[int64]time.Time)
	for _, a := range s.logs {
		if a.CreatedAt.After(last[a.TokenID]) {
			last[a.TokenID] = a.CreatedAt
		}
	}
	return last, nil
}

func (s *MemoryStore) Close() error { return nil }
