// Package token は閲覧用アクセストークンを管理する
//
// 保存先は Store で差し替えられる。New はメモリ上に保持し、
// OpenSQLite で開いたストアを使うとプロセス再起動後もトークンが残る。
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	// tokenBytes は乱数バイト数（URLセーフBase64で64文字になる）
	tokenBytes = 48

	// DefaultMaxAccessLogs はアクセスログの保持件数
	DefaultMaxAccessLogs = 1000
)

var (
	// ErrNotFound はトークンが存在しない場合のエラー
	ErrNotFound = errors.New("トークンが見つかりません")
	// ErrRevoked は失効済みトークンのエラー
	ErrRevoked = errors.New("トークンは失効しています")
	// ErrExpired は有効期限切れトークンのエラー
	ErrExpired = errors.New("トークンの有効期限が切れています")
)

// Token はアクセストークン
type Token struct {
	ID          int64      `json:"id"`
	Value       string     `json:"token"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Revoked     bool       `json:"revoked"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// Info は一覧表示用のトークン情報
type Info struct {
	Token
	LastAccessAt *time.Time `json:"last_access_at,omitempty"`
	Expired      bool       `json:"expired"`
}

// Access はアクセスログの1件
type Access struct {
	ID        string    `json:"id"`
	TokenID   int64     `json:"token_id"`
	Path      string    `json:"path"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager はトークンの発行・検証とアクセスログを管理する
// 有効期限の判定はManagerの時計で行い、保存はStoreに任せる
type Manager struct {
	store   Store
	maxLogs int
	clock   clock.Clock
}

// Option はManagerの設定を変更する
type Option func(*Manager)

// WithClock は時計を設定する
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithMaxAccessLogs はアクセスログの保持件数を設定する
func WithMaxAccessLogs(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxLogs = n
		}
	}
}

// WithStore は保存先を設定する
func WithStore(s Store) Option {
	return func(m *Manager) {
		if s != nil {
			m.store = s
		}
	}
}

// New は新しいManagerを作成する
// WithStore を指定しない場合はメモリ上に保持する
func New(opts ...Option) *Manager {
	m := &Manager{
		maxLogs: DefaultMaxAccessLogs,
		clock:   clock.New(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.store == nil {
		m.store = NewMemoryStore()
	}

	return m
}

// Create は新しいトークンを発行する
// validFor が0以下の場合は無期限
func (m *Manager) Create(description string, validFor time.Duration) (*Token, error) {
	value, err := generate()
	if err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	tok := &Token{
		Value:       value,
		Description: description,
		CreatedAt:   now,
	}
	if validFor > 0 {
		expires := now.Add(validFor)
		tok.ExpiresAt = &expires
	}

	id, err := m.store.Insert(*tok)
	if err != nil {
		return nil, fmt.Errorf("トークンの保存に失敗: %w", err)
	}
	tok.ID = id

	return tok, nil
}

// Validate はトークンが有効であればIDを返す
func (m *Manager) Validate(value string) (int64, error) {
	if value == "" {
		return 0, ErrNotFound
	}

	tok, err := m.store.ByValue(value)
	if err != nil {
		return 0, err
	}
	if tok.Revoked {
		return 0, ErrRevoked
	}
	if m.expired(tok) {
		return 0, ErrExpired
	}

	return tok.ID, nil
}

// Revoke はトークン文字列を指定して失効させる
func (m *Manager) Revoke(value string) error {
	tok, err := m.store.ByValue(value)
	if err != nil {
		return err
	}
	return m.store.SetRevoked(tok.ID)
}

// RevokeID はIDを指定して失効させる
func (m *Manager) RevokeID(id int64) error {
	if err := m.store.SetRevoked(id); err != nil {
		return fmt.Errorf("ID %d: %w", id, err)
	}
	return nil
}

// List は全トークンを作成日時の新しい順に返す
func (m *Manager) List() ([]Info, error) {
	tokens, err := m.store.Tokens()
	if err != nil {
		return nil, err
	}
	lastAccess, err := m.store.LastAccess()
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(tokens))
	for i := range tokens {
		info := Info{
			Token:   tokens[i],
			Expired: m.expired(&tokens[i]),
		}
		if t, ok := lastAccess[tokens[i].ID]; ok {
			info.LastAccessAt = &t
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID > infos[j].ID
		}
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})

	return infos, nil
}

// LogAccess はアクセスを記録し、トークンの最終利用日時を更新する
func (m *Manager) LogAccess(id int64, path, ip, userAgent string) error {
	err := m.store.AddAccess(Access{
		ID:        uuid.New().String(),
		TokenID:   id,
		Path:      path,
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: m.clock.Now().UTC(),
	}, m.maxLogs)
	if err != nil {
		return fmt.Errorf("ID %d: %w", id, err)
	}
	return nil
}

// AccessLog は新しい順に最大 limit 件のアクセスログを返す（0以下で全件）
func (m *Manager) AccessLog(limit int) ([]Access, error) {
	return m.store.Accesses(limit)
}

// Close は保存先を閉じる
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) expired(tok *Token) bool {
	return tok.ExpiresAt != nil && m.clock.Now().UTC().After(*tok.ExpiresAt)
}

func generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("トークンの生成に失敗: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
