package token

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout は固定幅のUTC表記（文字列比較で時刻順になる）
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT UNIQUE NOT NULL,
	description TEXT,
	created_at TEXT NOT NULL,
	expires_at TEXT,
	revoked INTEGER NOT NULL DEFAULT 0,
	last_used_at TEXT
);

CREATE TABLE IF NOT EXISTS access_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token_id INTEGER,
	path TEXT,
	ip TEXT,
	user_agent TEXT,
	created_at TEXT NOT NULL,
	FOREIGN KEY(token_id) REFERENCES tokens(id)
);

CREATE INDEX IF NOT EXISTS idx_access_logs_token_id ON access_logs(token_id);
`

// SQLiteStore はSQLiteファイルに保存するStore
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite は path のデータベースを開き、テーブルがなければ作成する
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("データベースディレクトリの作成に失敗: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("データベースを開けません (%s): %w", path, err)
	}
	// SQLiteは書き込みが1接続に直列化されるため接続を共有する
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマの作成に失敗: %w", err)
	}
	if err := addColumnIfMissing(db, "access_logs", "request_id", "TEXT"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// addColumnIfMissing は既存のデータベースに列を追加する
func addColumnIfMissing(db *sql.DB, table, column, typ string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("テーブル情報の取得に失敗: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name, ctp string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctp, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ)); err != nil {
		return fmt.Errorf("列 %s.%s の追加に失敗: %w", table, column, err)
	}
	return nil
}

func (s *SQLiteStore) Insert(tok Token) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO tokens (token, description, created_at, expires_at, revoked)
		VALUES (?, ?, ?, ?, 0)
	`, tok.Value, tok.Description, formatTime(tok.CreatedAt), formatTimePtr(tok.ExpiresAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ByValue(value string) (*Token, error) {
	row := s.db.QueryRow(`
		SELECT id, token, description, created_at, expires_at, revoked, last_used_at
		FROM tokens WHERE token = ?
	`, value)

	tok, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *SQLiteStore) SetRevoked(id int64) error {
	res, err := s.db.Exec(`UPDATE tokens SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLiteStore) Tokens() ([]Token, error) {
	rows, err := s.db.Query(`
		SELECT id, token, description, created_at, expires_at, revoked, last_used_at
		FROM tokens
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *tok)
	}
	return tokens, rows.Err()
}

func (s *SQLiteStore) AddAccess(a Access, maxLogs int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE tokens SET last_used_at = ? WHERE id = ?`, formatTime(a.CreatedAt), a.TokenID)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO access_logs (request_id, token_id, path, ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.TokenID, a.Path, a.IP, a.UserAgent, formatTime(a.CreatedAt)); err != nil {
		return err
	}

	if maxLogs > 0 {
		if _, err := tx.Exec(`
			DELETE FROM access_logs
			WHERE id NOT IN (SELECT id FROM access_logs ORDER BY id DESC LIMIT ?)
		`, maxLogs); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Accesses(limit int) ([]Access, error) {
	if limit <= 0 {
		limit = -1 // SQLiteでは負のLIMITは無制限
	}

	rows, err := s.db.Query(`
		SELECT request_id, token_id, path, ip, user_agent, created_at
		FROM access_logs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]Access, 0)
	for rows.Next() {
		var (
			requestID, path, ip, userAgent sql.NullString
			tokenID                        sql.NullInt64
			createdAt                      string
		)
		if err := rows.Scan(&requestID, &tokenID, &path, &ip, &userAgent, &createdAt); err != nil {
			return nil, err
		}
		created, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		logs = append(logs, Access{
			ID:        requestID.String,
			TokenID:   tokenID.Int64,
			Path:      path.String,
			IP:        ip.String,
			UserAgent: userAgent.String,
			CreatedAt: created,
		})
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) LastAccess() (map[int64]time.Time, error) {
	rows, err := s.db.Query(`
		SELECT token_id, MAX(created_at)
		FROM access_logs
		WHERE token_id IS NOT NULL
		GROUP BY token_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	last := make(map[int64]time.Time)
	for rows.Next() {
		var (
			id     int64
			latest string
		)
		if err := rows.Scan(&id, &latest); err != nil {
			return nil, err
		}
		t, err := parseTime(latest)
		if err != nil {
			return nil, err
		}
		last[id] = t
	}
	return last, rows.Err()
}

// Close はデータベースを閉じる
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*Token, error) {
	var (
		tok                 Token
		description         sql.NullString
		createdAt           string
		expiresAt, lastUsed sql.NullString
		revoked             int64
	)
	if err := row.Scan(&tok.ID, &tok.Value, &description, &createdAt, &expiresAt, &revoked, &lastUsed); err != nil {
		return nil, err
	}

	var err error
	tok.Description = description.String
	tok.Revoked = revoked != 0
	if tok.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if tok.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, err
	}
	if tok.LastUsedAt, err = parseNullTime(lastUsed); err != nil {
		return nil, err
	}
	return &tok, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime はタイムゾーンなしのISO 8601表記も受け付ける（UTCとして扱う）
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("日時を解析できません: %q", s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
