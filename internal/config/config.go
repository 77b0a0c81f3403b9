package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nvrwall/internal/camera"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server"`
	NVR    NVRConfig    `yaml:"nvr"`
	Stream StreamConfig `yaml:"stream"`
	Auth   AuthConfig   `yaml:"auth"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // グレースフルシャットダウンの待ち時間
}

// NVRConfig はレコーダー(NVR)への接続設定
type NVRConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	StreamID int    `yaml:"stream_id"` // 0 = メインストリーム, 1 = サブストリーム

	Channels []int `yaml:"channels"` // 表示順のチャンネル一覧

	// チャンネル毎のURL指定（NVR以外のカメラを混在させる場合）
	URLs map[int]string `yaml:"urls"`

	Backoff time.Duration `yaml:"backoff"` // 再接続までの待ち時間
}

// StreamConfig はMJPEGストリームの設定
type StreamConfig struct {
	Quality       int           `yaml:"quality"`        // JPEG品質 (1-100)
	Interval      time.Duration `yaml:"interval"`       // チャンク間隔
	DefaultWidth  int           `yaml:"default_width"`  // フレームがない場合のセル幅
	DefaultHeight int           `yaml:"default_height"` // フレームがない場合のセル高さ
}

// AuthConfig はトークン管理の設定
type AuthConfig struct {
	AdminKey  string `yaml:"admin_key"`  // 空の場合トークン管理APIは認証なし
	TokenDays int    `yaml:"token_days"` // days_valid 未指定時の有効日数（0で無期限）
	DBPath    string `yaml:"db_path"`    // トークンを保存するSQLiteファイル（空の場合はメモリ上のみ）
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json または console
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 10 * time.Second,
		},
		NVR: NVRConfig{
			Host:     "192.168.1.7",
			Port:     554,
			User:     "admin",
			StreamID: 0,
			Channels: []int{1, 2, 3, 4},
			Backoff:  camera.DefaultBackoff,
		},
		Stream: StreamConfig{
			Quality:       80,
			Interval:      70 * time.Millisecond,
			DefaultWidth:  640,
			DefaultHeight: 360,
		},
		Auth: AuthConfig{
			DBPath: "data/nvrwall.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load は設定を読み込む
// デフォルト値 → CONFIG_FILE のYAML → 環境変数 の順に上書きする
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom は path のYAMLを使って設定を読み込む（空の場合はファイルを読まない）
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// loadFile はYAMLファイルの値で上書きする
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}

	return nil
}

// applyEnv は環境変数の値で上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.NVR.Host = getEnvOrDefault("NVR_HOST", c.NVR.Host)
	c.NVR.User = getEnvOrDefault("NVR_USER", c.NVR.User)
	c.NVR.Password = getEnvOrDefault("NVR_PASSWORD", c.NVR.Password)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Auth.AdminKey = getEnvOrDefault("ADMIN_KEY", c.Auth.AdminKey)
	c.Auth.DBPath = getEnvOrDefault("TOKEN_DB_PATH", c.Auth.DBPath)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// NVR設定の検証
	if len(c.NVR.Channels) == 0 {
		return fmt.Errorf("チャンネルが設定されていません")
	}
	seen := make(map[int]bool, len(c.NVR.Channels))
	for _, ch := range c.NVR.Channels {
		if ch <= 0 {
			return fmt.Errorf("無効なチャンネル番号: %d", ch)
		}
		if seen[ch] {
			return fmt.Errorf("チャンネル %d が重複しています", ch)
		}
		seen[ch] = true

		if _, ok := c.NVR.URLs[ch]; !ok && c.NVR.Host == "" {
			return fmt.Errorf("チャンネル %d のURLを作成できません: NVRホストが未設定です", ch)
		}
	}
	if c.NVR.Backoff < 0 {
		return fmt.Errorf("再接続待ち時間が負の値です: %s", c.NVR.Backoff)
	}

	// ストリーム設定の検証
	if c.Stream.Quality < 1 || c.Stream.Quality > 100 {
		return fmt.Errorf("無効なJPEG品質: %d", c.Stream.Quality)
	}
	if c.Stream.Interval < 0 {
		return fmt.Errorf("チャンク間隔が負の値です: %s", c.Stream.Interval)
	}
	if c.Stream.DefaultWidth <= 0 || c.Stream.DefaultHeight <= 0 {
		return fmt.Errorf("無効なデフォルト解像度: %dx%d", c.Stream.DefaultWidth, c.Stream.DefaultHeight)
	}

	if c.Auth.TokenDays < 0 {
		return fmt.Errorf("トークン有効日数が負の値です: %d", c.Auth.TokenDays)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// StreamURL はチャンネルのRTSP URLを返す
// 個別URLが設定されていればそれを優先する
func (n NVRConfig) StreamURL(channel int) string {
	if url, ok := n.URLs[channel]; ok {
		return url
	}
	return fmt.Sprintf("rtsp://%s:%d/user=%s&password=%s&channel=%d&stream=%d.sdp",
		n.Host, n.Port, n.User, n.Password, channel, n.StreamID)
}

// Sources は表示順のカメラ接続設定を返す
func (c *Config) Sources() []camera.Source {
	sources := make([]camera.Source, 0, len(c.NVR.Channels))
	for _, ch := range c.NVR.Channels {
		sources = append(sources, camera.Source{
			Channel: camera.Channel(ch),
			URL:     c.NVR.StreamURL(ch),
		})
	}
	return sources
}

// TokenValidity は days_valid から有効期間を返す（0以下で無期限）
func TokenValidity(days int) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}
