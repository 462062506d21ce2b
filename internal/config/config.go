package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"hitomi/internal/platform"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// SessionConfig はカメラセッションの初期設定
type SessionConfig struct {
	DeviceID string `yaml:"device_id"` // デバイスパス（空は自動選択）

	// 優先順の解像度リスト（先頭が最優先）
	Resolutions []platform.Resolution `yaml:"resolutions"`

	FrameRate    int  `yaml:"frame_rate"`    // フレームレート (fps)
	EnableAudio  bool `yaml:"enable_audio"`  // 音声トラックも取得するか
	EnableMirror bool `yaml:"enable_mirror"` // 表示・キャプチャのミラーリング既定値
}

// Load は設定を読み込む
// 設定ファイル（CONFIG_FILE環境変数で指定）があればYAMLとして読み込み、
// 環境変数の値で上書きする
func Load() (*Config, error) {
	// デフォルト設定を作成
	cfg := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			Resolutions: []platform.Resolution{
				{Label: "FHD", Width: 1920, Height: 1080},
				{Label: "HD", Width: 1280, Height: 720},
				{Label: "VGA", Width: 640, Height: 480},
			},
			FrameRate: 15,
		},
	}

	// 設定ファイルがあれば読み込む
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	// 環境変数で上書き
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.Session.DeviceID = getEnvOrDefault("CAMERA_DEVICE", cfg.Session.DeviceID)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// セッション設定の検証
	if c.Session.FrameRate < 0 || c.Session.FrameRate > 120 {
		return fmt.Errorf("無効なフレームレート: %d", c.Session.FrameRate)
	}
	for _, r := range c.Session.Resolutions {
		if r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("無効な解像度: %dx%d (%s)", r.Width, r.Height, r.Label)
		}
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
