package config

import (
	"os"
	"path/filepath"
	"testing"

	"hitomi/internal/platform"
)

func TestLoad_Defaults(t *testing.T) {
	// 環境変数の影響を除外する
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_HOST", "")
	t.Setenv("PORT", "")
	t.Setenv("CAMERA_DEVICE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Session.FrameRate != 15 {
		t.Errorf("Expected default frame rate 15, got %d", cfg.Session.FrameRate)
	}

	// 解像度リストは優先順（FHDが先頭）
	if len(cfg.Session.Resolutions) != 3 {
		t.Fatalf("Expected 3 default resolutions, got %d", len(cfg.Session.Resolutions))
	}
	if cfg.Session.Resolutions[0].Label != "FHD" {
		t.Errorf("Expected FHD first, got %s", cfg.Session.Resolutions[0].Label)
	}

	if cfg.ServerAddress() != "0.0.0.0:8080" {
		t.Errorf("Unexpected server address: %s", cfg.ServerAddress())
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("PORT", "9000")
	t.Setenv("CAMERA_DEVICE", "/dev/video2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected overridden host, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Expected overridden port, got %d", cfg.Server.Port)
	}
	if cfg.Session.DeviceID != "/dev/video2" {
		t.Errorf("Expected overridden device, got %s", cfg.Session.DeviceID)
	}
	if cfg.ServerAddress() != "127.0.0.1:9000" {
		t.Errorf("Unexpected server address: %s", cfg.ServerAddress())
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	content := `
server:
  host: 192.168.1.10
  port: 8888
session:
  device_id: /dev/video1
  frame_rate: 30
  enable_mirror: true
  resolutions:
    - label: HD
      width: 1280
      height: 720
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_HOST", "")
	t.Setenv("PORT", "")
	t.Setenv("CAMERA_DEVICE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "192.168.1.10" || cfg.Server.Port != 8888 {
		t.Errorf("Unexpected server config: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Session.DeviceID != "/dev/video1" {
		t.Errorf("Expected /dev/video1, got %s", cfg.Session.DeviceID)
	}
	if cfg.Session.FrameRate != 30 {
		t.Errorf("Expected frame rate 30, got %d", cfg.Session.FrameRate)
	}
	if !cfg.Session.EnableMirror {
		t.Error("Expected mirror enabled")
	}
	if len(cfg.Session.Resolutions) != 1 || cfg.Session.Resolutions[0].Label != "HD" {
		t.Errorf("Unexpected resolutions: %+v", cfg.Session.Resolutions)
	}
}

func TestLoad_EnvironmentBeatsFile(t *testing.T) {
	content := `
server:
  port: 8888
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_HOST", "")
	t.Setenv("PORT", "9999")
	t.Setenv("CAMERA_DEVICE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// 環境変数がファイル設定より優先される
	if cfg.Server.Port != 9999 {
		t.Errorf("Expected env port 9999, got %d", cfg.Server.Port)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", "/no/such/file.yaml")

	if _, err := Load(); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"デフォルト設定", func(c *Config) {}, false},
		{"ポート番号が0", func(c *Config) { c.Server.Port = 0 }, true},
		{"ポート番号が範囲外", func(c *Config) { c.Server.Port = 70000 }, true},
		{"フレームレートが負", func(c *Config) { c.Session.FrameRate = -1 }, true},
		{"フレームレートが過大", func(c *Config) { c.Session.FrameRate = 240 }, true},
		{"解像度の幅が0", func(c *Config) {
			c.Session.Resolutions = []platform.Resolution{{Label: "bad", Width: 0, Height: 480}}
		}, true},
		{"解像度リストが空", func(c *Config) { c.Session.Resolutions = nil }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
				Session: SessionConfig{
					Resolutions: []platform.Resolution{{Label: "HD", Width: 1280, Height: 720}},
					FrameRate:   15,
				},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}
