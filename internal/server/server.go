package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"hitomi/internal/config"
	"hitomi/internal/platform"
	"hitomi/internal/session"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	controller *session.Controller
	sink       *platform.VideoSink
	hub        *EventHub
	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
// セッションコントローラーのコールバックはイベントハブへ接続される
func New(cfg *config.Config, provider platform.Provider) *Server {
	hub := NewEventHub()
	sink := platform.NewVideoSink()

	controller := session.New(provider, session.Config{
		DeviceID:     cfg.Session.DeviceID,
		Resolutions:  cfg.Session.Resolutions,
		Sink:         sink,
		FrameRate:    cfg.Session.FrameRate,
		EnableAudio:  session.Bool(cfg.Session.EnableAudio),
		EnableMirror: session.Bool(cfg.Session.EnableMirror),
		OnStateChange: func(state session.State) {
			hub.Publish(Event{Type: EventStateChange, State: &state})
		},
		OnError: func(err error) {
			hub.Publish(Event{Type: EventError, Message: err.Error()})
		},
		OnDeviceChange: func(devices []platform.DeviceDescriptor) {
			hub.Publish(Event{Type: EventDeviceChange, Devices: devices})
		},
		OnPermissionChange: func(permissions map[platform.PermissionKind]platform.PermissionValue) {
			hub.Publish(Event{Type: EventPermissionChange, Permissions: permissions})
		},
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		config:     cfg,
		controller: controller,
		sink:       sink,
		hub:        hub,
		engine:     engine,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	s.setupRoutes()
	return s
}

// Controller はセッションコントローラーを返す（テスト用）
func (s *Server) Controller() *session.Controller {
	return s.controller
}

// Handler はHTTPハンドラを返す（テスト用）
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	{
		api.GET("/state", s.handleState)
		api.POST("/session/start", s.handleSessionStart)
		api.POST("/session/stop", s.handleSessionStop)
		api.POST("/capture", s.handleCapture)

		api.GET("/devices", s.handleDevices)
		api.GET("/devices/:id/capabilities", s.handleCapabilities)
		api.GET("/permissions", s.handlePermissions)
		api.POST("/permissions/request", s.handlePermissionsRequest)

		api.POST("/controls/zoom", s.handleZoom)
		api.POST("/controls/torch", s.handleTorch)
		api.POST("/controls/focus", s.handleFocus)

		api.GET("/events", s.handleEvents)
	}
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		log.Printf("HTTPサーバーを起動しています: %s", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// セッションも破棄してデバイスを解放する
func (s *Server) Shutdown() error {
	log.Println("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// セッションを先に破棄する（ストリーム解放）
	s.controller.Dispose(ctx)
	s.hub.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	log.Println("サーバーが正常にシャットダウンされました")
	return nil
}
