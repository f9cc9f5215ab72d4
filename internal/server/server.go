package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"scanrig/internal/camera"
	"scanrig/internal/config"
	"scanrig/internal/monitoring"
	"scanrig/internal/session"
	"scanrig/internal/snapshot"
)

// Controller はHTTPから操作するセッションの窓口
type Controller interface {
	Status() session.Status
	TogglePause() session.LoopState
	Toggle(id session.Identity) (bool, error)
	ToggleDetected() bool
	SetDeviceControl(deviceID string, id camera.ControlID, value int32) error
	BroadcastControl(id camera.ControlID, value int32) error
	GenerateMesh() error
	ClearMesh()
	SaveMesh(path string) error
	LoadMesh(path string) error
	Zoom(delta float64)
	Frames() *session.FrameSet
	Stop() error
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	session    Controller
	composer   *snapshot.Composer
	engine     *gin.Engine
	httpServer *http.Server

	// streamInterval はストリーミングで新しいフレームを確認する間隔
	streamInterval time.Duration
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, ctl Controller) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		config:         cfg,
		session:        ctl,
		composer:       snapshot.NewComposer(1280, 720, snapshot.DefaultQuality),
		engine:         engine,
		streamInterval: cfg.Session.RenderInterval.Std(),
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout.Std(),
			WriteTimeout: cfg.Server.WriteTimeout.Std(),
		},
	}
	if s.streamInterval <= 0 {
		s.streamInterval = time.Second / 30
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/pause", s.handlePause)
	api.POST("/stop", s.handleStop)

	api.POST("/modes/:name/toggle", s.handleToggleMode)
	api.POST("/detected/toggle", s.handleToggleDetected)

	api.POST("/controls/:control", s.handleBroadcastControl)
	api.PUT("/devices/:id/controls/:control", s.handleSetDeviceControl)
	api.GET("/devices/:id/frame", s.handleDeviceFrame)
	api.GET("/devices/:id/stream", s.handleDeviceStream)
	api.GET("/snapshot", s.handleSnapshot)

	api.POST("/mesh/generate", s.handleGenerateMesh)
	api.POST("/mesh/clear", s.handleClearMesh)
	api.POST("/mesh/save", s.handleSaveMesh)
	api.POST("/mesh/load", s.handleLoadMesh)
	api.POST("/zoom", s.handleZoom)
}

// Start はサーバーを起動し、ctx が終わったらシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		monitoring.Logf("HTTPサーバーを起動しています: %s", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	monitoring.Logf("サーバーをシャットダウンしています...")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	monitoring.Logf("サーバーが正常にシャットダウンされました")
	return nil
}
