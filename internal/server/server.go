package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"nvrwall/internal/camera"
	"nvrwall/internal/config"
	"nvrwall/internal/grid"
	"nvrwall/internal/metrics"
	"nvrwall/internal/token"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	cameras    *camera.Manager
	compositor *grid.Compositor
	tokens     *token.Manager
	metrics    *metrics.Metrics
	registry   *prometheus.Registry

	router     *gin.Engine
	httpServer *http.Server

	viewers atomic.Int64
}

// New は新しいServerインスタンスを作成する
// factory はチャンネル毎のフレームソースを作成する
func New(cfg *config.Config, factory camera.SourceFactory) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	cameras, err := camera.NewManager(cfg.Sources(), factory,
		camera.WithBackoff(cfg.NVR.Backoff),
		camera.WithObserver(m),
	)
	if err != nil {
		return nil, fmt.Errorf("カメラマネージャーの作成に失敗: %w", err)
	}

	tokenOpts := []token.Option{}
	if cfg.Auth.DBPath != "" {
		store, err := token.OpenSQLite(cfg.Auth.DBPath)
		if err != nil {
			return nil, fmt.Errorf("トークンDBを開けません: %w", err)
		}
		tokenOpts = append(tokenOpts, token.WithStore(store))
		log.Info().Str("path", cfg.Auth.DBPath).Msg("トークンDBを開きました")
	}

	s := &Server{
		config:  cfg,
		cameras: cameras,
		compositor: grid.NewCompositor(cameras.Store(),
			grid.WithDefaultSize(cfg.Stream.DefaultWidth, cfg.Stream.DefaultHeight),
		),
		tokens:   token.New(tokenOpts...),
		metrics:  m,
		registry: registry,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// Cameras はカメラマネージャーを返す
func (s *Server) Cameras() *camera.Manager {
	return s.cameras
}

// Tokens はトークンマネージャーを返す
func (s *Server) Tokens() *token.Manager {
	return s.tokens
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), s.instrument())
	router.SetHTMLTemplate(loadTemplates())

	// ヘルスチェック
	router.GET("/", s.handleRoot)
	router.GET("/health", s.handleHealth)

	// APIエンドポイント
	router.GET("/api/status", s.handleStatus)

	// トークン管理
	admin := router.Group("/tokens", s.adminAuth())
	{
		admin.POST("", s.handleCreateToken)
		admin.POST("/revoke", s.handleRevokeToken)
		admin.GET("", s.handleListTokens)
	}

	// 閲覧（トークン必須）
	viewer := router.Group("", s.tokenAuth())
	{
		viewer.GET("/wall", s.handleWall)
		viewer.GET("/stream", s.handleStream)
		viewer.GET("/snapshot.jpg", s.handleSnapshot)
	}

	// メトリクス
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	s.router = router
}

// Start はカメラワーカーとHTTPサーバーを起動し、
// ctx の終了かシグナル受信までブロックする
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// ストリーム配信中のリクエストもシャットダウン時に終了させる
	s.httpServer.BaseContext = func(net.Listener) context.Context {
		return gctx
	}

	s.cameras.Start(gctx)

	g.Go(func() error {
		log.Info().Str("addr", s.config.ServerAddress()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			log.Info().Msg("停止要求を受信しました")
		}
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown はサーバーとカメラワーカーをグレースフルに停止し、トークンDBを閉じる
func (s *Server) Shutdown() error {
	log.Info().Msg("サーバーをシャットダウンしています...")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("サーバーのシャットダウンに失敗: %w", err))
	}
	if err := s.cameras.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.tokens.Close(); err != nil {
		errs = append(errs, fmt.Errorf("トークンDBのクローズに失敗: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	log.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}

// requestLogger はリクエストをzerologで記録する
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("リクエスト")
	}
}

// instrument はリクエスト数と処理時間を記録する
func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request.Method, path, fmt.Sprint(c.Writer.Status()), time.Since(start))
	}
}
