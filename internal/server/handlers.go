package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"nvrwall/internal/config"
	"nvrwall/internal/stream"
	"nvrwall/internal/token"
)

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, "NVR Wall backend (cameras: %d)", len(s.cameras.Channels()))
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus はシステム状態取得エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "running",
		"server": gin.H{
			"host": s.config.Server.Host,
			"port": s.config.Server.Port,
		},
		"cameras":        s.cameras.Statuses(),
		"workers":        s.cameras.Running(),
		"active_viewers": s.viewers.Load(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

type createTokenRequest struct {
	Description string `json:"description"`
	DaysValid   *int   `json:"days_valid"`
}

// handleCreateToken はトークンを発行する
func (s *Server) handleCreateToken(c *gin.Context) {
	var req createTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return
	}

	days := s.config.Auth.TokenDays
	if req.DaysValid != nil {
		days = *req.DaysValid
	}

	tok, err := s.tokens.Create(req.Description, config.TokenValidity(days))
	if err != nil {
		log.Error().Err(err).Msg("トークンの発行に失敗しました")
		c.JSON(http.StatusInternalServerError, errorBody("internal_error", "トークンを発行できませんでした"))
		return
	}

	log.Info().Int64("token_id", tok.ID).Str("description", tok.Description).Msg("トークンを発行しました")
	c.JSON(http.StatusOK, gin.H{
		"token":      tok.Value,
		"id":         tok.ID,
		"expires_at": tok.ExpiresAt,
	})
}

type revokeTokenRequest struct {
	Token string `json:"token"`
	ID    int64  `json:"id"`
}

// handleRevokeToken はトークンを失効させる
func (s *Server) handleRevokeToken(c *gin.Context) {
	var req revokeTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return
	}

	var err error
	switch {
	case req.Token != "":
		err = s.tokens.Revoke(req.Token)
	case req.ID > 0:
		err = s.tokens.RevokeID(req.ID)
	default:
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "missing token"))
		return
	}

	if errors.Is(err, token.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorBody("not_found", "トークンが見つかりません"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// handleListTokens はトークン一覧を返す
func (s *Server) handleListTokens(c *gin.Context) {
	tokens, err := s.tokens.List()
	if err != nil {
		log.Error().Err(err).Msg("トークン一覧の取得に失敗しました")
		c.JSON(http.StatusInternalServerError, errorBody("internal_error", "トークン一覧を取得できませんでした"))
		return
	}
	accesses, err := s.tokens.AccessLog(50)
	if err != nil {
		log.Error().Err(err).Msg("アクセスログの取得に失敗しました")
		c.JSON(http.StatusInternalServerError, errorBody("internal_error", "アクセスログを取得できませんでした"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tokens":     tokens,
		"access_log": accesses,
	})
}

// handleWall は全画面表示用のページを返す
func (s *Server) handleWall(c *gin.Context) {
	c.HTML(http.StatusOK, "wall.html", gin.H{
		"Token": c.GetString(ctxTokenKey),
	})
}

// handleStream はグリッド合成画像をMJPEGで配信する
// クライアントが切断するかサーバーが停止するまで返らない
func (s *Server) handleStream(c *gin.Context) {
	session := uuid.New().String()
	logger := log.With().
		Str("session", session).
		Int64("token_id", c.GetInt64(ctxTokenIDKey)).
		Str("ip", c.ClientIP()).
		Logger()

	s.viewers.Add(1)
	s.metrics.ViewerConnected()
	defer func() {
		s.viewers.Add(-1)
		s.metrics.ViewerDisconnected()
	}()

	// レスポンスヘッダーを設定
	c.Header("Content-Type", stream.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	encoder := stream.NewEncoder(s.compositor,
		stream.WithQuality(s.config.Stream.Quality),
		stream.WithInterval(s.config.Stream.Interval),
		stream.WithRecorder(s.metrics),
	)

	logger.Info().Msg("ストリーム配信を開始しました")
	err := encoder.Stream(c.Request.Context(), c.Writer, c.Writer.Flush)
	logger.Info().Err(err).Msg("ストリーム配信を終了しました")
}

// handleSnapshot は現在のグリッド合成画像を1枚のJPEGで返す
func (s *Server) handleSnapshot(c *gin.Context) {
	start := time.Now()
	img := s.compositor.Compose()
	s.metrics.ComposeObserved(time.Since(start))

	var buf bytes.Buffer
	if err := stream.JPEGEncoder(s.config.Stream.Quality)(&buf, img); err != nil {
		s.metrics.EncodeFailed()
		log.Error().Err(err).Msg("スナップショットのエンコードに失敗しました")
		c.JSON(http.StatusInternalServerError, errorBody("encode_failed", "画像を作成できませんでした"))
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}
