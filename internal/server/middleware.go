package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	adminKeyHeader = "X-Admin-Key"

	ctxTokenKey   = "token"
	ctxTokenIDKey = "token_id"
)

// adminAuth はトークン管理APIを管理キーで保護する
// 管理キーが未設定の場合は誰でも利用できる
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := s.config.Auth.AdminKey
		if key == "" {
			c.Next()
			return
		}

		given := c.GetHeader(adminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "管理キーが正しくありません"))
			return
		}
		c.Next()
	}
}

// tokenAuth は閲覧トークンを検証し、アクセスを記録する
// トークンはクエリ(token)か Authorization: Bearer で渡す
func (s *Server) tokenAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		value := requestToken(c)

		id, err := s.tokens.Validate(value)
		if err != nil {
			log.Info().
				Err(err).
				Str("path", c.Request.URL.Path).
				Str("ip", c.ClientIP()).
				Msg("無効なトークンによるアクセスを拒否しました")
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid_token", "Invalid or revoked token"))
			return
		}

		if err := s.tokens.LogAccess(id, c.Request.URL.Path, c.ClientIP(), c.Request.UserAgent()); err != nil {
			log.Warn().Err(err).Int64("token_id", id).Msg("アクセスログの記録に失敗しました")
		}

		c.Set(ctxTokenKey, value)
		c.Set(ctxTokenIDKey, id)
		c.Next()
	}
}

// requestToken はリクエストからトークン文字列を取り出す
func requestToken(c *gin.Context) string {
	if value := c.Query("token"); value != "" {
		return value
	}

	auth := c.GetHeader("Authorization")
	if value, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func errorBody(code, message string) gin.H {
	return gin.H{
		"error":   code,
		"message": message,
	}
}
