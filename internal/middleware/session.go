package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vanishmail/backend/internal/service"
)

const (
	// SessionCookieName 会话 Cookie 名称
	SessionCookieName = "session_id"

	// SessionContextKey 会话ID在 gin.Context 中的键
	SessionContextKey = "sessionID"

	// sessionCookieMaxAge 会话 Cookie 有效期（秒）
	sessionCookieMaxAge = 86400
)

// SessionAuth 会话中间件。
//
// 每个请求都会解析(或新建)一个匿名会话：
//   - Cookie 中带有效会话ID时直接复用
//   - 否则生成新会话并通过 Set-Cookie 下发
//
// Cookie 是 HttpOnly + SameSite=Lax 的，前端脚本不可读；
// 除此之外客户端无需任何凭据。
func SessionAuth(sessions *service.SessionService, secure bool, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		existing, _ := c.Cookie(SessionCookieName)

		sessionID, created, err := sessions.Establish(c.Request.Context(), existing)
		if err != nil {
			log.Error("failed to establish session", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		if created || existing != sessionID {
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     SessionCookieName,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   sessionCookieMaxAge,
				HttpOnly: true,
				Secure:   secure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		c.Set(SessionContextKey, sessionID)
		c.Next()
	}
}

// SessionID 从 gin.Context 中取出当前会话ID。
// 只能在 SessionAuth 之后的处理器里调用。
func SessionID(c *gin.Context) string {
	return c.GetString(SessionContextKey)
}
