package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tazhibayda/auth-api/internal/domain"
	logpkg "github.com/tazhibayda/auth-api/internal/log"
	"github.com/tazhibayda/auth-api/internal/queue"
	"go.uber.org/zap"
)

const (
	requestIDKey = "X-Request-ID"
	accountKey   = "auth.account"
	bearerPrefix = "Bearer "
	corsMaxAge   = 12 * time.Hour
)

// RequestID propagates or mints X-Request-ID and exposes it to the mail
// publisher through the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDKey)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDKey, id)
		c.Request = c.Request.WithContext(queue.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLog writes one line per request.
func AccessLog(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		l := logpkg.WithDD(c.Request.Context(), base,
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
		if c.Writer.Status() >= http.StatusInternalServerError {
			l.Warn("request")
			return
		}
		l.Info("request")
	}
}

// CORS allows credentialed requests from origins; none means same-origin only.
func CORS(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		ExposeHeaders:    []string{requestIDKey},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	})
}

func sessionToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	tok, _ := c.Cookie(cookieName)
	return tok
}

// RequireSession accepts the session cookie or a Bearer header.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := sessionToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, messageResp{Message: "authentication required"})
			return
		}
		acc, _, err := h.Auth.Authenticate(c.Request.Context(), tok)
		if err != nil {
			if domain.KindOf(err) == domain.KindInvalidToken {
				c.AbortWithStatusJSON(http.StatusUnauthorized, messageResp{Message: "invalid or expired session"})
				return
			}
			fail(c, err, http.StatusUnauthorized)
			return
		}
		c.Set(accountKey, acc)
		c.Next()
	}
}

// RequireRole must run after RequireSession.
func RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentAccount(c).Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, messageResp{Message: "access denied"})
			return
		}
		c.Next()
	}
}

func currentAccount(c *gin.Context) *domain.Account {
	v, _ := c.Get(accountKey)
	acc, _ := v.(*domain.Account)
	if acc == nil {
		return &domain.Account{}
	}
	return acc
}
