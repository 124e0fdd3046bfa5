package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	_ "github.com/tazhibayda/auth-api/docs"
	"github.com/tazhibayda/auth-api/internal/domain"
	"github.com/tazhibayda/auth-api/internal/metrics"
	"go.uber.org/zap"
)

type RouterOptions struct {
	Logger      *zap.Logger
	CORSOrigins []string

	Limiter         Counter
	RateLimitMax    int
	RateLimitWindow time.Duration

	TraceEnabled bool
	TraceService string
}

func NewRouter(h *Handler, o RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Tracing(o.TraceEnabled, o.TraceService))
	r.Use(RequestID())
	r.Use(AccessLog(o.Logger))
	r.Use(metrics.Middleware())
	r.Use(CORS(o.CORSOrigins))

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if h.Keys != nil {
		r.GET("/.well-known/jwks.json", h.JWKS)
	}

	api := r.Group("/api/auth", RateLimit(o.Limiter, o.RateLimitMax, o.RateLimitWindow))
	{
		api.POST("/register", h.Register)
		api.GET("/verify/:token", h.VerifyEmail)
		api.POST("/login", h.Login)
		api.POST("/logout", h.Logout)
		api.POST("/password-reset-request", h.RequestPasswordReset)
		api.POST("/reset-password/:token", h.ResetPassword)
		api.POST("/resend-verification", h.ResendVerification)

		if h.Google != nil {
			api.GET("/google", h.GoogleStart)
			api.GET("/google/callback", h.GoogleCallback)
		}

		api.GET("/me", h.RequireSession(), h.Me)
		api.GET("/admin", h.RequireSession(), RequireRole(domain.RoleAdmin), h.Admin)
	}
	return r
}
