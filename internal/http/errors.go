package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tazhibayda/auth-api/internal/domain"
	logpkg "github.com/tazhibayda/auth-api/internal/log"
	"go.uber.org/zap"
)

type messageResp struct {
	Message string `json:"message"`
}

type codedResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func statusOf(k domain.Kind, notFound int) int {
	switch k {
	case domain.KindValidation, domain.KindInvalidEmail, domain.KindEmailTaken,
		domain.KindBadCredentials, domain.KindInvalidToken, domain.KindAlreadyVerified,
		domain.KindExternalIdentity:
		return http.StatusBadRequest
	case domain.KindNotVerified:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return notFound
	default:
		return http.StatusInternalServerError
	}
}

// fail answers with the classified error. notFound is the per-operation
// status for KindNotFound.
func fail(c *gin.Context, err error, notFound int) {
	pub := domain.PublicError(err)
	status := statusOf(pub.Kind, notFound)
	if status >= http.StatusInternalServerError {
		logpkg.WithDD(c.Request.Context(), nil,
			zap.String("route", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
		).Error("request failed", zap.Error(err))
	}
	if pub.Code != "" {
		c.AbortWithStatusJSON(status, codedResp{Error: pub.Message, Code: pub.Code})
		return
	}
	c.AbortWithStatusJSON(status, messageResp{Message: pub.Message})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, messageResp{Message: msg})
}
