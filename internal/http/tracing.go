package http

import (
	"github.com/gin-gonic/gin"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"
)

// Tracing returns the Datadog gin middleware, or a pass-through when
// tracing is off.
func Tracing(enabled bool, service string) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return gintrace.Middleware(service)
}
