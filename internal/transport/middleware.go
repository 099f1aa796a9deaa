package transport

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	statusWarnThreshold  = 400
	statusErrorThreshold = 500
)

// pollPaths are hit continuously by workers and the dashboard; successful
// calls are logged at debug level.
var pollPaths = map[string]struct{}{
	apiPrefix + "/take":      {},
	apiPrefix + "/completed": {},
	apiPrefix + "/status":    {},
	apiPrefix + "/open":      {},
}

// ZerologLogger is a Gin middleware that logs requests using zerolog.
// role tags each line with the process side serving it.
func ZerologLogger(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		var evt *zerolog.Event
		switch {
		case status >= statusErrorThreshold:
			evt = log.Error()
		case status >= statusWarnThreshold:
			evt = log.Warn()
		default:
			if _, quiet := pollPaths[path]; quiet {
				evt = log.Debug()
			} else {
				evt = log.Info()
			}
		}
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		evt.
			Str("role", role).
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http request completed")
	}
}

// NewRouter returns a gin engine with recovery and request logging.
func NewRouter(role string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), ZerologLogger(role))
	return router
}
