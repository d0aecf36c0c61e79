package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AdminObserver logs and counts one admin HTTP request. Context, when set,
// adds the owning service's live state to every log event.
type AdminObserver struct {
	Node    string
	Logger  zerolog.Logger
	Context func(*zerolog.Event)
}

func (o AdminObserver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		RecordHTTPRequest(o.Node, c.Request.Method, path, status, elapsed)

		event := o.Logger.Debug()
		switch {
		case status >= 500:
			event = o.Logger.Error()
		case status >= 400:
			event = o.Logger.Warn()
		}
		if !event.Enabled() {
			return
		}
		event = event.
			Str("service", o.Node).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", elapsed)
		if o.Context != nil {
			o.Context(event)
		}
		event.Msg(o.Node + " admin request")
	}
}
