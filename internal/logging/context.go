package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxStartTime ctxKey = "start_time"
	ctxRequester ctxKey = "requester"
)

// Context keys set by the API middleware.
const (
	RequestIDKey = string(ctxRequestID)
	StartTimeKey = string(ctxStartTime)
	RequesterKey = string(ctxRequester)
)

func withGinContext(c *gin.Context, e *zerolog.Event) *zerolog.Event {
	if c == nil {
		return e
	}
	if v, ok := c.Get(RequestIDKey); ok {
		if s, ok2 := v.(string); ok2 && s != "" {
			e.Str("request_id", s)
		}
	}
	if v, ok := c.Get(RequesterKey); ok {
		if s, ok2 := v.(string); ok2 && s != "" {
			e.Str("requester", s)
		}
	}
	if v, ok := c.Get(StartTimeKey); ok {
		if t, ok2 := v.(time.Time); ok2 {
			e.Dur("duration", time.Since(t))
		}
	}
	return e
}

func Info(c *gin.Context) *zerolog.Event  { return withGinContext(c, log.Info()) }
func Debug(c *gin.Context) *zerolog.Event { return withGinContext(c, log.Debug()) }
func Warn(c *gin.Context) *zerolog.Event  { return withGinContext(c, log.Warn()) }
func Error(c *gin.Context) *zerolog.Event { return withGinContext(c, log.Error()) }
