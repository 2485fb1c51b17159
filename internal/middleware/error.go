package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ErrorLogger logs the errors handlers attached with c.Error. Handlers have
// already written the response by then; server errors only carry a generic
// message, so this is where their cause ends up.
func ErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		logger := log.Ctx(c.Request.Context())
		for _, e := range c.Errors {
			logger.Error().
				Err(e.Err).
				Str("route", c.FullPath()).
				Interface("meta", e.Meta).
				Msg("Request error")
		}
	}
}
