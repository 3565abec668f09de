package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/scopechat-server/internal/auth"
)

// ContextKeyOperator is the context key for the authenticated operator name.
const ContextKeyOperator = "operator"

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AuthMiddleware creates a middleware that validates admin JWT tokens.
func AuthMiddleware(cfg *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug().Msg("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" {
			logger.Debug().Msg("invalid authorization header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header format"})
			return
		}

		claims, err := auth.ValidateToken(cfg, token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}

		c.Set(ContextKeyOperator, claims.Operator)
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
