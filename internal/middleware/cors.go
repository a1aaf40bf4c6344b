package middleware

import (
	"net/http"
	"strings"

	"github.com/ajar-app/backend/internal/config"
	"github.com/gin-gonic/gin"
)

// CORS creates a CORS middleware. A configured "*" origin allows any
// caller; preflight requests always short-circuit with 204.
func CORS(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		normalizedOrigin := strings.TrimRight(strings.TrimSpace(origin), "/")

		// Check if origin is allowed (normalized comparison)
		allowed := false
		wildcard := false
		for _, allowedOrigin := range cfg.AllowedOrigins {
			normalizedAllowed := strings.TrimRight(strings.TrimSpace(allowedOrigin), "/")
			if normalizedAllowed == "*" {
				allowed = true
				wildcard = true
				break
			}
			if normalizedOrigin == normalizedAllowed {
				allowed = true
				break
			}
		}

		// For development, if no origin matches, allow localhost origins
		if !allowed && origin != "" && cfg.Env == "development" {
			allowed = true
		}

		// Always set these headers for CORS
		c.Writer.Header().Add("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
		c.Writer.Header().Set("Access-Control-Max-Age", "86400") // Cache preflight for 24h

		switch {
		case wildcard && normalizedOrigin == "":
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed && normalizedOrigin != "":
			// Echo the origin so credentialed requests keep working
			c.Writer.Header().Set("Access-Control-Allow-Origin", normalizedOrigin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		// Handle OPTIONS preflight requests
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
