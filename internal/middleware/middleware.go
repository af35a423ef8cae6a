package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joshua-takyi/fieldbook/internal/helpers"
	"github.com/joshua-takyi/fieldbook/internal/models"
)

// RequestID middleware adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// StructuredLogger provides structured logging middleware
func StructuredLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		requestID, _ := c.Get("request_id")
		// query strings are left out; gateway callbacks carry signatures in them
		logger.Info("HTTP Request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// ErrorHandler provides centralized error handling
func ErrorHandler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			requestID, _ := c.Get("request_id")

			logger.Error("Request error",
				"request_id", requestID,
				"error", err.Error(),
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
			)

			if c.Writer.Written() {
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":      "Internal server error",
				"request_id": requestID,
			})
		}
	}
}

// TokenValidator verifies a bearer token and returns its claims.
type TokenValidator interface {
	Validate(token string) (*helpers.CustomClaims, error)
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	token, _ := c.Cookie("access_token")
	return token
}

func unauthorized(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"message": "Unauthorized access",
		"error":   reason,
	})
}

// AuthMiddleware validates the caller's token and stores *helpers.EnhancedClaims under
// "user". The role comes from the profile store when one is configured, else the token.
func AuthMiddleware(validator TokenValidator, roles models.RoleLookup, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			unauthorized(c, "access token not found")
			return
		}

		claims, err := validator.Validate(token)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		role := helpers.ClaimsRole(claims)
		if roles != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			stored, err := roles.GetRole(ctx, claims.Subject, token)
			cancel()
			if err != nil {
				logger.Info("Profile role unavailable, using token role",
					"user_id", claims.Subject,
					"role", role,
					"error", err,
				)
			} else {
				role = stored
			}
		}

		c.Set("user", &helpers.EnhancedClaims{
			CustomClaims: claims,
			Role:         role,
			UserID:       claims.Subject,
			Email:        claims.Email,
		})
		c.Next()
	}
}

// RequireCapability rejects callers whose role does not grant c.
func RequireCapability(capability models.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := c.Get("user")
		if !exists {
			unauthorized(c, "unauthorized")
			return
		}
		claims, ok := user.(*helpers.EnhancedClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse("invalid user claims"))
			return
		}
		if !claims.Permits(capability) {
			c.AbortWithStatusJSON(http.StatusForbidden, models.CodedErrorResponse("forbidden", "insufficient permissions"))
			return
		}
		c.Next()
	}
}
