package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/dmail/cache"
	"github.com/kasuganosora/dmail/config"
)

const UserIDKey = "user_id"

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionUnavailable = errors.New("session store unavailable")
)

// SessionKey is the cache key marking tokenStr as a live session.
func SessionKey(tokenStr string) string { return "session:" + tokenStr }

// Authenticate checks the token signature and that its session is still
// live, returning the user it belongs to.
func Authenticate(ctx context.Context, tokenStr string, sec config.SecurityConfig, c cache.Cache) (int64, error) {
	claims, err := ParseToken(tokenStr, sec.JWTSecret)
	if err != nil {
		return 0, ErrInvalidToken
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	exists, err := c.Exists(cacheCtx, SessionKey(tokenStr))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if !exists {
		return 0, ErrSessionExpired
	}
	return claims.UserID, nil
}

// AuthStatus is the HTTP status for an Authenticate error.
func AuthStatus(err error) int {
	if errors.Is(err, ErrSessionUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return tok, tok != ""
}

// Auth validates the Bearer JWT token and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr, ok := BearerToken(ctx.GetHeader("Authorization"))
		if !ok {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		userID, err := Authenticate(ctx.Request.Context(), tokenStr, sec, c)
		if err != nil {
			ctx.AbortWithStatusJSON(AuthStatus(err), gin.H{"error": err.Error()})
			return
		}
		ctx.Set(UserIDKey, userID)
		ctx.Next()
	}
}

// GetUserID retrieves the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) int64 {
	if v, exists := c.Get(UserIDKey); exists {
		return v.(int64)
	}
	return 0
}
