package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type contextKey string

const userIDKey contextKey = "authUserID"

// CookieName is the session cookie carrying the signed token.
const CookieName = "jwt"

// UserExistsFunc reports whether the subject of a valid token still refers
// to an active account.
type UserExistsFunc func(ctx context.Context, userID string) (bool, error)

// GetUserID retrieves the authenticated subject from context.
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(userIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// ContextWithUserID attaches an authenticated subject to ctx.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// JWTMiddleware validates the session cookie or bearer token and injects the
// user identity. When exists is non-nil, tokens for deleted users are rejected.
func JWTMiddleware(tokens *TokenManager, exists UserExistsFunc, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		tokenString, err := extractToken(c)
		if err != nil {
			unauthorized(c, "Por favor, faça login para acessar")
			return
		}

		subject, err := tokens.Parse(tokenString)
		if err != nil {
			unauthorized(c, "Token inválido")
			return
		}

		if exists != nil {
			ok, err := exists(c.Request.Context(), subject)
			if err != nil {
				logger.Error("user lookup failed", zap.String("user_id", subject), zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
				return
			}
			if !ok {
				unauthorized(c, "Usuário não existe mais")
				return
			}
		}

		c.Request = c.Request.WithContext(ContextWithUserID(c.Request.Context(), subject))
		c.Set(string(userIDKey), subject)

		c.Next()
	}
}

func extractToken(c *gin.Context) (string, error) {
	if cookie, err := c.Cookie(CookieName); err == nil && strings.TrimSpace(cookie) != "" {
		return strings.TrimSpace(cookie), nil
	}
	return extractBearerToken(c.Request.Header.Get("Authorization"))
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": message})
}

// CookieOptions controls how the session cookie is written.
type CookieOptions struct {
	MaxAgeSeconds int
	Secure        bool
}

// SetSessionCookie writes token as an httpOnly cookie.
func SetSessionCookie(c *gin.Context, token string, opts CookieOptions) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, opts.MaxAgeSeconds, "/", "", opts.Secure, true)
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c *gin.Context, opts CookieOptions) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", opts.Secure, true)
}
