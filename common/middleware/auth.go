package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	apperrors "github.com/lenmanean/logbloga/common/errors"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"

	RoleAdmin = "admin"

	accessTokenCookie = "access_token"
)

var errInvalidToken = errors.New("invalid or expired token")

// Authenticator validates HMAC-signed access tokens issued by the account
// service.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(strings.TrimSpace(secret))}
}

// ParseToken returns the claims of a valid access token.
func (a *Authenticator) ParseToken(tokenStr string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, fmt.Errorf("JWT secret not configured")
	}
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, errInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errInvalidToken
	}
	if typ, ok := claims["typ"].(string); ok && typ != "access" {
		return nil, errInvalidToken
	}
	return claims, nil
}

func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := c.Cookie(accessTokenCookie); err == nil {
		return cookie
	}
	return ""
}

// authenticate stores the user id and role of a valid token in the gin
// context and reports whether it did.
func (a *Authenticator) authenticate(c *gin.Context) bool {
	tokenStr := tokenFromRequest(c)
	if tokenStr == "" {
		return false
	}
	claims, err := a.ParseToken(tokenStr)
	if err != nil {
		return false
	}

	sub, _ := claims["user_id"].(string)
	if sub == "" {
		sub, _ = claims["sub"].(string)
	}
	if _, err := uuid.Parse(sub); err != nil {
		return false
	}
	role, _ := claims["role"].(string)

	c.Set(ContextUserID, sub)
	c.Set(ContextRole, role)
	return true
}

// RequireAuth rejects requests without a valid access token.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.authenticate(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.Unauthorized("Authentication required"))
			return
		}
		c.Next()
	}
}

// OptionalAuth identifies the caller when a valid token is present and lets
// anonymous requests through.
func (a *Authenticator) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		a.authenticate(c)
		c.Next()
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, apperrors.Forbidden("Access denied"))
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user's id.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString(ContextUserID))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
