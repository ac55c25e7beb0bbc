package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/lenmanean/logbloga/common/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func accessClaims(userID string, role string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{"user_id": userID, "role": role, "typ": "access", "exp": exp.Unix()}
}

func authRouter() *gin.Engine {
	auth := middleware.NewAuthenticator(testSecret)
	r := gin.New()
	r.GET("/me", auth.RequireAuth(), func(c *gin.Context) {
		id, ok := middleware.UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.String())
	})
	r.GET("/admin", auth.RequireAuth(), middleware.RequireRole(middleware.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/maybe", auth.OptionalAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(middleware.ContextUserID))
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	userID := uuid.NewString()
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims(userID, "user", future)), http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims(userID, "user", time.Now().Add(-time.Minute))), http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), accessClaims(userID, "user", future)), http.StatusUnauthorized},
		{"refresh token", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"user_id": userID, "typ": "refresh", "exp": future.Unix()}), http.StatusUnauthorized},
		{"bad subject", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims("nope", "user", future)), http.StatusUnauthorized},
		{"none algorithm", "Bearer " + signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, accessClaims(userID, "admin", future)), http.StatusUnauthorized},
	}

	r := authRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, userID, w.Body.String())
			} else {
				assert.JSONEq(t, `{"code":401,"message":"Authentication required"}`, w.Body.String())
			}
		})
	}
}

func TestRequireAuth_CookieAndSubClaim(t *testing.T) {
	userID := uuid.NewString()
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": userID, "exp": time.Now().Add(time.Hour).Unix()})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	w := httptest.NewRecorder()
	authRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, w.Body.String())
}

func TestRequireRole(t *testing.T) {
	future := time.Now().Add(time.Hour)
	r := authRouter()

	for role, want := range map[string]int{"admin": http.StatusNoContent, "user": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims(uuid.NewString(), role, future)))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, role)
	}
}

func TestOptionalAuth(t *testing.T) {
	r := authRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/maybe", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	userID := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/maybe", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), accessClaims(userID, "user", time.Now().Add(time.Hour))))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, userID, w.Body.String())
}
