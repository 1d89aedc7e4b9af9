package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegisshield/compliance-tracker/internal/config"
	"github.com/aegisshield/compliance-tracker/internal/models"
)

func securityConfig(t *testing.T) config.SecurityConfig {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("workflow-key"), bcrypt.MinCost)
	require.NoError(t, err)
	return config.SecurityConfig{
		AuthEnabled:  true,
		JWTSecret:    "test-secret",
		JWTIssuer:    "compliance-tracker",
		TokenTTL:     time.Hour,
		APIKeyHeader: "X-API-Key",
		APIKeyHash:   string(hash),
	}
}

func newRouter(auth *Authenticator, admin bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(auth.Authenticate())
	handler := func(c *gin.Context) {
		actor := ActorFrom(c)
		c.JSON(http.StatusOK, gin.H{"id": actor.ID, "role": actor.Role})
	}
	if admin {
		r.GET("/", RequireAdmin(), handler)
	} else {
		r.GET("/", handler)
	}
	return r
}

func do(r http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthenticator(securityConfig(t), zap.NewNop())
	actor := models.Actor{ID: "u1", Name: "Una", Role: models.RoleAdmin}

	token, err := auth.IssueToken(actor)
	require.NoError(t, err)

	got, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestValidateTokenRejects(t *testing.T) {
	cfg := securityConfig(t)
	auth := NewAuthenticator(cfg, zap.NewNop())

	other := cfg
	other.JWTSecret = "other-secret"
	forged, err := NewAuthenticator(other, zap.NewNop()).IssueToken(models.Actor{ID: "u1"})
	require.NoError(t, err)
	_, err = auth.ValidateToken(forged)
	assert.Error(t, err)

	expired := cfg
	expired.TokenTTL = -time.Minute
	stale, err := NewAuthenticator(expired, zap.NewNop()).IssueToken(models.Actor{ID: "u1"})
	require.NoError(t, err)
	_, err = auth.ValidateToken(stale)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: cfg.JWTIssuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ValidateToken(none)
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	cfg := securityConfig(t)
	auth := NewAuthenticator(cfg, zap.NewNop())
	token, err := auth.IssueToken(models.Actor{ID: "u1", Role: models.RoleUser})
	require.NoError(t, err)

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantID     string
	}{
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer " + token}, wantStatus: http.StatusOK, wantID: "u1"},
		{name: "bad scheme", headers: map[string]string{"Authorization": "Basic abc"}, wantStatus: http.StatusUnauthorized},
		{name: "bad token", headers: map[string]string{"Authorization": "Bearer nope"}, wantStatus: http.StatusUnauthorized},
		{name: "api key", headers: map[string]string{"X-API-Key": "workflow-key"}, wantStatus: http.StatusOK, wantID: "workflow"},
		{name: "wrong api key", headers: map[string]string{"X-API-Key": "guess"}, wantStatus: http.StatusUnauthorized},
		{name: "anonymous", wantStatus: http.StatusUnauthorized},
		{name: "dev headers ignored", headers: map[string]string{"X-Actor-ID": "u9"}, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newRouter(auth, false), tt.headers)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantID != "" {
				assert.Contains(t, w.Body.String(), `"id":"`+tt.wantID+`"`)
			} else {
				assert.Contains(t, w.Body.String(), `"success":false`)
			}
		})
	}
}

func TestAuthDisabledUsesHeaders(t *testing.T) {
	auth := NewAuthenticator(config.SecurityConfig{}, zap.NewNop())

	w := do(newRouter(auth, true), map[string]string{"X-Actor-ID": "root", "X-Actor-Role": "Admin"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"admin"`)

	w = do(newRouter(auth, true), map[string]string{"X-Actor-ID": "u2", "X-Actor-Role": "superuser"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(newRouter(auth, false), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"anonymous"`)
	assert.Contains(t, w.Body.String(), `"role":"user"`)
}
