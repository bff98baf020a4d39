package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/roundtable/config"
	"github.com/BaSui01/roundtable/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	handler := Chain(okHandler(), SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID_PreservesClientValue(t *testing.T) {
	handler := RequestID()(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "client-7")
	handler.ServeHTTP(w, r)

	assert.Equal(t, "client-7", w.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/events", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrInternalError))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/v1/events", "/v1/events"},
		{"/v1/conversations/3f2c8a4e-1b2d-4c5e-9f00-112233445566/stop", "/v1/conversations/:id/stop"},
		{"/v1/conversations/12345", "/v1/conversations/:id"},
		{"/healthz", "/healthz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 1, 1, nil, zap.NewNop())(okHandler())

	do := func(path string) int {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.RemoteAddr = "10.0.0.1:5555"
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("/v1/conversations"))
	assert.Equal(t, http.StatusTooManyRequests, do("/v1/conversations"))
	assert.Equal(t, http.StatusOK, do("/healthz"), "probes are never limited")
}

func TestRateLimiter_DisabledIsPassThrough(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, nil, nil)(okHandler())
	for range 5 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, JWTSecret: "test-secret", Issuer: "roundtable"}

	var gotOperator string
	var gotRoles []string
	handler := JWTAuth(cfg, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOperator, _ = types.OperatorID(r.Context())
		gotRoles, _ = types.Roles(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	valid, err := signToken(cfg.JWTSecret, cfg.Issuer, "ops-1", []string{"operator"}, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := signToken(cfg.JWTSecret, "someone-else", "ops-1", nil, time.Hour)
	require.NoError(t, err)
	expired, err := signToken(cfg.JWTSecret, cfg.Issuer, "ops-1", nil, -time.Minute)
	require.NoError(t, err)
	foreign, err := signToken("other-secret", cfg.Issuer, "ops-1", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"valid token", "/v1/conversations", "Bearer " + valid, http.StatusOK},
		{"missing header", "/v1/conversations", "", http.StatusUnauthorized},
		{"not bearer", "/v1/conversations", "Basic abc", http.StatusUnauthorized},
		{"wrong issuer", "/v1/conversations", "Bearer " + wrongIssuer, http.StatusUnauthorized},
		{"expired", "/v1/conversations", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "/v1/conversations", "Bearer " + foreign, http.StatusUnauthorized},
		{"public probe", "/healthz", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	// 最后一次成功请求来自 valid token
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	r.Header.Set("Authorization", "Bearer "+valid)
	handler.ServeHTTP(w, r)
	assert.Equal(t, "ops-1", gotOperator)
	assert.Equal(t, []string{"operator"}, gotRoles)
}

func TestJWTAuth_DisabledIsPassThrough(t *testing.T) {
	handler := JWTAuth(config.AuthConfig{}, zap.NewNop())(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/events", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignToken_RequiresSecret(t *testing.T) {
	_, err := signToken("", "", "ops-1", nil, time.Hour)
	assert.Error(t, err)
}
