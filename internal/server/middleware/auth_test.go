package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/dealsync/internal/clock"
	"github.com/iudanet/dealsync/internal/server/handlers"
	"github.com/iudanet/dealsync/internal/server/jwt"
	"github.com/iudanet/dealsync/pkg/api"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// identityHandler checks the identity put into context by AuthMiddleware
func identityHandler(t *testing.T, wantTenant, wantUser string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := handlers.GetTenantID(r.Context())
		require.True(t, ok, "tenant_id should be in context")
		assert.Equal(t, wantTenant, tenantID)

		userID, ok := handlers.GetUserID(r.Context())
		require.True(t, ok, "user_id should be in context")
		assert.Equal(t, wantUser, userID)

		w.WriteHeader(http.StatusOK)
	}
}

func TestAuthMiddleware_Success(t *testing.T) {
	service := jwt.NewService("test-secret-key", 15*time.Minute, nil)
	token, _, err := service.Issue("acme", "alice")
	require.NoError(t, err)

	handler := AuthMiddleware(setupTestLogger(), service)(identityHandler(t, "acme", "alice"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deals/d1", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	service := jwt.NewService("test-secret-key", 15*time.Minute, clk)

	expired, _, err := service.Issue("acme", "alice")
	require.NoError(t, err)
	clk.Advance(time.Hour)

	foreign, _, err := jwt.NewService("other-secret", time.Hour, clk).Issue("acme", "alice")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "bearer without token", header: "Bearer "},
		{name: "no scheme", header: "token-only"},
		{name: "garbage token", header: "Bearer not.a.jwt"},
		{name: "expired token", header: "Bearer " + expired},
		{name: "wrong secret", header: "Bearer " + foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := AuthMiddleware(setupTestLogger(), service)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/deals/d1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp api.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, api.CodeUnauthorized, resp.Code)
		})
	}
}

func TestAuthMiddleware_TenantReachesRequestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	service := jwt.NewService("test-secret-key", 15*time.Minute, nil)
	token, _, err := service.Issue("acme", "alice")
	require.NoError(t, err)

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), LoggingMiddleware(logger), AuthMiddleware(setupTestLogger(), service))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/deals/d1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "acme", entry["tenant_id"])
	assert.Equal(t, "alice", entry["user_id"])
	assert.Equal(t, float64(http.StatusNoContent), entry["status"])
}
