package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/dealsync/internal/client/api"
	"github.com/iudanet/dealsync/internal/client/storage/boltdb"
	"github.com/iudanet/dealsync/internal/clock"
	pkgapi "github.com/iudanet/dealsync/pkg/api"
)

func createTestService(t *testing.T, issuer TokenIssuer, clk clock.Clock) *Service {
	t.Helper()

	store := boltdb.New(filepath.Join(t.TempDir(), "auth.db"), boltdb.Options{})
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	return NewService(store, issuer, clk, nil)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	exp := clk.Now().Add(2 * time.Hour)
	token := signedToken(t, exp)

	issuer := &TokenIssuerMock{
		IssueTokenFunc: func(_ context.Context, req pkgapi.TokenRequest) (*pkgapi.TokenResponse, error) {
			return &pkgapi.TokenResponse{AccessToken: token, ExpiresIn: 60}, nil
		},
	}
	svc := createTestService(t, issuer, clk)

	session, err := svc.Login(ctx, "acme", "alice", "secret")
	require.NoError(t, err)

	// exp из токена имеет приоритет над expires_in
	assert.Equal(t, exp.Unix(), session.ExpiresAt)
	require.Len(t, issuer.IssueTokenCalls(), 1)
	assert.Equal(t, pkgapi.TokenRequest{TenantID: "acme", UserID: "alice", Secret: "secret"}, issuer.IssueTokenCalls()[0].Req)

	got, err := svc.Token(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, token, got)

	clk.Advance(2 * time.Hour)
	_, err = svc.Token(ctx, "acme")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.True(t, IsAuthError(err))
}

func TestService_Login_OpaqueToken(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	issuer := &TokenIssuerMock{
		IssueTokenFunc: func(context.Context, pkgapi.TokenRequest) (*pkgapi.TokenResponse, error) {
			return &pkgapi.TokenResponse{AccessToken: "opaque", ExpiresIn: 60}, nil
		},
	}
	svc := createTestService(t, issuer, clk)

	session, err := svc.Login(ctx, "acme", "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Minute).Unix(), session.ExpiresAt)
}

func TestService_Login_Errors(t *testing.T) {
	ctx := context.Background()
	issuer := &TokenIssuerMock{
		IssueTokenFunc: func(context.Context, pkgapi.TokenRequest) (*pkgapi.TokenResponse, error) {
			return nil, &api.Error{StatusCode: http.StatusUnauthorized, Message: "bad secret"}
		},
	}
	svc := createTestService(t, issuer, nil)

	tests := []struct {
		name    string
		tenant  string
		user    string
		wantMsg string
	}{
		{name: "invalid tenant", tenant: "", user: "alice", wantMsg: "invalid tenant id"},
		{name: "invalid user", tenant: "acme", user: "a b", wantMsg: "invalid user id"},
		{name: "rejected", tenant: "acme", user: "alice", wantMsg: "login failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.tenant, tt.user, "secret")
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}

	_, err := svc.Session(ctx, "acme")
	assert.ErrorIs(t, err, ErrNoSession, "failed login stores nothing")
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()
	issuer := &TokenIssuerMock{
		IssueTokenFunc: func(context.Context, pkgapi.TokenRequest) (*pkgapi.TokenResponse, error) {
			return &pkgapi.TokenResponse{AccessToken: "tok"}, nil
		},
	}
	svc := createTestService(t, issuer, nil)

	_, err := svc.Login(ctx, "acme", "alice", "secret")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, "acme"))
	_, err = svc.Token(ctx, "acme")
	assert.ErrorIs(t, err, ErrNoSession)

	// Повторный выход не ошибка
	require.NoError(t, svc.Logout(ctx, "acme"))
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "no session", err: fmt.Errorf("drain: %w", ErrNoSession), want: true},
		{name: "expired", err: ErrSessionExpired, want: true},
		{name: "401", err: fmt.Errorf("push: %w", &api.Error{StatusCode: http.StatusUnauthorized}), want: true},
		{name: "403", err: &api.Error{StatusCode: http.StatusForbidden}, want: true},
		{name: "409", err: &api.Error{StatusCode: http.StatusConflict}, want: false},
		{name: "other", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAuthError(tt.err))
		})
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	got, ok := TokenExpiry(signedToken(t, exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = TokenExpiry("not-a-jwt")
	assert.False(t, ok)
}
