// Package auth manages tenant sessions and tells auth failures apart from
// other errors.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/dealsync/internal/client/api"
	"github.com/iudanet/dealsync/internal/client/storage"
	"github.com/iudanet/dealsync/internal/clock"
	"github.com/iudanet/dealsync/internal/validation"
	pkgapi "github.com/iudanet/dealsync/pkg/api"
)

//go:generate moq -out issuer_mock.go . TokenIssuer

// TokenIssuer exchanges credentials for an access token.
type TokenIssuer interface {
	IssueToken(ctx context.Context, req pkgapi.TokenRequest) (*pkgapi.TokenResponse, error)
}

// Service предоставляет функции авторизации
type Service struct {
	store  storage.AuthStorage
	issuer TokenIssuer
	clock  clock.Clock
	logger *slog.Logger
}

// Compile-time check that Service can sign API requests
var _ api.TokenSource = (*Service)(nil)

// NewService создает новый сервис авторизации
func NewService(store storage.AuthStorage, issuer TokenIssuer, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:  store,
		issuer: issuer,
		clock:  clk,
		logger: logger,
	}
}

// Login получает токен для пользователя организации и сохраняет сессию
func (s *Service) Login(ctx context.Context, tenantID, userID, secret string) (*storage.AuthData, error) {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}

	resp, err := s.issuer.IssueToken(ctx, pkgapi.TokenRequest{
		TenantID: tenantID,
		UserID:   userID,
		Secret:   secret,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	// Срок действия берем из токена, иначе из expires_in
	var expiresAt int64
	if exp, ok := TokenExpiry(resp.AccessToken); ok {
		expiresAt = exp.Unix()
	} else if resp.ExpiresIn > 0 {
		expiresAt = s.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second).Unix()
	}

	session := &storage.AuthData{
		TenantID:    tenantID,
		UserID:      userID,
		AccessToken: resp.AccessToken,
		ExpiresAt:   expiresAt,
	}
	if err := s.store.SaveAuth(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Info("Logged in", "tenant_id", tenantID, "user_id", userID)
	return session, nil
}

// Session returns the stored session of a tenant.
func (s *Service) Session(ctx context.Context, tenantID string) (*storage.AuthData, error) {
	session, err := s.store.GetAuth(ctx, tenantID)
	if errors.Is(err, storage.ErrAuthNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// Token returns a non-expired access token of the tenant.
func (s *Service) Token(ctx context.Context, tenantID string) (string, error) {
	session, err := s.Session(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if session.ExpiresAt > 0 && s.clock.Now().Unix() >= session.ExpiresAt {
		return "", fmt.Errorf("%w: %s", ErrSessionExpired, tenantID)
	}
	return session.AccessToken, nil
}

// Logout удаляет сессию организации. Отсутствие сессии не является ошибкой.
func (s *Service) Logout(ctx context.Context, tenantID string) error {
	err := s.store.DeleteAuth(ctx, tenantID)
	if err != nil && !errors.Is(err, storage.ErrAuthNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.logger.Info("Logged out", "tenant_id", tenantID)
	return nil
}

// IsAuthError reports whether err means the session is missing, expired
// or rejected by the server.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoSession) || errors.Is(err, ErrSessionExpired) {
		return true
	}
	if apiErr, ok := api.AsError(err); ok {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// TokenExpiry reads the exp claim without verifying the signature.
// The server verifies tokens; the client only needs to know when to stop
// using one.
func TokenExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
