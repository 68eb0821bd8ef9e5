package storage

import (
	"context"
)

// AuthStorage defines interface for storing tenant sessions on client.
// Tokens are stored as received; protecting them at rest is the session
// provider's concern.
type AuthStorage interface {
	// SaveAuth stores session data for auth.TenantID, replacing the previous one
	SaveAuth(ctx context.Context, auth *AuthData) error

	// GetAuth retrieves the session of a tenant
	// Returns ErrAuthNotFound if no session exists
	GetAuth(ctx context.Context, tenantID string) (*AuthData, error)

	// DeleteAuth removes the session of a tenant (logout)
	DeleteAuth(ctx context.Context, tenantID string) error

	// IsAuthenticated checks if a session exists and is not expired
	IsAuthenticated(ctx context.Context, tenantID string) (bool, error)
}

// AuthData represents the session of one user within one tenant
type AuthData struct {
	TenantID    string `json:"tenant_id"`
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // unix seconds, 0 - без ограничения
}
