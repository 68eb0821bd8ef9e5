package handlers

import "context"

// contextKey тип для ключей контекста
type contextKey string

const (
	// TenantIDKey ключ для хранения tenant_id в контексте
	TenantIDKey contextKey = "tenant_id"
	// UserIDKey ключ для хранения user_id в контексте
	UserIDKey contextKey = "user_id"
)

// WithIdentity returns ctx carrying the authenticated tenant and user.
func WithIdentity(ctx context.Context, tenantID, userID string) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetTenantID извлекает tenant_id из контекста
func GetTenantID(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(TenantIDKey).(string)
	return tenantID, ok && tenantID != ""
}

// GetUserID извлекает user_id из контекста
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}
