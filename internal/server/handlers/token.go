package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/iudanet/dealsync/internal/validation"
	"github.com/iudanet/dealsync/pkg/api"
)

// TokenIssuer signs access tokens. *jwt.Service implements it.
type TokenIssuer interface {
	Issue(tenantID, userID string) (string, int64, error)
}

// TokenHandler выдает токены доступа пользователям организаций
type TokenHandler struct {
	logger *slog.Logger
	issuer TokenIssuer
	secret []byte
}

// NewTokenHandler создает handler выдачи токенов.
// Пустой secret отключает выдачу.
func NewTokenHandler(logger *slog.Logger, issuer TokenIssuer, secret string) *TokenHandler {
	return &TokenHandler{
		logger: logger,
		issuer: issuer,
		secret: []byte(secret),
	}
}

// Issue обрабатывает POST /api/v1/auth/token
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.TokenRequest
	if err := decodeBody(w, r, "token.json", &req); err != nil {
		sendDecodeError(h.logger, w, err)
		return
	}

	if err := validation.ValidateTenantID(req.TenantID); err != nil {
		sendError(h.logger, w, err.Error(), api.CodeValidationFailed, http.StatusUnprocessableEntity)
		return
	}
	if err := validation.ValidateUserID(req.UserID); err != nil {
		sendError(h.logger, w, err.Error(), api.CodeValidationFailed, http.StatusUnprocessableEntity)
		return
	}

	if len(h.secret) == 0 || subtle.ConstantTimeCompare([]byte(req.Secret), h.secret) != 1 {
		h.logger.WarnContext(ctx, "token request rejected",
			slog.String("tenant_id", req.TenantID),
			slog.String("user_id", req.UserID),
		)
		sendError(h.logger, w, "invalid credentials", api.CodeUnauthorized, http.StatusUnauthorized)
		return
	}

	token, expiresIn, err := h.issuer.Issue(req.TenantID, req.UserID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue token", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", "", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "token issued",
		slog.String("tenant_id", req.TenantID),
		slog.String("user_id", req.UserID),
	)

	sendJSON(h.logger, w, api.TokenResponse{AccessToken: token, ExpiresIn: expiresIn}, http.StatusOK)
}
