package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/dealsync/internal/models"
	"github.com/iudanet/dealsync/internal/server/storage"
	"github.com/iudanet/dealsync/internal/validation"
	"github.com/iudanet/dealsync/pkg/api"
)

// errFieldRejected is a field value that is valid JSON but not a valid deal value.
var errFieldRejected = errors.New("field rejected")

// DealHandler обрабатывает запросы к сделкам организации
type DealHandler struct {
	logger  *slog.Logger
	storage storage.DealStorage
}

// NewDealHandler создает handler сделок
func NewDealHandler(logger *slog.Logger, storage storage.DealStorage) *DealHandler {
	return &DealHandler{
		logger:  logger,
		storage: storage,
	}
}

// Create обрабатывает POST /api/v1/deals.
// Повторная отправка сделки с тем же id возвращает сохраненную сделку.
func (h *DealHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req api.CreateDealRequest
	if err := decodeBody(w, r, "deal_create.json", &req); err != nil {
		sendDecodeError(h.logger, w, err)
		return
	}
	if err := validation.ValidateDealID(req.ID); err != nil {
		sendError(h.logger, w, err.Error(), api.CodeValidationFailed, http.StatusUnprocessableEntity)
		return
	}

	deal := &models.Deal{
		ID:       req.ID,
		TenantID: tenantID,
		Title:    req.Title,
		Stage:    models.Stage(req.Stage),
		Currency: req.Currency,
		OwnerID:  req.OwnerID,
		Amount:   req.Amount,
	}
	if deal.Stage == "" {
		deal.Stage = models.StageLead
	}

	err := h.storage.CreateDeal(ctx, deal)
	if errors.Is(err, storage.ErrDealExists) {
		// Клиент повторил запрос после обрыва связи
		existing, err := h.storage.GetDeal(ctx, tenantID, req.ID)
		if err != nil {
			h.sendStorageError(w, r, err)
			return
		}
		h.logger.InfoContext(ctx, "deal already exists, returning stored copy",
			slog.String("deal_id", req.ID),
			slog.Int64("version", existing.Version),
		)
		sendJSON(h.logger, w, toAPIDeal(existing), http.StatusOK)
		return
	}
	if err != nil {
		h.sendStorageError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "deal created", slog.String("tenant_id", tenantID), slog.String("deal_id", deal.ID))
	sendJSON(h.logger, w, toAPIDeal(deal), http.StatusCreated)
}

// Get обрабатывает GET /api/v1/deals/{id}
func (h *DealHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	deal, err := h.storage.GetDeal(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		h.sendStorageError(w, r, err)
		return
	}

	sendJSON(h.logger, w, toAPIDeal(deal), http.StatusOK)
}

// Update обрабатывает PUT /api/v1/deals/{id}
func (h *DealHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req api.UpdateDealRequest
	if err := decodeBody(w, r, "deal_update.json", &req); err != nil {
		sendDecodeError(h.logger, w, err)
		return
	}

	deal, err := h.storage.UpdateDeal(r.Context(), tenantID, r.PathValue("id"), req.BaseVersion, func(d *models.Deal) error {
		return applyFields(d, req.Fields)
	})
	if err != nil {
		h.sendStorageError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "deal updated",
		slog.String("deal_id", deal.ID),
		slog.Int64("version", deal.Version),
	)
	sendJSON(h.logger, w, toAPIDeal(deal), http.StatusOK)
}

// MoveStage обрабатывает POST /api/v1/deals/{id}/stage
func (h *DealHandler) MoveStage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req api.MoveStageRequest
	if err := decodeBody(w, r, "deal_stage.json", &req); err != nil {
		sendDecodeError(h.logger, w, err)
		return
	}

	deal, err := h.storage.UpdateDeal(r.Context(), tenantID, r.PathValue("id"), req.BaseVersion, func(d *models.Deal) error {
		if req.FromStage != "" && models.Stage(req.FromStage) != d.Stage {
			return fmt.Errorf("%w: deal is in stage %s, not %s", errFieldRejected, d.Stage, req.FromStage)
		}
		d.Stage = models.Stage(req.ToStage)
		return nil
	})
	if err != nil {
		h.sendStorageError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "deal moved",
		slog.String("deal_id", deal.ID),
		slog.String("stage", string(deal.Stage)),
		slog.Int64("version", deal.Version),
	)
	sendJSON(h.logger, w, toAPIDeal(deal), http.StatusOK)
}

// Delete обрабатывает DELETE /api/v1/deals/{id}?base_version=N
func (h *DealHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	baseVersion, err := strconv.ParseInt(r.URL.Query().Get("base_version"), 10, 64)
	if err != nil || baseVersion < 1 {
		sendError(h.logger, w, "base_version query parameter must be a positive integer", api.CodeValidationFailed, http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	if err := h.storage.DeleteDeal(r.Context(), tenantID, id, baseVersion); err != nil {
		h.sendStorageError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "deal deleted", slog.String("deal_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// tenant достает организацию из контекста или отвечает 401
func (h *DealHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		h.logger.WarnContext(r.Context(), "tenant_id not found in context")
		sendError(h.logger, w, "unauthorized", api.CodeUnauthorized, http.StatusUnauthorized)
	}
	return tenantID, ok
}

func (h *DealHandler) sendStorageError(w http.ResponseWriter, r *http.Request, err error) {
	var stale *storage.StaleVersionError
	switch {
	case errors.As(err, &stale):
		sendStale(h.logger, w, stale.Current)
	case errors.Is(err, storage.ErrDealNotFound):
		sendError(h.logger, w, "deal not found", api.CodeNotFound, http.StatusNotFound)
	case errors.Is(err, errFieldRejected):
		sendError(h.logger, w, err.Error(), api.CodeValidationFailed, http.StatusUnprocessableEntity)
	default:
		h.logger.ErrorContext(r.Context(), "deal storage failed", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", "", http.StatusInternalServerError)
	}
}

// applyFields переносит разрешенные поля частичного изменения в сделку.
// Типы полей уже проверены схемой.
func applyFields(d *models.Deal, fields map[string]any) error {
	for name, value := range fields {
		switch name {
		case "title":
			d.Title, _ = value.(string)
		case "stage":
			s, _ := value.(string)
			d.Stage = models.Stage(s)
		case "currency":
			d.Currency, _ = value.(string)
		case "owner_id":
			d.OwnerID, _ = value.(string)
		case "amount":
			n, ok := value.(float64)
			if !ok || n != float64(int64(n)) {
				return fmt.Errorf("%w: amount must be an integer", errFieldRejected)
			}
			d.Amount = int64(n)
		default:
			return fmt.Errorf("%w: unknown field %q", errFieldRejected, name)
		}
	}
	return nil
}

func toAPIDeal(d *models.Deal) api.Deal {
	return api.Deal{
		ID:        d.ID,
		TenantID:  d.TenantID,
		Title:     d.Title,
		Stage:     string(d.Stage),
		Currency:  d.Currency,
		OwnerID:   d.OwnerID,
		Amount:    d.Amount,
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt,
	}
}
