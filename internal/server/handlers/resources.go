package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/dealsync/internal/diff"
	"github.com/iudanet/dealsync/internal/server/storage"
	"github.com/iudanet/dealsync/internal/validation"
	"github.com/iudanet/dealsync/pkg/api"
)

// ResourceHandler обрабатывает синхронизацию ресурсов воронки
type ResourceHandler struct {
	logger  *slog.Logger
	storage storage.ResourceStorage
}

// NewResourceHandler создает handler ресурсов
func NewResourceHandler(logger *slog.Logger, storage storage.ResourceStorage) *ResourceHandler {
	return &ResourceHandler{
		logger:  logger,
		storage: storage,
	}
}

// Push обрабатывает PUT /api/v1/resources/{key}.
// Полное состояние всегда становится следующей версией; патч принимается
// только от текущей версии.
func (h *ResourceHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	key := r.PathValue("key")
	if err := validation.ValidateResourceKey(key); err != nil {
		sendError(h.logger, w, err.Error(), api.CodeValidationFailed, http.StatusUnprocessableEntity)
		return
	}

	var req api.PushResourceRequest
	if err := decodeBody(w, r, "resource_push.json", &req); err != nil {
		sendDecodeError(h.logger, w, err)
		return
	}

	var fn func(current *storage.Resource) (*storage.ResourceUpdate, error)
	if req.Type == api.PayloadPatch {
		fn = func(current *storage.Resource) (*storage.ResourceUpdate, error) {
			return patchUpdate(current, req)
		}
	} else {
		fn = func(current *storage.Resource) (*storage.ResourceUpdate, error) {
			return fullUpdate(current, req.Data)
		}
	}

	res, err := h.storage.PutResource(ctx, tenantID, key, fn)
	if err != nil {
		h.sendStorageError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "resource stored",
		slog.String("key", key),
		slog.String("type", req.Type),
		slog.Int64("version", res.Version),
	)
	sendJSON(h.logger, w, api.ResourceResponse{
		Key:       res.Key,
		Version:   res.Version,
		UpdatedAt: res.UpdatedAt,
	}, http.StatusOK)
}

// Fetch обрабатывает GET /api/v1/resources/{key}?since=N.
// Если клиент уже на текущей версии, возвращается только версия; если
// история покрывает since, возвращаются патчи; иначе полное состояние.
func (h *ResourceHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			sendError(h.logger, w, "since must be a non-negative integer", api.CodeValidationFailed, http.StatusBadRequest)
			return
		}
		since = n
	}

	key := r.PathValue("key")
	res, err := h.storage.GetResource(ctx, tenantID, key)
	if err != nil {
		h.sendStorageError(w, r, err)
		return
	}

	resp := api.ResourceResponse{
		Key:       res.Key,
		Version:   res.Version,
		UpdatedAt: res.UpdatedAt,
	}

	switch {
	case since > 0 && since == res.Version:
	case since > 0 && since < res.Version:
		patches, ok, err := h.storage.PatchesSince(ctx, tenantID, key, since)
		if err != nil {
			h.sendStorageError(w, r, err)
			return
		}
		if ok && patches[len(patches)-1].Version == res.Version {
			for _, p := range patches {
				resp.Patches = append(resp.Patches, api.ResourcePatch{
					Patch:       p.Patch,
					BaseVersion: p.BaseVersion,
					Version:     p.Version,
				})
			}
			break
		}
		resp.Data = res.Data
	default:
		resp.Data = res.Data
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

func (h *ResourceHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, ok := GetTenantID(r.Context())
	if !ok {
		h.logger.WarnContext(r.Context(), "tenant_id not found in context")
		sendError(h.logger, w, "unauthorized", api.CodeUnauthorized, http.StatusUnauthorized)
	}
	return tenantID, ok
}

func (h *ResourceHandler) sendStorageError(w http.ResponseWriter, r *http.Request, err error) {
	var stale *storage.StaleVersionError
	switch {
	case errors.As(err, &stale):
		sendStale(h.logger, w, stale.Current)
	case errors.Is(err, storage.ErrResourceNotFound):
		sendError(h.logger, w, "resource not found", api.CodeNotFound, http.StatusNotFound)
	case errors.Is(err, diff.ErrShapeMismatch), errors.Is(err, errFieldRejected):
		sendError(h.logger, w, err.Error(), api.CodeValidationFailed, http.StatusUnprocessableEntity)
	default:
		h.logger.ErrorContext(r.Context(), "resource storage failed", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", "", http.StatusInternalServerError)
	}
}

// fullUpdate сохраняет состояние целиком, сохраняя историю через вычисленный патч.
// Совпадающее состояние не создает новую версию.
func fullUpdate(current *storage.Resource, data json.RawMessage) (*storage.ResourceUpdate, error) {
	if current == nil {
		return &storage.ResourceUpdate{Data: data}, nil
	}

	patch, err := diff.Calculate(current.Data, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFieldRejected, err)
	}
	if patch.IsEmpty() {
		return nil, nil
	}

	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch: %w", err)
	}
	return &storage.ResourceUpdate{Data: data, Patch: raw}, nil
}

// patchUpdate применяет патч клиента к текущему состоянию
func patchUpdate(current *storage.Resource, req api.PushResourceRequest) (*storage.ResourceUpdate, error) {
	if current == nil {
		return nil, &storage.StaleVersionError{Current: 0}
	}
	if req.BaseVersion != current.Version {
		return nil, &storage.StaleVersionError{Current: current.Version}
	}

	var patch diff.Patch
	if err := json.Unmarshal(req.Patch, &patch); err != nil {
		return nil, fmt.Errorf("%w: %w", errFieldRejected, err)
	}

	updated, err := diff.Apply(current.Data, &patch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply patch: %w", err)
	}

	data, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}

	raw, err := json.Marshal(&patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch: %w", err)
	}

	return &storage.ResourceUpdate{Data: data, Patch: raw}, nil
}
