package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/dealsync/pkg/api"
)

// sendJSON отправляет JSON ответ
func sendJSON(logger *slog.Logger, w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// sendError отправляет JSON ответ с ошибкой
func sendError(logger *slog.Logger, w http.ResponseWriter, message, code string, statusCode int) {
	resp := api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	}
	sendJSON(logger, w, resp, statusCode)
}

// sendStale сообщает клиенту текущую версию записи
func sendStale(logger *slog.Logger, w http.ResponseWriter, current int64) {
	resp := api.ErrorResponse{
		Error:         http.StatusText(http.StatusConflict),
		Message:       "base version is older than the stored one",
		Code:          api.CodeStaleVersion,
		ServerVersion: current,
	}
	sendJSON(logger, w, resp, http.StatusConflict)
}

// SendError writes an ErrorResponse. Middleware uses it to answer in the
// same format as handlers.
func SendError(logger *slog.Logger, w http.ResponseWriter, message, code string, statusCode int) {
	sendError(logger, w, message, code, statusCode)
}

// sendDecodeError отвечает на ошибку decodeBody
func sendDecodeError(logger *slog.Logger, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errMalformedBody):
		sendError(logger, w, err.Error(), "", http.StatusBadRequest)
	case errors.Is(err, errInvalidBody):
		sendError(logger, w, err.Error(), api.CodeValidationFailed, http.StatusUnprocessableEntity)
	default:
		logger.Error("failed to decode request", slog.Any("error", err))
		sendError(logger, w, "internal server error", "", http.StatusInternalServerError)
	}
}
