package api

// TokenRequest представляет запрос на выдачу токена доступа для пользователя организации
type TokenRequest struct {
	TenantID string `json:"tenant_id"` // идентификатор организации
	UserID   string `json:"user_id"`   // идентификатор пользователя
	Secret   string `json:"secret"`    // общий ключ выдачи токенов
}

// TokenResponse представляет ответ с токеном доступа
type TokenResponse struct {
	AccessToken string `json:"access_token"` // JWT access token
	ExpiresIn   int64  `json:"expires_in"`   // время жизни access token в секундах
}

// Коды ошибок, которые клиент обрабатывает отдельно
const (
	CodeStaleVersion     = "stale_version"
	CodeValidationFailed = "validation_failed"
	CodeNotFound         = "not_found"
	CodeUnauthorized     = "unauthorized"
)

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error         string `json:"error"`                    // описание ошибки
	Message       string `json:"message,omitempty"`        // дополнительное сообщение
	Code          string `json:"code,omitempty"`           // машиночитаемый код
	ServerVersion int64  `json:"server_version,omitempty"` // текущая версия записи при stale_version
}
