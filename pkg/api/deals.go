package api

import "time"

// Deal представляет сделку на сервере
type Deal struct {
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Title     string    `json:"title"`
	Stage     string    `json:"stage"`
	Currency  string    `json:"currency,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Amount    int64     `json:"amount"`
	Version   int64     `json:"version"`
}

// CreateDealRequest представляет запрос на создание сделки
type CreateDealRequest struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Stage    string `json:"stage,omitempty"`
	Currency string `json:"currency,omitempty"`
	OwnerID  string `json:"owner_id,omitempty"`
	Amount   int64  `json:"amount"`
}

// UpdateDealRequest представляет частичное изменение сделки
type UpdateDealRequest struct {
	Fields      map[string]any `json:"fields"`
	BaseVersion int64          `json:"base_version"` // версия, от которой клиент делал изменение
}

// MoveStageRequest представляет перевод сделки на другой этап воронки
type MoveStageRequest struct {
	FromStage   string `json:"from_stage,omitempty"`
	ToStage     string `json:"to_stage"`
	BaseVersion int64  `json:"base_version"`
}
