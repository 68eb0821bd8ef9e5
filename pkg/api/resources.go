package api

import (
	"encoding/json"
	"time"
)

// Типы payload синхронизации ресурса
const (
	PayloadFull  = "full"
	PayloadPatch = "patch"
)

// PushResourceRequest представляет отправку полного состояния или патча ресурса
type PushResourceRequest struct {
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`  // при type=full
	Patch       json.RawMessage `json:"patch,omitempty"` // при type=patch
	Version     int64           `json:"version"`
	BaseVersion int64           `json:"base_version,omitempty"`
}

// ResourcePatch представляет один шаг истории изменений ресурса
type ResourcePatch struct {
	Patch       json.RawMessage `json:"patch"`
	BaseVersion int64           `json:"base_version"`
	Version     int64           `json:"version"`
}

// ResourceResponse представляет состояние ресурса на сервере.
// Если клиент передал since и история доступна, вместо Data возвращаются Patches.
type ResourceResponse struct {
	UpdatedAt time.Time       `json:"updated_at"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data,omitempty"`
	Patches   []ResourcePatch `json:"patches,omitempty"`
	Version   int64           `json:"version"`
}
