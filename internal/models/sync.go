package models

import (
	"encoding/json"
	"time"

	"github.com/iudanet/dealsync/internal/diff"
)

// SyncSnapshot — последнее состояние ресурса, подтвержденное сервером
type SyncSnapshot struct {
	CapturedAt time.Time       `json:"captured_at"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data"`
	Version    int64           `json:"version"`
}

// PayloadType distinguishes full and differential sync payloads.
type PayloadType string

const (
	PayloadFull  PayloadType = "full"
	PayloadPatch PayloadType = "patch"
)

// SyncPayload is what the client sends to synchronize one resource.
// Full payloads carry Data, patch payloads carry Patch and BaseVersion.
type SyncPayload struct {
	Patch       *diff.Patch     `json:"patch,omitempty"`
	Type        PayloadType     `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
	Version     int64           `json:"version"`
	BaseVersion int64           `json:"base_version,omitempty"`
}
