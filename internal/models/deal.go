package models

import (
	"slices"
	"time"
)

// Stage — этап воронки продаж
type Stage string

const (
	StageLead        Stage = "lead"
	StageQualified   Stage = "qualified"
	StageProposal    Stage = "proposal"
	StageNegotiation Stage = "negotiation"
	StageWon         Stage = "won"
	StageLost        Stage = "lost"
)

// Stages lists pipeline stages in funnel order.
var Stages = []Stage{StageLead, StageQualified, StageProposal, StageNegotiation, StageWon, StageLost}

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	return slices.Contains(Stages, s)
}

// Deal представляет сделку в воронке продаж.
// Version выставляется сервером и растет при каждом изменении.
type Deal struct {
	UpdatedAt time.Time `json:"updated_at"` // UpdatedAt время последнего изменения на сервере
	ID        string    `json:"id"`         // ID идентификатор сделки
	TenantID  string    `json:"tenant_id"`  // TenantID организация-владелец
	Title     string    `json:"title"`      // Title название сделки
	Stage     Stage     `json:"stage"`      // Stage текущий этап воронки
	Currency  string    `json:"currency"`   // Currency ISO 4217 код валюты
	OwnerID   string    `json:"owner_id"`   // OwnerID ответственный менеджер
	Amount    int64     `json:"amount"`     // Amount сумма в минимальных единицах валюты
	Version   int64     `json:"version"`    // Version серверная версия записи
}
