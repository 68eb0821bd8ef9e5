package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CommandType identifies the kind of queued mutation.
type CommandType string

const (
	CommandCreateDeal    CommandType = "create_deal"
	CommandUpdateDeal    CommandType = "update_deal"
	CommandDeleteDeal    CommandType = "delete_deal"
	CommandMoveDealStage CommandType = "move_deal_stage"
)

// Valid reports whether t is one of the known command types.
func (t CommandType) Valid() bool {
	switch t {
	case CommandCreateDeal, CommandUpdateDeal, CommandDeleteDeal, CommandMoveDealStage:
		return true
	}
	return false
}

// ErrInvalidPayload is wrapped by Command.Validate failures.
var ErrInvalidPayload = errors.New("invalid command payload")

// Command is a state-changing operation on a deal.
// Implemented only by CreateDeal, UpdateDeal, DeleteDeal and MoveDealStage.
type Command interface {
	Type() CommandType
	// ResourceID returns the id of the deal the command touches.
	ResourceID() string
	Validate() error
	sealed()
}

// CreateDeal creates a new deal on the server.
type CreateDeal struct {
	Deal Deal `json:"deal"`
}

// UpdateDeal changes deal fields assuming the server still has BaseVersion.
type UpdateDeal struct {
	Fields      map[string]any `json:"fields"`
	DealID      string         `json:"deal_id"`
	BaseVersion int64          `json:"base_version"`
}

// DeleteDeal removes a deal assuming the server still has BaseVersion.
type DeleteDeal struct {
	DealID      string `json:"deal_id"`
	BaseVersion int64  `json:"base_version"`
}

// MoveDealStage moves a deal between pipeline stages.
type MoveDealStage struct {
	DealID      string `json:"deal_id"`
	FromStage   Stage  `json:"from_stage"`
	ToStage     Stage  `json:"to_stage"`
	BaseVersion int64  `json:"base_version"`
}

func (CreateDeal) Type() CommandType    { return CommandCreateDeal }
func (UpdateDeal) Type() CommandType    { return CommandUpdateDeal }
func (DeleteDeal) Type() CommandType    { return CommandDeleteDeal }
func (MoveDealStage) Type() CommandType { return CommandMoveDealStage }

func (c CreateDeal) ResourceID() string    { return c.Deal.ID }
func (c UpdateDeal) ResourceID() string    { return c.DealID }
func (c DeleteDeal) ResourceID() string    { return c.DealID }
func (c MoveDealStage) ResourceID() string { return c.DealID }

func (CreateDeal) sealed()    {}
func (UpdateDeal) sealed()    {}
func (DeleteDeal) sealed()    {}
func (MoveDealStage) sealed() {}

// Validate checks the deal carried by the command.
func (c CreateDeal) Validate() error {
	if c.Deal.ID == "" {
		return fmt.Errorf("%w: deal id is required", ErrInvalidPayload)
	}
	if c.Deal.Title == "" {
		return fmt.Errorf("%w: deal title is required", ErrInvalidPayload)
	}
	if c.Deal.Stage != "" && !c.Deal.Stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidPayload, c.Deal.Stage)
	}
	if c.Deal.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidPayload)
	}
	return nil
}

// Validate checks that the update names a deal and at least one field.
func (c UpdateDeal) Validate() error {
	if c.DealID == "" {
		return fmt.Errorf("%w: deal id is required", ErrInvalidPayload)
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("%w: no fields to update", ErrInvalidPayload)
	}
	for _, immutable := range []string{"id", "tenant_id", "version"} {
		if _, ok := c.Fields[immutable]; ok {
			return fmt.Errorf("%w: field %q cannot be updated", ErrInvalidPayload, immutable)
		}
	}
	return nil
}

func (c DeleteDeal) Validate() error {
	if c.DealID == "" {
		return fmt.Errorf("%w: deal id is required", ErrInvalidPayload)
	}
	return nil
}

func (c MoveDealStage) Validate() error {
	if c.DealID == "" {
		return fmt.Errorf("%w: deal id is required", ErrInvalidPayload)
	}
	if !c.ToStage.Valid() {
		return fmt.Errorf("%w: unknown target stage %q", ErrInvalidPayload, c.ToStage)
	}
	if c.FromStage != "" && !c.FromStage.Valid() {
		return fmt.Errorf("%w: unknown source stage %q", ErrInvalidPayload, c.FromStage)
	}
	return nil
}

// Rebase returns cmd with its base version moved forward to v. It reports
// false when cmd carries no base version or is already based on v or later.
func Rebase(cmd Command, v int64) (Command, bool) {
	switch c := cmd.(type) {
	case UpdateDeal:
		if c.BaseVersion < v {
			c.BaseVersion = v
			return c, true
		}
	case DeleteDeal:
		if c.BaseVersion < v {
			c.BaseVersion = v
			return c, true
		}
	case MoveDealStage:
		if c.BaseVersion < v {
			c.BaseVersion = v
			return c, true
		}
	}
	return cmd, false
}

// commandEnvelope — формат хранения команды: тип + типизированный payload
type commandEnvelope struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalCommand encodes a command together with its type tag.
func MarshalCommand(c Command) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: command is nil", ErrInvalidPayload)
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", c.Type(), err)
	}
	return json.Marshal(commandEnvelope{Type: c.Type(), Payload: payload})
}

// UnmarshalCommand decodes a tagged command produced by MarshalCommand.
func UnmarshalCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command envelope: %w", err)
	}

	var (
		cmd Command
		err error
	)
	switch env.Type {
	case CommandCreateDeal:
		var c CreateDeal
		err = json.Unmarshal(env.Payload, &c)
		cmd = c
	case CommandUpdateDeal:
		var c UpdateDeal
		err = json.Unmarshal(env.Payload, &c)
		cmd = c
	case CommandDeleteDeal:
		var c DeleteDeal
		err = json.Unmarshal(env.Payload, &c)
		cmd = c
	case CommandMoveDealStage:
		var c MoveDealStage
		err = json.Unmarshal(env.Payload, &c)
		cmd = c
	default:
		return nil, fmt.Errorf("%w: unknown command type %q", ErrInvalidPayload, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Type, err)
	}

	return cmd, nil
}

// CommandStatus — состояние команды в очереди
type CommandStatus string

const (
	StatusPending CommandStatus = "pending"
	StatusSyncing CommandStatus = "syncing"
	StatusSynced  CommandStatus = "synced"
	StatusFailed  CommandStatus = "failed"
)

// QueuedCommand is a mutation waiting in the offline queue.
type QueuedCommand struct {
	CreatedAt     time.Time     `json:"created_at"`
	SyncedAt      *time.Time    `json:"synced_at,omitempty"`
	Command       Command       `json:"-"`
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	Status        CommandStatus `json:"status"`
	LastError     string        `json:"last_error,omitempty"`
	Seq           int64         `json:"seq"`
	Attempts      int           `json:"attempts"`
	MaxAttempts   int           `json:"max_attempts"`
	ServerVersion int64         `json:"server_version,omitempty"`
	Permanent     bool          `json:"permanent,omitempty"`
}

// queuedCommandJSON добавляет к полям команды ее тегированное представление
type queuedCommandJSON struct {
	Command json.RawMessage `json:"command"`
	queuedCommandAlias
}

type queuedCommandAlias QueuedCommand

// MarshalJSON stores the command with its type tag.
func (q QueuedCommand) MarshalJSON() ([]byte, error) {
	cmd, err := MarshalCommand(q.Command)
	if err != nil {
		return nil, err
	}
	return json.Marshal(queuedCommandJSON{Command: cmd, queuedCommandAlias: queuedCommandAlias(q)})
}

// UnmarshalJSON restores the typed command from its tag.
func (q *QueuedCommand) UnmarshalJSON(data []byte) error {
	var raw queuedCommandJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cmd, err := UnmarshalCommand(raw.Command)
	if err != nil {
		return err
	}
	*q = QueuedCommand(raw.queuedCommandAlias)
	q.Command = cmd
	return nil
}

// Type returns the type of the wrapped command.
func (q *QueuedCommand) Type() CommandType {
	if q.Command == nil {
		return ""
	}
	return q.Command.Type()
}

// Before reports whether q precedes other in drain order.
func (q *QueuedCommand) Before(other *QueuedCommand) bool {
	if !q.CreatedAt.Equal(other.CreatedAt) {
		return q.CreatedAt.Before(other.CreatedAt)
	}
	return q.Seq < other.Seq
}

// Drainable reports whether the command should be picked up by the next drain.
func (q *QueuedCommand) Drainable() bool {
	if q.Permanent {
		return false
	}
	return q.Status == StatusPending || q.Status == StatusFailed
}
