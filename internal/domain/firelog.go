package domain

import (
	"encoding/json"
	"time"
)

// FireLog is an append-only audit record of a single firing attempt.
type FireLog struct {
	ID              int64
	RuleID          int64
	UserID          int64
	TriggerSnapshot json.RawMessage
	ActionTaken     ActionType
	ActionResult    json.RawMessage
	CreatedAt       time.Time
}

// ActionResult is the structured outcome the executor records into a
// FireLog row. Error is set on failure; OrderID is set on a successful
// broker order call, and a cancel_rule fire carries neither.
type ActionResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id,omitempty"`
	Error   string `json:"error,omitempty"`
}
