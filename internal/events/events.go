// Package events implements the structured event bus: every module that
// changes durable state emits a typed event through a shared zerolog
// sink instead of logging ad hoc, so an operator can grep one event_type
// field across rule fires, OCO cancellations, and session lifecycle
// changes regardless of which package produced them.
package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType names the kind of state change an Event records.
type EventType string

const (
	RuleFired            EventType = "RULE_FIRED"
	RuleDisabled         EventType = "RULE_DISABLED"
	OCOCancelled         EventType = "OCO_CANCELLED"
	SessionCreated       EventType = "SESSION_CREATED"
	SessionTornDown      EventType = "SESSION_TORN_DOWN"
	MonitoringPaused     EventType = "MONITORING_PAUSED"
	CredentialsRefreshed EventType = "CREDENTIALS_REFRESHED"
	ErrorOccurred        EventType = "ERROR_OCCURRED"
)

// Event is the structured payload logged for every emitted occurrence.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Manager is the process-wide event sink. It has no subscriber model of
// its own — spec components read events back out of the log, the same
// way they read anything else structured, rather than through an
// in-process pub/sub channel, since every occurrence this daemon emits
// is also the kind of thing an operator wants in the log regardless.
type Manager struct {
	log zerolog.Logger
}

// NewManager constructs an event manager bound to log.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("service", "events").Logger()}
}

// Emit records an occurrence. A nil *Manager is valid and emits nothing,
// so callers that construct a Manager only in production wiring don't
// need a nil check at every call site in tests.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	if m == nil {
		return
	}
	event := Event{Type: eventType, Timestamp: time.Now(), Data: data, Module: module}
	eventJSON, _ := json.Marshal(event)
	m.log.Info().Str("event_type", string(eventType)).Str("module", module).RawJSON("event", eventJSON).Msg("event emitted")
}

// EmitError records a failure alongside the module-supplied context that
// led to it.
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	if m == nil {
		return
	}
	data := map[string]interface{}{"error": err.Error(), "context": context}
	m.Emit(ErrorOccurred, module, data)
}
